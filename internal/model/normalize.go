package model

// Historical records carry a few legacy field spellings written by earlier
// revisions of the control plane. They are rewritten to the canonical names
// here, at the storage-read edge, and nowhere else.

var groupAliases = map[string]string{
	"pgId":                "groupId",
	"serverIds":           "sourceServerIds",
	"tags":                "selectionTags",
	"launchConfiguration": "launchConfig",
	"lockVersion":         "version",
}

var planAliases = map[string]string{
	"rpId":        "planId",
	"lockVersion": "version",
	"waveList":    "waves",
}

var waveAliases = map[string]string{
	"waveNum":   "waveNumber",
	"pgId":      "protectionGroupId",
	"serverIds": "sourceServerIds",
}

// NormalizeGroupDoc rewrites legacy protection-group field names in place
// and returns the document.
func NormalizeGroupDoc(doc map[string]any) map[string]any {
	return applyAliases(doc, groupAliases)
}

// NormalizePlanDoc rewrites legacy recovery-plan field names, including the
// per-wave aliases, in place and returns the document.
func NormalizePlanDoc(doc map[string]any) map[string]any {
	doc = applyAliases(doc, planAliases)
	if waves, ok := doc["waves"].([]any); ok {
		for i, w := range waves {
			if wdoc, ok := w.(map[string]any); ok {
				waves[i] = applyAliases(wdoc, waveAliases)
			}
		}
	}
	return doc
}

func applyAliases(doc map[string]any, aliases map[string]string) map[string]any {
	if doc == nil {
		return doc
	}
	for old, canonical := range aliases {
		v, ok := doc[old]
		if !ok {
			continue
		}
		// A canonical value already present wins over the legacy spelling.
		if _, exists := doc[canonical]; !exists {
			doc[canonical] = v
		}
		delete(doc, old)
	}
	return doc
}
