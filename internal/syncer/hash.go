package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/recoverly-io/recoverly/internal/model"
)

// CalculateConfigHash returns the canonical hash of a launch configuration.
// The serialization is deterministic: struct field order is fixed and the
// security group list is sorted, so the same configuration always produces
// the same hash regardless of how the caller ordered its fields.
func CalculateConfigHash(cfg model.LaunchConfig) string {
	canonical := cfg
	if len(cfg.SecurityGroupIDs) > 0 {
		groups := make([]string, len(cfg.SecurityGroupIDs))
		copy(groups, cfg.SecurityGroupIDs)
		sort.Strings(groups)
		canonical.SecurityGroupIDs = groups
	}
	raw, _ := json.Marshal(canonical)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
