// Package store provides the key-value store abstraction and the optimistic
// record layer on top of it. Components depend on the Store interface only;
// the DynamoDB implementation is wired in at construction.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrVersionMismatch is returned by ConditionalUpdate when the stored
// version no longer equals the expected version. The record layer converts
// it into a structured ConcurrentModification error.
var ErrVersionMismatch = errors.New("stored version does not match expected version")

// ErrItemNotFound is returned when the addressed item does not exist.
// Distinct from ErrVersionMismatch so callers can tell a lost race from a
// deleted record.
var ErrItemNotFound = errors.New("item not found")

// Page carries pagination state for Query. An empty Token starts from the
// beginning; Limit 0 means no page bound.
type Page struct {
	Token string
	Limit int
}

// Store is the key-value document store every component persists through.
// Documents are flat JSON-shaped maps carrying a numeric "version" field
// when they participate in optimistic updates.
type Store interface {
	// Get returns the document at (pk, sk) or ErrItemNotFound.
	Get(ctx context.Context, pk, sk string) (map[string]any, error)

	// Put writes the document unconditionally.
	Put(ctx context.Context, pk, sk string, doc map[string]any) error

	// ConditionalUpdate writes doc only if the stored document exists and its
	// "version" equals expectedVersion. Fails with ErrVersionMismatch or
	// ErrItemNotFound, distinctly.
	ConditionalUpdate(ctx context.Context, pk, sk string, expectedVersion int64, doc map[string]any) error

	// Query returns all documents whose partition key starts with pkPrefix,
	// one page at a time.
	Query(ctx context.Context, pkPrefix string, page Page) ([]map[string]any, string, error)

	// Delete removes the item if present.
	Delete(ctx context.Context, pk, sk string) error
}

// Partition key prefixes, one per record kind.
const (
	PrefixGroup   = "GROUP#"
	PrefixPlan    = "PLAN#"
	PrefixExec    = "EXEC#"
	PrefixAccount = "ACCOUNT#"
	PrefixSync    = "SYNC#"
)

// EncodeDoc converts a typed record to its document form via JSON.
func EncodeDoc(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return doc, nil
}

// DecodeDoc converts a document back into a typed record.
func DecodeDoc(doc map[string]any, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}

// docVersion extracts the numeric version field from a document.
func docVersion(doc map[string]any) int64 {
	switch v := doc["version"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
