package store

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Memory is an in-process Store used by tests and local dry runs.
type Memory struct {
	mu    sync.RWMutex
	items map[string]map[string]any
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]map[string]any)}
}

func memKey(pk, sk string) string { return pk + "\x00" + sk }

func (m *Memory) Get(ctx context.Context, pk, sk string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.items[memKey(pk, sk)]
	if !ok {
		return nil, ErrItemNotFound
	}
	return cloneDoc(doc), nil
}

func (m *Memory) Put(ctx context.Context, pk, sk string, doc map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[memKey(pk, sk)] = cloneDoc(doc)
	return nil
}

func (m *Memory) ConditionalUpdate(ctx context.Context, pk, sk string, expectedVersion int64, doc map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[memKey(pk, sk)]
	if !ok {
		return ErrItemNotFound
	}
	if docVersion(stored) != expectedVersion {
		return ErrVersionMismatch
	}
	m.items[memKey(pk, sk)] = cloneDoc(doc)
	return nil
}

func (m *Memory) Query(ctx context.Context, pkPrefix string, page Page) ([]map[string]any, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0)
	for k := range m.items {
		if strings.HasPrefix(k, pkPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if page.Token != "" {
		if n, err := strconv.Atoi(page.Token); err == nil {
			start = n
		}
	}
	if start > len(keys) {
		start = len(keys)
	}

	end := len(keys)
	next := ""
	if page.Limit > 0 && start+page.Limit < len(keys) {
		end = start + page.Limit
		next = strconv.Itoa(end)
	}

	docs := make([]map[string]any, 0, end-start)
	for _, k := range keys[start:end] {
		docs = append(docs, cloneDoc(m.items[k]))
	}
	return docs, next, nil
}

func (m *Memory) Delete(ctx context.Context, pk, sk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, memKey(pk, sk))
	return nil
}

// cloneDoc deep-copies a document so callers never alias stored state.
func cloneDoc(doc map[string]any) map[string]any {
	raw, _ := json.Marshal(doc)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}
