package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	OpGet    = "get"
	OpSet    = "set"
	OpDelete = "delete"
	OpList   = "list"
)

// FaultFunc lets tests fail a single operation; returning nil lets it through.
type FaultFunc func(op, path string) error

// MemoryStore keeps documents in a map. Batches are applied under one lock, all or nothing.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[string][]byte
	maxOps  int
	commits int
	fault   FaultFunc
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string][]byte),
		maxOps: DefaultMaxBatchOps,
	}
}

// WithMaxBatchOps overrides the per-commit ceiling.
func (m *MemoryStore) WithMaxBatchOps(n int) *MemoryStore {
	m.maxOps = n
	return m
}

// SetFault installs or clears (nil) a fault hook.
func (m *MemoryStore) SetFault(f FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

func (m *MemoryStore) check(op, path string) error {
	if m.fault == nil {
		return nil
	}
	return m.fault(op, path)
}

func (m *MemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(OpGet, path); err != nil {
		return nil, err
	}
	doc, ok := m.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, path string, value interface{}, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(value)
	if err != nil {
		return err
	}
	return m.apply([]operation{{path: path, data: data, merge: merge}})
}

func (m *MemoryStore) List(ctx context.Context, collection string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(OpList, collection); err != nil {
		return nil, err
	}
	prefix := collection + "/"
	ids := make([]string, 0)
	for path := range m.docs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := path[len(prefix):]
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		ids = append(ids, rest)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Batch() Batch {
	return &memoryBatch{store: m}
}

func (m *MemoryStore) MaxBatchOps() int {
	return m.maxOps
}

func (m *MemoryStore) Close() error {
	return nil
}

// Len returns the number of stored documents.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Paths returns every stored path with the given prefix, sorted.
func (m *MemoryStore) Paths(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0)
	for p := range m.docs {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Commits returns how many batches were committed.
func (m *MemoryStore) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

func (m *MemoryStore) apply(ops []operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := make(map[string][]byte, len(ops))
	deleted := make(map[string]bool)
	current := func(path string) []byte {
		if deleted[path] {
			return nil
		}
		if d, ok := staged[path]; ok {
			return d
		}
		return m.docs[path]
	}

	for _, op := range ops {
		if !validPath(op.path) {
			return fmt.Errorf("invalid document path %q", op.path)
		}
		if op.delete {
			if err := m.check(OpDelete, op.path); err != nil {
				return err
			}
			delete(staged, op.path)
			deleted[op.path] = true
			continue
		}
		if err := m.check(OpSet, op.path); err != nil {
			return err
		}
		data := op.data
		if op.merge {
			merged, err := mergeDocuments(current(op.path), op.data)
			if err != nil {
				return err
			}
			data = merged
		}
		stored := make([]byte, len(data))
		copy(stored, data)
		staged[op.path] = stored
		delete(deleted, op.path)
	}

	for path := range deleted {
		delete(m.docs, path)
	}
	for path, data := range staged {
		m.docs[path] = data
	}
	m.commits++
	return nil
}

type memoryBatch struct {
	store *MemoryStore
	ops   []operation
}

func (b *memoryBatch) Set(path string, value interface{}, merge bool) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	b.ops = append(b.ops, operation{path: path, data: data, merge: merge})
	return nil
}

func (b *memoryBatch) Delete(path string) {
	b.ops = append(b.ops, operation{path: path, delete: true})
}

func (b *memoryBatch) Len() int {
	return len(b.ops)
}

func (b *memoryBatch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(b.ops) > b.store.maxOps {
		return ErrBatchTooLarge
	}
	if len(b.ops) == 0 {
		return nil
	}
	return b.store.apply(b.ops)
}
