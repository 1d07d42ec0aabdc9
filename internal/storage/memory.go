package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

type memDoc struct {
	fields  models.Fields
	version int64
}

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]*memDoc
	seq  int64

	// FailWrite, when set, is consulted before each mutation; a non-nil
	// return aborts that write.
	FailWrite func(w Write) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]*memDoc)}
}

func (m *MemoryStore) List(ctx context.Context, collection string) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col := m.docs[collection]
	out := make([]models.Document, 0, len(col))
	for id, d := range col {
		out = append(out, models.Document{ID: id, Fields: d.fields.Clone(), Version: d.version})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[collection][id]
	if !ok {
		return models.Document{}, ErrNotFound
	}
	return models.Document{ID: id, Fields: d.fields.Clone(), Version: d.version}, nil
}

func (m *MemoryStore) Create(ctx context.Context, collection, id string, fields models.Fields) error {
	return m.apply(Write{Op: OpCreate, Collection: collection, ID: id, Fields: fields})
}

func (m *MemoryStore) Set(ctx context.Context, collection, id string, fields models.Fields) error {
	return m.apply(Write{Op: OpSet, Collection: collection, ID: id, Fields: fields})
}

func (m *MemoryStore) SetMerge(ctx context.Context, collection, id string, fields models.Fields) error {
	return m.apply(Write{Op: OpSetMerge, Collection: collection, ID: id, Fields: fields})
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	return m.apply(Write{Op: OpDelete, Collection: collection, ID: id})
}

func (m *MemoryStore) Batch(ctx context.Context, writes []Write) []error {
	return applySequential(ctx, writes, func(_ context.Context, w Write) error { return m.apply(w) })
}

// Len returns the number of documents in collection.
func (m *MemoryStore) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[collection])
}

func (m *MemoryStore) apply(w Write) error {
	if w.ID == "" {
		return fmt.Errorf("%s %s: empty document id", w.Op, w.Collection)
	}
	if m.FailWrite != nil {
		if err := m.FailWrite(w); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.docs[w.Collection]
	if !ok {
		col = make(map[string]*memDoc)
		m.docs[w.Collection] = col
	}
	cur, exists := col[w.ID]
	if w.IfVersion != 0 && (!exists || cur.version != w.IfVersion) {
		return ErrPreconditionFailed
	}
	switch w.Op {
	case OpCreate:
		if exists {
			return ErrAlreadyExists
		}
		col[w.ID] = &memDoc{fields: w.Fields.Clone(), version: m.next()}
	case OpSet:
		col[w.ID] = &memDoc{fields: w.Fields.Clone(), version: m.next()}
	case OpSetMerge:
		merged := models.Fields{}
		if exists {
			merged = cur.fields.Clone()
		}
		for k, v := range w.Fields {
			merged[k] = v
		}
		col[w.ID] = &memDoc{fields: merged, version: m.next()}
	case OpDelete:
		delete(col, w.ID)
	default:
		return fmt.Errorf("unsupported op %d", w.Op)
	}
	return nil
}

func (m *MemoryStore) next() int64 {
	m.seq++
	return m.seq
}
