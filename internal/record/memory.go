package record

import (
	"context"
	"sort"
	"sync"

	"github.com/timkendrick/shunt/pkg/models"
)

// Memory keeps records in process memory. Records are copied on the way in
// and out, so callers never share trees with the store.
type Memory struct {
	mu      sync.RWMutex
	records map[models.AppKey]*models.SyncRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[models.AppKey]*models.SyncRecord)}
}

func (m *Memory) Get(ctx context.Context, key models.AppKey) (*models.SyncRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[key].Clone(), nil
}

func (m *Memory) Put(ctx context.Context, key models.AppKey, rec *models.SyncRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = rec.Clone()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key models.AppKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *Memory) List(ctx context.Context) ([]models.AppKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]models.AppKey, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys, nil
}

func (m *Memory) Close() error { return nil }

func sortKeys(keys []models.AppKey) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}
