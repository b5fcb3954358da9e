// Package store provides the durable per-store key-value persistence layer.
package store

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/jjperez22/the-ERP-sub000/internal/models"
)

// MemoryBackend is the reduced-durability fallback used when the
// persistent backend fails. Contents do not survive a restart.
type MemoryBackend struct {
	mu     sync.RWMutex
	stores map[string]map[models.UUID]*models.Record
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		stores: make(map[string]map[models.UUID]*models.Record),
	}
}

func (b *MemoryBackend) table(storeName string) map[models.UUID]*models.Record {
	t, ok := b.stores[storeName]
	if !ok {
		t = make(map[models.UUID]*models.Record)
		b.stores[storeName] = t
	}
	return t
}

// Put upserts a record.
func (b *MemoryBackend) Put(rec *models.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.table(rec.StoreName)[rec.ID] = copyRecord(rec)
	return nil
}

// Get retrieves a record, returning (nil, nil) when absent.
func (b *MemoryBackend) Get(storeName string, id models.UUID) (*models.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.stores[storeName][id]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

// GetAll returns a snapshot of every record in the store.
func (b *MemoryBackend) GetAll(storeName string) ([]*models.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	records := make([]*models.Record, 0, len(b.stores[storeName]))
	for _, rec := range b.stores[storeName] {
		records = append(records, copyRecord(rec))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].LastModifiedAt < records[j].LastModifiedAt
	})
	return records, nil
}

// Delete removes a record.
func (b *MemoryBackend) Delete(storeName string, id models.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.stores[storeName], id)
	return nil
}

// Search matches records whose payload field matches the LIKE pattern.
func (b *MemoryBackend) Search(storeName, field, likePattern string) ([]*models.Record, error) {
	re, err := likeToRegexp(likePattern)
	if err != nil {
		return nil, err
	}

	all, err := b.GetAll(storeName)
	if err != nil {
		return nil, err
	}

	var matched []*models.Record
	for _, rec := range all {
		var fields map[string]interface{}
		if err := json.Unmarshal(rec.Payload, &fields); err != nil {
			continue
		}
		if s, ok := fields[field].(string); ok && re.MatchString(s) {
			matched = append(matched, rec)
		}
	}
	return matched, nil
}

// DirtyCount returns the number of dirty records in the store.
func (b *MemoryBackend) DirtyCount(storeName string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := 0
	for _, rec := range b.stores[storeName] {
		if rec.Dirty {
			count++
		}
	}
	return count, nil
}

// MarkClean clears the dirty flag.
func (b *MemoryBackend) MarkClean(storeName string, id models.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.stores[storeName][id]; ok {
		rec.Dirty = false
	}
	return nil
}

func copyRecord(rec *models.Record) *models.Record {
	cp := *rec
	cp.Payload = append(json.RawMessage(nil), rec.Payload...)
	return &cp
}
