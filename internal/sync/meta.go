package sync

import (
	"database/sql"
	"fmt"
	"strconv"
	stdsync "sync"
	"time"
)

const metaKeyLastSync = "last_sync"

// Meta persists sync bookkeeping (currently the last successful
// reconciliation timestamp) in the sync_meta table so it survives
// restarts.
type Meta struct {
	mu    stdsync.Mutex
	db    *sql.DB // nil keeps values in memory only (tests)
	cache map[string]string
}

// NewMeta creates a Meta store over the given database.
func NewMeta(db *sql.DB) *Meta {
	return &Meta{db: db, cache: make(map[string]string)}
}

// LastSync returns the persisted last-sync timestamp, or the zero time.
func (m *Meta) LastSync() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.cache[metaKeyLastSync]
	if !ok && m.db != nil {
		if err := m.db.QueryRow("SELECT value FROM sync_meta WHERE key = ?", metaKeyLastSync).Scan(&v); err != nil {
			return time.Time{}
		}
		m.cache[metaKeyLastSync] = v
	}
	millis, err := strconv.ParseInt(v, 10, 64)
	if err != nil || millis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis)
}

// SetLastSync persists the last-sync timestamp.
func (m *Meta) SetLastSync(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := strconv.FormatInt(t.UnixMilli(), 10)
	m.cache[metaKeyLastSync] = v
	if m.db == nil {
		return nil
	}
	_, err := m.db.Exec(`
	INSERT INTO sync_meta (key, value) VALUES (?, ?)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value`, metaKeyLastSync, v)
	if err != nil {
		return fmt.Errorf("failed to persist last sync time: %w", err)
	}
	return nil
}
