// Package store provides the durable per-store key-value persistence
// of entity records, with a degraded in-memory fallback when the
// persistence layer fails.
package store

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jjperez22/the-ERP-sub000/internal/errors"
	"github.com/jjperez22/the-ERP-sub000/internal/logging"
	"github.com/jjperez22/the-ERP-sub000/internal/models"
)

// Backend is a persistent keyed record store. Implementations must be
// safe for concurrent use.
type Backend interface {
	Put(rec *models.Record) error
	Get(storeName string, id models.UUID) (*models.Record, error)
	GetAll(storeName string) ([]*models.Record, error)
	Delete(storeName string, id models.UUID) error
	Search(storeName, field, likePattern string) ([]*models.Record, error)
	DirtyCount(storeName string) (int, error)
	MarkClean(storeName string, id models.UUID) error
}

// DegradeFunc is invoked once when the store falls back to in-memory
// operation, so the condition can be surfaced upward.
type DegradeFunc func(reason string)

// LocalStore owns the Record lifecycle. Writes go to the primary
// backend; if the primary fails the store degrades to an in-memory
// backend and keeps operating with reduced durability.
type LocalStore struct {
	mu        sync.RWMutex
	primary   Backend
	fallback  Backend
	degraded  bool
	onDegrade DegradeFunc

	// writeMu serializes Put: the version increment spans a read and a
	// write, and concurrent writers must not observe the same version.
	writeMu sync.Mutex

	indexFields map[string][]string
}

// New creates a LocalStore over the given primary backend.
func New(primary Backend, onDegrade DegradeFunc) *LocalStore {
	s := &LocalStore{
		primary:   primary,
		fallback:  NewMemoryBackend(),
		onDegrade: onDegrade,
		indexFields: map[string][]string{
			models.StoreProducts:  models.ProductIndexFields,
			models.StoreCustomers: models.CustomerIndexFields,
			models.StoreOrders:    models.OrderIndexFields,
		},
	}
	return s
}

// backend returns the active backend.
func (s *LocalStore) backend() Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.degraded {
		return s.fallback
	}
	return s.primary
}

// Degraded reports whether the store is running on the in-memory fallback.
func (s *LocalStore) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// degrade flips the store to the fallback backend. Called at most once.
func (s *LocalStore) degrade(cause error) {
	s.mu.Lock()
	if s.degraded {
		s.mu.Unlock()
		return
	}
	s.degraded = true
	s.mu.Unlock()

	logging.ErrorWithCode("local store degraded to in-memory fallback",
		string(errors.ErrStorageDegraded), cause)
	if s.onDegrade != nil {
		s.onDegrade(cause.Error())
	}
}

// Put upserts a record. The version is incremented on every write and
// LastModifiedAt is set to now; dirty follows the caller's intent.
// On persistence failure the write lands in the fallback backend and
// a degradation warning is raised instead of failing silently.
func (s *LocalStore) Put(storeName string, id models.UUID, payload json.RawMessage, dirty bool) (*models.Record, error) {
	if storeName == "" || id == "" {
		return nil, errors.New(errors.ErrInvalid, "store name and record id are required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec := &models.Record{
		StoreName:      storeName,
		ID:             id,
		Payload:        payload,
		Version:        1,
		LastModifiedAt: time.Now().UnixMilli(),
		Dirty:          dirty,
	}

	b := s.backend()
	if existing, err := b.Get(storeName, id); err == nil && existing != nil {
		rec.Version = existing.Version + 1
	}

	if err := b.Put(rec); err != nil {
		s.degrade(err)
		if ferr := s.fallback.Put(rec); ferr != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "fallback write failed", ferr)
		}
	}
	return rec, nil
}

// Apply stores a record verbatim, preserving its version, timestamp
// and dirty flag. Used when merging remote state during reconciliation.
func (s *LocalStore) Apply(rec *models.Record) error {
	if err := s.backend().Put(rec); err != nil {
		s.degrade(err)
		return s.fallback.Put(rec)
	}
	return nil
}

// Get returns the record with the given id, or ErrNotFound.
func (s *LocalStore) Get(storeName string, id models.UUID) (*models.Record, error) {
	rec, err := s.backend().Get(storeName, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.New(errors.ErrNotFound, fmt.Sprintf("record %s/%s not found", storeName, id))
	}
	return rec, nil
}

// GetAll returns a materialized snapshot of the store; mutating the
// result does not affect stored state.
func (s *LocalStore) GetAll(storeName string) ([]*models.Record, error) {
	return s.backend().GetAll(storeName)
}

// Delete removes the record locally. Propagating the deletion remotely
// is the caller's responsibility (enqueue a delete action).
func (s *LocalStore) Delete(storeName string, id models.UUID) error {
	if err := s.backend().Delete(storeName, id); err != nil {
		s.degrade(err)
		return s.fallback.Delete(storeName, id)
	}
	return nil
}

// MarkClean clears the dirty flag after a confirmed remote write.
func (s *LocalStore) MarkClean(storeName string, id models.UUID) error {
	if err := s.backend().MarkClean(storeName, id); err != nil {
		s.degrade(err)
		return s.fallback.MarkClean(storeName, id)
	}
	return nil
}

// DirtyCount returns the number of records with unsynced local changes.
func (s *LocalStore) DirtyCount(storeName string) (int, error) {
	return s.backend().DirtyCount(storeName)
}

// Search matches records whose indexed payload field matches the
// wildcard pattern (* matches any run, ? a single character).
func (s *LocalStore) Search(storeName, field, pattern string) ([]*models.Record, error) {
	if !s.isIndexed(storeName, field) {
		return nil, errors.New(errors.ErrInvalid,
			fmt.Sprintf("field %q is not indexed for store %q", field, storeName))
	}
	return s.backend().Search(storeName, field, wildcardToLike(pattern))
}

func (s *LocalStore) isIndexed(storeName, field string) bool {
	for _, f := range s.indexFields[storeName] {
		if f == field {
			return true
		}
	}
	return false
}

// wildcardToLike translates shell-style wildcards to SQL LIKE syntax.
func wildcardToLike(pattern string) string {
	r := strings.NewReplacer("%", `\%`, "_", `\_`, "*", "%", "?", "_")
	return r.Replace(pattern)
}

// likeToRegexp compiles a SQL LIKE pattern into a case-insensitive
// regexp, used by the in-memory backend.
func likeToRegexp(likePattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("(?i)^")
	escaped := false
	for _, c := range likePattern {
		switch {
		case escaped:
			sb.WriteString(regexp.QuoteMeta(string(c)))
			escaped = false
		case c == '\\':
			escaped = true
		case c == '%':
			sb.WriteString(".*")
		case c == '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}
