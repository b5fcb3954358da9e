// Package queue provides the durable, ordered, coalescing buffer of
// pending sync actions.
//
// At most one pending action exists per (store, record): a new
// mutation on a record with a pending action merges into it instead of
// creating a duplicate, which preserves per-record ordering under
// concurrent dispatch.
package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jjperez22/the-ERP-sub000/internal/errors"
	"github.com/jjperez22/the-ERP-sub000/internal/logging"
	"github.com/jjperez22/the-ERP-sub000/internal/models"
	"github.com/jjperez22/the-ERP-sub000/internal/uuid"
)

// DefaultMaxAttempts is the retry budget for a new action.
const DefaultMaxAttempts = 3

type recordKey struct {
	store  string
	record models.UUID
}

// SyncQueue manages pending sync actions with durable persistence.
// All mutations are serialized under one mutex; every state change is
// written through to the sync_queue table before it is visible.
type SyncQueue struct {
	mu          sync.Mutex
	db          *sql.DB // nil runs the queue memory-only (tests)
	items       map[models.UUID]*models.SyncAction
	byRecord    map[recordKey]models.UUID
	leased      map[models.UUID]bool
	maxSize     int
	maxAttempts int
}

// NewSyncQueue creates a SyncQueue persisted in the given database.
// Pass a nil db for a volatile queue.
func NewSyncQueue(db *sql.DB, maxSize int) *SyncQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &SyncQueue{
		db:          db,
		items:       make(map[models.UUID]*models.SyncAction),
		byRecord:    make(map[recordKey]models.UUID),
		leased:      make(map[models.UUID]bool),
		maxSize:     maxSize,
		maxAttempts: DefaultMaxAttempts,
	}
}

// SetMaxAttempts overrides the retry budget applied to new actions.
func (q *SyncQueue) SetMaxAttempts(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > 0 {
		q.maxAttempts = n
	}
}

// Load reads persisted actions back into memory after a restart.
// Rows that fail to decode are skipped and logged; the rest of the
// queue still loads. Stale leases from an interrupted pass are cleared.
func (q *SyncQueue) Load() error {
	if q.db == nil {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.Query(`SELECT id, action_type, store_name, record_id, payload,
		priority, created_at, attempt_count, max_attempts, next_retry_at FROM sync_queue`)
	if err != nil {
		return fmt.Errorf("failed to load sync queue: %w", err)
	}
	defer rows.Close()

	loaded, skipped := 0, 0
	for rows.Next() {
		var a models.SyncAction
		var payload sql.NullString
		if err := rows.Scan(&a.ID, &a.ActionType, &a.StoreName, &a.RecordID, &payload,
			&a.Priority, &a.CreatedAt, &a.AttemptCount, &a.MaxAttempts, &a.NextRetryAt); err != nil {
			logging.ErrorWithCode("skipping unreadable sync queue row",
				string(errors.ErrQueueCorrupted), err)
			skipped++
			continue
		}
		if payload.Valid {
			a.Payload = json.RawMessage(payload.String)
		}
		if err := validateAction(&a); err != nil {
			logging.ErrorWithCode("skipping corrupted sync queue entry",
				string(errors.ErrQueueCorrupted), err,
				map[string]interface{}{"action_id": a.ID})
			skipped++
			continue
		}
		q.items[a.ID] = &a
		q.byRecord[recordKey{a.StoreName, a.RecordID}] = a.ID
		loaded++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read sync queue rows: %w", err)
	}

	// Leases do not survive a restart.
	if _, err := q.db.Exec("UPDATE sync_queue SET leased = 0"); err != nil {
		return fmt.Errorf("failed to clear stale leases: %w", err)
	}

	logging.Info("sync queue loaded",
		map[string]interface{}{"loaded": loaded, "skipped": skipped})
	return nil
}

// validateAction rejects rows that cannot be replayed.
func validateAction(a *models.SyncAction) error {
	switch a.ActionType {
	case models.ActionCreate, models.ActionUpdate, models.ActionDelete:
	default:
		return fmt.Errorf("unknown action type %q", a.ActionType)
	}
	if a.StoreName == "" || a.RecordID == "" {
		return fmt.Errorf("missing store or record id")
	}
	if a.ActionType != models.ActionDelete && !json.Valid(a.Payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	return nil
}

// Enqueue appends a mutation, coalescing with any pending action for
// the same (store, record):
//   - a pending delete rejects further mutations (ErrRecordDeleted);
//   - create followed by delete removes the entry entirely (the record
//     never reached the remote, there is nothing to delete there);
//   - otherwise the new actionType and payload supersede the old ones
//     and the attempt count resets, since the entry now carries new
//     intent.
//
// A leased action (a copy of it is in flight) is superseded the same
// way, except its generation advances and the create+delete
// cancellation does not apply: the in-flight create may already have
// reached the remote, so the entry becomes a pending delete instead.
//
// Returns the pending action, or nil when the coalescing cancelled out.
func (q *SyncQueue) Enqueue(actionType models.ActionType, storeName string, recordID models.UUID,
	payload json.RawMessage, priority models.Priority) (*models.SyncAction, error) {

	q.mu.Lock()
	defer q.mu.Unlock()

	key := recordKey{storeName, recordID}
	now := time.Now().UnixMilli()

	if existingID, ok := q.byRecord[key]; ok {
		existing := q.items[existingID]

		if existing.ActionType == models.ActionDelete {
			return nil, errors.New(errors.ErrRecordDeleted,
				fmt.Sprintf("record %s/%s has a pending delete", storeName, recordID))
		}

		if existing.ActionType == models.ActionCreate && actionType == models.ActionDelete &&
			!q.leased[existingID] {
			if err := q.removeLocked(existingID); err != nil {
				return nil, err
			}
			logging.Debug("create+delete coalesced to no-op",
				map[string]interface{}{"store": storeName, "record_id": recordID})
			return nil, nil
		}

		existing.ActionType = actionType
		existing.Payload = payload
		existing.Priority = priority
		existing.AttemptCount = 0
		existing.NextRetryAt = now
		existing.Generation++
		if err := q.persist(existing); err != nil {
			return nil, err
		}
		return copyAction(existing), nil
	}

	if len(q.items) >= q.maxSize {
		return nil, errors.New(errors.ErrQueueFull,
			fmt.Sprintf("sync queue is full (max size: %d)", q.maxSize))
	}

	action := &models.SyncAction{
		ID:           models.UUID(uuid.New()),
		ActionType:   actionType,
		StoreName:    storeName,
		RecordID:     recordID,
		Payload:      payload,
		Priority:     priority,
		CreatedAt:    now,
		AttemptCount: 0,
		MaxAttempts:  q.maxAttempts,
		NextRetryAt:  now,
	}

	q.items[action.ID] = action
	q.byRecord[key] = action.ID
	if err := q.persist(action); err != nil {
		delete(q.items, action.ID)
		delete(q.byRecord, key)
		return nil, err
	}
	return copyAction(action), nil
}

// DequeueBatch returns up to maxItems actions eligible now, ordered by
// priority (high, normal, low) then createdAt ascending, and leases
// them until the orchestrator removes, reschedules or releases them.
func (q *SyncQueue) DequeueBatch(maxItems int) ([]*models.SyncAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var eligible []*models.SyncAction
	for id, a := range q.items {
		if q.leased[id] || !a.Eligible(now) {
			continue
		}
		eligible = append(eligible, a)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if r := eligible[i].Priority.Rank() - eligible[j].Priority.Rank(); r != 0 {
			return r < 0
		}
		if eligible[i].CreatedAt != eligible[j].CreatedAt {
			return eligible[i].CreatedAt < eligible[j].CreatedAt
		}
		return eligible[i].ID < eligible[j].ID
	})

	if len(eligible) > maxItems {
		eligible = eligible[:maxItems]
	}

	batch := make([]*models.SyncAction, 0, len(eligible))
	for _, a := range eligible {
		q.leased[a.ID] = true
		if err := q.persistLease(a.ID, true); err != nil {
			return nil, err
		}
		batch = append(batch, copyAction(a))
	}
	return batch, nil
}

// Complete retires an action whose dispatched copy reached a terminal
// outcome (confirmed success or permanent failure). The generation is
// the one observed at dequeue: when a newer mutation superseded the
// action while it was in flight, the entry is kept and its lease
// released so the new intent dispatches on a later batch, and
// superseded=true is reported instead.
func (q *SyncQueue) Complete(actionID models.UUID, generation int64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	a, ok := q.items[actionID]
	if !ok {
		return false, errors.New(errors.ErrActionNotFound, fmt.Sprintf("action %s not found", actionID))
	}
	if a.Generation != generation {
		delete(q.leased, actionID)
		return true, q.persistLease(actionID, false)
	}
	return false, q.removeLocked(actionID)
}

// Remove deletes an action unconditionally, regardless of lease or
// generation. Dispatch outcomes go through Complete; Remove serves
// queue management, such as discarding a stuck action.
func (q *SyncQueue) Remove(actionID models.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(actionID)
}

func (q *SyncQueue) removeLocked(actionID models.UUID) error {
	a, ok := q.items[actionID]
	if !ok {
		return errors.New(errors.ErrActionNotFound, fmt.Sprintf("action %s not found", actionID))
	}
	delete(q.items, actionID)
	delete(q.byRecord, recordKey{a.StoreName, a.RecordID})
	delete(q.leased, actionID)
	if q.db != nil {
		if _, err := q.db.Exec("DELETE FROM sync_queue WHERE id = ?", actionID); err != nil {
			return fmt.Errorf("failed to delete action %s: %w", actionID, err)
		}
	}
	return nil
}

// Reschedule updates the retry state of an action after a retryable
// failure and returns it to the pending pool. If the action was
// superseded while leased, the fresh retry state set by Enqueue is
// kept and only the lease is released.
func (q *SyncQueue) Reschedule(actionID models.UUID, generation int64, attemptCount int, nextRetryAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	a, ok := q.items[actionID]
	if !ok {
		return errors.New(errors.ErrActionNotFound, fmt.Sprintf("action %s not found", actionID))
	}
	if a.Generation != generation {
		delete(q.leased, actionID)
		return q.persistLease(actionID, false)
	}
	a.AttemptCount = attemptCount
	a.NextRetryAt = nextRetryAt.UnixMilli()
	delete(q.leased, actionID)
	return q.persist(a)
}

// Release returns a leased action to the pending pool unchanged, used
// when a pass is aborted before reconciling.
func (q *SyncQueue) Release(actionID models.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.items[actionID]; !ok {
		return errors.New(errors.ErrActionNotFound, fmt.Sprintf("action %s not found", actionID))
	}
	delete(q.leased, actionID)
	return q.persistLease(actionID, false)
}

// Size returns the number of actions in the queue, leased included.
func (q *SyncQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Peek returns the next eligible action without leasing it, or nil.
func (q *SyncQueue) Peek() *models.SyncAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var best *models.SyncAction
	for id, a := range q.items {
		if q.leased[id] || !a.Eligible(now) {
			continue
		}
		if best == nil || lessAction(a, best) {
			best = a
		}
	}
	if best == nil {
		return nil
	}
	return copyAction(best)
}

// Pending returns a snapshot of every queued action, for status reporting.
func (q *SyncQueue) Pending() []*models.SyncAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	actions := make([]*models.SyncAction, 0, len(q.items))
	for _, a := range q.items {
		actions = append(actions, copyAction(a))
	}
	sort.Slice(actions, func(i, j int) bool { return lessAction(actions[i], actions[j]) })
	return actions
}

// HasEligible reports whether any action may be dispatched now.
func (q *SyncQueue) HasEligible() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for id, a := range q.items {
		if !q.leased[id] && a.Eligible(now) {
			return true
		}
	}
	return false
}

func lessAction(a, b *models.SyncAction) bool {
	if r := a.Priority.Rank() - b.Priority.Rank(); r != 0 {
		return r < 0
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}

// persist writes the full action row through to the database,
// mirroring the in-memory lease state.
func (q *SyncQueue) persist(a *models.SyncAction) error {
	if q.db == nil {
		return nil
	}
	query := `
	INSERT INTO sync_queue (id, action_type, store_name, record_id, payload,
		priority, created_at, attempt_count, max_attempts, next_retry_at, leased)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		action_type = excluded.action_type,
		payload = excluded.payload,
		priority = excluded.priority,
		attempt_count = excluded.attempt_count,
		next_retry_at = excluded.next_retry_at,
		leased = excluded.leased
	`
	_, err := q.db.Exec(query, a.ID, a.ActionType, a.StoreName, a.RecordID,
		string(a.Payload), a.Priority, a.CreatedAt, a.AttemptCount, a.MaxAttempts, a.NextRetryAt,
		q.leased[a.ID])
	if err != nil {
		return fmt.Errorf("failed to persist action %s: %w", a.ID, err)
	}
	return nil
}

func (q *SyncQueue) persistLease(actionID models.UUID, leased bool) error {
	if q.db == nil {
		return nil
	}
	_, err := q.db.Exec("UPDATE sync_queue SET leased = ? WHERE id = ?", leased, actionID)
	if err != nil {
		return fmt.Errorf("failed to persist lease for %s: %w", actionID, err)
	}
	return nil
}

func copyAction(a *models.SyncAction) *models.SyncAction {
	cp := *a
	cp.Payload = append(json.RawMessage(nil), a.Payload...)
	return &cp
}
