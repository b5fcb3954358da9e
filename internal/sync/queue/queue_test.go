// Package queue tests for the durable, coalescing sync action buffer.
package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jjperez22/the-ERP-sub000/internal/db"
	"github.com/jjperez22/the-ERP-sub000/internal/errors"
	"github.com/jjperez22/the-ERP-sub000/internal/models"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("failed to initialize migrations: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	return database
}

func payload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return data
}

// TestEnqueueDequeue verifies a basic enqueue and dequeue round trip.
func TestEnqueueDequeue(t *testing.T) {
	q := NewSyncQueue(nil, 100)

	action, err := q.Enqueue(models.ActionCreate, models.StoreProducts, "rec-1",
		payload(t, map[string]string{"name": "rebar"}), models.PriorityNormal)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if action == nil {
		t.Fatal("Enqueue returned nil action")
	}
	if action.ID == "" {
		t.Error("enqueued action has no ID")
	}
	if action.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", action.MaxAttempts, DefaultMaxAttempts)
	}

	batch, err := q.DequeueBatch(5)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("batch size = %d, want 1", len(batch))
	}
	if batch[0].ID != action.ID {
		t.Errorf("dequeued action %s, want %s", batch[0].ID, action.ID)
	}
}

// TestCoalescing verifies at most one pending action exists per record,
// and that a later mutation supersedes type and payload.
func TestCoalescing(t *testing.T) {
	q := NewSyncQueue(nil, 100)

	first, err := q.Enqueue(models.ActionCreate, models.StoreProducts, "rec-1",
		payload(t, map[string]string{"name": "rebar"}), models.PriorityNormal)
	if err != nil {
		t.Fatalf("first Enqueue failed: %v", err)
	}

	second, err := q.Enqueue(models.ActionUpdate, models.StoreProducts, "rec-1",
		payload(t, map[string]string{"name": "rebar 12mm"}), models.PriorityHigh)
	if err != nil {
		t.Fatalf("second Enqueue failed: %v", err)
	}

	if q.Size() != 1 {
		t.Fatalf("queue size = %d, want 1 after coalescing", q.Size())
	}
	if second.ID != first.ID {
		t.Errorf("coalesced action changed identity: %s -> %s", first.ID, second.ID)
	}
	if second.ActionType != models.ActionUpdate {
		t.Errorf("ActionType = %q, want %q", second.ActionType, models.ActionUpdate)
	}
	if second.Priority != models.PriorityHigh {
		t.Errorf("Priority = %q, want %q", second.Priority, models.PriorityHigh)
	}
	var got map[string]string
	if err := json.Unmarshal(second.Payload, &got); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if got["name"] != "rebar 12mm" {
		t.Errorf("payload name = %q, want superseded value", got["name"])
	}
}

// TestCoalescingResetsAttempts verifies a superseding mutation grants a
// fresh retry budget and clears any backoff delay.
func TestCoalescingResetsAttempts(t *testing.T) {
	q := NewSyncQueue(nil, 100)

	action, err := q.Enqueue(models.ActionCreate, models.StoreOrders, "ord-1",
		payload(t, map[string]int{"total": 100}), models.PriorityNormal)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Simulate a retryable failure pushing the action into backoff.
	if _, err := q.DequeueBatch(1); err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if err := q.Reschedule(action.ID, action.Generation, 2, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}
	if q.HasEligible() {
		t.Fatal("rescheduled action should not be eligible yet")
	}

	updated, err := q.Enqueue(models.ActionUpdate, models.StoreOrders, "ord-1",
		payload(t, map[string]int{"total": 150}), models.PriorityNormal)
	if err != nil {
		t.Fatalf("superseding Enqueue failed: %v", err)
	}
	if updated.AttemptCount != 0 {
		t.Errorf("AttemptCount = %d, want 0 after supersede", updated.AttemptCount)
	}
	if !q.HasEligible() {
		t.Error("superseded action should be immediately eligible")
	}
}

// TestCreateThenDelete verifies that deleting a locally created record
// cancels the pending create entirely.
func TestCreateThenDelete(t *testing.T) {
	q := NewSyncQueue(nil, 100)

	if _, err := q.Enqueue(models.ActionCreate, models.StoreCustomers, "cust-1",
		payload(t, map[string]string{"name": "Acme Builders"}), models.PriorityNormal); err != nil {
		t.Fatalf("create Enqueue failed: %v", err)
	}

	action, err := q.Enqueue(models.ActionDelete, models.StoreCustomers, "cust-1",
		nil, models.PriorityNormal)
	if err != nil {
		t.Fatalf("delete Enqueue failed: %v", err)
	}
	if action != nil {
		t.Error("create+delete should coalesce to nil action")
	}
	if q.Size() != 0 {
		t.Errorf("queue size = %d, want 0 after create+delete", q.Size())
	}
}

// TestDeleteBlocksFurtherMutations verifies a pending delete rejects
// later mutations on the same record.
func TestDeleteBlocksFurtherMutations(t *testing.T) {
	q := NewSyncQueue(nil, 100)

	// Update first so the delete is not cancelled by create+delete.
	if _, err := q.Enqueue(models.ActionUpdate, models.StoreProducts, "rec-1",
		payload(t, map[string]string{"name": "cement"}), models.PriorityNormal); err != nil {
		t.Fatalf("update Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(models.ActionDelete, models.StoreProducts, "rec-1",
		nil, models.PriorityNormal); err != nil {
		t.Fatalf("delete Enqueue failed: %v", err)
	}

	_, err := q.Enqueue(models.ActionUpdate, models.StoreProducts, "rec-1",
		payload(t, map[string]string{"name": "cement 50kg"}), models.PriorityNormal)
	if err == nil {
		t.Fatal("mutation after pending delete should fail")
	}
	if !errors.Is(err, errors.ErrRecordDeleted) {
		t.Errorf("error code = %v, want RECORD_DELETED", err)
	}
}

// TestPriorityOrdering verifies high-priority actions lead the batch:
// with 10 normal and 2 high enqueued, the first batch of 5 carries
// both high actions first.
func TestPriorityOrdering(t *testing.T) {
	q := NewSyncQueue(nil, 100)

	for i := 0; i < 10; i++ {
		if _, err := q.Enqueue(models.ActionCreate, models.StoreProducts,
			models.UUID(normalID(i)),
			payload(t, map[string]int{"n": i}), models.PriorityNormal); err != nil {
			t.Fatalf("Enqueue normal %d failed: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	high1, err := q.Enqueue(models.ActionCreate, models.StoreOrders, "high-1",
		payload(t, map[string]string{"urgent": "yes"}), models.PriorityHigh)
	if err != nil {
		t.Fatalf("Enqueue high-1 failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	high2, err := q.Enqueue(models.ActionCreate, models.StoreOrders, "high-2",
		payload(t, map[string]string{"urgent": "yes"}), models.PriorityHigh)
	if err != nil {
		t.Fatalf("Enqueue high-2 failed: %v", err)
	}

	batch, err := q.DequeueBatch(5)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(batch) != 5 {
		t.Fatalf("batch size = %d, want 5", len(batch))
	}
	if batch[0].ID != high1.ID || batch[1].ID != high2.ID {
		t.Errorf("batch should lead with high-priority actions in FIFO order, got %s, %s",
			batch[0].ID, batch[1].ID)
	}
	for i := 2; i < 5; i++ {
		if batch[i].Priority != models.PriorityNormal {
			t.Errorf("batch[%d].Priority = %q, want normal", i, batch[i].Priority)
		}
	}
	// Remaining normal actions keep FIFO order within the batch.
	if batch[2].CreatedAt > batch[3].CreatedAt || batch[3].CreatedAt > batch[4].CreatedAt {
		t.Error("normal-priority actions are not in FIFO order")
	}
}

func normalID(i int) string {
	return string(rune('a'+i)) + "-normal"
}

// TestLeaseExcludesFromDequeue verifies a leased action is not handed
// out twice within a pass.
func TestLeaseExcludesFromDequeue(t *testing.T) {
	q := NewSyncQueue(nil, 100)

	action, err := q.Enqueue(models.ActionCreate, models.StoreProducts, "rec-1",
		payload(t, map[string]string{"name": "gravel"}), models.PriorityNormal)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	first, err := q.DequeueBatch(5)
	if err != nil {
		t.Fatalf("first DequeueBatch failed: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first batch size = %d, want 1", len(first))
	}

	second, err := q.DequeueBatch(5)
	if err != nil {
		t.Fatalf("second DequeueBatch failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second batch size = %d, want 0 while leased", len(second))
	}

	// Release puts the action back.
	if err := q.Release(action.ID); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	third, err := q.DequeueBatch(5)
	if err != nil {
		t.Fatalf("third DequeueBatch failed: %v", err)
	}
	if len(third) != 1 {
		t.Errorf("third batch size = %d, want 1 after release", len(third))
	}
}

// TestBackoffEligibility verifies a rescheduled action stays out of
// batches until its retry time passes.
func TestBackoffEligibility(t *testing.T) {
	q := NewSyncQueue(nil, 100)

	action, err := q.Enqueue(models.ActionUpdate, models.StoreProducts, "rec-1",
		payload(t, map[string]string{"name": "sand"}), models.PriorityNormal)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.DequeueBatch(1); err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if err := q.Reschedule(action.ID, action.Generation, 1, time.Now().Add(50*time.Millisecond)); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}

	batch, err := q.DequeueBatch(5)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("batch size = %d, want 0 during backoff", len(batch))
	}

	time.Sleep(60 * time.Millisecond)
	batch, err = q.DequeueBatch(5)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("batch size = %d, want 1 after backoff elapsed", len(batch))
	}
	if batch[0].AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", batch[0].AttemptCount)
	}
}

// TestQueueFull verifies the capacity bound.
func TestQueueFull(t *testing.T) {
	q := NewSyncQueue(nil, 2)

	for i := 0; i < 2; i++ {
		if _, err := q.Enqueue(models.ActionCreate, models.StoreProducts,
			models.UUID(normalID(i)), payload(t, map[string]int{"n": i}),
			models.PriorityNormal); err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}

	_, err := q.Enqueue(models.ActionCreate, models.StoreProducts, "overflow",
		payload(t, map[string]int{"n": 3}), models.PriorityNormal)
	if err == nil {
		t.Fatal("Enqueue beyond capacity should fail")
	}
	if !errors.Is(err, errors.ErrQueueFull) {
		t.Errorf("error code = %v, want QUEUE_FULL", err)
	}

	// Coalescing with an existing record still works at capacity.
	if _, err := q.Enqueue(models.ActionUpdate, models.StoreProducts,
		models.UUID(normalID(0)), payload(t, map[string]int{"n": 99}),
		models.PriorityNormal); err != nil {
		t.Errorf("coalescing Enqueue at capacity failed: %v", err)
	}
}

// TestDurability verifies queued actions survive a restart via Load.
func TestDurability(t *testing.T) {
	database := testDB(t)

	q := NewSyncQueue(database.DB, 100)
	action, err := q.Enqueue(models.ActionCreate, models.StoreProducts, "rec-1",
		payload(t, map[string]string{"name": "plywood"}), models.PriorityHigh)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	// Lease it so we can verify leases do not survive the restart.
	if _, err := q.DequeueBatch(1); err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}

	// A fresh queue over the same database simulates the restart.
	reloaded := NewSyncQueue(database.DB, 100)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.Size() != 1 {
		t.Fatalf("reloaded queue size = %d, want 1", reloaded.Size())
	}

	batch, err := reloaded.DequeueBatch(5)
	if err != nil {
		t.Fatalf("DequeueBatch after reload failed: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("batch size = %d, want 1 (stale lease should be cleared)", len(batch))
	}
	got := batch[0]
	if got.ID != action.ID {
		t.Errorf("reloaded action ID = %s, want %s", got.ID, action.ID)
	}
	if got.ActionType != models.ActionCreate {
		t.Errorf("ActionType = %q, want create", got.ActionType)
	}
	if got.Priority != models.PriorityHigh {
		t.Errorf("Priority = %q, want high", got.Priority)
	}
	var p map[string]string
	if err := json.Unmarshal(got.Payload, &p); err != nil {
		t.Fatalf("failed to decode reloaded payload: %v", err)
	}
	if p["name"] != "plywood" {
		t.Errorf("payload name = %q, want plywood", p["name"])
	}
}

// TestLoadSkipsCorruptedEntries verifies unreadable rows are skipped
// without failing the rest of the queue.
func TestLoadSkipsCorruptedEntries(t *testing.T) {
	database := testDB(t)

	q := NewSyncQueue(database.DB, 100)
	if _, err := q.Enqueue(models.ActionCreate, models.StoreProducts, "good-1",
		payload(t, map[string]string{"name": "bricks"}), models.PriorityNormal); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Corrupt rows written directly: invalid JSON payload, unknown type.
	now := time.Now().UnixMilli()
	if _, err := database.Exec(`INSERT INTO sync_queue
		(id, action_type, store_name, record_id, payload, priority, created_at, attempt_count, max_attempts, next_retry_at, leased)
		VALUES ('bad-payload', 'create', 'products', 'rec-x', '{invalid', 'normal', ?, 0, 3, ?, 0)`,
		now, now); err != nil {
		t.Fatalf("failed to insert corrupt row: %v", err)
	}
	if _, err := database.Exec(`INSERT INTO sync_queue
		(id, action_type, store_name, record_id, payload, priority, created_at, attempt_count, max_attempts, next_retry_at, leased)
		VALUES ('bad-type', 'truncate', 'products', 'rec-y', '{}', 'normal', ?, 0, 3, ?, 0)`,
		now, now); err != nil {
		t.Fatalf("failed to insert corrupt row: %v", err)
	}

	reloaded := NewSyncQueue(database.DB, 100)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.Size() != 1 {
		t.Errorf("reloaded queue size = %d, want 1 (corrupt rows skipped)", reloaded.Size())
	}
	if next := reloaded.Peek(); next == nil || next.RecordID != "good-1" {
		t.Errorf("Peek = %+v, want the surviving action", next)
	}
}

// TestRemove verifies removal clears the per-record slot so a new
// action can be enqueued for the same record.
func TestRemove(t *testing.T) {
	q := NewSyncQueue(nil, 100)

	action, err := q.Enqueue(models.ActionUpdate, models.StoreProducts, "rec-1",
		payload(t, map[string]string{"name": "pipe"}), models.PriorityNormal)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Remove(action.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if q.Size() != 0 {
		t.Errorf("queue size = %d, want 0", q.Size())
	}

	if err := q.Remove(action.ID); err == nil {
		t.Error("second Remove should fail")
	} else if !errors.Is(err, errors.ErrActionNotFound) {
		t.Errorf("error code = %v, want ACTION_NOT_FOUND", err)
	}

	// The record slot is free again.
	if _, err := q.Enqueue(models.ActionCreate, models.StoreProducts, "rec-1",
		payload(t, map[string]string{"name": "pipe"}), models.PriorityNormal); err != nil {
		t.Errorf("Enqueue after Remove failed: %v", err)
	}
}

// TestSupersedeWhileLeased verifies a mutation arriving while its
// action is in flight survives the old dispatch: completing the leased
// copy keeps the superseded entry pending instead of removing it.
func TestSupersedeWhileLeased(t *testing.T) {
	q := NewSyncQueue(nil, 100)

	if _, err := q.Enqueue(models.ActionCreate, models.StoreProducts, "rec-1",
		payload(t, map[string]string{"name": "gravel"}), models.PriorityNormal); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	batch, err := q.DequeueBatch(1)
	if err != nil || len(batch) != 1 {
		t.Fatalf("DequeueBatch = %d actions, err %v; want 1", len(batch), err)
	}
	leased := batch[0]

	// The record changes again while the create is in flight.
	updated, err := q.Enqueue(models.ActionUpdate, models.StoreProducts, "rec-1",
		payload(t, map[string]string{"name": "gravel 20mm"}), models.PriorityNormal)
	if err != nil {
		t.Fatalf("superseding Enqueue failed: %v", err)
	}
	if updated.Generation == leased.Generation {
		t.Fatal("supersede should advance the generation")
	}

	// The in-flight dispatch of the old payload succeeds.
	superseded, err := q.Complete(leased.ID, leased.Generation)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if !superseded {
		t.Fatal("Complete should report the action as superseded")
	}
	if q.Size() != 1 {
		t.Fatalf("queue size = %d, want 1 (new intent kept)", q.Size())
	}

	// The kept entry carries the new intent and dispatches again.
	next, err := q.DequeueBatch(1)
	if err != nil || len(next) != 1 {
		t.Fatalf("redispatch DequeueBatch = %d actions, err %v; want 1", len(next), err)
	}
	if next[0].ActionType != models.ActionUpdate {
		t.Errorf("ActionType = %q, want update", next[0].ActionType)
	}
	var got map[string]string
	if err := json.Unmarshal(next[0].Payload, &got); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if got["name"] != "gravel 20mm" {
		t.Errorf("payload name = %q, want superseding value", got["name"])
	}
	if next[0].AttemptCount != 0 {
		t.Errorf("AttemptCount = %d, want 0", next[0].AttemptCount)
	}

	superseded, err = q.Complete(next[0].ID, next[0].Generation)
	if err != nil {
		t.Fatalf("second Complete failed: %v", err)
	}
	if superseded {
		t.Error("second Complete should retire the action")
	}
	if q.Size() != 0 {
		t.Errorf("queue size = %d, want 0 after both dispatches", q.Size())
	}
}

// TestDeleteSupersedesLeasedCreate verifies that deleting a record
// whose create is in flight does not cancel out: the create may reach
// the remote, so a delete must follow it.
func TestDeleteSupersedesLeasedCreate(t *testing.T) {
	q := NewSyncQueue(nil, 100)

	if _, err := q.Enqueue(models.ActionCreate, models.StoreCustomers, "cust-1",
		payload(t, map[string]string{"name": "Acme"}), models.PriorityNormal); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	batch, err := q.DequeueBatch(1)
	if err != nil || len(batch) != 1 {
		t.Fatalf("DequeueBatch = %d actions, err %v; want 1", len(batch), err)
	}

	del, err := q.Enqueue(models.ActionDelete, models.StoreCustomers, "cust-1",
		nil, models.PriorityNormal)
	if err != nil {
		t.Fatalf("delete Enqueue failed: %v", err)
	}
	if del == nil {
		t.Fatal("delete of a leased create must not cancel to a no-op")
	}
	if del.ActionType != models.ActionDelete {
		t.Errorf("ActionType = %q, want delete", del.ActionType)
	}

	if superseded, err := q.Complete(batch[0].ID, batch[0].Generation); err != nil || !superseded {
		t.Fatalf("Complete = (%v, %v), want superseded", superseded, err)
	}
	if next := q.Peek(); next == nil || next.ActionType != models.ActionDelete {
		t.Error("pending delete should remain after the create completes")
	}
}

// TestRescheduleSuperseded verifies a retryable failure of an old
// in-flight copy does not push a superseded entry back into backoff.
func TestRescheduleSuperseded(t *testing.T) {
	q := NewSyncQueue(nil, 100)

	if _, err := q.Enqueue(models.ActionUpdate, models.StoreProducts, "rec-1",
		payload(t, map[string]string{"name": "mortar"}), models.PriorityNormal); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	batch, err := q.DequeueBatch(1)
	if err != nil || len(batch) != 1 {
		t.Fatalf("DequeueBatch = %d actions, err %v; want 1", len(batch), err)
	}
	if _, err := q.Enqueue(models.ActionUpdate, models.StoreProducts, "rec-1",
		payload(t, map[string]string{"name": "mortar mix"}), models.PriorityNormal); err != nil {
		t.Fatalf("superseding Enqueue failed: %v", err)
	}

	if err := q.Reschedule(batch[0].ID, batch[0].Generation, 2, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}

	next := q.Peek()
	if next == nil {
		t.Fatal("superseded entry should stay immediately eligible")
	}
	if next.AttemptCount != 0 {
		t.Errorf("AttemptCount = %d, want 0 (fresh retry budget)", next.AttemptCount)
	}
}

// TestPendingSnapshot verifies Pending returns isolated copies.
func TestPendingSnapshot(t *testing.T) {
	q := NewSyncQueue(nil, 100)

	if _, err := q.Enqueue(models.ActionCreate, models.StoreProducts, "rec-1",
		payload(t, map[string]string{"name": "beam"}), models.PriorityNormal); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	pending := q.Pending()
	if len(pending) != 1 {
		t.Fatalf("Pending size = %d, want 1", len(pending))
	}
	pending[0].ActionType = models.ActionDelete

	if next := q.Peek(); next.ActionType != models.ActionCreate {
		t.Error("mutating a Pending snapshot leaked into the queue")
	}
}
