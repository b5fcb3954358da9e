// Package sync provides the orchestrator that drains the sync queue
// and reconciles local state with the remote authority.
package sync

import (
	"context"
	"database/sql"
	stdsync "sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jjperez22/the-ERP-sub000/internal/errors"
	"github.com/jjperez22/the-ERP-sub000/internal/events"
	"github.com/jjperez22/the-ERP-sub000/internal/logging"
	"github.com/jjperez22/the-ERP-sub000/internal/models"
	"github.com/jjperez22/the-ERP-sub000/internal/store"
	"github.com/jjperez22/the-ERP-sub000/internal/sync/conflict"
	"github.com/jjperez22/the-ERP-sub000/internal/sync/queue"
	"github.com/jjperez22/the-ERP-sub000/internal/sync/remote"
)

// State is the orchestrator's pass state.
type State string

const (
	StateIdle        State = "idle"
	StateDraining    State = "draining"
	StateDispatching State = "dispatching"
	StateReconciling State = "reconciling"
)

// Config tunes one orchestrator pass.
type Config struct {
	BatchSize       int           // actions per batch; also the dispatch concurrency bound
	DispatchTimeout time.Duration // per remote call
	InterBatchDelay time.Duration // pacing between batches within a pass
	BackoffCap      time.Duration // upper bound on retry backoff
	TwoWayReconcile bool          // run pull/merge after draining the queue
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:       5,
		DispatchTimeout: 10 * time.Second,
		InterBatchDelay: 500 * time.Millisecond,
		BackoffCap:      5 * time.Minute,
		TwoWayReconcile: true,
	}
}

// Orchestrator is the sync scheduler. Exactly one pass runs at a time
// process-wide; a sync request arriving mid-pass is recorded and
// triggers exactly one follow-up pass.
type Orchestrator struct {
	store    *store.LocalStore
	queue    *queue.SyncQueue
	endpoint remote.Endpoint
	notifier *events.Notifier
	resolver *conflict.Resolver
	meta     *Meta
	cfg      Config

	mu         stdsync.Mutex
	state      State
	followUp   bool
	lastStats  models.PassStats
	lastPassAt time.Time
	limiter    *rate.Limiter
}

// NewOrchestrator wires the orchestrator to its collaborators. The db
// handle is used for last-sync bookkeeping and may be nil in tests.
func NewOrchestrator(s *store.LocalStore, q *queue.SyncQueue, endpoint remote.Endpoint,
	notifier *events.Notifier, db *sql.DB, cfg Config) *Orchestrator {

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 10 * time.Second
	}
	if cfg.InterBatchDelay <= 0 {
		cfg.InterBatchDelay = 500 * time.Millisecond
	}

	return &Orchestrator{
		store:    s,
		queue:    q,
		endpoint: endpoint,
		notifier: notifier,
		resolver: conflict.NewResolver(conflict.ResolutionStrategyLastWriteWins),
		meta:     NewMeta(db),
		cfg:      cfg,
		state:    StateIdle,
		limiter:  rate.NewLimiter(rate.Every(cfg.InterBatchDelay), 1),
	}
}

// State returns the current pass state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastPass returns the stats and completion time of the most recent pass.
func (o *Orchestrator) LastPass() (models.PassStats, time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastStats, o.lastPassAt
}

// LastSyncTime returns the persisted reconciliation watermark.
func (o *Orchestrator) LastSyncTime() time.Time {
	return o.meta.LastSync()
}

// RequestSync asks for a sync pass. If no pass is running one starts
// in the background and true is returned. If a pass is mid-flight the
// request coalesces into a single follow-up pass and false is returned.
func (o *Orchestrator) RequestSync(ctx context.Context) bool {
	o.mu.Lock()
	if o.state != StateIdle {
		o.followUp = true
		o.mu.Unlock()
		return false
	}
	o.state = StateDraining
	o.mu.Unlock()

	go o.runPasses(ctx)
	return true
}

// SyncNow runs a pass synchronously and returns its stats. If a pass
// is already running the request is recorded as a follow-up and
// ErrSyncInProgress is returned.
func (o *Orchestrator) SyncNow(ctx context.Context) (models.PassStats, error) {
	o.mu.Lock()
	if o.state != StateIdle {
		o.followUp = true
		o.mu.Unlock()
		return models.PassStats{}, errors.New(errors.ErrSyncInProgress, "sync pass already running")
	}
	o.state = StateDraining
	o.mu.Unlock()

	stats := o.pass(ctx)
	o.finishPass(stats)
	o.drainFollowUps(ctx)
	return stats, nil
}

// runPasses executes one pass plus at most the follow-ups requested
// while each pass was in flight.
func (o *Orchestrator) runPasses(ctx context.Context) {
	stats := o.pass(ctx)
	o.finishPass(stats)
	o.drainFollowUps(ctx)
}

func (o *Orchestrator) drainFollowUps(ctx context.Context) {
	for {
		o.mu.Lock()
		if !o.followUp || ctx.Err() != nil {
			o.mu.Unlock()
			return
		}
		o.followUp = false
		o.state = StateDraining
		o.mu.Unlock()

		stats := o.pass(ctx)
		o.finishPass(stats)
	}
}

func (o *Orchestrator) finishPass(stats models.PassStats) {
	o.mu.Lock()
	o.state = StateIdle
	o.lastStats = stats
	o.lastPassAt = time.Now()
	o.mu.Unlock()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// pass drains the queue in batches, dispatches each batch with bounded
// concurrency, reconciles outcomes, then runs the two-way pull/merge.
// All failures are recovered here; the aggregate is always emitted as
// sync.completed, even when the queue was empty.
func (o *Orchestrator) pass(ctx context.Context) models.PassStats {
	var stats models.PassStats
	started := time.Now()

	for ctx.Err() == nil {
		o.setState(StateDraining)
		batch, err := o.queue.DequeueBatch(o.cfg.BatchSize)
		if err != nil {
			logging.ErrorWithCode("failed to dequeue batch", string(errors.ErrDatabase), err)
			break
		}
		if len(batch) == 0 {
			break
		}

		o.setState(StateDispatching)
		results := o.dispatchBatch(ctx, batch)

		// Pass aborted mid-dispatch: return the batch to the pending
		// pool with its retry state untouched.
		if ctx.Err() != nil {
			for _, action := range batch {
				if err := o.queue.Release(action.ID); err != nil {
					logging.Error("failed to release leased action", err,
						map[string]interface{}{"action_id": string(action.ID)})
				}
			}
			break
		}

		o.setState(StateReconciling)
		for i, action := range batch {
			o.reconcile(action, results[i], &stats)
		}

		// Pace between batches to avoid overwhelming the remote.
		if err := o.limiter.Wait(ctx); err != nil {
			break
		}
	}

	if o.cfg.TwoWayReconcile && ctx.Err() == nil {
		o.setState(StateReconciling)
		o.reconcileRemote(ctx)
	}

	o.notifier.Publish(events.EventSyncCompleted, map[string]interface{}{
		"successful":  stats.Successful,
		"failed":      stats.Failed,
		"deferred":    stats.Deferred,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return stats
}

// dispatchBatch invokes the remote endpoint for every action in the
// batch concurrently. The batch size is the concurrency bound; each
// call runs under its own timeout and a timed-out call classifies as
// retryable. Completion order across the batch is not defined.
func (o *Orchestrator) dispatchBatch(ctx context.Context, batch []*models.SyncAction) []models.SyncResult {
	results := make([]models.SyncResult, len(batch))

	var wg stdsync.WaitGroup
	for i, action := range batch {
		wg.Add(1)
		go func(i int, action *models.SyncAction) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, o.cfg.DispatchTimeout)
			defer cancel()
			results[i] = o.dispatch(callCtx, action)
		}(i, action)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) dispatch(ctx context.Context, action *models.SyncAction) models.SyncResult {
	switch action.ActionType {
	case models.ActionCreate:
		return o.endpoint.Create(ctx, action.StoreName, action.Payload)
	case models.ActionUpdate:
		return o.endpoint.Update(ctx, action.StoreName, action.RecordID, action.Payload)
	case models.ActionDelete:
		return o.endpoint.Delete(ctx, action.StoreName, action.RecordID)
	default:
		return models.SyncResult{Retryable: false, Error: "unknown action type"}
	}
}

// reconcile classifies one dispatch outcome and applies the queue and
// store mutations it implies. The orchestrator is the only writer of
// attempt counts and retry times, and the only component that removes
// actions.
func (o *Orchestrator) reconcile(action *models.SyncAction, result models.SyncResult, stats *models.PassStats) {
	base := map[string]interface{}{
		"action_id":   string(action.ID),
		"action_type": string(action.ActionType),
		"store":       action.StoreName,
		"record_id":   string(action.RecordID),
	}

	switch {
	case result.Success:
		superseded, err := o.queue.Complete(action.ID, action.Generation)
		if err != nil {
			logging.Error("failed to retire synced action", err, base)
		}
		// A supersede while in flight means the record carries newer
		// unsynced changes; it stays dirty until those dispatch.
		if !superseded && action.ActionType != models.ActionDelete {
			if err := o.store.MarkClean(action.StoreName, action.RecordID); err != nil {
				logging.Error("failed to clear dirty flag", err, base)
			}
		}
		stats.Successful++
		o.notifier.Publish(events.EventSyncSuccess, base)

	case !result.Retryable:
		// Client-side rejection: dropping and surfacing is all we can do.
		if _, err := o.queue.Complete(action.ID, action.Generation); err != nil {
			logging.Error("failed to retire rejected action", err, base)
		}
		stats.Failed++
		base["status_code"] = result.StatusCode
		base["error"] = result.Error
		base["permanent"] = true
		o.notifier.Publish(events.EventSyncFailed, base)

	default:
		attempts := action.AttemptCount + 1
		if attempts >= action.MaxAttempts {
			// Retry budget exhausted; treat as permanent.
			if _, err := o.queue.Complete(action.ID, action.Generation); err != nil {
				logging.Error("failed to retire exhausted action", err, base)
			}
			stats.Failed++
			base["error"] = result.Error
			base["attempts"] = attempts
			base["permanent"] = true
			o.notifier.Publish(events.EventSyncFailed, base)
			return
		}

		delay := backoffDelay(attempts, o.cfg.BackoffCap)
		nextRetry := time.Now().Add(delay)
		if err := o.queue.Reschedule(action.ID, action.Generation, attempts, nextRetry); err != nil {
			logging.Error("failed to reschedule action", err, base)
		}
		stats.Deferred++
		base["error"] = result.Error
		base["attempts"] = attempts
		base["next_retry_at"] = nextRetry.UnixMilli()
		o.notifier.Publish(events.EventSyncDeferred, base)
	}
}

// reconcileRemote runs the bidirectional merge: pull remote changes
// since the watermark, fold them into the local store under
// last-write-wins, then upload the local snapshot for server-side
// merge. Failures here are logged and skipped; they never abort the
// pass.
func (o *Orchestrator) reconcileRemote(ctx context.Context) {
	lastSync := o.meta.LastSync()

	pull, err := o.endpoint.Pull(ctx, lastSync)
	if err != nil {
		logging.Warn("pull skipped", map[string]interface{}{"error": err.Error()})
		return
	}
	if pull != nil && pull.HasChanges {
		o.applyRemoteChanges(pull)
	}

	upload := &remote.UploadRequest{
		StoreRecords: map[string][]*models.Record{},
		ClientTime:   time.Now().UnixMilli(),
	}
	for _, storeName := range []string{models.StoreProducts, models.StoreCustomers, models.StoreOrders} {
		records, err := o.store.GetAll(storeName)
		if err != nil {
			logging.Error("failed to snapshot store for upload", err,
				map[string]interface{}{"store": storeName})
			continue
		}
		if len(records) > 0 {
			upload.StoreRecords[storeName] = records
		}
	}

	resp, err := o.endpoint.Upload(ctx, upload)
	if err != nil {
		logging.Warn("merge upload skipped", map[string]interface{}{"error": err.Error()})
		return
	}
	if resp != nil {
		watermark := time.UnixMilli(resp.ServerTime)
		if resp.ServerTime == 0 {
			watermark = time.Now()
		}
		if err := o.meta.SetLastSync(watermark); err != nil {
			logging.Error("failed to persist last sync time", err)
		}
		logging.Info("reconciliation complete",
			map[string]interface{}{"merged": resp.MergedCount})
	}
}

// applyRemoteChanges folds pulled records into the local store.
// Unknown records are inserted as clean; diverged records resolve by
// last-write-wins, and a losing local copy is overwritten.
func (o *Orchestrator) applyRemoteChanges(pull *remote.PullResponse) {
	for storeName, records := range pull.StoreRecords {
		for _, remoteRec := range records {
			remoteRec.StoreName = storeName
			remoteRec.Dirty = false

			local, err := o.store.Get(storeName, remoteRec.ID)
			if err != nil || local == nil {
				if err := o.store.Apply(remoteRec); err != nil {
					logging.Error("failed to apply remote record", err,
						map[string]interface{}{"store": storeName, "record_id": remoteRec.ID})
				}
				continue
			}

			c, diverged := o.resolver.Detect(local, remoteRec)
			if !diverged {
				continue
			}
			result, err := o.resolver.Resolve(c)
			if err != nil {
				logging.Error("conflict resolution failed", err,
					map[string]interface{}{"store": storeName, "record_id": remoteRec.ID})
				continue
			}
			if result.Winner == remoteRec {
				if err := o.store.Apply(remoteRec); err != nil {
					logging.Error("failed to apply winning remote record", err,
						map[string]interface{}{"store": storeName, "record_id": remoteRec.ID})
				}
			}
		}
	}
}
