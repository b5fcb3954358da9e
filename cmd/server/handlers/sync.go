package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jjperez22/the-ERP-sub000/internal/models"
	"github.com/jjperez22/the-ERP-sub000/internal/store"
	syncpkg "github.com/jjperez22/the-ERP-sub000/internal/sync"
	"github.com/jjperez22/the-ERP-sub000/internal/sync/monitor"
	"github.com/jjperez22/the-ERP-sub000/internal/sync/queue"
)

// SyncHandler exposes sync status and the manual trigger. The UI uses
// the dirty counts and queue size as its pending-sync indicators.
type SyncHandler struct {
	store   *store.LocalStore
	queue   *queue.SyncQueue
	orch    *syncpkg.Orchestrator
	monitor *monitor.Monitor
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(s *store.LocalStore, q *queue.SyncQueue, orch *syncpkg.Orchestrator, m *monitor.Monitor) *SyncHandler {
	return &SyncHandler{store: s, queue: q, orch: orch, monitor: m}
}

// HandleStatus handles GET /api/v1/sync/status.
func (h *SyncHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	stats, lastPassAt := h.orch.LastPass()

	dirty := map[string]int{}
	for _, storeName := range []string{models.StoreProducts, models.StoreCustomers, models.StoreOrders} {
		if n, err := h.store.DirtyCount(storeName); err == nil {
			dirty[storeName] = n
		}
	}

	body := map[string]interface{}{
		"state":          string(h.orch.State()),
		"online":         h.monitor.IsOnline(),
		"queue_size":     h.queue.Size(),
		"dirty_records":  dirty,
		"store_degraded": h.store.Degraded(),
		"last_pass": map[string]interface{}{
			"successful": stats.Successful,
			"failed":     stats.Failed,
			"deferred":   stats.Deferred,
		},
	}
	if !lastPassAt.IsZero() {
		body["last_pass_at"] = lastPassAt.Format(time.RFC3339)
	}
	if t := h.orch.LastSyncTime(); !t.IsZero() {
		body["last_sync_at"] = t.Format(time.RFC3339)
	}
	respondJSON(w, http.StatusOK, body)
}

// HandleQueue handles GET /api/v1/sync/queue.
func (h *SyncHandler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	pending := h.queue.Pending()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": pending,
		"count": len(pending),
	})
}

// HandleDiscard handles DELETE /api/v1/sync/queue/{id}, dropping a
// pending action without dispatching it. The record keeps its dirty
// flag; a later mutation or full reconcile picks the change up again.
func (h *SyncHandler) HandleDiscard(w http.ResponseWriter, r *http.Request) {
	id := models.UUID(chi.URLParam(r, "id"))
	if err := h.queue.Remove(id); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"discarded": string(id)})
}

// HandleTrigger handles POST /api/v1/sync/trigger. A trigger while a
// pass is running coalesces into one follow-up pass.
func (h *SyncHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	// The pass outlives the HTTP request; r.Context() would cancel it.
	started := h.orch.RequestSync(context.Background())
	status := http.StatusAccepted
	body := map[string]interface{}{"started": started}
	if !started {
		body["note"] = "pass in progress, follow-up scheduled"
	}
	respondJSON(w, status, body)
}

// HandleOnline handles PUT /api/v1/sync/online with {"online": bool},
// the platform connectivity signal.
func (h *SyncHandler) HandleOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	h.monitor.SetOnline(context.Background(), req.Online)
	respondJSON(w, http.StatusOK, map[string]interface{}{"online": req.Online})
}
