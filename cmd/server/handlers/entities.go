package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/jjperez22/the-ERP-sub000/internal/errors"
	"github.com/jjperez22/the-ERP-sub000/internal/models"
	"github.com/jjperez22/the-ERP-sub000/internal/store"
	"github.com/jjperez22/the-ERP-sub000/internal/sync/queue"
	"github.com/jjperez22/the-ERP-sub000/internal/uuid"
)

// knownStores guards the {store} URL parameter.
var knownStores = map[string]bool{
	models.StoreProducts:  true,
	models.StoreCustomers: true,
	models.StoreOrders:    true,
}

// EntityHandler serves CRUD over the local store. Every write marks
// the record dirty and enqueues the matching sync action, so mutations
// made while offline replay once connectivity returns.
type EntityHandler struct {
	store *store.LocalStore
	queue *queue.SyncQueue
}

// NewEntityHandler creates an EntityHandler.
func NewEntityHandler(s *store.LocalStore, q *queue.SyncQueue) *EntityHandler {
	return &EntityHandler{store: s, queue: q}
}

// priorityFrom reads the optional sync priority request header.
func priorityFrom(r *http.Request) models.Priority {
	switch models.Priority(r.Header.Get("X-Sync-Priority")) {
	case models.PriorityHigh:
		return models.PriorityHigh
	case models.PriorityLow:
		return models.PriorityLow
	default:
		return models.PriorityNormal
	}
}

func storeParam(r *http.Request) (string, bool) {
	name := chi.URLParam(r, "store")
	return name, knownStores[name]
}

// HandleList handles GET /api/v1/{store}.
func (h *EntityHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	storeName, ok := storeParam(r)
	if !ok {
		respondError(w, http.StatusNotFound, apperrors.New(apperrors.ErrNotFound, "unknown store"))
		return
	}

	records, err := h.store.GetAll(storeName)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": records,
		"count": len(records),
	})
}

// HandleGet handles GET /api/v1/{store}/{id}.
func (h *EntityHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	storeName, ok := storeParam(r)
	if !ok {
		respondError(w, http.StatusNotFound, apperrors.New(apperrors.ErrNotFound, "unknown store"))
		return
	}

	rec, err := h.store.Get(storeName, models.UUID(chi.URLParam(r, "id")))
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// HandleCreate handles POST /api/v1/{store}.
func (h *EntityHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	storeName, ok := storeParam(r)
	if !ok {
		respondError(w, http.StatusNotFound, apperrors.New(apperrors.ErrNotFound, "unknown store"))
		return
	}

	payload, id, err := readPayload(r, "")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.store.Put(storeName, id, payload, true)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}

	if _, err := h.queue.Enqueue(models.ActionCreate, storeName, id, payload, priorityFrom(r)); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

// HandleUpdate handles PUT /api/v1/{store}/{id}.
func (h *EntityHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	storeName, ok := storeParam(r)
	if !ok {
		respondError(w, http.StatusNotFound, apperrors.New(apperrors.ErrNotFound, "unknown store"))
		return
	}
	id := models.UUID(chi.URLParam(r, "id"))

	if _, err := h.store.Get(storeName, id); err != nil {
		respondError(w, statusFor(err), err)
		return
	}

	payload, _, err := readPayload(r, id)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.store.Put(storeName, id, payload, true)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}

	if _, err := h.queue.Enqueue(models.ActionUpdate, storeName, id, payload, priorityFrom(r)); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// HandleDelete handles DELETE /api/v1/{store}/{id}.
func (h *EntityHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	storeName, ok := storeParam(r)
	if !ok {
		respondError(w, http.StatusNotFound, apperrors.New(apperrors.ErrNotFound, "unknown store"))
		return
	}
	id := models.UUID(chi.URLParam(r, "id"))

	if _, err := h.store.Get(storeName, id); err != nil {
		respondError(w, statusFor(err), err)
		return
	}

	if err := h.store.Delete(storeName, id); err != nil {
		respondError(w, statusFor(err), err)
		return
	}

	// The deletion must also propagate remotely; a create that never
	// left the queue cancels out instead.
	if _, err := h.queue.Enqueue(models.ActionDelete, storeName, id, nil, priorityFrom(r)); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

// HandleSearch handles GET /api/v1/{store}/search?field=&q=.
// The q parameter supports * and ? wildcards on indexed fields.
func (h *EntityHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	storeName, ok := storeParam(r)
	if !ok {
		respondError(w, http.StatusNotFound, apperrors.New(apperrors.ErrNotFound, "unknown store"))
		return
	}

	field := r.URL.Query().Get("field")
	pattern := r.URL.Query().Get("q")
	if field == "" || pattern == "" {
		respondError(w, http.StatusBadRequest,
			apperrors.New(apperrors.ErrInvalid, "field and q query parameters are required"))
		return
	}

	records, err := h.store.Search(storeName, field, pattern)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": records,
		"count": len(records),
	})
}

// readPayload decodes the request body, ensuring the payload carries a
// record id. A generated id is injected on create when absent.
func readPayload(r *http.Request, forceID models.UUID) (json.RawMessage, models.UUID, error) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.ErrInvalid, "failed to read request body", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, "", apperrors.Wrap(apperrors.ErrInvalid, "request body is not a JSON object", err)
	}

	id := forceID
	if id == "" {
		if s, ok := fields["id"].(string); ok && s != "" {
			id = models.UUID(s)
		} else {
			id = models.UUID(uuid.New())
		}
	}
	fields["id"] = string(id)

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.ErrInternal, "failed to re-encode payload", err)
	}
	return payload, id, nil
}
