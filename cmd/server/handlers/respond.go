// Package handlers provides the REST API handlers of the client app:
// entity CRUD over the local store plus sync introspection. The
// handlers stay thin; all sync behavior lives in the internal packages.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/jjperez22/the-ERP-sub000/internal/errors"
)

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  string(apperrors.CodeOf(err)),
	})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid JSON body", err)
	}
	return nil
}

func statusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrNotFound, apperrors.ErrActionNotFound:
		return http.StatusNotFound
	case apperrors.ErrInvalid, apperrors.ErrValidation, apperrors.ErrRecordDeleted:
		return http.StatusBadRequest
	case apperrors.ErrQueueFull:
		return http.StatusTooManyRequests
	case apperrors.ErrSyncInProgress:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
