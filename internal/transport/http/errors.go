package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"certstore/pkg/platform/sentinel"
)

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// writeError centralizes translation of store errors into JSON error
// envelopes. Internal errors omit the description.
func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, sentinel.ErrConflictingUpdate), errors.Is(err, sentinel.ErrDuplicateKey):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, sentinel.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, sentinel.ErrInvalidFilter), errors.Is(err, sentinel.ErrSerialization), errors.Is(err, sentinel.ErrSchema):
		status, code = http.StatusBadRequest, "bad_request"
	case errors.Is(err, sentinel.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, "unavailable"
	}
	resp := errorResponse{Error: code}
	if status != http.StatusInternalServerError {
		resp.Description = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
