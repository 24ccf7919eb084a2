package httptransport

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"certstore/pkg/platform/sentinel"
	"certstore/pkg/requestcontext"
)

func isClientError(err error) bool {
	for _, target := range []error{
		sentinel.ErrNotFound,
		sentinel.ErrConflictingUpdate,
		sentinel.ErrDuplicateKey,
		sentinel.ErrInvalidState,
		sentinel.ErrInvalidFilter,
		sentinel.ErrSerialization,
		sentinel.ErrSchema,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeper == nil {
		writeError(w, fmt.Errorf("lifecycle sweep is not configured: %w", sentinel.ErrUnavailable))
		return
	}
	report, err := h.sweeper.RunOnce(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "manual sweep failed",
			"request_id", requestcontext.RequestID(ctx),
			"principal", requestcontext.Principal(ctx),
			"error", err,
		)
		writeError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "manual sweep completed",
		"request_id", requestcontext.RequestID(ctx),
		"principal", requestcontext.Principal(ctx),
		"run_id", report.RunID,
	)
	writeJSON(w, http.StatusOK, report)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := slices.Sorted(maps.Keys(h.checks))
	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}
