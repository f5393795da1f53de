package api

import (
	"net/http"

	"github.com/okian/speedsync/pkg/logger"
)

type syncStatusResponse struct {
	RecordCount int     `json:"recordCount"`
	LastRecord  *string `json:"lastRecord"` // null when nothing is stored
}

// StatusHandler serves the sync debug view.
type StatusHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(deps Dependencies, log logger.Logger) *StatusHandler {
	return &StatusHandler{deps: deps, log: log}
}

// HandleSyncStatus handles GET /api/debug/sync-status.
func (h *StatusHandler) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.sync_status"
	st, err := h.deps.Stats(r.Context())
	if err != nil {
		h.log.Error(r.Context(), "sync status failed", logger.String("op", op), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	resp := syncStatusResponse{RecordCount: st.RecordCount}
	if st.LastRecord != "" {
		resp.LastRecord = &st.LastRecord
	}
	writeJSON(w, http.StatusOK, resp)
}
