package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/speedsync/internal/adapters/repository"
	"github.com/okian/speedsync/pkg/logger"
)

// adminRecord is the camelCase view used by the admin page.
type adminRecord struct {
	ID           int64  `json:"id"`
	RunnerNumber string `json:"runnerNumber"`
	FinishTime   int64  `json:"finishTime"`
	RecordedAt   string `json:"recordedAt"`
}

type adminListResponse struct {
	Success bool          `json:"success"`
	Data    []adminRecord `json:"data"`
}

type deleteResponse struct {
	Success bool  `json:"success"`
	Deleted int64 `json:"deleted"`
}

// AdminHandler serves the admin result views.
type AdminHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps Dependencies, log logger.Logger) *AdminHandler {
	return &AdminHandler{deps: deps, log: log}
}

// HandleList handles GET /api/admin/results.
func (h *AdminHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_results"
	records, err := h.deps.ListAll(r.Context())
	if err != nil {
		h.log.Error(r.Context(), "admin results failed", logger.String("op", op), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	data := make([]adminRecord, 0, len(records))
	for _, rec := range records {
		data = append(data, adminRecord{
			ID:           rec.ID,
			RunnerNumber: rec.RunnerNumber,
			FinishTime:   rec.FinishTime,
			RecordedAt:   rec.RecordedAt,
		})
	}
	writeJSON(w, http.StatusOK, adminListResponse{Success: true, Data: data})
}

// HandleDelete handles DELETE /api/results/{id}.
func (h *AdminHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_result"
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("id must be an integer")))
		return
	}

	deleted, err := h.deps.DeleteByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
		return
	}
	if err != nil {
		h.log.Error(r.Context(), "delete result failed", logger.Int64("id", id), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Success: true, Deleted: deleted})
}
