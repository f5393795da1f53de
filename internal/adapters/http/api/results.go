package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/okian/speedsync/internal/adapters/repository"
	"github.com/okian/speedsync/internal/domain/model"
	"github.com/okian/speedsync/pkg/logger"
)

// ClientIDHeader identifies the pushing client. It is logged, never trusted.
const ClientIDHeader = "X-Client-ID"

// maxBodyBytes bounds a push body; 10k records fit comfortably.
const maxBodyBytes = 8 << 20

var errExpectedArray = errors.New("Expected array of results") //nolint:stylecheck // client-facing text

// pushItem mirrors one element of the POST /results body. Pointers tell a
// missing field from a zero one.
type pushItem struct {
	RunnerNumber *model.Bib `json:"runner_number"`
	FinishTime   *int64     `json:"finish_time"`
	RecordedAt   string     `json:"recorded_at"`
}

func (p pushItem) toRecord(i int) (model.FinishRecord, error) {
	switch {
	case p.RunnerNumber == nil || strings.TrimSpace(string(*p.RunnerNumber)) == "":
		return model.FinishRecord{}, fmt.Errorf("item %d: missing runner_number", i)
	case p.FinishTime == nil:
		return model.FinishRecord{}, fmt.Errorf("item %d: missing finish_time", i)
	case *p.FinishTime < 0:
		return model.FinishRecord{}, fmt.Errorf("item %d: finish_time must not be negative", i)
	}
	return model.FinishRecord{
		RunnerNumber: string(*p.RunnerNumber),
		FinishTime:   *p.FinishTime,
		RecordedAt:   p.RecordedAt,
	}, nil
}

type pushResponse struct {
	Success  bool `json:"success"`
	Inserted int  `json:"inserted"`
}

type clearResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ResultsHandler serves the /results collection.
type ResultsHandler struct {
	deps         Dependencies
	maxBatchSize int
	log          logger.Logger
}

// NewResultsHandler creates a new results handler.
func NewResultsHandler(deps Dependencies, maxBatchSize int, log logger.Logger) *ResultsHandler {
	return &ResultsHandler{deps: deps, maxBatchSize: maxBatchSize, log: log}
}

// HandleList handles GET /results: every record ordered by finish time.
func (h *ResultsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_results"
	records, err := h.deps.ListAll(r.Context())
	if err != nil {
		h.log.Error(r.Context(), "list results failed", logger.String("op", op), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// HandlePush handles POST /results with a JSON array of finish records.
// Records already stored are skipped; inserted counts only new rows.
func (h *ResultsHandler) HandlePush(w http.ResponseWriter, r *http.Request) {
	const op = "api.push_results"
	ctx := r.Context()

	records, err := h.decodePush(w, r)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	inserted, err := h.deps.InsertBatch(ctx, records)
	if errors.Is(err, repository.ErrInvalidRecord) {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err != nil {
		h.log.Error(ctx, "insert batch failed",
			logger.String("op", op),
			logger.String("client_id", r.Header.Get(ClientIDHeader)),
			logger.Int("records", len(records)),
			logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}

	h.log.Info(ctx, "results received",
		logger.String("client_id", r.Header.Get(ClientIDHeader)),
		logger.Int("records", len(records)),
		logger.Int("inserted", inserted))
	writeJSON(w, http.StatusOK, pushResponse{Success: true, Inserted: inserted})
}

func (h *ResultsHandler) decodePush(w http.ResponseWriter, r *http.Request) ([]model.FinishRecord, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errExpectedArray
	}

	var items []pushItem
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("malformed results: %w", err)
	}
	if len(items) > h.maxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds the limit of %d results", len(items), h.maxBatchSize)
	}

	records := make([]model.FinishRecord, 0, len(items))
	for i, it := range items {
		rec, err := it.toRecord(i)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// HandleClear handles DELETE /results.
func (h *ResultsHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	const op = "api.clear_results"
	if err := h.deps.DeleteAll(r.Context()); err != nil {
		h.log.Error(r.Context(), "clear results failed", logger.String("op", op), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	h.log.Warn(r.Context(), "all server results cleared")
	writeJSON(w, http.StatusOK, clearResponse{Success: true, Message: "All server results cleared"})
}
