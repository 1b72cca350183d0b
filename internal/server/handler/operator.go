package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/shopspring/decimal"
)

// Settler runs settlement operations on demand.
type Settler interface {
	RunCycle(ctx context.Context) (domain.CycleReport, error)
	SettleRound(ctx context.Context, roundID string, actualClose decimal.Decimal) (domain.SettlementReport, error)
	RetryPayouts(ctx context.Context, roundID string) (domain.DispatchReport, error)
}

// OperatorHandler serves the operator triggers. Every trigger is safe to
// repeat and to run alongside the scheduler.
type OperatorHandler struct {
	settler Settler
	logger  *slog.Logger
}

func NewOperatorHandler(settler Settler, logger *slog.Logger) *OperatorHandler {
	return &OperatorHandler{settler: settler, logger: logger}
}

type cycleResponse struct {
	OK     bool               `json:"ok"`
	Report domain.CycleReport `json:"report"`
}

// RunCycle runs one full invocation synchronously.
// POST /api/cycles
func (h *OperatorHandler) RunCycle(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: cycle requested")
	report, err := h.settler.RunCycle(r.Context())
	if err != nil {
		failRequest(w, r, h.logger, err, "cycle failed")
		return
	}
	writeJSON(w, http.StatusOK, cycleResponse{OK: report.OK(), Report: report})
}

type resolveRequest struct {
	ActualClose *decimal.Decimal `json:"actual_close"`
}

// ResolveRound settles a round with an operator-supplied close. Repeating
// the call after a partial failure completes the remaining steps.
// POST /api/rounds/{id}/resolve  {"actual_close": "0.3155"}
func (h *OperatorHandler) ResolveRound(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ActualClose == nil {
		writeError(w, http.StatusBadRequest, "actual_close is required")
		return
	}

	report, err := h.settler.SettleRound(r.Context(), id, *req.ActualClose)
	if err != nil {
		failRequest(w, r, h.logger, err, "resolve failed", slog.String("round_id", id))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RetryPayouts re-dispatches a round's failed disbursements.
// POST /api/rounds/{id}/disbursements/retry
func (h *OperatorHandler) RetryPayouts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	report, err := h.settler.RetryPayouts(r.Context(), id)
	if err != nil {
		failRequest(w, r, h.logger, err, "retry failed", slog.String("round_id", id))
		return
	}
	writeJSON(w, http.StatusOK, report)
}
