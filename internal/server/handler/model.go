package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/alanyoungcy/modelarena/internal/odds"
)

// HistoryReader returns a model's graded records, newest first.
type HistoryReader interface {
	ListResolvedByModel(ctx context.Context, modelName string, limit int) ([]domain.PredictionRecord, error)
}

// Quoter prices a model from its current record.
type Quoter interface {
	Quote(ctx context.Context, modelName string) (odds.Quote, error)
}

// ModelHandler serves per-model accuracy history.
type ModelHandler struct {
	history HistoryReader
	quoter  Quoter
	logger  *slog.Logger
}

func NewModelHandler(history HistoryReader, quoter Quoter, logger *slog.Logger) *ModelHandler {
	return &ModelHandler{history: history, quoter: quoter, logger: logger}
}

type modelHistoryResponse struct {
	Model   string                    `json:"model"`
	Quote   odds.Quote                `json:"quote"`
	Records []domain.PredictionRecord `json:"records"`
}

// History returns the model's graded records and the multiplier it would
// get for a round opened now.
// GET /api/models/{name}/history?limit=50
func (h *ModelHandler) History(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	attr := slog.String("model", name)
	opts := parseListOpts(r)

	recs, err := h.history.ListResolvedByModel(r.Context(), name, opts.Limit)
	if err != nil {
		failRequest(w, r, h.logger, err, "failed to list model history", attr)
		return
	}
	quote, err := h.quoter.Quote(r.Context(), name)
	if err != nil {
		failRequest(w, r, h.logger, err, "failed to quote model", attr)
		return
	}
	if recs == nil {
		recs = []domain.PredictionRecord{}
	}
	writeJSON(w, http.StatusOK, modelHistoryResponse{Model: name, Quote: quote, Records: recs})
}
