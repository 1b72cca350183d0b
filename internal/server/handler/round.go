package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

// RoundReader is the read side of the round store.
type RoundReader interface {
	GetByID(ctx context.Context, id string) (domain.Round, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Round, error)
}

// PredictionLister lists a round's prediction records.
type PredictionLister interface {
	ListByRound(ctx context.Context, roundID string) ([]domain.PredictionRecord, error)
}

// BidLister lists a round's bids.
type BidLister interface {
	ListByRound(ctx context.Context, roundID string) ([]domain.Bid, error)
}

// DisbursementLister lists a round's payouts.
type DisbursementLister interface {
	ListByRound(ctx context.Context, roundID string) ([]domain.Disbursement, error)
}

// ReportLoader reads archived settlement reports.
type ReportLoader interface {
	Load(ctx context.Context, roundID string) (domain.SettlementReport, error)
}

// RoundHandler serves the read-only round endpoints.
type RoundHandler struct {
	rounds        RoundReader
	predictions   PredictionLister
	bids          BidLister
	disbursements DisbursementLister
	reports       ReportLoader
	logger        *slog.Logger
}

// NewRoundHandler creates a RoundHandler. reports may be nil when archiving
// is disabled.
func NewRoundHandler(rounds RoundReader, predictions PredictionLister, bids BidLister,
	disbursements DisbursementLister, reports ReportLoader, logger *slog.Logger) *RoundHandler {
	return &RoundHandler{
		rounds:        rounds,
		predictions:   predictions,
		bids:          bids,
		disbursements: disbursements,
		reports:       reports,
		logger:        logger,
	}
}

type listRoundsResponse struct {
	Rounds []domain.Round `json:"rounds"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ListRounds returns rounds, newest first.
// GET /api/rounds?limit=50&offset=0
func (h *RoundHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	rounds, err := h.rounds.List(r.Context(), opts)
	if err != nil {
		failRequest(w, r, h.logger, err, "failed to list rounds")
		return
	}
	if rounds == nil {
		rounds = []domain.Round{}
	}
	writeJSON(w, http.StatusOK, listRoundsResponse{Rounds: rounds, Limit: opts.Limit, Offset: opts.Offset})
}

type roundDetail struct {
	Round         domain.Round              `json:"round"`
	Predictions   []domain.PredictionRecord `json:"predictions"`
	Bids          []domain.Bid              `json:"bids"`
	Disbursements []domain.Disbursement     `json:"disbursements"`
}

// GetRound returns a round with its predictions, bids and disbursements.
// GET /api/rounds/{id}
func (h *RoundHandler) GetRound(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()
	attr := slog.String("round_id", id)

	round, err := h.rounds.GetByID(ctx, id)
	if err != nil {
		failRequest(w, r, h.logger, err, "failed to get round", attr)
		return
	}
	out := roundDetail{Round: round}
	if out.Predictions, err = h.predictions.ListByRound(ctx, id); err != nil {
		failRequest(w, r, h.logger, err, "failed to list predictions", attr)
		return
	}
	if out.Bids, err = h.bids.ListByRound(ctx, id); err != nil {
		failRequest(w, r, h.logger, err, "failed to list bids", attr)
		return
	}
	if out.Disbursements, err = h.disbursements.ListByRound(ctx, id); err != nil {
		failRequest(w, r, h.logger, err, "failed to list disbursements", attr)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetReport returns the archived settlement report of a round.
// GET /api/rounds/{id}/report
func (h *RoundHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "report archive is disabled")
		return
	}
	id := r.PathValue("id")
	report, err := h.reports.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		failRequest(w, r, h.logger, err, "failed to load report", slog.String("round_id", id))
		return
	}
	writeJSON(w, http.StatusOK, report)
}
