package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/instabets/marketd/internal/domain"
	"github.com/instabets/marketd/internal/resolver"
	"github.com/instabets/marketd/internal/service"
)

// MarketService defines the methods the market handler requires from the
// service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, req service.CreateMarketRequest) (domain.Market, error)
	CreateLiveMarket(ctx context.Context, req service.CreateMarketRequest) (domain.Market, string, error)
	GetMarketDetail(ctx context.Context, marketID uint64) (service.MarketDetail, error)
	ListMarkets(ctx context.Context) ([]domain.Market, error)
	PlaceBet(ctx context.Context, marketID uint64, betYes bool, amountWei *big.Int) (string, error)
	Resolve(ctx context.Context, marketID uint64) (resolver.Verdict, error)
	GetResolution(ctx context.Context, marketID uint64) (domain.ResolutionRecord, error)
}

// MarketHandler serves the market lifecycle HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// createMarketRequest is the JSON body for both creation endpoints.
type createMarketRequest struct {
	Question           string   `json:"question"`
	Description        string   `json:"description"`
	ResolutionCriteria string   `json:"resolutionCriteria"`
	SourceURLs         []string `json:"sourceUrls"`
	Tags               []string `json:"tags"`
	Deadline           int64    `json:"deadline"` // unix seconds

	// Live-market fields, required by POST /markets/live only.
	StreamURL string `json:"streamUrl"`
	Condition string `json:"condition"`
}

func (req createMarketRequest) toService() service.CreateMarketRequest {
	return service.CreateMarketRequest{
		Question:           req.Question,
		Description:        req.Description,
		ResolutionCriteria: req.ResolutionCriteria,
		SourceURLs:         req.SourceURLs,
		Tags:               req.Tags,
		Deadline:           req.Deadline,
		StreamURL:          req.StreamURL,
		Condition:          req.Condition,
	}
}

// CreateMarket creates an oracle-settled market.
// POST /markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateQuestion(req.Question); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateDeadline(req.Deadline, time.Now()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	market, err := h.markets.CreateMarket(r.Context(), req.toService())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create market failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create market")
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

// createLiveMarketResponse pairs the market with its monitor job id.
type createLiveMarketResponse struct {
	Market domain.Market `json:"market"`
	JobID  string        `json:"jobId,omitempty"`
}

// CreateLiveMarket creates a stream-watched market.
// POST /markets/live
func (h *MarketHandler) CreateLiveMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateQuestion(req.Question); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateDeadline(req.Deadline, time.Now()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.StreamURL == "" || req.Condition == "" {
		writeError(w, http.StatusBadRequest, "streamUrl and condition are required")
		return
	}

	market, jobID, err := h.markets.CreateLiveMarket(r.Context(), req.toService())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create live market failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create market")
		return
	}
	writeJSON(w, http.StatusCreated, createLiveMarketResponse{Market: market, JobID: jobID})
}

// ListMarkets returns every market.
// GET /markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.markets.ListMarkets(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": markets,
		"total":   len(markets),
	})
}

// GetMarket returns one market with its anchored metadata.
// GET /markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	detail, err := h.markets.GetMarketDetail(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// placeBetRequest is the JSON body for the bet endpoint. Side must be
// exactly true or false; amounts travel as decimal wei strings.
type placeBetRequest struct {
	BetYes *bool  `json:"betYes"`
	Amount string `json:"amount"`
}

// PlaceBet places a bet on one side of a market.
// POST /markets/{id}/bet
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req placeBetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BetYes == nil {
		writeError(w, http.StatusBadRequest, "betYes is required")
		return
	}
	amount, err := parseWei(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	txHash, err := h.markets.PlaceBet(r.Context(), id, *req.BetYes, amount)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "market not found")
		case errors.Is(err, domain.ErrAlreadyResolved):
			writeError(w, http.StatusConflict, "market already resolved")
		default:
			h.logger.ErrorContext(r.Context(), "handler: place bet failed",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to place bet")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"txHash": txHash})
}

// resolveResponse reports the terminal state of a resolution attempt.
type resolveResponse struct {
	Status     string  `json:"status"` // "resolved", "gated", "already_settled"
	Outcome    string  `json:"outcome,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`
	TxHash     string  `json:"txHash,omitempty"`
}

// Resolve triggers the AI resolution pipeline for a market.
// POST /markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	verdict, err := h.markets.Resolve(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "market not found")
		case errors.Is(err, domain.ErrUnparsableOracleResponse):
			writeError(w, http.StatusBadGateway, "oracle returned an unparsable response")
		default:
			h.logger.ErrorContext(r.Context(), "handler: resolve failed",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to resolve market")
		}
		return
	}

	resp := resolveResponse{
		Confidence: verdict.Evidence.Result.Confidence,
		Reasoning:  verdict.Evidence.Result.Reasoning,
	}
	switch {
	case verdict.Gated:
		resp.Status = "gated"
	case verdict.AlreadySettled:
		resp.Status = "already_settled"
		resp.Outcome = verdict.Outcome.String()
	default:
		resp.Status = "resolved"
		resp.Outcome = verdict.Outcome.String()
		resp.TxHash = verdict.TxHash
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetResolution returns the settlement audit record.
// GET /markets/{id}/resolution
func (h *MarketHandler) GetResolution(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.markets.GetResolution(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no resolution recorded")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get resolution failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get resolution")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
