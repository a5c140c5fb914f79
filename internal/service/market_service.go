// Package service holds the market lifecycle orchestration between the HTTP
// surface and the ledger, content store, tracker, and resolution pipeline.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/instabets/marketd/internal/domain"
	"github.com/instabets/marketd/internal/resolver"
	"github.com/instabets/marketd/internal/tracker"
)

// MarketResolver runs the resolution pipeline; *resolver.Resolver implements
// it.
type MarketResolver interface {
	Resolve(ctx context.Context, market domain.Market, meta *domain.MarketMetadata) (resolver.Verdict, error)
}

// CreateMarketRequest carries the validated inputs for market creation. The
// live-monitor fields are set only for stream-watched markets.
type CreateMarketRequest struct {
	Question           string
	Description        string
	ResolutionCriteria string
	SourceURLs         []string
	Tags               []string
	Deadline           int64

	StreamURL string
	Condition string
}

// MarketDetail is a market together with its anchored metadata, when the
// metadata could be retrieved.
type MarketDetail struct {
	Market   domain.Market          `json:"market"`
	Metadata *domain.MarketMetadata `json:"metadata,omitempty"`
}

// Option configures a MarketService.
type Option func(*MarketService)

// WithCache adds a read-through market cache.
func WithCache(c domain.MarketCache) Option { return func(s *MarketService) { s.cache = c } }

// WithBus publishes lifecycle events on the given signal bus.
func WithBus(b domain.SignalBus) Option { return func(s *MarketService) { s.bus = b } }

// WithTracker registers live markets with the settlement tracker. webhookURL
// is the public callback address handed to the external monitor.
func WithTracker(t *tracker.Tracker, webhookURL string) Option {
	return func(s *MarketService) {
		s.tracker = t
		s.webhookURL = webhookURL
	}
}

// WithResolver enables operator-triggered AI resolution.
func WithResolver(r MarketResolver) Option { return func(s *MarketService) { s.resolver = r } }

// WithAuditLog serves settlement records from the given store.
func WithAuditLog(r domain.ResolutionStore) Option { return func(s *MarketService) { s.records = r } }

// WithNPCBettor seeds fresh markets with counterparty bets.
func WithNPCBettor(n *NPCBettor) Option { return func(s *MarketService) { s.npc = n } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *MarketService) { s.now = now } }

// MarketService orchestrates the market lifecycle: creation with metadata
// anchoring, reads, bets, and settlement.
type MarketService struct {
	ledger  domain.Ledger
	content domain.ContentStore
	logger  *slog.Logger

	cache      domain.MarketCache
	bus        domain.SignalBus
	tracker    *tracker.Tracker
	resolver   MarketResolver
	records    domain.ResolutionStore
	npc        *NPCBettor
	webhookURL string
	now        func() time.Time
}

// NewMarketService creates a MarketService over the ledger and content
// store.
func NewMarketService(ledger domain.Ledger, content domain.ContentStore, logger *slog.Logger, opts ...Option) *MarketService {
	s := &MarketService{
		ledger:  ledger,
		content: content,
		logger:  logger.With("component", "market_service"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateMarket anchors the market's metadata, creates the market on the
// ledger, and seeds it with counterparty bets. A metadata-anchoring failure
// is non-fatal: creation proceeds with the all-zero sentinel address.
func (s *MarketService) CreateMarket(ctx context.Context, req CreateMarketRequest) (domain.Market, error) {
	meta := domain.MarketMetadata{
		Question:           req.Question,
		Description:        req.Description,
		ResolutionCriteria: req.ResolutionCriteria,
		SourceURLs:         req.SourceURLs,
		Tags:               req.Tags,
		CreatedAt:          s.now().UTC(),
		StreamURL:          req.StreamURL,
		Condition:          req.Condition,
	}

	addr := s.anchorMetadata(ctx, meta)

	marketID, txHash, err := s.ledger.CreateMarket(ctx, req.Question, req.Deadline, addr)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	market := domain.Market{
		ID:             marketID,
		Question:       req.Question,
		Deadline:       req.Deadline,
		YesPool:        new(big.Int),
		NoPool:         new(big.Int),
		Outcome:        domain.OutcomePending,
		ContentAddress: addr,
	}
	s.logger.Info("market created",
		"market_id", marketID, "deadline", req.Deadline, "content_address", addr.Hex(), "tx_hash", txHash)

	s.cacheSet(ctx, market)
	publish(ctx, s.bus, s.logger, Event{
		Type:     ChannelMarketCreated,
		MarketID: marketID,
		Question: req.Question,
		TxHash:   txHash,
	})

	if s.npc != nil {
		// Counterparty bets seed both pools; they run in the background
		// and never delay the creation response.
		go s.npc.PlaceOpeningBets(context.WithoutCancel(ctx), marketID)
	}

	return market, nil
}

// CreateLiveMarket creates a stream-watched market and registers it with the
// external monitor. A monitor failure is logged; the market still exists and
// the deadline sweep will settle it No.
func (s *MarketService) CreateLiveMarket(ctx context.Context, req CreateMarketRequest) (domain.Market, string, error) {
	if req.StreamURL == "" || req.Condition == "" {
		return domain.Market{}, "", fmt.Errorf("market_service: live market requires stream url and condition")
	}

	market, err := s.CreateMarket(ctx, req)
	if err != nil {
		return domain.Market{}, "", err
	}

	if s.tracker == nil {
		s.logger.Warn("live market created without tracker", "market_id", market.ID)
		return market, "", nil
	}
	jobID, err := s.tracker.Watch(ctx, market, req.StreamURL, req.Condition, s.webhookURL)
	if err != nil {
		s.logger.Error("register live monitor", "market_id", market.ID, "error", err)
		return market, "", nil
	}
	return market, jobID, nil
}

// GetMarket returns one market, served from the cache when fresh.
func (s *MarketService) GetMarket(ctx context.Context, marketID uint64) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, marketID); err == nil {
			return m, nil
		}
	}

	m, err := s.ledger.GetMarket(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %d: %w", marketID, err)
	}
	s.cacheSet(ctx, m)
	return m, nil
}

// GetMarketDetail returns a market together with its anchored metadata. A
// metadata download failure degrades to the bare market.
func (s *MarketService) GetMarketDetail(ctx context.Context, marketID uint64) (MarketDetail, error) {
	market, err := s.GetMarket(ctx, marketID)
	if err != nil {
		return MarketDetail{}, err
	}

	detail := MarketDetail{Market: market}
	if !market.ContentAddress.IsZero() && s.content != nil {
		payload, err := s.content.Download(ctx, market.ContentAddress)
		if err != nil {
			s.logger.Warn("download metadata",
				"market_id", marketID, "content_address", market.ContentAddress.Hex(), "error", err)
			return detail, nil
		}
		var meta domain.MarketMetadata
		if err := json.Unmarshal(payload, &meta); err != nil {
			s.logger.Warn("decode metadata", "market_id", marketID, "error", err)
			return detail, nil
		}
		detail.Metadata = &meta
	}
	return detail, nil
}

// ListMarkets returns every market on the ledger, lowest id first. Markets
// that fail to load individually are skipped.
func (s *MarketService) ListMarkets(ctx context.Context) ([]domain.Market, error) {
	count, err := s.ledger.GetMarketCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service: count: %w", err)
	}

	markets := make([]domain.Market, 0, count)
	for id := uint64(1); id <= count; id++ {
		m, err := s.GetMarket(ctx, id)
		if err != nil {
			s.logger.Warn("skip unreadable market", "market_id", id, "error", err)
			continue
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// PlaceBet places a bet on one side of a pending market and returns the
// transaction hash.
func (s *MarketService) PlaceBet(ctx context.Context, marketID uint64, betYes bool, amountWei *big.Int) (string, error) {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return "", fmt.Errorf("market_service: bet amount must be positive")
	}

	market, err := s.GetMarket(ctx, marketID)
	if err != nil {
		return "", err
	}
	if !market.Pending() {
		return "", fmt.Errorf("market_service: market %d: %w", marketID, domain.ErrAlreadyResolved)
	}
	if s.now().Unix() >= market.Deadline {
		return "", fmt.Errorf("market_service: market %d deadline passed", marketID)
	}

	txHash, err := s.ledger.PlaceBet(ctx, marketID, betYes, amountWei)
	if err != nil {
		return "", fmt.Errorf("market_service: bet on %d: %w", marketID, err)
	}

	s.cacheInvalidate(ctx, marketID)
	side := "no"
	if betYes {
		side = "yes"
	}
	publish(ctx, s.bus, s.logger, Event{
		Type:     ChannelBetPlaced,
		MarketID: marketID,
		Side:     side,
		Amount:   amountWei.String(),
		TxHash:   txHash,
	})
	return txHash, nil
}

// Resolve runs the AI resolution pipeline for one market. The pipeline reads
// the ledger directly; the cache is bypassed so the confidence gate and the
// settlement race see current state.
func (s *MarketService) Resolve(ctx context.Context, marketID uint64) (resolver.Verdict, error) {
	if s.resolver == nil {
		return resolver.Verdict{}, fmt.Errorf("market_service: no resolver configured")
	}

	market, err := s.ledger.GetMarket(ctx, marketID)
	if err != nil {
		return resolver.Verdict{}, fmt.Errorf("market_service: get %d: %w", marketID, err)
	}

	var meta *domain.MarketMetadata
	if detail, err := s.GetMarketDetail(ctx, marketID); err == nil {
		meta = detail.Metadata
	}

	verdict, err := s.resolver.Resolve(ctx, market, meta)
	if err != nil {
		return resolver.Verdict{}, err
	}

	if !verdict.Gated && !verdict.AlreadySettled {
		s.cacheInvalidate(ctx, marketID)
		publish(ctx, s.bus, s.logger, Event{
			Type:     ChannelMarketResolved,
			MarketID: marketID,
			Outcome:  verdict.Outcome.String(),
			TxHash:   verdict.TxHash,
		})
	}
	return verdict, nil
}

// GetResolution returns the settlement audit record for a market.
func (s *MarketService) GetResolution(ctx context.Context, marketID uint64) (domain.ResolutionRecord, error) {
	if s.records == nil {
		return domain.ResolutionRecord{}, domain.ErrNotFound
	}
	rec, err := s.records.GetByMarket(ctx, marketID)
	if err != nil {
		return domain.ResolutionRecord{}, fmt.Errorf("market_service: resolution for %d: %w", marketID, err)
	}
	return rec, nil
}

// anchorMetadata uploads the metadata document to the content store,
// best-effort.
func (s *MarketService) anchorMetadata(ctx context.Context, meta domain.MarketMetadata) domain.ContentAddress {
	if s.content == nil {
		return domain.ZeroContentAddress
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		s.logger.Error("encode metadata", "question", meta.Question, "error", err)
		return domain.ZeroContentAddress
	}
	addr, err := s.content.Upload(ctx, payload)
	if err != nil {
		s.logger.Error("anchor metadata", "question", meta.Question, "error", err)
		return domain.ZeroContentAddress
	}
	return addr
}

func (s *MarketService) cacheSet(ctx context.Context, m domain.Market) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.Warn("cache set", "market_id", m.ID, "error", err)
	}
}

func (s *MarketService) cacheInvalidate(ctx context.Context, marketID uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, marketID); err != nil {
		s.logger.Warn("cache invalidate", "market_id", marketID, "error", err)
	}
}
