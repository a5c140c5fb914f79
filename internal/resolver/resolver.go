// Package resolver is the confidence-gated resolution pipeline: it asks the
// reasoning oracle for a verdict on a pending market, anchors the evidence,
// and writes the outcome to the ledger exactly once.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/instabets/marketd/internal/domain"
	"github.com/instabets/marketd/internal/platform/compute"
)

// DefaultThreshold is the confidence below which a verdict is not applied
// on-chain.
const DefaultThreshold = 0.7

// Oracle is the completion surface the pipeline needs; *compute.Client
// implements it.
type Oracle interface {
	Complete(ctx context.Context, messages []compute.ChatMessage) (string, error)
	Model() string
}

// Verdict is the terminal state of one resolution attempt. Exactly one of
// three shapes: gated (market stays Pending), already settled (someone else
// won the race), or settled by this call (TxHash set).
type Verdict struct {
	Gated          bool
	AlreadySettled bool
	Outcome        domain.Outcome
	Evidence       domain.ResolutionEvidence
	EvidenceRoot   domain.ContentAddress
	ArchiveKey     string
	TxHash         string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithThreshold overrides the confidence gate.
func WithThreshold(t float64) Option { return func(r *Resolver) { r.threshold = t } }

// WithArchive adds an off-network blob copy of every evidence object.
func WithArchive(w domain.BlobWriter) Option { return func(r *Resolver) { r.archive = w } }

// WithAuditLog records settlements in the given store.
func WithAuditLog(s domain.ResolutionStore) Option { return func(r *Resolver) { r.records = s } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

// WithGatedPersistence controls whether evidence for gated verdicts is
// anchored too. On by default; gated evidence is the audit trail for why a
// market stayed Pending.
func WithGatedPersistence(enabled bool) Option {
	return func(r *Resolver) { r.persistGated = enabled }
}

// Resolver runs the resolution pipeline for one market at a time. It is safe
// for concurrent use across markets.
type Resolver struct {
	oracle  Oracle
	ledger  domain.Ledger
	content domain.ContentStore
	archive domain.BlobWriter
	records domain.ResolutionStore
	logger  *slog.Logger

	threshold    float64
	persistGated bool
	now          func() time.Time
}

// New wires a resolver over the oracle, ledger, and content store.
func New(oracle Oracle, ledger domain.Ledger, content domain.ContentStore, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		oracle:       oracle,
		ledger:       ledger,
		content:      content,
		logger:       logger.With("component", "resolver"),
		threshold:    DefaultThreshold,
		persistGated: true,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve runs the full pipeline for one market. A verdict below the
// confidence gate comes back with Gated set and no error; a market another
// trigger settled first comes back with AlreadySettled and the settled
// outcome. Oracle failures and ledger failures are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, market domain.Market, meta *domain.MarketMetadata) (Verdict, error) {
	if !market.Pending() {
		return Verdict{AlreadySettled: true, Outcome: market.Outcome}, nil
	}

	prompt := buildPrompt(market, meta)
	raw, err := r.oracle.Complete(ctx, []compute.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("resolver: oracle call for market %d: %w", market.ID, err)
	}

	result, err := parseVerdict(raw)
	if err != nil {
		return Verdict{}, fmt.Errorf("resolver: market %d: %w", market.ID, err)
	}
	result.ResolvedAt = r.now().UTC()

	evidence := domain.ResolutionEvidence{
		MarketID: market.ID,
		Question: market.Question,
		Result:   result,
		Model:    r.oracle.Model(),
		Prompt:   prompt,
	}

	if result.Confidence < r.threshold {
		r.logger.Info("verdict gated",
			"market_id", market.ID,
			"confidence", result.Confidence,
			"threshold", r.threshold)
		var root domain.ContentAddress
		var key string
		if r.persistGated {
			root, key = r.persistEvidence(ctx, evidence)
		}
		return Verdict{Gated: true, Evidence: evidence, EvidenceRoot: root, ArchiveKey: key}, nil
	}

	root, key := r.persistEvidence(ctx, evidence)

	// Re-read right before the state-changing call; the ledger is the
	// serialization point and a concurrent trigger may have won.
	current, err := r.ledger.GetMarket(ctx, market.ID)
	if err != nil {
		return Verdict{}, fmt.Errorf("resolver: re-read market %d: %w", market.ID, err)
	}
	if !current.Pending() {
		r.logger.Info("market settled by concurrent trigger",
			"market_id", market.ID, "outcome", current.Outcome)
		return Verdict{AlreadySettled: true, Outcome: current.Outcome, Evidence: evidence, EvidenceRoot: root, ArchiveKey: key}, nil
	}

	txHash, err := r.ledger.ResolveMarket(ctx, market.ID, result.Outcome)
	if err != nil {
		return Verdict{}, fmt.Errorf("resolver: resolve market %d: %w", market.ID, err)
	}
	outcome := domain.OutcomeFromBool(result.Outcome)
	r.logger.Info("market resolved",
		"market_id", market.ID,
		"outcome", outcome,
		"confidence", result.Confidence,
		"tx_hash", txHash)

	r.recordSettlement(ctx, domain.ResolutionRecord{
		MarketID:     market.ID,
		Question:     market.Question,
		Outcome:      outcome,
		Confidence:   result.Confidence,
		Trigger:      domain.TriggerOracle,
		EvidenceRoot: root,
		ArchiveKey:   key,
		TxHash:       txHash,
		Model:        evidence.Model,
		ResolvedAt:   result.ResolvedAt,
	})

	return Verdict{Outcome: outcome, Evidence: evidence, EvidenceRoot: root, ArchiveKey: key, TxHash: txHash}, nil
}

// persistEvidence anchors the evidence object on the content store and, when
// configured, archives a blob copy. Both are best-effort: failures are
// logged and the settlement proceeds with a zero root.
func (r *Resolver) persistEvidence(ctx context.Context, ev domain.ResolutionEvidence) (domain.ContentAddress, string) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("encode evidence", "market_id", ev.MarketID, "error", err)
		return domain.ZeroContentAddress, ""
	}

	root := domain.ZeroContentAddress
	if r.content != nil {
		root, err = r.content.Upload(ctx, payload)
		if err != nil {
			r.logger.Error("anchor evidence", "market_id", ev.MarketID, "error", err)
			root = domain.ZeroContentAddress
		}
	}

	var key string
	if r.archive != nil {
		key = fmt.Sprintf("evidence/market-%d/%s.json", ev.MarketID, uuid.NewString())
		if err := r.archive.Put(ctx, key, strings.NewReader(string(payload)), "application/json"); err != nil {
			r.logger.Error("archive evidence", "market_id", ev.MarketID, "key", key, "error", err)
			key = ""
		}
	}
	return root, key
}

// recordSettlement writes the audit row, best-effort.
func (r *Resolver) recordSettlement(ctx context.Context, rec domain.ResolutionRecord) {
	if r.records == nil {
		return
	}
	if err := r.records.Insert(ctx, rec); err != nil {
		r.logger.Error("record settlement", "market_id", rec.MarketID, "error", err)
	}
}
