package resolver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/instabets/marketd/internal/domain"
	"github.com/instabets/marketd/internal/platform/compute"
)

type fakeOracle struct {
	response string
	err      error
}

func (o *fakeOracle) Complete(ctx context.Context, msgs []compute.ChatMessage) (string, error) {
	return o.response, o.err
}

func (o *fakeOracle) Model() string { return "test-model" }

type fakeLedger struct {
	mu      sync.Mutex
	markets map[uint64]domain.Market

	resolveCalls int
	lastOutcome  bool
}

func newFakeLedger(markets ...domain.Market) *fakeLedger {
	l := &fakeLedger{markets: make(map[uint64]domain.Market)}
	for _, m := range markets {
		l.markets[m.ID] = m
	}
	return l
}

func (l *fakeLedger) CreateMarket(ctx context.Context, question string, deadline int64, addr domain.ContentAddress) (uint64, string, error) {
	return 0, "", errors.New("not implemented")
}

func (l *fakeLedger) PlaceBet(ctx context.Context, marketID uint64, betYes bool, amountWei *big.Int) (string, error) {
	return "", errors.New("not implemented")
}

func (l *fakeLedger) ResolveMarket(ctx context.Context, marketID uint64, outcomeYes bool) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.markets[marketID]
	if !ok {
		return "", &domain.LedgerError{Op: "resolveMarket", Err: domain.ErrNotFound}
	}
	if !m.Pending() {
		return "", &domain.LedgerError{Op: "resolveMarket", Err: domain.ErrAlreadyResolved}
	}
	m.Outcome = domain.OutcomeFromBool(outcomeYes)
	l.markets[marketID] = m
	l.resolveCalls++
	l.lastOutcome = outcomeYes
	return "0xresolved", nil
}

func (l *fakeLedger) GetMarket(ctx context.Context, marketID uint64) (domain.Market, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.markets[marketID]
	if !ok {
		return domain.Market{}, &domain.LedgerError{Op: "getMarket", Err: domain.ErrNotFound}
	}
	return m, nil
}

func (l *fakeLedger) GetMarketCount(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.markets)), nil
}

type fakeContent struct {
	mu      sync.Mutex
	uploads int
	err     error
}

func (c *fakeContent) Upload(ctx context.Context, payload []byte) (domain.ContentAddress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return domain.ZeroContentAddress, c.err
	}
	c.uploads++
	var addr domain.ContentAddress
	addr[0] = byte(c.uploads)
	return addr, nil
}

func (c *fakeContent) Download(ctx context.Context, addr domain.ContentAddress) ([]byte, error) {
	return nil, domain.ErrNotFound
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pendingMarket(id uint64) domain.Market {
	return domain.Market{
		ID:       id,
		Question: "Will the launch happen this week?",
		Deadline: 1767225600,
		Outcome:  domain.OutcomePending,
	}
}

const confidentYes = `{"outcome": true, "confidence": 0.95, "reasoning": "confirmed by two sources", "sources": ["https://example.com/a"]}`

func TestResolveSettlesConfidentVerdict(t *testing.T) {
	market := pendingMarket(7)
	ledger := newFakeLedger(market)
	content := &fakeContent{}
	r := New(&fakeOracle{response: confidentYes}, ledger, content, testLogger())

	v, err := r.Resolve(context.Background(), market, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if v.Gated || v.AlreadySettled {
		t.Fatalf("verdict = %+v, want settled", v)
	}
	if v.Outcome != domain.OutcomeYes {
		t.Fatalf("outcome = %v, want Yes", v.Outcome)
	}
	if v.TxHash != "0xresolved" {
		t.Fatalf("tx hash = %q", v.TxHash)
	}
	if ledger.resolveCalls != 1 {
		t.Fatalf("resolve calls = %d, want 1", ledger.resolveCalls)
	}
	if !ledger.lastOutcome {
		t.Fatal("ledger outcome = No, want Yes")
	}
	if content.uploads != 1 {
		t.Fatalf("evidence uploads = %d, want 1", content.uploads)
	}
	if v.EvidenceRoot.IsZero() {
		t.Fatal("evidence root is zero after successful anchor")
	}
}

func TestResolveGatesLowConfidence(t *testing.T) {
	market := pendingMarket(7)
	ledger := newFakeLedger(market)
	oracle := &fakeOracle{response: `{"outcome": true, "confidence": 0.4, "reasoning": "weak signal", "sources": []}`}
	r := New(oracle, ledger, &fakeContent{}, testLogger())

	v, err := r.Resolve(context.Background(), market, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !v.Gated {
		t.Fatalf("verdict = %+v, want gated", v)
	}
	if ledger.resolveCalls != 0 {
		t.Fatalf("resolve calls = %d, want 0", ledger.resolveCalls)
	}
	got, _ := ledger.GetMarket(context.Background(), 7)
	if !got.Pending() {
		t.Fatalf("market outcome = %v, want Pending", got.Outcome)
	}
}

func TestResolveThresholdBoundary(t *testing.T) {
	// Exactly at the threshold passes the gate.
	market := pendingMarket(7)
	ledger := newFakeLedger(market)
	oracle := &fakeOracle{response: `{"outcome": false, "confidence": 0.7, "reasoning": "borderline", "sources": []}`}
	r := New(oracle, ledger, &fakeContent{}, testLogger())

	v, err := r.Resolve(context.Background(), market, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if v.Gated {
		t.Fatal("confidence equal to threshold was gated")
	}
	if v.Outcome != domain.OutcomeNo {
		t.Fatalf("outcome = %v, want No", v.Outcome)
	}
	if ledger.resolveCalls != 1 {
		t.Fatalf("resolve calls = %d, want 1", ledger.resolveCalls)
	}
}

func TestResolveSkipsConcurrentlySettledMarket(t *testing.T) {
	// The caller holds a stale Pending snapshot; the ledger already says Yes.
	stale := pendingMarket(7)
	settled := stale
	settled.Outcome = domain.OutcomeYes
	ledger := newFakeLedger(settled)
	r := New(&fakeOracle{response: confidentYes}, ledger, &fakeContent{}, testLogger())

	v, err := r.Resolve(context.Background(), stale, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !v.AlreadySettled {
		t.Fatalf("verdict = %+v, want already settled", v)
	}
	if v.Outcome != domain.OutcomeYes {
		t.Fatalf("outcome = %v, want Yes", v.Outcome)
	}
	if ledger.resolveCalls != 0 {
		t.Fatalf("resolve calls = %d, want 0", ledger.resolveCalls)
	}
}

func TestResolveUnparsableOracleResponse(t *testing.T) {
	market := pendingMarket(7)
	ledger := newFakeLedger(market)
	r := New(&fakeOracle{response: "I think it depends."}, ledger, &fakeContent{}, testLogger())

	_, err := r.Resolve(context.Background(), market, nil)
	if !errors.Is(err, domain.ErrUnparsableOracleResponse) {
		t.Fatalf("error = %v, want ErrUnparsableOracleResponse", err)
	}
	if ledger.resolveCalls != 0 {
		t.Fatalf("resolve calls = %d, want 0", ledger.resolveCalls)
	}
}

func TestResolveEvidenceFailureIsNonFatal(t *testing.T) {
	market := pendingMarket(7)
	ledger := newFakeLedger(market)
	content := &fakeContent{err: errors.New("storage down")}
	r := New(&fakeOracle{response: confidentYes}, ledger, content, testLogger())

	v, err := r.Resolve(context.Background(), market, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !v.EvidenceRoot.IsZero() {
		t.Fatal("evidence root set despite anchoring failure")
	}
	if ledger.resolveCalls != 1 {
		t.Fatalf("resolve calls = %d, want 1", ledger.resolveCalls)
	}
}

func TestResolveCustomThreshold(t *testing.T) {
	market := pendingMarket(7)
	ledger := newFakeLedger(market)
	oracle := &fakeOracle{response: `{"outcome": true, "confidence": 0.8, "reasoning": "likely", "sources": []}`}
	r := New(oracle, ledger, &fakeContent{}, testLogger(), WithThreshold(0.9))

	v, err := r.Resolve(context.Background(), market, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !v.Gated {
		t.Fatal("0.8 against a 0.9 threshold was not gated")
	}
}
