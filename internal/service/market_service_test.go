package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/instabets/marketd/internal/domain"
)

type fakeLedger struct {
	mu      sync.Mutex
	markets map[uint64]domain.Market
	nextID  uint64

	betCalls int
	getErrs  map[uint64]error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{markets: make(map[uint64]domain.Market), getErrs: make(map[uint64]error)}
}

func (l *fakeLedger) CreateMarket(ctx context.Context, question string, deadline int64, addr domain.ContentAddress) (uint64, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	l.markets[l.nextID] = domain.Market{
		ID:             l.nextID,
		Question:       question,
		Deadline:       deadline,
		YesPool:        new(big.Int),
		NoPool:         new(big.Int),
		Outcome:        domain.OutcomePending,
		ContentAddress: addr,
	}
	return l.nextID, "0xcreate", nil
}

func (l *fakeLedger) PlaceBet(ctx context.Context, marketID uint64, betYes bool, amountWei *big.Int) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.markets[marketID]
	if !ok {
		return "", &domain.LedgerError{Op: "placeBet", Err: domain.ErrNotFound}
	}
	if betYes {
		m.YesPool = new(big.Int).Add(m.YesPool, amountWei)
	} else {
		m.NoPool = new(big.Int).Add(m.NoPool, amountWei)
	}
	l.markets[marketID] = m
	l.betCalls++
	return "0xbet", nil
}

func (l *fakeLedger) ResolveMarket(ctx context.Context, marketID uint64, outcomeYes bool) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.markets[marketID]
	m.Outcome = domain.OutcomeFromBool(outcomeYes)
	l.markets[marketID] = m
	return "0xresolve", nil
}

func (l *fakeLedger) GetMarket(ctx context.Context, marketID uint64) (domain.Market, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.getErrs[marketID]; err != nil {
		return domain.Market{}, err
	}
	m, ok := l.markets[marketID]
	if !ok {
		return domain.Market{}, &domain.LedgerError{Op: "getMarket", Err: domain.ErrNotFound}
	}
	return m, nil
}

func (l *fakeLedger) GetMarketCount(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextID, nil
}

// fakeContent stores payloads keyed by a counter-derived address.
type fakeContent struct {
	mu      sync.Mutex
	objects map[domain.ContentAddress][]byte
	uploads int
	err     error
}

func newFakeContent() *fakeContent {
	return &fakeContent{objects: make(map[domain.ContentAddress][]byte)}
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
	c.objects[addr] = payload
	return addr, nil
}

func (c *fakeContent) Download(ctx context.Context, addr domain.ContentAddress) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.objects[addr]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return payload, nil
}

type memBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newMemBus() *memBus { return &memBus{messages: make(map[string][][]byte)} }

func (b *memBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[channel])
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCreateMarketAnchorsMetadata(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ledger := newFakeLedger()
	content := newFakeContent()
	bus := newMemBus()
	svc := NewMarketService(ledger, content, testLogger(), WithBus(bus), WithClock(fixedClock(now)))

	market, err := svc.CreateMarket(context.Background(), CreateMarketRequest{
		Question:           "Will it rain in Lisbon tomorrow?",
		Description:        "Official forecast vs observation",
		ResolutionCriteria: "IPMA station reports any precipitation",
		SourceURLs:         []string{"https://www.ipma.pt"},
		Deadline:           now.Unix() + 3600,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if market.ID != 1 {
		t.Fatalf("market id = %d", market.ID)
	}
	if market.ContentAddress.IsZero() {
		t.Fatal("content address is zero after successful anchoring")
	}

	payload, err := content.Download(context.Background(), market.ContentAddress)
	if err != nil {
		t.Fatalf("download metadata: %v", err)
	}
	var meta domain.MarketMetadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta.Question != "Will it rain in Lisbon tomorrow?" || meta.ResolutionCriteria == "" {
		t.Fatalf("metadata = %+v", meta)
	}
	if bus.count(ChannelMarketCreated) != 1 {
		t.Fatalf("created events = %d, want 1", bus.count(ChannelMarketCreated))
	}
}

func TestCreateMarketSurvivesAnchoringFailure(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ledger := newFakeLedger()
	content := newFakeContent()
	content.err = errors.New("storage down")
	svc := NewMarketService(ledger, content, testLogger(), WithClock(fixedClock(now)))

	market, err := svc.CreateMarket(context.Background(), CreateMarketRequest{
		Question: "Does creation survive a storage outage?",
		Deadline: now.Unix() + 3600,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !market.ContentAddress.IsZero() {
		t.Fatal("expected the all-zero sentinel address")
	}
}

func TestGetMarketDetailRoundTripsMetadata(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ledger := newFakeLedger()
	content := newFakeContent()
	svc := NewMarketService(ledger, content, testLogger(), WithClock(fixedClock(now)))

	created, err := svc.CreateMarket(context.Background(), CreateMarketRequest{
		Question:    "Round trip?",
		Description: "detail check",
		Deadline:    now.Unix() + 3600,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	detail, err := svc.GetMarketDetail(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Metadata == nil || detail.Metadata.Description != "detail check" {
		t.Fatalf("metadata = %+v", detail.Metadata)
	}
}

func TestPlaceBetValidation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ledger := newFakeLedger()
	svc := NewMarketService(ledger, newFakeContent(), testLogger(), WithClock(fixedClock(now)))

	created, _ := svc.CreateMarket(context.Background(), CreateMarketRequest{
		Question: "Bets allowed?",
		Deadline: now.Unix() + 3600,
	})

	if _, err := svc.PlaceBet(context.Background(), created.ID, true, big.NewInt(0)); err == nil {
		t.Fatal("zero amount accepted")
	}
	if _, err := svc.PlaceBet(context.Background(), created.ID, true, nil); err == nil {
		t.Fatal("nil amount accepted")
	}

	txHash, err := svc.PlaceBet(context.Background(), created.ID, true, big.NewInt(1000))
	if err != nil {
		t.Fatalf("bet: %v", err)
	}
	if txHash != "0xbet" {
		t.Fatalf("tx hash = %q", txHash)
	}
}

func TestPlaceBetRejectsSettledMarket(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ledger := newFakeLedger()
	svc := NewMarketService(ledger, newFakeContent(), testLogger(), WithClock(fixedClock(now)))

	created, _ := svc.CreateMarket(context.Background(), CreateMarketRequest{
		Question: "Settled?",
		Deadline: now.Unix() + 3600,
	})
	ledger.ResolveMarket(context.Background(), created.ID, true)

	_, err := svc.PlaceBet(context.Background(), created.ID, false, big.NewInt(1000))
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("error = %v, want ErrAlreadyResolved", err)
	}
	if ledger.betCalls != 0 {
		t.Fatalf("bet calls = %d, want 0", ledger.betCalls)
	}
}

func TestPlaceBetRejectsPastDeadline(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ledger := newFakeLedger()
	svc := NewMarketService(ledger, newFakeContent(), testLogger(), WithClock(fixedClock(now.Add(2*time.Hour))))

	ledger.CreateMarket(context.Background(), "Too late?", now.Unix()+3600, domain.ZeroContentAddress)

	if _, err := svc.PlaceBet(context.Background(), 1, true, big.NewInt(1000)); err == nil {
		t.Fatal("bet past deadline accepted")
	}
}

func TestListMarketsSkipsUnreadable(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ledger := newFakeLedger()
	svc := NewMarketService(ledger, newFakeContent(), testLogger(), WithClock(fixedClock(now)))

	for i := 0; i < 3; i++ {
		svc.CreateMarket(context.Background(), CreateMarketRequest{
			Question: "q",
			Deadline: now.Unix() + 3600,
		})
	}
	ledger.getErrs[2] = errors.New("rpc flake")

	markets, err := svc.ListMarkets(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("markets = %d, want 2", len(markets))
	}
	if markets[0].ID != 1 || markets[1].ID != 3 {
		t.Fatalf("ids = %d, %d", markets[0].ID, markets[1].ID)
	}
}
