package domain

import (
	"context"
	"io"
	"math/big"
)

// Ledger is the gateway to the authoritative market contract. All calls
// await transaction confirmation; failures surface as *LedgerError and are
// never retried at this layer.
type Ledger interface {
	CreateMarket(ctx context.Context, question string, deadline int64, addr ContentAddress) (marketID uint64, txHash string, err error)
	PlaceBet(ctx context.Context, marketID uint64, betYes bool, amountWei *big.Int) (txHash string, err error)
	ResolveMarket(ctx context.Context, marketID uint64, outcomeYes bool) (txHash string, err error)
	GetMarket(ctx context.Context, marketID uint64) (Market, error)
	GetMarketCount(ctx context.Context) (uint64, error)
}

// ContentStore anchors byte payloads on the content-addressed storage
// network. Upload is idempotent: byte-identical payloads yield the same
// address and short-circuit once the network reports them finalized.
type ContentStore interface {
	Upload(ctx context.Context, payload []byte) (ContentAddress, error)
	Download(ctx context.Context, addr ContentAddress) ([]byte, error)
}

// JobStore persists the jobId -> live-monitor-job map. Implementations must
// make Remove idempotent; removing an absent job is a no-op.
type JobStore interface {
	Add(ctx context.Context, job LiveMonitorJob) error
	// Get returns ErrNotFound for an unknown job id.
	Get(ctx context.Context, jobID string) (LiveMonitorJob, error)
	Remove(ctx context.Context, jobID string) error
	// Expired returns all jobs whose deadline is at or before now (unix
	// seconds).
	Expired(ctx context.Context, now int64) ([]LiveMonitorJob, error)
}

// ResolutionStore is the settlement audit log.
type ResolutionStore interface {
	Insert(ctx context.Context, rec ResolutionRecord) error
	// GetByMarket returns ErrNotFound when no settlement has been recorded.
	GetByMarket(ctx context.Context, marketID uint64) (ResolutionRecord, error)
}

// MarketCache is a read-through cache over ledger market reads.
type MarketCache interface {
	Get(ctx context.Context, marketID uint64) (Market, error)
	Set(ctx context.Context, m Market) error
	Invalidate(ctx context.Context, marketID uint64) error
}

// SignalBus carries market lifecycle events to the websocket feed and any
// other subscriber.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter writes an off-network audit copy of anchored evidence.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
