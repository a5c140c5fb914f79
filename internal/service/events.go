package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/instabets/marketd/internal/domain"
)

// Signal bus channels carrying market lifecycle events.
const (
	ChannelMarketCreated  = "market_created"
	ChannelBetPlaced      = "bet_placed"
	ChannelMarketResolved = "market_resolved"
)

// Event is the payload published on the signal bus and relayed to websocket
// clients. Type always matches the channel it was published on.
type Event struct {
	Type     string `json:"type"`
	MarketID uint64 `json:"marketId"`
	Question string `json:"question,omitempty"`
	Side     string `json:"side,omitempty"`    // bet events: "yes" or "no"
	Amount   string `json:"amount,omitempty"`  // bet events: wei, decimal string
	Outcome  string `json:"outcome,omitempty"` // resolution events
	TxHash   string `json:"txHash,omitempty"`
}

// publish sends one lifecycle event, best-effort. A bus failure never fails
// the operation that produced the event.
func publish(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, ev Event) {
	if bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error("encode event", "type", ev.Type, "error", err)
		return
	}
	if err := bus.Publish(ctx, ev.Type, payload); err != nil {
		logger.Warn("publish event", "type", ev.Type, "market_id", ev.MarketID, "error", err)
	}
}
