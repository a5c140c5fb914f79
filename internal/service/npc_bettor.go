package service

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/instabets/marketd/internal/domain"
)

// npcBetTimeout bounds the background opening-bet sequence for one market.
const npcBetTimeout = 2 * time.Minute

// NPCBettor seeds fresh markets with counterparty liquidity: one identity
// bets Yes, the other No, so a market is never one-sided at birth. Each
// identity is a ledger gateway bound to its own signing key, letting the two
// bets confirm independently of the creator's transactions.
type NPCBettor struct {
	yes    domain.Ledger
	no     domain.Ledger
	amount *big.Int
	logger *slog.Logger
}

// NewNPCBettor creates a bettor over the two counterparty gateways. Either
// gateway may be nil, in which case that side is skipped.
func NewNPCBettor(yes, no domain.Ledger, amountWei *big.Int, logger *slog.Logger) *NPCBettor {
	return &NPCBettor{
		yes:    yes,
		no:     no,
		amount: amountWei,
		logger: logger.With("component", "npc_bettor"),
	}
}

// PlaceOpeningBets places one Yes and one No bet on the market. Failures are
// logged only; a missing counterparty bet never affects the market itself.
func (n *NPCBettor) PlaceOpeningBets(ctx context.Context, marketID uint64) {
	ctx, cancel := context.WithTimeout(ctx, npcBetTimeout)
	defer cancel()

	if n.yes != nil {
		if txHash, err := n.yes.PlaceBet(ctx, marketID, true, n.amount); err != nil {
			n.logger.Warn("opening yes bet", "market_id", marketID, "error", err)
		} else {
			n.logger.Info("opening yes bet placed", "market_id", marketID, "tx_hash", txHash)
		}
	}
	if n.no != nil {
		if txHash, err := n.no.PlaceBet(ctx, marketID, false, n.amount); err != nil {
			n.logger.Warn("opening no bet", "market_id", marketID, "error", err)
		} else {
			n.logger.Info("opening no bet placed", "market_id", marketID, "tx_hash", txHash)
		}
	}
}
