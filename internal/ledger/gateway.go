package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/instabets/marketd/internal/domain"
)

// marketABI is the subset of the prediction-market contract interface that
// the gateway uses.
const marketABI = `[
	{"name":"createMarket","type":"function","inputs":[
		{"name":"question","type":"string"},
		{"name":"deadline","type":"uint256"},
		{"name":"storageRoot","type":"bytes32"}
	],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"placeBet","type":"function","stateMutability":"payable","inputs":[
		{"name":"marketId","type":"uint256"},
		{"name":"betYes","type":"bool"}
	],"outputs":[]},
	{"name":"resolveMarket","type":"function","inputs":[
		{"name":"marketId","type":"uint256"},
		{"name":"outcomeYes","type":"bool"}
	],"outputs":[]},
	{"name":"claimWinnings","type":"function","inputs":[
		{"name":"marketId","type":"uint256"}
	],"outputs":[]},
	{"name":"setContentAddress","type":"function","inputs":[
		{"name":"marketId","type":"uint256"},
		{"name":"storageRoot","type":"bytes32"}
	],"outputs":[]},
	{"name":"getMarket","type":"function","stateMutability":"view","inputs":[
		{"name":"marketId","type":"uint256"}
	],"outputs":[{"name":"","type":"tuple","components":[
		{"name":"id","type":"uint256"},
		{"name":"question","type":"string"},
		{"name":"deadline","type":"uint256"},
		{"name":"creator","type":"address"},
		{"name":"yesPool","type":"uint256"},
		{"name":"noPool","type":"uint256"},
		{"name":"outcome","type":"uint8"},
		{"name":"storageRoot","type":"bytes32"}
	]}]},
	{"name":"getMarketCount","type":"function","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]},
	{"name":"MarketCreated","type":"event","inputs":[
		{"name":"id","type":"uint256","indexed":true},
		{"name":"question","type":"string","indexed":false},
		{"name":"deadline","type":"uint256","indexed":false},
		{"name":"creator","type":"address","indexed":false}
	]},
	{"name":"BetPlaced","type":"event","inputs":[
		{"name":"marketId","type":"uint256","indexed":true},
		{"name":"bettor","type":"address","indexed":true},
		{"name":"betYes","type":"bool","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}
	]},
	{"name":"MarketResolved","type":"event","inputs":[
		{"name":"marketId","type":"uint256","indexed":true},
		{"name":"outcome","type":"uint8","indexed":false}
	]}
]`

// marketTuple mirrors the contract's Market struct for ABI decoding.
type marketTuple struct {
	Id          *big.Int
	Question    string
	Deadline    *big.Int
	Creator     common.Address
	YesPool     *big.Int
	NoPool      *big.Int
	Outcome     uint8
	StorageRoot [32]byte
}

// Gateway is the read/write accessor for market records on the contract.
// Writes go through the supplied TxSender; the gateway never retries a
// failed call.
type Gateway struct {
	client   *ethclient.Client
	contract common.Address
	abi      abi.ABI
	sender   *TxSender
}

// NewGateway creates a Gateway against the given contract address. sender is
// the identity used for writes; read-only gateways may pass nil.
func NewGateway(client *ethclient.Client, contractAddr string, sender *TxSender) (*Gateway, error) {
	parsed, err := abi.JSON(strings.NewReader(marketABI))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse abi: %w", err)
	}
	return &Gateway{
		client:   client,
		contract: common.HexToAddress(contractAddr),
		abi:      parsed,
		sender:   sender,
	}, nil
}

// WithSender returns a Gateway sharing this gateway's client and contract
// but signing with a different identity. Used for the NPC bettors.
func (g *Gateway) WithSender(sender *TxSender) *Gateway {
	clone := *g
	clone.sender = sender
	return &clone
}

// SenderAddress returns the hex address of the write identity, or "" for a
// read-only gateway.
func (g *Gateway) SenderAddress() string {
	if g.sender == nil {
		return ""
	}
	return g.sender.Address().Hex()
}

// CreateMarket creates a market on the ledger and returns the id assigned by
// the contract, recovered from the MarketCreated event log.
func (g *Gateway) CreateMarket(ctx context.Context, question string, deadline int64, addr domain.ContentAddress) (uint64, string, error) {
	data, err := g.abi.Pack("createMarket", question, big.NewInt(deadline), [32]byte(addr))
	if err != nil {
		return 0, "", &domain.LedgerError{Op: "createMarket", Err: err}
	}
	receipt, err := g.send(ctx, "createMarket", data, nil)
	if err != nil {
		return 0, "", err
	}

	id, err := g.marketIDFromLogs(receipt.Logs)
	if err != nil {
		return 0, "", &domain.LedgerError{Op: "createMarket", Err: err}
	}
	return id, receipt.TxHash.Hex(), nil
}

// PlaceBet stakes amountWei on one side of a market.
func (g *Gateway) PlaceBet(ctx context.Context, marketID uint64, betYes bool, amountWei *big.Int) (string, error) {
	data, err := g.abi.Pack("placeBet", new(big.Int).SetUint64(marketID), betYes)
	if err != nil {
		return "", &domain.LedgerError{Op: "placeBet", Err: err}
	}
	receipt, err := g.send(ctx, "placeBet", data, amountWei)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// ResolveMarket moves a market from Pending to the decided outcome. The
// contract enforces that this succeeds at most once per market.
func (g *Gateway) ResolveMarket(ctx context.Context, marketID uint64, outcomeYes bool) (string, error) {
	data, err := g.abi.Pack("resolveMarket", new(big.Int).SetUint64(marketID), outcomeYes)
	if err != nil {
		return "", &domain.LedgerError{Op: "resolveMarket", Err: err}
	}
	receipt, err := g.send(ctx, "resolveMarket", data, nil)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// ClaimWinnings pays out the caller's share of a settled market.
func (g *Gateway) ClaimWinnings(ctx context.Context, marketID uint64) (string, error) {
	data, err := g.abi.Pack("claimWinnings", new(big.Int).SetUint64(marketID))
	if err != nil {
		return "", &domain.LedgerError{Op: "claimWinnings", Err: err}
	}
	receipt, err := g.send(ctx, "claimWinnings", data, nil)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// SetContentAddress re-anchors a market's metadata root. Used to repair
// markets created with the all-zero sentinel after a late anchoring retry.
func (g *Gateway) SetContentAddress(ctx context.Context, marketID uint64, addr domain.ContentAddress) (string, error) {
	data, err := g.abi.Pack("setContentAddress", new(big.Int).SetUint64(marketID), [32]byte(addr))
	if err != nil {
		return "", &domain.LedgerError{Op: "setContentAddress", Err: err}
	}
	receipt, err := g.send(ctx, "setContentAddress", data, nil)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// GetMarket reads a market record.
func (g *Gateway) GetMarket(ctx context.Context, marketID uint64) (domain.Market, error) {
	data, err := g.abi.Pack("getMarket", new(big.Int).SetUint64(marketID))
	if err != nil {
		return domain.Market{}, &domain.LedgerError{Op: "getMarket", Err: err}
	}
	raw, err := g.call(ctx, data)
	if err != nil {
		return domain.Market{}, &domain.LedgerError{Op: "getMarket", Err: err}
	}
	out, err := g.abi.Unpack("getMarket", raw)
	if err != nil {
		return domain.Market{}, &domain.LedgerError{Op: "getMarket", Err: err}
	}
	tuple := *abi.ConvertType(out[0], new(marketTuple)).(*marketTuple)
	return marketFromTuple(tuple)
}

// GetMarketCount returns the number of markets ever created.
func (g *Gateway) GetMarketCount(ctx context.Context) (uint64, error) {
	data, err := g.abi.Pack("getMarketCount")
	if err != nil {
		return 0, &domain.LedgerError{Op: "getMarketCount", Err: err}
	}
	raw, err := g.call(ctx, data)
	if err != nil {
		return 0, &domain.LedgerError{Op: "getMarketCount", Err: err}
	}
	out, err := g.abi.Unpack("getMarketCount", raw)
	if err != nil {
		return 0, &domain.LedgerError{Op: "getMarketCount", Err: err}
	}
	return out[0].(*big.Int).Uint64(), nil
}

// GetAllMarkets reads every market in id order, skipping ids that fail to
// load.
func (g *Gateway) GetAllMarkets(ctx context.Context) ([]domain.Market, error) {
	count, err := g.GetMarketCount(ctx)
	if err != nil {
		return nil, err
	}
	markets := make([]domain.Market, 0, count)
	for id := uint64(1); id <= count; id++ {
		m, err := g.GetMarket(ctx, id)
		if err != nil {
			continue
		}
		markets = append(markets, m)
	}
	return markets, nil
}

func (g *Gateway) send(ctx context.Context, op string, data []byte, value *big.Int) (*types.Receipt, error) {
	if g.sender == nil {
		return nil, &domain.LedgerError{Op: op, Err: fmt.Errorf("gateway is read-only")}
	}
	receipt, err := g.sender.Send(ctx, g.contract, data, value)
	if err != nil {
		return nil, &domain.LedgerError{Op: op, Err: err}
	}
	return receipt, nil
}

func (g *Gateway) call(ctx context.Context, data []byte) ([]byte, error) {
	return g.client.CallContract(ctx, ethereum.CallMsg{
		To:   &g.contract,
		Data: data,
	}, nil)
}

// marketIDFromLogs scans receipt logs for the MarketCreated event and
// returns the indexed market id.
func (g *Gateway) marketIDFromLogs(logs []*types.Log) (uint64, error) {
	topic := g.abi.Events["MarketCreated"].ID
	for _, lg := range logs {
		if len(lg.Topics) >= 2 && lg.Topics[0] == topic {
			return new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(), nil
		}
	}
	return 0, fmt.Errorf("MarketCreated event not found in receipt")
}

func marketFromTuple(t marketTuple) (domain.Market, error) {
	outcome, err := domain.ParseOutcome(t.Outcome)
	if err != nil {
		return domain.Market{}, &domain.LedgerError{Op: "getMarket", Err: err}
	}
	return domain.Market{
		ID:             t.Id.Uint64(),
		Question:       t.Question,
		Deadline:       t.Deadline.Int64(),
		Creator:        t.Creator.Hex(),
		YesPool:        t.YesPool,
		NoPool:         t.NoPool,
		Outcome:        outcome,
		ContentAddress: domain.ContentAddress(t.StorageRoot),
	}, nil
}
