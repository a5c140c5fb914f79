package storage

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/instabets/marketd/internal/ledger"
)

// flowABI wraps SubmissionData inside a Submission struct that also carries
// the submitter address, matching the upgraded flow contract.
const flowABI = `[
	{"name":"submit","type":"function","stateMutability":"payable","inputs":[
		{"name":"submission","type":"tuple","components":[
			{"name":"data","type":"tuple","components":[
				{"name":"length","type":"uint256"},
				{"name":"tags","type":"bytes"},
				{"name":"nodes","type":"tuple[]","components":[
					{"name":"root","type":"bytes32"},
					{"name":"height","type":"uint256"}
				]}
			]},
			{"name":"submitter","type":"address"}
		]}
	],"outputs":[
		{"name":"","type":"uint256"},
		{"name":"","type":"bytes32"},
		{"name":"","type":"uint256"},
		{"name":"","type":"uint256"}
	]},
	{"name":"market","type":"function","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"address"}]},
	{"name":"Submit","type":"event","inputs":[
		{"name":"submitter","type":"address","indexed":true},
		{"name":"digest","type":"bytes32","indexed":true},
		{"name":"submissionIndex","type":"uint256","indexed":false},
		{"name":"startEntryIndex","type":"uint256","indexed":false},
		{"name":"length","type":"uint256","indexed":false},
		{"name":"data","type":"tuple","indexed":false,"components":[
			{"name":"length","type":"uint256"},
			{"name":"tags","type":"bytes"},
			{"name":"nodes","type":"tuple[]","components":[
				{"name":"root","type":"bytes32"},
				{"name":"height","type":"uint256"}
			]}
		]}
	]}
]`

// feeMarketABI is the fee-oracle contract behind the flow contract.
const feeMarketABI = `[
	{"name":"pricePerSector","type":"function","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]}
]`

// SubmissionDescriptor is the on-chain description of one upload: the
// logical length, free-form tag bytes, and one Merkle node per segment.
type SubmissionDescriptor struct {
	Length int
	Tags   []byte
	Nodes  []SubmissionNode
}

// FeeForNodes computes the required submission fee: pricePerSector times
// the total sector count, where each node spans 2^height sectors.
func FeeForNodes(nodes []SubmissionNode, pricePerSector *big.Int) *big.Int {
	sectors := new(big.Int)
	for _, node := range nodes {
		sectors.Add(sectors, new(big.Int).Lsh(big.NewInt(1), uint(node.Height)))
	}
	return sectors.Mul(sectors, pricePerSector)
}

// Submitter is the flow-contract surface the upload path needs; tests
// substitute a fake chain.
type Submitter interface {
	// PricePerSector reads the current sector price from the fee oracle.
	// The price is read fresh at every submission; it is never cached.
	PricePerSector(ctx context.Context) (*big.Int, error)
	// Submit sends the submission transaction carrying the descriptor and
	// fee, and returns the sequence number assigned in the Submit event.
	Submit(ctx context.Context, desc SubmissionDescriptor, fee *big.Int) (uint64, error)
}

// Flow submits upload descriptors to the flow contract and reads the sector
// price from the fee-oracle contract it points at.
type Flow struct {
	client   *ethclient.Client
	sender   *ledger.TxSender
	flowAddr common.Address
	flow     abi.ABI
	market   abi.ABI
}

// NewFlow creates a Flow bound to the given flow contract. The sender is
// the same identity that signs market transactions, so flow submissions are
// serialized with them.
func NewFlow(client *ethclient.Client, sender *ledger.TxSender, flowAddr string) (*Flow, error) {
	parsedFlow, err := abi.JSON(strings.NewReader(flowABI))
	if err != nil {
		return nil, fmt.Errorf("storage/flow: parse flow abi: %w", err)
	}
	parsedMarket, err := abi.JSON(strings.NewReader(feeMarketABI))
	if err != nil {
		return nil, fmt.Errorf("storage/flow: parse market abi: %w", err)
	}
	return &Flow{
		client:   client,
		sender:   sender,
		flowAddr: common.HexToAddress(flowAddr),
		flow:     parsedFlow,
		market:   parsedMarket,
	}, nil
}

// PricePerSector resolves the fee-oracle contract via flow.market() and
// reads its current price.
func (f *Flow) PricePerSector(ctx context.Context) (*big.Int, error) {
	marketAddr, err := f.marketAddress(ctx)
	if err != nil {
		return nil, err
	}

	data, err := f.market.Pack("pricePerSector")
	if err != nil {
		return nil, fmt.Errorf("storage/flow: pack pricePerSector: %w", err)
	}
	raw, err := f.client.CallContract(ctx, ethereum.CallMsg{To: &marketAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("storage/flow: pricePerSector: %w", err)
	}
	out, err := f.market.Unpack("pricePerSector", raw)
	if err != nil {
		return nil, fmt.Errorf("storage/flow: unpack pricePerSector: %w", err)
	}
	return out[0].(*big.Int), nil
}

func (f *Flow) marketAddress(ctx context.Context) (common.Address, error) {
	data, err := f.flow.Pack("market")
	if err != nil {
		return common.Address{}, fmt.Errorf("storage/flow: pack market: %w", err)
	}
	raw, err := f.client.CallContract(ctx, ethereum.CallMsg{To: &f.flowAddr, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("storage/flow: market address: %w", err)
	}
	out, err := f.flow.Unpack("market", raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("storage/flow: unpack market address: %w", err)
	}
	return out[0].(common.Address), nil
}

// submissionNodeArg and friends mirror the ABI tuple layout for packing.
type submissionNodeArg struct {
	Root   [32]byte
	Height *big.Int
}

type submissionDataArg struct {
	Length *big.Int
	Tags   []byte
	Nodes  []submissionNodeArg
}

type submissionArg struct {
	Data      submissionDataArg
	Submitter common.Address
}

// Submit sends the submission transaction and parses the emitted Submit log
// for the assigned sequence number, the handle used for every subsequent
// network call in the upload.
func (f *Flow) Submit(ctx context.Context, desc SubmissionDescriptor, fee *big.Int) (uint64, error) {
	tags := desc.Tags
	if tags == nil {
		tags = []byte{}
	}
	nodes := make([]submissionNodeArg, len(desc.Nodes))
	for i, n := range desc.Nodes {
		nodes[i] = submissionNodeArg{
			Root:   n.Root,
			Height: new(big.Int).SetUint64(n.Height),
		}
	}
	arg := submissionArg{
		Data: submissionDataArg{
			Length: big.NewInt(int64(desc.Length)),
			Tags:   tags,
			Nodes:  nodes,
		},
		Submitter: f.sender.Address(),
	}

	data, err := f.flow.Pack("submit", arg)
	if err != nil {
		return 0, fmt.Errorf("storage/flow: pack submit: %w", err)
	}

	receipt, err := f.sender.Send(ctx, f.flowAddr, data, fee)
	if err != nil {
		return 0, fmt.Errorf("storage/flow: submit tx: %w", err)
	}

	submitTopic := f.flow.Events["Submit"].ID
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 || lg.Topics[0] != submitTopic {
			continue
		}
		out, err := f.flow.Events["Submit"].Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil {
			return 0, fmt.Errorf("storage/flow: unpack Submit event: %w", err)
		}
		return out[0].(*big.Int).Uint64(), nil
	}
	return 0, fmt.Errorf("storage/flow: Submit event not found in receipt %s", receipt.TxHash)
}
