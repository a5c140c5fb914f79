// Package ledger is the gateway to the on-chain prediction-market contract:
// market creation, betting, settlement, and reads. It also exposes the
// per-identity transaction sender that the storage flow submission shares,
// so every transaction signed by one key goes out in strict nonce order.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// receiptPollInterval is how often TxSender polls for a mined receipt.
const receiptPollInterval = 500 * time.Millisecond

// gasMargin is the headroom multiplier (in percent) applied on top of
// eth_estimateGas.
const gasMargin = 120

// TxSender signs and submits transactions for a single identity and waits
// for confirmation. A mutex serializes the nonce-fetch/sign/send sequence so
// concurrent submissions from the same key are queued in increasing nonce
// order instead of racing; distinct identities use distinct senders and may
// proceed in parallel.
type TxSender struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int

	mu sync.Mutex
}

// NewTxSender creates a sender for the given key against the given client.
func NewTxSender(client *ethclient.Client, key *ecdsa.PrivateKey, chainID int64) *TxSender {
	return &TxSender{
		client:  client,
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
	}
}

// Address returns the sender's account address.
func (s *TxSender) Address() common.Address { return s.address }

// Send submits a transaction to the given contract with the given calldata
// and value, then blocks until it is mined. It returns an error when the
// transaction reverts. Calls from the same sender are serialized.
func (s *TxSender) Send(ctx context.Context, to common.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == nil {
		value = new(big.Int)
	}

	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	gas, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.address,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gas = gas * gasMargin / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}

	receipt, err := s.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("tx %s reverted", signed.Hash())
	}
	return receipt, nil
}

// waitMined polls for the transaction receipt until it lands or the context
// is cancelled.
func (s *TxSender) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if err != ethereum.NotFound {
			return nil, fmt.Errorf("receipt for %s: %w", hash, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
