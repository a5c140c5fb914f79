package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a market, job, object, or record does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt is returned when downloaded bytes do not hash back to the
	// requested content address.
	ErrCorrupt = errors.New("content corrupt")

	// ErrNoStorageNodes means node discovery returned an empty replica set.
	ErrNoStorageNodes = errors.New("no storage nodes available")

	// ErrIndexingTimeout means the storage network did not index the
	// submission within the polling budget.
	ErrIndexingTimeout = errors.New("storage indexing timed out")

	// ErrSegmentRejected means every replica refused a segment upload.
	ErrSegmentRejected = errors.New("segment rejected by all storage nodes")

	// ErrFinalizationTimeout means the object was submitted and uploaded
	// but network-wide finalization was not observed within the polling
	// budget. The object may still finalize later; nothing is rolled back.
	ErrFinalizationTimeout = errors.New("storage finalization timed out")

	// ErrUnparsableOracleResponse means the reasoning oracle's output could
	// not be validated into a resolution result. It is never defaulted to
	// an outcome.
	ErrUnparsableOracleResponse = errors.New("unparsable oracle response")

	// ErrAlreadyResolved is returned by operations that require a Pending
	// market.
	ErrAlreadyResolved = errors.New("market already resolved")
)

// LedgerError wraps a failed ledger call (revert or RPC failure). Calls are
// never retried at the gateway layer; the caller owns any retry policy.
type LedgerError struct {
	Op  string // e.g. "createMarket", "resolveMarket"
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger: %s: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }
