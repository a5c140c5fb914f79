// Package domain defines the core types shared across the marketd engine:
// markets, anchored metadata, resolution evidence, live-monitor jobs, and the
// store/cache interfaces their persistence layers implement.
package domain

import (
	"fmt"
	"math/big"
	"time"
)

// Outcome is the on-chain settlement state of a market. The numeric values
// mirror the contract enum and must not be reordered.
type Outcome uint8

const (
	OutcomePending Outcome = 0
	OutcomeYes     Outcome = 1
	OutcomeNo      Outcome = 2
)

// OutcomeFromBool maps an oracle verdict to the settled outcome.
func OutcomeFromBool(yes bool) Outcome {
	if yes {
		return OutcomeYes
	}
	return OutcomeNo
}

// ParseOutcome converts the raw uint8 read from the contract.
func ParseOutcome(v uint8) (Outcome, error) {
	switch Outcome(v) {
	case OutcomePending, OutcomeYes, OutcomeNo:
		return Outcome(v), nil
	default:
		return OutcomePending, fmt.Errorf("domain: unknown outcome value %d", v)
	}
}

func (o Outcome) String() string {
	switch o {
	case OutcomeYes:
		return "Yes"
	case OutcomeNo:
		return "No"
	default:
		return "Pending"
	}
}

// MarshalText lets Outcome render as its name in JSON payloads.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Pending":
		*o = OutcomePending
	case "Yes":
		*o = OutcomeYes
	case "No":
		*o = OutcomeNo
	default:
		return fmt.Errorf("domain: unknown outcome %q", b)
	}
	return nil
}

// Market is the ledger-held record of a prediction market. Pools are wei
// amounts and only grow while the market is Pending; Outcome moves from
// Pending to Yes or No exactly once and never reverts.
type Market struct {
	ID             uint64         `json:"id"`
	Question       string         `json:"question"`
	Deadline       int64          `json:"deadline"` // unix seconds
	Creator        string         `json:"creator"`  // hex address
	YesPool        *big.Int       `json:"yesPool"`
	NoPool         *big.Int       `json:"noPool"`
	Outcome        Outcome        `json:"outcome"`
	ContentAddress ContentAddress `json:"contentAddress"`
}

// DeadlineTime returns the deadline as a time.Time in UTC.
func (m Market) DeadlineTime() time.Time {
	return time.Unix(m.Deadline, 0).UTC()
}

// Pending reports whether the market can still accept bets and settlement.
func (m Market) Pending() bool {
	return m.Outcome == OutcomePending
}
