package domain

import "time"

// ResolutionResult is the structured verdict parsed from the reasoning
// oracle. Confidence is in [0,1].
type ResolutionResult struct {
	Outcome    bool      `json:"outcome"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	Sources    []string  `json:"sources"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// ResolutionEvidence is the full audit record of one resolution attempt:
// the verdict plus the exact prompt and model that produced it. It is
// written once per attempt that reaches the confidence gate and never
// mutated afterwards.
type ResolutionEvidence struct {
	MarketID uint64           `json:"marketId"`
	Question string           `json:"question"`
	Result   ResolutionResult `json:"result"`
	Model    string           `json:"aiModel"`
	Prompt   string           `json:"prompt"`
}

// ResolutionRecord is the settlement audit row persisted after a market
// leaves Pending. EvidenceRoot is zero when evidence anchoring failed or the
// settlement came from a non-oracle trigger.
type ResolutionRecord struct {
	MarketID     uint64         `json:"marketId"`
	Question     string         `json:"question"`
	Outcome      Outcome        `json:"outcome"`
	Confidence   float64        `json:"confidence"`
	Trigger      string         `json:"trigger"` // "oracle", "webhook", "sweep"
	EvidenceRoot ContentAddress `json:"evidenceRoot"`
	ArchiveKey   string         `json:"archiveKey,omitempty"`
	TxHash       string         `json:"txHash"`
	Model        string         `json:"aiModel,omitempty"`
	ResolvedAt   time.Time      `json:"resolvedAt"`
}

// Settlement triggers recorded in ResolutionRecord.Trigger.
const (
	TriggerOracle  = "oracle"
	TriggerWebhook = "webhook"
	TriggerSweep   = "sweep"
)
