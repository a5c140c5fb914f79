package domain

import "time"

// MarketMetadata is the evidentiary description of a market, anchored on the
// storage network at creation time. It is immutable once anchored and is
// identified solely by its content address.
type MarketMetadata struct {
	Question           string    `json:"question"`
	Description        string    `json:"description"`
	ResolutionCriteria string    `json:"resolutionCriteria"`
	SourceURLs         []string  `json:"sourceUrls"`
	Tags               []string  `json:"tags"`
	CreatedAt          time.Time `json:"createdAt"`

	// Live-monitor fields, set only for stream-watched markets.
	StreamURL string `json:"streamUrl,omitempty"`
	Condition string `json:"condition,omitempty"`
}

// Live reports whether this metadata describes a stream-monitored market.
func (m MarketMetadata) Live() bool {
	return m.StreamURL != "" && m.Condition != ""
}
