package resolver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/instabets/marketd/internal/domain"
)

// rawVerdict mirrors the JSON shape the oracle is instructed to produce.
// Pointer fields distinguish an absent key from a zero value.
type rawVerdict struct {
	Outcome    *bool    `json:"outcome"`
	Confidence *float64 `json:"confidence"`
	Reasoning  *string  `json:"reasoning"`
	Sources    []string `json:"sources"`
}

// parseVerdict validates the oracle's text output against the strict verdict
// schema. Any shape mismatch is ErrUnparsableOracleResponse; an outcome is
// never defaulted or guessed.
func parseVerdict(raw string) (domain.ResolutionResult, error) {
	body := extractJSON(raw)
	if body == "" {
		return domain.ResolutionResult{}, fmt.Errorf("%w: no JSON object in output", domain.ErrUnparsableOracleResponse)
	}

	var v rawVerdict
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return domain.ResolutionResult{}, fmt.Errorf("%w: %v", domain.ErrUnparsableOracleResponse, err)
	}
	if v.Outcome == nil {
		return domain.ResolutionResult{}, fmt.Errorf("%w: missing outcome", domain.ErrUnparsableOracleResponse)
	}
	if v.Confidence == nil {
		return domain.ResolutionResult{}, fmt.Errorf("%w: missing confidence", domain.ErrUnparsableOracleResponse)
	}
	if *v.Confidence < 0 || *v.Confidence > 1 {
		return domain.ResolutionResult{}, fmt.Errorf("%w: confidence %v out of range", domain.ErrUnparsableOracleResponse, *v.Confidence)
	}
	if v.Reasoning == nil {
		return domain.ResolutionResult{}, fmt.Errorf("%w: missing reasoning", domain.ErrUnparsableOracleResponse)
	}

	return domain.ResolutionResult{
		Outcome:    *v.Outcome,
		Confidence: *v.Confidence,
		Reasoning:  *v.Reasoning,
		Sources:    v.Sources,
	}, nil
}

// extractJSON pulls the outermost JSON object out of the oracle text, which
// models routinely wrap in markdown fences or prose.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
