package resolver

import (
	"fmt"
	"strings"
	"time"

	"github.com/instabets/marketd/internal/domain"
)

const systemPrompt = `You are a prediction market resolution oracle. ` +
	`Given a market question, decide whether the real-world outcome is YES or NO ` +
	`based on verifiable information. Respond with a single JSON object and nothing else:
{"outcome": <true for YES, false for NO>, "confidence": <number between 0 and 1>, "reasoning": "<short explanation>", "sources": ["<url or citation>", ...]}
If you cannot determine the outcome, still answer with your best judgment and a low confidence value.`

// buildPrompt renders the deterministic user prompt for one market. The same
// market and metadata always produce the same prompt text, so evidence
// records are reproducible.
func buildPrompt(market domain.Market, meta *domain.MarketMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Market #%d\n", market.ID)
	fmt.Fprintf(&b, "Question: %s\n", market.Question)
	fmt.Fprintf(&b, "Deadline: %s\n", time.Unix(market.Deadline, 0).UTC().Format(time.RFC3339))

	if meta != nil {
		if meta.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", meta.Description)
		}
		if meta.ResolutionCriteria != "" {
			fmt.Fprintf(&b, "Resolution criteria: %s\n", meta.ResolutionCriteria)
		}
		if len(meta.SourceURLs) > 0 {
			fmt.Fprintf(&b, "Suggested sources:\n")
			for _, u := range meta.SourceURLs {
				fmt.Fprintf(&b, "- %s\n", u)
			}
		}
	}

	b.WriteString("\nHas this market's question resolved YES or NO?")
	return b.String()
}
