package spike

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/misty-step/foxglove/internal/cost"
	"github.com/misty-step/foxglove/internal/store"
)

// agentResult is the structured result the remote agent writes next to the
// completion marker.
type agentResult struct {
	Status       string  `json:"status"`
	SessionID    string  `json:"session_id"`
	CostUSD      float64 `json:"cost_usd"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	ReviewURL    string  `json:"review_url,omitempty"`
}

func parseAgentResult(raw string) (agentResult, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return agentResult{}, fmt.Errorf("empty agent result")
	}
	var parsed agentResult
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return agentResult{}, fmt.Errorf("decode agent result: %w", err)
	}
	if parsed.Status == "" {
		parsed.Status = "completed"
	}
	return parsed, nil
}

// runCost converts one agent result into a cost delta, estimating a dollar
// figure from token counts when the agent did not report one.
func (r agentResult) runCost() store.Cost {
	usd := r.CostUSD
	if usd == 0 {
		usd = cost.Estimate("claude", r.InputTokens, r.OutputTokens)
	}
	return store.Cost{
		TotalUSD:     usd,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
	}
}
