// Package cost formats and estimates agent spend reported by spike runs.
package cost

import "fmt"

// Rate holds per-1M-token pricing in USD.
type Rate struct {
	Input  float64
	Output float64
}

// DefaultRates contains hardcoded per-provider pricing, used when a spike
// result reports tokens without a dollar figure.
var DefaultRates = map[string]Rate{
	"claude": {Input: 3.00, Output: 15.00},
	"codex":  {Input: 3.00, Output: 12.00},
}

// Estimate returns the estimated cost in USD for the given token counts.
func Estimate(provider string, inputTokens, outputTokens int) float64 {
	rate, ok := DefaultRates[provider]
	if !ok {
		return 0
	}
	inCost := float64(inputTokens) / 1_000_000 * rate.Input
	outCost := float64(outputTokens) / 1_000_000 * rate.Output
	return inCost + outCost
}

// FormatUSD formats a cost as a dollar string (e.g. "$0.42").
func FormatUSD(cost float64) string {
	return fmt.Sprintf("$%.2f", cost)
}
