package gateway

import "strings"

// modelPrice is USD per million tokens.
type modelPrice struct {
	in  float64
	out float64
}

// Static price table, matched by model name prefix. Unknown models cost
// zero rather than guessing.
var priceTable = map[string]modelPrice{
	"claude-sonnet":    {in: 3.00, out: 15.00},
	"claude-haiku":     {in: 0.80, out: 4.00},
	"claude-opus":      {in: 15.00, out: 75.00},
	"gpt-4o-mini":      {in: 0.15, out: 0.60},
	"gpt-4o":           {in: 2.50, out: 10.00},
	"gemini-2.0-flash": {in: 0.10, out: 0.40},
	"gemini-1.5-pro":   {in: 1.25, out: 5.00},
}

// EstimateCost prices token usage for a model. Longest matching prefix
// wins so "gpt-4o-mini" is not priced as "gpt-4o".
func EstimateCost(model string, tokensIn, tokensOut int64) float64 {
	var best string
	for prefix := range priceTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return 0
	}
	p := priceTable[best]
	return float64(tokensIn)/1e6*p.in + float64(tokensOut)/1e6*p.out
}
