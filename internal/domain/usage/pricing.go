package usage

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ModelPrice is the USD price per 1K tokens
type ModelPrice struct {
	InputPer1K  decimal.Decimal
	OutputPer1K decimal.Decimal
}

// PricingTable maps model identifiers (or prefixes) to prices
type PricingTable map[string]ModelPrice

// DefaultPricing covers the models the chat frontend offers
func DefaultPricing() PricingTable {
	return PricingTable{
		"gpt-4o-mini":      {InputPer1K: decimal.RequireFromString("0.00015"), OutputPer1K: decimal.RequireFromString("0.0006")},
		"gpt-4o":           {InputPer1K: decimal.RequireFromString("0.0025"), OutputPer1K: decimal.RequireFromString("0.01")},
		"gpt-4.1":          {InputPer1K: decimal.RequireFromString("0.002"), OutputPer1K: decimal.RequireFromString("0.008")},
		"claude-3-5-haiku": {InputPer1K: decimal.RequireFromString("0.0008"), OutputPer1K: decimal.RequireFromString("0.004")},
		"claude-sonnet-4":  {InputPer1K: decimal.RequireFromString("0.003"), OutputPer1K: decimal.RequireFromString("0.015")},
		"gemini-2.5-flash": {InputPer1K: decimal.RequireFromString("0.0003"), OutputPer1K: decimal.RequireFromString("0.0025")},
		"gemini-2.5-pro":   {InputPer1K: decimal.RequireFromString("0.00125"), OutputPer1K: decimal.RequireFromString("0.01")},
		"gemini-2.0-flash": {InputPer1K: decimal.RequireFromString("0.0001"), OutputPer1K: decimal.RequireFromString("0.0004")},
	}
}

// Lookup finds the price for a model, falling back to the longest matching prefix
func (p PricingTable) Lookup(model string) (ModelPrice, bool) {
	if price, ok := p[model]; ok {
		return price, true
	}

	best := ""
	for key := range p {
		if strings.HasPrefix(model, key) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return ModelPrice{}, false
	}
	return p[best], true
}

// Cost estimates USD cost for a token split. Unknown models cost zero.
func (p PricingTable) Cost(model string, promptTokens, completionTokens int64) decimal.Decimal {
	price, ok := p.Lookup(model)
	if !ok {
		return decimal.Zero
	}
	thousand := decimal.NewFromInt(1000)
	in := decimal.NewFromInt(promptTokens).Div(thousand).Mul(price.InputPer1K)
	out := decimal.NewFromInt(completionTokens).Div(thousand).Mul(price.OutputPer1K)
	return in.Add(out).Round(6)
}
