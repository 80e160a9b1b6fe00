package costguard

import "strings"

// ModelPrice holds per-million-token prices in USD.
type ModelPrice struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// PriceTable maps provider and model to prices. Lookup falls back to the
// longest matching model prefix so dated model revisions price like their
// base model.
type PriceTable map[string]map[string]ModelPrice

// DefaultPrices covers the providers the runtime ships with. Projects with
// custom models should extend the table at startup.
func DefaultPrices() PriceTable {
	return PriceTable{
		"anthropic": {
			"claude-3-5-sonnet": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
			"claude-3-5-haiku":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
			"claude-3-opus":     {InputPerMillion: 15.00, OutputPerMillion: 75.00},
			"claude-3-haiku":    {InputPerMillion: 0.25, OutputPerMillion: 1.25},
		},
		"openai": {
			"gpt-4o":        {InputPerMillion: 2.50, OutputPerMillion: 10.00},
			"gpt-4o-mini":   {InputPerMillion: 0.15, OutputPerMillion: 0.60},
			"gpt-4-turbo":   {InputPerMillion: 10.00, OutputPerMillion: 30.00},
			"gpt-3.5-turbo": {InputPerMillion: 0.50, OutputPerMillion: 1.50},
			"o1":            {InputPerMillion: 15.00, OutputPerMillion: 60.00},
		},
		"mock": {
			"mock-model": {},
		},
	}
}

// Lookup returns the price for a provider/model pair. Unknown models of a
// known provider match by longest prefix; a fully unknown pair prices at
// zero so metering still records tokens.
func (t PriceTable) Lookup(provider, model string) ModelPrice {
	byModel, ok := t[provider]
	if !ok {
		return ModelPrice{}
	}
	if p, ok := byModel[model]; ok {
		return p
	}
	var best string
	for prefix := range byModel {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return ModelPrice{}
	}
	return byModel[best]
}

// Cost computes the USD cost of a token count at the given price.
func (p ModelPrice) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*p.InputPerMillion +
		float64(outputTokens)/1e6*p.OutputPerMillion
}
