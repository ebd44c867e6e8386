package logs

import (
	"strings"
	"sync"

	"github.com/twistedxcom/hydra/internal/config"
)

// Rate is per-million-token pricing for one model.
type Rate struct {
	Input      float64
	Output     float64
	CacheRead  float64
	CacheWrite float64
}

// Built-in pricing per million tokens. The table is configuration, not
// behavior: config.toml [pricing.<model>] sections override or extend it.
var defaultRates = map[string]Rate{
	"claude-sonnet-4-5": {Input: 3.0, Output: 15.0, CacheRead: 0.30, CacheWrite: 3.75},
	"claude-opus-4-5":   {Input: 5.0, Output: 25.0, CacheRead: 0.50, CacheWrite: 6.25},
	"claude-haiku-4-5":  {Input: 1.0, Output: 5.0, CacheRead: 0.10, CacheWrite: 1.25},
	"gpt-5.2-codex":     {Input: 1.25, Output: 10.0, CacheRead: 0.125},
	"gpt-5.1-codex":     {Input: 1.25, Output: 10.0, CacheRead: 0.125},
	"gemini-2.5-pro":    {Input: 1.25, Output: 10.0},
	"gemini-2.5-flash":  {Input: 0.15, Output: 0.60},
	"gemini-3-pro":      {Input: 2.0, Output: 12.0},
}

// Per-provider fallbacks when the model string matches nothing above.
var providerFallbacks = map[string]Rate{
	"claude": {Input: 3.0, Output: 15.0, CacheRead: 0.30, CacheWrite: 3.75},
	"gpt":    {Input: 1.25, Output: 10.0, CacheRead: 0.125},
	"gemini": {Input: 1.25, Output: 10.0},
}

var (
	ratesMu   sync.RWMutex
	userRates = map[string]Rate{}
)

// ApplyPricingConfig installs user pricing overrides from config.toml.
func ApplyPricingConfig(pricing map[string]config.Rate) {
	ratesMu.Lock()
	defer ratesMu.Unlock()
	userRates = make(map[string]Rate, len(pricing))
	for model, r := range pricing {
		userRates[model] = Rate{
			Input:      r.Input,
			Output:     r.Output,
			CacheRead:  r.CacheRead,
			CacheWrite: r.CacheWrite,
		}
	}
}

// RateFor resolves a model string to pricing: exact user override, exact
// built-in, prefix match, then provider fallback (Claude's by default — the
// most conservative of the three).
func RateFor(model string) Rate {
	ratesMu.RLock()
	if r, ok := userRates[model]; ok {
		ratesMu.RUnlock()
		return r
	}
	ratesMu.RUnlock()

	if r, ok := defaultRates[model]; ok {
		return r
	}
	for known, r := range defaultRates {
		if model != "" && strings.HasPrefix(model, known) {
			return r
		}
	}
	for prefix, r := range providerFallbacks {
		if strings.HasPrefix(model, prefix) {
			return r
		}
	}
	return providerFallbacks["claude"]
}
