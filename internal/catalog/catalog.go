// Package catalog holds the static model metadata and alias resolution
// table used by the router and forwarder. The catalog is immutable for
// the life of the process (spec.md §3 "Model descriptor").
package catalog

import (
	"strings"

	"github.com/clawrouter/clawrouter-proxy/internal/core"
)

// TierModels is the ordered (primary, fallback...) model list for one tier.
type TierModels struct {
	Primary   string
	Fallbacks []string
}

// All returns the tier's models in failover order: primary first.
func (t TierModels) All() []string {
	out := make([]string, 0, 1+len(t.Fallbacks))
	out = append(out, t.Primary)
	return append(out, t.Fallbacks...)
}

// Catalog holds model descriptors, tier lists, and the alias table. It is
// safe for concurrent read access; it is never mutated after New.
type Catalog struct {
	models  map[string]core.ModelDescriptor
	tiers   map[core.Tier]TierModels
	aliases map[string]string // lowercased shorthand -> canonical id
}

// Config is the set of recognized options from spec.md §6 that shape a
// Catalog: per-tier primary/fallback lists. Model descriptors and the
// alias table are supplied separately since they are catalog data, not
// routing policy.
type Config struct {
	Tiers map[core.Tier]TierModels
}

// New builds a Catalog from model descriptors and an alias table.
func New(models []core.ModelDescriptor, aliases map[string]string, cfg Config) *Catalog {
	c := &Catalog{
		models:  make(map[string]core.ModelDescriptor, len(models)),
		tiers:   cfg.Tiers,
		aliases: make(map[string]string, len(aliases)),
	}
	for _, m := range models {
		c.models[m.ID] = m
	}
	for k, v := range aliases {
		c.aliases[strings.ToLower(k)] = v
	}
	return c
}

// hostPrefixes are gateway-style prefixes clients sometimes send ahead of
// a vendor/model id, mirroring how some OpenAI-compatible gateways expect
// "openrouter/anthropic/claude-3" or Google's "models/gemini-..." form.
// None of clawrouter's own catalog ids carry these, so stripping one before
// alias lookup is always safe.
var hostPrefixes = []string{"openrouter/", "models/"}

// Resolve maps a requested model id through the alias table, first
// stripping a recognized gateway host prefix so a client that copies a
// model id from another router's response still resolves (spec.md §4.1
// step 1). It returns the input unchanged if no prefix or alias matches --
// callers decide whether the result is a known model, a tier keyword, or
// AUTO.
func (c *Catalog) Resolve(id string) string {
	stripped := id
	for _, p := range hostPrefixes {
		if len(stripped) > len(p) && strings.EqualFold(stripped[:len(p)], p) {
			stripped = stripped[len(p):]
			break
		}
	}
	if canon, ok := c.aliases[strings.ToLower(stripped)]; ok {
		return canon
	}
	if _, ok := c.models[stripped]; ok {
		return stripped
	}
	return id
}

// Lookup returns the descriptor for a canonical model id.
func (c *Catalog) Lookup(id string) (core.ModelDescriptor, bool) {
	m, ok := c.models[id]
	return m, ok
}

// IsKnownModel reports whether id (after alias resolution) names a real model.
func (c *Catalog) IsKnownModel(id string) bool {
	_, ok := c.models[c.Resolve(id)]
	return ok
}

// TierList returns the ordered model list for a tier.
func (c *Catalog) TierList(t core.Tier) TierModels {
	return c.tiers[t]
}

// CheapestFitting returns the cheapest model in the tier whose context
// window is at least minWindow, or "" if none fit (spec.md §4.1 edge case:
// "Context size exceeds the primary model's window").
func (c *Catalog) CheapestFitting(t core.Tier, minWindow int) string {
	tl := c.tiers[t]
	best := ""
	bestCost := -1.0
	for _, id := range tl.All() {
		m, ok := c.models[id]
		if !ok || m.ContextWindow < minWindow {
			continue
		}
		cost := m.InputCostPerMToken + m.OutputCostPerMToken
		if best == "" || cost < bestCost {
			best, bestCost = id, cost
		}
	}
	return best
}

// MostExpensiveReasoning returns the highest-cost reasoning-capable model,
// used by the router as the baseline for savings calculations (spec.md §4.1
// step 7 "baselineCost").
func (c *Catalog) MostExpensiveReasoning() (core.ModelDescriptor, bool) {
	var best core.ModelDescriptor
	found := false
	for _, m := range c.models {
		if !m.ReasoningCapable {
			continue
		}
		if !found || (m.InputCostPerMToken+m.OutputCostPerMToken) > (best.InputCostPerMToken+best.OutputCostPerMToken) {
			best, found = m, true
		}
	}
	return best, found
}

// DefaultModels returns a reference catalog wired for the spec's four
// tiers plus the FREE fallback. Hosts are expected to override this via
// their own config in production; it exists so the proxy is usable
// out of the box and so tests have stable fixtures.
func DefaultModels() []core.ModelDescriptor {
	return []core.ModelDescriptor{
		{ID: "anthropic/claude-haiku-4.5", DisplayName: "Claude Haiku 4.5", ContextWindow: 200_000, MaxOutputTokens: 8192, InputCostPerMToken: 1, OutputCostPerMToken: 5, SupportsTools: true, SupportsStreaming: true, TierAffinity: core.TierSimple},
		{ID: "openai/gpt-5-mini", DisplayName: "GPT-5 Mini", ContextWindow: 128_000, MaxOutputTokens: 16384, InputCostPerMToken: 0.4, OutputCostPerMToken: 1.6, SupportsTools: true, SupportsStreaming: true, TierAffinity: core.TierSimple},
		{ID: "anthropic/claude-sonnet-4.6", DisplayName: "Claude Sonnet 4.6", ContextWindow: 200_000, MaxOutputTokens: 16384, InputCostPerMToken: 3, OutputCostPerMToken: 15, SupportsTools: true, SupportsStreaming: true, TierAffinity: core.TierMedium},
		{ID: "openai/gpt-5", DisplayName: "GPT-5", ContextWindow: 256_000, MaxOutputTokens: 32768, InputCostPerMToken: 5, OutputCostPerMToken: 15, SupportsTools: true, SupportsStreaming: true, TierAffinity: core.TierMedium},
		{ID: "anthropic/claude-opus-4.6", DisplayName: "Claude Opus 4.6", ContextWindow: 200_000, MaxOutputTokens: 32768, InputCostPerMToken: 15, OutputCostPerMToken: 75, ReasoningCapable: true, SupportsTools: true, SupportsStreaming: true, TierAffinity: core.TierComplex},
		{ID: "openai/o4", DisplayName: "o4", ContextWindow: 200_000, MaxOutputTokens: 65536, InputCostPerMToken: 12, OutputCostPerMToken: 48, ReasoningCapable: true, SupportsTools: true, SupportsStreaming: true, TierAffinity: core.TierReasoning},
		{ID: "anthropic/claude-opus-4.6-thinking", DisplayName: "Claude Opus 4.6 (extended thinking)", ContextWindow: 200_000, MaxOutputTokens: 65536, InputCostPerMToken: 18, OutputCostPerMToken: 90, ReasoningCapable: true, SupportsTools: true, SupportsStreaming: true, TierAffinity: core.TierReasoning},
		{ID: "meta/llama-4-scout-free", DisplayName: "Llama 4 Scout (free tier)", ContextWindow: 128_000, MaxOutputTokens: 8192, InputCostPerMToken: 0, OutputCostPerMToken: 0, SupportsTools: false, SupportsStreaming: true, TierAffinity: core.TierSimple},
	}
}

// DefaultAliases maps common shorthands and tier keywords to canonical ids.
func DefaultAliases() map[string]string {
	return map[string]string{
		"haiku":       "anthropic/claude-haiku-4.5",
		"sonnet":      "anthropic/claude-sonnet-4.6",
		"sonnet-4.6":  "anthropic/claude-sonnet-4.6",
		"opus":        "anthropic/claude-opus-4.6",
		"opus-4.6":    "anthropic/claude-opus-4.6",
		"gpt-5-mini":  "openai/gpt-5-mini",
		"gpt-5":       "openai/gpt-5",
		"o4":          "openai/o4",
		core.FreeModel: "meta/llama-4-scout-free",
	}
}

// DefaultTiers wires the four tiers plus free-tier fallback to DefaultModels.
func DefaultTiers() map[core.Tier]TierModels {
	return map[core.Tier]TierModels{
		core.TierSimple:     {Primary: "anthropic/claude-haiku-4.5", Fallbacks: []string{"openai/gpt-5-mini", "meta/llama-4-scout-free"}},
		core.TierMedium:     {Primary: "anthropic/claude-sonnet-4.6", Fallbacks: []string{"openai/gpt-5", "anthropic/claude-haiku-4.5"}},
		core.TierComplex:    {Primary: "anthropic/claude-opus-4.6", Fallbacks: []string{"openai/gpt-5", "anthropic/claude-sonnet-4.6"}},
		core.TierReasoning:  {Primary: "openai/o4", Fallbacks: []string{"anthropic/claude-opus-4.6-thinking", "anthropic/claude-opus-4.6"}},
	}
}
