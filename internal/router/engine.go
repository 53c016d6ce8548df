// Package router implements the deterministic prompt-complexity classifier
// (spec.md §4.1 "Smart Router"): a pure, synchronous scoring function that
// maps a chat request to a model and tier without ever touching the
// network. Grounded in the teacher's alias-resolution style
// (internal/app/router.go) and the weighted-coefficient / bounded-scan
// idiom of the sibling example's directive parser.
package router

import (
	"math"
	"strings"

	"github.com/clawrouter/clawrouter-proxy/internal/catalog"
	"github.com/clawrouter/clawrouter-proxy/internal/core"
)

// Input is everything the router needs to make a decision. It carries no
// context.Context: routing is pure, in-memory, and must complete well
// under a millisecond (spec.md §8 performance note).
type Input struct {
	RequestedModel string
	Prompt         string // concatenation of user message content, caller's responsibility
	MaxTokens      int
	HasTools       bool
	WantsJSONOut   bool
	WalletEmpty    bool
}

// Router scores prompts and resolves them to a concrete model.
type Router struct {
	cfg Config
	cat *catalog.Catalog
}

// New builds a Router over the given catalog and scoring configuration.
func New(cat *catalog.Catalog, cfg Config) *Router {
	return &Router{cfg: cfg, cat: cat}
}

// Route is the router's single entry point. It is deterministic: the same
// Input always yields an equal RoutingDecision (spec.md §8 purity
// invariant).
func (r *Router) Route(in Input) core.RoutingDecision {
	requested := strings.TrimSpace(in.RequestedModel)
	if requested != "" && !strings.EqualFold(requested, core.AutoModel) {
		canon := r.cat.Resolve(requested)
		if r.cat.IsKnownModel(canon) {
			return r.forcedDecision(canon, "caller requested an explicit model")
		}
		// Unknown explicit model falls through to scoring rather than
		// erroring here; validation at the HTTP boundary rejects it
		// before routing is ever reached in the common case.
	}

	if in.WalletEmpty {
		return r.freeFallback("wallet balance exhausted")
	}

	prompt := in.Prompt
	if len(prompt) > r.cfg.PromptTruncateChars {
		prompt = prompt[:r.cfg.PromptTruncateChars]
	}

	if strings.TrimSpace(prompt) == "" {
		return r.tierDecision(core.TierSimple, 1.0, core.MethodDefault, in, "empty prompt defaults to the simple tier")
	}

	if in.MaxTokens >= r.cfg.MaxTokensForceComplex {
		return r.tierDecision(core.TierComplex, 1.0, core.MethodForced, in, "max_tokens at or above the complex-forcing threshold")
	}

	reasoningHits := countMarkerHits(prompt, r.cfg.ReasoningMarkers)
	if reasoningHits >= r.cfg.ReasoningMarkerForceCount {
		return r.tierDecision(core.TierReasoning, 0.97, core.MethodForced, in, "two or more reasoning markers present")
	}

	features := extractFeatures(prompt, r.cfg)
	score := dotProduct(features, r.cfg.DimensionWeights)
	distance := math.Inf(1)
	for _, b := range r.cfg.TierBoundaries {
		distance = math.Min(distance, math.Abs(score-b))
	}
	confidence := sigmoid(distance, r.cfg.ConfidenceSteepness)

	tier := tierForScore(score, r.cfg.TierBoundaries)

	if in.HasTools || in.WantsJSONOut {
		if tier < r.cfg.StructuredOutputMinTier {
			tier = r.cfg.StructuredOutputMinTier
		}
	}

	method := core.MethodScored
	if confidence < r.cfg.ConfidenceThreshold {
		tier = r.cfg.AmbiguousDefaultTier
		method = core.MethodDefault
	}

	return r.tierDecision(tier, confidence, method, in, "composite score placed the prompt in this tier")
}

// tierForScore maps a composite score to a tier via the three configured
// boundaries (spec.md §4.1 step 4).
func tierForScore(score float64, boundaries [3]float64) core.Tier {
	switch {
	case score < boundaries[0]:
		return core.TierSimple
	case score < boundaries[1]:
		return core.TierMedium
	case score < boundaries[2]:
		return core.TierComplex
	default:
		return core.TierReasoning
	}
}

// sigmoid applies logistic calibration to a score's distance from the
// nearest tier boundary: a score sitting on a boundary gets 0.5, and
// confidence saturates smoothly toward 1 as the score moves away from it
// (spec.md §4.1 step 5).
func sigmoid(distance, steepness float64) float64 {
	return 1 / (1 + math.Exp(-steepness*distance))
}

// tierDecision resolves the tier's primary model (or, when max_tokens
// exceeds the primary's context window, the cheapest model in the tier
// whose window fits) and fills in cost accounting.
func (r *Router) tierDecision(tier core.Tier, confidence float64, method core.Method, in Input, reason string) core.RoutingDecision {
	model := r.cat.TierList(tier).Primary
	if desc, ok := r.cat.Lookup(model); ok && in.MaxTokens > desc.ContextWindow {
		if fitting := r.cat.CheapestFitting(tier, in.MaxTokens); fitting != "" {
			model = fitting
		}
	}
	t := tier
	return core.RoutingDecision{
		Model:        model,
		Tier:         &t,
		Confidence:   clip01(confidence),
		Method:       method,
		CostEstimate: r.estimateCost(model, in),
		BaselineCost: r.baselineCost(in),
		Savings:      r.savings(model, in),
		Reasoning:    reason,
	}
}

// forcedDecision builds a decision for an explicitly requested, known model.
func (r *Router) forcedDecision(model, reason string) core.RoutingDecision {
	var tierPtr *core.Tier
	if desc, ok := r.cat.Lookup(model); ok {
		t := desc.TierAffinity
		tierPtr = &t
	}
	in := Input{RequestedModel: model}
	return core.RoutingDecision{
		Model:        model,
		Tier:         tierPtr,
		Confidence:   1.0,
		Method:       core.MethodForced,
		CostEstimate: r.estimateCost(model, in),
		BaselineCost: r.baselineCost(in),
		Savings:      r.savings(model, in),
		Reasoning:    reason,
	}
}

// freeFallback routes to the FREE model regardless of score, used when
// the local wallet has no funds left to authorize payment (spec.md §4.2).
func (r *Router) freeFallback(reason string) core.RoutingDecision {
	model := r.cat.Resolve(core.FreeModel)
	t := core.TierSimple
	if desc, ok := r.cat.Lookup(model); ok {
		t = desc.TierAffinity
	}
	return core.RoutingDecision{
		Model:        model,
		Tier:         &t,
		Confidence:   1.0,
		Method:       core.MethodFreeFallback,
		CostEstimate: 0,
		BaselineCost: r.baselineCost(Input{}),
		Savings:      r.baselineCost(Input{}),
		Reasoning:    reason,
	}
}

// estimateCost approximates the per-request cost of model using a fixed
// small completion-token assumption when MaxTokens is unset, matching the
// teacher's cost-estimation style in internal/server/proxy.go.
func (r *Router) estimateCost(model string, in Input) float64 {
	desc, ok := r.cat.Lookup(model)
	if !ok {
		return 0
	}
	promptTokens := float64(approxTokenCount(in.Prompt))
	completionTokens := float64(defaultCompletionTokenEstimate)
	if in.MaxTokens > 0 {
		completionTokens = float64(in.MaxTokens)
	}
	return promptTokens/1_000_000*desc.InputCostPerMToken + completionTokens/1_000_000*desc.OutputCostPerMToken
}

// baselineCost is what the same request would have cost on the most
// expensive reasoning-capable model, the router's savings reference point
// (spec.md §4.1 step 7).
func (r *Router) baselineCost(in Input) float64 {
	desc, ok := r.cat.MostExpensiveReasoning()
	if !ok {
		return 0
	}
	promptTokens := float64(approxTokenCount(in.Prompt))
	completionTokens := float64(defaultCompletionTokenEstimate)
	if in.MaxTokens > 0 {
		completionTokens = float64(in.MaxTokens)
	}
	return promptTokens/1_000_000*desc.InputCostPerMToken + completionTokens/1_000_000*desc.OutputCostPerMToken
}

func (r *Router) savings(model string, in Input) float64 {
	s := r.baselineCost(in) - r.estimateCost(model, in)
	if s < 0 {
		return 0
	}
	return s
}

// defaultCompletionTokenEstimate is used for cost accounting when the
// caller did not set max_tokens.
const defaultCompletionTokenEstimate = 500
