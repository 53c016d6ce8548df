package router

import "github.com/clawrouter/clawrouter-proxy/internal/core"

// numDimensions is the fixed number of scoring dimensions (spec.md §4.1
// step 3): normalized token count, code-keyword density, reasoning-marker
// count, technical-term density, creative-marker density, simple-indicator
// density, multi-step pattern count, question complexity, imperative-verb
// count, constraint-indicator count, explicit output-format request,
// back-reference complexity, negation complexity, domain-specificity.
const numDimensions = 14

// Dimension indexes into Config.DimensionWeights and the feature vector.
const (
	dimTokenCount = iota
	dimCodeKeyword
	dimReasoningMarker
	dimTechnicalTerm
	dimCreativeMarker
	dimSimpleIndicator
	dimMultiStepPattern
	dimQuestionComplexity
	dimImperativeVerb
	dimConstraintIndicator
	dimOutputFormat
	dimBackReference
	dimNegation
	dimDomainSpecificity
)

// Config holds the recognized routing configuration options from
// spec.md §6. All fields have sane defaults via DefaultConfig.
type Config struct {
	// PromptTruncateChars bounds how much of the prompt is scored (default 500).
	PromptTruncateChars int

	// TokenCountThresholds are the breakpoints used to normalize the raw
	// token-count feature into [0,1].
	TokenCountThresholds [3]int

	// Keyword lists backing the ten lexicon-based dimensions.
	CodeKeywords       []string
	ReasoningMarkers    []string
	TechnicalTerms      []string
	CreativeMarkers     []string
	SimpleIndicators    []string
	MultiStepPatterns   []string
	ImperativeVerbs     []string
	ConstraintIndicators []string
	OutputFormatMarkers []string
	DomainTerms         []string

	// DimensionWeights is the 14-vector dot-producted with the feature
	// vector to produce the composite score. Must sum to 1.0.
	DimensionWeights [numDimensions]float64

	// TierBoundaries are the three thresholds on the composite score that
	// separate SIMPLE|MEDIUM|COMPLEX|REASONING.
	TierBoundaries [3]float64

	// ConfidenceSteepness is the logistic sigmoid slope (default 12).
	ConfidenceSteepness float64

	// ConfidenceThreshold: below this, method switches to "default" (default 0.70).
	ConfidenceThreshold float64

	// AmbiguousDefaultTier is returned when confidence < ConfidenceThreshold.
	AmbiguousDefaultTier core.Tier

	// MaxTokensForceComplex promotes to COMPLEX at or above this max_tokens (default 100000).
	MaxTokensForceComplex int

	// StructuredOutputMinTier is the floor tier when tools/JSON schema is requested.
	StructuredOutputMinTier core.Tier

	// ReasoningMarkerForceCount is how many distinct reasoning markers force REASONING (spec.md: "two or more").
	ReasoningMarkerForceCount int
}

// DefaultConfig returns the reference scoring configuration. Hosts may
// override any field from their own routing configuration file
// (spec.md §6 "Routing configuration (recognized options)").
func DefaultConfig() Config {
	weights := [numDimensions]float64{}
	// Weighted toward reasoning/technical signal, consistent with
	// spec.md's worked examples (a "prove ... step by step" prompt must
	// clear the REASONING boundary at confidence ~0.97).
	weights[dimTokenCount] = 0.08
	weights[dimCodeKeyword] = 0.08
	weights[dimReasoningMarker] = 0.16
	weights[dimTechnicalTerm] = 0.10
	weights[dimCreativeMarker] = 0.04
	weights[dimSimpleIndicator] = -0.06 // pulls the composite down toward SIMPLE
	weights[dimMultiStepPattern] = 0.12
	weights[dimQuestionComplexity] = 0.08
	weights[dimImperativeVerb] = 0.06
	weights[dimConstraintIndicator] = 0.08
	weights[dimOutputFormat] = 0.06
	weights[dimBackReference] = 0.06
	weights[dimNegation] = 0.05
	weights[dimDomainSpecificity] = 0.09
	normalizeToUnitSum(&weights)

	return Config{
		PromptTruncateChars:  500,
		TokenCountThresholds: [3]int{20, 80, 200},
		CodeKeywords: []string{
			"function", "class", "import", "def ", "struct", "interface",
			"algorithm", "recursion", "pointer", "async", "await", "regex",
			"compile", "stack trace", "null pointer", "race condition",
		},
		ReasoningMarkers: []string{
			"prove", "derive", "step by step", "step-by-step", "formally",
			"contradiction", "theorem", "rigorous", "first principles",
			"counterexample", "induction", "axiom",
		},
		TechnicalTerms: []string{
			"algorithm", "complexity", "architecture", "protocol", "latency",
			"throughput", "concurrency", "distributed", "cryptograph", "kernel",
		},
		CreativeMarkers: []string{
			"write a story", "poem", "imagine", "creative", "metaphor",
			"fictional", "narrative", "character", "scene",
		},
		SimpleIndicators: []string{
			"what is", "who is", "when is", "where is", "capital of",
			"define", "translate", "how do you say",
		},
		MultiStepPatterns: []string{
			"first", "then", "next", "finally", "step 1", "step 2", "afterwards",
		},
		ImperativeVerbs: []string{
			"write", "build", "implement", "design", "refactor", "optimize",
			"analyze", "summarize", "explain", "compare",
		},
		ConstraintIndicators: []string{
			"must", "should not", "only if", "unless", "at most", "at least",
			"within", "without using", "constraint",
		},
		OutputFormatMarkers: []string{
			"json", "yaml", "table", "markdown", "bullet", "csv", "xml",
			"format your answer", "respond with",
		},
		DomainTerms: []string{
			"statute", "clinical", "diagnosis", "pharmacokinetics", "jurisdiction",
			"securities", "thermodynamics", "quantum", "genome",
		},
		DimensionWeights:          weights,
		TierBoundaries:            [3]float64{0.30, 0.55, 0.78},
		ConfidenceSteepness:       12,
		ConfidenceThreshold:       0.70,
		AmbiguousDefaultTier:      core.TierMedium,
		MaxTokensForceComplex:     100_000,
		StructuredOutputMinTier:   core.TierMedium,
		ReasoningMarkerForceCount: 2,
	}
}

// normalizeToUnitSum scales w in place so its elements sum to exactly 1.0.
func normalizeToUnitSum(w *[numDimensions]float64) {
	var sum float64
	for _, v := range w {
		sum += v
	}
	if sum == 0 {
		return
	}
	for i := range w {
		w[i] /= sum
	}
}
