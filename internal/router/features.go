package router

import "strings"

// extractFeatures computes the 14-dimension feature vector for prompt,
// each element clipped to [0,1] (spec.md §4.1 step 3). prompt is expected
// to already be truncated to cfg.PromptTruncateChars.
func extractFeatures(prompt string, cfg Config) [numDimensions]float64 {
	lower := strings.ToLower(prompt)
	var f [numDimensions]float64

	f[dimTokenCount] = normalizeTokenCount(prompt, cfg.TokenCountThresholds)
	f[dimCodeKeyword] = keywordDensity(lower, cfg.CodeKeywords)
	f[dimReasoningMarker] = markerCount(lower, cfg.ReasoningMarkers)
	f[dimTechnicalTerm] = keywordDensity(lower, cfg.TechnicalTerms)
	f[dimCreativeMarker] = keywordDensity(lower, cfg.CreativeMarkers)
	f[dimSimpleIndicator] = keywordDensity(lower, cfg.SimpleIndicators)
	f[dimMultiStepPattern] = markerCount(lower, cfg.MultiStepPatterns)
	f[dimQuestionComplexity] = questionComplexity(prompt)
	f[dimImperativeVerb] = keywordDensity(lower, cfg.ImperativeVerbs)
	f[dimConstraintIndicator] = keywordDensity(lower, cfg.ConstraintIndicators)
	f[dimOutputFormat] = boolFeature(containsAny(lower, cfg.OutputFormatMarkers))
	f[dimBackReference] = backReferenceComplexity(lower)
	f[dimNegation] = negationComplexity(lower)
	f[dimDomainSpecificity] = keywordDensity(lower, cfg.DomainTerms)

	for i, v := range f {
		f[i] = clip01(v)
	}
	return f
}

// approxTokenCount estimates token count as chars/4, the same rough
// heuristic the teacher's tokencount package uses for non-tiktoken paths.
func approxTokenCount(s string) int {
	return len(s) / 4
}

// normalizeTokenCount maps a raw token count to [0,1] via three breakpoints:
// 0 below thresholds[0], linearly ramping to 1 at thresholds[2] and beyond.
func normalizeTokenCount(prompt string, thresholds [3]int) float64 {
	n := approxTokenCount(prompt)
	switch {
	case n <= thresholds[0]:
		return 0
	case n >= thresholds[2]:
		return 1
	case n <= thresholds[1]:
		return 0.5 * float64(n-thresholds[0]) / float64(thresholds[1]-thresholds[0])
	default:
		return 0.5 + 0.5*float64(n-thresholds[1])/float64(thresholds[2]-thresholds[1])
	}
}

// keywordDensity counts distinct keywords present, normalized by a soft cap
// of 4 distinct hits (beyond which the dimension saturates at 1.0).
func keywordDensity(lower string, keywords []string) float64 {
	const saturateAt = 4
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return float64(hits) / saturateAt
}

// markerCount is keywordDensity with a lower saturation cap of 2, used for
// dimensions where even a single strong marker should dominate the signal
// (reasoning markers, multi-step patterns).
func markerCount(lower string, markers []string) float64 {
	const saturateAt = 2
	hits := 0
	for _, m := range markers {
		if strings.Contains(lower, m) {
			hits++
		}
	}
	return float64(hits) / saturateAt
}

// countMarkerHits returns the raw (unsaturated) number of distinct markers
// present, used by the override rules which need the exact count rather
// than a normalized density.
func countMarkerHits(prompt string, markers []string) int {
	lower := strings.ToLower(prompt)
	hits := 0
	for _, m := range markers {
		if strings.Contains(lower, m) {
			hits++
		}
	}
	return hits
}

func containsAny(lower string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// questionComplexity scores the density of question marks and
// interrogative nesting (multiple "?" or embedded "why"/"how" clauses
// signal compound questions).
func questionComplexity(prompt string) float64 {
	marks := strings.Count(prompt, "?")
	if marks == 0 {
		return 0
	}
	lower := strings.ToLower(prompt)
	nested := strings.Count(lower, "why") + strings.Count(lower, "how")
	return float64(marks-1)*0.3 + float64(nested)*0.2
}

// backReferenceComplexity approximates how much the prompt refers back to
// earlier parts of itself ("as mentioned", "the above", "previously"),
// a weak proxy for multi-turn reasoning load.
func backReferenceComplexity(lower string) float64 {
	refs := []string{"as mentioned", "the above", "previously", "that said", "referring to"}
	return markerCount(lower, refs)
}

// negationComplexity scores density of negation, which tends to raise
// the effective reasoning load of a prompt ("not", "except", "without").
func negationComplexity(lower string) float64 {
	negations := []string{" not ", " except ", " without ", " unless ", "n't "}
	hits := 0
	for _, n := range negations {
		hits += strings.Count(lower, n)
	}
	const saturateAt = 3
	return float64(hits) / saturateAt
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// dotProduct computes the weighted composite score from a feature vector
// and the configured weight vector. Weights may be negative (e.g. the
// simple-indicator dimension pulls the score down).
func dotProduct(features, weights [numDimensions]float64) float64 {
	var sum float64
	for i := range features {
		sum += features[i] * weights[i]
	}
	return clip01(sum)
}
