// Package config loads the routing configuration file (spec.md §6
// "Routing configuration (recognized options)") with environment
// variable expansion, the same YAML-plus-${VAR} convention as
// eugener-gandalf's own config loader.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"go.yaml.in/yaml/v3"

	"github.com/clawrouter/clawrouter-proxy/internal/catalog"
	"github.com/clawrouter/clawrouter-proxy/internal/core"
	"github.com/clawrouter/clawrouter-proxy/internal/router"
)

// Config is the on-disk routing configuration: the "scoring", "tiers",
// and "overrides" sections from spec.md §6's table. Any field left at
// its zero value inherits router.DefaultConfig()/catalog.DefaultTiers().
type Config struct {
	Scoring   ScoringConfig          `yaml:"scoring"`
	Tiers     map[string]TierEntry   `yaml:"tiers"`
	Overrides OverridesConfig        `yaml:"overrides"`
}

// ScoringConfig mirrors router.Config's recognized options.
type ScoringConfig struct {
	TokenCountThresholds *[3]int    `yaml:"tokenCountThresholds"`
	CodeKeywords         []string   `yaml:"codeKeywords"`
	ReasoningKeywords    []string   `yaml:"reasoningKeywords"`
	TechnicalKeywords    []string   `yaml:"technicalKeywords"`
	CreativeKeywords     []string   `yaml:"creativeKeywords"`
	SimpleKeywords       []string   `yaml:"simpleKeywords"`
	MultiStepKeywords    []string   `yaml:"multiStepKeywords"`
	ImperativeKeywords   []string   `yaml:"imperativeKeywords"`
	ConstraintKeywords   []string   `yaml:"constraintKeywords"`
	OutputFormatKeywords []string   `yaml:"outputFormatKeywords"`
	DomainKeywords       []string   `yaml:"domainKeywords"`
	DimensionWeights     *[14]float64 `yaml:"dimensionWeights"`
	TierBoundaries       *[3]float64  `yaml:"tierBoundaries"`
	ConfidenceSteepness  *float64   `yaml:"confidenceSteepness"`
	ConfidenceThreshold  *float64   `yaml:"confidenceThreshold"`
}

// TierEntry is one tiers.{SIMPLE,MEDIUM,COMPLEX,REASONING} entry:
// {primary, fallback[]}.
type TierEntry struct {
	Primary  string   `yaml:"primary"`
	Fallback []string `yaml:"fallback"`
}

// OverridesConfig mirrors router.Config's forced-rule options.
type OverridesConfig struct {
	MaxTokensForceComplex   *int    `yaml:"maxTokensForceComplex"`
	StructuredOutputMinTier string  `yaml:"structuredOutputMinTier"`
	AmbiguousDefaultTier    string  `yaml:"ambiguousDefaultTier"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values,
// leaving unmatched references untouched.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses the routing configuration file at path,
// expanding ${VAR} references first. A missing file is not an error:
// callers get the zero Config, whose RouterConfig and CatalogConfig
// return pure defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// RouterConfig overlays the recognized "scoring" and "overrides"
// options onto router.DefaultConfig(), leaving any option the file
// omits at its reference default.
func (c *Config) RouterConfig() router.Config {
	rc := router.DefaultConfig()
	if c == nil {
		return rc
	}
	s := c.Scoring
	if s.TokenCountThresholds != nil {
		rc.TokenCountThresholds = *s.TokenCountThresholds
	}
	if len(s.CodeKeywords) > 0 {
		rc.CodeKeywords = s.CodeKeywords
	}
	if len(s.ReasoningKeywords) > 0 {
		rc.ReasoningMarkers = s.ReasoningKeywords
	}
	if len(s.TechnicalKeywords) > 0 {
		rc.TechnicalTerms = s.TechnicalKeywords
	}
	if len(s.CreativeKeywords) > 0 {
		rc.CreativeMarkers = s.CreativeKeywords
	}
	if len(s.SimpleKeywords) > 0 {
		rc.SimpleIndicators = s.SimpleKeywords
	}
	if len(s.MultiStepKeywords) > 0 {
		rc.MultiStepPatterns = s.MultiStepKeywords
	}
	if len(s.ImperativeKeywords) > 0 {
		rc.ImperativeVerbs = s.ImperativeKeywords
	}
	if len(s.ConstraintKeywords) > 0 {
		rc.ConstraintIndicators = s.ConstraintKeywords
	}
	if len(s.OutputFormatKeywords) > 0 {
		rc.OutputFormatMarkers = s.OutputFormatKeywords
	}
	if len(s.DomainKeywords) > 0 {
		rc.DomainTerms = s.DomainKeywords
	}
	if s.DimensionWeights != nil {
		rc.DimensionWeights = *s.DimensionWeights
	}
	if s.TierBoundaries != nil {
		rc.TierBoundaries = *s.TierBoundaries
	}
	if s.ConfidenceSteepness != nil {
		rc.ConfidenceSteepness = *s.ConfidenceSteepness
	}
	if s.ConfidenceThreshold != nil {
		rc.ConfidenceThreshold = *s.ConfidenceThreshold
	}

	o := c.Overrides
	if o.MaxTokensForceComplex != nil {
		rc.MaxTokensForceComplex = *o.MaxTokensForceComplex
	}
	if t, ok := parseTier(o.StructuredOutputMinTier); ok {
		rc.StructuredOutputMinTier = t
	}
	if t, ok := parseTier(o.AmbiguousDefaultTier); ok {
		rc.AmbiguousDefaultTier = t
	}
	return rc
}

// CatalogConfig overlays the recognized "tiers" option onto
// catalog.DefaultTiers(), one tier at a time: a tier absent from the
// file keeps its reference primary/fallback list.
func (c *Config) CatalogConfig() catalog.Config {
	tiers := catalog.DefaultTiers()
	if c == nil {
		return catalog.Config{Tiers: tiers}
	}
	for key, entry := range c.Tiers {
		t, ok := parseTier(key)
		if !ok || entry.Primary == "" {
			continue
		}
		tiers[t] = catalog.TierModels{Primary: entry.Primary, Fallbacks: entry.Fallback}
	}
	return catalog.Config{Tiers: tiers}
}

func parseTier(s string) (core.Tier, bool) {
	switch s {
	case "SIMPLE":
		return core.TierSimple, true
	case "MEDIUM":
		return core.TierMedium, true
	case "COMPLEX":
		return core.TierComplex, true
	case "REASONING":
		return core.TierReasoning, true
	default:
		return core.Tier(0), false
	}
}

// Disabled reports whether CLAWROUTER_DISABLED is truthy (spec.md §6):
// the proxy registers but does not intercept requests.
func Disabled(envValue string) bool {
	v, err := strconv.ParseBool(envValue)
	return err == nil && v
}
