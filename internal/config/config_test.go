package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/clawrouter/clawrouter-proxy/internal/core"
	"github.com/clawrouter/clawrouter-proxy/internal/router"
)

func TestLoad_MissingFileReturnsZeroConfig(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := router.DefaultConfig()
	got := cfg.RouterConfig()
	if got.TierBoundaries != want.TierBoundaries || got.ConfidenceThreshold != want.ConfidenceThreshold {
		t.Errorf("missing file should yield pure defaults, got %+v", got)
	}
}

func TestLoad_OverridesTierBoundariesAndKeywords(t *testing.T) {
	t.Parallel()
	yamlDoc := `
scoring:
  tierBoundaries: [0.2, 0.5, 0.8]
  confidenceThreshold: 0.6
  codeKeywords: ["lambda", "closure"]
overrides:
  maxTokensForceComplex: 50000
  ambiguousDefaultTier: COMPLEX
`
	path := writeTempConfig(t, yamlDoc)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rc := cfg.RouterConfig()
	if rc.TierBoundaries != [3]float64{0.2, 0.5, 0.8} {
		t.Errorf("tierBoundaries = %v", rc.TierBoundaries)
	}
	if rc.ConfidenceThreshold != 0.6 {
		t.Errorf("confidenceThreshold = %v", rc.ConfidenceThreshold)
	}
	if len(rc.CodeKeywords) != 2 || rc.CodeKeywords[0] != "lambda" {
		t.Errorf("codeKeywords = %v", rc.CodeKeywords)
	}
	if rc.MaxTokensForceComplex != 50000 {
		t.Errorf("maxTokensForceComplex = %v", rc.MaxTokensForceComplex)
	}
	if rc.AmbiguousDefaultTier != core.TierComplex {
		t.Errorf("ambiguousDefaultTier = %v, want COMPLEX", rc.AmbiguousDefaultTier)
	}
}

func TestLoad_OverridesTiers(t *testing.T) {
	t.Parallel()
	yamlDoc := `
tiers:
  SIMPLE:
    primary: my-org/custom-simple
    fallback: [my-org/custom-simple-b]
`
	path := writeTempConfig(t, yamlDoc)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cc := cfg.CatalogConfig()
	simple := cc.Tiers[core.TierSimple]
	if simple.Primary != "my-org/custom-simple" {
		t.Errorf("SIMPLE primary = %q", simple.Primary)
	}
	if len(simple.Fallbacks) != 1 || simple.Fallbacks[0] != "my-org/custom-simple-b" {
		t.Errorf("SIMPLE fallback = %v", simple.Fallbacks)
	}
	// Unmentioned tiers keep the reference defaults.
	if cc.Tiers[core.TierReasoning].Primary == "" {
		t.Errorf("REASONING tier should still have a default primary")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CLAWROUTER_TEST_VAR", "resolved-value")
	result := expandEnv([]byte("key: ${CLAWROUTER_TEST_VAR}"))
	if string(result) != "key: resolved-value" {
		t.Errorf("expandEnv = %q", string(result))
	}
}

func TestDisabled(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"":      false,
		"false": false,
		"0":     false,
		"true":  true,
		"1":     true,
	}
	for input, want := range cases {
		if got := Disabled(input); got != want {
			t.Errorf("Disabled(%q) = %v, want %v", input, got, want)
		}
	}
}

func writeTempConfig(t *testing.T, doc string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "routing.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
