// Package payment implements the 402-challenge / signed-authorization /
// retry state machine (spec.md §4.2) with a pre-authorization cache so
// most requests skip the challenge round-trip entirely. Cache shape is
// grounded on eugener-gandalf/internal/cache/memory.go (otter-backed,
// per-entry TTL); signing coalescation uses golang.org/x/sync/singleflight,
// already part of the teacher's dependency set via internal/worker's use
// of the sibling x/sync/errgroup package.
package payment

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
	"golang.org/x/sync/singleflight"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clawrouter/clawrouter-proxy/internal/core"
	"github.com/clawrouter/clawrouter-proxy/internal/payment/signer"
)

// Config holds the engine's tunables, all with spec-mandated defaults.
type Config struct {
	DefaultTTL time.Duration // cap on pre-auth cache entry lifetime (default 5 min)
	SafetySkew time.Duration // margin subtracted from a record's expiry before it's trusted
	MaxEntries int           // pre-auth cache capacity

	// Tracer, when non-nil, emits a child span around each signer call
	// (SPEC_FULL.md's telemetry wiring: "child span per signer call").
	// A nil Tracer disables tracing and avoids the allocation, the same
	// convention eugener-gandalf/internal/app/proxy.go uses.
	Tracer trace.Tracer
}

// DefaultConfig returns spec.md §4.2's defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 5 * time.Minute,
		SafetySkew: 5 * time.Second,
		MaxEntries: 512,
	}
}

// Engine drives the per-request payment state machine.
type Engine struct {
	signer signer.Signer
	cache  *otter.Cache[string, core.PreAuthRecord]
	sf     singleflight.Group
	cfg    Config
}

// New builds an Engine over the given signer and configuration.
func New(s signer.Signer, cfg Config) (*Engine, error) {
	c, err := otter.New[string, core.PreAuthRecord](&otter.Options[string, core.PreAuthRecord]{
		MaximumSize:      cfg.MaxEntries,
		ExpiryCalculator: otter.ExpiryWriting[string, core.PreAuthRecord](cfg.DefaultTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create pre-auth cache: %w", err)
	}
	return &Engine{signer: s, cache: c, cfg: cfg}, nil
}

// WalletAddress reports the signer's address, surfaced on the health
// endpoint and proxy handle (spec.md §3 "Proxy handle").
func (e *Engine) WalletAddress() string { return e.signer.Address() }

func cacheKey(endpointHost, model string) string { return endpointHost + "|" + model }

// Prepare returns headers to attach to the initial upstream attempt: a
// cached pre-authorization if one is live, or no headers at all (spec.md
// §4.2 "prepare").
func (e *Engine) Prepare(endpointHost, model string) map[string]string {
	rec, ok := e.cache.GetIfPresent(cacheKey(endpointHost, model))
	if !ok {
		return nil
	}
	if time.Now().After(rec.ExpiresAt.Add(-e.cfg.SafetySkew)) {
		return nil
	}
	return map[string]string{"X-Payment-Authorization": rec.SignedHeader}
}

// Satisfy signs a payment authorization for challenge and returns the
// header to retry the request with. Concurrent Satisfy calls for the
// same (endpoint, model) pair coalesce onto a single signature via
// singleflight, per spec.md §4.2 "Concurrency".
func (e *Engine) Satisfy(ctx context.Context, endpointHost, model string, challenge core.PaymentChallenge, body []byte) (map[string]string, error) {
	digest := sha256.Sum256(body)
	key := cacheKey(endpointHost, model)

	type signed struct {
		name, value string
	}
	v, err, _ := e.sf.Do(key, func() (any, error) {
		var span trace.Span
		if e.cfg.Tracer != nil {
			_, span = e.cfg.Tracer.Start(ctx, "payment.sign",
				trace.WithAttributes(
					attribute.String("model", model),
					attribute.String("endpoint", endpointHost),
				),
			)
		}
		name, value, err := e.signer.Sign(challenge, digest[:])
		if span != nil {
			span.End()
		}
		if err != nil {
			return nil, err
		}
		return signed{name: name, value: value}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign payment authorization: %w", err)
	}
	s := v.(signed)
	return map[string]string{s.name: s.value}, nil
}

// Observe updates the pre-auth cache after an upstream response: a 2xx
// refreshes the cached record with the latest price and expiry; a 402
// invalidates whatever was cached (spec.md §4.2 "observe").
func (e *Engine) Observe(endpointHost, model string, challenge core.PaymentChallenge, headerValue string, statusAfterRetry int) {
	key := cacheKey(endpointHost, model)
	if statusAfterRetry == 402 {
		e.cache.Invalidate(key)
		return
	}
	if statusAfterRetry < 200 || statusAfterRetry > 299 {
		return
	}
	expires := challenge.ValidUntil
	if expires.IsZero() || expires.After(time.Now().Add(e.cfg.DefaultTTL)) {
		expires = time.Now().Add(e.cfg.DefaultTTL)
	}
	e.cache.Set(key, core.PreAuthRecord{
		Endpoint:       endpointHost,
		Model:          model,
		LastKnownPrice: challenge.Amount,
		SignedHeader:   headerValue,
		ExpiresAt:      expires,
	})
}

// Invalidate drops any cached pre-authorization for (endpoint, model),
// e.g. when a cached header itself draws a fresh 402 (a cache-miss signal).
func (e *Engine) Invalidate(endpointHost, model string) {
	e.cache.Invalidate(cacheKey(endpointHost, model))
}
