// Package forwarder implements the upstream HTTP client that talks to the
// single aggregator endpoint: dnscache-backed transport, the payment
// 402-challenge retry dance, per-target circuit breaking, and a
// primary/fallback model chain. Grounded on
// eugener-gandalf/internal/provider/openai/client.go (dnscache-aware
// transport construction, streaming/non-streaming request shape) and
// eugener-gandalf/internal/app/proxy.go (inlined failover loop over a
// resolved target list, circuit breaker Allow/RecordSuccess/RecordError
// integration).
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clawrouter/clawrouter-proxy/internal/circuitbreaker"
	"github.com/clawrouter/clawrouter-proxy/internal/core"
	"github.com/clawrouter/clawrouter-proxy/internal/payment"
	"github.com/clawrouter/clawrouter-proxy/internal/sseutil"
	"github.com/clawrouter/clawrouter-proxy/internal/telemetry"
)

// Config holds the forwarder's tunables (spec.md §5 "Timeouts").
type Config struct {
	ConnectTimeout        time.Duration
	FirstByteTimeout      time.Duration
	TotalUpstreamDeadline time.Duration

	// Tracer, when non-nil, emits one span per candidate attempt
	// (SPEC_FULL.md's telemetry wiring). A nil Tracer disables tracing.
	Tracer trace.Tracer

	// Metrics, when non-nil, records circuit breaker state and payment
	// challenge counts (SPEC_FULL.md §9's telemetry wiring table).
	Metrics *telemetry.Metrics
}

// DefaultConfig returns spec.md §5's default deadlines.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:        5 * time.Second,
		FirstByteTimeout:      10 * time.Second,
		TotalUpstreamDeadline: 60 * time.Second,
	}
}

// Client forwards requests to the aggregator, handling payment challenges
// and fallback-chain failover.
type Client struct {
	baseURL  string
	host     string
	http     *http.Client
	payments *payment.Engine
	breakers *circuitbreaker.Registry
	cfg      Config
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
}

// New builds a Client targeting baseURL, with DNS caching on the upstream
// host the same way the teacher's provider clients do.
func New(baseURL string, payments *payment.Engine, breakers *circuitbreaker.Registry, cfg Config) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base url: %w", err)
	}

	resolver := &dnscache.Resolver{}
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			d := net.Dialer{Timeout: cfg.ConnectTimeout}
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		},
	}

	return &Client{
		baseURL:  baseURL,
		host:     u.Host,
		http:     &http.Client{Transport: t},
		payments: payments,
		breakers: breakers,
		cfg:      cfg,
		tracer:   cfg.Tracer,
		metrics:  cfg.Metrics,
	}, nil
}

// Result is the outcome of Send: either a non-streaming body or a
// streaming channel, never both.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte                   // set for non-streaming responses
	Stream     <-chan core.StreamChunk  // set for streaming responses
}

// Send attempts candidates in order (primary then fallbacks), forwarding
// req to each until one succeeds or the chain is exhausted. Network
// errors and 5xx trigger the next candidate; explicit 4xx (other than a
// 402 handled internally) is surfaced as-is (spec.md §4.3 "Forwarder").
func (c *Client) Send(ctx context.Context, candidates []string, body []byte, stream bool) (*Result, error) {
	var lastErr error
	for _, model := range candidates {
		targetKey := c.host + "|" + model
		breaker := c.breakers.GetOrCreate(targetKey)
		if !breaker.Allow() {
			if c.metrics != nil {
				c.metrics.CircuitBreakerRejects.WithLabelValues(targetKey).Inc()
			}
			lastErr = fmt.Errorf("%w: circuit open for %s", core.ErrUpstreamFatal, model)
			continue
		}

		attemptCtx := ctx
		var span trace.Span
		if c.tracer != nil {
			attemptCtx, span = c.tracer.Start(ctx, "forwarder.attempt",
				trace.WithAttributes(
					attribute.String("target", targetKey),
					attribute.Bool("stream", stream),
				),
			)
		}
		res, err := c.attempt(attemptCtx, model, body, stream)
		if span != nil {
			span.End()
		}
		if err == nil {
			breaker.RecordSuccess()
			c.recordBreakerState(targetKey, breaker)
			return res, nil
		}
		if isClientError(err) {
			breaker.RecordSuccess() // the target itself is healthy; the request was bad
			c.recordBreakerState(targetKey, breaker)
			return nil, err
		}
		breaker.RecordError(1.0)
		c.recordBreakerState(targetKey, breaker)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = core.ErrUpstreamFatal
	}
	return nil, fmt.Errorf("%w: %v", core.ErrUpstreamFatal, lastErr)
}

// attempt performs one upstream call for model, including the 402
// challenge/satisfy/retry dance (spec.md §4.2 "State machine").
func (c *Client) attempt(ctx context.Context, model string, body []byte, stream bool) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TotalUpstreamDeadline)
	// cancel is released by toResult: immediately for a fully-read
	// non-streaming body, or by the streaming goroutine once the SSE
	// relay finishes, since the deadline must bound the whole stream.

	resp, err := c.post(ctx, model, body, c.payments.Prepare(c.host, model))
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		if c.metrics != nil {
			c.metrics.PaymentChallengesTotal.WithLabelValues(model).Inc()
		}
		challenge, perr := parseChallenge(resp)
		resp.Body.Close()
		if perr != nil {
			cancel()
			return nil, fmt.Errorf("%w: parse 402 challenge: %v", core.ErrPaymentRejected, perr)
		}
		c.payments.Invalidate(c.host, model)

		headers, serr := c.payments.Satisfy(ctx, c.host, model, challenge, body)
		if serr != nil {
			if c.metrics != nil {
				c.metrics.PaymentRejectedTotal.WithLabelValues(model).Inc()
			}
			cancel()
			return nil, fmt.Errorf("%w: %v", core.ErrPaymentRejected, serr)
		}

		retryResp, rerr := c.post(ctx, model, body, headers)
		if rerr != nil {
			cancel()
			return nil, rerr
		}
		if retryResp.StatusCode == http.StatusPaymentRequired {
			retryResp.Body.Close()
			cancel()
			if c.metrics != nil {
				c.metrics.PaymentRejectedTotal.WithLabelValues(model).Inc()
			}
			c.payments.Observe(c.host, model, challenge, "", http.StatusPaymentRequired)
			return nil, fmt.Errorf("%w: second 402 for %s", core.ErrPaymentRejected, model)
		}
		c.payments.Observe(c.host, model, challenge, firstHeaderValue(headers), retryResp.StatusCode)
		return c.toResult(retryResp, stream, cancel)
	}

	return c.toResult(resp, stream, cancel)
}

func (c *Client) post(ctx context.Context, model string, body []byte, extraHeaders map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(withModel(body, model)))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUpstreamFatal, err)
	}
	return resp, nil
}

func (c *Client) toResult(resp *http.Response, stream bool, cancel context.CancelFunc) (*Result, error) {
	if resp.StatusCode >= 500 {
		defer cancel()
		defer resp.Body.Close()
		return nil, fmt.Errorf("%w: upstream status %d", core.ErrUpstreamFatal, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		defer cancel()
		defer resp.Body.Close()
		return nil, core.NewStatusError(resp.StatusCode, "upstream rejected the request", core.ErrUpstreamFatal)
	}

	if stream {
		ch := make(chan core.StreamChunk, 16)
		go func() {
			defer cancel()
			sseutil.ReadStream(context.Background(), resp, ch)
		}()
		return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Stream: ch}, nil
	}

	defer cancel()
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("%w: read upstream body: %v", core.ErrUpstreamFatal, err)
	}
	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: buf.Bytes()}, nil
}

// withModel rewrites the "model" field of a canonicalized JSON body to
// the candidate actually being attempted, without re-decoding the whole
// request.
func withModel(body []byte, model string) []byte {
	var m map[string]json.RawMessage
	if json.Unmarshal(body, &m) != nil {
		return body
	}
	encoded, _ := json.Marshal(model)
	m["model"] = encoded
	out, err := json.Marshal(m)
	if err != nil {
		return body
	}
	return out
}

// recordBreakerState publishes breaker's current state to the circuit
// breaker gauge, a no-op when metrics are disabled.
func (c *Client) recordBreakerState(targetKey string, breaker *circuitbreaker.Breaker) {
	if c.metrics == nil {
		return
	}
	c.metrics.CircuitBreakerState.WithLabelValues(targetKey).Set(float64(breaker.State()))
}

func firstHeaderValue(headers map[string]string) string {
	for _, v := range headers {
		return v
	}
	return ""
}

func parseChallenge(resp *http.Response) (core.PaymentChallenge, error) {
	var c core.PaymentChallenge
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return c, fmt.Errorf("decode challenge body: %w", err)
	}
	return c, nil
}

// isClientError reports whether err represents a definitive rejection
// that should be surfaced as-is rather than retried against the next
// fallback candidate: an explicit 4xx, or a rejected payment (spec.md §7
// "PaymentRejected ... surfaces the upstream 402 body to the client").
func isClientError(err error) bool {
	if core.IsPaymentRejected(err) {
		return true
	}
	var se *core.StatusError
	if ok := asStatusError(err, &se); ok {
		return se.Status >= 400 && se.Status < 500
	}
	return false
}

func asStatusError(err error, target **core.StatusError) bool {
	for err != nil {
		if se, ok := err.(*core.StatusError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
