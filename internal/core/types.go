// Package core defines the domain types shared across the proxy: chat
// request/response shapes, routing decisions, payment records, and the
// request-scoped context helpers. It has no project imports -- it is the
// dependency root, mirroring the teacher gateway's root package.
package core

import (
	"context"
	"encoding/json"
	"time"
)

// --- OpenAI-compatible wire shapes ---

// ChatRequest is the client-facing, OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Tools       json.RawMessage `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
}

// Message is a single chat message.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ChatResponse is the non-streaming OpenAI-compatible response envelope.
type ChatResponse struct {
	ID      string          `json:"id"`
	Object  string          `json:"object"`
	Created int64           `json:"created"`
	Model   string          `json:"model"`
	Choices json.RawMessage `json:"choices"`
	Usage   *Usage          `json:"usage,omitempty"`
}

// Usage reports token accounting for a completed request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is a single relayed SSE event from the upstream aggregator.
type StreamChunk struct {
	Data  []byte // raw SSE data payload, forwarded as-is when possible
	Usage *Usage // non-nil on the final chunk, if upstream reported usage
	Done  bool
	Err   error
}

// --- Model catalog ---

// ModelDescriptor is an immutable record of one upstream model's
// capabilities and pricing. See spec.md §3 "Model descriptor".
type ModelDescriptor struct {
	ID                 string  // canonical id, e.g. "provider/name"
	DisplayName        string
	ContextWindow      int
	MaxOutputTokens    int
	InputCostPerMToken float64
	OutputCostPerMToken float64
	ReasoningCapable   bool
	SupportsTools      bool
	SupportsStreaming  bool
	TierAffinity       Tier
}

// Tier is a complexity bucket the router assigns a prompt to.
type Tier int

const (
	TierSimple Tier = iota
	TierMedium
	TierComplex
	TierReasoning
)

// String returns the tier's canonical name.
func (t Tier) String() string {
	switch t {
	case TierSimple:
		return "SIMPLE"
	case TierMedium:
		return "MEDIUM"
	case TierComplex:
		return "COMPLEX"
	case TierReasoning:
		return "REASONING"
	default:
		return "UNKNOWN"
	}
}

// AutoModel is the pseudo-model id meaning "let the router decide".
const AutoModel = "auto"

// FreeModel names the zero-cost fallback model used when the wallet is empty.
const FreeModel = "FREE"

// --- Routing decision ---

// Method describes how a RoutingDecision was produced.
type Method string

const (
	MethodScored       Method = "scored"
	MethodForced       Method = "forced"
	MethodDefault      Method = "default"
	MethodFreeFallback Method = "free-fallback"
)

// RoutingDecision is the immutable output of Router.Route. Never mutated
// after creation (spec.md §3 "Routing decision").
type RoutingDecision struct {
	Model        string
	Tier         *Tier
	Confidence   float64
	Method       Method
	CostEstimate float64
	BaselineCost float64
	Savings      float64
	Reasoning    string
}

// --- Payment ---

// PaymentChallenge is a parsed HTTP 402 response body. Ephemeral: it
// lives only inside one request's payment state (spec.md §3).
type PaymentChallenge struct {
	Amount     string    `json:"amount"`
	Asset      string    `json:"asset"`
	Chain      string    `json:"chain"`
	Recipient  string    `json:"recipient"`
	Nonce      string    `json:"nonce"`
	ValidUntil time.Time `json:"validUntil"`
	Extra      json.RawMessage `json:"extra,omitempty"`
}

// PreAuthRecord is a cached signed authorization header for an
// (endpoint, model) pair, letting a later request skip the 402
// round-trip (spec.md §3).
type PreAuthRecord struct {
	Endpoint       string
	Model          string
	LastKnownPrice string
	SignedHeader   string
	ExpiresAt      time.Time
}

// --- Context helpers ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext extracts the request ID from context, or "" if absent.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
