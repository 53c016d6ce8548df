// Package dedup implements content-addressed request coalescing: a
// singleflight-style in-flight index keyed by a stable fingerprint of the
// request body, with short-TTL replay of completed results (spec.md §4.4).
// Fingerprinting is grounded on eugener-gandalf/internal/server/cache.go's
// cacheKey (stable-ordered JSON over a normalized request, SHA-256 hashed);
// this package extends it to be stream-flag-agnostic and tool-order-agnostic
// per the spec's fingerprint contract.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/clawrouter/clawrouter-proxy/internal/core"
)

// stableMessage mirrors the wire Message but trims content and drops the
// stream flag from consideration, matching struct field declaration order
// so json.Marshal is itself stable.
type stableMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fingerprint computes the content-addressed key for req, resolved against
// canonicalModel (the router's resolved model id, not the raw request
// field). Streaming and non-streaming requests for the same prompt share a
// fingerprint (spec.md §4.4 "Fingerprint").
func Fingerprint(canonicalModel string, req core.ChatRequest) string {
	m := map[string]any{
		"model":    canonicalModel,
		"messages": normalizeMessages(req.Messages),
	}
	if req.Temperature != nil {
		m["temperature"] = roundFloat(*req.Temperature)
	}
	if req.MaxTokens != nil {
		m["max_tokens"] = *req.MaxTokens
	}
	if tools := normalizeTools(req.Tools); tools != nil {
		m["tools"] = tools
	}

	data := stableJSON(m)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func normalizeMessages(msgs []core.Message) []stableMessage {
	out := make([]stableMessage, len(msgs))
	for i, msg := range msgs {
		content := strings.TrimSpace(contentAsText(msg.Content))
		out[i] = stableMessage{Role: msg.Role, Content: content}
	}
	return out
}

// contentAsText extracts message content as a plain string when it is a
// JSON string, or returns the raw JSON text otherwise (multimodal content
// arrays), so fingerprinting never fails on non-string content.
func contentAsText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// normalizeTools decodes the raw tools array, sorts entries by name, and
// re-encodes deterministically, so tool reordering does not change the
// fingerprint (spec.md §4.4 and §8 "stable under ... tool-array reordering").
func normalizeTools(raw json.RawMessage) []map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var tools []map[string]any
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil
	}
	sort.Slice(tools, func(i, j int) bool {
		return toolName(tools[i]) < toolName(tools[j])
	})
	return tools
}

func toolName(tool map[string]any) string {
	if fn, ok := tool["function"].(map[string]any); ok {
		if name, ok := fn["name"].(string); ok {
			return name
		}
	}
	if name, ok := tool["name"].(string); ok {
		return name
	}
	return ""
}

// roundFloat truncates to 4 decimal places so cosmetic precision
// differences (1.0 vs 1.00001) do not fragment the fingerprint.
func roundFloat(f float64) float64 {
	const precision = 10000.0
	return float64(int(f*precision)) / precision
}

func stableJSON(m map[string]any) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}, len(keys))
	for i, k := range keys {
		ordered[i].Key = k
		ordered[i].Value = m[k]
	}
	data, _ := json.Marshal(ordered)
	return data
}
