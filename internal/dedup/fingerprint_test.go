package dedup

import (
	"encoding/json"
	"testing"

	"github.com/clawrouter/clawrouter-proxy/internal/core"
)

func msg(role, content string) core.Message {
	return core.Message{Role: role, Content: json.RawMessage(`"` + content + `"`)}
}

func TestFingerprint_StableUnderRepeatedComputation(t *testing.T) {
	t.Parallel()
	req := core.ChatRequest{Messages: []core.Message{msg("user", "hello")}}

	if Fingerprint("m", req) != Fingerprint("m", req) {
		t.Fatal("fingerprint is not stable across repeated calls")
	}
}

func TestFingerprint_StreamFlagAgnostic(t *testing.T) {
	t.Parallel()
	base := core.ChatRequest{Messages: []core.Message{msg("user", "hello")}}
	streaming := base
	streaming.Stream = true

	if Fingerprint("m", base) != Fingerprint("m", streaming) {
		t.Fatal("stream flag should not affect the fingerprint")
	}
}

func TestFingerprint_ToolArrayReorderingStable(t *testing.T) {
	t.Parallel()
	toolsAB := json.RawMessage(`[{"function":{"name":"a"}},{"function":{"name":"b"}}]`)
	toolsBA := json.RawMessage(`[{"function":{"name":"b"}},{"function":{"name":"a"}}]`)

	reqA := core.ChatRequest{Messages: []core.Message{msg("user", "x")}, Tools: toolsAB}
	reqB := core.ChatRequest{Messages: []core.Message{msg("user", "x")}, Tools: toolsBA}

	if Fingerprint("m", reqA) != Fingerprint("m", reqB) {
		t.Fatal("fingerprint should be stable under tool-array reordering")
	}
}

func TestFingerprint_DifferentModelDiffers(t *testing.T) {
	t.Parallel()
	req := core.ChatRequest{Messages: []core.Message{msg("user", "hello")}}

	if Fingerprint("model-a", req) == Fingerprint("model-b", req) {
		t.Fatal("different resolved models should produce different fingerprints")
	}
}

func TestFingerprint_DifferentContentDiffers(t *testing.T) {
	t.Parallel()
	reqA := core.ChatRequest{Messages: []core.Message{msg("user", "hello")}}
	reqB := core.ChatRequest{Messages: []core.Message{msg("user", "goodbye")}}

	if Fingerprint("m", reqA) == Fingerprint("m", reqB) {
		t.Fatal("different message content should produce different fingerprints")
	}
}

func TestFingerprint_WhitespaceTrimmedContentMatches(t *testing.T) {
	t.Parallel()
	reqA := core.ChatRequest{Messages: []core.Message{msg("user", "hello")}}
	reqB := core.ChatRequest{Messages: []core.Message{msg("user", "  hello  ")}}

	if Fingerprint("m", reqA) != Fingerprint("m", reqB) {
		t.Fatal("leading/trailing whitespace should not affect the fingerprint")
	}
}
