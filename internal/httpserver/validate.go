package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/clawrouter/clawrouter-proxy/internal/core"
)

// maxRequestBody caps the chat completion request body (spec.md §4.5
// "Request validation"); oversized bodies are rejected with 413 before
// JSON decoding is even attempted.
const maxRequestBody = 150 * 1024

const (
	minMessages = 1
	maxMessages = 200
)

// decodeAndValidate reads and validates a chat completion request body,
// enforcing spec.md §4.5's request validation rules in order: size,
// well-formed JSON, message count, max_tokens sign.
func decodeAndValidate(w http.ResponseWriter, r *http.Request) (core.ChatRequest, bool) {
	var req core.ChatRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody+1)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body exceeds the maximum allowed size"))
		return req, false
	}
	if len(data) > maxRequestBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body exceeds the maximum allowed size"))
		return req, false
	}

	if err := json.Unmarshal(data, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("request body is not well-formed JSON"))
		return req, false
	}

	if n := len(req.Messages); n < minMessages || n > maxMessages {
		writeJSON(w, http.StatusBadRequest, errorResponse(fmt.Sprintf("messages must contain between %d and %d entries", minMessages, maxMessages)))
		return req, false
	}

	if req.MaxTokens != nil && *req.MaxTokens < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("max_tokens must be a non-negative integer"))
		return req, false
	}

	return req, true
}
