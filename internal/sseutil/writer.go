package sseutil

import "net/http"

// Pre-allocated byte slices for SSE formatting, avoiding heap allocations
// on every write in the streaming hot path.
var (
	dataPrefix = []byte("data: ")
	newline    = []byte("\n\n")
	doneFrame  = []byte("data: [DONE]\n\n")
	keepAlive  = []byte(": heartbeat\n\n")
)

var (
	headerContentType   = []string{"text/event-stream"}
	headerCacheControl  = []string{"no-cache"}
	headerConnection    = []string{"keep-alive"}
	headerAccelBuffer   = []string{"no"}
)

// WriteHeaders commits SSE response headers and flushes immediately,
// before any upstream byte has arrived, so intermediaries don't idle the
// connection out (spec.md §4.3 "Streaming (SSE) path").
func WriteHeaders(w http.ResponseWriter) {
	h := w.Header()
	h["Content-Type"] = headerContentType
	h["Cache-Control"] = headerCacheControl
	h["Connection"] = headerConnection
	h["X-Accel-Buffering"] = headerAccelBuffer
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// WriteData writes a single SSE data frame: "data: <payload>\n\n".
func WriteData(w http.ResponseWriter, data []byte) {
	w.Write(dataPrefix)
	w.Write(data)
	w.Write(newline)
}

// WriteDone writes the stream termination sentinel.
func WriteDone(w http.ResponseWriter) {
	w.Write(doneFrame)
}

// WriteError writes a synthetic SSE error event for a mid-stream failure.
func WriteError(w http.ResponseWriter, msg string) {
	w.Write([]byte("event: error\ndata: "))
	w.Write([]byte(`{"error":{"message":"`))
	w.Write([]byte(msg))
	w.Write([]byte(`","type":"stream_error"}}`))
	w.Write(newline)
}

// WriteKeepAlive writes an SSE comment heartbeat.
func WriteKeepAlive(w http.ResponseWriter) {
	w.Write(keepAlive)
}
