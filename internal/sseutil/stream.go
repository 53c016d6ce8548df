package sseutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/clawrouter/clawrouter-proxy/internal/core"
)

// ReadStream reads SSE lines from resp and sends them as StreamChunks on
// ch, handling the "[DONE]" sentinel and extracting usage from the final
// chunk. The channel is closed when done.
func ReadStream(ctx context.Context, resp *http.Response, ch chan<- core.StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	scanner := NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		_, data, ok := ParseLine(line)
		if !ok {
			continue
		}
		if data == "[DONE]" {
			ch <- core.StreamChunk{Done: true}
			return
		}

		chunk := core.StreamChunk{Data: []byte(data)}
		if u := gjson.GetBytes(chunk.Data, "usage"); u.Exists() && u.Type == gjson.JSON {
			var usage core.Usage
			if json.Unmarshal([]byte(u.Raw), &usage) == nil && usage.TotalTokens > 0 {
				chunk.Usage = &usage
			}
		}

		select {
		case ch <- chunk:
		case <-ctx.Done():
			ch <- core.StreamChunk{Err: ctx.Err()}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		ch <- core.StreamChunk{Err: fmt.Errorf("read upstream stream: %w", err)}
	}
}
