package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clawrouter/clawrouter-proxy/internal/core"
	"github.com/clawrouter/clawrouter-proxy/internal/dedup"
	"github.com/clawrouter/clawrouter-proxy/internal/postprocessor"
	"github.com/clawrouter/clawrouter-proxy/internal/router"
	"github.com/clawrouter/clawrouter-proxy/internal/sseutil"
)

var jsonCT = []string{"application/json"}

type healthResponse struct {
	Status string `json:"status"`
	Wallet string `json:"wallet"`
}

// handleHealth reports liveness and the wallet address the proxy signs
// payment authorizations with (spec.md §6 "GET /health").
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Wallet: s.deps.WalletAddress})
}

// handleChatCompletion resolves a model, routes the request through the
// dedup cache and the fallback-chain forwarder, and relays the result,
// streaming or buffered (spec.md §4 "Core subsystems").
func (s *server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAndValidate(w, r)
	if !ok {
		return
	}

	requested := strings.TrimSpace(req.Model)
	if requested == "" {
		requested = core.AutoModel
	}
	resolved := s.deps.Catalog.Resolve(requested)
	if resolved != core.AutoModel && !s.deps.Catalog.IsKnownModel(resolved) {
		writeJSON(w, http.StatusBadRequest, errorResponse("unknown model"))
		return
	}

	if s.deps.Disabled {
		s.forwardPassthrough(w, r, req, resolved)
		return
	}

	walletEmpty := s.deps.Wallet != nil && s.deps.Wallet.Empty()
	var maxTokens int
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	decision := s.deps.Router.Route(router.Input{
		RequestedModel: resolved,
		Prompt:         promptText(req.Messages),
		MaxTokens:      maxTokens,
		HasTools:       len(req.Tools) > 0,
		WantsJSONOut:   req.ToolChoice != nil,
		WalletEmpty:    walletEmpty,
	})

	if s.deps.Metrics != nil {
		tier := ""
		if decision.Tier != nil {
			tier = decision.Tier.String()
		}
		s.deps.Metrics.RoutingDecisionsTotal.WithLabelValues(string(decision.Method), tier).Inc()
	}

	candidates := s.candidatesFor(decision)
	body, err := json.Marshal(req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	if req.Stream {
		s.forwardStream(w, r, candidates, body, decision)
		return
	}
	s.forwardBuffered(w, r, candidates, body, decision)
}

// forwardPassthrough bypasses routing and dedup entirely: it forwards
// the request as the client sent it, except that a model of "auto" is
// tried against the MEDIUM tier's model list (spec.md §6
// "CLAWROUTER_DISABLED ... registers but does not intercept").
func (s *server) forwardPassthrough(w http.ResponseWriter, r *http.Request, req core.ChatRequest, resolved string) {
	candidates := []string{resolved}
	if resolved == core.AutoModel {
		candidates = s.deps.Catalog.TierList(core.TierMedium).All()
	}
	body, err := json.Marshal(req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	decision := core.RoutingDecision{Model: resolved, Method: core.MethodForced}
	if req.Stream {
		s.forwardStream(w, r, candidates, body, decision)
		return
	}
	s.forwardBuffered(w, r, candidates, body, decision)
}

// candidatesFor returns the fallback chain to try, in order: the
// router's tier list when it scored a tier, or the single forced/
// free-fallback model otherwise (spec.md §4.1 "Routing decision").
func (s *server) candidatesFor(d core.RoutingDecision) []string {
	if d.Tier != nil && (d.Method == core.MethodScored || d.Method == core.MethodDefault) {
		return s.deps.Catalog.TierList(*d.Tier).All()
	}
	return []string{d.Model}
}

func promptText(msgs []core.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role != "user" {
			continue
		}
		var s string
		if json.Unmarshal(m.Content, &s) == nil {
			b.WriteString(s)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (s *server) forwardBuffered(w http.ResponseWriter, r *http.Request, candidates []string, body []byte, decision core.RoutingDecision) {
	fp := ""
	if s.deps.Dedup != nil {
		fp = dedupFingerprint(decision, body)
		if origin, sub, replay := s.deps.Dedup.Lookup(fp); !origin {
			if replay != nil {
				writeReplayedBody(w, replay)
				return
			}
			s.relayFromSubscriber(w, sub)
			return
		}
	}

	res, err := s.deps.Forwarder.Send(r.Context(), candidates, body, false)
	if err != nil {
		if fp != "" {
			s.deps.Dedup.Abort(fp)
		}
		writeUpstreamError(w, r.Context(), err)
		return
	}

	proc := s.newProcessor(decision)
	out := proc.Process(res.Body)
	out = append(out, proc.Flush()...)

	if fp != "" {
		s.deps.Dedup.Publish(fp, dedup.Frame{Data: out, Done: true})
		s.deps.Dedup.Complete(fp)
	}

	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(res.StatusCode)
	w.Write(out)
}

func (s *server) forwardStream(w http.ResponseWriter, r *http.Request, candidates []string, body []byte, decision core.RoutingDecision) {
	fp := ""
	if s.deps.Dedup != nil {
		fp = dedupFingerprint(decision, body)
		if origin, sub, replay := s.deps.Dedup.Lookup(fp); !origin {
			sseutil.WriteHeaders(w)
			if replay != nil {
				writeReplayedFrames(w, replay)
				return
			}
			s.relayStreamFromSubscriber(w, sub)
			return
		}
	}

	res, err := s.deps.Forwarder.Send(r.Context(), candidates, body, true)
	if err != nil {
		if fp != "" {
			s.deps.Dedup.Abort(fp)
		}
		writeUpstreamError(w, r.Context(), err)
		return
	}

	sseutil.WriteHeaders(w)
	flusher, _ := w.(http.Flusher)

	proc := s.newProcessor(decision)
	keepAlive := time.NewTicker(10 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case chunk, chOpen := <-res.Stream:
			if !chOpen {
				if tail := proc.Flush(); len(tail) > 0 {
					sseutil.WriteData(w, tail)
				}
				sseutil.WriteDone(w)
				if flusher != nil {
					flusher.Flush()
				}
				if fp != "" {
					s.deps.Dedup.Publish(fp, dedup.Frame{Done: true})
					s.deps.Dedup.Complete(fp)
				}
				return
			}
			if chunk.Err != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "stream error", slog.String("error", chunk.Err.Error()))
				sseutil.WriteError(w, "upstream stream error")
				sseutil.WriteDone(w)
				if flusher != nil {
					flusher.Flush()
				}
				if fp != "" {
					s.deps.Dedup.Abort(fp)
				}
				return
			}
			// Heartbeats only cover the wait for the first upstream data.
			keepAlive.Stop()
			processed := proc.Process(chunk.Data)
			if len(processed) > 0 {
				sseutil.WriteData(w, processed)
				if fp != "" {
					s.deps.Dedup.Publish(fp, dedup.Frame{Data: processed})
				}
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-keepAlive.C:
			sseutil.WriteKeepAlive(w)
			if flusher != nil {
				flusher.Flush()
			}
		case <-r.Context().Done():
			if fp != "" {
				s.deps.Dedup.Abort(fp)
			}
			return
		}
	}
}

func (s *server) newProcessor(d core.RoutingDecision) postprocessor.Processor {
	if s.deps.Postprocessor != nil {
		return s.deps.Postprocessor
	}
	if d.Tier != nil && *d.Tier == core.TierReasoning {
		return postprocessor.NewThinkingStripper()
	}
	return postprocessor.Identity{}
}

func dedupFingerprint(d core.RoutingDecision, body []byte) string {
	var req core.ChatRequest
	if json.Unmarshal(body, &req) != nil {
		return ""
	}
	return dedup.Fingerprint(d.Model, req)
}

func writeReplayedBody(w http.ResponseWriter, frames []dedup.Frame) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	for _, f := range frames {
		w.Write(f.Data)
	}
}

func writeReplayedFrames(w http.ResponseWriter, frames []dedup.Frame) {
	for _, f := range frames {
		if f.Done {
			sseutil.WriteDone(w)
			continue
		}
		sseutil.WriteData(w, f.Data)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *server) relayFromSubscriber(w http.ResponseWriter, sub <-chan dedup.Frame) {
	var body []byte
	for f := range sub {
		body = append(body, f.Data...)
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *server) relayStreamFromSubscriber(w http.ResponseWriter, sub <-chan dedup.Frame) {
	flusher, _ := w.(http.Flusher)
	for f := range sub {
		if f.Done {
			sseutil.WriteDone(w)
		} else {
			sseutil.WriteData(w, f.Data)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}

func writeUpstreamError(w http.ResponseWriter, ctx context.Context, err error) {
	status := core.ErrorStatus(err)
	slog.LogAttrs(ctx, slog.LevelError, "upstream error",
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	writeJSON(w, status, errorResponse(http.StatusText(status)))
}
