package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clawrouter/clawrouter-proxy/internal/catalog"
	"github.com/clawrouter/clawrouter-proxy/internal/circuitbreaker"
	"github.com/clawrouter/clawrouter-proxy/internal/core"
	"github.com/clawrouter/clawrouter-proxy/internal/forwarder"
	"github.com/clawrouter/clawrouter-proxy/internal/payment"
	"github.com/clawrouter/clawrouter-proxy/internal/payment/signer"
	"github.com/clawrouter/clawrouter-proxy/internal/router"
)

type alwaysFundedWallet struct{}

func (alwaysFundedWallet) Empty() bool { return false }

type alwaysEmptyWallet struct{}

func (alwaysEmptyWallet) Empty() bool { return true }

func newTestDeps(t *testing.T, upstreamURL string, wallet WalletChecker) Deps {
	t.Helper()
	cat := catalog.New(catalog.DefaultModels(), catalog.DefaultAliases(), catalog.Config{Tiers: catalog.DefaultTiers()})
	rtr := router.New(cat, router.DefaultConfig())

	w, err := signer.NewWallet("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	eng, err := payment.New(w, payment.DefaultConfig())
	if err != nil {
		t.Fatalf("payment.New: %v", err)
	}
	fwd, err := forwarder.New(upstreamURL, eng, circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()), forwarder.DefaultConfig())
	if err != nil {
		t.Fatalf("forwarder.New: %v", err)
	}

	return Deps{
		Router:        rtr,
		Catalog:       cat,
		Forwarder:     fwd,
		Wallet:        wallet,
		WalletAddress: w.Address(),
	}
}

func TestHandleChatCompletion_Success(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}))
	defer upstream.Close()

	h := New(newTestDeps(t, upstream.URL, alwaysFundedWallet{}))
	body := bytes.NewBufferString(`{"model":"haiku","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleChatCompletion_UnknownModelRejected(t *testing.T) {
	t.Parallel()
	h := New(newTestDeps(t, "http://unused.invalid", alwaysFundedWallet{}))
	body := bytes.NewBufferString(`{"model":"not-a-real-model","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleChatCompletion_EmptyMessagesRejected(t *testing.T) {
	t.Parallel()
	h := New(newTestDeps(t, "http://unused.invalid", alwaysFundedWallet{}))
	body := bytes.NewBufferString(`{"model":"auto","messages":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleChatCompletion_OversizedBodyRejected(t *testing.T) {
	t.Parallel()
	h := New(newTestDeps(t, "http://unused.invalid", alwaysFundedWallet{}))
	huge := bytes.Repeat([]byte("a"), maxRequestBody+1024)
	payload := append([]byte(`{"model":"auto","messages":[{"role":"user","content":"`), huge...)
	payload = append(payload, []byte(`"}]}`)...)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestHandleChatCompletion_NegativeMaxTokensRejected(t *testing.T) {
	t.Parallel()
	h := New(newTestDeps(t, "http://unused.invalid", alwaysFundedWallet{}))
	body := bytes.NewBufferString(`{"model":"auto","messages":[{"role":"user","content":"hi"}],"max_tokens":-1}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleChatCompletion_WalletEmptyRoutesToFreeModel(t *testing.T) {
	t.Parallel()
	var gotModel string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m map[string]any
		_ = json.NewDecoder(r.Body).Decode(&m)
		if v, ok := m["model"].(string); ok {
			gotModel = v
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer upstream.Close()

	h := New(newTestDeps(t, upstream.URL, alwaysEmptyWallet{}))
	body := bytes.NewBufferString(`{"model":"auto","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if gotModel != core.FreeModel && gotModel != "meta/llama-4-scout-free" {
		t.Fatalf("upstream model = %q, want the free fallback model", gotModel)
	}
}

func TestHandleChatCompletion_DisabledBypassesRouting(t *testing.T) {
	t.Parallel()
	var gotModel string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m map[string]any
		_ = json.NewDecoder(r.Body).Decode(&m)
		if v, ok := m["model"].(string); ok {
			gotModel = v
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer upstream.Close()

	deps := newTestDeps(t, upstream.URL, alwaysEmptyWallet{})
	deps.Disabled = true
	h := New(deps)
	body := bytes.NewBufferString(`{"model":"haiku","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	// An empty wallet would normally force the free fallback model; a
	// disabled proxy must forward the client's exact request instead.
	if gotModel != "anthropic/claude-haiku-4.5" {
		t.Fatalf("upstream model = %q, want the client's requested model unchanged", gotModel)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	deps := newTestDeps(t, "http://unused.invalid", alwaysFundedWallet{})
	h := New(deps)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
	if body["wallet"] != deps.WalletAddress {
		t.Errorf("wallet = %q, want %q", body["wallet"], deps.WalletAddress)
	}
}

func TestUnknownPathReturns404JSON(t *testing.T) {
	t.Parallel()
	h := New(newTestDeps(t, "http://unused.invalid", alwaysFundedWallet{}))
	req := httptest.NewRequest(http.MethodGet, "/not-a-real-route", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body apiError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v, body = %s", err, rec.Body.String())
	}
	if body.Error.Message == "" {
		t.Errorf("error.message is empty")
	}
}

func TestWrongMethodReturns405JSON(t *testing.T) {
	t.Parallel()
	h := New(newTestDeps(t, "http://unused.invalid", alwaysFundedWallet{}))
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	var body apiError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v, body = %s", err, rec.Body.String())
	}
	if body.Error.Message == "" {
		t.Errorf("error.message is empty")
	}
}

func TestResolvePort(t *testing.T) {
	t.Parallel()
	cases := map[string]int{
		"":       DefaultPort,
		"0":      DefaultPort,
		"-1":     DefaultPort,
		"70000":  DefaultPort,
		"notint": DefaultPort,
		"9000":   9000,
	}
	for input, want := range cases {
		if got := ResolvePort(input); got != want {
			t.Errorf("ResolvePort(%q) = %d, want %d", input, got, want)
		}
	}
}
