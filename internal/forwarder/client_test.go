package forwarder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/clawrouter/clawrouter-proxy/internal/circuitbreaker"
	"github.com/clawrouter/clawrouter-proxy/internal/payment"
	"github.com/clawrouter/clawrouter-proxy/internal/payment/signer"
)

func newTestWallet(t *testing.T) *signer.Wallet {
	t.Helper()
	w, err := signer.NewWallet("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318") // well-known test key
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	return w
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	eng, err := payment.New(newTestWallet(t), payment.DefaultConfig())
	if err != nil {
		t.Fatalf("payment.New: %v", err)
	}
	c, err := New(baseURL, eng, circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()), DefaultConfig())
	if err != nil {
		t.Fatalf("forwarder.New: %v", err)
	}
	return c
}

func TestSend_SuccessOnFirstCandidate(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res, err := c.Send(context.Background(), []string{"anthropic/claude-haiku-4.5"}, []byte(`{"model":"auto"}`), false)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
}

func TestSend_402ThenSuccessSignsExactlyOnce(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(map[string]any{
				"amount": "1000", "asset": "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
				"chain": "base", "recipient": "0x1111111111111111111111111111111111111111", "nonce": "n1",
			})
			return
		}
		if r.Header.Get("X-Payment-Authorization") == "" {
			t.Error("retry request missing payment authorization header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"2","choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res, err := c.Send(context.Background(), []string{"anthropic/claude-sonnet-4.6"}, []byte(`{"model":"auto"}`), false)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if calls.Load() != 2 {
		t.Fatalf("upstream called %d times, want 2 (challenge + retry)", calls.Load())
	}
}

func TestSend_FallsBackOn5xx(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		calls.Add(1)
		if body["model"] == "primary-model" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"3","choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res, err := c.Send(context.Background(), []string{"primary-model", "fallback-model"}, []byte(`{"model":"auto"}`), false)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if calls.Load() != 2 {
		t.Fatalf("upstream called %d times, want 2 (primary failed, fallback succeeded)", calls.Load())
	}
}

func TestSend_Explicit4xxNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Send(context.Background(), []string{"primary-model", "fallback-model"}, []byte(`{"model":"auto"}`), false)
	if err == nil {
		t.Fatal("expected an error for a 400 response")
	}
	if calls.Load() != 1 {
		t.Fatalf("upstream called %d times, want 1 (explicit 4xx should not trigger fallback)", calls.Load())
	}
}
