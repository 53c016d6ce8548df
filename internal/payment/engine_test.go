package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clawrouter/clawrouter-proxy/internal/core"
)

type stubSigner struct {
	mu    sync.Mutex
	calls int
	addr  string
}

func (s *stubSigner) Address() string { return s.addr }

func (s *stubSigner) Sign(challenge core.PaymentChallenge, digest []byte) (string, string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return "X-Payment-Authorization", "0xsignature", nil
}

func (s *stubSigner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestEngine(t *testing.T) (*Engine, *stubSigner) {
	t.Helper()
	s := &stubSigner{addr: "0xWALLET"}
	e, err := New(s, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, s
}

func TestPrepare_EmptyWhenNoCacheEntry(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)

	headers := e.Prepare("upstream.example", "anthropic/claude-sonnet-4.6")
	if headers != nil {
		t.Fatalf("headers = %v, want nil", headers)
	}
}

func TestObserveThenPrepare_ReturnsPreAuth(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	challenge := core.PaymentChallenge{Amount: "1000", Asset: "0xasset", Recipient: "0xrecipient", Chain: "base", ValidUntil: time.Now().Add(10 * time.Minute)}

	e.Observe("upstream.example", "anthropic/claude-sonnet-4.6", challenge, "0xsig", 200)

	headers := e.Prepare("upstream.example", "anthropic/claude-sonnet-4.6")
	if headers == nil {
		t.Fatal("headers = nil, want cached pre-auth")
	}
	if headers["X-Payment-Authorization"] != "0xsig" {
		t.Fatalf("header = %q, want 0xsig", headers["X-Payment-Authorization"])
	}
}

func TestObserve402Invalidates(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	challenge := core.PaymentChallenge{Amount: "1000", Asset: "0xasset", Recipient: "0xrecipient", Chain: "base", ValidUntil: time.Now().Add(10 * time.Minute)}

	e.Observe("upstream.example", "anthropic/claude-sonnet-4.6", challenge, "0xsig", 200)
	e.Observe("upstream.example", "anthropic/claude-sonnet-4.6", challenge, "", 402)

	headers := e.Prepare("upstream.example", "anthropic/claude-sonnet-4.6")
	if headers != nil {
		t.Fatalf("headers = %v, want nil after 402 invalidation", headers)
	}
}

func TestPrepare_ExpiredRecordNotReturned(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	challenge := core.PaymentChallenge{Amount: "1000", Asset: "0xasset", Recipient: "0xrecipient", Chain: "base", ValidUntil: time.Now().Add(-time.Minute)}

	e.Observe("upstream.example", "anthropic/claude-sonnet-4.6", challenge, "0xsig", 200)

	headers := e.Prepare("upstream.example", "anthropic/claude-sonnet-4.6")
	if headers != nil {
		t.Fatalf("headers = %v, want nil for an expired record", headers)
	}
}

func TestSatisfy_ConcurrentCallsCoalesceOnOneSignature(t *testing.T) {
	t.Parallel()
	e, s := newTestEngine(t)
	challenge := core.PaymentChallenge{Amount: "1000", Asset: "0xasset", Recipient: "0xrecipient", Chain: "base", ValidUntil: time.Now().Add(10 * time.Minute)}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Satisfy(context.Background(), "upstream.example", "anthropic/claude-sonnet-4.6", challenge, []byte(`{"a":1}`))
			if err != nil {
				t.Errorf("Satisfy: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := s.callCount(); got != 1 {
		t.Fatalf("signer called %d times, want 1 (singleflight coalescing)", got)
	}
}

func TestWalletAddress(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	if e.WalletAddress() != "0xWALLET" {
		t.Fatalf("WalletAddress() = %q, want 0xWALLET", e.WalletAddress())
	}
}
