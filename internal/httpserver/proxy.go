package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"log/slog"
)

// DefaultPort is used when PROXY_PORT is unset, zero, or out of range
// (spec.md §3 "Proxy handle", §9 "Local-only binding").
const DefaultPort = 8402

// shutdownGrace bounds how long Close waits for in-flight requests to
// finish before forcing the listener closed.
const shutdownGrace = 4 * time.Second

// ResolvePort parses the PROXY_PORT environment value, falling back to
// DefaultPort on an empty, non-numeric, zero, or out-of-range value.
func ResolvePort(envValue string) int {
	if envValue == "" {
		return DefaultPort
	}
	n, err := strconv.Atoi(envValue)
	if err != nil || n <= 0 || n > 65535 {
		return DefaultPort
	}
	return n
}

// Handle is the process-visible proxy instance (spec.md §3 "Proxy
// handle"): the port it's bound to, its local base URL, the wallet
// address requests will be signed from, and a Close to shut it down.
type Handle struct {
	Port          int
	BaseURL       string
	WalletAddress string
	Close         func() error
}

var (
	muRegistry sync.Mutex
	registry   = map[int]*runningServer{}
)

type runningServer struct {
	srv      *http.Server
	refCount int
	handle   Handle
}

// Start binds a loopback-only listener on port (127.0.0.1 only -- this
// proxy is single-user and local, spec.md §9) and serves deps. A second
// Start on a port already bound by this process returns a delegating
// handle sharing the existing listener: its Close decrements a refcount
// rather than tearing the server down out from under the first caller
// (spec.md §3 "second start() on an in-use port returns a no-op-close
// delegating handle"). Grounded on
// eugener-gandalf/cmd/gandalf/run.go's ListenAndServe/Shutdown sequencing.
func Start(port int, deps Deps) (*Handle, error) {
	muRegistry.Lock()
	defer muRegistry.Unlock()

	if rs, ok := registry[port]; ok {
		if rs.handle.WalletAddress != deps.WalletAddress {
			slog.Warn("proxy already running on this port with a different wallet",
				"port", port, "running_wallet", rs.handle.WalletAddress, "requested_wallet", deps.WalletAddress)
		}
		rs.refCount++
		h := rs.handle
		h.Close = delegateClose(port)
		return &h, nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind loopback port %d: %w", port, err)
	}
	actual := ln.Addr().(*net.TCPAddr).Port

	srv := &http.Server{
		Handler:           New(deps),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	rs := &runningServer{
		srv:      srv,
		refCount: 1,
		handle: Handle{
			Port:          actual,
			BaseURL:       fmt.Sprintf("http://127.0.0.1:%d", actual),
			WalletAddress: deps.WalletAddress,
		},
	}
	registry[actual] = rs

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("proxy listener stopped unexpectedly", "port", actual, "error", err)
		}
	}()

	h := rs.handle
	h.Close = delegateClose(actual)
	return &h, nil
}

// delegateClose returns a Close func that drops this caller's reference;
// only the last reference actually shuts the listener down, so unrelated
// Start callers sharing a port via delegation never disrupt each other.
func delegateClose(port int) func() error {
	return func() error {
		muRegistry.Lock()
		rs, ok := registry[port]
		if !ok {
			muRegistry.Unlock()
			return nil
		}
		rs.refCount--
		if rs.refCount > 0 {
			muRegistry.Unlock()
			return nil
		}
		delete(registry, port)
		muRegistry.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return rs.srv.Shutdown(ctx)
	}
}
