// Package balance tracks whether the local wallet still holds enough of
// the settlement asset to cover a payment, feeding the router's
// wallet-empty override (spec.md §4.1, §4.2). Grounded on
// eugener-gandalf/internal/worker/quota_sync.go's periodic-poll Worker
// shape, with the on-chain read style (manual 4-byte selector + padded
// argument, no abi package) taken from
// phenomenon0-polymarket-agents/pkg/eth/wallet.go's signing code.
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const defaultPollInterval = 30 * time.Second

// Checker reads the current settlement-asset balance for an address.
type Checker interface {
	Balance(ctx context.Context) (*big.Int, error)
}

// ERC20Checker reads an ERC-20 token balance via eth_call, packing the
// balanceOf(address) selector by hand rather than pulling in go-ethereum's
// accounts/abi package for a single four-byte selector.
type ERC20Checker struct {
	client *ethclient.Client
	token  common.Address
	holder common.Address
}

// NewERC20Checker dials rpcURL and returns a Checker for token's
// balanceOf(holder).
func NewERC20Checker(rpcURL string, token, holder common.Address) (*ERC20Checker, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %q: %w", rpcURL, err)
	}
	return &ERC20Checker{client: c, token: token, holder: holder}, nil
}

var balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

// Balance returns the raw token balance (smallest unit, e.g. USDC base units).
func (c *ERC20Checker) Balance(ctx context.Context) (*big.Int, error) {
	data := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(c.holder.Bytes(), 32)...)
	msg := ethereum.CallMsg{To: &c.token, Data: data}
	out, err := c.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}

// Monitor periodically polls a Checker and exposes whether the balance
// has fallen to or below a threshold, via an atomic flag so the HTTP
// handler can read it on every request without blocking on the network.
type Monitor struct {
	checker      Checker
	threshold    *big.Int
	pollInterval time.Duration
	empty        atomic.Bool
}

// NewMonitor builds a Monitor. threshold is the balance (in the asset's
// smallest unit) at or below which the wallet is considered empty; zero
// means "any non-positive balance".
func NewMonitor(checker Checker, threshold *big.Int, pollInterval time.Duration) *Monitor {
	if threshold == nil {
		threshold = big.NewInt(0)
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Monitor{checker: checker, threshold: threshold, pollInterval: pollInterval}
}

// Name identifies this worker in process logs.
func (m *Monitor) Name() string { return "balance_monitor" }

// Empty reports the last-observed wallet-empty state. Safe for
// concurrent use; satisfies httpserver.WalletChecker.
func (m *Monitor) Empty() bool { return m.empty.Load() }

// Run polls the balance on an interval until ctx is cancelled, matching
// the teacher's periodic-worker shape (initial poll, then ticker loop).
func (m *Monitor) Run(ctx context.Context) error {
	m.poll(ctx)

	t := time.NewTicker(m.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	bal, err := m.checker.Balance(ctx)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "balance check failed",
			slog.String("error", err.Error()),
		)
		return
	}
	empty := bal.Cmp(m.threshold) <= 0
	if empty != m.empty.Load() {
		slog.LogAttrs(ctx, slog.LevelInfo, "wallet balance state changed",
			slog.Bool("empty", empty),
			slog.String("balance", bal.String()),
		)
	}
	m.empty.Store(empty)
}
