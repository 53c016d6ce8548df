package balance

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"
)

type fakeChecker struct {
	balances []*big.Int
	idx      int
	err      error
}

func (f *fakeChecker) Balance(context.Context) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	b := f.balances[f.idx]
	if f.idx < len(f.balances)-1 {
		f.idx++
	}
	return b, nil
}

func TestMonitor_EmptyAfterInitialPoll(t *testing.T) {
	t.Parallel()
	m := NewMonitor(&fakeChecker{balances: []*big.Int{big.NewInt(0)}}, nil, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = m.Run(ctx)
	}()
	waitFor(t, func() bool { return m.Empty() })
	cancel()
}

func TestMonitor_FundedWalletIsNotEmpty(t *testing.T) {
	t.Parallel()
	m := NewMonitor(&fakeChecker{balances: []*big.Int{big.NewInt(1_000_000)}}, nil, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = m.Run(ctx)
	}()
	waitForStable(t, func() bool { return !m.Empty() })
	cancel()
}

func TestMonitor_TransitionsOnRepoll(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{balances: []*big.Int{big.NewInt(500), big.NewInt(0)}}
	m := NewMonitor(checker, nil, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = m.Run(ctx)
	}()

	waitFor(t, func() bool { return m.Empty() })
}

func TestMonitor_CheckerFailureLeavesLastKnownState(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{balances: []*big.Int{big.NewInt(1)}}
	m := NewMonitor(checker, nil, time.Hour)
	m.poll(context.Background())
	if m.Empty() {
		t.Fatalf("expected funded wallet to report non-empty")
	}

	checker.err = errors.New("rpc unavailable")
	m.poll(context.Background())
	if m.Empty() {
		t.Fatalf("transient check failure should not flip the flag")
	}
}

func TestMonitor_ThresholdAboveZero(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{balances: []*big.Int{big.NewInt(50)}}
	m := NewMonitor(checker, big.NewInt(100), time.Hour)
	m.poll(context.Background())
	if !m.Empty() {
		t.Fatalf("balance below threshold should report empty")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func waitForStable(t *testing.T, cond func() bool) {
	t.Helper()
	time.Sleep(20 * time.Millisecond)
	if !cond() {
		t.Fatalf("condition not met")
	}
}
