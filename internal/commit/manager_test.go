package commit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wahoo-predict/wahoot-sub000/internal/chain"
)

func TestCommit_Success(t *testing.T) {
	sim := chain.NewSimulated(chain.NetworkView{Block: 100}, 0)
	mgr := NewManager(sim, 2, 32)

	result := mgr.Commit(context.Background(), []int64{1, 2}, []float64{0.1, 0.2})
	if result.Status != StatusCommitted {
		t.Fatalf("expected committed, got %s: %s", result.Status, result.Message)
	}
	if _, ok := mgr.State.LastSuccessfulBlock(); !ok {
		t.Errorf("expected LastSuccessfulBlock to be set after a successful commit")
	}
}

func TestCommit_Cooldown(t *testing.T) {
	sim := chain.NewSimulated(chain.NetworkView{Block: 100}, 50)
	mgr := NewManager(sim, 2, 32)

	// First commit succeeds and sets lastCommitBlock.
	if r := mgr.Commit(context.Background(), []int64{1}, []float64{1}); r.Status != StatusCommitted {
		t.Fatalf("expected first commit to succeed, got %s", r.Status)
	}

	// Immediately retrying without advancing the block should cool down.
	result := mgr.Commit(context.Background(), []int64{1}, []float64{1})
	if result.Status != StatusCooldown {
		t.Fatalf("expected cooldown, got %s: %s", result.Status, result.Message)
	}
}

func TestCommit_PermanentFailureDoesNotRetry(t *testing.T) {
	sim := chain.NewSimulated(chain.NetworkView{Block: 1}, 0)
	sim.ForceError(errors.New("invalid signature: unauthorized hotkey"))
	mgr := NewManager(sim, 3, 32)

	result := mgr.Commit(context.Background(), []int64{1}, []float64{1})
	if result.Status != StatusFailed {
		t.Fatalf("expected failed status for permanent error, got %s", result.Status)
	}
}

func TestCommit_TransientFailureRetriesThenSucceeds(t *testing.T) {
	sim := chain.NewSimulated(chain.NetworkView{Block: 1}, 0)
	sim.ForceError(errors.New("temporary network timeout"))
	mgr := NewManager(sim, 2, 32)

	result := mgr.Commit(context.Background(), []int64{1}, []float64{1})
	if result.Status != StatusCommitted {
		t.Fatalf("expected eventual success after transient retry, got %s: %s", result.Status, result.Message)
	}
}

func TestCommit_DynamicCommitPeriodPreferredOverStaticFallback(t *testing.T) {
	sim := chain.NewSimulated(chain.NetworkView{Block: 100}, 1000)
	sim.SetCommitPeriod(5)
	mgr := NewManager(sim, 0, 32) // static fallback of 32, chain reports 5

	if r := mgr.Commit(context.Background(), []int64{1}, []float64{1}); r.Status != StatusCommitted {
		t.Fatalf("expected first commit to succeed, got %s", r.Status)
	}
	result := mgr.Commit(context.Background(), []int64{1}, []float64{1})
	if result.Status != StatusCooldown {
		t.Fatalf("expected cooldown, got %s", result.Status)
	}
	if !result.EtaKnown || result.EtaBlocks != 5 {
		t.Errorf("expected eta derived from dynamic commit period 5, got known=%v blocks=%d", result.EtaKnown, result.EtaBlocks)
	}
}

func TestIsPermanent_TakesPrecedenceOverTransientKeyword(t *testing.T) {
	// A message containing both a permanent and transient keyword must
	// classify as permanent.
	msg := "connection refused: insufficient balance"
	if !isPermanent(msg) {
		t.Errorf("expected permanent classification to win when both keyword sets match")
	}
}

func TestCommit_CircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	sim := chain.NewSimulated(chain.NetworkView{Block: 1}, 0)
	mgr := NewManager(sim, 0, 32) // maxRetries 0: one breaker execution per Commit call

	for i := 0; i < 5; i++ {
		sim.ForceError(errors.New("invalid signature: unauthorized hotkey"))
		result := mgr.Commit(context.Background(), []int64{1}, []float64{1})
		if result.Status != StatusFailed {
			t.Fatalf("attempt %d: expected failed status while tripping breaker, got %s", i, result.Status)
		}
	}

	// The breaker should now be open; this call would otherwise succeed
	// (no forced error queued) but must still be rejected by the breaker.
	result := mgr.Commit(context.Background(), []int64{1}, []float64{1})
	if result.Status != StatusFailed {
		t.Fatalf("expected failed status once breaker is open, got %s", result.Status)
	}
	if !strings.Contains(result.Message, "circuit breaker open") {
		t.Errorf("expected message to mention circuit breaker open state, got %q", result.Message)
	}
}
