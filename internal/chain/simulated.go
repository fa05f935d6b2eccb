package chain

import (
	"context"
	"fmt"
	"sync"
)

// Simulated is an in-process fake chain client: a local dry-run backend for
// development and the test suite. It holds its own network view and accepts
// every well-formed commit, optionally simulating a cooldown window.
type Simulated struct {
	mu sync.Mutex

	view NetworkView

	block            uint64
	lastCommitBlock  uint64
	cooldownBlocks   uint64
	commitPeriod     uint64
	commitPeriodKnown bool

	forceErr error
}

// NewSimulated builds a Simulated client with the given static view and
// cooldown window (in blocks) between accepted commits.
func NewSimulated(view NetworkView, cooldownBlocks uint64) *Simulated {
	return &Simulated{view: view, cooldownBlocks: cooldownBlocks, block: view.Block}
}

// SetCommitPeriod makes CommitPeriod report a dynamic value, exercising the
// "prefer the chain client's own commit period" resolution in the commit
// manager.
func (s *Simulated) SetCommitPeriod(period uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitPeriod = period
	s.commitPeriodKnown = true
}

// AdvanceBlock moves the simulated chain's current block forward by n.
func (s *Simulated) AdvanceBlock(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block += n
}

// ForceError makes the next SetWeights call return err, for exercising
// transient/permanent classification in tests.
func (s *Simulated) ForceError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceErr = err
}

func (s *Simulated) NetworkView(ctx context.Context, netuid uint64) (NetworkView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Block = s.block
	return s.view, nil
}

func (s *Simulated) SetWeights(ctx context.Context, uids []int64, weights []float64) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.forceErr != nil {
		err := s.forceErr
		s.forceErr = nil
		return false, "", err
	}
	if len(uids) != len(weights) {
		return false, "", fmt.Errorf("uids/weights length mismatch")
	}
	if s.cooldownBlocks > 0 && s.block < s.lastCommitBlock+s.cooldownBlocks {
		return false, "too soon to commit weights (no attempt made)", nil
	}
	s.lastCommitBlock = s.block
	return true, fmt.Sprintf("committed %d weights at block %d", len(uids), s.block), nil
}

func (s *Simulated) CurrentBlock(ctx context.Context) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block, true
}

func (s *Simulated) CommitPeriod(ctx context.Context) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitPeriod, s.commitPeriodKnown
}
