// Package commit implements the on-chain weight commit protocol: bounded
// retry, success/cooldown/transient/permanent classification, cooldown ETA
// logging deduplicated per block, and a circuit breaker around the chain
// client so a persistently unreachable chain degrades to fast, logged
// failures instead of paying the full retry budget's latency every epoch.
package commit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/wahoo-predict/wahoot-sub000/internal/chain"
	"github.com/wahoo-predict/wahoot-sub000/internal/logging"
)

// Status is the outcome of one commit attempt.
type Status string

const (
	StatusCommitted Status = "committed"
	StatusCooldown  Status = "cooldown"
	StatusFailed    Status = "failed"
)

// Non-transient (permanent) keywords are checked first, matching the
// reference implementation's precedence: a message containing both a
// permanent and a transient keyword is still classified permanent.
var permanentKeywords = []string{
	"nonce", "insufficient", "balance", "invalid", "unauthorized", "forbidden",
	"400", "401", "403",
}

var transientKeywords = []string{
	"timeout", "connection", "network", "rpc", "temporary", "unavailable",
	"503", "502", "504",
}

func isPermanent(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range permanentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isTransient(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range transientKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isCooldownMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "too soon") || strings.Contains(lower, "no attempt made")
}

// State is the process-wide commit bookkeeping the manager owns exclusively
// — never placed in ambient global storage, per the design's note on
// cyclic references.
type State struct {
	mu                   sync.Mutex
	lastSuccessfulBlock  *uint64
	lastCooldownLogBlock *uint64
}

// LastSuccessfulBlock returns the block of the most recent successful
// commit, if any.
func (s *State) LastSuccessfulBlock() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSuccessfulBlock == nil {
		return 0, false
	}
	return *s.lastSuccessfulBlock, true
}

// Manager submits weight vectors to the chain, bounded-retrying transient
// failures and giving up immediately on permanent ones.
type Manager struct {
	Chain        chain.Client
	State        *State
	MaxRetries   int
	CommitPeriod uint64 // fallback used when the chain client has no dynamic value

	breaker *gobreaker.CircuitBreaker
}

// NewManager builds a Manager with a circuit breaker tripping after 5
// consecutive failures and a 30s half-open cooldown, grounded on the
// defaults the wider example corpus uses for gobreaker (sawpanic-cryptorun).
func NewManager(client chain.Client, maxRetries int, commitPeriod uint64) *Manager {
	settings := gobreaker.Settings{
		Name:    "chain-commit",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Manager{
		Chain:        client,
		State:        &State{},
		MaxRetries:   maxRetries,
		CommitPeriod: commitPeriod,
		breaker:      gobreaker.NewCircuitBreaker(settings),
	}
}

// Result is the outcome of Commit, including the tx message on success and
// the eta (in blocks) to the next commit window when status is cooldown.
type Result struct {
	Status   Status
	Message  string
	EtaBlocks uint64
	EtaKnown  bool
}

// Commit submits uids/weights to the chain, retrying transient failures up
// to MaxRetries times. It never panics and never returns a Go error for a
// chain-level failure — failures are reported through Result.Status, per the
// design's rule that the epoch loop never propagates non-fatal exceptions.
func (m *Manager) Commit(ctx context.Context, uids []int64, weights []float64) Result {
	log := logging.From(ctx)

	var lastResult Result
	attempts := m.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		currentBlock, blockKnown := m.Chain.CurrentBlock(ctx)

		raw, err := m.breaker.Execute(func() (interface{}, error) {
			ok, msg, err := m.Chain.SetWeights(ctx, uids, weights)
			if err != nil {
				return nil, err
			}
			return setWeightsReply{ok: ok, msg: msg}, nil
		})

		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				lastResult = Result{Status: StatusFailed, Message: "circuit breaker open: " + err.Error()}
				log.Error().Err(err).Msg("commit skipped: chain client circuit breaker is open")
				return lastResult
			}
			if isPermanent(err.Error()) {
				lastResult = Result{Status: StatusFailed, Message: err.Error()}
				log.Error().Err(err).Msg("permanent failure committing weights, skipping epoch's commit")
				return lastResult
			}
			if isTransient(err.Error()) && attempt < attempts-1 {
				log.Warn().Err(err).Int("attempt", attempt+1).Msg("transient failure committing weights, retrying")
				continue
			}
			lastResult = Result{Status: StatusFailed, Message: err.Error()}
			log.Error().Err(err).Msg("failed to commit weights after exhausting retries")
			return lastResult
		}

		reply := raw.(setWeightsReply)

		if reply.ok {
			m.markSuccess(currentBlock, blockKnown)
			lastResult = Result{Status: StatusCommitted, Message: reply.msg}
			return lastResult
		}

		if isCooldownMessage(reply.msg) {
			lastResult = m.handleCooldown(ctx, currentBlock, blockKnown)
			return lastResult
		}

		if isPermanent(reply.msg) {
			lastResult = Result{Status: StatusFailed, Message: reply.msg}
			log.Error().Str("message", reply.msg).Msg("permanent failure committing weights, skipping epoch's commit")
			return lastResult
		}

		if isTransient(reply.msg) && attempt < attempts-1 {
			log.Warn().Str("message", reply.msg).Int("attempt", attempt+1).Msg("transient failure committing weights, retrying")
			continue
		}

		lastResult = Result{Status: StatusFailed, Message: reply.msg}
		log.Error().Str("message", reply.msg).Msg("failed to commit weights")
		return lastResult
	}

	return lastResult
}

type setWeightsReply struct {
	ok  bool
	msg string
}

func (m *Manager) markSuccess(currentBlock uint64, blockKnown bool) {
	m.State.mu.Lock()
	defer m.State.mu.Unlock()
	if blockKnown {
		b := currentBlock
		m.State.lastSuccessfulBlock = &b
	}
	m.State.lastCooldownLogBlock = nil
}

func (m *Manager) handleCooldown(ctx context.Context, currentBlock uint64, blockKnown bool) Result {
	log := logging.From(ctx)

	result := Result{Status: StatusCooldown}

	period := m.CommitPeriod
	if dynamic, ok := m.Chain.CommitPeriod(ctx); ok {
		period = dynamic
	}

	m.State.mu.Lock()
	lastSuccess := m.State.lastSuccessfulBlock
	alreadyLogged := m.State.lastCooldownLogBlock != nil && blockKnown && *m.State.lastCooldownLogBlock == currentBlock
	if blockKnown && !alreadyLogged {
		b := currentBlock
		m.State.lastCooldownLogBlock = &b
	}
	m.State.mu.Unlock()

	if lastSuccess != nil && blockKnown {
		next := *lastSuccess + period
		eta := uint64(0)
		if next > currentBlock {
			eta = next - currentBlock
		}
		result.EtaBlocks = eta
		result.EtaKnown = true
	}

	if !alreadyLogged {
		log.Debug().Uint64("eta_blocks", result.EtaBlocks).Bool("eta_known", result.EtaKnown).
			Msg("chain reported cooldown, no attempt made")
	}

	return result
}
