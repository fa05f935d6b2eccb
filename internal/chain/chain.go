// Package chain defines the narrow adapter boundary between the validator
// core and the external chain: network-view sync, weight commit, and block
// height. The real RPC/signing/key-management stack behind this interface is
// out of scope (see SPEC_FULL.md §1); this package ships only the interface
// and an in-process Simulated implementation used for local dry runs and by
// the rest of the core's own tests.
package chain

import (
	"context"

	"github.com/wahoo-predict/wahoot-sub000/internal/domain"
)

// NetworkView is one sync of the chain's subnet membership snapshot.
type NetworkView struct {
	UIDs          []int64
	UIDToIdentity map[int64]string
	Endpoints     map[int64]domain.Endpoint
	Tempo         uint64
	Block         uint64
}

// Client is the adapter the validator core depends on. Implementations may
// wrap a real chain RPC client; CommitPeriod is optional (ok=false when the
// chain doesn't expose a dynamic value), in which case callers fall back to
// their own configured constant.
type Client interface {
	NetworkView(ctx context.Context, netuid uint64) (NetworkView, error)
	SetWeights(ctx context.Context, uids []int64, weights []float64) (ok bool, msg string, err error)
	CurrentBlock(ctx context.Context) (block uint64, ok bool)
	CommitPeriod(ctx context.Context) (period uint64, ok bool)
}
