// Package algo defines the algorithm layer: the adapter contract through
// which a federated strategy drives model-specific training and inference.
//
// An Algo holds the local model state of one organization. The engine
// persists that state at the end of every round and restores it at the
// start of the next, so implementations must round-trip completely
// through SaveState/LoadState.
package algo

import (
	"context"

	"github.com/fedlab/fedflow/types"
)

// Algo is implemented by framework adapters exposing a trainable model
// to federated strategies.
type Algo interface {
	// Name identifies the algo implementation.
	Name() string

	// Strategies returns the strategy names this algo is compatible
	// with. Experiments refuse algo/strategy pairs that do not match.
	Strategies() []types.StrategyName

	// InitRound is called exactly once at the start of each round,
	// before any Train or Predict call of that round.
	InitRound(round int)

	// Train performs one local update pass on the given batch. When
	// shared is non-nil it carries the aggregate of the previous round
	// and must be applied to the local model before training. The
	// returned state holds the parameter update produced by this pass
	// and the number of samples it was computed on.
	Train(ctx context.Context, batch types.DataBatch, shared *types.AveragedState) (*types.SharedState, error)

	// Predict runs inference on the given batch.
	Predict(ctx context.Context, batch types.DataBatch) ([]float64, error)

	// SaveState serializes the complete local state.
	SaveState() ([]byte, error)

	// LoadState restores a state produced by SaveState.
	LoadState(data []byte) error
}

// Factory creates a fresh Algo instance. The engine instantiates one
// algo per training organization from the experiment's factory.
type Factory func() Algo

// Compatible reports whether the algo declares support for the strategy.
func Compatible(a Algo, name types.StrategyName) bool {
	for _, s := range a.Strategies() {
		if s == name {
			return true
		}
	}
	return false
}
