// Package linear provides the reference algo implementation: a linear
// regression model trained with mini-batch SGD. It is small enough to
// verify strategy semantics end to end while exercising every part of
// the algo contract (incoming aggregate application, parameter updates,
// state round-tripping).
package linear

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fedlab/fedflow/algo"
	"github.com/fedlab/fedflow/types"
)

// Config controls the local training pass.
type Config struct {
	NumFeatures  int     `json:"num_features" yaml:"num_features"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	BatchSize    int     `json:"batch_size" yaml:"batch_size"`
	// NumUpdates is the number of mini-batch SGD steps per round.
	NumUpdates int `json:"num_updates" yaml:"num_updates"`
	// Local keeps the locally trained parameters between rounds instead
	// of reverting to the last aggregate. Under federated averaging the
	// model must only advance through aggregates, so a Local algo is
	// restricted to the single-organization strategy.
	Local bool `json:"local" yaml:"local"`
}

// DefaultConfig returns a configuration suitable for the linear fixtures.
func DefaultConfig(numFeatures int) Config {
	return Config{
		NumFeatures:  numFeatures,
		LearningRate: 0.05,
		BatchSize:    32,
		NumUpdates:   100,
	}
}

// Algo is a linear regression model with a bias term. The model is
// zero-initialized so every organization starts from identical weights.
type Algo struct {
	cfg Config

	weights types.Layer
	bias    types.Layer
	cursor  int
	round   int
}

var _ algo.Algo = (*Algo)(nil)

// New creates a zero-initialized linear algo.
func New(cfg Config) *Algo {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.NumUpdates <= 0 {
		cfg.NumUpdates = 1
	}
	return &Algo{
		cfg:     cfg,
		weights: make(types.Layer, cfg.NumFeatures),
		bias:    make(types.Layer, 1),
	}
}

// Name identifies the algo implementation.
func (a *Algo) Name() string { return "linear_sgd" }

// Strategies lists the strategies this algo supports. The federated
// averaging contract requires reverting to the aggregate after each
// local pass, while the single-organization strategy requires keeping
// it, so the two modes are mutually exclusive.
func (a *Algo) Strategies() []types.StrategyName {
	if a.cfg.Local {
		return []types.StrategyName{types.StrategySingleOrg}
	}
	return []types.StrategyName{types.StrategyFederatedAveraging}
}

// InitRound resets the batch cursor for a new round.
func (a *Algo) InitRound(round int) {
	a.round = round
	a.cursor = 0
}

// Train applies the incoming aggregate, runs cfg.NumUpdates mini-batch
// SGD steps on the batch, and returns the parameter update of the pass.
// The model then reverts to the post-aggregate parameters: they may
// only advance through aggregates, so every organization holds an
// identical model at the start of each round. In Local mode the trained
// parameters are kept instead.
func (a *Algo) Train(ctx context.Context, batch types.DataBatch, shared *types.AveragedState) (*types.SharedState, error) {
	if batch.Len() == 0 {
		return nil, types.NewError(ErrEmptyBatchCode, "train called with an empty batch")
	}
	if len(batch.Y) != batch.Len() {
		return nil, types.NewErrorf(types.ErrInvalidRequest, "batch has %d samples but %d targets", batch.Len(), len(batch.Y))
	}

	if shared != nil {
		if err := a.applyUpdate(shared.AvgParamsUpdate); err != nil {
			return nil, err
		}
	}

	startWeights := a.weights.Clone()
	startBias := a.bias.Clone()

	for step := 0; step < a.cfg.NumUpdates; step++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		a.sgdStep(batch)
	}

	update := []types.Layer{
		diff(a.weights, startWeights),
		diff(a.bias, startBias),
	}

	if !a.cfg.Local {
		a.weights = startWeights
		a.bias = startBias
	}
	return &types.SharedState{NumSamples: batch.Len(), ParamsUpdate: update}, nil
}

// Predict computes w·x + b for every sample.
func (a *Algo) Predict(ctx context.Context, batch types.DataBatch) ([]float64, error) {
	out := make([]float64, batch.Len())
	for i, x := range batch.X {
		if len(x) != len(a.weights) {
			return nil, types.NewErrorf(types.ErrInvalidRequest,
				"sample %d has %d features, model expects %d", i, len(x), len(a.weights))
		}
		out[i] = a.forward(x)
	}
	return out, nil
}

// Params returns deep copies of the current model layers: weights first,
// then the bias.
func (a *Algo) Params() []types.Layer {
	return []types.Layer{a.weights.Clone(), a.bias.Clone()}
}

// ErrEmptyBatchCode is returned when Train receives no samples.
const ErrEmptyBatchCode = types.ErrorCode("EMPTY_BATCH")

// persisted is the serialized form of the algo state.
type persisted struct {
	Config  Config      `json:"config"`
	Weights types.Layer `json:"weights"`
	Bias    types.Layer `json:"bias"`
	Cursor  int         `json:"cursor"`
	Round   int         `json:"round"`
}

// SaveState serializes the full model state.
func (a *Algo) SaveState() ([]byte, error) {
	return json.Marshal(persisted{
		Config:  a.cfg,
		Weights: a.weights,
		Bias:    a.bias,
		Cursor:  a.cursor,
		Round:   a.round,
	})
}

// LoadState restores a state produced by SaveState.
func (a *Algo) LoadState(data []byte) error {
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode linear algo state: %w", err)
	}
	a.cfg = p.Config
	a.weights = p.Weights
	a.bias = p.Bias
	a.cursor = p.Cursor
	a.round = p.Round
	return nil
}

func (a *Algo) forward(x []float64) float64 {
	sum := a.bias[0]
	for i, w := range a.weights {
		sum += w * x[i]
	}
	return sum
}

// sgdStep performs one mini-batch gradient step on the MSE loss,
// cycling through the batch deterministically.
func (a *Algo) sgdStep(batch types.DataBatch) {
	n := batch.Len()
	size := a.cfg.BatchSize
	if size > n {
		size = n
	}

	gradW := make([]float64, len(a.weights))
	var gradB float64
	for k := 0; k < size; k++ {
		idx := (a.cursor + k) % n
		x := batch.X[idx]
		e := a.forward(x) - batch.Y[idx]
		for i := range gradW {
			gradW[i] += e * x[i]
		}
		gradB += e
	}
	a.cursor = (a.cursor + size) % n

	scale := a.cfg.LearningRate / float64(size)
	for i := range a.weights {
		a.weights[i] -= scale * gradW[i]
	}
	a.bias[0] -= scale * gradB
}

// applyUpdate increments the model parameters by the aggregate update.
func (a *Algo) applyUpdate(update []types.Layer) error {
	if len(update) != 2 {
		return types.NewErrorf(types.ErrLayerMismatch, "aggregate has %d layers, model expects 2", len(update))
	}
	if len(update[0]) != len(a.weights) || len(update[1]) != len(a.bias) {
		return types.NewError(types.ErrLayerMismatch, "aggregate layer sizes do not match model")
	}
	for i, v := range update[0] {
		a.weights[i] += v
	}
	a.bias[0] += update[1][0]
	return nil
}

func diff(a, b types.Layer) types.Layer {
	out := make(types.Layer, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}
