package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fedlab/fedflow/algo"
	"github.com/fedlab/fedflow/types"
)

// DummyAlgo is a minimal algo for engine and experiment tests. Its
// "model" is a single counter incremented on every train pass, its
// shared state carries that counter as a one-element layer, and every
// lifecycle call is recorded so tests can assert ordering.
type DummyAlgo struct {
	mu sync.Mutex

	Counter    int
	Rounds     []int // rounds InitRound was called with
	TrainCalls int
	LoadCalls  int
	SaveCalls  int

	TrainErr   error
	PredictErr error
}

type dummyState struct {
	Counter    int `json:"counter"`
	TrainCalls int `json:"train_calls"`
}

func (d *DummyAlgo) Name() string { return "dummy" }

func (d *DummyAlgo) Strategies() []types.StrategyName {
	return []types.StrategyName{types.StrategyFederatedAveraging, types.StrategySingleOrg}
}

func (d *DummyAlgo) InitRound(round int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Rounds = append(d.Rounds, round)
}

func (d *DummyAlgo) Train(_ context.Context, batch types.DataBatch, shared *types.AveragedState) (*types.SharedState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.TrainErr != nil {
		return nil, d.TrainErr
	}
	if shared != nil && len(shared.AvgParamsUpdate) > 0 && len(shared.AvgParamsUpdate[0]) > 0 {
		d.Counter += int(shared.AvgParamsUpdate[0][0])
	}
	d.Counter++
	d.TrainCalls++
	return &types.SharedState{
		NumSamples:   batch.Len(),
		ParamsUpdate: []types.Layer{{float64(d.Counter)}},
	}, nil
}

func (d *DummyAlgo) Predict(_ context.Context, batch types.DataBatch) ([]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.PredictErr != nil {
		return nil, d.PredictErr
	}
	preds := make([]float64, batch.Len())
	for i := range preds {
		preds[i] = float64(d.Counter)
	}
	return preds, nil
}

func (d *DummyAlgo) SaveState() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SaveCalls++
	return json.Marshal(dummyState{Counter: d.Counter, TrainCalls: d.TrainCalls})
}

func (d *DummyAlgo) LoadState(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var s dummyState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	d.Counter = s.Counter
	d.TrainCalls = s.TrainCalls
	d.LoadCalls++
	return nil
}

var _ algo.Algo = (*DummyAlgo)(nil)

// TrackingFactory returns an algo.Factory that records every instance it
// creates, so tests can inspect per-organization algos after a run.
func TrackingFactory() (algo.Factory, *[]*DummyAlgo) {
	instances := &[]*DummyAlgo{}
	var mu sync.Mutex
	factory := func() algo.Algo {
		mu.Lock()
		defer mu.Unlock()
		d := &DummyAlgo{}
		*instances = append(*instances, d)
		return d
	}
	return factory, instances
}
