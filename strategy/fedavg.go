package strategy

import (
	"github.com/fedlab/fedflow/node"
	"github.com/fedlab/fedflow/plan"
	"github.com/fedlab/fedflow/types"
)

// FedAvg is the federated averaging strategy: the simplest centralized
// strategy, in which a single aggregation organization communicates
// with every train organization. A round consists of aggregating the
// parameter updates produced by the previous local pass — a mean
// weighted by each organization's sample count — and training locally
// on the distributed consensus update.
type FedAvg struct {
	localStates  []*types.StateRef
	sharedStates []types.StateRef
}

var _ Strategy = (*FedAvg)(nil)

// NewFedAvg creates a federated averaging strategy.
func NewFedAvg() *FedAvg { return &FedAvg{} }

// Name returns the strategy name.
func (s *FedAvg) Name() types.StrategyName { return types.StrategyFederatedAveraging }

// PerformRound registers one round of federated averaging. Round 0
// performs the initialization local update on every train organization;
// later rounds aggregate the previous shared states on the aggregation
// organization and run a local update on the result.
func (s *FedAvg) PerformRound(b *plan.Builder, trainNodes []*node.TrainDataNode, aggNode *node.AggregationNode, round int) error {
	if aggNode == nil {
		return types.NewError(types.ErrNoAggregator, "federated averaging requires an aggregation node")
	}
	if len(trainNodes) == 0 {
		return types.NewError(types.ErrInvalidPlan, "federated averaging requires at least one train node")
	}

	if round == 0 {
		if s.sharedStates != nil {
			return types.NewError(types.ErrInvalidPlan, "initialization round registered twice")
		}
		s.performLocalUpdates(b, trainNodes, nil, round)
		return nil
	}

	if s.sharedStates == nil {
		return types.NewError(types.ErrInvalidPlan, "round registered before the initialization round")
	}

	aggRef := aggNode.UpdateStates(b, s.sharedStates, AvgSharedStates, round)
	s.performLocalUpdates(b, trainNodes, aggRef, round)
	return nil
}

// performLocalUpdates registers a training task on every train node,
// chaining each organization's local state from the previous pass.
func (s *FedAvg) performLocalUpdates(b *plan.Builder, trainNodes []*node.TrainDataNode, aggregate *types.StateRef, round int) {
	nextLocal := make([]*types.StateRef, len(trainNodes))
	nextShared := make([]types.StateRef, len(trainNodes))

	for i, n := range trainNodes {
		in := node.TrainInputs{Shared: aggregate}
		if s.localStates != nil {
			in.Local = s.localStates[i]
		}
		local, shared := n.UpdateStates(b, in, round)
		nextLocal[i] = local
		nextShared[i] = *shared
	}

	s.localStates = nextLocal
	s.sharedStates = nextShared
}

// PerformPredict registers an evaluation task for every test node,
// predicting from the local state of the train node of the same
// organization. Testing on an organization that did not train is not
// supported.
func (s *FedAvg) PerformPredict(b *plan.Builder, testNodes []*node.TestDataNode, trainNodes []*node.TrainDataNode, round int) error {
	if s.localStates == nil {
		return types.NewError(types.ErrInvalidPlan, "cannot predict before any training round")
	}

	for _, testNode := range testNodes {
		idx := -1
		for i, trainNode := range trainNodes {
			if trainNode.OrgID == testNode.OrgID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return types.NewErrorf(types.ErrUntrainedOrg,
				"cannot test on organization %s: no train node of that organization", testNode.OrgID)
		}
		testNode.UpdateStates(b, *s.localStates[idx], round)
	}
	return nil
}

// AvgSharedStates computes the aggregate of one federated averaging
// round: the per-layer mean of all parameter updates, weighted by the
// proportion of samples each organization trained on.
func AvgSharedStates(states []*types.SharedState) (*types.AveragedState, error) {
	if len(states) == 0 {
		return nil, types.NewError(types.ErrEmptySharedStates,
			"no shared states to average; local training must produce a shared state")
	}

	numLayers := len(states[0].ParamsUpdate)
	totalSamples := 0
	for _, st := range states {
		if len(st.ParamsUpdate) != numLayers {
			return nil, types.NewErrorf(types.ErrLayerMismatch,
				"shared states disagree on layer count: %d vs %d", len(st.ParamsUpdate), numLayers)
		}
		if st.NumSamples <= 0 {
			return nil, types.NewError(types.ErrEmptySharedStates,
				"every shared state must carry a positive sample count")
		}
		totalSamples += st.NumSamples
	}

	avg := make([]types.Layer, numLayers)
	for l := 0; l < numLayers; l++ {
		size := len(states[0].ParamsUpdate[l])
		layer := make(types.Layer, size)
		for _, st := range states {
			if len(st.ParamsUpdate[l]) != size {
				return nil, types.NewErrorf(types.ErrLayerMismatch,
					"layer %d size mismatch: %d vs %d", l, len(st.ParamsUpdate[l]), size)
			}
			weight := float64(st.NumSamples) / float64(totalSamples)
			for i, v := range st.ParamsUpdate[l] {
				layer[i] += v * weight
			}
		}
		avg[l] = layer
	}

	return &types.AveragedState{AvgParamsUpdate: avg}, nil
}
