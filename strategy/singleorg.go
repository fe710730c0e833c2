package strategy

import (
	"github.com/fedlab/fedflow/node"
	"github.com/fedlab/fedflow/plan"
	"github.com/fedlab/fedflow/types"
)

// SingleOrg trains on exactly one organization with no aggregation.
// It exists to run an algo through the same plan/engine machinery as a
// federated strategy when only one data holder participates.
type SingleOrg struct {
	localState *types.StateRef
}

var _ Strategy = (*SingleOrg)(nil)

// NewSingleOrg creates a single-organization strategy.
func NewSingleOrg() *SingleOrg { return &SingleOrg{} }

// Name returns the strategy name.
func (s *SingleOrg) Name() types.StrategyName { return types.StrategySingleOrg }

// PerformRound registers one local training pass. The aggregation node
// is ignored; passing more than one train node is an error.
func (s *SingleOrg) PerformRound(b *plan.Builder, trainNodes []*node.TrainDataNode, _ *node.AggregationNode, round int) error {
	if len(trainNodes) != 1 {
		return types.NewErrorf(types.ErrInvalidPlan,
			"single-org strategy requires exactly one train node, got %d", len(trainNodes))
	}

	local, _ := trainNodes[0].UpdateStates(b, node.TrainInputs{Local: s.localState}, round)
	s.localState = local
	return nil
}

// PerformPredict registers evaluation tasks from the single local state.
func (s *SingleOrg) PerformPredict(b *plan.Builder, testNodes []*node.TestDataNode, trainNodes []*node.TrainDataNode, round int) error {
	if s.localState == nil {
		return types.NewError(types.ErrInvalidPlan, "cannot predict before any training round")
	}
	for _, testNode := range testNodes {
		if len(trainNodes) == 0 || trainNodes[0].OrgID != testNode.OrgID {
			return types.NewErrorf(types.ErrUntrainedOrg,
				"cannot test on organization %s: no train node of that organization", testNode.OrgID)
		}
		testNode.UpdateStates(b, *s.localState, round)
	}
	return nil
}
