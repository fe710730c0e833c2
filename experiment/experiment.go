// Package experiment ties the pieces of a federated run together: it
// validates the algo/strategy pairing, builds the full compute plan up
// front, and hands it to the engine for execution.
package experiment

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/fedlab/fedflow/algo"
	"github.com/fedlab/fedflow/engine"
	"github.com/fedlab/fedflow/node"
	"github.com/fedlab/fedflow/plan"
	"github.com/fedlab/fedflow/strategy"
	"github.com/fedlab/fedflow/types"
)

// Definition describes one federated experiment. The plan it produces
// covers rounds 0 through NumRounds, where round 0 is the
// initialization pass, so NumRounds aggregations happen in total.
type Definition struct {
	// Algo creates the model adapter trained on every organization.
	Algo algo.Factory

	// Strategy coordinates the rounds. A strategy instance accumulates
	// graph state, so it must be fresh for every experiment.
	Strategy strategy.Strategy

	// TrainNodes are the organizations contributing training data.
	TrainNodes []*node.TrainDataNode

	// TestNodes are the organizations evaluating the model. May be
	// empty when EvalRounds is empty.
	TestNodes []*node.TestDataNode

	// AggNode hosts the aggregation tasks. Required by strategies that
	// aggregate; ignored by those that do not.
	AggNode *node.AggregationNode

	// NumRounds is the number of aggregation rounds.
	NumRounds int

	// EvalRounds lists the rounds after which the model is scored on
	// the test nodes. Round 0 scores the freshly initialized model.
	EvalRounds []int

	// CleanModels evicts the local states of finished rounds, keeping
	// only what later rounds still need.
	CleanModels bool
}

// Build validates the definition and lays out its full compute plan.
func Build(def Definition) (*plan.Plan, error) {
	if def.Algo == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "experiment needs an algo factory")
	}
	if def.Strategy == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "experiment needs a strategy")
	}
	if def.NumRounds < 1 {
		return nil, types.NewError(types.ErrInvalidRequest, "experiment needs at least one round")
	}

	probe := def.Algo()
	if !algo.Compatible(probe, def.Strategy.Name()) {
		return nil, types.NewErrorf(types.ErrIncompatibleAlgo,
			"algo %q does not support strategy %q", probe.Name(), def.Strategy.Name())
	}

	eval := make(map[int]bool, len(def.EvalRounds))
	for _, r := range def.EvalRounds {
		if r < 0 || r > def.NumRounds {
			return nil, types.NewErrorf(types.ErrInvalidRequest,
				"evaluation round %d outside [0, %d]", r, def.NumRounds)
		}
		eval[r] = true
	}
	if len(eval) > 0 && len(def.TestNodes) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest,
			"evaluation rounds given but no test nodes")
	}

	b := plan.NewBuilder()
	for round := 0; round <= def.NumRounds; round++ {
		if err := def.Strategy.PerformRound(b, def.TrainNodes, def.AggNode, round); err != nil {
			return nil, err
		}
		if eval[round] {
			if err := def.Strategy.PerformPredict(b, def.TestNodes, def.TrainNodes, round); err != nil {
				return nil, err
			}
		}
	}

	return b.Build(def.Strategy.Name(), authorizedOrgs(def), def.NumRounds, def.CleanModels)
}

// Execute builds the plan and runs it to completion on the given engine.
func Execute(ctx context.Context, exec *engine.Executor, def Definition, logger *zap.Logger) (*engine.Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	p, err := Build(def)
	if err != nil {
		return nil, err
	}

	logger.Info("experiment submitted",
		zap.String("plan_key", p.Key),
		zap.String("plan_tag", p.Tag),
		zap.String("strategy", string(p.Strategy)),
		zap.Int("rounds", def.NumRounds),
		zap.Int("train_orgs", len(def.TrainNodes)),
		zap.Int("test_orgs", len(def.TestNodes)),
	)

	return exec.Run(ctx, p, def.Algo)
}

// authorizedOrgs collects the organizations allowed to read the plan's
// models: the train organizations and the aggregation organization,
// deduplicated and sorted. Test organizations get no authorization of
// their own; they only ever evaluate a model trained on the same
// organization.
func authorizedOrgs(def Definition) []string {
	seen := make(map[string]bool)
	for _, n := range def.TrainNodes {
		seen[n.OrgID] = true
	}
	if def.AggNode != nil {
		seen[def.AggNode.OrgID] = true
	}
	orgs := make([]string, 0, len(seen))
	for org := range seen {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)
	return orgs
}
