// Package strategy implements federated-learning strategies: the
// round-by-round coordination logic that lays training, aggregation,
// and evaluation tasks into a compute plan.
//
// A strategy instance accumulates the state references produced while
// the graph is built, so one instance serves exactly one experiment.
package strategy

import (
	"github.com/fedlab/fedflow/node"
	"github.com/fedlab/fedflow/plan"
	"github.com/fedlab/fedflow/types"
)

// Strategy lays out the compute graph of one federated experiment.
type Strategy interface {
	// Name identifies the strategy; algos declare compatibility
	// against it.
	Name() types.StrategyName

	// PerformRound registers the tasks of one round. Round 0 is the
	// initialization pass: a local update on every train organization
	// before the first aggregation. Rounds 1..N aggregate the previous
	// shared states and train on the result.
	PerformRound(b *plan.Builder, trainNodes []*node.TrainDataNode, aggNode *node.AggregationNode, round int) error

	// PerformPredict registers evaluation tasks scoring the current
	// local states on the test organizations.
	PerformPredict(b *plan.Builder, testNodes []*node.TestDataNode, trainNodes []*node.TrainDataNode, round int) error
}
