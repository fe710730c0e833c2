// Package node provides the organization-facing builders of the compute
// graph. A train data node registers local training tasks against its
// organization's dataset, an aggregation node registers the shared
// aggregation tasks, and a test data node registers evaluation tasks.
// Nodes only describe work; execution happens in the engine.
package node

import (
	"github.com/fedlab/fedflow/plan"
	"github.com/fedlab/fedflow/types"
)

// TrainDataNode describes one training organization: where its data
// lives and which samples participate in the experiment.
type TrainDataNode struct {
	OrgID      string   `json:"org_id"`
	DatasetKey string   `json:"dataset_key"`
	SampleKeys []string `json:"sample_keys"`

	tasks []*plan.Task
}

// NewTrainDataNode creates a train data node.
func NewTrainDataNode(orgID, datasetKey string, sampleKeys []string) *TrainDataNode {
	return &TrainDataNode{OrgID: orgID, DatasetKey: datasetKey, SampleKeys: sampleKeys}
}

// TrainInputs carries the state references a training task consumes.
type TrainInputs struct {
	// Local is the organization's previous local state; nil on the
	// initialization pass.
	Local *types.StateRef
	// Shared is the incoming aggregate; nil when no aggregation
	// preceded this task.
	Shared *types.StateRef
}

// UpdateStates registers a training task for the given round and returns
// the references to the local and shared states it will produce.
func (n *TrainDataNode) UpdateStates(b *plan.Builder, in TrainInputs, round int) (local, shared *types.StateRef) {
	local = b.NewLocalRef(n.OrgID, round)
	shared = b.NewSharedRef(n.OrgID, round)
	t := b.AddTask(&plan.Task{
		Kind:        plan.TaskTrain,
		OrgID:       n.OrgID,
		Round:       round,
		DatasetKey:  n.DatasetKey,
		SampleKeys:  n.SampleKeys,
		LocalInput:  in.Local,
		SharedInput: in.Shared,
		OutLocal:    local,
		OutShared:   shared,
	})
	n.tasks = append(n.tasks, t)
	return local, shared
}

// Tasks returns the tasks registered through this node.
func (n *TrainDataNode) Tasks() []*plan.Task { return n.tasks }

// AggregationNode is the organization without data on which shared
// states are combined.
type AggregationNode struct {
	OrgID string `json:"org_id"`

	tasks []*plan.Task
}

// NewAggregationNode creates an aggregation node.
func NewAggregationNode(orgID string) *AggregationNode {
	return &AggregationNode{OrgID: orgID}
}

// UpdateStates registers an aggregation task over the given shared
// states and returns the reference to the aggregate it will produce.
func (n *AggregationNode) UpdateStates(b *plan.Builder, shared []types.StateRef, fn plan.AggregateFunc, round int) *types.StateRef {
	out := b.NewSharedRef(n.OrgID, round)
	t := b.AddTask(&plan.Task{
		Kind:         plan.TaskAggregate,
		OrgID:        n.OrgID,
		Round:        round,
		SharedInputs: shared,
		OutShared:    out,
		Aggregate:    fn,
	})
	n.tasks = append(n.tasks, t)
	return out
}

// Tasks returns the tasks registered through this node.
func (n *AggregationNode) Tasks() []*plan.Task { return n.tasks }

// TestDataNode describes one evaluation organization: its dataset, the
// samples to score on, and the metrics to compute.
type TestDataNode struct {
	OrgID      string   `json:"org_id"`
	DatasetKey string   `json:"dataset_key"`
	SampleKeys []string `json:"sample_keys"`
	MetricKeys []string `json:"metric_keys"`

	tasks []*plan.Task
}

// NewTestDataNode creates a test data node.
func NewTestDataNode(orgID, datasetKey string, sampleKeys, metricKeys []string) *TestDataNode {
	return &TestDataNode{OrgID: orgID, DatasetKey: datasetKey, SampleKeys: sampleKeys, MetricKeys: metricKeys}
}

// UpdateStates registers an evaluation task predicting from the given
// local state at the given round.
func (n *TestDataNode) UpdateStates(b *plan.Builder, predictFrom types.StateRef, round int) {
	t := b.AddTask(&plan.Task{
		Kind:        plan.TaskTest,
		OrgID:       n.OrgID,
		Round:       round,
		DatasetKey:  n.DatasetKey,
		SampleKeys:  n.SampleKeys,
		MetricKeys:  n.MetricKeys,
		PredictFrom: &predictFrom,
	})
	n.tasks = append(n.tasks, t)
}

// Tasks returns the tasks registered through this node.
func (n *TestDataNode) Tasks() []*plan.Task { return n.tasks }
