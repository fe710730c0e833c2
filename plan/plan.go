// Package plan models the static compute graph of a federated
// experiment. Strategies register tasks through a Builder before
// anything runs; the engine later resolves the graph and executes it.
// Task dependencies are implied by state references: a task depends on
// whichever task produces the refs it consumes.
package plan

import (
	"time"

	"github.com/fedlab/fedflow/types"
)

// TaskKind classifies compute-plan tasks.
type TaskKind string

const (
	// TaskTrain is a local training pass on one train organization.
	TaskTrain TaskKind = "train"
	// TaskAggregate combines shared states on the aggregation organization.
	TaskAggregate TaskKind = "aggregate"
	// TaskTest runs inference and scores it on a test organization.
	TaskTest TaskKind = "test"
)

// TaskStatus is the lifecycle state of a task during execution.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
)

// AggregateFunc combines the shared states of one round. Strategies
// attach their aggregation semantics to aggregate tasks through it.
type AggregateFunc func(states []*types.SharedState) (*types.AveragedState, error)

// Task is one node of the compute graph.
type Task struct {
	Key   string   `json:"key"`
	Kind  TaskKind `json:"kind"`
	OrgID string   `json:"org_id"`
	Round int      `json:"round"`
	// Rank is the dependency depth of the task within the graph;
	// tasks of equal rank are independent and may run concurrently.
	Rank int `json:"rank"`

	DatasetKey string   `json:"dataset_key,omitempty"`
	SampleKeys []string `json:"sample_keys,omitempty"`
	MetricKeys []string `json:"metric_keys,omitempty"`

	// Train inputs: the previous local state of the organization (nil
	// on the initialization pass) and the incoming aggregate (nil when
	// no aggregation preceded this task).
	LocalInput  *types.StateRef `json:"local_input,omitempty"`
	SharedInput *types.StateRef `json:"shared_input,omitempty"`

	// Aggregate inputs: the shared states to combine.
	SharedInputs []types.StateRef `json:"shared_inputs,omitempty"`

	// Test input: the local state to predict from.
	PredictFrom *types.StateRef `json:"predict_from,omitempty"`

	// Outputs.
	OutLocal  *types.StateRef `json:"out_local,omitempty"`
	OutShared *types.StateRef `json:"out_shared,omitempty"`

	// Aggregate carries the strategy's aggregation function on
	// aggregate tasks. Not serialized; remote dispatch re-binds it by
	// strategy name on the receiving side.
	Aggregate AggregateFunc `json:"-"`

	Status TaskStatus `json:"status"`
}

// InputRefs returns every state reference the task consumes.
func (t *Task) InputRefs() []types.StateRef {
	var refs []types.StateRef
	if t.LocalInput != nil {
		refs = append(refs, *t.LocalInput)
	}
	if t.SharedInput != nil {
		refs = append(refs, *t.SharedInput)
	}
	refs = append(refs, t.SharedInputs...)
	if t.PredictFrom != nil {
		refs = append(refs, *t.PredictFrom)
	}
	return refs
}

// OutputRefs returns every state reference the task produces.
func (t *Task) OutputRefs() []types.StateRef {
	var refs []types.StateRef
	if t.OutLocal != nil {
		refs = append(refs, *t.OutLocal)
	}
	if t.OutShared != nil {
		refs = append(refs, *t.OutShared)
	}
	return refs
}

// Plan is a fully built compute graph ready for submission.
type Plan struct {
	Key string `json:"key"`
	// Tag labels the plan; experiments default it to a timestamp.
	Tag      string             `json:"tag"`
	Strategy types.StrategyName `json:"strategy"`
	// AuthorizedOrgIDs restricts which organizations may receive tasks
	// and intermediate states of this plan.
	AuthorizedOrgIDs []string `json:"authorized_org_ids"`
	// CleanModels evicts intermediate states of earlier rounds as the
	// plan progresses when set.
	CleanModels bool      `json:"clean_models"`
	NumRounds   int       `json:"num_rounds"`
	CreatedAt   time.Time `json:"created_at"`
	Tasks       []*Task   `json:"tasks"`
}

// TasksOfRound returns the tasks registered for the given round.
func (p *Plan) TasksOfRound(round int) []*Task {
	var out []*Task
	for _, t := range p.Tasks {
		if t.Round == round {
			out = append(out, t)
		}
	}
	return out
}

// MaxRound returns the highest round index present in the plan.
func (p *Plan) MaxRound() int {
	max := 0
	for _, t := range p.Tasks {
		if t.Round > max {
			max = t.Round
		}
	}
	return max
}
