// Package engine executes compute plans. The executor resolves the
// dependency graph implied by state references and runs ready tasks
// concurrently, persisting local model states between rounds and
// recording evaluation performances as it goes.
package engine

import (
	"context"

	"github.com/fedlab/fedflow/plan"
	"github.com/fedlab/fedflow/types"
)

// ProgressEvent is emitted each time a round (training, aggregation and
// its evaluations) finishes.
type ProgressEvent struct {
	PlanKey        string                   `json:"plan_key"`
	Round          int                      `json:"round"`
	TotalRounds    int                      `json:"total_rounds"`
	TasksCompleted int                      `json:"tasks_completed"`
	TasksTotal     int                      `json:"tasks_total"`
	Performances   []types.RoundPerformance `json:"performances,omitempty"`
}

// ProgressFunc receives progress events. It is called synchronously from
// the executor and must not block.
type ProgressFunc func(ProgressEvent)

// Dispatcher sends training tasks to remote organizations. When an
// organization has no remote worker, the engine trains in process.
type Dispatcher interface {
	// CanDispatch reports whether the organization has a reachable
	// remote worker.
	CanDispatch(orgID string) bool

	// DispatchTrain executes a training task on the organization's
	// worker and returns the shared state it produced. The worker keeps
	// the local state on its side, keyed by the task's output ref.
	DispatchTrain(ctx context.Context, orgID string, task *plan.Task, shared *types.AveragedState) (*types.SharedState, error)
}

// ResultSink receives plan lifecycle updates and evaluation
// performances, typically backed by the results database.
type ResultSink interface {
	SavePlan(ctx context.Context, p *plan.Plan) error
	SetPlanStatus(ctx context.Context, planKey, status string) error
	SavePerformance(ctx context.Context, perf types.RoundPerformance) error
}

// Plan lifecycle statuses reported to the ResultSink.
const (
	PlanStatusRunning = "running"
	PlanStatusDone    = "done"
	PlanStatusFailed  = "failed"
)

// remoteState marks a ref whose concrete state lives on a remote worker.
type remoteState struct{ OrgID string }
