package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fedlab/fedflow/algo"
	"github.com/fedlab/fedflow/dataset"
	"github.com/fedlab/fedflow/internal/metrics"
	"github.com/fedlab/fedflow/localstate"
	"github.com/fedlab/fedflow/metric"
	"github.com/fedlab/fedflow/plan"
	"github.com/fedlab/fedflow/types"
)

// Executor runs compute plans with dependency resolution. Tasks whose
// inputs are all available run concurrently, bounded by MaxParallelism.
type Executor struct {
	store      localstate.Store
	opener     dataset.Opener
	scorers    *metric.Registry
	dispatcher Dispatcher
	sink       ResultSink
	progress   ProgressFunc
	collector  *metrics.Collector
	logger     *zap.Logger

	maxParallelism int
}

// Option configures the executor.
type Option func(*Executor)

// WithDispatcher enables remote training dispatch.
func WithDispatcher(d Dispatcher) Option { return func(e *Executor) { e.dispatcher = d } }

// WithResultSink persists plan lifecycle updates and performances.
func WithResultSink(s ResultSink) Option { return func(e *Executor) { e.sink = s } }

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option { return func(e *Executor) { e.progress = fn } }

// WithCollector records Prometheus metrics.
func WithCollector(c *metrics.Collector) Option { return func(e *Executor) { e.collector = c } }

// WithMaxParallelism bounds the number of tasks running at once.
func WithMaxParallelism(n int) Option { return func(e *Executor) { e.maxParallelism = n } }

// New creates an executor.
func New(store localstate.Store, opener dataset.Opener, scorers *metric.Registry, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		store:          store,
		opener:         opener,
		scorers:        scorers,
		logger:         logger.With(zap.String("component", "engine")),
		maxParallelism: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxParallelism <= 0 {
		e.maxParallelism = 1
	}
	return e
}

// Result is the outcome of a finished plan.
type Result struct {
	PlanKey      string
	Performances []types.RoundPerformance
}

// PerformanceAt returns the value of the given metric measured at the
// given round, averaged over the organizations it was scored on.
func (r *Result) PerformanceAt(round int, metricKey string) (float64, bool) {
	var sum float64
	n := 0
	for _, p := range r.Performances {
		if p.Round == round && p.MetricKey == metricKey {
			sum += p.Value
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// run is the mutable state of one plan execution.
type run struct {
	e       *Executor
	plan    *plan.Plan
	factory algo.Factory

	deps map[string][]string // task key -> producing task keys

	mu          sync.Mutex
	done        map[string]bool
	results     map[string]any // ref key -> shared/averaged state
	algos       map[string]algo.Algo
	perfs       []types.RoundPerformance
	roundTotals map[int]int
	roundDone   map[int]int
	watermark   int
	completed   int
}

// Run executes the plan to completion. The factory instantiates one algo
// per training organization; evaluation tasks use fresh instances
// restored from the persisted local states.
func (e *Executor) Run(ctx context.Context, p *plan.Plan, factory algo.Factory) (*Result, error) {
	if p == nil || len(p.Tasks) == 0 {
		return nil, types.NewError(types.ErrInvalidPlan, "plan has no tasks")
	}

	r := &run{
		e:           e,
		plan:        p,
		factory:     factory,
		deps:        dependencyMap(p),
		done:        make(map[string]bool),
		results:     make(map[string]any),
		algos:       make(map[string]algo.Algo),
		roundTotals: make(map[int]int),
		roundDone:   make(map[int]int),
		watermark:   -1,
	}
	for _, t := range p.Tasks {
		r.roundTotals[t.Round]++
	}

	e.logger.Info("plan execution started",
		zap.String("plan_key", p.Key),
		zap.String("strategy", string(p.Strategy)),
		zap.Int("tasks", len(p.Tasks)),
		zap.Int("rounds", p.MaxRound()),
	)
	if e.sink != nil {
		if err := e.sink.SavePlan(ctx, p); err != nil {
			return nil, fmt.Errorf("save plan: %w", err)
		}
		if err := e.sink.SetPlanStatus(ctx, p.Key, PlanStatusRunning); err != nil {
			return nil, fmt.Errorf("set plan status: %w", err)
		}
	}

	if err := r.loop(ctx); err != nil {
		e.logger.Error("plan execution failed", zap.String("plan_key", p.Key), zap.Error(err))
		r.finish(ctx, PlanStatusFailed)
		return nil, err
	}

	r.finish(ctx, PlanStatusDone)
	e.logger.Info("plan execution completed",
		zap.String("plan_key", p.Key),
		zap.Int("tasks_executed", len(p.Tasks)),
	)

	perfs := make([]types.RoundPerformance, len(r.perfs))
	copy(perfs, r.perfs)
	sort.SliceStable(perfs, func(i, j int) bool { return perfs[i].Round < perfs[j].Round })
	return &Result{PlanKey: p.Key, Performances: perfs}, nil
}

func (r *run) finish(ctx context.Context, status string) {
	if r.e.sink != nil {
		if err := r.e.sink.SetPlanStatus(ctx, r.plan.Key, status); err != nil {
			r.e.logger.Warn("set plan status", zap.Error(err))
		}
	}
	if r.e.collector != nil {
		r.e.collector.PlanFinished(status)
	}
}

// loop runs waves of ready tasks until the plan is exhausted.
func (r *run) loop(ctx context.Context) error {
	for {
		ready := r.readyTasks()
		if len(ready) == 0 {
			if r.remaining() == 0 {
				return nil
			}
			return types.NewError(types.ErrInvalidPlan,
				"no runnable task but plan is not finished; dependency cycle or missing producer")
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.e.maxParallelism)
		for _, t := range ready {
			g.Go(func() error { return r.execute(gctx, t) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

func (r *run) readyTasks() []*plan.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ready []*plan.Task
	for _, t := range r.plan.Tasks {
		if t.Status != plan.TaskStatusPending {
			continue
		}
		ok := true
		for _, dep := range r.deps[t.Key] {
			if !r.done[dep] {
				ok = false
				break
			}
		}
		if ok {
			t.Status = plan.TaskStatusRunning
			ready = append(ready, t)
		}
	}
	return ready
}

func (r *run) remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.plan.Tasks) - r.completed
}

// maxTaskAttempts bounds how often a task is retried on retryable
// errors before the plan fails.
const maxTaskAttempts = 3

// execute runs one task and records its outcome. Retryable errors,
// such as transient dispatch failures, get up to maxTaskAttempts.
func (r *run) execute(ctx context.Context, t *plan.Task) error {
	start := time.Now()

	var err error
	for attempt := 1; ; attempt++ {
		err = r.executeKind(ctx, t)
		if err == nil || attempt >= maxTaskAttempts || !types.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		r.e.logger.Warn("task attempt failed, retrying",
			zap.String("task_key", t.Key),
			zap.String("org_id", t.OrgID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	duration := time.Since(start)

	if err != nil {
		t.Status = plan.TaskStatusFailed
		if r.e.collector != nil {
			r.e.collector.ObserveTask(string(t.Kind), string(plan.TaskStatusFailed), duration)
		}
		r.e.logger.Error("task failed",
			zap.String("task_key", t.Key),
			zap.String("kind", string(t.Kind)),
			zap.String("org_id", t.OrgID),
			zap.Int("round", t.Round),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return types.WrapError(types.ErrTaskFailed,
			fmt.Sprintf("%s task %s (org %s, round %d)", t.Kind, t.Key, t.OrgID, t.Round), err)
	}

	if r.e.collector != nil {
		r.e.collector.ObserveTask(string(t.Kind), string(plan.TaskStatusDone), duration)
	}
	r.e.logger.Debug("task completed",
		zap.String("task_key", t.Key),
		zap.String("kind", string(t.Kind)),
		zap.String("org_id", t.OrgID),
		zap.Int("round", t.Round),
		zap.Duration("duration", duration),
	)

	r.completeTask(ctx, t)
	return nil
}

func (r *run) executeKind(ctx context.Context, t *plan.Task) error {
	switch t.Kind {
	case plan.TaskTrain:
		return r.executeTrain(ctx, t)
	case plan.TaskAggregate:
		return r.executeAggregate(ctx, t)
	case plan.TaskTest:
		return r.executeTest(ctx, t)
	default:
		return types.NewErrorf(types.ErrInvalidPlan, "unknown task kind %q", t.Kind)
	}
}

// completeTask marks the task done and advances the round watermark.
// When every task of a round has finished, a progress event fires and,
// with CleanModels set, states of earlier rounds are evicted.
func (r *run) completeTask(ctx context.Context, t *plan.Task) {
	var events []ProgressEvent

	r.mu.Lock()
	t.Status = plan.TaskStatusDone
	r.done[t.Key] = true
	r.completed++
	r.roundDone[t.Round]++

	maxRound := r.plan.MaxRound()
	for r.watermark < maxRound && r.roundDone[r.watermark+1] == r.roundTotals[r.watermark+1] && r.roundTotals[r.watermark+1] > 0 {
		r.watermark++
		ev := ProgressEvent{
			PlanKey:        r.plan.Key,
			Round:          r.watermark,
			TotalRounds:    maxRound,
			TasksCompleted: r.completed,
			TasksTotal:     len(r.plan.Tasks),
		}
		for _, p := range r.perfs {
			if p.Round == r.watermark {
				ev.Performances = append(ev.Performances, p)
			}
		}
		events = append(events, ev)
	}
	r.mu.Unlock()

	for _, ev := range events {
		if r.e.collector != nil {
			r.e.collector.RoundCompleted(string(r.plan.Strategy))
		}
		r.e.logger.Info("round completed",
			zap.String("plan_key", ev.PlanKey),
			zap.Int("round", ev.Round),
			zap.Int("total_rounds", ev.TotalRounds),
		)
		if r.plan.CleanModels && ev.Round > 0 {
			removed, err := r.e.store.DeleteBefore(ctx, r.plan.Key, ev.Round)
			if err != nil {
				r.e.logger.Warn("state eviction failed", zap.Int("round", ev.Round), zap.Error(err))
			} else if removed > 0 {
				r.e.logger.Debug("evicted intermediate states", zap.Int("round", ev.Round), zap.Int("removed", removed))
			}
		}
		if r.e.progress != nil {
			r.e.progress(ev)
		}
	}
}

func (r *run) setResult(refKey string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[refKey] = v
}

func (r *run) result(refKey string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.results[refKey]
	return v, ok
}

// algoFor returns the persistent algo instance of a training
// organization, creating it on first use.
func (r *run) algoFor(orgID string) algo.Algo {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.algos[orgID]
	if !ok {
		a = r.factory()
		r.algos[orgID] = a
	}
	return a
}

func (r *run) executeTrain(ctx context.Context, t *plan.Task) error {
	var shared *types.AveragedState
	if t.SharedInput != nil {
		v, ok := r.result(t.SharedInput.Key)
		if !ok {
			return types.NewErrorf(types.ErrStateNotFound, "shared input %s not produced", t.SharedInput.Key)
		}
		avg, ok := v.(*types.AveragedState)
		if !ok {
			return types.NewErrorf(types.ErrInternalError, "shared input %s is not an averaged state", t.SharedInput.Key)
		}
		shared = avg
	}

	if r.e.dispatcher != nil && r.e.dispatcher.CanDispatch(t.OrgID) {
		state, err := r.e.dispatcher.DispatchTrain(ctx, t.OrgID, t, shared)
		if err != nil {
			return err
		}
		r.setResult(t.OutShared.Key, state)
		r.setResult(t.OutLocal.Key, remoteState{OrgID: t.OrgID})
		return nil
	}

	a := r.algoFor(t.OrgID)

	// Local state is reloaded from the store at the start of every
	// round, so a plan can resume against any backend holding it.
	if t.LocalInput != nil {
		data, err := r.e.store.Get(ctx, r.plan.Key, t.LocalInput.Key)
		if err != nil {
			r.observeStoreOp("get", err)
			return types.WrapError(types.ErrStateNotFound, "load local state "+t.LocalInput.Key, err)
		}
		r.observeStoreOp("get", nil)
		if err := a.LoadState(data); err != nil {
			return fmt.Errorf("restore local state: %w", err)
		}
	}

	batch, err := r.e.opener.Open(ctx, t.DatasetKey, t.SampleKeys)
	if err != nil {
		return err
	}

	a.InitRound(t.Round)
	state, err := a.Train(ctx, batch, shared)
	if err != nil {
		return err
	}

	data, err := a.SaveState()
	if err != nil {
		return fmt.Errorf("serialize local state: %w", err)
	}
	if err := r.e.store.Save(ctx, r.plan.Key, *t.OutLocal, data); err != nil {
		r.observeStoreOp("save", err)
		return fmt.Errorf("persist local state: %w", err)
	}
	r.observeStoreOp("save", nil)

	r.setResult(t.OutShared.Key, state)
	return nil
}

func (r *run) executeAggregate(ctx context.Context, t *plan.Task) error {
	if t.Aggregate == nil {
		return types.NewErrorf(types.ErrInvalidPlan, "aggregate task %s has no aggregation function", t.Key)
	}

	states := make([]*types.SharedState, 0, len(t.SharedInputs))
	for _, ref := range t.SharedInputs {
		v, ok := r.result(ref.Key)
		if !ok {
			return types.NewErrorf(types.ErrStateNotFound, "shared state %s not produced", ref.Key)
		}
		state, ok := v.(*types.SharedState)
		if !ok {
			return types.NewErrorf(types.ErrInternalError, "ref %s is not a shared state", ref.Key)
		}
		states = append(states, state)
	}

	avg, err := t.Aggregate(states)
	if err != nil {
		return err
	}
	r.setResult(t.OutShared.Key, avg)
	return nil
}

func (r *run) executeTest(ctx context.Context, t *plan.Task) error {
	if v, ok := r.result(t.PredictFrom.Key); ok {
		if rs, isRemote := v.(remoteState); isRemote {
			return types.NewErrorf(types.ErrDispatchFailed,
				"cannot evaluate organization %s: its local state lives on a remote worker", rs.OrgID)
		}
	}

	data, err := r.e.store.Get(ctx, r.plan.Key, t.PredictFrom.Key)
	if err != nil {
		r.observeStoreOp("get", err)
		return types.WrapError(types.ErrStateNotFound, "load local state "+t.PredictFrom.Key, err)
	}
	r.observeStoreOp("get", nil)

	// Evaluation never mutates the training instance: predictions come
	// from a fresh algo restored from the persisted state.
	a := r.factory()
	if err := a.LoadState(data); err != nil {
		return fmt.Errorf("restore local state: %w", err)
	}

	batch, err := r.e.opener.Open(ctx, t.DatasetKey, t.SampleKeys)
	if err != nil {
		return err
	}
	preds, err := a.Predict(ctx, batch)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, key := range t.MetricKeys {
		fn, err := r.e.scorers.Get(key)
		if err != nil {
			return err
		}
		perf := types.RoundPerformance{
			PlanKey:   r.plan.Key,
			Round:     t.Round,
			OrgID:     t.OrgID,
			MetricKey: key,
			Value:     fn(preds, batch.Y),
			CreatedAt: now,
		}

		r.mu.Lock()
		r.perfs = append(r.perfs, perf)
		r.mu.Unlock()

		if r.e.sink != nil {
			if err := r.e.sink.SavePerformance(ctx, perf); err != nil {
				return fmt.Errorf("save performance: %w", err)
			}
		}
		if r.e.collector != nil {
			r.e.collector.ObservePerformance(perf.PlanKey, perf.OrgID, perf.MetricKey, perf.Value)
		}
		r.e.logger.Info("performance recorded",
			zap.String("plan_key", perf.PlanKey),
			zap.Int("round", perf.Round),
			zap.String("org_id", perf.OrgID),
			zap.String("metric", perf.MetricKey),
			zap.Float64("value", perf.Value),
		)
	}
	return nil
}

func (r *run) observeStoreOp(op string, err error) {
	if r.e.collector == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.e.collector.ObserveStateStoreOp(op, status)
}

// dependencyMap resolves, for every task, the keys of the tasks
// producing its inputs.
func dependencyMap(p *plan.Plan) map[string][]string {
	producers := make(map[string]string) // ref key -> task key
	for _, t := range p.Tasks {
		for _, ref := range t.OutputRefs() {
			producers[ref.Key] = t.Key
		}
	}

	deps := make(map[string][]string, len(p.Tasks))
	for _, t := range p.Tasks {
		for _, ref := range t.InputRefs() {
			if producer, ok := producers[ref.Key]; ok {
				deps[t.Key] = append(deps[t.Key], producer)
			}
		}
	}
	return deps
}
