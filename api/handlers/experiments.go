package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fedlab/fedflow/algo"
	"github.com/fedlab/fedflow/api"
	"github.com/fedlab/fedflow/engine"
	"github.com/fedlab/fedflow/experiment"
	"github.com/fedlab/fedflow/node"
	"github.com/fedlab/fedflow/registry"
	"github.com/fedlab/fedflow/strategy"
	"github.com/fedlab/fedflow/types"
)

// AlgoBuilder turns request parameters into an algo factory. The
// server registers one builder per algo name it is willing to run.
type AlgoBuilder func(params json.RawMessage) (algo.Factory, error)

// ExperimentHandler accepts experiment definitions and runs them on
// the engine. Submission is asynchronous: the plan is built and
// validated inline, execution continues in the background, and
// progress streams over the plan's progress endpoint.
type ExperimentHandler struct {
	exec   *engine.Executor
	orgs   *registry.Registry
	algos  map[string]AlgoBuilder
	runCtx context.Context
	logger *zap.Logger
}

// NewExperimentHandler creates the experiment submission endpoint.
// runCtx bounds background execution; cancelling it aborts running
// plans during shutdown. orgs may be nil when submissions should skip
// capability checks.
func NewExperimentHandler(exec *engine.Executor, orgs *registry.Registry, runCtx context.Context, logger *zap.Logger) *ExperimentHandler {
	return &ExperimentHandler{
		exec:   exec,
		orgs:   orgs,
		algos:  make(map[string]AlgoBuilder),
		runCtx: runCtx,
		logger: logger.With(zap.String("component", "experiment_handler")),
	}
}

// RegisterAlgo makes an algo submittable under the given name.
func (h *ExperimentHandler) RegisterAlgo(name string, builder AlgoBuilder) {
	h.algos[name] = builder
}

// HandleRun serves POST /api/v1/experiments.
func (h *ExperimentHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req api.RunExperimentRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	def, factory, err := h.buildDefinition(req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	p, err := experiment.Build(*def)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("experiment submitted",
		zap.String("plan_key", p.Key),
		zap.String("algo", req.Algo),
		zap.String("strategy", string(p.Strategy)),
		zap.Int("rounds", req.NumRounds),
		zap.Int("participants", len(req.Participants)),
	)

	go func() {
		if _, err := h.exec.Run(h.runCtx, p, factory); err != nil {
			h.logger.Error("experiment failed",
				zap.String("plan_key", p.Key),
				zap.Error(err),
			)
		}
	}()

	WriteJSON(w, http.StatusAccepted, Response{
		Success: true,
		Data: api.RunExperimentResponse{
			PlanKey:  p.Key,
			Tag:      p.Tag,
			Status:   engine.PlanStatusRunning,
			NumTasks: len(p.Tasks),
		},
		Timestamp: time.Now(),
	})
}

func (h *ExperimentHandler) buildDefinition(req api.RunExperimentRequest) (*experiment.Definition, algo.Factory, error) {
	if len(req.Participants) == 0 {
		return nil, nil, types.NewError(types.ErrInvalidRequest, "at least one participant is required")
	}

	builder, ok := h.algos[req.Algo]
	if !ok {
		return nil, nil, types.NewErrorf(types.ErrInvalidRequest, "algo %q is not registered", req.Algo)
	}
	factory, err := builder(req.AlgoParams)
	if err != nil {
		return nil, nil, types.WrapError(types.ErrInvalidRequest, "algo parameters", err)
	}

	strat, err := strategyByName(req.Strategy)
	if err != nil {
		return nil, nil, err
	}

	// Registered workers that declared a capability list must include
	// the requested algo; workers without a list accept anything.
	if h.orgs != nil {
		for _, p := range req.Participants {
			org, err := h.orgs.Get(p.OrgID)
			if err != nil {
				continue
			}
			if len(org.Algos) > 0 && !h.orgs.Supports(p.OrgID, req.Algo) {
				return nil, nil, types.NewErrorf(types.ErrIncompatibleAlgo,
					"organization %s does not support algo %q", p.OrgID, req.Algo)
			}
		}
	}

	aggOrg := req.AggregationOrg
	if aggOrg == "" {
		aggOrg = req.Participants[0].OrgID
	}

	def := experiment.Definition{
		Algo:        factory,
		Strategy:    strat,
		AggNode:     node.NewAggregationNode(aggOrg),
		NumRounds:   req.NumRounds,
		EvalRounds:  req.EvalRounds,
		CleanModels: req.CleanModels,
	}
	for _, p := range req.Participants {
		def.TrainNodes = append(def.TrainNodes,
			node.NewTrainDataNode(p.OrgID, p.DatasetKey, p.TrainKeys))
		if len(p.TestKeys) > 0 {
			metricKeys := p.MetricKeys
			if len(metricKeys) == 0 {
				metricKeys = []string{"mae"}
			}
			def.TestNodes = append(def.TestNodes,
				node.NewTestDataNode(p.OrgID, p.DatasetKey, p.TestKeys, metricKeys))
		}
	}
	return &def, factory, nil
}

// strategyByName resolves a request strategy name. Strategies carry
// per-experiment graph state, so a fresh instance is built per call.
func strategyByName(name string) (strategy.Strategy, error) {
	switch types.StrategyName(name) {
	case types.StrategyFederatedAveraging:
		return strategy.NewFedAvg(), nil
	case types.StrategySingleOrg:
		return strategy.NewSingleOrg(), nil
	default:
		return nil, types.NewErrorf(types.ErrInvalidRequest, "unknown strategy %q", name)
	}
}
