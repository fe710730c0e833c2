// Package quick provides a one-call entry point for running federated
// experiments with minimal boilerplate. It delegates to experiment and
// engine internally, defaulting to an in-memory state store, the
// federated averaging strategy, and the built-in regression metrics.
//
// The package lives under quick/ (not root) so the root facade can
// re-export it without an import cycle.
//
// Usage:
//
//	import "github.com/fedlab/fedflow/quick"
//
//	result, err := quick.Run(ctx, factory, data, participants, 3)
//	result, err := quick.Run(ctx, factory, data, participants, 5,
//	    quick.WithEvalRounds(0, 5), quick.WithCleanModels())
package quick

import (
	"context"

	"go.uber.org/zap"

	"github.com/fedlab/fedflow/algo"
	"github.com/fedlab/fedflow/dataset"
	"github.com/fedlab/fedflow/engine"
	"github.com/fedlab/fedflow/experiment"
	"github.com/fedlab/fedflow/localstate"
	"github.com/fedlab/fedflow/metric"
	"github.com/fedlab/fedflow/node"
	"github.com/fedlab/fedflow/strategy"
	"github.com/fedlab/fedflow/types"
)

// Participant couples one organization with its data. TestKeys may be
// empty for organizations that only train.
type Participant struct {
	OrgID      string
	DatasetKey string
	TrainKeys  []string
	TestKeys   []string
	MetricKeys []string
}

// Option configures the experiment run by Run.
type Option func(*options)

type options struct {
	strategy    strategy.Strategy
	store       localstate.Store
	scorers     *metric.Registry
	logger      *zap.Logger
	evalRounds  []int
	cleanModels bool
	aggOrgID    string
	engineOpts  []engine.Option
}

// WithStrategy overrides the federated averaging default.
func WithStrategy(s strategy.Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithStore overrides the in-memory state store default.
func WithStore(s localstate.Store) Option {
	return func(o *options) { o.store = s }
}

// WithMetrics overrides the default registry (mae, mse).
func WithMetrics(r *metric.Registry) Option {
	return func(o *options) { o.scorers = r }
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEvalRounds sets the rounds after which the model is scored.
// Defaults to the final round only.
func WithEvalRounds(rounds ...int) Option {
	return func(o *options) { o.evalRounds = rounds }
}

// WithCleanModels evicts local states of finished rounds.
func WithCleanModels() Option {
	return func(o *options) { o.cleanModels = true }
}

// WithAggregationOrg hosts aggregation on the given organization.
// Defaults to the first participant.
func WithAggregationOrg(orgID string) Option {
	return func(o *options) { o.aggOrgID = orgID }
}

// WithEngineOptions passes options through to the executor (dispatch,
// result sink, progress, parallelism).
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, opts...) }
}

// Run executes a federated experiment over the participants' data and
// returns the round performances. numRounds counts aggregation rounds;
// the initialization pass (round 0) runs in addition.
func Run(ctx context.Context, factory algo.Factory, data *dataset.Registry, participants []Participant, numRounds int, opts ...Option) (*engine.Result, error) {
	if len(participants) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "at least one participant is required")
	}

	o := &options{
		evalRounds: []int{numRounds},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.strategy == nil {
		o.strategy = strategy.NewFedAvg()
	}
	if o.store == nil {
		o.store = localstate.NewMemoryStore()
	}
	if o.scorers == nil {
		o.scorers = metric.NewRegistry()
	}
	if o.aggOrgID == "" {
		o.aggOrgID = participants[0].OrgID
	}

	def := experiment.Definition{
		Algo:        factory,
		Strategy:    o.strategy,
		AggNode:     node.NewAggregationNode(o.aggOrgID),
		NumRounds:   numRounds,
		EvalRounds:  o.evalRounds,
		CleanModels: o.cleanModels,
	}
	for _, p := range participants {
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

	exec := engine.New(o.store, data, o.scorers, o.logger, o.engineOpts...)
	return experiment.Execute(ctx, exec, def, o.logger)
}
