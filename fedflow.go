// Package fedflow provides a top-level convenience entry point for
// running federated experiments with minimal boilerplate.
//
// Usage:
//
//	import "github.com/fedlab/fedflow"
//
//	res, err := fedflow.Run(ctx, factory, data, participants, 3)
//	res, err := fedflow.Run(ctx, factory, data, participants, 5,
//	    fedflow.WithEvalRounds(0, 5), fedflow.WithCleanModels())
//
// This is a thin wrapper around [quick.Run]; both produce identical
// results. Use this package when you prefer the shorter import path.
package fedflow

import (
	"context"

	"github.com/fedlab/fedflow/algo"
	"github.com/fedlab/fedflow/dataset"
	"github.com/fedlab/fedflow/engine"
	"github.com/fedlab/fedflow/quick"
)

// Option configures the experiment run by [Run].
type Option = quick.Option

// Participant couples one organization with its data.
type Participant = quick.Participant

// Run executes a federated experiment over the participants' data.
func Run(ctx context.Context, factory algo.Factory, data *dataset.Registry, participants []Participant, numRounds int, opts ...Option) (*engine.Result, error) {
	return quick.Run(ctx, factory, data, participants, numRounds, opts...)
}

// Re-export the options so callers never need to import quick/.

// WithStrategy overrides the federated averaging default.
var WithStrategy = quick.WithStrategy

// WithStore overrides the in-memory state store default.
var WithStore = quick.WithStore

// WithMetrics overrides the default metric registry (mae, mse).
var WithMetrics = quick.WithMetrics

// WithLogger sets a custom zap logger.
var WithLogger = quick.WithLogger

// WithEvalRounds sets the rounds after which the model is scored.
var WithEvalRounds = quick.WithEvalRounds

// WithCleanModels evicts local states of finished rounds.
var WithCleanModels = quick.WithCleanModels

// WithAggregationOrg hosts aggregation on the given organization.
var WithAggregationOrg = quick.WithAggregationOrg

// WithEngineOptions passes options through to the executor.
var WithEngineOptions = quick.WithEngineOptions
