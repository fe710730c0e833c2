package types

import "time"

// StrategyName identifies a federated strategy.
type StrategyName string

const (
	// StrategyFederatedAveraging is the centralized weighted-averaging strategy.
	StrategyFederatedAveraging StrategyName = "federated_averaging"
	// StrategySingleOrg trains on a single organization without aggregation.
	StrategySingleOrg StrategyName = "single_org"
)

// Layer is the flat parameter vector of one model layer.
type Layer []float64

// Clone returns a deep copy of the layer.
func (l Layer) Clone() Layer {
	out := make(Layer, len(l))
	copy(out, l)
	return out
}

// SharedState is the output of one local training pass: the parameter
// update produced by an organization together with the number of samples
// it was computed on. The sample count drives the aggregation weighting.
type SharedState struct {
	NumSamples   int     `json:"num_samples"`
	ParamsUpdate []Layer `json:"params_update"`
}

// AveragedState is the output of an aggregation task: the consensus
// parameter update distributed back to every train organization.
type AveragedState struct {
	AvgParamsUpdate []Layer `json:"avg_params_update"`
}

// RefKind distinguishes the two kinds of state a task can produce.
type RefKind string

const (
	// RefLocal references an organization-private model state. Local
	// states never leave the organization that produced them.
	RefLocal RefKind = "local"
	// RefShared references a state that may be sent to the aggregation
	// organization (a SharedState or an AveragedState).
	RefShared RefKind = "shared"
)

// StateRef is an opaque reference to a state produced by a compute-plan
// task. Refs are created when the graph is built, before anything runs;
// the engine resolves them to concrete states during execution.
type StateRef struct {
	Key   string  `json:"key"`
	Kind  RefKind `json:"kind"`
	OrgID string  `json:"org_id"`
	Round int     `json:"round"`
}

// RoundPerformance is one metric value measured at an evaluation round.
type RoundPerformance struct {
	PlanKey   string    `json:"plan_key"`
	Round     int       `json:"round"`
	OrgID     string    `json:"org_id"`
	MetricKey string    `json:"metric_key"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// DataBatch is the in-memory representation of the data samples a task
// trains or predicts on. X holds one feature vector per sample, Y the
// matching targets. Y may be empty for inference-only batches.
type DataBatch struct {
	X [][]float64 `json:"x"`
	Y []float64   `json:"y"`
}

// Len returns the number of samples in the batch.
func (b DataBatch) Len() int { return len(b.X) }
