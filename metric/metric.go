// Package metric holds the scoring functions evaluation tasks run on
// test organizations. Metrics are registered under string keys so plans
// can reference them the same way they reference datasets.
package metric

import (
	"math"
	"sync"

	"github.com/fedlab/fedflow/types"
)

// Func scores predictions against targets.
type Func func(yPred, yTrue []float64) float64

// Registry maps metric keys to scoring functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates a registry pre-populated with the builtin metrics
// "mae" and "mse".
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	r.Register("mae", MAE)
	r.Register("mse", MSE)
	return r
}

// Register adds or replaces a metric under the given key.
func (r *Registry) Register(key string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[key] = fn
}

// Get returns the metric registered under key.
func (r *Registry) Get(key string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[key]
	if !ok {
		return nil, types.NewErrorf(types.ErrMetricNotFound, "metric %q is not registered", key)
	}
	return fn, nil
}

// MAE is the mean absolute error.
func MAE(yPred, yTrue []float64) float64 {
	if len(yPred) == 0 {
		return 0
	}
	var sum float64
	for i, p := range yPred {
		sum += math.Abs(p - yTrue[i])
	}
	return sum / float64(len(yPred))
}

// MSE is the mean squared error.
func MSE(yPred, yTrue []float64) float64 {
	if len(yPred) == 0 {
		return 0
	}
	var sum float64
	for i, p := range yPred {
		d := p - yTrue[i]
		sum += d * d
	}
	return sum / float64(len(yPred))
}
