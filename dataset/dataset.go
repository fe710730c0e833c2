// Package dataset defines how the engine resolves the dataset and sample
// keys referenced by compute-plan tasks into concrete data batches.
// Openers keep the engine agnostic of where data actually lives: the
// in-memory Registry serves local experiments and tests, while remote
// organizations resolve keys against their own private storage.
package dataset

import (
	"context"
	"sync"

	"github.com/fedlab/fedflow/types"
)

// Opener resolves dataset and sample keys to a data batch.
type Opener interface {
	Open(ctx context.Context, datasetKey string, sampleKeys []string) (types.DataBatch, error)
}

// Registry is an in-memory Opener. Samples are registered per dataset
// under sample keys and concatenated in key order when opened.
type Registry struct {
	mu       sync.RWMutex
	datasets map[string]map[string]types.DataBatch
}

// NewRegistry creates an empty dataset registry.
func NewRegistry() *Registry {
	return &Registry{datasets: make(map[string]map[string]types.DataBatch)}
}

// AddSamples registers a batch under (datasetKey, sampleKey),
// overwriting any previous batch with the same keys.
func (r *Registry) AddSamples(datasetKey, sampleKey string, batch types.DataBatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.datasets[datasetKey]
	if !ok {
		ds = make(map[string]types.DataBatch)
		r.datasets[datasetKey] = ds
	}
	ds[sampleKey] = batch
}

// Open concatenates the batches registered under the given sample keys.
func (r *Registry) Open(ctx context.Context, datasetKey string, sampleKeys []string) (types.DataBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ds, ok := r.datasets[datasetKey]
	if !ok {
		return types.DataBatch{}, types.NewErrorf(types.ErrDatasetNotFound, "dataset %q is not registered", datasetKey)
	}

	var out types.DataBatch
	for _, key := range sampleKeys {
		batch, ok := ds[key]
		if !ok {
			return types.DataBatch{}, types.NewErrorf(types.ErrDatasetNotFound,
				"sample %q is not registered in dataset %q", key, datasetKey)
		}
		out.X = append(out.X, batch.X...)
		out.Y = append(out.Y, batch.Y...)
	}
	return out, nil
}

var _ Opener = (*Registry)(nil)
