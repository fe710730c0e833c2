// Package testutil provides shared test fixtures: deterministic linear
// data generation, reference metrics, an in-memory dataset opener, and
// dummy algo/strategy implementations for contract tests.
package testutil

import (
	"math"
	"math/rand"

	"github.com/fedlab/fedflow/types"
)

// LinearData generates nSamples samples of linearly linked data with
// nFeatures features. The ground-truth weights are drawn from weightSeed,
// so batches built with the same weightSeed share the same underlying
// relation while noiseSeed varies the per-batch noise. This mirrors the
// per-organization split used by the end-to-end tests: same relation,
// different noise on every organization.
func LinearData(nFeatures, nSamples int, weightSeed, noiseSeed int64) types.DataBatch {
	wrng := rand.New(rand.NewSource(weightSeed))
	weights := make([]float64, nFeatures)
	for i := range weights {
		weights[i] = wrng.Float64()*2 - 1
	}
	bias := wrng.Float64()*2 - 1

	xrng := rand.New(rand.NewSource(weightSeed + 1))
	nrng := rand.New(rand.NewSource(noiseSeed))

	batch := types.DataBatch{
		X: make([][]float64, nSamples),
		Y: make([]float64, nSamples),
	}
	for i := 0; i < nSamples; i++ {
		x := make([]float64, nFeatures)
		for j := range x {
			x[j] = xrng.Float64()*2 - 1
		}
		batch.X[i] = x
		y := bias
		for j, w := range weights {
			y += w * x[j]
		}
		batch.Y[i] = y + nrng.NormFloat64()*0.05
	}
	return batch
}

// MAE computes the mean absolute error between predictions and targets.
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
