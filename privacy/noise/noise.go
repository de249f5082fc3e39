// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package noise applies differentially-private noise and thresholding to the
// aggregated bucket sums, joining them with the output domain when one is given.
package noise

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/stat/distuv"
)

// Distribution selects the noise distribution.
type Distribution string

// The supported noise distributions. Geometric is the discrete two-sided
// geometric mechanism, the distribution used when the aggregation is split
// across helpers.
const (
	Laplace   Distribution = "LAPLACE"
	Gaussian  Distribution = "GAUSSIAN"
	Geometric Distribution = "GEOMETRIC"
)

// Params holds the privacy parameters of the deployment.
type Params struct {
	Epsilon       float64
	Delta         float64
	L1Sensitivity uint64
	Distribution  Distribution
}

// Applier draws one noise sample per output bucket.
type Applier interface {
	NoiseInt64() int64
}

type laplaceApplier struct {
	dist distuv.Laplace
}

func (a laplaceApplier) NoiseInt64() int64 {
	return int64(math.Round(a.dist.Rand()))
}

type gaussianApplier struct {
	dist distuv.Normal
}

func (a gaussianApplier) NoiseInt64() int64 {
	return int64(math.Round(a.dist.Rand()))
}

type geometricApplier struct {
	epsilon       float64
	l1Sensitivity uint64
}

func (a geometricApplier) NoiseInt64() int64 {
	// A single worker holds the whole aggregation, so it draws the one noise share.
	n, err := DistributedGeometricMechanismRand(a.epsilon, a.l1Sensitivity, 1)
	if err != nil {
		return 0
	}
	return n
}

// NewApplier creates a noise applier for the parameters. The epsilon of the params
// is the effective one, after any debug override.
func NewApplier(params Params) (Applier, error) {
	if params.Epsilon <= 0 {
		return nil, fmt.Errorf("expect positive epsilon, got %v", params.Epsilon)
	}
	switch params.Distribution {
	case Laplace:
		return laplaceApplier{distuv.Laplace{Mu: 0, Scale: float64(params.L1Sensitivity) / params.Epsilon}}, nil
	case Gaussian:
		if params.Delta <= 0 || params.Delta >= 1 {
			return nil, fmt.Errorf("expect delta in (0, 1) for Gaussian noise, got %v", params.Delta)
		}
		sigma := float64(params.L1Sensitivity) * math.Sqrt(2*math.Log(1.25/params.Delta)) / params.Epsilon
		return gaussianApplier{distuv.Normal{Mu: 0, Sigma: sigma}}, nil
	case Geometric:
		return geometricApplier{epsilon: params.Epsilon, l1Sensitivity: params.L1Sensitivity}, nil
	default:
		return nil, fmt.Errorf("unknown noise distribution %q", params.Distribution)
	}
}

// DefaultThreshold derives the threshold below which buckets seen only in reports
// are dropped from the summary output.
func DefaultThreshold(params Params) float64 {
	if params.Delta <= 0 || params.Delta >= 1 {
		return 0
	}
	return float64(params.L1Sensitivity) / params.Epsilon * math.Log(1/params.Delta)
}

// polyaRand generates a random value that follows the Polya distribution.
func polyaRand(r, p float64) int64 {
	// The polya rand number can be drawn with a mixture of Gamma-Poisson distribution:
	// https://en.wikipedia.org/wiki/Negative_binomial_distribution
	gamma := distuv.Gamma{Alpha: r, Beta: (1 - p) / p}.Rand()
	return int64(distuv.Poisson{Lambda: gamma}.Rand())
}

// DistributedGeometricMechanismRand generates noise such that adding `numNoiseShares` separate
// samples drawn from this method added together will be distributed according to the two-sided
// geometric mechansim (aka Discrete Laplace distribution).
//
// For one-sided Geometric distribution (https://en.wikipedia.org/wiki/Geometric_distribution),
// we have: Geom(p) = Polya(1, 1 - p) = sum_i^numHelper Polya(1/i, p);
// By substracting two geometric random values, we can get the noise that follows two-sided distribution.
func DistributedGeometricMechanismRand(epsilon float64, l1Sensitivity, numNoiseShares uint64) (int64, error) {
	roundingResult := float64(numNoiseShares) * (1.0 / float64(numNoiseShares))
	if !scalar.EqualWithinAbsOrRel(roundingResult, 1.0, 1e-6, 1e-6) {
		return 0, fmt.Errorf("rounding error, expect numNoiseShares*(1/numNoiseShares) == 1, got %v", roundingResult)
	}

	r, p := 1.0/float64(numNoiseShares), math.Exp(-epsilon/float64(l1Sensitivity))
	return polyaRand(r, p) - polyaRand(r, p), nil
}
