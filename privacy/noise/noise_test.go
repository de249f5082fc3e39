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

package noise

import (
	"math"
	"testing"
)

func TestNewApplier(t *testing.T) {
	for _, distribution := range []Distribution{Laplace, Gaussian, Geometric} {
		applier, err := NewApplier(Params{Epsilon: 1, Delta: 1e-5, L1Sensitivity: 4, Distribution: distribution})
		if err != nil {
			t.Fatalf("NewApplier(%s): %v", distribution, err)
		}
		// Smoke check that the draws stay finite.
		var sum float64
		for i := 0; i < 100; i++ {
			sum += float64(applier.NoiseInt64())
		}
		if math.IsNaN(sum) || math.IsInf(sum, 0) {
			t.Errorf("%s noise produced a non-finite sum", distribution)
		}
	}
}

func TestNewApplierRejectsBadParams(t *testing.T) {
	if _, err := NewApplier(Params{Epsilon: 0, L1Sensitivity: 4, Distribution: Laplace}); err == nil {
		t.Error("expect an error for epsilon 0")
	}
	if _, err := NewApplier(Params{Epsilon: 1, Delta: 0, L1Sensitivity: 4, Distribution: Gaussian}); err == nil {
		t.Error("expect an error for Gaussian noise without delta")
	}
	if _, err := NewApplier(Params{Epsilon: 1, L1Sensitivity: 4, Distribution: "BINOMIAL"}); err == nil {
		t.Error("expect an error for an unknown distribution")
	}
}

func TestDefaultThreshold(t *testing.T) {
	params := Params{Epsilon: 10, Delta: 1e-5, L1Sensitivity: 65536}
	got := DefaultThreshold(params)
	want := float64(params.L1Sensitivity) / params.Epsilon * math.Log(1/params.Delta)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got threshold %v, want %v", got, want)
	}
	if got <= 0 {
		t.Errorf("expect a positive threshold, got %v", got)
	}
}

func TestDistributedGeometricMechanismRand(t *testing.T) {
	// The mean of the two-sided geometric noise is 0; with epsilon/l1 = 1 the noise
	// is small, so the empirical mean over many draws stays near 0.
	const draws = 10000
	var sum int64
	for i := 0; i < draws; i++ {
		n, err := DistributedGeometricMechanismRand(1, 1, 1)
		if err != nil {
			t.Fatal(err)
		}
		sum += n
	}
	if mean := float64(sum) / draws; math.Abs(mean) > 1 {
		t.Errorf("empirical mean %v too far from 0", mean)
	}
}
