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

// ConstantApplier returns the same noise value for every bucket. It makes noised
// outputs deterministic in tests.
type ConstantApplier struct {
	Noise int64
}

// NoiseInt64 returns the constant.
func (a ConstantApplier) NoiseInt64() int64 {
	return a.Noise
}

// ConstantApplierFactory builds a NewApplier hook returning the constant applier.
func ConstantApplierFactory(value int64) func(Params) (Applier, error) {
	return func(Params) (Applier, error) {
		return ConstantApplier{Noise: value}, nil
	}
}

// ConstantThreshold builds a Threshold hook returning a fixed value.
func ConstantThreshold(value float64) func(Params) float64 {
	return func(Params) float64 {
		return value
	}
}
