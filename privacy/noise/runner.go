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
	"bytes"
	"math"
	"sort"

	"github.com/google/privacy-sandbox-aggregation-worker/shared/reporttypes"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/utils"
	"lukechampine.com/uint128"
)

// Runner joins the aggregated sums with the output domain and produces the noised
// summary facts, and the annotated debug facts for debug runs.
type Runner struct {
	Params Params
	// NewApplier and Threshold are capability hooks; tests inject a constant noise
	// applier and a fixed threshold.
	NewApplier func(params Params) (Applier, error)
	Threshold  func(params Params) float64

	DomainOptional      bool
	ThresholdingEnabled bool
}

// NewRunner creates a runner with the production noise applier and threshold.
func NewRunner(params Params, domainOptional, thresholdingEnabled bool) *Runner {
	return &Runner{
		Params:              params,
		NewApplier:          NewApplier,
		Threshold:           DefaultThreshold,
		DomainOptional:      domainOptional,
		ThresholdingEnabled: thresholdingEnabled,
	}
}

// Output holds the facts of one run.
type Output struct {
	// Facts is the summary output, sorted by bucket.
	Facts []*reporttypes.AggregatedFact
	// DebugFacts is only set for debug runs.
	DebugFacts []*reporttypes.AggregatedFact
}

// Run applies the domain join, noise and thresholding to the frozen bucket sums.
//
// hasDomain distinguishes a job without a domain from one with an empty domain;
// epsilon is the effective epsilon after any debug override.
func (r *Runner) Run(sums map[uint128.Uint128]uint64, domain map[uint128.Uint128]bool, hasDomain bool, epsilon float64, debugRun bool) (*Output, error) {
	params := r.Params
	params.Epsilon = epsilon
	applier, err := r.NewApplier(params)
	if err != nil {
		return nil, err
	}
	threshold := r.Threshold(params)

	// One noise draw per bucket, shared between the summary and debug outputs.
	noises := make(map[uint128.Uint128]int64)
	noiseOf := func(bucket uint128.Uint128) int64 {
		n, ok := noises[bucket]
		if !ok {
			n = applier.NoiseInt64()
			noises[bucket] = n
		}
		return n
	}

	output := &Output{}
	for bucket, sum := range sums {
		inDomain := domain[bucket]
		if hasDomain && !inDomain && !r.DomainOptional {
			continue
		}
		n := noiseOf(bucket)
		// Buckets only seen in reports are thresholded; domain buckets never are.
		if (!hasDomain || !inDomain) && r.ThresholdingEnabled {
			if float64(sum)+float64(n) < threshold {
				continue
			}
		}
		output.Facts = append(output.Facts, &reporttypes.AggregatedFact{
			Bucket:         bucket,
			Metric:         noisedMetric(sum, n),
			UnnoisedMetric: sum,
		})
	}
	for bucket := range domain {
		if _, ok := sums[bucket]; ok {
			continue
		}
		n := noiseOf(bucket)
		output.Facts = append(output.Facts, &reporttypes.AggregatedFact{
			Bucket:         bucket,
			Metric:         noisedMetric(0, n),
			UnnoisedMetric: 0,
		})
	}
	sortFacts(output.Facts)

	if debugRun {
		for bucket, sum := range sums {
			annotations := []reporttypes.DebugBucketAnnotation{reporttypes.AnnotationInReports}
			if domain[bucket] {
				annotations = append(annotations, reporttypes.AnnotationInDomain)
			}
			output.DebugFacts = append(output.DebugFacts, &reporttypes.AggregatedFact{
				Bucket:           bucket,
				Metric:           noisedMetric(sum, noiseOf(bucket)),
				UnnoisedMetric:   sum,
				DebugAnnotations: annotations,
			})
		}
		for bucket := range domain {
			if _, ok := sums[bucket]; ok {
				continue
			}
			output.DebugFacts = append(output.DebugFacts, &reporttypes.AggregatedFact{
				Bucket:           bucket,
				Metric:           noisedMetric(0, noiseOf(bucket)),
				UnnoisedMetric:   0,
				DebugAnnotations: []reporttypes.DebugBucketAnnotation{reporttypes.AnnotationInDomain},
			})
		}
		sortFacts(output.DebugFacts)
	}

	return output, nil
}

// noisedMetric adds the noise to the unnoised sum, clamping at the int64 boundaries.
func noisedMetric(sum uint64, noise int64) int64 {
	if sum > math.MaxInt64 {
		sum = math.MaxInt64
	}
	metric := int64(sum) + noise
	if noise > 0 && metric < int64(sum) {
		return math.MaxInt64
	}
	if noise < 0 && metric > int64(sum) {
		return math.MinInt64
	}
	return metric
}

func sortFacts(facts []*reporttypes.AggregatedFact) {
	sort.Slice(facts, func(i, j int) bool {
		return bytes.Compare(
			utils.Uint128ToBigEndianBytes(facts[i].Bucket),
			utils.Uint128ToBigEndianBytes(facts[j].Bucket)) < 0
	})
}
