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

// Package aggregation accumulates report contributions per bucket. The engine is
// the only shared mutable state of the parallel phase and is safe for concurrent
// writers; after the input drains it is read as a single logical view.
package aggregation

import (
	"sync"

	"github.com/google/privacy-sandbox-aggregation-worker/privacy/budget"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/reporttypes"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/utils"
	"lukechampine.com/uint128"
)

// The stripe count trades lock contention for memory. Buckets are assigned to
// stripes by their low-order bits, which are the most uniformly distributed ones
// for counter-style bucket keys.
const numStripes = 64

type bucketState struct {
	sum       uint64
	saturated bool
	units     map[string]budget.PrivacyBudgetUnit
}

type stripe struct {
	mu      sync.Mutex
	buckets map[uint128.Uint128]*bucketState
}

// Engine is the in-memory accumulator mapping each bucket to its sum and the budget
// units that cover its contributions.
type Engine struct {
	stripes [numStripes]stripe
}

// New creates an empty aggregation engine.
func New() *Engine {
	e := &Engine{}
	for i := range e.stripes {
		e.stripes[i].buckets = make(map[uint128.Uint128]*bucketState)
	}
	return e
}

// Accept adds one contribution to a bucket and records the budget unit covering it.
// The sum saturates at the uint64 boundary instead of overflowing. Safe for
// concurrent callers.
func (e *Engine) Accept(bucket uint128.Uint128, value uint64, unit budget.PrivacyBudgetUnit) {
	s := &e.stripes[bucket.Lo%numStripes]
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.buckets[bucket]
	if !ok {
		state = &bucketState{units: make(map[string]budget.PrivacyBudgetUnit)}
		s.buckets[bucket] = state
	}
	if sum := state.sum + value; sum < state.sum {
		state.sum = ^uint64(0)
		state.saturated = true
	} else {
		state.sum = sum
	}
	state.units[unit.Key] = unit
}

// AcceptReport accumulates all the contributions of a decoded report under the
// report's budget unit.
func (e *Engine) AcceptReport(report *reporttypes.Report) error {
	unit := budget.UnitFromSharedInfo(&report.SharedInfo)
	for _, contribution := range report.Payload.Data {
		bucket, err := utils.BigEndianBytesToUint128(contribution.Bucket)
		if err != nil {
			return err
		}
		e.Accept(bucket, uint64(contribution.Value), unit)
	}
	return nil
}

// Snapshot returns the bucket sums. It must only be called after the parallel phase
// has drained.
func (e *Engine) Snapshot() map[uint128.Uint128]uint64 {
	result := make(map[uint128.Uint128]uint64)
	for i := range e.stripes {
		s := &e.stripes[i]
		s.mu.Lock()
		for bucket, state := range s.buckets {
			result[bucket] = state.sum
		}
		s.mu.Unlock()
	}
	return result
}

// PrivacyBudgetUnits returns the deduplicated union of the budget units across all
// buckets.
func (e *Engine) PrivacyBudgetUnits() []budget.PrivacyBudgetUnit {
	seen := make(map[string]bool)
	var units []budget.PrivacyBudgetUnit
	for i := range e.stripes {
		s := &e.stripes[i]
		s.mu.Lock()
		for _, state := range s.buckets {
			for key, unit := range state.units {
				if !seen[key] {
					seen[key] = true
					units = append(units, unit)
				}
			}
		}
		s.mu.Unlock()
	}
	return units
}

// NumSaturatedBuckets returns the number of buckets whose sum was capped at the
// uint64 boundary.
func (e *Engine) NumSaturatedBuckets() int {
	var n int
	for i := range e.stripes {
		s := &e.stripes[i]
		s.mu.Lock()
		for _, state := range s.buckets {
			if state.saturated {
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}
