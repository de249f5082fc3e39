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

package aggregation

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/privacy-sandbox-aggregation-worker/privacy/budget"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/reporttypes"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/utils"
	"lukechampine.com/uint128"
)

func testUnit(key string) budget.PrivacyBudgetUnit {
	return budget.PrivacyBudgetUnit{Key: key, ScheduledReportTime: time.Unix(0, 0).UTC()}
}

func TestAcceptSumsPerBucket(t *testing.T) {
	engine := New()
	engine.Accept(uint128.From64(1), 1, testUnit("a"))
	engine.Accept(uint128.From64(1), 1, testUnit("b"))
	engine.Accept(uint128.From64(2), 4, testUnit("a"))
	engine.Accept(uint128.From64(2), 4, testUnit("b"))

	want := map[uint128.Uint128]uint64{
		uint128.From64(1): 2,
		uint128.From64(2): 8,
	}
	if diff := cmp.Diff(want, engine.Snapshot()); diff != "" {
		t.Errorf("sums mismatch (-want +got):\n%s", diff)
	}
}

func TestAcceptConcurrent(t *testing.T) {
	engine := New()
	const (
		workers   = 8
		perWorker = 1000
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				engine.Accept(uint128.From64(uint64(i%10)), 1, testUnit("shared"))
			}
		}()
	}
	wg.Wait()

	var total uint64
	for _, sum := range engine.Snapshot() {
		total += sum
	}
	if got, want := total, uint64(workers*perWorker); got != want {
		t.Errorf("got total %d, want %d", got, want)
	}
	if got, want := len(engine.PrivacyBudgetUnits()), 1; got != want {
		t.Errorf("got %d budget units, want %d", got, want)
	}
}

func TestAcceptSaturates(t *testing.T) {
	engine := New()
	bucket := uint128.From64(1)
	engine.Accept(bucket, math.MaxUint64, testUnit("a"))
	engine.Accept(bucket, 100, testUnit("a"))

	if got, want := engine.Snapshot()[bucket], uint64(math.MaxUint64); got != want {
		t.Errorf("got sum %d, want saturated %d", got, want)
	}
	if got, want := engine.NumSaturatedBuckets(), 1; got != want {
		t.Errorf("got %d saturated buckets, want %d", got, want)
	}
}

func TestBoundaryBuckets(t *testing.T) {
	engine := New()
	engine.Accept(uint128.Zero, 1, testUnit("a"))
	engine.Accept(uint128.Max, 2, testUnit("a"))

	sums := engine.Snapshot()
	if got, want := sums[uint128.Zero], uint64(1); got != want {
		t.Errorf("got sum %d for bucket 0, want %d", got, want)
	}
	if got, want := sums[uint128.Max], uint64(2); got != want {
		t.Errorf("got sum %d for bucket 2^128-1, want %d", got, want)
	}
}

func TestAcceptReport(t *testing.T) {
	sharedInfo := reporttypes.SharedInfo{
		API:                 "attribution-reporting",
		Version:             reporttypes.LatestVersion,
		ReportID:            "0c76932e-6da8-4f16-a1ee-ee1dba57b0ad",
		ReportingOrigin:     "https://adtech.example",
		Destination:         "https://advertiser.example",
		ScheduledReportTime: time.Unix(3600, 0).UTC(),
	}
	report := &reporttypes.Report{
		SharedInfo: sharedInfo,
		Payload: reporttypes.Payload{
			Data: []reporttypes.Contribution{
				{Bucket: utils.Uint128ToBigEndianBytes(uint128.From64(1)), Value: 1},
				{Bucket: utils.Uint128ToBigEndianBytes(uint128.From64(2)), Value: 4},
			},
		},
	}

	engine := New()
	if err := engine.AcceptReport(report); err != nil {
		t.Fatal(err)
	}

	want := map[uint128.Uint128]uint64{
		uint128.From64(1): 1,
		uint128.From64(2): 4,
	}
	if diff := cmp.Diff(want, engine.Snapshot()); diff != "" {
		t.Errorf("sums mismatch (-want +got):\n%s", diff)
	}

	units := engine.PrivacyBudgetUnits()
	if got, want := len(units), 1; got != want {
		t.Fatalf("got %d budget units, want %d", got, want)
	}
	if got, want := units[0], budget.UnitFromSharedInfo(&sharedInfo); !got.ScheduledReportTime.Equal(want.ScheduledReportTime) || got.Key != want.Key {
		t.Errorf("got unit %+v, want %+v", got, want)
	}
}

func TestAcceptReportBadBucket(t *testing.T) {
	report := &reporttypes.Report{
		Payload: reporttypes.Payload{
			Data: []reporttypes.Contribution{{Bucket: []byte{1, 2, 3}, Value: 1}},
		},
	}
	if err := New().AcceptReport(report); err == nil {
		t.Error("expect an error for a bucket that is not 16 bytes")
	}
}
