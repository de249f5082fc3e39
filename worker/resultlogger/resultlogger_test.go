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

package resultlogger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/privacy-sandbox-aggregation-worker/blobstore"
	"github.com/google/privacy-sandbox-aggregation-worker/protocol/avro"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/reporttypes"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/jobs"
	"lukechampine.com/uint128"
)

func TestObjectNames(t *testing.T) {
	if got, want := SummaryObject("output"), "output-1-of-1"; got != want {
		t.Errorf("got summary object %q, want %q", got, want)
	}
	if got, want := DebugObject("output"), "debug/output-1-of-1"; got != want {
		t.Errorf("got debug object %q, want %q", got, want)
	}
	if got, want := DebugObject("some/path/output"), "some/path/debug/output-1-of-1"; got != want {
		t.Errorf("got debug object %q, want %q", got, want)
	}
}

func TestLogResultsRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := NewBlobResultLogger(blobstore.NewLocalClient())
	job := &jobs.Job{
		JobKey: "foo",
		RequestInfo: jobs.RequestInfo{
			OutputDataBucketName: dir,
			OutputDataBlobPrefix: "output",
		},
	}

	want := []*reporttypes.AggregatedFact{
		{Bucket: uint128.From64(1), Metric: 2},
		{Bucket: uint128.From64(2), Metric: 8},
	}
	if err := logger.LogResults(ctx, want, job, false); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dir, "output-1-of-1"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, err := avro.ReadResults(f)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("facts mismatch (-want +got):\n%s", diff)
	}
}

func TestLogDebugResults(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := NewBlobResultLogger(blobstore.NewLocalClient())
	job := &jobs.Job{
		JobKey: "foo",
		RequestInfo: jobs.RequestInfo{
			OutputDataBucketName: dir,
			OutputDataBlobPrefix: "output",
		},
	}

	facts := []*reporttypes.AggregatedFact{
		{
			Bucket: uint128.From64(1), Metric: -1, UnnoisedMetric: 2,
			DebugAnnotations: []reporttypes.DebugBucketAnnotation{reporttypes.AnnotationInReports},
		},
	}
	if err := logger.LogResults(ctx, facts, job, true); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "debug", "output-1-of-1")); err != nil {
		t.Errorf("expect the debug output under a debug path segment: %v", err)
	}
}
