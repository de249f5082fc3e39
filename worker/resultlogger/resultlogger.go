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

// Package resultlogger serializes and uploads the aggregation results of a job.
package resultlogger

import (
	"bytes"
	"context"
	"path"

	"github.com/google/privacy-sandbox-aggregation-worker/blobstore"
	"github.com/google/privacy-sandbox-aggregation-worker/protocol/avro"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/reporttypes"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/jobs"
)

// ResultLogger writes one result file of a job.
type ResultLogger interface {
	// LogResults writes the facts as the summary output of the job, or as the debug
	// output when isDebugRun is set.
	LogResults(ctx context.Context, facts []*reporttypes.AggregatedFact, job *jobs.Job, isDebugRun bool) error
}

// ShardSuffix is appended to the output prefix of the summary file. The worker
// currently writes a single result shard.
const ShardSuffix = "-1-of-1"

// SummaryObject returns the object name of the summary output.
func SummaryObject(outputPrefix string) string {
	return outputPrefix + ShardSuffix
}

// DebugObject returns the object name of the debug output, a "debug" path segment
// inserted before the file name of the summary output.
func DebugObject(outputPrefix string) string {
	dir, file := path.Split(SummaryObject(outputPrefix))
	return dir + "debug/" + file
}

// BlobResultLogger writes Avro result files to the blob store.
type BlobResultLogger struct {
	Blob blobstore.Client
}

// NewBlobResultLogger creates a result logger writing to the blob store.
func NewBlobResultLogger(blob blobstore.Client) *BlobResultLogger {
	return &BlobResultLogger{Blob: blob}
}

// LogResults writes the facts to the job's output location.
func (l *BlobResultLogger) LogResults(ctx context.Context, facts []*reporttypes.AggregatedFact, job *jobs.Job, isDebugRun bool) error {
	buf := &bytes.Buffer{}
	if err := avro.WriteResults(buf, facts, isDebugRun); err != nil {
		return err
	}

	object := SummaryObject(job.RequestInfo.OutputDataBlobPrefix)
	if isDebugRun {
		object = DebugObject(job.RequestInfo.OutputDataBlobPrefix)
	}
	return l.Blob.WriteBlob(ctx, job.RequestInfo.OutputDataBucketName, object, buf.Bytes())
}
