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

// Package jobmonitor contains types and functions for aggregation job monitoring.
package jobmonitor

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/jobs"
)

// Paths should be used when writing to Firestore.
const (
	ProdPath = "jobs"
	TestPath = "jobs-test"
)

// Job statuses recorded by the monitor.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// WorkerJob represents one aggregation job run by a worker.
type WorkerJob struct {
	Created    time.Time `firestore:"created,omitempty"`
	Updated    time.Time `firestore:"updated,omitempty"`
	Status     string    `firestore:"status,omitempty"`
	ReturnCode string    `firestore:"return_code,omitempty"`
	Message    string    `firestore:"message,omitempty"`
}

// Monitor writes job statuses to Firestore.
type Monitor struct {
	Client *firestore.Client
	Path   string
}

// MarkStarted records that the worker picked up a job.
func (m *Monitor) MarkStarted(ctx context.Context, jobKey string) error {
	now := time.Now().UTC()
	_, err := m.Client.Collection(m.Path).Doc(jobKey).Set(ctx, &WorkerJob{
		Created: now,
		Updated: now,
		Status:  StatusRunning,
	})
	return err
}

// RecordResult records the outcome of a job.
func (m *Monitor) RecordResult(ctx context.Context, result *jobs.JobResult) error {
	status := StatusFinished
	switch result.ResultInfo.ReturnCode {
	case jobs.CodeSuccess, jobs.CodeSuccessWithErrors,
		jobs.CodeDebugSuccessWithPrivacyBudgetError, jobs.CodeDebugSuccessWithPrivacyBudgetExhausted:
	default:
		status = StatusFailed
	}
	_, err := m.Client.Collection(m.Path).Doc(result.JobKey).Set(ctx, map[string]interface{}{
		"updated":     time.Now().UTC(),
		"status":      status,
		"return_code": string(result.ResultInfo.ReturnCode),
		"message":     result.ResultInfo.ReturnMessage,
	}, firestore.MergeAll)
	return err
}
