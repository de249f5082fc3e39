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

// Package errorcounter counts the per-report errors of a job. Per-report errors
// never fail a job by themselves; they are tallied and reported in the error
// summary of the job result.
package errorcounter

import (
	"sort"
	"sync"

	"github.com/google/privacy-sandbox-aggregation-worker/worker/jobs"
)

// ErrorCounter is the category of a per-report error.
type ErrorCounter string

// The counters the worker and its validators can record.
const (
	DecryptionError             ErrorCounter = "DECRYPTION_ERROR"
	ServiceError                ErrorCounter = "SERVICE_ERROR"
	UnsupportedReportVersion    ErrorCounter = "UNSUPPORTED_REPORT_VERSION"
	AttributionReportToMismatch ErrorCounter = "ATTRIBUTION_REPORT_TO_MISMATCH"
	OriginalReportTimeTooOld    ErrorCounter = "ORIGINAL_REPORT_TIME_TOO_OLD"
	NumReportsWithErrors        ErrorCounter = "NUM_REPORTS_WITH_ERRORS"
)

var descriptions = map[ErrorCounter]string{
	DecryptionError:             "Unable to decrypt the report. This may be caused by a malformed report.",
	ServiceError:                "Fetching the decryption key failed for a retriable reason.",
	UnsupportedReportVersion:    "The report's shared_info version is not supported by this deployment.",
	AttributionReportToMismatch: "The report's reporting origin does not match the attribution_report_to of the job.",
	OriginalReportTimeTooOld:    "The report's scheduled report time is too old.",
	NumReportsWithErrors:        "Total number of reports excluded from aggregation because of errors.",
}

// Description returns the human-readable description of a counter.
func (c ErrorCounter) Description() string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	return string(c)
}

// Counts is a thread-safe error-count map. Every increment of a category also
// increments NumReportsWithErrors.
type Counts struct {
	mu     sync.Mutex
	counts map[ErrorCounter]uint64
	total  uint64
}

// NewCounts creates an empty error-count map.
func NewCounts() *Counts {
	return &Counts{counts: make(map[ErrorCounter]uint64)}
}

// Add records one report failing with the given category.
func (c *Counts) Add(counter ErrorCounter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[counter]++
	c.total++
}

// Total returns the number of reports recorded with any error.
func (c *Counts) Total() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Count returns the number of reports recorded with the given category.
func (c *Counts) Count(counter ErrorCounter) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[counter]
}

// Summary produces the error summary of the job result. Categories are sorted by
// name, with the NUM_REPORTS_WITH_ERRORS total appended last. An empty summary is
// returned when no errors were recorded.
func (c *Counts) Summary() jobs.ErrorSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.total == 0 {
		return jobs.ErrorSummary{}
	}

	categories := make([]ErrorCounter, 0, len(c.counts))
	for counter := range c.counts {
		categories = append(categories, counter)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	var summary jobs.ErrorSummary
	for _, counter := range categories {
		summary.ErrorCounts = append(summary.ErrorCounts, jobs.ErrorCount{
			Category:    string(counter),
			Description: counter.Description(),
			Count:       c.counts[counter],
		})
	}
	summary.ErrorCounts = append(summary.ErrorCounts, jobs.ErrorCount{
		Category:    string(NumReportsWithErrors),
		Description: NumReportsWithErrors.Description(),
		Count:       c.total,
	})
	return summary
}
