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

// Package validation runs per-report validators before a report is aggregated. The
// chain short-circuits on the first failing validator; the report is then excluded
// from aggregation and counted under the validator's error counter.
package validation

import (
	"github.com/google/privacy-sandbox-aggregation-worker/shared/reporttypes"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/errorcounter"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/jobs"
)

// ReportValidator checks one report against one rule. A nil result means the report
// passed.
type ReportValidator interface {
	Validate(report *reporttypes.Report, job *jobs.Job) *errorcounter.ErrorCounter
}

// Validate runs the validators in order and returns the counter of the first failure,
// or nil if the report passed all of them.
func Validate(report *reporttypes.Report, job *jobs.Job, validators []ReportValidator) *errorcounter.ErrorCounter {
	for _, validator := range validators {
		if counter := validator.Validate(report, job); counter != nil {
			return counter
		}
	}
	return nil
}

// ReportVersionValidator rejects reports whose shared_info major version is not
// supported by this deployment.
type ReportVersionValidator struct{}

// Validate checks the report's shared_info version.
func (v ReportVersionValidator) Validate(report *reporttypes.Report, _ *jobs.Job) *errorcounter.ErrorCounter {
	if reporttypes.SupportedMajorVersions[report.SharedInfo.MajorVersion()] {
		return nil
	}
	counter := errorcounter.UnsupportedReportVersion
	return &counter
}

// AttributionReportToValidator rejects reports whose reporting origin does not match
// the attribution_report_to of the job.
type AttributionReportToValidator struct{}

// Validate checks the report's reporting origin against the job.
func (v AttributionReportToValidator) Validate(report *reporttypes.Report, job *jobs.Job) *errorcounter.ErrorCounter {
	if job.AttributionReportTo() == "" || report.SharedInfo.ReportingOrigin == job.AttributionReportTo() {
		return nil
	}
	counter := errorcounter.AttributionReportToMismatch
	return &counter
}
