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

// Package jobs contains the aggregation job model: the request a worker receives,
// the result it reports back and the return-code taxonomy.
package jobs

import (
	"fmt"
	"strconv"
	"time"
)

// Job parameter keys, fixed contract with the job intake.
const (
	ParamAttributionReportTo            = "attribution_report_to"
	ParamOutputDomainBucketName         = "output_domain_bucket_name"
	ParamOutputDomainBlobPrefix         = "output_domain_blob_prefix"
	ParamDebugRun                       = "debug_run"
	ParamDebugPrivacyEpsilon            = "debug_privacy_epsilon"
	ParamReportErrorThresholdPercentage = "report_error_threshold_percentage"
)

// MaxDebugPrivacyEpsilon bounds the debug_privacy_epsilon job parameter.
const MaxDebugPrivacyEpsilon = 64.0

// ReturnCode classifies the outcome of one aggregation job.
type ReturnCode string

// The exhaustive set of job return codes.
const (
	CodeSuccess                                ReturnCode = "SUCCESS"
	CodeSuccessWithErrors                      ReturnCode = "SUCCESS_WITH_ERRORS"
	CodeReportsWithErrorsExceededThreshold     ReturnCode = "REPORTS_WITH_ERRORS_EXCEEDED_THRESHOLD"
	CodeInputDataReadFailed                    ReturnCode = "INPUT_DATA_READ_FAILED"
	CodeUnsupportedReportVersion               ReturnCode = "UNSUPPORTED_REPORT_VERSION"
	CodeInvalidJob                             ReturnCode = "INVALID_JOB"
	CodePermissionError                        ReturnCode = "PERMISSION_ERROR"
	CodeInternalError                          ReturnCode = "INTERNAL_ERROR"
	CodePrivacyBudgetExhausted                 ReturnCode = "PRIVACY_BUDGET_EXHAUSTED"
	CodePrivacyBudgetAuthenticationError       ReturnCode = "PRIVACY_BUDGET_AUTHENTICATION_ERROR"
	CodePrivacyBudgetAuthorizationError        ReturnCode = "PRIVACY_BUDGET_AUTHORIZATION_ERROR"
	CodeResultWriteError                       ReturnCode = "RESULT_WRITE_ERROR"
	CodeDebugSuccessWithPrivacyBudgetError     ReturnCode = "DEBUG_SUCCESS_WITH_PRIVACY_BUDGET_ERROR"
	CodeDebugSuccessWithPrivacyBudgetExhausted ReturnCode = "DEBUG_SUCCESS_WITH_PRIVACY_BUDGET_EXHAUSTED"
)

// Return messages for the job results.
const (
	MessageSuccess                            = "Aggregation job successfully processed"
	MessageSuccessWithErrors                  = "Aggregation job successfully processed but some reports have errors."
	MessageReportsWithErrorsExceededThreshold = "Aggregation job failed early because the number of reports excluded from aggregation exceeded the error threshold."
)

// RequestInfo describes the input and output of one job.
type RequestInfo struct {
	JobRequestID         string            `json:"job_request_id"`
	InputDataBucketName  string            `json:"input_data_bucket_name"`
	InputDataBlobPrefix  string            `json:"input_data_blob_prefix"`
	OutputDataBucketName string            `json:"output_data_bucket_name"`
	OutputDataBlobPrefix string            `json:"output_data_blob_prefix"`
	JobParameters        map[string]string `json:"job_parameters"`
}

// Job is one unit of aggregation work received from the job intake.
type Job struct {
	JobKey      string      `json:"job_key"`
	RequestInfo RequestInfo `json:"request_info"`
}

// ErrorCount is the number of reports that failed with one error category.
type ErrorCount struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Count       uint64 `json:"count"`
}

// ErrorSummary aggregates the per-report error counts of a job.
type ErrorSummary struct {
	ErrorCounts []ErrorCount `json:"error_counts"`
}

// ResultInfo is the reported outcome of a job.
type ResultInfo struct {
	ReturnCode    ReturnCode   `json:"return_code"`
	ReturnMessage string       `json:"return_message"`
	FinishedAt    time.Time    `json:"finished_at"`
	ErrorSummary  ErrorSummary `json:"error_summary"`
}

// JobResult pairs a job key with its result.
type JobResult struct {
	JobKey     string     `json:"job_key"`
	ResultInfo ResultInfo `json:"result_info"`
}

// ProcessError is a job-fatal failure carrying the return code to report. Per-report
// errors are never raised through this type; they are counted instead.
type ProcessError struct {
	Code    ReturnCode
	Message string
	Err     error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// NewProcessError creates a job-fatal error with a return code.
func NewProcessError(code ReturnCode, message string, err error) *ProcessError {
	return &ProcessError{Code: code, Message: message, Err: err}
}

// IsDebugRun reports whether the job requested a debug run.
func (j *Job) IsDebugRun() bool {
	return j.RequestInfo.JobParameters[ParamDebugRun] == "true"
}

// AttributionReportTo gets the claimed reporting origin of the job.
func (j *Job) AttributionReportTo() string {
	return j.RequestInfo.JobParameters[ParamAttributionReportTo]
}

// OutputDomainLocation gets the output-domain bucket and prefix. Both values are
// empty when no domain is configured.
func (j *Job) OutputDomainLocation() (bucket, prefix string) {
	return j.RequestInfo.JobParameters[ParamOutputDomainBucketName],
		j.RequestInfo.JobParameters[ParamOutputDomainBlobPrefix]
}

// DebugPrivacyEpsilon gets the effective epsilon for the job. A malformed or empty
// debug_privacy_epsilon parameter is ignored; a value that parses but falls outside
// (0, MaxDebugPrivacyEpsilon] fails the job as INVALID_JOB.
func (j *Job) DebugPrivacyEpsilon(defaultEpsilon float64) (float64, error) {
	str, ok := j.RequestInfo.JobParameters[ParamDebugPrivacyEpsilon]
	if !ok || str == "" {
		return defaultEpsilon, nil
	}
	epsilon, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return defaultEpsilon, nil
	}
	if epsilon <= 0 || epsilon > MaxDebugPrivacyEpsilon {
		return 0, NewProcessError(CodeInvalidJob,
			fmt.Sprintf("%s should be a number in (0, %v], got %q", ParamDebugPrivacyEpsilon, MaxDebugPrivacyEpsilon, str), nil)
	}
	return epsilon, nil
}

// ReportErrorThresholdPercentage gets the error threshold of the job, falling back
// to the given system-wide default. Values must be in [0, 100].
func (j *Job) ReportErrorThresholdPercentage(defaultPercentage float64) (float64, error) {
	str, ok := j.RequestInfo.JobParameters[ParamReportErrorThresholdPercentage]
	if !ok || str == "" {
		return defaultPercentage, nil
	}
	percentage, err := strconv.ParseFloat(str, 64)
	if err != nil || percentage < 0 || percentage > 100 {
		return 0, NewProcessError(CodeInvalidJob,
			fmt.Sprintf("%s should be a number in [0, 100], got %q", ParamReportErrorThresholdPercentage, str), nil)
	}
	return percentage, nil
}
