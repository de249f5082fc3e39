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

package validation

import (
	"sync"

	"github.com/google/privacy-sandbox-aggregation-worker/shared/reporttypes"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/errorcounter"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/jobs"
)

// FakeValidator fails the reports whose IDs it was told to fail, counting them as
// decryption errors. It is used to drive validation paths in tests.
type FakeValidator struct {
	mu              sync.Mutex
	failingReportID map[string]bool
}

// NewFakeValidator creates a fake validator failing nothing.
func NewFakeValidator() *FakeValidator {
	return &FakeValidator{failingReportID: make(map[string]bool)}
}

// SetReportIDShouldFail replaces the set of report IDs to fail.
func (v *FakeValidator) SetReportIDShouldFail(reportIDs []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failingReportID = make(map[string]bool)
	for _, id := range reportIDs {
		v.failingReportID[id] = true
	}
}

// Validate fails the report iff its ID was marked.
func (v *FakeValidator) Validate(report *reporttypes.Report, _ *jobs.Job) *errorcounter.ErrorCounter {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failingReportID[report.SharedInfo.ReportID] {
		counter := errorcounter.DecryptionError
		return &counter
	}
	return nil
}
