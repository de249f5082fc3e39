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

package reporttypes

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSharedInfoSerialization(t *testing.T) {
	want := &SharedInfo{
		API:                 "attribution-reporting",
		Version:             LatestVersion,
		ReportID:            "5dd8cb87-28bd-4570-a1b4-76dfcaa3ebcd",
		ReportingOrigin:     "https://adtech.example",
		Destination:         "https://advertiser.example",
		ScheduledReportTime: time.Unix(1609459200, 0).UTC(),
	}

	str, err := SerializeSharedInfo(want)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DeserializeSharedInfo(str)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("shared info mismatch (-want +got):\n%s", diff)
	}
}

func TestSharedInfoWireFormat(t *testing.T) {
	str := `{"api":"attribution-reporting","version":"0.1","report_id":"21abd97f-73e8-4b88-9389-a9fee6abda5e","reporting_origin":"https://adtech.example","attribution_destination":"https://advertiser.example","scheduled_report_time":"1609459200"}`
	got, err := DeserializeSharedInfo(str)
	if err != nil {
		t.Fatal(err)
	}
	if gotTime, want := got.ScheduledReportTime, time.Unix(1609459200, 0).UTC(); !gotTime.Equal(want) {
		t.Errorf("got scheduled report time %v, want %v", gotTime, want)
	}
	if got, want := got.MajorVersion(), "0"; got != want {
		t.Errorf("got major version %q, want %q", got, want)
	}
}

func TestSharedInfoInvalidTime(t *testing.T) {
	str := `{"api":"attribution-reporting","version":"0.1","scheduled_report_time":"not-a-number"}`
	if _, err := DeserializeSharedInfo(str); err == nil {
		t.Error("expect an error for a malformed scheduled_report_time")
	}
}

func TestMajorVersion(t *testing.T) {
	for _, tc := range []struct {
		version, want string
	}{
		{"0.1", "0"},
		{"1.0", "1"},
		{"12.34", "12"},
		{"3", "3"},
	} {
		s := &SharedInfo{Version: tc.version}
		if got := s.MajorVersion(); got != tc.want {
			t.Errorf("MajorVersion(%q) = %q, want %q", tc.version, got, tc.want)
		}
	}
}
