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

// Package reporttypes contains the types that represent aggregatable reports and
// the facts aggregated from them.
package reporttypes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lukechampine.com/uint128"
)

// LatestVersion is the latest shared_info version the worker produces and accepts.
const LatestVersion = "0.1"

// SupportedMajorVersions lists the shared_info major versions the worker accepts.
var SupportedMajorVersions = map[string]bool{"0": true}

// EncryptedReport is a single record of the report input, an encrypted payload with
// the key ID for decryption and the cleartext envelope bound as associated data.
type EncryptedReport struct {
	Payload    []byte
	KeyID      string
	SharedInfo string
}

// SharedInfo is the parsed, non-secret envelope of an aggregatable report.
type SharedInfo struct {
	API                 string
	Version             string
	ReportID            string
	ReportingOrigin     string
	Destination         string
	ScheduledReportTime time.Time
}

// sharedInfoJSON matches the on-wire shared_info JSON, where the timestamps are
// decimal strings of epoch seconds.
type sharedInfoJSON struct {
	API                 string `json:"api"`
	Version             string `json:"version"`
	ReportID            string `json:"report_id"`
	ReportingOrigin     string `json:"reporting_origin"`
	Destination         string `json:"attribution_destination"`
	ScheduledReportTime string `json:"scheduled_report_time"`
}

// MarshalJSON serializes the shared info in the on-wire format.
func (s SharedInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(sharedInfoJSON{
		API:                 s.API,
		Version:             s.Version,
		ReportID:            s.ReportID,
		ReportingOrigin:     s.ReportingOrigin,
		Destination:         s.Destination,
		ScheduledReportTime: strconv.FormatInt(s.ScheduledReportTime.Unix(), 10),
	})
}

// UnmarshalJSON parses the on-wire shared info.
func (s *SharedInfo) UnmarshalJSON(b []byte) error {
	wire := &sharedInfoJSON{}
	if err := json.Unmarshal(b, wire); err != nil {
		return err
	}
	seconds, err := strconv.ParseInt(wire.ScheduledReportTime, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid scheduled_report_time %q: %v", wire.ScheduledReportTime, err)
	}
	*s = SharedInfo{
		API:                 wire.API,
		Version:             wire.Version,
		ReportID:            wire.ReportID,
		ReportingOrigin:     wire.ReportingOrigin,
		Destination:         wire.Destination,
		ScheduledReportTime: time.Unix(seconds, 0).UTC(),
	}
	return nil
}

// SerializeSharedInfo gets the shared_info string of a report, which is bound as the
// associated data during encryption.
func SerializeSharedInfo(s *SharedInfo) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DeserializeSharedInfo parses a shared_info string.
func DeserializeSharedInfo(str string) (*SharedInfo, error) {
	s := &SharedInfo{}
	if err := json.Unmarshal([]byte(str), s); err != nil {
		return nil, err
	}
	return s, nil
}

// MajorVersion gets the major part of the shared_info version.
func (s *SharedInfo) MajorVersion() string {
	major, _, _ := strings.Cut(s.Version, ".")
	return major
}

// Contribution is a single (bucket, value) pair of a report payload. The bucket is a
// 16-byte big-endian integer on the wire.
type Contribution struct {
	Bucket []byte `codec:"bucket"`
	Value  uint32 `codec:"value"`
}

// Payload is the secret part of a report, serialized as a CBOR map.
type Payload struct {
	Operation string         `codec:"operation"`
	Data      []Contribution `codec:"data"`
}

// Report is a decrypted aggregatable report.
type Report struct {
	SharedInfo SharedInfo
	Payload    Payload
}

// DebugBucketAnnotation marks where a bucket of a debug fact came from.
type DebugBucketAnnotation string

// Debug annotations for the buckets in a debug run. The values are the Avro enum
// symbols of the debug output schema.
const (
	AnnotationInReports DebugBucketAnnotation = "IN_REPORTS"
	AnnotationInDomain  DebugBucketAnnotation = "IN_DOMAIN"
)

// AggregatedFact is one bucket of the aggregation output.
type AggregatedFact struct {
	Bucket         uint128.Uint128
	Metric         int64
	UnnoisedMetric uint64
	// DebugAnnotations is only set for the facts of a debug output.
	DebugAnnotations []DebugBucketAnnotation
}
