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

// Package avro contains the readers and writers for the Avro object container files
// exchanged with the reporting endpoints: encrypted report batches, output domains
// and aggregation results.
package avro

import (
	"fmt"
	"io"

	"github.com/google/privacy-sandbox-aggregation-worker/shared/reporttypes"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/utils"
	"github.com/linkedin/goavro/v2"
	"lukechampine.com/uint128"
)

// The schemas are fixed contracts with the clients that batch the reports and
// consume the results. They must not be changed.
const (
	reportSchema = `{
  "type": "record",
  "name": "AvroAggregatableReport",
  "fields": [
    {"name": "payload", "type": "bytes"},
    {"name": "key_id", "type": "string"},
    {"name": "shared_info", "type": "string"}
  ]
}`

	outputDomainSchema = `{
  "type": "record",
  "name": "AvroOutputDomain",
  "fields": [
    {"name": "bucket", "type": "bytes"}
  ]
}`

	resultsSchema = `{
  "type": "record",
  "name": "AvroAggregatedFact",
  "fields": [
    {"name": "bucket", "type": "bytes"},
    {"name": "metric", "type": "long"}
  ]
}`

	debugResultsSchema = `{
  "type": "record",
  "name": "AvroDebugAggregatedFact",
  "fields": [
    {"name": "bucket", "type": "bytes"},
    {"name": "metric", "type": "long"},
    {"name": "unnoised_metric", "type": "long"},
    {"name": "annotations", "type": {"type": "array", "items": {
      "type": "enum",
      "name": "DebugBucketAnnotation",
      "symbols": ["IN_REPORTS", "IN_DOMAIN"]
    }}}
  ]
}`
)

// ReportReader reads encrypted reports from one Avro report shard.
type ReportReader struct {
	ocf *goavro.OCFReader
}

// NewReportReader creates a reader for one report shard.
func NewReportReader(r io.Reader) (*ReportReader, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, err
	}
	return &ReportReader{ocf: ocf}, nil
}

// Next reports whether there is another record in the shard.
func (r *ReportReader) Next() bool {
	return r.ocf.Scan()
}

// Read reads the next encrypted report.
func (r *ReportReader) Read() (*reporttypes.EncryptedReport, error) {
	datum, err := r.ocf.Read()
	if err != nil {
		return nil, err
	}
	record, ok := datum.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expect a report record, got %T", datum)
	}
	payload, ok := record["payload"].([]byte)
	if !ok {
		return nil, fmt.Errorf("field 'payload' of type bytes missing in record")
	}
	keyID, ok := record["key_id"].(string)
	if !ok {
		return nil, fmt.Errorf("field 'key_id' of type string missing in record")
	}
	sharedInfo, ok := record["shared_info"].(string)
	if !ok {
		return nil, fmt.Errorf("field 'shared_info' of type string missing in record")
	}
	return &reporttypes.EncryptedReport{Payload: payload, KeyID: keyID, SharedInfo: sharedInfo}, nil
}

// Err returns the first error hit while scanning the shard.
func (r *ReportReader) Err() error {
	return r.ocf.Err()
}

// WriteReports writes encrypted reports as one Avro report shard.
func WriteReports(w io.Writer, reports []*reporttypes.EncryptedReport) error {
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{W: w, Schema: reportSchema})
	if err != nil {
		return err
	}
	var records []interface{}
	for _, report := range reports {
		records = append(records, map[string]interface{}{
			"payload":     report.Payload,
			"key_id":      report.KeyID,
			"shared_info": report.SharedInfo,
		})
	}
	return ocf.Append(records)
}

// OutputDomainReader reads bucket keys from one Avro output-domain shard.
type OutputDomainReader struct {
	ocf *goavro.OCFReader
}

// NewOutputDomainReader creates a reader for one output-domain shard.
func NewOutputDomainReader(r io.Reader) (*OutputDomainReader, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, err
	}
	return &OutputDomainReader{ocf: ocf}, nil
}

// Next reports whether there is another record in the shard.
func (r *OutputDomainReader) Next() bool {
	return r.ocf.Scan()
}

// Read reads the next bucket key.
func (r *OutputDomainReader) Read() (uint128.Uint128, error) {
	datum, err := r.ocf.Read()
	if err != nil {
		return uint128.Zero, err
	}
	record, ok := datum.(map[string]interface{})
	if !ok {
		return uint128.Zero, fmt.Errorf("expect a domain record, got %T", datum)
	}
	bucket, ok := record["bucket"].([]byte)
	if !ok {
		return uint128.Zero, fmt.Errorf("field 'bucket' of type bytes missing in record")
	}
	return utils.BigEndianBytesToUint128(bucket)
}

// Err returns the first error hit while scanning the shard.
func (r *OutputDomainReader) Err() error {
	return r.ocf.Err()
}

// WriteOutputDomain writes bucket keys as one Avro output-domain shard.
func WriteOutputDomain(w io.Writer, buckets []uint128.Uint128) error {
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{W: w, Schema: outputDomainSchema})
	if err != nil {
		return err
	}
	var records []interface{}
	for _, bucket := range buckets {
		records = append(records, map[string]interface{}{
			"bucket": utils.Uint128ToBigEndianBytes(bucket),
		})
	}
	// An empty shard is the header alone: the reader rejects a data block that holds
	// no records, while a header-only file reads back as a shard without records.
	if len(records) == 0 {
		return nil
	}
	return ocf.Append(records)
}

// WriteResults writes the aggregated facts as one Avro results file.
//
// For a debug output the records additionally carry the unnoised metric and the
// bucket annotations.
func WriteResults(w io.Writer, facts []*reporttypes.AggregatedFact, isDebug bool) error {
	schema := resultsSchema
	if isDebug {
		schema = debugResultsSchema
	}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{W: w, Schema: schema})
	if err != nil {
		return err
	}
	var records []interface{}
	for _, fact := range facts {
		record := map[string]interface{}{
			"bucket": utils.Uint128ToBigEndianBytes(fact.Bucket),
			"metric": fact.Metric,
		}
		if isDebug {
			annotations := []string{}
			for _, a := range fact.DebugAnnotations {
				annotations = append(annotations, string(a))
			}
			record["unnoised_metric"] = int64(fact.UnnoisedMetric)
			record["annotations"] = annotations
		}
		records = append(records, record)
	}
	return ocf.Append(records)
}

// ReadResults reads an Avro results file back into facts.
func ReadResults(r io.Reader) ([]*reporttypes.AggregatedFact, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, err
	}
	var facts []*reporttypes.AggregatedFact
	for ocf.Scan() {
		datum, err := ocf.Read()
		if err != nil {
			return nil, err
		}
		record, ok := datum.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("expect a result record, got %T", datum)
		}
		bucketBytes, ok := record["bucket"].([]byte)
		if !ok {
			return nil, fmt.Errorf("field 'bucket' of type bytes missing in record")
		}
		bucket, err := utils.BigEndianBytesToUint128(bucketBytes)
		if err != nil {
			return nil, err
		}
		metric, ok := record["metric"].(int64)
		if !ok {
			return nil, fmt.Errorf("field 'metric' of type long missing in record")
		}
		fact := &reporttypes.AggregatedFact{Bucket: bucket, Metric: metric}
		if unnoised, ok := record["unnoised_metric"].(int64); ok {
			fact.UnnoisedMetric = uint64(unnoised)
		}
		if annotations, ok := record["annotations"].([]interface{}); ok {
			for _, a := range annotations {
				if str, ok := a.(string); ok {
					fact.DebugAnnotations = append(fact.DebugAnnotations, reporttypes.DebugBucketAnnotation(str))
				}
			}
		}
		facts = append(facts, fact)
	}
	return facts, ocf.Err()
}
