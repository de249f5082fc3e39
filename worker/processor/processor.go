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

// Package processor runs one aggregation job end to end: it streams the report
// shards through decryption, validation and accumulation in parallel, joins the
// output domain, applies noise and thresholding, consumes privacy budget and
// writes the results.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/golang/glog"
	"github.com/google/privacy-sandbox-aggregation-worker/blobstore"
	"github.com/google/privacy-sandbox-aggregation-worker/privacy/budget"
	"github.com/google/privacy-sandbox-aggregation-worker/privacy/noise"
	"github.com/google/privacy-sandbox-aggregation-worker/protocol/avro"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/reporttypes"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/aggregation"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/decryption"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/domain"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/errorcounter"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/jobs"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/resultlogger"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/validation"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/uint128"
)

// errTooManyErrors stops the shard fan-out when the error threshold is crossed.
var errTooManyErrors = errors.New("report errors exceeded the threshold")

// Processor is the concurrent aggregation processor. All collaborators are
// capability objects configured at construction; tests swap in fakes.
type Processor struct {
	Blob            blobstore.Client
	Decrypter       *decryption.RecordDecrypter
	Validators      []validation.ReportValidator
	DomainProcessor domain.Processor
	NoiseRunner     *noise.Runner
	BudgetBridge    budget.ServiceBridge
	ResultLogger    resultlogger.ResultLogger

	// Parallelism bounds the number of shard pipelines in flight.
	Parallelism int
	// DefaultReportErrorThresholdPercentage applies when the job carries no
	// report_error_threshold_percentage parameter.
	DefaultReportErrorThresholdPercentage float64

	// Clock stamps the job result; tests pin it.
	Clock func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now().UTC()
}

// reportStats tracks the record outcomes of the parallel phase.
type reportStats struct {
	mu                 sync.Mutex
	totalSeen          uint64
	accepted           uint64
	unsupportedVersion uint64
	sampleVersion      string
	shardsDone         int
}

// Process runs the job and returns its result. A fatal failure is returned as a
// *jobs.ProcessError; the caller reports the carried return code.
func (p *Processor) Process(ctx context.Context, job *jobs.Job) (*jobs.JobResult, error) {
	epsilon, err := job.DebugPrivacyEpsilon(p.NoiseRunner.Params.Epsilon)
	if err != nil {
		return nil, err
	}
	threshold, err := job.ReportErrorThresholdPercentage(p.DefaultReportErrorThresholdPercentage)
	if err != nil {
		return nil, err
	}
	domainBucket, domainPrefix := job.OutputDomainLocation()
	if domainBucket == "" && domainPrefix != "" {
		return nil, jobs.NewProcessError(jobs.CodeInvalidJob,
			"output_domain_blob_prefix is set without output_domain_bucket_name", nil)
	}

	shards, err := p.Blob.ListBlobs(ctx, job.RequestInfo.InputDataBucketName, job.RequestInfo.InputDataBlobPrefix)
	if err != nil {
		return nil, jobs.NewProcessError(jobs.CodeInputDataReadFailed, "Exception while reading reports input data.", err)
	}
	if len(shards) == 0 {
		return nil, jobs.NewProcessError(jobs.CodeInputDataReadFailed,
			fmt.Sprintf("No report shards found for location %s/%s", job.RequestInfo.InputDataBucketName, job.RequestInfo.InputDataBlobPrefix), nil)
	}

	engine := aggregation.New()
	counts := errorcounter.NewCounts()
	stats := &reportStats{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism())
	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			if err := p.processShard(gctx, job, shard, engine, counts, stats); err != nil {
				return err
			}
			if exceeded := checkErrorThreshold(counts, stats, threshold); exceeded {
				return errTooManyErrors
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, errTooManyErrors) {
			log.Warningf("job %s quit early, reports with errors exceeded threshold %v%%", job.JobKey, threshold)
			return p.jobResult(job, jobs.CodeReportsWithErrorsExceededThreshold, jobs.MessageReportsWithErrorsExceededThreshold, counts), nil
		}
		var processErr *jobs.ProcessError
		if errors.As(err, &processErr) {
			return nil, processErr
		}
		return nil, jobs.NewProcessError(jobs.CodeInternalError, "Exception while aggregating reports.", err)
	}

	if code := unsupportedVersionFailure(stats); code != nil {
		return nil, code
	}
	stats.mu.Lock()
	log.Infof("job %s: accepted %d of %d reports from %d shards", job.JobKey, stats.accepted, stats.totalSeen, len(shards))
	stats.mu.Unlock()

	var (
		domainBuckets map[uint128.Uint128]bool
		hasDomain     bool
	)
	if domainBucket != "" {
		hasDomain = true
		domainBuckets, err = p.DomainProcessor.ReadAndDedupDomain(ctx, blobstore.DataLocation{Bucket: domainBucket, Prefix: domainPrefix})
		if err != nil {
			return nil, jobs.NewProcessError(jobs.CodeInputDataReadFailed, "Exception while reading domain input data.", err)
		}
	}

	output, err := p.NoiseRunner.Run(engine.Snapshot(), domainBuckets, hasDomain, epsilon, job.IsDebugRun())
	if err != nil {
		return nil, jobs.NewProcessError(jobs.CodeInternalError, "Exception while noising the aggregation.", err)
	}

	overrideCode, overrideMessage, err := p.consumeBudget(ctx, job, engine.PrivacyBudgetUnits())
	if err != nil {
		return nil, err
	}

	if err := p.ResultLogger.LogResults(ctx, output.Facts, job, false); err != nil {
		return nil, jobs.NewProcessError(jobs.CodeResultWriteError, "Exception while writing the job results.", err)
	}
	if job.IsDebugRun() {
		if err := p.ResultLogger.LogResults(ctx, output.DebugFacts, job, true); err != nil {
			return nil, jobs.NewProcessError(jobs.CodeResultWriteError, "Exception while writing the debug job results.", err)
		}
	}

	if saturated := engine.NumSaturatedBuckets(); saturated > 0 {
		log.Warningf("job %s: %d bucket sums capped at the uint64 boundary", job.JobKey, saturated)
	}

	code, message := jobs.CodeSuccess, jobs.MessageSuccess
	if counts.Total() > 0 {
		code, message = jobs.CodeSuccessWithErrors, jobs.MessageSuccessWithErrors
	}
	if overrideCode != "" {
		code, message = overrideCode, overrideMessage
	}
	return p.jobResult(job, code, message, counts), nil
}

func (p *Processor) parallelism() int {
	if p.Parallelism > 0 {
		return p.Parallelism
	}
	return 1
}

// processShard streams one report shard through decode, decrypt, validate and
// accumulate.
func (p *Processor) processShard(ctx context.Context, job *jobs.Job, shard string, engine *aggregation.Engine, counts *errorcounter.Counts, stats *reportStats) error {
	reader, err := p.Blob.NewReader(ctx, job.RequestInfo.InputDataBucketName, shard)
	if err != nil {
		return jobs.NewProcessError(jobs.CodeInputDataReadFailed, "Exception while reading reports input data.", err)
	}
	defer reader.Close()

	reportReader, err := avro.NewReportReader(reader)
	if err != nil {
		return jobs.NewProcessError(jobs.CodeInputDataReadFailed, "Exception while reading reports input data.", err)
	}
	for reportReader.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		encrypted, err := reportReader.Read()
		if err != nil {
			return jobs.NewProcessError(jobs.CodeInputDataReadFailed, "Exception while reading reports input data.", err)
		}
		if err := p.processRecord(ctx, job, encrypted, engine, counts, stats); err != nil {
			return err
		}
	}
	if err := reportReader.Err(); err != nil {
		return jobs.NewProcessError(jobs.CodeInputDataReadFailed, "Exception while reading reports input data.", err)
	}

	stats.mu.Lock()
	stats.shardsDone++
	stats.mu.Unlock()
	return nil
}

// processRecord classifies the outcome of one record: accepted, counted as a
// per-report error, or fatal for the job.
func (p *Processor) processRecord(ctx context.Context, job *jobs.Job, encrypted *reporttypes.EncryptedReport, engine *aggregation.Engine, counts *errorcounter.Counts, stats *reportStats) error {
	stats.mu.Lock()
	stats.totalSeen++
	stats.mu.Unlock()

	report, err := p.Decrypter.DecryptAndDeserialize(ctx, encrypted)
	if err != nil {
		switch decryption.KindOf(err) {
		case decryption.PermissionError:
			return jobs.NewProcessError(jobs.CodePermissionError, "Permission denied fetching the decryption key.", err)
		case decryption.InternalError:
			return jobs.NewProcessError(jobs.CodeInternalError, "Decryption key service unavailable.", err)
		case decryption.ServiceError:
			counts.Add(errorcounter.ServiceError)
		default:
			counts.Add(errorcounter.DecryptionError)
		}
		return nil
	}

	if counter := validation.Validate(report, job, p.Validators); counter != nil {
		counts.Add(*counter)
		if *counter == errorcounter.UnsupportedReportVersion {
			stats.mu.Lock()
			stats.unsupportedVersion++
			stats.sampleVersion = report.SharedInfo.Version
			stats.mu.Unlock()
		}
		return nil
	}

	if err := engine.AcceptReport(report); err != nil {
		counts.Add(errorcounter.DecryptionError)
		return nil
	}
	stats.mu.Lock()
	stats.accepted++
	stats.mu.Unlock()
	return nil
}

// checkErrorThreshold applies the early-exit rule after a full shard has been
// processed.
func checkErrorThreshold(counts *errorcounter.Counts, stats *reportStats, thresholdPercentage float64) bool {
	stats.mu.Lock()
	seen, shardsDone := stats.totalSeen, stats.shardsDone
	stats.mu.Unlock()
	if shardsDone < 1 || seen == 0 {
		return false
	}
	return float64(counts.Total())*100 > thresholdPercentage*float64(seen)
}

// unsupportedVersionFailure fails the job when every report in it carried an
// unsupported shared_info version. A mixed batch only counts the affected reports.
func unsupportedVersionFailure(stats *reportStats) *jobs.ProcessError {
	stats.mu.Lock()
	defer stats.mu.Unlock()
	if stats.totalSeen == 0 || stats.unsupportedVersion != stats.totalSeen {
		return nil
	}
	return jobs.NewProcessError(jobs.CodeUnsupportedReportVersion,
		fmt.Sprintf("Current Aggregation Service deployment does not support Aggregatable reports with shared_info.version %s.", stats.sampleVersion), nil)
}

// consumeBudget debits the deduplicated budget units. In a debug run a budget
// failure downgrades to a success code instead of failing the job.
func (p *Processor) consumeBudget(ctx context.Context, job *jobs.Job, units []budget.PrivacyBudgetUnit) (jobs.ReturnCode, string, error) {
	if len(units) == 0 {
		return "", "", nil
	}

	exhausted, err := p.BudgetBridge.ConsumePrivacyBudget(ctx, units, job.AttributionReportTo())
	if err != nil {
		if job.IsDebugRun() {
			log.Warningf("debug run of job %s proceeding past privacy budget error: %v", job.JobKey, err)
			return jobs.CodeDebugSuccessWithPrivacyBudgetError, fmt.Sprintf("Debug run requested; continuing past privacy budget error: %v", err), nil
		}
		var bridgeErr *budget.BridgeError
		if errors.As(err, &bridgeErr) {
			switch bridgeErr.Status {
			case budget.StatusUnauthenticated:
				return "", "", jobs.NewProcessError(jobs.CodePrivacyBudgetAuthenticationError, "Aggregation service is not authenticated with the privacy budget service.", err)
			case budget.StatusUnauthorized:
				return "", "", jobs.NewProcessError(jobs.CodePrivacyBudgetAuthorizationError, "Aggregation service is not authorized to call the privacy budget service.", err)
			}
		}
		return "", "", jobs.NewProcessError(jobs.CodeInternalError, "Exception while consuming privacy budget.", err)
	}
	if len(exhausted) > 0 {
		if job.IsDebugRun() {
			log.Warningf("debug run of job %s proceeding past exhausted privacy budget for %d units", job.JobKey, len(exhausted))
			return jobs.CodeDebugSuccessWithPrivacyBudgetExhausted, "Debug run requested; continuing past exhausted privacy budget.", nil
		}
		return "", "", jobs.NewProcessError(jobs.CodePrivacyBudgetExhausted,
			fmt.Sprintf("Privacy budget exhausted for %d of %d units.", len(exhausted), len(units)), nil)
	}
	return "", "", nil
}

func (p *Processor) jobResult(job *jobs.Job, code jobs.ReturnCode, message string, counts *errorcounter.Counts) *jobs.JobResult {
	return &jobs.JobResult{
		JobKey: job.JobKey,
		ResultInfo: jobs.ResultInfo{
			ReturnCode:    code,
			ReturnMessage: message,
			FinishedAt:    p.now(),
			ErrorSummary:  counts.Summary(),
		},
	}
}
