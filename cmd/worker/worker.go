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

// This binary runs the aggregation worker. It either processes one job defined by
// flags, or keeps pulling jobs from a PubSub subscription.
package main

import (
	"context"
	"flag"
	"runtime"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	log "github.com/golang/glog"
	"github.com/google/privacy-sandbox-aggregation-worker/blobstore"
	"github.com/google/privacy-sandbox-aggregation-worker/privacy/budget"
	"github.com/google/privacy-sandbox-aggregation-worker/privacy/noise"
	"github.com/google/privacy-sandbox-aggregation-worker/service/jobmonitor"
	"github.com/google/privacy-sandbox-aggregation-worker/service/workerservice"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/decryption"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/domain"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/jobs"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/keyservice"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/processor"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/resultlogger"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/validation"
)

var (
	pubsubSubscription = flag.String("pubsub_subscription", "", "The PubSub subscription where to pull the aggregation jobs. The value should be a fully qualified subscription URI. When empty, the worker processes the single job defined by the job flags and exits.")

	inputBucket  = flag.String("input_bucket", "", "Bucket (or local directory) holding the report shards of the one-shot job.")
	inputPrefix  = flag.String("input_prefix", "", "Blob prefix of the report shards of the one-shot job.")
	outputBucket = flag.String("output_bucket", "", "Bucket (or local directory) for the results of the one-shot job.")
	outputPrefix = flag.String("output_prefix", "", "Blob prefix of the results of the one-shot job.")

	attributionReportTo         = flag.String("attribution_report_to", "", "Reporting origin claimed by the one-shot job.")
	outputDomainBucket          = flag.String("output_domain_bucket_name", "", "Bucket of the output-domain shards, empty for no domain.")
	outputDomainPrefix          = flag.String("output_domain_blob_prefix", "", "Blob prefix of the output-domain shards.")
	debugRun                    = flag.Bool("debug_run", false, "Whether the one-shot job is a debug run.")
	textOutputDomain            = flag.Bool("text_output_domain", false, "Whether the output-domain shards are text files with one bucket key per line instead of Avro.")
	privateKeyParamsURI         = flag.String("private_key_params_uri", "", "Input file that stores the required parameters to fetch the private keys.")
	keyServiceEndpoint          = flag.String("key_service_endpoint", "", "HTTPS endpoint of the decryption key service. When empty, keys are read through private_key_params_uri.")
	keyServiceAudience          = flag.String("key_service_audience", "", "Audience of the identity token sent to the key service.")
	budgetServiceEndpoint       = flag.String("budget_service_endpoint", "", "HTTPS endpoint of the distributed privacy budget service. When empty, budget is unlimited.")
	budgetServiceAudience       = flag.String("budget_service_audience", "", "Audience of the identity token sent to the budget service.")
	impersonatedSvcAccount      = flag.String("impersonated_svc_account", "", "Service account to impersonate for the authorized calls.")
	monitorProject              = flag.String("monitor_project", "", "GCP project for the Firestore job monitor, empty to disable monitoring.")
	monitorPath                 = flag.String("monitor_path", jobmonitor.ProdPath, "Firestore collection path for the job monitor.")
	epsilon                     = flag.Float64("epsilon", 10, "Total privacy budget for adding noise to the aggregation.")
	delta                       = flag.Float64("delta", 1e-5, "Privacy parameter delta for the noise and threshold derivation.")
	l1Sensitivity               = flag.Uint64("l1_sensitivity", 65536, "L1 sensitivity of the report contributions.")
	noiseDistribution           = flag.String("noise_distribution", "LAPLACE", "Noise distribution: LAPLACE, GAUSSIAN or GEOMETRIC.")
	domainOptional              = flag.Bool("domain_optional", false, "Whether buckets outside the output domain may appear in the summary after thresholding.")
	enableThresholding          = flag.Bool("enable_thresholding", true, "Whether low buckets outside the output domain are thresholded away.")
	reportErrorThresholdDefault = flag.Float64("report_error_threshold_percentage", 10, "Default percentage of reports allowed to fail before a job is aborted, when the job does not set its own threshold.")
	parallelism                 = flag.Int("parallelism", 0, "Number of report shards processed in parallel, defaulting to the number of CPUs.")

	version string // set by linker -X
	build   string // set by linker -X
)

func main() {
	flag.Parse()
	ctx := context.Background()

	buildDate := time.Unix(0, 0)
	if i, err := strconv.ParseInt(build, 10, 64); err != nil {
		log.Error(err)
	} else {
		buildDate = time.Unix(i, 0)
	}
	log.Infof("Running aggregation worker version: %v, build: %v", version, buildDate)

	var (
		blob blobstore.Client
		err  error
	)
	useGCS := *pubsubSubscription != "" || blobstore.IsGCSBucket(*inputBucket)
	if useGCS {
		gcs, err := blobstore.NewGCSClient(ctx)
		if err != nil {
			log.Exit(err)
		}
		defer gcs.Close()
		blob = gcs
	} else {
		blob = blobstore.NewLocalClient()
	}

	var keys keyservice.DecryptionKeyService
	if *keyServiceEndpoint != "" {
		keys = keyservice.NewHTTPKeyService(*keyServiceEndpoint, *keyServiceAudience, *impersonatedSvcAccount)
	} else {
		keys = keyservice.NewCollectionKeyService(*privateKeyParamsURI)
	}

	var bridge budget.ServiceBridge = budget.UnlimitedBridge{}
	if *budgetServiceEndpoint != "" {
		bridge = budget.NewHTTPBridge(*budgetServiceEndpoint, *budgetServiceAudience, *impersonatedSvcAccount)
	}

	workers := *parallelism
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var domainProcessor domain.Processor = domain.NewAvroProcessor(blob, workers)
	if *textOutputDomain {
		domainProcessor = domain.NewTextProcessor(blob, workers)
	}

	proc := &processor.Processor{
		Blob:      blob,
		Decrypter: decryption.NewRecordDecrypter(keys),
		Validators: []validation.ReportValidator{
			validation.ReportVersionValidator{},
			validation.AttributionReportToValidator{},
		},
		DomainProcessor: domainProcessor,
		NoiseRunner: noise.NewRunner(noise.Params{
			Epsilon:       *epsilon,
			Delta:         *delta,
			L1Sensitivity: *l1Sensitivity,
			Distribution:  noise.Distribution(*noiseDistribution),
		}, *domainOptional, *enableThresholding),
		BudgetBridge:                          bridge,
		ResultLogger:                          resultlogger.NewBlobResultLogger(blob),
		Parallelism:                           workers,
		DefaultReportErrorThresholdPercentage: *reportErrorThresholdDefault,
	}

	var monitor *jobmonitor.Monitor
	if *monitorProject != "" {
		client, err := firestore.NewClient(ctx, *monitorProject)
		if err != nil {
			log.Exit(err)
		}
		defer client.Close()
		monitor = &jobmonitor.Monitor{Client: client, Path: *monitorPath}
	}

	handler := &workerservice.JobHandler{
		Processor:          proc,
		PubsubSubscription: *pubsubSubscription,
		Monitor:            monitor,
	}

	if *pubsubSubscription == "" {
		job := oneShotJob()
		if _, err := handler.HandleJob(ctx, job); err != nil {
			log.Exit(err)
		}
		return
	}

	if err = handler.Setup(ctx); err != nil {
		log.Exit(err)
	}
	defer handler.Close()
	log.Infof("Aggregation worker pulling jobs from %s", *pubsubSubscription)
	if err := handler.SetupPullRequests(ctx); err != nil {
		log.Exit(err)
	}
}

func oneShotJob() *jobs.Job {
	params := map[string]string{
		jobs.ParamAttributionReportTo: *attributionReportTo,
	}
	if *outputDomainBucket != "" {
		params[jobs.ParamOutputDomainBucketName] = *outputDomainBucket
		params[jobs.ParamOutputDomainBlobPrefix] = *outputDomainPrefix
	}
	if *debugRun {
		params[jobs.ParamDebugRun] = "true"
	}
	return &jobs.Job{
		JobKey: "one-shot-" + strconv.FormatInt(time.Now().Unix(), 10),
		RequestInfo: jobs.RequestInfo{
			InputDataBucketName:  *inputBucket,
			InputDataBlobPrefix:  *inputPrefix,
			OutputDataBucketName: *outputBucket,
			OutputDataBlobPrefix: *outputPrefix,
			JobParameters:        params,
		},
	}
}
