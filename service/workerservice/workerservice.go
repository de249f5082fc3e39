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

// Package workerservice contains the functions needed for handling the aggregation
// jobs a worker pulls from its subscription.
package workerservice

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cloud.google.com/go/pubsub"
	log "github.com/golang/glog"
	"github.com/google/privacy-sandbox-aggregation-worker/service/jobmonitor"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/utils"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/jobs"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/processor"
)

// JobHandler pulls aggregation jobs from a PubSub subscription and runs them.
type JobHandler struct {
	Processor          *processor.Processor
	PubsubSubscription string
	Monitor            *jobmonitor.Monitor

	pubsubClient *pubsub.Client
}

// Setup creates the cloud API clients.
func (h *JobHandler) Setup(ctx context.Context) error {
	project, _, err := utils.ParsePubSubResourceName(h.PubsubSubscription)
	if err != nil {
		return err
	}
	h.pubsubClient, err = pubsub.NewClient(ctx, project)
	return err
}

// Close closes the cloud API clients.
func (h *JobHandler) Close() {
	h.pubsubClient.Close()
}

// SetupPullRequests gets ready to pull jobs contained in a PubSub message
// subscription, and handles each job.
func (h *JobHandler) SetupPullRequests(ctx context.Context) error {
	_, subID, err := utils.ParsePubSubResourceName(h.PubsubSubscription)
	if err != nil {
		return err
	}
	sub := h.pubsubClient.Subscription(subID)

	// Only allow pulling one message at a time to avoid overloading the memory.
	sub.ReceiveSettings.Synchronous = true
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	sub.ReceiveSettings.MaxExtension = 24 * time.Hour // extending from 60min default to 1 day
	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		job := &jobs.Job{}
		if err := json.Unmarshal(msg.Data, job); err != nil {
			log.Error(err)
			msg.Nack()
			return
		}

		retry, err := h.HandleJob(ctx, job)
		if err != nil && retry {
			log.Error(err)
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// HandleJob runs one job and records its result. It reports whether a failure is
// worth retrying through redelivery.
func (h *JobHandler) HandleJob(ctx context.Context, job *jobs.Job) (retry bool, err error) {
	log.Infof("processing job %q", job.JobKey)
	if h.Monitor != nil {
		if err := h.Monitor.MarkStarted(ctx, job.JobKey); err != nil {
			log.Error(err)
		}
	}

	result, err := h.Processor.Process(ctx, job)
	if err != nil {
		var processErr *jobs.ProcessError
		if !errors.As(err, &processErr) {
			return true, err
		}
		result = &jobs.JobResult{
			JobKey: job.JobKey,
			ResultInfo: jobs.ResultInfo{
				ReturnCode:    processErr.Code,
				ReturnMessage: processErr.Message,
				FinishedAt:    time.Now().UTC(),
			},
		}
		// Infrastructure failures are retried through redelivery; the other codes
		// are final for the job.
		retry = processErr.Code == jobs.CodeInternalError
		err = processErr
	}

	if h.Monitor != nil {
		if merr := h.Monitor.RecordResult(ctx, result); merr != nil {
			log.Error(merr)
		}
	}
	log.Infof("job %q finished with code %s", job.JobKey, result.ResultInfo.ReturnCode)
	return retry, err
}
