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

// Package budget consumes privacy budget against the distributed privacy-budget
// ledger. Budget is the atom that makes a batch of reports aggregatable exactly
// once: replaying the same reports finds their units exhausted.
package budget

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/privacy-sandbox-aggregation-worker/shared/reporttypes"
	"github.com/google/privacy-sandbox-aggregation-worker/shared/utils"
	"github.com/hashicorp/go-retryablehttp"
)

// PrivacyBudgetUnit is one unit of budget consumption. Reports with the same key
// derivation share budget.
type PrivacyBudgetUnit struct {
	Key string `json:"key"`
	// ScheduledReportTime is truncated to the hour window of the report.
	ScheduledReportTime time.Time `json:"scheduled_report_time"`
}

// UnitFromSharedInfo derives the budget unit of a report. The key is the SHA-256 of
// a fixed-order encoding of the shared_info fields, so identical derivations map to
// the same ledger entry.
func UnitFromSharedInfo(sharedInfo *reporttypes.SharedInfo) PrivacyBudgetUnit {
	window := sharedInfo.ScheduledReportTime.UTC().Truncate(time.Hour)
	h := sha256.New()
	for _, field := range []string{
		sharedInfo.API,
		sharedInfo.Version,
		sharedInfo.ReportingOrigin,
		sharedInfo.Destination,
		strconv.FormatInt(window.Unix(), 10),
	} {
		h.Write([]byte(field))
		h.Write([]byte{'\n'})
	}
	return PrivacyBudgetUnit{
		Key:                 hex.EncodeToString(h.Sum(nil)),
		ScheduledReportTime: window,
	}
}

// StatusCode classifies a budget-service failure.
type StatusCode string

// The failure codes of the budget service client.
const (
	StatusUnauthenticated StatusCode = "PRIVACY_BUDGET_CLIENT_UNAUTHENTICATED"
	StatusUnauthorized    StatusCode = "PRIVACY_BUDGET_CLIENT_UNAUTHORIZED"
	StatusUnknown         StatusCode = "PRIVACY_BUDGET_CLIENT_UNKNOWN"
)

// BridgeError is a typed budget-service failure.
type BridgeError struct {
	Status StatusCode
	Err    error
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("privacy budget service: %s: %v", e.Status, e.Err)
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// ServiceBridge consumes budget for a batch of units.
//
// The consumption is atomic across the batch: either every unit is debited or none
// is. The returned slice holds the units for which budget was not available; an
// empty result means full success and nothing was debited on a non-empty result.
// No job identifier is passed with the batch, so a replay of the same job is not
// recognized as such.
type ServiceBridge interface {
	ConsumePrivacyBudget(ctx context.Context, units []PrivacyBudgetUnit, claimedIdentity string) ([]PrivacyBudgetUnit, error)
}

// HTTPBridge talks to the distributed privacy-budget service over HTTPS.
type HTTPBridge struct {
	endpoint               string
	audience               string
	impersonatedSvcAccount string
	client                 *http.Client
}

// NewHTTPBridge creates a bridge for the given budget-service endpoint.
func NewHTTPBridge(endpoint, audience, impersonatedSvcAccount string) *HTTPBridge {
	return &HTTPBridge{
		endpoint:               endpoint,
		audience:               audience,
		impersonatedSvcAccount: impersonatedSvcAccount,
		client:                 retryablehttp.NewClient().StandardClient(),
	}
}

type consumeRequest struct {
	Units           []PrivacyBudgetUnit `json:"units"`
	ClaimedIdentity string              `json:"claimed_identity"`
}

type consumeResponse struct {
	ExhaustedUnits []PrivacyBudgetUnit `json:"exhausted_units"`
}

// ConsumePrivacyBudget sends the batch to the budget service.
func (b *HTTPBridge) ConsumePrivacyBudget(ctx context.Context, units []PrivacyBudgetUnit, claimedIdentity string) ([]PrivacyBudgetUnit, error) {
	token, err := utils.GetAuthorizationToken(ctx, b.audience, b.impersonatedSvcAccount)
	if err != nil {
		return nil, &BridgeError{Status: StatusUnauthenticated, Err: err}
	}

	body, err := json.Marshal(&consumeRequest{Units: units, ClaimedIdentity: claimedIdentity})
	if err != nil {
		return nil, &BridgeError{Status: StatusUnknown, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &BridgeError{Status: StatusUnknown, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &BridgeError{Status: StatusUnknown, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, &BridgeError{Status: StatusUnauthenticated, Err: fmt.Errorf("budget service returned %s", resp.Status)}
	case http.StatusForbidden:
		return nil, &BridgeError{Status: StatusUnauthorized, Err: fmt.Errorf("budget service returned %s", resp.Status)}
	default:
		return nil, &BridgeError{Status: StatusUnknown, Err: fmt.Errorf("budget service returned %s", resp.Status)}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BridgeError{Status: StatusUnknown, Err: err}
	}
	parsed := &consumeResponse{}
	if err := json.Unmarshal(respBody, parsed); err != nil {
		return nil, &BridgeError{Status: StatusUnknown, Err: err}
	}
	return parsed.ExhaustedUnits, nil
}

// UnlimitedBridge always grants budget. It is meant for deployments without a
// ledger and for tests.
type UnlimitedBridge struct{}

// ConsumePrivacyBudget grants every unit.
func (UnlimitedBridge) ConsumePrivacyBudget(ctx context.Context, units []PrivacyBudgetUnit, claimedIdentity string) ([]PrivacyBudgetUnit, error) {
	return nil, nil
}
