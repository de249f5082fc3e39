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

package budget

import (
	"context"
	"testing"
	"time"

	"github.com/google/privacy-sandbox-aggregation-worker/shared/reporttypes"
)

func testSharedInfo(reportID string, scheduled time.Time) *reporttypes.SharedInfo {
	return &reporttypes.SharedInfo{
		API:                 "attribution-reporting",
		Version:             reporttypes.LatestVersion,
		ReportID:            reportID,
		ReportingOrigin:     "https://adtech.example",
		Destination:         "https://advertiser.example",
		ScheduledReportTime: scheduled,
	}
}

func TestUnitFromSharedInfoDeterministic(t *testing.T) {
	scheduled := time.Unix(7200, 0).UTC()
	// Two reports differing only in report ID share the same unit.
	unit1 := UnitFromSharedInfo(testSharedInfo("0c76932e-6da8-4f16-a1ee-ee1dba57b0ad", scheduled))
	unit2 := UnitFromSharedInfo(testSharedInfo("ca6c9de9-7a29-4777-b15e-61f51a4595b3", scheduled))

	if unit1.Key != unit2.Key {
		t.Errorf("units differ for identical derivations: %q vs %q", unit1.Key, unit2.Key)
	}
	if got, want := len(unit1.Key), 64; got != want {
		t.Errorf("got key length %d, want %d hex characters", got, want)
	}
}

func TestUnitFromSharedInfoWindowTruncatedToHour(t *testing.T) {
	base := time.Unix(7200, 0).UTC()
	unit1 := UnitFromSharedInfo(testSharedInfo("a", base.Add(5*time.Minute)))
	unit2 := UnitFromSharedInfo(testSharedInfo("b", base.Add(59*time.Minute)))
	unit3 := UnitFromSharedInfo(testSharedInfo("c", base.Add(time.Hour)))

	if !unit1.ScheduledReportTime.Equal(base) {
		t.Errorf("got window %v, want %v", unit1.ScheduledReportTime, base)
	}
	if unit1.Key != unit2.Key {
		t.Error("units in the same hour window should share budget")
	}
	if unit1.Key == unit3.Key {
		t.Error("units in different hour windows should not share budget")
	}
}

func TestUnitFromSharedInfoDistinguishesOrigins(t *testing.T) {
	scheduled := time.Unix(7200, 0).UTC()
	info := testSharedInfo("a", scheduled)
	other := testSharedInfo("a", scheduled)
	other.ReportingOrigin = "https://other.example"

	if UnitFromSharedInfo(info).Key == UnitFromSharedInfo(other).Key {
		t.Error("units of different reporting origins should not collide")
	}
}

func TestFakeBridgeDebitsAtomically(t *testing.T) {
	ctx := context.Background()
	bridge := NewFakeBridge()
	unitA := PrivacyBudgetUnit{Key: "a", ScheduledReportTime: time.Unix(0, 0).UTC()}
	unitB := PrivacyBudgetUnit{Key: "b", ScheduledReportTime: time.Unix(0, 0).UTC()}
	bridge.SetPrivacyBudget(unitA, 1)

	// unitB has no budget, so nothing may be debited.
	exhausted, err := bridge.ConsumePrivacyBudget(ctx, []PrivacyBudgetUnit{unitA, unitB}, "https://adtech.example")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(exhausted), 1; got != want {
		t.Fatalf("got %d exhausted units, want %d", got, want)
	}
	if got, want := exhausted[0].Key, "b"; got != want {
		t.Errorf("got exhausted unit %q, want %q", got, want)
	}

	// The failed batch must not have consumed unitA's budget.
	exhausted, err = bridge.ConsumePrivacyBudget(ctx, []PrivacyBudgetUnit{unitA}, "https://adtech.example")
	if err != nil {
		t.Fatal(err)
	}
	if len(exhausted) != 0 {
		t.Errorf("expect unitA budget intact, got exhausted %v", exhausted)
	}

	// A replay then finds unitA exhausted.
	exhausted, err = bridge.ConsumePrivacyBudget(ctx, []PrivacyBudgetUnit{unitA}, "https://adtech.example")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(exhausted), 1; got != want {
		t.Errorf("got %d exhausted units on replay, want %d", got, want)
	}
}

func TestUnlimitedBridge(t *testing.T) {
	exhausted, err := UnlimitedBridge{}.ConsumePrivacyBudget(context.Background(),
		[]PrivacyBudgetUnit{{Key: "a"}}, "https://adtech.example")
	if err != nil {
		t.Fatal(err)
	}
	if len(exhausted) != 0 {
		t.Errorf("expect no exhausted units, got %v", exhausted)
	}
}
