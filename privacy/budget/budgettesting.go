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
	"sync"
	"time"
)

// FakeBridge keeps a budget table in memory. Units without an entry have no budget,
// so an empty fake behaves as a fully exhausted ledger.
type FakeBridge struct {
	mu      sync.Mutex
	budgets map[string]int

	failWith *BridgeError

	lastUnitsSent           []PrivacyBudgetUnit
	lastClaimedIdentitySent string
}

// NewFakeBridge creates a fake bridge with an empty budget table.
func NewFakeBridge() *FakeBridge {
	return &FakeBridge{budgets: make(map[string]int)}
}

func fakeUnitKey(unit PrivacyBudgetUnit) string {
	return unit.Key + "|" + unit.ScheduledReportTime.UTC().Format(time.RFC3339)
}

// SetPrivacyBudget grants the unit the given amount of budget.
func (b *FakeBridge) SetPrivacyBudget(unit PrivacyBudgetUnit, budget int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.budgets[fakeUnitKey(unit)] = budget
}

// SetError makes every following call fail with the given error.
func (b *FakeBridge) SetError(err *BridgeError) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWith = err
}

// LastUnitsSent returns the units of the last call, nil if no call was made.
func (b *FakeBridge) LastUnitsSent() []PrivacyBudgetUnit {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUnitsSent
}

// LastClaimedIdentitySent returns the claimed identity of the last call.
func (b *FakeBridge) LastClaimedIdentitySent() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastClaimedIdentitySent
}

// ConsumePrivacyBudget debits the table, returning the units without budget. The
// debit is all-or-nothing.
func (b *FakeBridge) ConsumePrivacyBudget(ctx context.Context, units []PrivacyBudgetUnit, claimedIdentity string) ([]PrivacyBudgetUnit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return nil, b.failWith
	}
	b.lastUnitsSent = units
	b.lastClaimedIdentitySent = claimedIdentity

	var exhausted []PrivacyBudgetUnit
	for _, unit := range units {
		if b.budgets[fakeUnitKey(unit)] < 1 {
			exhausted = append(exhausted, unit)
		}
	}
	if len(exhausted) > 0 {
		return exhausted, nil
	}
	for _, unit := range units {
		b.budgets[fakeUnitKey(unit)]--
	}
	return nil, nil
}
