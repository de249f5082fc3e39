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

package resultlogger

import (
	"context"
	"errors"
	"sync"

	"github.com/google/privacy-sandbox-aggregation-worker/shared/reporttypes"
	"github.com/google/privacy-sandbox-aggregation-worker/worker/jobs"
)

// InMemoryResultLogger keeps the logged facts in memory for assertions.
type InMemoryResultLogger struct {
	mu          sync.Mutex
	results     []*reporttypes.AggregatedFact
	debug       []*reporttypes.AggregatedFact
	logged      bool
	debugLogged bool
	shouldFail  bool
}

// NewInMemoryResultLogger creates an empty in-memory logger.
func NewInMemoryResultLogger() *InMemoryResultLogger {
	return &InMemoryResultLogger{}
}

// SetShouldFail makes every following log call fail.
func (l *InMemoryResultLogger) SetShouldFail(fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shouldFail = fail
}

// LogResults stores the facts.
func (l *InMemoryResultLogger) LogResults(ctx context.Context, facts []*reporttypes.AggregatedFact, job *jobs.Job, isDebugRun bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shouldFail {
		return errors.New("fake result-write failure")
	}
	if isDebugRun {
		l.debug = facts
		l.debugLogged = true
	} else {
		l.results = facts
		l.logged = true
	}
	return nil
}

// HasLogged reports whether a summary output was written.
func (l *InMemoryResultLogger) HasLogged() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logged
}

// MaterializedAggregations returns the summary facts, or an error if no summary was
// written.
func (l *InMemoryResultLogger) MaterializedAggregations() ([]*reporttypes.AggregatedFact, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.logged {
		return nil, errors.New("MaterializedAggregations is nil. Maybe results did not get logged.")
	}
	return l.results, nil
}

// MaterializedDebugAggregations returns the debug facts, or an error if no debug
// output was written.
func (l *InMemoryResultLogger) MaterializedDebugAggregations() ([]*reporttypes.AggregatedFact, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.debugLogged {
		return nil, errors.New("MaterializedDebugAggregations is nil. Maybe results did not get logged.")
	}
	return l.debug, nil
}
