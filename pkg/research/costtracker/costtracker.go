// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package costtracker is the append-only log of every external call the
// engine makes, LLM or source integration alike (spec §4.3). It is the
// run's only shared mutable state; every write goes through one
// mutex-guarded append inside Tracker (spec §5 "single-writer queue"), so
// callers never take a lock themselves.
package costtracker

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"
)

// Record is one entry in the append-only log, written once per external
// call (spec §4.3 schema).
type Record struct {
	Timestamp      time.Time `json:"timestamp"`
	API            string    `json:"api"`      // "llm" or a source name
	Endpoint       string    `json:"endpoint"` // model name or source operation
	Status         string    `json:"status"`   // "ok", "error", "rate_limited"
	LatencyMS      int64     `json:"latency_ms"`
	Error          string    `json:"error,omitempty"`
	SanitizedParams map[string]string `json:"sanitized_params,omitempty"`
	CostDollars    float64   `json:"cost_dollars,omitempty"`
	CostKnown      bool      `json:"cost_known"`
}

// Stats is an aggregation over the log's current contents.
type Stats struct {
	TotalCalls       int
	CallsPerAPI      map[string]int
	RateLimitedCalls int
	TotalCostDollars float64
	PerModelDollars  map[string]float64
	UnknownCostCalls int
}

// Tracker owns the log. A single instance is shared process-wide for the
// lifetime of a run; all writes funnel through one mutex-guarded append,
// which is the Go idiom for spec §5's "single-writer queue" without a
// separate actor goroutine.
type Tracker struct {
	mu      sync.Mutex
	records []Record
	logPath string
	file    *os.File
}

// New creates a Tracker. If logPath is non-empty, every record is also
// appended as a line of JSON to that file (spec §6 "data/logs/api_requests.jsonl").
func New(logPath string) (*Tracker, error) {
	t := &Tracker{logPath: logPath}
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		t.file = f
	}
	return t, nil
}

// Close releases the backing log file, if any.
func (t *Tracker) Close() error {
	if t.file != nil {
		return t.file.Close()
	}
	return nil
}

// Record appends one call record. Params are masked before storage (spec §6
// "API keys in params must be masked").
func (t *Tracker) Record(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.SanitizedParams != nil {
		for k, v := range rec.SanitizedParams {
			rec.SanitizedParams[k] = MaskCredential(v)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, rec)

	if t.file != nil {
		line, err := json.Marshal(rec)
		if err == nil {
			t.file.Write(append(line, '\n'))
		}
	}
}

// Stats aggregates the log's current contents.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		CallsPerAPI:     make(map[string]int),
		PerModelDollars: make(map[string]float64),
	}
	for _, r := range t.records {
		s.TotalCalls++
		s.CallsPerAPI[r.API]++
		if r.Status == "rate_limited" {
			s.RateLimitedCalls++
		}
		if r.CostKnown {
			s.TotalCostDollars += r.CostDollars
			s.PerModelDollars[r.Endpoint] += r.CostDollars
		} else if r.API == "llm" {
			s.UnknownCostCalls++
		}
	}
	return s
}

// TotalCost returns the running total LLM+source dollar cost, used by the
// orchestrator's budget check (spec §8 property 6).
func (t *Tracker) TotalCost() float64 {
	return t.Stats().TotalCostDollars
}

// Reset clears the in-memory log (the on-disk log, if any, is untouched -
// it is append-only per spec §6). Used between test runs.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = nil
}

// RateLimitWindow reports, for every recorded 429, how many calls to the
// same API preceded it within the given window - the "requests-in-the-
// last-N before a 429" analysis named in spec §4.3, used to reverse-engineer
// an undocumented rate limit from observed behavior.
func (t *Tracker) RateLimitWindow(window time.Duration) []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var counts []int
	for i, r := range t.records {
		if r.Status != "rate_limited" {
			continue
		}
		n := 0
		for j := i - 1; j >= 0; j-- {
			if r.Timestamp.Sub(t.records[j].Timestamp) > window {
				break
			}
			if t.records[j].API == r.API {
				n++
			}
		}
		counts = append(counts, n)
	}
	return counts
}

// MaskCredential replaces the middle of a secret with asterisks, keeping
// just enough of the prefix/suffix for log correlation without leaking the
// value (spec §6 "prefix***suffix").
func MaskCredential(v string) string {
	if !looksLikeSecret(v) {
		return v
	}
	if len(v) <= 8 {
		return "***"
	}
	return v[:4] + "***" + v[len(v)-4:]
}

// looksLikeSecret is a conservative heuristic: only mask values that look
// like API keys/tokens (long, no spaces), so ordinary param values (e.g.
// "Washington DC") pass through untouched in the log.
func looksLikeSecret(v string) bool {
	if len(v) < 16 || strings.Contains(v, " ") {
		return false
	}
	return true
}
