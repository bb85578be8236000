// Package common provides per-stage timing shared by the pipeline and the CLI.
package common

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Timer measures one named stage.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewNamedTimer starts a timer for the given stage name.
func NewNamedTimer(name string) *Timer {
	return &Timer{
		name:  name,
		start: time.Now(),
	}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// Name returns the stage name.
func (t *Timer) Name() string {
	return t.name
}

func (t *Timer) String() string {
	return fmt.Sprintf("%s: %v", t.name, t.duration)
}

// Timings accumulates stage durations. It is safe for concurrent use.
type Timings struct {
	mu     sync.Mutex
	stages map[string]time.Duration
}

// NewTimings returns an empty accumulator.
func NewTimings() *Timings {
	return &Timings{stages: make(map[string]time.Duration)}
}

// Add records a stopped timer, summing repeated stages.
func (ts *Timings) Add(t *Timer) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.stages[t.name] += t.duration
}

// Milliseconds returns a copy of the accumulated durations in milliseconds.
func (ts *Timings) Milliseconds() map[string]float64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make(map[string]float64, len(ts.stages))
	for k, v := range ts.stages {
		out[k] = float64(v.Microseconds()) / 1000
	}
	return out
}

// String lists stages alphabetically, e.g. "normalize=1.2ms refine=0.4ms".
func (ts *Timings) String() string {
	ms := ts.Milliseconds()
	names := make([]string, 0, len(ms))
	for k := range ms {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%.1fms", k, ms[k])
	}
	return strings.Join(parts, " ")
}
