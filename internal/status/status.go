package status

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// Counter aggregates per-watch and per-rule stats.
type Counter struct {
	EventsSeen   int64     `yaml:"events_seen"`
	NoMatch      int64     `yaml:"no_match"`
	Handled      int64     `yaml:"handled"`
	Exhausted    int64     `yaml:"chain_exhausted"`
	GaveUp       int64     `yaml:"attempts_exceeded"`
	ConfigErrors int64     `yaml:"config_errors"`
	Abandoned    int64     `yaml:"abandoned"`
	InFlight     int64     `yaml:"in_flight"`
	LastOutcome  string    `yaml:"last_outcome,omitempty"`
	LastPath     string    `yaml:"last_path,omitempty"`
	LastError    string    `yaml:"last_error,omitempty"`
	LastRun      time.Time `yaml:"last_run,omitempty"`
}

// Outcome names recorded by the tracker.
const (
	OutcomeHandled   = "handled"
	OutcomeExhausted = "chain_exhausted"
	OutcomeGaveUp    = "attempts_exceeded"
	OutcomeConfig    = "config_error"
	OutcomeNoMatch   = "no_match"
	OutcomeAbandoned = "abandoned"
	OutcomeDryRun    = "dry_run"
)

// Tracker counts outcomes under watch keys and rule keys. Safe for
// concurrent use.
type Tracker struct {
	mu       sync.Mutex
	counters map[string]*Counter
	now      func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{counters: map[string]*Counter{}, now: time.Now}
}

// IncEvent counts an event accepted for dispatch and marks it in flight.
func (t *Tracker) IncEvent(watch string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.counter(watch)
	c.EventsSeen++
	c.InFlight++
	c.LastRun = t.now()
}

// Done records the terminal outcome of an event under the watch key and,
// when a rule was selected, under the rule key too.
func (t *Tracker) Done(watch, rule, outcome, path, errStr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at := t.now()
	w := t.counter(watch)
	w.InFlight = max(w.InFlight-1, 0)
	w.record(outcome, path, errStr, at)
	if rule != "" {
		t.counter(rule).record(outcome, path, errStr, at)
	}
}

func (c *Counter) record(outcome, path, errStr string, at time.Time) {
	switch outcome {
	case OutcomeHandled:
		c.Handled++
	case OutcomeExhausted:
		c.Exhausted++
	case OutcomeGaveUp:
		c.GaveUp++
	case OutcomeConfig:
		c.ConfigErrors++
	case OutcomeNoMatch:
		c.NoMatch++
	case OutcomeAbandoned:
		c.Abandoned++
	}
	c.LastOutcome, c.LastPath, c.LastRun = outcome, path, at
	if errStr != "" {
		c.LastError = errStr
	}
}

// Snapshot copies the current counters.
func (t *Tracker) Snapshot() map[string]Counter {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Counter, len(t.counters))
	for key, c := range t.counters {
		out[key] = *c
	}
	return out
}

// Keys returns snapshot keys sorted, so a watch precedes its rules.
func Keys(snap map[string]Counter) []string {
	return slices.Sorted(maps.Keys(snap))
}

func (t *Tracker) counter(key string) *Counter {
	c, ok := t.counters[key]
	if !ok {
		c = &Counter{}
		t.counters[key] = c
	}
	return c
}
