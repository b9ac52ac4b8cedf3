// Package anomaly injects synthetic per-server latency into a resolver, for
// testing how ranking algorithms react to degraded upstreams. A Queue holds
// an ordered sequence of Anomaly phases; each phase stays active for a
// configured number of queries (or indefinitely) before the queue advances
// to the next one.
package anomaly

import (
	"fmt"
	"regexp"
	"sync"
	"time"
)

// Delayer injects Delay of synthetic latency into queries to any server
// whose name matches Pattern.
type Delayer struct {
	Pattern *regexp.Regexp
	Delay   time.Duration
}

// DelayerConfig is the unparsed form of a Delayer, as read from config.
type DelayerConfig struct {
	Pattern string
	Delay   time.Duration
}

// AnomalyConfig is the unparsed form of an Anomaly phase, as read from
// config.
type AnomalyConfig struct {
	// Limit caps how many queries this phase stays active for; nil means
	// unlimited (it never advances on its own).
	Limit    *int
	Delayers []DelayerConfig
}

// Anomaly is one phase of a Queue: a set of active Delayers and how many
// more queries it should remain active for.
type Anomaly struct {
	Limit    *int
	Delayers []Delayer
}

func (a *Anomaly) exhausted() bool {
	return a.Limit != nil && *a.Limit <= 0
}

// Queue holds a sequence of Anomaly phases and tracks which one, if any, is
// currently active. It's safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	pending []*Anomaly
	current *Anomaly
}

// NewQueue compiles configs into a Queue. A bad regexp pattern is reported
// immediately, at construction, rather than surfacing later at query time.
func NewQueue(configs []AnomalyConfig) (*Queue, error) {
	q := &Queue{}
	for i, cfg := range configs {
		a := &Anomaly{Limit: cfg.Limit}
		for _, d := range cfg.Delayers {
			pat, err := regexp.Compile(d.Pattern)
			if err != nil {
				return nil, fmt.Errorf("anomaly: phase %d: compile pattern %q: %w", i, d.Pattern, err)
			}
			a.Delayers = append(a.Delayers, Delayer{Pattern: pat, Delay: d.Delay})
		}
		q.pending = append(q.pending, a)
	}
	q.advanceLocked()
	return q, nil
}

// advanceLocked implements the queue-advance rule: if the current phase is
// still active (unlimited, or with queries remaining), leave it in place;
// otherwise pop the next pending phase and check again; once pending is
// empty, the queue goes quiet (no delayers).
func (q *Queue) advanceLocked() {
	for {
		if q.current != nil && !q.current.exhausted() {
			return
		}
		if len(q.pending) == 0 {
			q.current = nil
			return
		}
		q.current = q.pending[0]
		q.pending = q.pending[1:]
	}
}

// Delayers returns the currently active delay rules, or nil if the queue is
// quiet. The returned slice is owned by the queue's current phase and must
// not be mutated.
func (q *Queue) Delayers() []Delayer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return nil
	}
	return q.current.Delayers
}

// Consume records n completed queries against the active phase's limit and
// advances the queue if that phase is now exhausted.
func (q *Queue) Consume(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != nil && q.current.Limit != nil {
		*q.current.Limit -= n
	}
	q.advanceLocked()
}
