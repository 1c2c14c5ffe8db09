// Package condition evaluates ordered, AND-aggregated entry conditions over
// a market snapshot and keeps a human-readable reason per condition.
package condition

import (
	"strings"
	"time"

	"momentum-trader/internal/model"
	"momentum-trader/internal/pattern"
)

// Point is one timestamped history sample.
type Point = pattern.Point

// Snapshot is the market view a Set is evaluated against. It is rebuilt by
// the signal evaluator for every update and read-only to conditions.
type Snapshot struct {
	Symbol        string
	Price         float64
	Volume        int64
	VWAP          float64
	Bid           float64
	Ask           float64
	Timestamp     time.Time
	PriceHistory  []Point
	VolumeHistory []Point
	Bars          []model.Candle
}

// Result is one condition's outcome for one evaluation cycle.
// Anchor carries a numeric level the condition produced (the pullback low
// for the breakout condition), or 0.
type Result struct {
	Name   string  `json:"name"`
	Passed bool    `json:"passed"`
	Reason string  `json:"reason"`
	Anchor float64 `json:"anchor,omitempty"`
}

// Condition is a single named check. Implementations hold only immutable
// parameters.
type Condition interface {
	Name() string
	Evaluate(s *Snapshot) Result
}

// Set is an ordered collection of conditions combined with AND.
// A Set is not safe for concurrent use.
type Set struct {
	name    string
	conds   []Condition
	results []Result
}

// NewSet creates an empty set.
func NewSet(name string) *Set {
	return &Set{name: name}
}

// Name returns the set name.
func (s *Set) Name() string { return s.name }

// Add appends a condition. Returns the set for chaining.
func (s *Set) Add(c Condition) *Set {
	s.conds = append(s.conds, c)
	s.results = append(s.results, Result{Name: c.Name()})
	return s
}

// Len returns the number of registered conditions.
func (s *Set) Len() int { return len(s.conds) }

// Evaluate runs the conditions in registration order and reports whether
// every one passed. It stops at the first failure. All result slots are
// cleared first, so conditions after a failure never report a reason left
// over from an earlier cycle.
func (s *Set) Evaluate(snap *Snapshot) bool {
	for i, c := range s.conds {
		s.results[i] = Result{Name: c.Name()}
	}
	if len(s.conds) == 0 {
		return false
	}
	for i, c := range s.conds {
		r := c.Evaluate(snap)
		r.Name = c.Name()
		s.results[i] = r
		if !r.Passed {
			return false
		}
	}
	return true
}

// Results returns a copy of the last cycle's per-condition results.
func (s *Set) Results() []Result {
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}

// Failure returns the result that stopped the last cycle, if any.
func (s *Set) Failure() (Result, bool) {
	for _, r := range s.results {
		if !r.Passed {
			return r, true
		}
	}
	return Result{}, false
}

// TriggerReasons returns the reasons of the passing conditions of the last
// cycle, in registration order.
func (s *Set) TriggerReasons() []string {
	var out []string
	for _, r := range s.results {
		if r.Passed {
			out = append(out, r.Reason)
		}
	}
	return out
}

// TriggerSummary joins TriggerReasons with " | ".
func (s *Set) TriggerSummary() string {
	return strings.Join(s.TriggerReasons(), " | ")
}

// Labeled returns "Name: reason" for each passing condition.
func (s *Set) Labeled() []string {
	var out []string
	for _, r := range s.results {
		if r.Passed {
			out = append(out, r.Name+": "+r.Reason)
		}
	}
	return out
}
