package harness

import "github.com/roach88/strata/internal/value"

// Outcome strings recorded in the trace.
const (
	OutcomeOK = "ok"
)

// TraceEvent is one executed step as recorded in the trace.
type TraceEvent struct {
	Seq     int64    `json:"seq"`
	Op      string   `json:"op"`
	Outcome string   `json:"outcome"` // "ok" or a faults code
	Entity  string   `json:"entity,omitempty"`
	Count   *int     `json:"count,omitempty"`
	IDs     []string `json:"ids,omitempty"`
}

// toValue converts the event for canonical encoding.
func (e TraceEvent) toValue() value.Object {
	obj := value.Object{
		"seq":     value.Int(e.Seq),
		"op":      value.String(e.Op),
		"outcome": value.String(e.Outcome),
	}
	if e.Entity != "" {
		obj["entity"] = value.String(e.Entity)
	}
	if e.Count != nil {
		obj["count"] = value.Int(*e.Count)
	}
	if e.IDs != nil {
		ids := make(value.List, len(e.IDs))
		for i, id := range e.IDs {
			ids[i] = value.String(id)
		}
		obj["ids"] = ids
	}
	return obj
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per executed step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors describes every failed expectation.
	Errors []string `json:"errors,omitempty"`

	// Commits is how many durable commits the store recorded.
	Commits int `json:"commits"`

	// Published counts events seen on the error channel.
	Published int `json:"published"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
