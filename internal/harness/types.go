package harness

import (
	"fmt"
	"strings"
)

// TraceEvent records the outcome of one scenario step.
type TraceEvent struct {
	Step    int    `json:"step"`
	Action  string `json:"action"`
	Replica string `json:"replica"`
	Detail  string `json:"detail,omitempty"`
	Outcome string `json:"outcome"`
}

// String renders the event as one golden line.
func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%02d %s %s", e.Step, e.Action, e.Replica)
	if e.Detail != "" {
		b.WriteString(" ")
		b.WriteString(e.Detail)
	}
	b.WriteString(" -> ")
	b.WriteString(e.Outcome)
	return b.String()
}

// ReplicaState summarizes one replica after the last step.
type ReplicaState struct {
	Replica string `json:"replica"`
	Writers int    `json:"writers"`
	Entries int    `json:"entries"`
	Skips   int    `json:"skips"`
	Hash    string `json:"hash"`
}

// Result is what a scenario run produced. Errors lists every failed
// expectation or assertion; Pass is false exactly when it is non-empty.
type Result struct {
	Pass   bool           `json:"pass"`
	Trace  []TraceEvent   `json:"trace"`
	Errors []string       `json:"errors,omitempty"`
	State  []ReplicaState `json:"state,omitempty"`
}

func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace records the outcome of step i.
func (r *Result) AddTrace(i int, action, replica, detail, outcome string) {
	r.Trace = append(r.Trace, TraceEvent{
		Step:    i,
		Action:  action,
		Replica: replica,
		Detail:  detail,
		Outcome: outcome,
	})
}
