package checker

import (
	"github.com/dpor-mc/mc/pkg/request"
	"github.com/dpor-mc/mc/pkg/snapshot"
)

// RecordTraceElement is one step of a reproducible counter-example
// trace: an (actor_id, value) pair, where value disambiguates
// multi-branch simcalls.
type RecordTraceElement struct {
	Actor snapshot.ActorID
	Value request.TransitionKind
}

// Outcome classifies how an explorer run ended.
type Outcome int

const (
	OutcomeNoViolation Outcome = iota
	OutcomeDeadlock
	OutcomePropertyViolation
	OutcomeNonTermination
	OutcomeLivenessViolation
	OutcomeMaxDepthAborted
)

// Result is what Explore/liveness search return: the outcome, and for
// any violation the trace that reproduces it.
type Result struct {
	Outcome     Outcome
	Trace       []RecordTraceElement
	Message     string
	StatesCount int
}

// ExitCode maps o to the checker process's exit status: 0 no violation,
// 1 safety violation, 2 liveness violation, 3 deadlock, 4
// non-termination. A max-depth abort is reported as a warning, not a
// violation, so it exits 0 like a clean run.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomePropertyViolation:
		return 1
	case OutcomeLivenessViolation:
		return 2
	case OutcomeDeadlock:
		return 3
	case OutcomeNonTermination:
		return 4
	default:
		return 0
	}
}

// traceOf renders stack's Executed chain as a RecordTraceElement list,
// the format the record_trace / replay path consumes.
func traceOf(stack []*State) []RecordTraceElement {
	var out []RecordTraceElement
	for _, s := range stack {
		if s.Executed == nil {
			continue
		}
		out = append(out, RecordTraceElement{Actor: s.Executed.Actor, Value: s.Executed.Kind})
	}
	return out
}
