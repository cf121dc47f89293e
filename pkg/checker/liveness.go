package checker

import (
	"github.com/dpor-mc/mc/pkg/request"
	"github.com/dpor-mc/mc/pkg/snapshot"
)

// AutomatonState is one Büchi-automaton state of the negated LTL
// property being checked.
type AutomatonState struct {
	ID        string
	Initial   bool
	Accepting bool
}

// AutomatonTransition is one outgoing edge, taken when Label is
// satisfied by the current propositional valuation.
type AutomatonTransition struct {
	To    string
	Label func(props map[string]bool) bool
}

// Automaton is the (typically small, hand-built-from-LTL) property
// automaton driving the liveness search.
type Automaton struct {
	States []AutomatonState
	Edges  map[string][]AutomatonTransition
}

func (a *Automaton) state(id string) AutomatonState {
	for _, s := range a.States {
		if s.ID == id {
			return s
		}
	}
	return AutomatonState{}
}

// Pair couples a State with the automaton state, propositional
// snapshot, and cycle-search bookkeeping the liveness search needs.
type Pair struct {
	App         *State
	Automaton   string
	Props       map[string]bool
	SearchCycle bool
	Depth       uint32
}

func propsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// pairEquals implements the equality Acceptance/VisitedPairs use:
// "(automaton_state, propositional_values, snapshot-equal)".
func pairEquals(a, b *Pair) bool {
	return a.Automaton == b.Automaton && propsEqual(a.Props, b.Props) &&
		a.App.Snapshot != nil && b.App.Snapshot != nil && snapshot.Equal(a.App.Snapshot, b.App.Snapshot)
}

// LivenessChecker runs the automaton-driven pair search.
type LivenessChecker struct {
	App       Application
	Automaton *Automaton
	MaxDepth  int

	acceptance []*Pair
	visited    []*Pair
}

func (c *LivenessChecker) evalProps(names []string) (map[string]bool, error) {
	props := make(map[string]bool, len(names))
	for _, n := range names {
		v, err := c.App.EvaluateProposition(n)
		if err != nil {
			return nil, &Error{Kind: KindProtocolError, Err: err}
		}
		props[n] = v
	}
	return props, nil
}

// Explore runs the pair search to completion. propositionNames lists
// every atomic proposition the automaton's edge labels reference.
func (c *LivenessChecker) Explore(initialSnap *snapshot.Snapshot, propositionNames []string) (*Result, error) {
	props, err := c.evalProps(propositionNames)
	if err != nil {
		return nil, err
	}

	var stack []*Pair
	for _, as := range c.Automaton.States {
		if !as.Initial {
			continue
		}
		root := &State{Seq: 0, Actors: actorsAllTodo(initialSnap.EnabledActors), Snapshot: initialSnap}
		stack = append(stack, &Pair{App: root, Automaton: as.ID, Props: props, SearchCycle: as.Accepting})
	}

	statesCount := 0
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		as := c.Automaton.state(top.Automaton)

		if as.Accepting {
			if dup := findPair(c.acceptance, top); dup != nil {
				return &Result{Outcome: OutcomeLivenessViolation, Trace: livenessTrace(stack), StatesCount: statesCount}, nil
			}
			c.acceptance = append(c.acceptance, top)
		} else if dup := findPair(c.visited, top); dup != nil {
			stack = stack[:len(stack)-1]
			continue
		} else {
			c.visited = append(c.visited, top)
		}

		if c.MaxDepth > 0 && len(stack) > c.MaxDepth {
			return &Result{Outcome: OutcomeMaxDepthAborted, StatesCount: statesCount}, nil
		}

		actor, ok := sortedTodoActor(top.App)
		if !ok {
			stack = stack[:len(stack)-1]
			continue
		}

		pending, err := c.App.PendingSimcall(actor)
		if err != nil {
			return nil, &Error{Kind: KindProtocolError, Err: err}
		}
		pas := top.App.Actors[actor]
		tr, nextTC, done := request.Next(actor, pending, pas.TimesConsidered)
		pas.TimesConsidered = nextTC
		if done {
			pas.Status = request.StatusDone
		}
		top.App.Executed = &tr

		if err := c.App.Execute(actor, tr); err != nil {
			return nil, &Error{Kind: KindIoError, Err: err}
		}

		seq := top.App.Seq + 1
		snap, err := c.App.TakeSnapshot(seq)
		if err != nil {
			return nil, &Error{Kind: KindIoError, Err: err}
		}
		newProps, err := c.evalProps(propositionNames)
		if err != nil {
			return nil, err
		}

		statesCount++

		// Each satisfied outgoing edge produces its own successor Pair,
		// and each must own an independent State: sharing one State
		// (and its Actors map) across siblings would let exploring one
		// sibling's Todo/Executed bookkeeping corrupt the others still
		// waiting on the stack.
		for _, edge := range c.Automaton.Edges[top.Automaton] {
			if !edge.Label(newProps) {
				continue
			}
			dstState := c.Automaton.state(edge.To)
			childState := &State{Seq: seq, Actors: actorsAllTodo(snap.EnabledActors), Snapshot: snap}
			child := &Pair{
				App:         childState,
				Automaton:   edge.To,
				Props:       newProps,
				SearchCycle: top.SearchCycle || dstState.Accepting,
				Depth:       top.Depth + 1,
			}
			stack = append(stack, child)
		}
	}

	return &Result{Outcome: OutcomeNoViolation, StatesCount: statesCount}, nil
}

// actorsAllTodo marks every enabled actor Todo: the liveness search
// does not apply DPOR reduction, "pick one enabled
// simcall of one actor" ranges over the full enabled set across the
// branches already produced by the automaton fan-out above.
func actorsAllTodo(enabled []snapshot.ActorID) map[snapshot.ActorID]*ActorState {
	actors := make(map[snapshot.ActorID]*ActorState, len(enabled))
	for _, a := range enabled {
		actors[a] = &ActorState{Status: request.StatusTodo}
	}
	return actors
}

func findPair(set []*Pair, p *Pair) *Pair {
	for _, cand := range set {
		if cand != p && pairEquals(cand, p) {
			return cand
		}
	}
	return nil
}

func livenessTrace(stack []*Pair) []RecordTraceElement {
	var out []RecordTraceElement
	for _, p := range stack {
		if p.App.Executed == nil {
			continue
		}
		out = append(out, RecordTraceElement{Actor: p.App.Executed.Actor, Value: p.App.Executed.Kind})
	}
	return out
}
