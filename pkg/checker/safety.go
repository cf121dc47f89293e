package checker

import (
	"github.com/dpor-mc/mc/pkg/mclog"
	"github.com/dpor-mc/mc/pkg/request"
	"github.com/dpor-mc/mc/pkg/snapshot"
	"github.com/dpor-mc/mc/pkg/visited"
)

// ReductionMode selects how many enabled actors a State marks Todo.
type ReductionMode int

const (
	ReductionNone ReductionMode = iota
	ReductionDPOR
)

// SafetyChecker runs the Safety DFS state machine over app,
// deduplicating via visited and optionally recording a dot graph.
type SafetyChecker struct {
	App              Application
	Visited          *visited.Set
	Reduction        ReductionMode
	MaxDepth         int
	CheckpointPeriod int
	NonTermination   bool
	Dot              *DotWriter
}

// initActorStatuses builds the per-actor map for a freshly assembled
// State, marking one actor Todo under DPOR or every actor Todo
// otherwise (no reduction).
func (c *SafetyChecker) initActorStatuses(enabled []snapshot.ActorID) map[snapshot.ActorID]*ActorState {
	actors := make(map[snapshot.ActorID]*ActorState, len(enabled))
	for i, a := range enabled {
		st := request.StatusDisabled
		if c.Reduction == ReductionNone || i == 0 {
			st = request.StatusTodo
		}
		actors[a] = &ActorState{Status: st}
	}
	return actors
}

// disabledActorStatuses builds a map where every actor is Disabled:
// used for a state whose snapshot is a duplicate of one already in
// VisitedSet, so the forward step immediately finds interleaveSize 0
// and backtracks.
func disabledActorStatuses(enabled []snapshot.ActorID) map[snapshot.ActorID]*ActorState {
	actors := make(map[snapshot.ActorID]*ActorState, len(enabled))
	for _, a := range enabled {
		actors[a] = &ActorState{Status: request.StatusDisabled}
	}
	return actors
}

func (c *SafetyChecker) shouldCheckpoint(seq uint64) bool {
	period := c.CheckpointPeriod
	if period <= 1 {
		return true
	}
	return seq%uint64(period) == 0
}

// Explore runs the Safety DPOR state machine to completion. initialSnap is the application's snapshot at the very start
// of the run (sequence number 0).
func (c *SafetyChecker) Explore(initialSnap *snapshot.Snapshot) (*Result, error) {
	log := mclog.Logger(mclog.Checker)

	root := &State{
		Seq:      0,
		Actors:   c.initActorStatuses(initialSnap.EnabledActors),
		Snapshot: initialSnap,
	}
	stack := []*State{root}
	statesCount := 1

	for len(stack) > 0 {
		top := stack[len(stack)-1]

		if c.MaxDepth > 0 && len(stack) > c.MaxDepth {
			log.Warnf("max depth %d reached at state %d, backtracking", c.MaxDepth, top.Seq)
			var err error
			stack, err = c.backtrackAndReplay(stack)
			if err != nil {
				return nil, err
			}
			continue
		}

		if interleaveSize(top) == 0 {
			if top.Executed == nil {
				deadlocked, err := c.App.CheckDeadlock()
				if err != nil {
					return nil, &Error{Kind: KindProtocolError, Err: err}
				}
				if deadlocked {
					return &Result{Outcome: OutcomeDeadlock, Trace: traceOf(stack), StatesCount: statesCount}, nil
				}
			}
			var err error
			stack, err = c.backtrackAndReplay(stack)
			if err != nil {
				return nil, err
			}
			continue
		}

		actor, ok := sortedTodoActor(top)
		if !ok {
			var err error
			stack, err = c.backtrackAndReplay(stack)
			if err != nil {
				return nil, err
			}
			continue
		}

		pending, err := c.App.PendingSimcall(actor)
		if err != nil {
			return nil, &Error{Kind: KindProtocolError, Err: err}
		}
		if c.Reduction == ReductionDPOR && pending.Kind.Kind == request.KindMutex {
			return nil, ErrMutexUnsupportedUnderDPOR
		}
		as := top.Actors[actor]
		tr, nextTC, done := request.Next(actor, pending, as.TimesConsidered)
		as.TimesConsidered = nextTC
		if done {
			as.Status = request.StatusDone
		}
		top.Executed = &tr

		if err := c.App.Execute(actor, tr); err != nil {
			return nil, &Error{Kind: KindIoError, Err: err}
		}

		if hit, msg, err := c.App.CheckPropertyViolation(); err != nil {
			return nil, &Error{Kind: KindProtocolError, Err: err}
		} else if hit {
			trace := append(traceOf(stack), RecordTraceElement{Actor: actor, Value: tr.Kind})
			return &Result{Outcome: OutcomePropertyViolation, Trace: trace, Message: msg, StatesCount: statesCount}, nil
		}

		seq := top.Seq + 1
		snap, err := c.App.TakeSnapshot(seq)
		if err != nil {
			return nil, &Error{Kind: KindIoError, Err: err}
		}

		if c.NonTermination {
			for _, anc := range stack {
				if anc.Snapshot != nil && snapshot.Equal(anc.Snapshot, snap) {
					trace := append(traceOf(stack), RecordTraceElement{Actor: actor, Value: tr.Kind})
					return &Result{Outcome: OutcomeNonTermination, Trace: trace, StatesCount: statesCount}, nil
				}
			}
		}

		key := visited.Key{NbActors: len(snap.EnabledActors), HeapBytesUsed: snap.HeapBytesUsed}
		existing := c.Visited.Lookup(key, snap)

		var next State
		next.Seq = seq
		if existing == nil {
			next.VisitedEntry = c.Visited.Insert(key, snap)
			next.Actors = c.initActorStatuses(snap.EnabledActors)
		} else {
			next.VisitedEntry = existing
			next.Actors = disabledActorStatuses(snap.EnabledActors)
		}
		if c.shouldCheckpoint(seq) {
			next.Snapshot = snap
		}
		c.Visited.Pin(next.VisitedEntry)

		ns := next
		stack = append(stack, &ns)
		statesCount++

		if c.Dot != nil {
			c.Dot.AddEdge(top.Seq, ns.Seq, actor, tr.Kind)
		}
	}

	return &Result{Outcome: OutcomeNoViolation, StatesCount: statesCount}, nil
}

// backtrack pops states while
// interleave-size is 0, and for each popped state (under DPOR) scan
// ancestors to re-enable a dependent alternative interleaving.
func (c *SafetyChecker) backtrack(stack []*State) []*State {
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if interleaveSize(top) > 0 {
			return stack
		}
		stack = stack[:len(stack)-1]
		if top.VisitedEntry != nil {
			c.Visited.Unpin(top.VisitedEntry)
		}

		if c.Reduction == ReductionDPOR && top.Executed != nil {
			rc := top.Executed
			for i := len(stack) - 1; i >= 0; i-- {
				p := stack[i]
				if p.Executed == nil {
					continue
				}
				if request.Depends(p.Executed.Kind, rc.Kind) {
					if as, ok := p.Actors[rc.Actor]; ok && as.Status != request.StatusDone {
						as.Status = request.StatusTodo
					}
					break
				}
				if p.Executed.Actor == rc.Actor {
					break
				}
			}
		}
	}
	return stack
}

// backtrackAndReplay pops exhausted states and then restores the
// application to match the new top of stack: a
// popped state's Executed advanced the live application past any
// ancestor we may now need to resume exploring from.
func (c *SafetyChecker) backtrackAndReplay(stack []*State) ([]*State, error) {
	next := c.backtrack(stack)
	if len(next) == 0 {
		return next, nil
	}
	if err := Replay(c.App, next); err != nil {
		return nil, err
	}
	return next, nil
}
