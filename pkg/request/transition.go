// Package request implements simcall scheduling, the Transition
// encoding, and the DPOR dependence predicate. Grounded on
// delve's general "decision point is a small tagged struct"
// convention (its own api.Breakpoint / proc.Thread request shapes)
// and on original_source/src/mc/Transition.cpp /
// mc_request.h for the exact dependence table.
package request

import "github.com/dpor-mc/mc/pkg/snapshot"

// Mailbox identifies a rendezvous point.
type Mailbox int

// CommHandle is an opaque application-side communication handle.
type CommHandle uint64

// Kind discriminates a Transition's payload.
type Kind int

const (
	KindCommSend Kind = iota
	KindCommRecv
	KindCommWait
	KindCommTest
	KindTestAny
	KindWaitAny
	KindRandom
	KindMutex
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindCommSend:
		return "CommSend"
	case KindCommRecv:
		return "CommRecv"
	case KindCommWait:
		return "CommWait"
	case KindCommTest:
		return "CommTest"
	case KindTestAny:
		return "TestAny"
	case KindWaitAny:
		return "WaitAny"
	case KindRandom:
		return "Random"
	case KindMutex:
		return "Mutex"
	default:
		return "Unknown"
	}
}

// kindOrder gives each Kind a total order used to canonicalize a pair
// before applying the dependence table.
var kindOrder = map[Kind]int{
	KindCommSend: 0,
	KindCommRecv: 1,
	KindCommWait: 2,
	KindCommTest: 3,
	KindTestAny:  4,
	KindWaitAny:  5,
	KindRandom:   6,
	KindMutex:    7,
	KindUnknown:  8,
}

// TransitionKind is the discriminated payload of one Transition.
type TransitionKind struct {
	Kind Kind

	// Comm fields, populated according to Kind.
	Comm    CommHandle
	Mbox    Mailbox
	SBuf    uint64
	RBuf    uint64
	Size    int
	Tag     int
	Sender  snapshot.ActorID
	Receiver snapshot.ActorID
	Timeout bool

	// WaitAny/TestAny.
	Sub []TransitionKind

	// Random.
	Min, Max int64
}

// Transition is the decision point in the exploration: which actor
// fires and, for multi-branch simcalls, which branch.
type Transition struct {
	Actor           snapshot.ActorID
	TimesConsidered int32
	Kind            TransitionKind
}

// Status is an actor's scheduling state within a DFS State.
type Status int

const (
	StatusDisabled Status = iota
	StatusTodo
	StatusDone
)

// PendingSimcall is what Next needs to know about one actor's next
// request: its kind, and for multi-branch kinds the set of currently
// enabled sub-transitions or the random range.
type PendingSimcall struct {
	Kind TransitionKind
}

// Next returns the Transition for actor given its pending simcall and
// how many times it has already been considered, advancing
// timesConsidered for multi-branch simcalls (waitany/testany index,
// random value). done is true once every branch has been
// exhausted and the actor should be marked Done.
func Next(actor snapshot.ActorID, pending PendingSimcall, timesConsidered int32) (t Transition, nextTimesConsidered int32, done bool) {
	switch pending.Kind.Kind {
	case KindCommSend, KindCommRecv, KindCommWait, KindCommTest:
		// Uniquely determined: a single consideration exhausts it.
		return Transition{Actor: actor, TimesConsidered: timesConsidered, Kind: pending.Kind}, timesConsidered + 1, true

	case KindWaitAny, KindTestAny:
		subs := pending.Kind.Sub
		if int(timesConsidered) >= len(subs) {
			return Transition{}, timesConsidered, true
		}
		chosen := subs[timesConsidered]
		t = Transition{Actor: actor, TimesConsidered: timesConsidered, Kind: pending.Kind}
		t.Kind.Sub = []TransitionKind{chosen}
		next := timesConsidered + 1
		return t, next, next >= int32(len(subs))

	case KindRandom:
		v := pending.Kind.Min + int64(timesConsidered)
		if v > pending.Kind.Max {
			return Transition{}, timesConsidered, true
		}
		t = Transition{Actor: actor, TimesConsidered: timesConsidered, Kind: pending.Kind}
		t.Kind.Min, t.Kind.Max = v, v
		next := timesConsidered + 1
		return t, next, v+1 > pending.Kind.Max

	default:
		return Transition{Actor: actor, TimesConsidered: timesConsidered, Kind: pending.Kind}, timesConsidered + 1, true
	}
}

// buffersDisjoint reports whether [a, a+size) and [b, b+size) don't overlap.
// A zero address (no buffer) counts as disjoint from anything.
func buffersDisjoint(a, b uint64, size int) bool {
	sz := uint64(size)
	if a == 0 || b == 0 {
		return true
	}
	return a+sz <= b || b+sz <= a
}

// Depends is the dependence predicate used by DPOR. It is
// intentionally symmetric for Send/Recv.
func Depends(a, b TransitionKind) bool {
	ao, bo := kindOrder[a.Kind], kindOrder[b.Kind]
	if ao > bo {
		a, b = b, a
	}

	switch {
	case a.Kind == KindCommSend && b.Kind == KindCommSend:
		return a.Mbox == b.Mbox
	case a.Kind == KindCommRecv && b.Kind == KindCommRecv:
		return a.Mbox == b.Mbox
	case a.Kind == KindCommSend && b.Kind == KindCommRecv:
		return false
	case (a.Kind == KindCommSend || a.Kind == KindCommRecv) && b.Kind == KindCommWait:
		if b.Timeout {
			return true
		}
		if a.Mbox != b.Mbox {
			return false
		}
		// Same mailbox alone isn't enough: the send/recv must be one of
		// the wait's two endpoints, and its matching buffer side must be
		// the exact buffer the wait itself is waiting on.
		if a.Kind == KindCommSend {
			actor := a.Sender
			return (actor == b.Sender || actor == b.Receiver) && a.SBuf == b.SBuf
		}
		actor := a.Receiver
		return (actor == b.Sender || actor == b.Receiver) && a.RBuf == b.RBuf
	case a.Kind == KindCommWait && b.Kind == KindCommWait:
		if a.Timeout || b.Timeout {
			return true
		}
		return !buffersDisjoint(a.SBuf, b.SBuf, a.Size) || !buffersDisjoint(a.RBuf, b.RBuf, a.Size)
	case a.Kind == KindCommWait && b.Kind == KindCommTest:
		// Test-Wait: independent unless the wait has a timeout.
		return a.Timeout
	case a.Kind == KindCommTest && b.Kind == KindCommTest:
		return false
	case a.Kind == KindWaitAny || a.Kind == KindTestAny || b.Kind == KindWaitAny || b.Kind == KindTestAny:
		// Delegate to the sub-transition selected by times_considered:
		// each Sub here holds exactly the chosen branch (see Next).
		sa, sb := a, b
		if a.Kind == KindWaitAny || a.Kind == KindTestAny {
			if len(a.Sub) == 0 {
				return true
			}
			sa = a.Sub[0]
		}
		if b.Kind == KindWaitAny || b.Kind == KindTestAny {
			if len(b.Sub) == 0 {
				return true
			}
			sb = b.Sub[0]
		}
		return Depends(sa, sb)
	default:
		// Conservative default: dependent.
		return true
	}
}
