package checker

import (
	"github.com/dpor-mc/mc/pkg/request"
	"github.com/dpor-mc/mc/pkg/snapshot"
	"github.com/dpor-mc/mc/pkg/visited"
)

// ActorState is the per-actor bookkeeping kept inside a State.
// Status reuses request.Status, the same three-value status already
// defined alongside PendingSimcall/Next.
type ActorState struct {
	Status          request.Status
	TimesConsidered int32
}

// State is one node of the safety DFS.
// Executed is the request chosen to run from this State to produce
// its child, recorded so Backtrack's dependency scan and Replay's
// re-execution can both read it back.
type State struct {
	Seq          uint64
	Actors       map[snapshot.ActorID]*ActorState
	Executed     *request.Transition
	Snapshot     *snapshot.Snapshot
	VisitedEntry *visited.State
}

// interleaveSize counts the actors still marked Todo in s.
func interleaveSize(s *State) int {
	n := 0
	for _, as := range s.Actors {
		if as.Status == request.StatusTodo {
			n++
		}
	}
	return n
}

// sortedTodoActor returns the lowest-numbered actor currently marked
// Todo in s, for deterministic forward-step selection.
func sortedTodoActor(s *State) (snapshot.ActorID, bool) {
	var best snapshot.ActorID
	found := false
	for a, as := range s.Actors {
		if as.Status != request.StatusTodo {
			continue
		}
		if !found || a < best {
			best = a
			found = true
		}
	}
	return best, found
}
