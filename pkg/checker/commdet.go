// Communication-determinism checking: a third property class alongside
// Safety and Liveness, comparing an actor's communication pattern
// across two independently scheduled runs.
// Grounded on original_source/src/mc/mc_comm_determinism.cpp /
// mc_comm_pattern.c, which record each actor's expected send/receive
// pattern on one run and compare it against a second, independently
// scheduled run.
package checker

import (
	"github.com/dpor-mc/mc/pkg/snapshot"
	"github.com/dpor-mc/mc/pkg/visited"
)

// CommDetMismatch describes where two runs' communication patterns
// first diverged.
type CommDetMismatch struct {
	Actor snapshot.ActorID
	Index int
	Want  CommEvent
	Got   CommEvent
}

// CommDetResult is the outcome of comparing two runs.
type CommDetResult struct {
	Deterministic bool
	Mismatch      *CommDetMismatch
}

// CompareCommHistories compares two actors-keyed recordings of
// communication events, in the order each actor performed them,
// reporting the first point of divergence (including one actor's
// sequence ending before the other's).
func CompareCommHistories(a, b map[snapshot.ActorID][]CommEvent) *CommDetResult {
	for actor, wantSeq := range a {
		gotSeq := b[actor]
		for i := range wantSeq {
			if i >= len(gotSeq) {
				return &CommDetResult{Mismatch: &CommDetMismatch{Actor: actor, Index: i, Want: wantSeq[i]}}
			}
			if wantSeq[i] != gotSeq[i] {
				return &CommDetResult{Mismatch: &CommDetMismatch{Actor: actor, Index: i, Want: wantSeq[i], Got: gotSeq[i]}}
			}
		}
		if len(gotSeq) > len(wantSeq) {
			return &CommDetResult{Mismatch: &CommDetMismatch{Actor: actor, Index: len(wantSeq), Got: gotSeq[len(wantSeq)]}}
		}
	}
	return &CommDetResult{Deterministic: true}
}

// RunCommDet drives two independent Safety explorations of app along
// the same reduction/depth settings and compares each actor's
// recorded communication pattern between them, the same DFS shape
// Safety uses per the supplemented feature note in SPEC_FULL.
func RunCommDet(app Application, reduction ReductionMode, maxDepth, checkpointPeriod int, initialSnap1, initialSnap2 *snapshot.Snapshot) (*CommDetResult, error) {
	// Each pass gets its own VisitedSet: the two runs must be free to
	// explore and deduplicate independently of one another. Explore
	// trusts the live application to already be at its initialSnap
	// when called, so each pass restores it there first: otherwise the
	// second pass would start wherever the first pass's DFS left off.
	if err := app.RestoreSnapshot(initialSnap1); err != nil {
		return nil, &Error{Kind: KindIoError, Err: err}
	}
	pass1 := &SafetyChecker{App: app, Visited: visited.New(0), Reduction: reduction, MaxDepth: maxDepth, CheckpointPeriod: checkpointPeriod}
	if _, err := pass1.Explore(initialSnap1); err != nil {
		return nil, err
	}
	first := collectHistories(app, initialSnap1.EnabledActors)

	if err := app.RestoreSnapshot(initialSnap2); err != nil {
		return nil, &Error{Kind: KindIoError, Err: err}
	}
	pass2 := &SafetyChecker{App: app, Visited: visited.New(0), Reduction: reduction, MaxDepth: maxDepth, CheckpointPeriod: checkpointPeriod}
	if _, err := pass2.Explore(initialSnap2); err != nil {
		return nil, err
	}
	second := collectHistories(app, initialSnap2.EnabledActors)

	return CompareCommHistories(first, second), nil
}

func collectHistories(app Application, actors []snapshot.ActorID) map[snapshot.ActorID][]CommEvent {
	out := make(map[snapshot.ActorID][]CommEvent, len(actors))
	for _, a := range actors {
		out[a] = app.CommHistory(a)
	}
	return out
}
