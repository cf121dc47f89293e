package checker_test

import (
	"testing"

	"github.com/dpor-mc/mc/pkg/checker"
	"github.com/dpor-mc/mc/pkg/request"
	"github.com/dpor-mc/mc/pkg/snapshot"
)

// loopApp is a single actor that runs forever: every state offers the
// same enabled simcall and executing it never changes observable
// memory, so every Snapshot it produces compares equal. This is the
// minimal harness for exercising an acceptance cycle.
type loopApp struct {
	space *fakeSpace
}

func newLoopApp() *loopApp {
	return &loopApp{space: &fakeSpace{base: 0x400000, data: make([]byte, 1)}}
}

func (a *loopApp) EnabledActors() ([]snapshot.ActorID, error) {
	return []snapshot.ActorID{0}, nil
}
func (a *loopApp) PendingSimcall(actor snapshot.ActorID) (request.PendingSimcall, error) {
	return request.PendingSimcall{Kind: request.TransitionKind{Kind: request.KindCommSend, Mbox: 1}}, nil
}
func (a *loopApp) Execute(actor snapshot.ActorID, t request.Transition) error { return nil }
func (a *loopApp) TakeSnapshot(seq uint64) (*snapshot.Snapshot, error) {
	r, err := snapshot.TakeRegion(a.space, a.space.base, a.space.base, len(a.space.data), snapshot.RegionData, nil)
	if err != nil {
		return nil, err
	}
	return &snapshot.Snapshot{Regions: []*snapshot.Region{r}, EnabledActors: []snapshot.ActorID{0}, SeqNumber: seq}, nil
}
func (a *loopApp) RestoreSnapshot(snap *snapshot.Snapshot) error {
	return snapshot.RestoreRegion(snap.Regions[0], a.space)
}
func (a *loopApp) CheckDeadlock() (bool, error)                  { return false, nil }
func (a *loopApp) CheckPropertyViolation() (bool, string, error) { return false, "", nil }
func (a *loopApp) EvaluateProposition(name string) (bool, error) { return true, nil }
func (a *loopApp) CommHistory(actor snapshot.ActorID) []checker.CommEvent { return nil }
func (a *loopApp) Kill() error                                   { return nil }

func alwaysTrue(map[string]bool) bool { return true }

func TestLivenessAcceptanceCycle(t *testing.T) {
	app := newLoopApp()
	initial, err := app.TakeSnapshot(0)
	if err != nil {
		t.Fatal(err)
	}

	auto := &checker.Automaton{
		States: []checker.AutomatonState{
			{ID: "q0", Initial: true},
			{ID: "accept", Accepting: true},
		},
		Edges: map[string][]checker.AutomatonTransition{
			"q0":     {{To: "accept", Label: alwaysTrue}},
			"accept": {{To: "accept", Label: alwaysTrue}},
		},
	}

	c := &checker.LivenessChecker{App: app, Automaton: auto}
	res, err := c.Explore(initial, []string{"p"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != checker.OutcomeLivenessViolation {
		t.Fatalf("expected a liveness violation (acceptance cycle), got %v", res.Outcome)
	}
	if len(res.Trace) == 0 {
		t.Fatal("expected a non-empty counter-example trace for the acceptance cycle")
	}
}

// TestLivenessFanOutSiblingsAreIndependent covers the case where a
// single forward step satisfies two outgoing automaton edges at once
// (q0 -> branchA and q0 -> branchB), producing two sibling Pairs from
// the same execution step. Each sibling must get its own independent
// State: only branchA's lineage ever reaches the accepting self-loop
// that proves a violation, and branchB carries no further edges at
// all, so if the siblings ever shared one State, branchB marking the
// shared actor Done would make branchA's own actor look already
// exhausted and the real cycle would never be found.
func TestLivenessFanOutSiblingsAreIndependent(t *testing.T) {
	app := newLoopApp()
	initial, err := app.TakeSnapshot(0)
	if err != nil {
		t.Fatal(err)
	}

	auto := &checker.Automaton{
		States: []checker.AutomatonState{
			{ID: "q0", Initial: true},
			{ID: "branchA"},
			{ID: "branchB"},
			{ID: "cycleAccept", Accepting: true},
		},
		Edges: map[string][]checker.AutomatonTransition{
			"q0":          {{To: "branchA", Label: alwaysTrue}, {To: "branchB", Label: alwaysTrue}},
			"branchA":     {{To: "cycleAccept", Label: alwaysTrue}},
			"cycleAccept": {{To: "cycleAccept", Label: alwaysTrue}},
		},
	}

	c := &checker.LivenessChecker{App: app, Automaton: auto}
	res, err := c.Explore(initial, []string{"p"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != checker.OutcomeLivenessViolation {
		t.Fatalf("expected branchA's sibling lineage to reach its own acceptance cycle independently of branchB, got %v", res.Outcome)
	}
}
