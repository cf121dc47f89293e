package checker_test

import (
	"testing"

	"github.com/dpor-mc/mc/pkg/addrspace"
	"github.com/dpor-mc/mc/pkg/checker"
	"github.com/dpor-mc/mc/pkg/request"
	"github.com/dpor-mc/mc/pkg/snapshot"
)

func TestCompareCommHistoriesDetectsFirstMismatch(t *testing.T) {
	a := map[snapshot.ActorID][]checker.CommEvent{
		0: {{Kind: request.KindCommSend, Mbox: 1}, {Kind: request.KindCommSend, Mbox: 2}},
	}
	b := map[snapshot.ActorID][]checker.CommEvent{
		0: {{Kind: request.KindCommSend, Mbox: 1}, {Kind: request.KindCommSend, Mbox: 3}},
	}
	res := checker.CompareCommHistories(a, b)
	if res.Deterministic {
		t.Fatal("expected a mismatch at index 1")
	}
	if res.Mismatch.Actor != 0 || res.Mismatch.Index != 1 {
		t.Fatalf("expected mismatch at actor 0 index 1, got %+v", res.Mismatch)
	}
}

func TestCompareCommHistoriesIdenticalIsDeterministic(t *testing.T) {
	a := map[snapshot.ActorID][]checker.CommEvent{
		0: {{Kind: request.KindCommSend, Mbox: 1}},
		1: {{Kind: request.KindCommRecv, Mbox: 1}},
	}
	b := map[snapshot.ActorID][]checker.CommEvent{
		0: {{Kind: request.KindCommSend, Mbox: 1}},
		1: {{Kind: request.KindCommRecv, Mbox: 1}},
	}
	res := checker.CompareCommHistories(a, b)
	if !res.Deterministic {
		t.Fatalf("expected identical histories to compare deterministic, got mismatch %+v", res.Mismatch)
	}
}

// detApp is a single deterministic actor running a fixed two-step
// script. RestoreSnapshot back to the root (seq 0) clears the recorded
// history, modeling a fresh pass over the same starting state.
type detApp struct {
	space   *fakeSpace
	script  []request.TransitionKind
	history []checker.CommEvent
}

func newDetApp() *detApp {
	return &detApp{
		space:  &fakeSpace{base: 0x400000, data: make([]byte, 1)},
		script: []request.TransitionKind{{Kind: request.KindCommSend, Mbox: 1}, {Kind: request.KindCommSend, Mbox: 2}},
	}
}

func (a *detApp) progress() int {
	buf := make([]byte, 1)
	a.space.ReadBytes(buf, a.space.base, addrspace.ReadOptions{})
	return int(buf[0])
}

func (a *detApp) EnabledActors() ([]snapshot.ActorID, error) {
	if a.progress() < len(a.script) {
		return []snapshot.ActorID{0}, nil
	}
	return nil, nil
}

func (a *detApp) PendingSimcall(actor snapshot.ActorID) (request.PendingSimcall, error) {
	return request.PendingSimcall{Kind: a.script[a.progress()]}, nil
}

func (a *detApp) Execute(actor snapshot.ActorID, t request.Transition) error {
	p := a.progress()
	a.space.WriteBytes(a.space.base, []byte{byte(p + 1)})
	a.history = append(a.history, checker.CommEvent{Kind: t.Kind.Kind, Mbox: t.Kind.Mbox})
	return nil
}

func (a *detApp) TakeSnapshot(seq uint64) (*snapshot.Snapshot, error) {
	r, err := snapshot.TakeRegion(a.space, a.space.base, a.space.base, len(a.space.data), snapshot.RegionData, nil)
	if err != nil {
		return nil, err
	}
	enabled, _ := a.EnabledActors()
	return &snapshot.Snapshot{Regions: []*snapshot.Region{r}, EnabledActors: enabled, SeqNumber: seq}, nil
}

func (a *detApp) RestoreSnapshot(snap *snapshot.Snapshot) error {
	if snap.SeqNumber == 0 {
		a.history = nil
	}
	return snapshot.RestoreRegion(snap.Regions[0], a.space)
}

func (a *detApp) CheckDeadlock() (bool, error)                  { return false, nil }
func (a *detApp) CheckPropertyViolation() (bool, string, error) { return false, "", nil }
func (a *detApp) EvaluateProposition(name string) (bool, error) { return false, nil }
func (a *detApp) CommHistory(actor snapshot.ActorID) []checker.CommEvent {
	if actor != 0 {
		return nil
	}
	return a.history
}
func (a *detApp) Kill() error { return nil }

func TestRunCommDetDeterministicSingleActor(t *testing.T) {
	app := newDetApp()
	initial, err := app.TakeSnapshot(0)
	if err != nil {
		t.Fatal(err)
	}

	res, err := checker.RunCommDet(app, checker.ReductionNone, 0, 0, initial, initial)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Deterministic {
		t.Fatalf("expected a single deterministic actor to produce identical histories, got mismatch %+v", res.Mismatch)
	}
}
