package checker_test

import (
	"testing"

	"github.com/dpor-mc/mc/pkg/addrspace"
	"github.com/dpor-mc/mc/pkg/checker"
	"github.com/dpor-mc/mc/pkg/request"
	"github.com/dpor-mc/mc/pkg/snapshot"
	"github.com/dpor-mc/mc/pkg/visited"
)

// fakeSpace is a flat in-memory AddressSpace, the same minimal harness
// pkg/snapshot's own tests use.
type fakeSpace struct {
	base uint64
	data []byte
}

func (f *fakeSpace) ReadBytes(dst []byte, addr uint64, opts addrspace.ReadOptions) ([]byte, error) {
	off := addr - f.base
	copy(dst, f.data[off:off+uint64(len(dst))])
	return dst, nil
}

func (f *fakeSpace) WriteBytes(addr uint64, src []byte) error {
	off := addr - f.base
	copy(f.data[off:], src)
	return nil
}

func (f *fakeSpace) ClearBytes(addr uint64, n int) error {
	off := addr - f.base
	for i := 0; i < n; i++ {
		f.data[off+uint64(i)] = 0
	}
	return nil
}

// twoActorApp drives two actors, each running a short fixed script of
// request.Kind/Mailbox steps. Each actor's progress (an index into its
// script) is stored as one byte of the fake address space so
// TakeSnapshot/RestoreSnapshot exercise the real Region/Snapshot
// machinery instead of a parallel bookkeeping structure.
type twoActorApp struct {
	space   *fakeSpace
	actors  []snapshot.ActorID
	script  map[snapshot.ActorID][]request.TransitionKind
	history map[snapshot.ActorID][]checker.CommEvent
}

func newTwoActorApp(mboxA, mboxB request.Mailbox) *twoActorApp {
	return &twoActorApp{
		space:  &fakeSpace{base: 0x400000, data: make([]byte, 2)},
		actors: []snapshot.ActorID{0, 1},
		script: map[snapshot.ActorID][]request.TransitionKind{
			0: {{Kind: request.KindCommSend, Mbox: mboxA}},
			1: {{Kind: request.KindCommSend, Mbox: mboxB}},
		},
		history: map[snapshot.ActorID][]checker.CommEvent{},
	}
}

func (a *twoActorApp) progress() []byte {
	buf := make([]byte, len(a.actors))
	a.space.ReadBytes(buf, a.space.base, addrspace.ReadOptions{})
	return buf
}

func (a *twoActorApp) EnabledActors() ([]snapshot.ActorID, error) {
	p := a.progress()
	var out []snapshot.ActorID
	for i, actor := range a.actors {
		if int(p[i]) < len(a.script[actor]) {
			out = append(out, actor)
		}
	}
	return out, nil
}

func (a *twoActorApp) PendingSimcall(actor snapshot.ActorID) (request.PendingSimcall, error) {
	p := a.progress()
	idx := int(p[actor])
	return request.PendingSimcall{Kind: a.script[actor][idx]}, nil
}

func (a *twoActorApp) Execute(actor snapshot.ActorID, t request.Transition) error {
	p := a.progress()
	p[actor]++
	a.space.WriteBytes(a.space.base, p)
	a.history[actor] = append(a.history[actor], checker.CommEvent{Kind: t.Kind.Kind, Mbox: t.Kind.Mbox})
	return nil
}

func (a *twoActorApp) TakeSnapshot(seq uint64) (*snapshot.Snapshot, error) {
	r, err := snapshot.TakeRegion(a.space, a.space.base, a.space.base, len(a.space.data), snapshot.RegionData, nil)
	if err != nil {
		return nil, err
	}
	enabled, _ := a.EnabledActors()
	return &snapshot.Snapshot{Regions: []*snapshot.Region{r}, EnabledActors: enabled, SeqNumber: seq}, nil
}

func (a *twoActorApp) RestoreSnapshot(snap *snapshot.Snapshot) error {
	return snapshot.RestoreRegion(snap.Regions[0], a.space)
}

func (a *twoActorApp) CheckDeadlock() (bool, error) {
	enabled, _ := a.EnabledActors()
	if len(enabled) > 0 {
		return false, nil
	}
	p := a.progress()
	for i, actor := range a.actors {
		if int(p[i]) < len(a.script[actor]) {
			return true, nil
		}
	}
	return false, nil
}

func (a *twoActorApp) CheckPropertyViolation() (bool, string, error) { return false, "", nil }
func (a *twoActorApp) EvaluateProposition(name string) (bool, error) { return false, nil }
func (a *twoActorApp) CommHistory(actor snapshot.ActorID) []checker.CommEvent {
	return a.history[actor]
}
func (a *twoActorApp) Kill() error { return nil }

func runTwoActor(t *testing.T, mboxA, mboxB request.Mailbox, reduction checker.ReductionMode) *checker.Result {
	t.Helper()
	app := newTwoActorApp(mboxA, mboxB)
	initial, err := app.TakeSnapshot(0)
	if err != nil {
		t.Fatal(err)
	}
	c := &checker.SafetyChecker{App: app, Visited: visited.New(0), Reduction: reduction}
	res, err := c.Explore(initial)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestSafetyIndependentSendsDPORExploresFewerStates(t *testing.T) {
	indep := runTwoActor(t, 1, 2, checker.ReductionDPOR)
	if indep.Outcome != checker.OutcomeNoViolation {
		t.Fatalf("expected no violation, got %v", indep.Outcome)
	}
	dep := runTwoActor(t, 1, 1, checker.ReductionDPOR)
	if dep.Outcome != checker.OutcomeNoViolation {
		t.Fatalf("expected no violation, got %v", dep.Outcome)
	}
	if indep.StatesCount >= dep.StatesCount {
		t.Fatalf("independent sends (different mailboxes) should let DPOR skip the reverse interleaving: got %d states vs %d for the dependent (same mailbox) case", indep.StatesCount, dep.StatesCount)
	}
}

func TestSafetyNoneModeExploresAllInterleavings(t *testing.T) {
	none := runTwoActor(t, 1, 2, checker.ReductionNone)
	dpor := runTwoActor(t, 1, 2, checker.ReductionDPOR)
	if none.Outcome != checker.OutcomeNoViolation {
		t.Fatalf("expected no violation, got %v", none.Outcome)
	}
	if none.StatesCount <= dpor.StatesCount {
		t.Fatalf("unreduced exploration of independent sends must visit more states than DPOR: got %d vs %d", none.StatesCount, dpor.StatesCount)
	}
}

// deadlockApp has two actors each permanently blocked on a recv no one
// ever satisfies.
type deadlockApp struct {
	space  *fakeSpace
	actors []snapshot.ActorID
}

func newDeadlockApp() *deadlockApp {
	return &deadlockApp{space: &fakeSpace{base: 0x400000, data: make([]byte, 1)}, actors: []snapshot.ActorID{0, 1}}
}

func (a *deadlockApp) EnabledActors() ([]snapshot.ActorID, error) { return nil, nil }
func (a *deadlockApp) PendingSimcall(actor snapshot.ActorID) (request.PendingSimcall, error) {
	return request.PendingSimcall{}, nil
}
func (a *deadlockApp) Execute(actor snapshot.ActorID, t request.Transition) error { return nil }
func (a *deadlockApp) TakeSnapshot(seq uint64) (*snapshot.Snapshot, error) {
	r, err := snapshot.TakeRegion(a.space, a.space.base, a.space.base, len(a.space.data), snapshot.RegionData, nil)
	if err != nil {
		return nil, err
	}
	return &snapshot.Snapshot{Regions: []*snapshot.Region{r}, SeqNumber: seq}, nil
}
func (a *deadlockApp) RestoreSnapshot(snap *snapshot.Snapshot) error {
	return snapshot.RestoreRegion(snap.Regions[0], a.space)
}
func (a *deadlockApp) CheckDeadlock() (bool, error)                   { return true, nil }
func (a *deadlockApp) CheckPropertyViolation() (bool, string, error)  { return false, "", nil }
func (a *deadlockApp) EvaluateProposition(name string) (bool, error)  { return false, nil }
func (a *deadlockApp) CommHistory(actor snapshot.ActorID) []checker.CommEvent { return nil }
func (a *deadlockApp) Kill() error                                    { return nil }

func TestSafetyDeadlockDetection(t *testing.T) {
	app := newDeadlockApp()
	initial, err := app.TakeSnapshot(0)
	if err != nil {
		t.Fatal(err)
	}
	c := &checker.SafetyChecker{App: app, Visited: visited.New(0), Reduction: checker.ReductionDPOR}
	res, err := c.Explore(initial)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != checker.OutcomeDeadlock {
		t.Fatalf("expected deadlock, got %v", res.Outcome)
	}
	if len(res.Trace) != 0 {
		t.Fatalf("deadlock at the initial state should produce an empty record trace, got %d elements", len(res.Trace))
	}
}
