package checker

import (
	"github.com/dpor-mc/mc/pkg/request"
	"github.com/dpor-mc/mc/pkg/snapshot"
)

// CommEvent is one recorded send/recv event used by the
// communication-determinism checker (commdet.go).
type CommEvent struct {
	Kind request.Kind
	Mbox request.Mailbox
	Tag  int
	Size int
}

// Application is what the explorers need from the live, wire-protocol
// driven application: enumerate enabled actors and
// their pending simcall, execute a chosen Transition and drain
// non-visible work, and take/restore Snapshots. It is satisfied by
// pkg/proto.Session; kept as an interface here so pkg/checker never
// imports pkg/proto, the same decoupling pkg/snapshot.Source and
// pkg/unwind.Info already use.
type Application interface {
	// EnabledActors returns the actors that currently have a simcall
	// ready to run. An actor with a blocking request that cannot yet
	// complete (e.g. a recv with no waiting sender) is absent.
	EnabledActors() ([]snapshot.ActorID, error)

	// PendingSimcall returns actor's next simcall, already translated
	// into request.TransitionKind form.
	PendingSimcall(actor snapshot.ActorID) (request.PendingSimcall, error)

	// Execute asks the application to run t and drains any non-visible
	// (internal) work it triggers before returning.
	Execute(actor snapshot.ActorID, t request.Transition) error

	// TakeSnapshot builds a Snapshot of the application's current state.
	TakeSnapshot(seqNumber uint64) (*snapshot.Snapshot, error)

	// RestoreSnapshot puts the application back into a previously
	// captured state, invalidating any cached metadata.
	RestoreSnapshot(snap *snapshot.Snapshot) error

	// CheckDeadlock reports whether the current configuration is a
	// true deadlock: at least one actor exists with an outstanding,
	// never-satisfiable blocking request.
	CheckDeadlock() (bool, error)

	// CheckPropertyViolation reports whether an assertion or other
	// safety property failed as a side effect of the most recent
	// Execute, with a human-readable description.
	CheckPropertyViolation() (bool, string, error)

	// EvaluateProposition evaluates an LTL atomic proposition by name
	// against the application's current state (liveness checker).
	EvaluateProposition(name string) (bool, error)

	// CommHistory returns actor's recorded communication events since
	// the run began (communication-determinism checker).
	CommHistory(actor snapshot.ActorID) []CommEvent

	// Kill terminates the application process, e.g. after a property
	// violation or at the end of a run.
	Kill() error
}
