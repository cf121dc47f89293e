package proto

import (
	"fmt"

	"github.com/dpor-mc/mc/pkg/checker"
	"github.com/dpor-mc/mc/pkg/request"
	"github.com/dpor-mc/mc/pkg/snapshot"
)

// toTransitionKind converts one wire ActorRequest into request's
// TransitionKind. The wire Kind byte and request.Kind share the same
// numbering (see request.Kind's iota list), so no translation table is
// needed beyond the type conversion.
func toTransitionKind(a ActorRequest) request.TransitionKind {
	return request.TransitionKind{
		Kind:     request.Kind(a.Kind),
		Mbox:     request.Mailbox(a.Mailbox),
		SBuf:     a.SBuf,
		RBuf:     a.RBuf,
		Size:     int(a.Size),
		Tag:      int(a.Tag),
		Sender:   snapshot.ActorID(a.Sender),
		Receiver: snapshot.ActorID(a.Receiver),
		Timeout:  a.Timeout,
		Min:      a.Min,
		Max:      a.Max,
	}
}

// EnabledActors implements checker.Application.
func (s *Session) EnabledActors() ([]snapshot.ActorID, error) {
	return s.remote.EnabledActors(), nil
}

// PendingSimcall implements checker.Application.
func (s *Session) PendingSimcall(actor snapshot.ActorID) (request.PendingSimcall, error) {
	a, ok := s.pending[actor]
	if !ok {
		return request.PendingSimcall{}, fmt.Errorf("proto: actor %d has no pending simcall", actor)
	}
	return request.PendingSimcall{Kind: toTransitionKind(a)}, nil
}

// Execute implements checker.Application: it sends Continue for t's
// actor/branch, then drains every message the application sends until
// the next WaitingRequests, recording comm events and surfacing any
// property violation the driving SafetyChecker will query afterward via
// CheckPropertyViolation.
func (s *Session) Execute(actor snapshot.ActorID, t request.Transition) error {
	s.recordComm(actor, t.Kind)

	if err := s.codec.WriteMessage(Continue{Actor: uint64(actor), TimesConsidered: t.TimesConsidered}); err != nil {
		return fmt.Errorf("proto: sending Continue for actor %d: %w", actor, err)
	}

	s.lastAssertion = ""
	for {
		typ, msg, err := s.codec.ReadMessage()
		if err != nil {
			return fmt.Errorf("proto: reading application response: %w", err)
		}
		switch typ {
		case MsgWaitingRequests:
			s.applyWaitingRequests(msg.(WaitingRequests))
			return nil
		case MsgAssertionFailure:
			s.lastAssertion = msg.(AssertionFailure).Message
		case MsgIgnoreMemory:
			mr := msg.(MemoryRange)
			s.remote.IgnoreMemory(mr.Addr, int(mr.Size))
		case MsgIgnoreHeap:
			mr := msg.(MemoryRange)
			s.remote.IgnoreMemory(mr.Addr, int(mr.Size))
		case MsgUnignoreHeap:
			mr := msg.(MemoryRange)
			s.remote.UnignoreHeap(mr.Addr, int(mr.Size))
		case MsgStackRegion:
			// Stack bounds are not used: CaptureStack unwinds from the
			// live registers. The frame is read and dropped.
		case MsgDeclareSymbol:
			ds := msg.(DeclareSymbol)
			if ds.Name == SymAllocatorHeap {
				s.heapAddr = ds.Addr
			}
		default:
			return fmt.Errorf("proto: unexpected message type %d while executing actor %d", typ, actor)
		}
	}
}

func (s *Session) recordComm(actor snapshot.ActorID, k request.TransitionKind) {
	switch k.Kind {
	case request.KindCommSend, request.KindCommRecv:
		s.history[actor] = append(s.history[actor], checker.CommEvent{
			Kind: k.Kind, Mbox: k.Mbox, Tag: k.Tag, Size: k.Size,
		})
	}
}

// TakeSnapshot implements checker.Application.
func (s *Session) TakeSnapshot(seqNumber uint64) (*snapshot.Snapshot, error) {
	return snapshot.TakeSnapshot(s.remote, seqNumber, s.store, s.sparse, true)
}

// RestoreSnapshot implements checker.Application.
func (s *Session) RestoreSnapshot(snap *snapshot.Snapshot) error {
	if err := snapshot.RestoreSnapshot(snap, s.remote); err != nil {
		return err
	}
	if err := s.codec.WriteMessage(Restore{SeqNumber: snap.SeqNumber}); err != nil {
		return fmt.Errorf("proto: sending Restore for sequence %d: %w", snap.SeqNumber, err)
	}
	for actor := range s.history {
		delete(s.history, actor)
	}
	s.remote.SetEnabledActors(snap.EnabledActors)
	return nil
}

// CheckDeadlock implements checker.Application.
func (s *Session) CheckDeadlock() (bool, error) {
	if err := s.codec.WriteMessage(DeadlockCheck{}); err != nil {
		return false, fmt.Errorf("proto: sending DeadlockCheck: %w", err)
	}
	typ, msg, err := s.codec.ReadMessage()
	if err != nil {
		return false, fmt.Errorf("proto: reading DeadlockCheck reply: %w", err)
	}
	if typ != MsgDeadlockReply {
		return false, fmt.Errorf("proto: expected DeadlockReply, got message type %d", typ)
	}
	return msg.(DeadlockReply).Deadlocked, nil
}

// CheckPropertyViolation implements checker.Application: the most
// recent Execute already drained any AssertionFailure sent as a side
// effect, so this is a plain accessor.
func (s *Session) CheckPropertyViolation() (bool, string, error) {
	if s.lastAssertion == "" {
		return false, "", nil
	}
	return true, s.lastAssertion, nil
}

// EvaluateProposition implements checker.Application by reading the
// named boolean global the application declared for liveness checking.
func (s *Session) EvaluateProposition(name string) (bool, error) {
	buf, err := s.remote.ReadVariable(name, 1)
	if err != nil {
		return false, err
	}
	return buf[0] != 0, nil
}

// CommHistory implements checker.Application.
func (s *Session) CommHistory(actor snapshot.ActorID) []checker.CommEvent {
	return append([]checker.CommEvent(nil), s.history[actor]...)
}

// Kill implements checker.Application.
func (s *Session) Kill() error {
	var firstErr error
	if err := s.remote.Detach(); err != nil {
		firstErr = err
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.conn.Close()
	s.ptmx.Close()
	s.ln.Close()
	if s.cmd.Process != nil {
		_, _ = s.cmd.Process.Wait()
	}
	return firstErr
}
