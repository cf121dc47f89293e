// Package proto implements the wire protocol between the checker and
// the traced application, and the Session type that drives an
// application process through it. Grounded on golang-debug's
// program/server request/response framing (one fixed-size header, a
// length-prefixed payload) and on creack/pty for spawning the traced
// program with a controlling terminal, the way other_examples' egg
// server spawns and audits a child process's pty.
package proto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MsgType tags every frame crossing the socket.
type MsgType uint16

const (
	// Application -> Checker.
	MsgHello MsgType = iota + 1
	MsgAssertionFailure
	MsgWaitingRequests
	MsgIgnoreMemory
	MsgIgnoreHeap
	MsgUnignoreHeap
	MsgStackRegion
	MsgDeclareSymbol

	// Checker -> Application.
	MsgContinue
	MsgRestore
	MsgDeadlockCheck

	// Application -> Checker, reply to MsgDeadlockCheck.
	MsgDeadlockReply
)

// frameHeader is the fixed 6-byte prefix of every message: the type tag
// followed by the payload's byte length.
type frameHeader struct {
	Type   MsgType
	Length uint32
}

const headerSize = 2 + 4

func writeHeader(w io.Writer, typ MsgType, payloadLen int) error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], uint16(typ))
	binary.LittleEndian.PutUint32(buf[2:6], uint32(payloadLen))
	_, err := w.Write(buf[:])
	return err
}

func readHeader(r io.Reader) (MsgType, int, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, 0, err
	}
	typ := MsgType(binary.LittleEndian.Uint16(buf[0:2]))
	length := binary.LittleEndian.Uint32(buf[2:6])
	return typ, int(length), nil
}

// Hello announces the application's word size and architecture once at
// connection start.
type Hello struct {
	PtrSize   uint8
	ArchName  string
	MaxPID    uint64
}

// AssertionFailure reports a failed safety property, with a
// human-readable message.
type AssertionFailure struct {
	Message string
}

// WaitingRequests is sent after a Continue has run the application to
// its next suspension point: the set of actors with a pending simcall.
type WaitingRequests struct {
	Actors []ActorRequest
}

// ActorRequest is one actor's pending simcall as seen by the
// application side of the protocol, the over-the-wire twin of
// request.PendingSimcall.
type ActorRequest struct {
	Actor   uint64
	Kind    uint8
	Mailbox int32
	SBuf    uint64
	RBuf    uint64
	Size    int32
	Tag     int32
	Sender  uint64
	Receiver uint64
	Timeout bool
	Min, Max int64
}

// IgnoreMemory/IgnoreHeap/UnignoreHeap all share this payload shape: a
// byte range the checker should exclude from (or re-include in) state
// comparison.
type MemoryRange struct {
	Addr uint64
	Size uint32
}

// StackRegion announces one actor's stack bounds. Session reads and
// discards it; stack capture unwinds from the live registers instead.
type StackRegion struct {
	Actor     uint64
	Low, High uint64
}

// DeclareSymbol announces a well-known global's resolved address, used
// for maxpid, the live/dead actor arrays, and the allocator/property-
// automaton descriptors.
type DeclareSymbol struct {
	Name string
	Addr uint64
}

// Continue resumes the application, running actor's chosen transition
// (TimesConsidered selects the branch for multi-branch simcalls).
type Continue struct {
	Actor           uint64
	TimesConsidered int32
}

// Restore tells the application which previously recorded sequence
// number's state it is now in. Session sends it on every restore, after
// the checker has written the snapshot's memory back itself.
type Restore struct {
	SeqNumber uint64
}

// DeadlockCheck asks the application whether the current configuration
// is a genuine deadlock.
type DeadlockCheck struct{}

// DeadlockReply answers a DeadlockCheck.
type DeadlockReply struct {
	Deadlocked bool
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > 1<<20 {
		return "", fmt.Errorf("proto: string length %d exceeds 1MiB sanity limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
