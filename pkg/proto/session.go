package proto

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"

	"github.com/dpor-mc/mc/pkg/checker"
	"github.com/dpor-mc/mc/pkg/mclog"
	"github.com/dpor-mc/mc/pkg/pagestore"
	"github.com/dpor-mc/mc/pkg/remote"
	"github.com/dpor-mc/mc/pkg/snapshot"
)

// Well-known symbol names the application declares over DeclareSymbol,
// matching the checker's external interface table. liveAddr/deadAddr/
// propAddr are recorded for diagnostics; the live actor set itself
// arrives explicitly on every WaitingRequests rather than requiring the
// checker to walk the raw array descriptor over ptrace.
const (
	SymMaxPID        = "maxpid"
	SymLiveActors    = "mc_live_actors"
	SymDeadActors    = "mc_dead_actors"
	SymAllocatorHeap = "mc_heap_descriptor"
	SymPropertyAuto  = "mc_property_automaton"
)

// Session drives one traced application process through the wire
// protocol and adapts it to checker.Application. It owns the
// remote.RemoteProcess doing the actual ptrace/memory work and the
// Codec framing the UNIX socket the application connects back on.
type Session struct {
	cmd     *exec.Cmd
	ptmx    *os.File
	ln      net.Listener
	conn    net.Conn
	codec   *Codec
	remote  *remote.RemoteProcess
	options remote.Options
	sparse  bool
	store   *pagestore.Store

	maxPID   uint64
	liveAddr uint64
	deadAddr uint64
	heapAddr uint64
	propAddr uint64
	history       map[snapshot.ActorID][]checker.CommEvent
	pending       map[snapshot.ActorID]ActorRequest
	lastAssertion string

	log *logrus.Entry
}

// SessionOptions configures how Launch spawns and attaches to the
// application.
type SessionOptions struct {
	Program        string
	Args           []string
	SocketPath     string
	RemoteOptions  remote.Options
	SparseCheckpoint bool
}

// Launch starts program under a pty, waits for it to connect back on
// SocketPath, and ptrace-attaches to it.
func Launch(opts SessionOptions) (*Session, error) {
	ln, err := net.Listen("unix", opts.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("proto: listening on %s: %w", opts.SocketPath, err)
	}

	cmd := exec.Command(opts.Program, opts.Args...)
	cmd.Env = append(os.Environ(), "MC_SOCKET_PATH="+opts.SocketPath)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("proto: starting %s under pty: %w", opts.Program, err)
	}

	connCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		connCh <- c
	}()

	var conn net.Conn
	select {
	case conn = <-connCh:
	case err := <-errCh:
		ptmx.Close()
		ln.Close()
		return nil, fmt.Errorf("proto: accepting application connection: %w", err)
	case <-time.After(30 * time.Second):
		ptmx.Close()
		ln.Close()
		return nil, fmt.Errorf("proto: timed out waiting for %s to connect", opts.Program)
	}

	rp, err := remote.Attach(cmd.Process.Pid, opts.RemoteOptions)
	if err != nil {
		conn.Close()
		ptmx.Close()
		ln.Close()
		return nil, err
	}

	s := &Session{
		cmd:     cmd,
		ptmx:    ptmx,
		ln:      ln,
		conn:    conn,
		codec:   NewCodec(conn),
		remote:  rp,
		options: opts.RemoteOptions,
		sparse:  opts.SparseCheckpoint,
		store:   pagestore.New(),
		history: make(map[snapshot.ActorID][]checker.CommEvent),
		log:     mclog.Logger(mclog.Proto),
	}
	if err := s.handshake(); err != nil {
		s.Kill()
		return nil, err
	}
	return s, nil
}

// handshake consumes the initial Hello and every DeclareSymbol the
// application sends before its first WaitingRequests.
func (s *Session) handshake() error {
	typ, msg, err := s.codec.ReadMessage()
	if err != nil {
		return fmt.Errorf("proto: reading Hello: %w", err)
	}
	if typ != MsgHello {
		return fmt.Errorf("proto: expected Hello, got message type %d", typ)
	}
	hello := msg.(Hello)
	s.maxPID = hello.MaxPID

	for {
		typ, msg, err := s.codec.ReadMessage()
		if err != nil {
			return fmt.Errorf("proto: reading handshake symbols: %w", err)
		}
		switch typ {
		case MsgDeclareSymbol:
			ds := msg.(DeclareSymbol)
			switch ds.Name {
			case SymLiveActors:
				s.liveAddr = ds.Addr
			case SymDeadActors:
				s.deadAddr = ds.Addr
			case SymAllocatorHeap:
				s.heapAddr = ds.Addr
			case SymPropertyAuto:
				s.propAddr = ds.Addr
			case SymMaxPID:
				s.maxPID = ds.Addr
			}
		case MsgWaitingRequests:
			s.applyWaitingRequests(msg.(WaitingRequests))
			return nil
		default:
			return fmt.Errorf("proto: unexpected message type %d during handshake", typ)
		}
	}
}

func (s *Session) applyWaitingRequests(wr WaitingRequests) {
	ids := make([]snapshot.ActorID, len(wr.Actors))
	for i, a := range wr.Actors {
		ids[i] = snapshot.ActorID(a.Actor)
	}
	s.remote.SetEnabledActors(ids)
	s.pending = make(map[snapshot.ActorID]ActorRequest, len(wr.Actors))
	for _, a := range wr.Actors {
		s.pending[snapshot.ActorID(a.Actor)] = a
	}
}
