package proto

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// conn is the minimal read/write capability the codec needs; satisfied
// by net.Conn.
type conn interface {
	io.Reader
	io.Writer
}

// Codec frames messages over a connection: one frameHeader followed by
// exactly Length bytes of payload, little-endian throughout.
type Codec struct {
	r *bufio.Reader
	w io.Writer
}

// NewCodec wraps c for framed message exchange.
func NewCodec(c conn) *Codec {
	return &Codec{r: bufio.NewReader(c), w: c}
}

// ReadMessage reads the next frame and returns its type and decoded
// payload as one of this package's message structs.
func (c *Codec) ReadMessage() (MsgType, interface{}, error) {
	typ, n, err := readHeader(c.r)
	if err != nil {
		return 0, nil, err
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return 0, nil, err
	}
	body := bytes.NewReader(payload)

	switch typ {
	case MsgHello:
		var h Hello
		var ptrSize uint8
		if err := binary.Read(body, binary.LittleEndian, &ptrSize); err != nil {
			return 0, nil, err
		}
		h.PtrSize = ptrSize
		name, err := readString(body)
		if err != nil {
			return 0, nil, err
		}
		h.ArchName = name
		if err := binary.Read(body, binary.LittleEndian, &h.MaxPID); err != nil {
			return 0, nil, err
		}
		return typ, h, nil

	case MsgAssertionFailure:
		msg, err := readString(body)
		if err != nil {
			return 0, nil, err
		}
		return typ, AssertionFailure{Message: msg}, nil

	case MsgWaitingRequests:
		var count uint32
		if err := binary.Read(body, binary.LittleEndian, &count); err != nil {
			return 0, nil, err
		}
		wr := WaitingRequests{Actors: make([]ActorRequest, count)}
		for i := range wr.Actors {
			if err := binary.Read(body, binary.LittleEndian, &wr.Actors[i]); err != nil {
				return 0, nil, err
			}
		}
		return typ, wr, nil

	case MsgIgnoreMemory, MsgIgnoreHeap, MsgUnignoreHeap:
		var mr MemoryRange
		if err := binary.Read(body, binary.LittleEndian, &mr); err != nil {
			return 0, nil, err
		}
		return typ, mr, nil

	case MsgStackRegion:
		var sr StackRegion
		if err := binary.Read(body, binary.LittleEndian, &sr); err != nil {
			return 0, nil, err
		}
		return typ, sr, nil

	case MsgDeclareSymbol:
		name, err := readString(body)
		if err != nil {
			return 0, nil, err
		}
		var addr uint64
		if err := binary.Read(body, binary.LittleEndian, &addr); err != nil {
			return 0, nil, err
		}
		return typ, DeclareSymbol{Name: name, Addr: addr}, nil

	case MsgDeadlockReply:
		var dr DeadlockReply
		if err := binary.Read(body, binary.LittleEndian, &dr); err != nil {
			return 0, nil, err
		}
		return typ, dr, nil

	default:
		return 0, nil, fmt.Errorf("proto: unknown message type %d", typ)
	}
}

// WriteMessage frames and writes msg, a Continue, Restore, or
// DeadlockCheck (the only Checker->Application messages).
func (c *Codec) WriteMessage(msg interface{}) error {
	var buf bytes.Buffer
	var typ MsgType

	switch m := msg.(type) {
	case Continue:
		typ = MsgContinue
		binary.Write(&buf, binary.LittleEndian, m.Actor)
		binary.Write(&buf, binary.LittleEndian, m.TimesConsidered)
	case Restore:
		typ = MsgRestore
		binary.Write(&buf, binary.LittleEndian, m.SeqNumber)
	case DeadlockCheck:
		typ = MsgDeadlockCheck
	default:
		return fmt.Errorf("proto: unsupported outgoing message type %T", msg)
	}

	if err := writeHeader(c.w, typ, buf.Len()); err != nil {
		return err
	}
	_, err := c.w.Write(buf.Bytes())
	return err
}
