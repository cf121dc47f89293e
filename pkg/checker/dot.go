package checker

import (
	"fmt"
	"io"

	"github.com/dpor-mc/mc/pkg/request"
	"github.com/dpor-mc/mc/pkg/snapshot"
)

// DotWriter emits the explorer's state graph as Graphviz dot for the
// dot_output CLI option, grounded on
// original_source/src/mc/Checker.cpp's MC_record_state_maps-style
// parent/child edge bookkeeping.
type DotWriter struct {
	w        io.Writer
	wroteHdr bool
}

// NewDotWriter wraps w. The header is written lazily so a checker run
// that never takes a single step still produces a valid, empty graph.
func NewDotWriter(w io.Writer) *DotWriter {
	return &DotWriter{w: w}
}

func (d *DotWriter) header() {
	if d.wroteHdr {
		return
	}
	fmt.Fprintln(d.w, "digraph state_space {")
	d.wroteHdr = true
}

// AddEdge records one forward step: from -> to, labeled with the actor
// and the disambiguating value of the simcall it executed.
func (d *DotWriter) AddEdge(from, to uint64, actor snapshot.ActorID, value request.TransitionKind) {
	d.header()
	fmt.Fprintf(d.w, "  %d -> %d [label=%q];\n", from, to, fmt.Sprintf("%d,%v", actor, value.Kind))
}

// Close terminates the digraph block. Safe to call even if no edges
// were ever written.
func (d *DotWriter) Close() error {
	d.header()
	_, err := fmt.Fprintln(d.w, "}")
	return err
}
