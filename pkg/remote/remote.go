// Package remote implements RemoteProcess: the live, ptrace-attached
// application the checker inspects and steps through /proc/<pid>/mem and
// ptrace register access. Grounded on golang-debug's program/server
// package, which attaches to a traced process the same way (ptrace
// attach, /proc/<pid>/maps parsing, /proc/<pid>/mem for bulk reads) and
// on delve's pkg/proc for the BinaryInfo-per-module / unwind.Info
// wiring shape.
package remote

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/dpor-mc/mc/pkg/addrspace"
	"github.com/dpor-mc/mc/pkg/dwarf/frame"
	"github.com/dpor-mc/mc/pkg/dwarfdt"
	"github.com/dpor-mc/mc/pkg/mclog"
	"github.com/dpor-mc/mc/pkg/objfile"
	"github.com/dpor-mc/mc/pkg/snapshot"
	"github.com/dpor-mc/mc/pkg/unwind"
)

// ignoredRange mirrors the snapshot.Source IgnoredRanges element shape
// (an anonymous struct there, so we keep an identically-shaped local
// type and convert at the boundary).
type ignoredRange struct {
	Addr uint64
	Size int
}

// Module pairs a loaded ObjectInfo with the mapping metadata
// objfile.GroupModules produced it from.
type Module struct {
	Info *dwarfdt.ObjectInfo
	obj  *objfile.Module
	cfi  *frame.Table
}

// RemoteProcess is the checker's live handle on the application process:
// ptrace register access plus /proc/<pid>/mem bulk memory I/O, backed by
// the debug information loaded for every mapped module.
type RemoteProcess struct {
	pid int
	mem *os.File
	pt  *ptraceThread

	loader dwarfdt.Loader

	mu            sync.Mutex
	modules       []*Module
	mainModule    *Module
	ptrSize       int
	regTranslate  func(dwarfRegNum uint64) int
	pcReg, spReg  uint64
	bpReg, lrReg  uint64
	retAddrReg    uint64
	usesLR        bool

	ignored []ignoredRange
	enabled []snapshot.ActorID

	heapStart uint64
	heapSize  int
	heapUsed  uint64

	log *logrus.Entry
}

// Options configures architecture-specific register numbering, since
// RemoteProcess itself stays arch-agnostic the way pkg/unwind does.
type Options struct {
	Loader       dwarfdt.Loader
	PtrSize      int
	PCReg, SPReg uint64
	BPReg, LRReg uint64
	RetAddrReg   uint64
	UsesLR       bool
	Translate    func(dwarfRegNum uint64) int
}

// Attach ptrace-attaches to an already-running pid and loads debug info
// for every mapped, non-deny-listed module found in /proc/<pid>/maps.
func Attach(pid int, opts Options) (*RemoteProcess, error) {
	pt := newPtraceThread()
	if err := pt.attach(pid); err != nil {
		return nil, fmt.Errorf("remote: ptrace attach pid %d: %w", pid, err)
	}
	if _, err := pt.wait(pid); err != nil {
		return nil, fmt.Errorf("remote: waiting for initial stop: %w", err)
	}

	memPath := fmt.Sprintf("/proc/%d/mem", pid)
	mem, err := os.OpenFile(memPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("remote: opening %s: %w", memPath, err)
	}

	rp := &RemoteProcess{
		pid:          pid,
		mem:          mem,
		pt:           pt,
		loader:       opts.Loader,
		ptrSize:      opts.PtrSize,
		regTranslate: opts.Translate,
		pcReg:        opts.PCReg,
		spReg:        opts.SPReg,
		bpReg:        opts.BPReg,
		lrReg:        opts.LRReg,
		retAddrReg:   opts.RetAddrReg,
		usesLR:       opts.UsesLR,
		log:          mclog.Logger(mclog.Remote),
	}
	if err := rp.loadModules(); err != nil {
		mem.Close()
		pt.detach(pid)
		return nil, err
	}
	return rp, nil
}

func (r *RemoteProcess) loadModules() error {
	mapsPath := fmt.Sprintf("/proc/%d/maps", r.pid)
	f, err := os.Open(mapsPath)
	if err != nil {
		return fmt.Errorf("remote: opening %s: %w", mapsPath, err)
	}
	defer f.Close()

	mappings, err := objfile.ParseMaps(f)
	if err != nil {
		return fmt.Errorf("remote: parsing %s: %w", mapsPath, err)
	}
	groups := objfile.GroupModules(mappings)

	for i, g := range groups {
		executable := i == 0
		info, err := g.Load(r.loader, executable)
		if err != nil {
			r.log.Warnf("remote: skipping module %s without usable debug info: %v", g.Path, err)
			continue
		}
		mod := &Module{Info: info, obj: g}
		mod.cfi = dwarfdt.BuildFrameTable(info, r.bpReg, r.bpReg, r.retAddrReg, r.ptrSize)
		r.modules = append(r.modules, mod)
		if executable {
			r.mainModule = mod
		}
	}
	if r.mainModule == nil && len(r.modules) > 0 {
		r.mainModule = r.modules[0]
	}
	return nil
}

// PID is the traced process's process id.
func (r *RemoteProcess) PID() int { return r.pid }

// ReadBytes implements addrspace.AddressSpace via pread on /proc/<pid>/mem.
func (r *RemoteProcess) ReadBytes(dst []byte, addr uint64, _ addrspace.ReadOptions) ([]byte, error) {
	n, err := r.mem.ReadAt(dst, int64(addr))
	if n == len(dst) {
		return dst, nil
	}
	if err != nil {
		return nil, fmt.Errorf("remote: reading %d bytes at %#x: %w", len(dst), addr, err)
	}
	return nil, &addrspace.ErrShortRead{Addr: addr, Want: len(dst), Got: n}
}

// WriteBytes implements addrspace.Writer via pwrite on /proc/<pid>/mem.
func (r *RemoteProcess) WriteBytes(addr uint64, src []byte) error {
	n, err := r.mem.WriteAt(src, int64(addr))
	if err != nil {
		return fmt.Errorf("remote: writing %d bytes at %#x: %w", len(src), addr, err)
	}
	if n != len(src) {
		return &addrspace.ErrShortRead{Addr: addr, Want: len(src), Got: n}
	}
	return nil
}

// ClearBytes zeroes n bytes at addr, used by the snapshot ignore mechanism.
func (r *RemoteProcess) ClearBytes(addr uint64, n int) error {
	return r.WriteBytes(addr, make([]byte, n))
}

// ReadString reads a NUL-terminated C string at addr, growing its read
// buffer in fixed chunks until the terminator is found.
func (r *RemoteProcess) ReadString(addr uint64) (string, error) {
	const chunk = 64
	var out []byte
	for off := uint64(0); ; off += chunk {
		buf := make([]byte, chunk)
		got, err := r.ReadBytes(buf, addr+off, addrspace.ReadOptions{})
		if err != nil {
			return "", err
		}
		if i := indexByte(got, 0); i >= 0 {
			return string(append(out, got[:i]...)), nil
		}
		out = append(out, got...)
		if off > 1<<20 {
			return "", fmt.Errorf("remote: string at %#x exceeds 1MiB without a terminator", addr)
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// FindFunction resolves addr to the Frame (function) that contains it,
// the find_function RemoteProcess operation.
func (r *RemoteProcess) FindFunction(addr uint64) *dwarfdt.Frame {
	return r.FindFrame(addr)
}

// FindObjectInfo returns the ObjectInfo owning addr, or nil, the
// find_object_info RemoteProcess operation.
func (r *RemoteProcess) FindObjectInfo(addr uint64) *dwarfdt.ObjectInfo {
	for _, m := range r.modules {
		if addr >= m.obj.Mappings[0].Low && addr < m.obj.Mappings[len(m.obj.Mappings)-1].High {
			return m.Info
		}
	}
	return nil
}

// ReadVariable reads a global variable's raw bytes by name from the main
// module, the read_variable operation.
func (r *RemoteProcess) ReadVariable(name string, size int) ([]byte, error) {
	if r.mainModule == nil {
		return nil, fmt.Errorf("remote: no main module loaded")
	}
	v := r.mainModule.Info.FindGlobal(name)
	if v == nil {
		return nil, fmt.Errorf("remote: variable %q not found", name)
	}
	if !v.HasAddr {
		return nil, fmt.Errorf("remote: variable %q has no fixed address", name)
	}
	buf := make([]byte, size)
	return r.ReadBytes(buf, v.Addr+r.mainModule.Info.BaseAddr, addrspace.ReadOptions{})
}

// IgnoreMemory registers a byte range excluded from state comparison.
// Ranges are kept sorted by address and adjacent/overlapping ranges are
// merged, mirroring how the source collapses the ignore list.
func (r *RemoteProcess) IgnoreMemory(addr uint64, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ignored = append(r.ignored, ignoredRange{Addr: addr, Size: size})
	sort.Slice(r.ignored, func(i, j int) bool { return r.ignored[i].Addr < r.ignored[j].Addr })
	merged := r.ignored[:0]
	for _, rg := range r.ignored {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if rg.Addr <= last.Addr+uint64(last.Size) {
				end := last.Addr + uint64(last.Size)
				if rgEnd := rg.Addr + uint64(rg.Size); rgEnd > end {
					last.Size = int(rgEnd - last.Addr)
				}
				continue
			}
		}
		merged = append(merged, rg)
	}
	r.ignored = merged
}

// UnignoreHeap removes every previously ignored range within [addr,
// addr+size), the counterpart to IgnoreMemory used when a heap chunk is
// freed and its memory becomes significant to state comparison again.
func (r *RemoteProcess) UnignoreHeap(addr uint64, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	end := addr + uint64(size)
	var kept []ignoredRange
	for _, rg := range r.ignored {
		if rg.Addr >= addr && rg.Addr+uint64(rg.Size) <= end {
			continue
		}
		kept = append(kept, rg)
	}
	r.ignored = kept
}

// IgnoredRanges implements snapshot.Source.
func (r *RemoteProcess) IgnoredRanges() []struct {
	Addr uint64
	Size int
} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]struct {
		Addr uint64
		Size int
	}, len(r.ignored))
	for i, rg := range r.ignored {
		out[i] = struct {
			Addr uint64
			Size int
		}{rg.Addr, rg.Size}
	}
	return out
}

// SetEnabledActors is called by the protocol session with the actor set
// each WaitingRequests message carries, and after a snapshot restore.
func (r *RemoteProcess) SetEnabledActors(ids []snapshot.ActorID) {
	r.mu.Lock()
	r.enabled = ids
	r.mu.Unlock()
}

// EnabledActors implements snapshot.Source.
func (r *RemoteProcess) EnabledActors() []snapshot.ActorID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]snapshot.ActorID(nil), r.enabled...)
}

// DataRegions implements snapshot.Source using the main module's
// writable data segment.
func (r *RemoteProcess) DataRegions() (startAddr, permanentAddr uint64, size int) {
	if r.mainModule == nil {
		return 0, 0, 0
	}
	start, sz := r.mainModule.obj.RWRange()
	return start, start, sz
}

// HeapRegion implements snapshot.Source. The checker tracks heap usage
// through the application's allocator descriptor symbol rather than
// computing it locally, so the byte count is whatever was last passed
// to SetHeapRegion; RemoteProcess only reports the region's
// address span here. The returned size is the full heap span, not
// trimmed to bytesUsed: snapshot.Equal is the layer that skips free
// fragments, bounding its heap comparison to bytesUsed bytes, since the
// Region itself still needs to capture the whole span (a later restore
// must put every live byte back, even ones past the current high-water
// mark if the target state used more heap).
func (r *RemoteProcess) HeapRegion() (startAddr, permanentAddr uint64, size int, bytesUsed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heapStart, r.heapStart, r.heapSize, r.heapUsed
}

// SetHeapRegion records the application-reported heap span and current
// usage ahead of the next TakeSnapshot.
func (r *RemoteProcess) SetHeapRegion(start uint64, size int, used uint64) {
	r.mu.Lock()
	r.heapStart, r.heapSize, r.heapUsed = start, size, used
	r.mu.Unlock()
}

// CaptureStack reads the live registers through registersFor and unwinds
// the call stack from them. Every actor gets the registers of the one
// traced thread at the current suspension point; actor does not select
// a different register block.
func (r *RemoteProcess) CaptureStack(actor snapshot.ActorID) (*unwind.Registers, []unwind.StackFrame, error) {
	regs, err := r.registersFor(actor)
	if err != nil {
		return nil, nil, err
	}
	u := unwind.New(r, r, regs)
	frames, err := u.Walk(0)
	return regs, frames, err
}

// registersFor reads the live ptrace register set for the thread
// backing actor. In this single-threaded cooperative model there is
// exactly one underlying OS thread, so actor only selects which saved
// register snapshot callers expect back; the live GETREGS call always
// reflects whichever actor is currently scheduled at the suspension
// point.
func (r *RemoteProcess) registersFor(actor snapshot.ActorID) (*unwind.Registers, error) {
	var raw unix.PtraceRegs
	if err := r.pt.getRegs(r.pid, &raw); err != nil {
		return nil, fmt.Errorf("remote: reading registers for actor %d: %w", actor, err)
	}
	regs := unwind.NewRegisters(r.pcReg, r.spReg, r.bpReg, r.lrReg, r.usesLR)
	fillArchRegisters(regs, &raw)
	regs.ChangeFunc = func(dwarfRegNum uint64, v uint64) error {
		setArchRegister(&raw, dwarfRegNum, v)
		return r.pt.setRegs(r.pid, &raw)
	}
	return regs, nil
}

// FindFrame implements unwind.Info.
func (r *RemoteProcess) FindFrame(pc uint64) *dwarfdt.Frame {
	oi := r.FindObjectInfo(pc)
	if oi == nil {
		return nil
	}
	base := oi.BaseAddr
	return oi.FindFunction(pc - base)
}

// FrameEntries implements unwind.Info.
func (r *RemoteProcess) FrameEntries(pc uint64) *frame.Table {
	oi := r.FindObjectInfo(pc)
	for _, m := range r.modules {
		if m.Info == oi {
			return m.cfi
		}
	}
	return nil
}

// ModuleBase implements unwind.Info.
func (r *RemoteProcess) ModuleBase(pc uint64) uint64 {
	if oi := r.FindObjectInfo(pc); oi != nil {
		return oi.BaseAddr
	}
	return 0
}

// TranslateRegister implements unwind.Info.
func (r *RemoteProcess) TranslateRegister(dwarfRegNum uint64) int {
	if r.regTranslate == nil {
		return int(dwarfRegNum)
	}
	return r.regTranslate(dwarfRegNum)
}

// PtrSize implements unwind.Info.
func (r *RemoteProcess) PtrSize() int { return r.ptrSize }

// Continue resumes the traced process until its next stop, forwarding
// signal (0 for none).
func (r *RemoteProcess) Continue(signal int) error {
	return r.pt.cont(r.pid, signal)
}

// Wait blocks for the traced process's next stop.
func (r *RemoteProcess) Wait() (unix.WaitStatus, error) {
	return r.pt.wait(r.pid)
}

// Detach ptrace-detaches and closes the /proc/<pid>/mem handle.
func (r *RemoteProcess) Detach() error {
	if err := r.pt.detach(r.pid); err != nil {
		return err
	}
	return r.mem.Close()
}
