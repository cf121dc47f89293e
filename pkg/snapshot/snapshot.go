package snapshot

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/dpor-mc/mc/pkg/addrspace"
	"github.com/dpor-mc/mc/pkg/mclog"
	"github.com/dpor-mc/mc/pkg/pagestore"
	"github.com/dpor-mc/mc/pkg/unwind"
)

// ActorID identifies a simulated actor (the application-side "pid").
type ActorID uint64

// IgnoredRange is a byte range excluded from state comparison; its
// original content is zeroed before the owning Regions are captured and
// restored both immediately after (so the live application is
// undisturbed) and again whenever this Snapshot is later restored.
type IgnoredRange struct {
	Addr   uint64
	Backup []byte
}

// StackDescriptor is one live actor's captured call stack.
type StackDescriptor struct {
	Actor  ActorID
	Regs   *unwind.Registers
	Frames []unwind.StackFrame
}

// Snapshot is an ordered collection of Regions covering the introspected
// segments of the application, plus enabled-actor set, per-actor stack
// descriptors, heap usage, optional content hash, ignored ranges, and a
// sequence number.
type Snapshot struct {
	Regions       []*Region
	EnabledActors []ActorID
	Stacks        []StackDescriptor
	HeapBytesUsed uint64
	ContentHash   *uint64
	IgnoredRanges []IgnoredRange
	SeqNumber     uint64
}

// Source is what TakeSnapshot needs from the live application: the
// AddressSpace to read through, zero/restore support for the ignore
// mechanism, and the live data needed to build Regions and stacks. It is
// satisfied by pkg/remote.RemoteProcess; kept as an interface here so
// pkg/snapshot never imports pkg/remote.
type Source interface {
	addrspace.AddressSpace
	addrspace.Writer

	DataRegions() (startAddr, permanentAddr uint64, size int)
	HeapRegion() (startAddr, permanentAddr uint64, size int, bytesUsed uint64)
	EnabledActors() []ActorID
	IgnoredRanges() []struct {
		Addr uint64
		Size int
	}
	CaptureStack(actor ActorID) (*unwind.Registers, []unwind.StackFrame, error)
}

// TakeSnapshot assembles a full Snapshot of src.
// sparse selects Chunked (content-addressed, page-store-backed) Regions
// when true, Flat regions otherwise (the sparse_checkpoint CLI option).
func TakeSnapshot(src Source, seqNumber uint64, store *pagestore.Store, sparse bool, computeHash bool) (*Snapshot, error) {
	log := mclog.Logger(mclog.Snapshot)

	// Step 1: save-and-zero ignored ranges, keeping a backup.
	var ignored []IgnoredRange
	for _, rg := range src.IgnoredRanges() {
		backup := make([]byte, rg.Size)
		if _, err := src.ReadBytes(backup, rg.Addr, addrspace.ReadOptions{}); err != nil {
			return nil, fmt.Errorf("snapshot: reading ignored range at %#x: %w", rg.Addr, err)
		}
		if err := src.ClearBytes(rg.Addr, rg.Size); err != nil {
			return nil, fmt.Errorf("snapshot: zeroing ignored range at %#x: %w", rg.Addr, err)
		}
		ignored = append(ignored, IgnoredRange{Addr: rg.Addr, Backup: backup})
	}

	var effectiveStore *pagestore.Store
	if sparse {
		effectiveStore = store
	}

	// Step 2: Regions.
	var regions []*Region
	dStart, dPerm, dSize := src.DataRegions()
	if dSize > 0 {
		dr, err := TakeRegion(src, dStart, dPerm, dSize, RegionData, effectiveStore)
		if err != nil {
			restoreIgnored(src, ignored, log)
			return nil, err
		}
		regions = append(regions, dr)
	}
	hStart, hPerm, hSize, bytesUsed := src.HeapRegion()
	if hSize > 0 {
		hr, err := TakeRegion(src, hStart, hPerm, hSize, RegionHeap, effectiveStore)
		if err != nil {
			restoreIgnored(src, ignored, log)
			return nil, err
		}
		regions = append(regions, hr)
	}

	// Step 3: enabled actors.
	enabled := src.EnabledActors()

	// Step 4: per-actor stack descriptors, captured against the live
	// source (not the snapshot being assembled).
	var stacks []StackDescriptor
	for _, a := range enabled {
		regs, frames, err := src.CaptureStack(a)
		if err != nil {
			log.Warnf("capturing stack for actor %d: %v", a, err)
			continue
		}
		stacks = append(stacks, StackDescriptor{Actor: a, Regs: regs, Frames: frames})
	}

	snap := &Snapshot{
		Regions:       regions,
		EnabledActors: enabled,
		Stacks:        stacks,
		HeapBytesUsed: bytesUsed,
		IgnoredRanges: ignored,
		SeqNumber:     seqNumber,
	}

	// Step 5: optional content hash.
	if computeHash {
		h := computeContentHash(snap)
		snap.ContentHash = &h
	}

	// Step 6: restore the ignored ranges.
	restoreIgnored(src, ignored, log)

	return snap, nil
}

func restoreIgnored(src Source, ignored []IgnoredRange, log interface{ Warnf(string, ...interface{}) }) {
	for _, ir := range ignored {
		if err := src.WriteBytes(ir.Addr, ir.Backup); err != nil {
			log.Warnf("restoring ignored range at %#x: %v", ir.Addr, err)
		}
	}
}

// RestoreSnapshot writes snap's regions and ignored-range backups back
// to dst, and the caller is expected to invalidate any cached
// application metadata (heap descriptor, actor tables) afterward.
func RestoreSnapshot(snap *Snapshot, dst addrspace.Writer) error {
	for _, r := range snap.Regions {
		if err := RestoreRegion(r, dst); err != nil {
			return err
		}
	}
	for _, ir := range snap.IgnoredRanges {
		if err := dst.WriteBytes(ir.Addr, ir.Backup); err != nil {
			return fmt.Errorf("snapshot: restoring ignored range at %#x: %w", ir.Addr, err)
		}
	}
	return nil
}

// ReadBytes implements addrspace.AddressSpace by finding the Region
// containing addr.
func (s *Snapshot) ReadBytes(dst []byte, addr uint64, opts addrspace.ReadOptions) ([]byte, error) {
	for _, r := range s.Regions {
		if r.Contains(addr) {
			return r.ReadBytes(dst, addr, opts)
		}
	}
	return nil, fmt.Errorf("snapshot: address %#x not covered by any region", addr)
}

// computeContentHash hashes (nb_actors, heap_bytes_used, global bytes,
// per-frame IP lists). The original source sometimes treats this hash
// as a pass-through no-op; this implementation always computes a real
// content hash.
func computeContentHash(s *Snapshot) uint64 {
	h := fnv.New64a()
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], uint64(len(s.EnabledActors)))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], s.HeapBytesUsed)
	h.Write(buf[:])

	for _, r := range s.Regions {
		if r.Kind != RegionData {
			continue
		}
		switch r.Storage {
		case StorageFlat:
			h.Write(r.Flat)
		case StorageChunked:
			for _, idx := range r.Pages {
				page := r.Store.GetPage(idx)
				h.Write(page[:])
			}
		}
	}

	for _, st := range s.Stacks {
		for _, fr := range st.Frames {
			binary.LittleEndian.PutUint64(buf[:], fr.IP)
			h.Write(buf[:])
		}
	}

	return h.Sum64()
}

// Equal implements snapshot_compare: false if nb_actors,
// the enabled set, stack sizes, heap-bytes-used, or any global/heap byte
// differs after masking ignored ranges; true otherwise. Per §4.12, heap
// comparison uses the allocator's in-use extent to skip over free
// fragments: since HeapBytesUsed is already required equal above, the
// Heap region's compared length is trimmed to that many bytes from its
// start rather than the full region size, so garbage past the
// allocator's high-water mark never participates in equality.
func Equal(a, b *Snapshot) bool {
	if len(a.EnabledActors) != len(b.EnabledActors) {
		return false
	}
	for i := range a.EnabledActors {
		if a.EnabledActors[i] != b.EnabledActors[i] {
			return false
		}
	}
	if len(a.Stacks) != len(b.Stacks) {
		return false
	}
	if a.HeapBytesUsed != b.HeapBytesUsed {
		return false
	}
	if a.ContentHash != nil && b.ContentHash != nil && *a.ContentHash != *b.ContentHash {
		return false
	}
	if len(a.Regions) != len(b.Regions) {
		return false
	}
	for i := range a.Regions {
		ra, rb := a.Regions[i], b.Regions[i]
		if ra.Size != rb.Size || ra.Kind != rb.Kind {
			return false
		}
		compareSize := ra.Size
		if ra.Kind == RegionHeap {
			if used := int(a.HeapBytesUsed); used < compareSize {
				compareSize = used
			}
		}
		cmp, err := Memcmp(ra, ra.StartAddr, rb, rb.StartAddr, compareSize)
		if err != nil || cmp != 0 {
			return false
		}
	}
	return true
}
