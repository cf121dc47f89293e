// Package snapshot implements the Region and Snapshot entities: per-range memory capture with content-addressed page
// dedup, full-snapshot assembly, restore, and comparison. Grounded on
// delve's memory-caching pattern in pkg/proc/stack.go (cacheMemory) and
// on its general "read through an AddressSpace, never touch
// the OS directly" discipline that stack.go's stackIterator follows via
// its `mem MemoryReadWriter` field.
package snapshot

import (
	"fmt"

	"github.com/dpor-mc/mc/pkg/addrspace"
	"github.com/dpor-mc/mc/pkg/pagestore"
)

// RegionKind tags a Region's role.
type RegionKind int

const (
	RegionData RegionKind = iota
	RegionHeap
)

// RegionStorage discriminates how a Region's bytes are held.
type RegionStorage int

const (
	StorageFlat RegionStorage = iota
	StorageChunked
	StoragePrivatized
)

// Region is a snapshot of one contiguous virtual-address range.
type Region struct {
	Kind      RegionKind
	Storage   RegionStorage
	StartAddr uint64
	Size      int

	// Flat storage.
	Flat []byte

	// Chunked storage: one page index per PageSize-aligned page of the
	// range, backed by a shared Store.
	Store *pagestore.Store
	Pages []pagestore.Index

	// Privatized storage: one Region per actor, used for SMPI-style
	// per-actor global privatization. Out of scope beyond
	// modeling the variant; the per-actor remap mechanics are not
	// implemented.
	Privatized []*Region
}

// TakeRegion captures [permanentAddr, permanentAddr+size) from as and
// stores it starting at startAddr. startAddr and
// permanentAddr must be page-aligned; size need not be. When store is
// non-nil the region is Chunked (content-addressed, deduplicated
// across snapshots); otherwise it is a single Flat buffer.
func TakeRegion(as addrspace.AddressSpace, startAddr, permanentAddr uint64, size int, kind RegionKind, store *pagestore.Store) (*Region, error) {
	if startAddr%pagestore.PageSize != 0 || permanentAddr%pagestore.PageSize != 0 {
		return nil, fmt.Errorf("snapshot: take_region requires page-aligned addresses, got start=%#x permanent=%#x", startAddr, permanentAddr)
	}

	r := &Region{Kind: kind, StartAddr: startAddr, Size: size}

	if store == nil {
		buf := make([]byte, size)
		if _, err := as.ReadBytes(buf, permanentAddr, addrspace.ReadOptions{}); err != nil {
			return nil, fmt.Errorf("snapshot: reading flat region at %#x: %w", permanentAddr, err)
		}
		r.Storage = StorageFlat
		r.Flat = buf
		return r, nil
	}

	n := (size + pagestore.PageSize - 1) / pagestore.PageSize
	r.Storage = StorageChunked
	r.Store = store
	r.Pages = make([]pagestore.Index, 0, n)
	var scratch [pagestore.PageSize]byte
	for i := 0; i < n; i++ {
		pageAddr := permanentAddr + uint64(i)*pagestore.PageSize
		if _, err := as.ReadBytes(scratch[:], pageAddr, addrspace.ReadOptions{}); err != nil {
			return nil, fmt.Errorf("snapshot: reading page %d of region at %#x: %w", i, permanentAddr, err)
		}
		idx := store.StorePage(&scratch)
		r.Pages = append(r.Pages, idx)
	}
	return r, nil
}

// RestoreRegion writes the region's bytes back to the application
// starting at r.StartAddr. For Chunked
// regions this may write past r.Size within the last page; that's fine
// since pages are OS-page aligned and only the region's real content is
// user-relevant.
func RestoreRegion(r *Region, w addrspace.Writer) error {
	switch r.Storage {
	case StorageFlat:
		return w.WriteBytes(r.StartAddr, r.Flat)
	case StorageChunked:
		for i, idx := range r.Pages {
			page := r.Store.GetPage(idx)
			addr := r.StartAddr + uint64(i)*pagestore.PageSize
			if err := w.WriteBytes(addr, page[:]); err != nil {
				return fmt.Errorf("snapshot: restoring page %d at %#x: %w", i, addr, err)
			}
		}
		return nil
	case StoragePrivatized:
		for _, p := range r.Privatized {
			if err := RestoreRegion(p, w); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("snapshot: unknown region storage kind %d", r.Storage)
	}
}

// Contains reports whether addr falls within this region.
func (r *Region) Contains(addr uint64) bool {
	return addr >= r.StartAddr && addr < r.StartAddr+uint64(r.Size)
}

// ReadBytes implements addrspace.AddressSpace for a Region: reads
// within one page return a borrowed slice when opts.Lazy is set and the
// region is Chunked; otherwise (or across a page boundary) bytes are
// copied into dst.
func (r *Region) ReadBytes(dst []byte, addr uint64, opts addrspace.ReadOptions) ([]byte, error) {
	if !r.Contains(addr) || !r.Contains(addr+uint64(len(dst))-1) {
		if len(dst) > 0 && !r.Contains(addr) {
			return nil, fmt.Errorf("snapshot: address %#x not in region [%#x, %#x)", addr, r.StartAddr, r.StartAddr+uint64(r.Size))
		}
	}

	switch r.Storage {
	case StorageFlat:
		off := addr - r.StartAddr
		copy(dst, r.Flat[off:off+uint64(len(dst))])
		return dst, nil
	case StorageChunked:
		off := addr - r.StartAddr
		pageIdx := off / pagestore.PageSize
		pageOff := off % pagestore.PageSize
		if pageOff+uint64(len(dst)) <= pagestore.PageSize {
			page := r.Store.GetPage(r.Pages[pageIdx])
			if opts.Lazy {
				return page[pageOff : pageOff+uint64(len(dst))], nil
			}
			copy(dst, page[pageOff:pageOff+uint64(len(dst))])
			return dst, nil
		}
		// Crosses a page boundary: always copy.
		remaining := dst
		cur := addr
		for len(remaining) > 0 {
			pi := (cur - r.StartAddr) / pagestore.PageSize
			po := (cur - r.StartAddr) % pagestore.PageSize
			page := r.Store.GetPage(r.Pages[pi])
			n := uint64(len(remaining))
			if avail := pagestore.PageSize - po; n > avail {
				n = avail
			}
			copy(remaining[:n], page[po:po+n])
			remaining = remaining[n:]
			cur += n
		}
		return dst, nil
	case StoragePrivatized:
		if len(r.Privatized) == 0 {
			return nil, fmt.Errorf("snapshot: privatized region has no per-actor copies")
		}
		return r.Privatized[0].ReadBytes(dst, addr, opts)
	default:
		return nil, fmt.Errorf("snapshot: unknown region storage kind %d", r.Storage)
	}
}

// Memcmp compares len bytes starting at addrA in regionA against addrB
// in regionB, returning memcmp semantics (negative/zero/positive) and
// short-circuiting on the first difference.
func Memcmp(regionA *Region, addrA uint64, regionB *Region, addrB uint64, length int) (int, error) {
	const chunk = 256
	bufA := make([]byte, chunk)
	bufB := make([]byte, chunk)
	remaining := length
	for remaining > 0 {
		n := remaining
		if n > chunk {
			n = chunk
		}
		a, err := regionA.ReadBytes(bufA[:n], addrA, addrspace.ReadOptions{})
		if err != nil {
			return 0, err
		}
		b, err := regionB.ReadBytes(bufB[:n], addrB, addrspace.ReadOptions{})
		if err != nil {
			return 0, err
		}
		for i := 0; i < n; i++ {
			if a[i] != b[i] {
				return int(a[i]) - int(b[i]), nil
			}
		}
		addrA += uint64(n)
		addrB += uint64(n)
		remaining -= n
	}
	return 0, nil
}
