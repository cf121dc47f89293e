// Package pagestore implements the content-addressed, reference-counted
// page arena shared by every Region across every Snapshot.
//
// The design mirrors delve's approach to memory caching in
// pkg/proc/stack.go (cacheMemory): an anonymous growable backing arena
// fronted by a hash index, except here pages are deduplicated by exact
// content rather than cached by address range.
package pagestore

import (
	"bytes"
	"hash/fnv"

	"github.com/dpor-mc/mc/pkg/mclog"
)

// PageSize is the fixed page granularity used throughout the checker.
const PageSize = 4096

// Index identifies a page inside a Store. The zero Index is reserved and
// never returned by StorePage.
type Index uint32

type slot struct {
	bytes    [PageSize]byte
	refcount uint32
}

// Store owns all page bytes for the checker process. It is not
// goroutine-safe; the explorer's single-threaded DFS is the only
// synchronization it relies on.
type Store struct {
	slots     []slot
	freelist  []Index
	hashIndex map[uint64][]Index
	log       interface{ Debugf(string, ...interface{}) }
}

// New returns an empty Store with slot 0 reserved.
func New() *Store {
	s := &Store{
		hashIndex: make(map[uint64][]Index),
	}
	s.slots = append(s.slots, slot{}) // index 0 reserved, refcount stays 0
	return s
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

// StorePage stores a page's content, deduplicating by exact byte
// equality (not just hash equality), and returns its index. A reused
// index has its refcount incremented; a fresh one starts at 1.
func (s *Store) StorePage(b *[PageSize]byte) Index {
	h := hashBytes(b[:])
	for _, idx := range s.hashIndex[h] {
		if bytes.Equal(s.slots[idx].bytes[:], b[:]) {
			s.slots[idx].refcount++
			return idx
		}
	}

	var idx Index
	if n := len(s.freelist); n > 0 {
		idx = s.freelist[n-1]
		s.freelist = s.freelist[:n-1]
		s.slots[idx].bytes = *b
		s.slots[idx].refcount = 1
	} else {
		idx = Index(len(s.slots))
		s.slots = append(s.slots, slot{bytes: *b, refcount: 1})
	}
	s.hashIndex[h] = append(s.hashIndex[h], idx)
	mclog.Logger(mclog.Pagestore).Tracef("stored new page at index %d", idx)
	return idx
}

// RefPage increments a page's refcount, for a holder that shares an
// already stored page instead of storing it again.
func (s *Store) RefPage(i Index) {
	s.slots[i].refcount++
}

// UnrefPage decrements a page's refcount; at zero the slot returns to
// the freelist and is removed from the hash bucket.
func (s *Store) UnrefPage(i Index) {
	sl := &s.slots[i]
	if sl.refcount == 0 {
		return
	}
	sl.refcount--
	if sl.refcount == 0 {
		h := hashBytes(sl.bytes[:])
		bucket := s.hashIndex[h]
		for j, idx := range bucket {
			if idx == i {
				bucket[j] = bucket[len(bucket)-1]
				bucket = bucket[:len(bucket)-1]
				break
			}
		}
		if len(bucket) == 0 {
			delete(s.hashIndex, h)
		} else {
			s.hashIndex[h] = bucket
		}
		s.freelist = append(s.freelist, i)
	}
}

// GetPage returns a read-only view of a page's bytes.
func (s *Store) GetPage(i Index) *[PageSize]byte {
	return &s.slots[i].bytes
}

// Refcount reports a page's current refcount, for tests and invariant checks.
func (s *Store) Refcount(i Index) uint32 {
	return s.slots[i].refcount
}

// Len returns the number of occupied slots (including freed ones still
// holding their backing array but not referenced by the hash index).
func (s *Store) Len() int {
	return len(s.slots)
}
