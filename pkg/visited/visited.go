// Package visited implements the VisitedSet: a sorted
// container of lightweight state summaries, bucketed by
// (nb_actors, heap_bytes_used) for fast candidate narrowing, with full
// Snapshot equality deciding membership and an LRU-by-birth eviction
// cap once visited_max is exceeded. Grounded on delve's
// pkg/proc/bininfo cache-eviction shape and its general
// "wrap a real container, add domain comparisons around it" style;
// the LRU backing store is hashicorp/golang-lru, the same dependency
// the rest of the pack uses for capacity-bounded caches.
package visited

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/dpor-mc/mc/pkg/snapshot"
)

// Key is the VisitedSet's primary bucketing key.
type Key struct {
	NbActors      int
	HeapBytesUsed uint64
}

func (k Key) less(o Key) bool {
	if k.NbActors != o.NbActors {
		return k.NbActors < o.NbActors
	}
	return k.HeapBytesUsed < o.HeapBytesUsed
}

// State is one VisitedState/VisitedPair entry: a
// bucketing key, the sequence number it was born with, and its
// Snapshot payload. Snap is nil once the entry has been evicted for
// memory but its identity is still occupying a slot in the sorted
// index.
type State struct {
	Key    Key
	Seq    uint64
	Snap   *snapshot.Snapshot
	Pinned bool
}

// released reports whether this entry's payload has been freed.
func (s *State) released() bool { return s.Snap == nil }

// Set is the visited-states container, bucketed by Key and matched by
// full snapshot equality. It is not
// safe for concurrent use without external synchronization beyond the
// single internal mutex guarding its own structure (the checker drives
// it from one exploration goroutine at a time; the mutex exists so a
// background dot-writer or stats reader can query it safely).
type Set struct {
	mu sync.Mutex

	// entries is sorted by Key then Seq, the order Lookup binary
	// searches and Insert maintains.
	entries []*State

	// cache is the birth-ordered LRU boundary: keyed by Seq, it
	// tracks which entries currently hold a realized Snapshot. Its
	// automatic least-recently-used eviction is never triggered
	// directly (capacity is enforced by evictOverflow below) because
	// the "unless still referenced from the stack" rule needs to be
	// able to skip a candidate, something a plain OnEvict callback
	// cannot veto after the fact. We only ever Peek/Keys/Remove, so
	// its internal order stays exactly insertion (birth) order.
	cache *lru.Cache

	visitedMax int
	nextSeq    uint64
}

// unboundedCacheSize is the capacity handed to the underlying
// lru.Cache when visited_max is enabled. It is deliberately far larger
// than any realistic live-entry count: the library's own
// capacity-triggered eviction cannot honor the "unless pinned"
// exception (it has already removed the entry by the time an OnEvict
// callback would fire), so eviction is instead driven entirely by
// evictOverflow below, and the cache itself is kept effectively
// unbounded.
const unboundedCacheSize = 1 << 30

// New builds a Set. visitedMax <= 0 disables the eviction cap.
func New(visitedMax int) *Set {
	s := &Set{visitedMax: visitedMax}
	if visitedMax > 0 {
		c, err := lru.New(unboundedCacheSize)
		if err != nil {
			// Only returns an error for size <= 0, already excluded above.
			panic(err)
		}
		s.cache = c
	}
	return s
}

// bucketRange returns [lo, hi) indices into entries whose Key equals k.
func (s *Set) bucketRange(k Key) (int, int) {
	lo := sort.Search(len(s.entries), func(i int) bool { return !s.entries[i].Key.less(k) })
	hi := sort.Search(len(s.entries), func(i int) bool { return k.less(s.entries[i].Key) })
	return lo, hi
}

// Lookup binary-searches the (nb_actors, heap_bytes_used) equivalence
// subrange and runs full snapshot equality against each candidate that
// still holds a live Snapshot. A candidate whose payload was released cannot be
// confirmed equal and is skipped, per the note in Insert's eviction
// handling.
func (s *Set) Lookup(k Key, snap *snapshot.Snapshot) *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	lo, hi := s.bucketRange(k)
	for i := lo; i < hi; i++ {
		cand := s.entries[i]
		if cand.released() {
			continue
		}
		if snapshot.Equal(cand.Snap, snap) {
			return cand
		}
	}
	return nil
}

// Insert adds snap as a new VisitedState under k, keeping entries
// sorted, and evicts the oldest unpinned entry if the set now exceeds
// visited_max. It returns the new State.
func (s *Set) Insert(k Key, snap *snapshot.Snapshot) *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &State{Key: k, Seq: s.nextSeq, Snap: snap}
	s.nextSeq++

	_, hi := s.bucketRange(k)
	s.entries = append(s.entries, nil)
	copy(s.entries[hi+1:], s.entries[hi:len(s.entries)-1])
	s.entries[hi] = st

	if s.cache != nil {
		s.cache.Add(st.Seq, st)
		s.evictOverflow()
	}
	return st
}

// evictOverflow releases the payload of the oldest unpinned live entry
// while len(live entries) exceeds visited_max.
func (s *Set) evictOverflow() {
	for s.cache.Len() > s.visitedMax {
		keys := s.cache.Keys()
		evicted := false
		for _, k := range keys {
			v, ok := s.cache.Peek(k)
			if !ok {
				continue
			}
			st := v.(*State)
			if st.Pinned {
				continue
			}
			st.Snap = nil
			s.cache.Remove(k)
			evicted = true
			break
		}
		if !evicted {
			// every live entry is pinned; the cap is temporarily
			// exceeded until one is unpinned.
			return
		}
	}
}

// Pin marks st as referenced from the exploration stack, protecting it
// from eviction until Unpin is called.
func (s *Set) Pin(st *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.Pinned = true
}

// Unpin releases the protection Pin granted, and retries the eviction
// pass in case the cap was exceeded while st was pinned.
func (s *Set) Unpin(st *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.Pinned = false
	if s.cache != nil {
		s.evictOverflow()
	}
}

// Len returns the number of identities currently tracked, including
// those whose payload has been released.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// LiveLen returns the number of entries still holding a realized
// Snapshot payload.
func (s *Set) LiveLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		return len(s.entries)
	}
	return s.cache.Len()
}
