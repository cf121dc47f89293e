package visited

import (
	"testing"

	"github.com/dpor-mc/mc/pkg/snapshot"
)

func fakeSnap(actors int, heap uint64) *snapshot.Snapshot {
	var enabled []snapshot.ActorID
	for i := 0; i < actors; i++ {
		enabled = append(enabled, snapshot.ActorID(i))
	}
	return &snapshot.Snapshot{EnabledActors: enabled, HeapBytesUsed: heap}
}

func TestInsertAndLookupSameBucket(t *testing.T) {
	set := New(0)
	k := Key{NbActors: 2, HeapBytesUsed: 1024}
	snap := fakeSnap(2, 1024)
	set.Insert(k, snap)

	if got := set.Lookup(k, fakeSnap(2, 1024)); got == nil {
		t.Fatal("expected lookup to find the equal snapshot in the same bucket")
	}
	if got := set.Lookup(k, fakeSnap(2, 2048)); got != nil {
		t.Fatal("lookup matched a snapshot whose heap usage differs")
	}
}

func TestLookupDifferentBucket(t *testing.T) {
	set := New(0)
	set.Insert(Key{NbActors: 2, HeapBytesUsed: 1024}, fakeSnap(2, 1024))
	other := Key{NbActors: 3, HeapBytesUsed: 1024}
	if got := set.Lookup(other, fakeSnap(3, 1024)); got != nil {
		t.Fatal("lookup must not cross nb_actors buckets")
	}
}

func TestEvictionReleasesOldestUnpinned(t *testing.T) {
	set := New(2)
	k := Key{NbActors: 1}
	s1 := set.Insert(k, fakeSnap(1, 10))
	s2 := set.Insert(k, fakeSnap(1, 20))
	s3 := set.Insert(k, fakeSnap(1, 30))

	if s1.Snap != nil {
		t.Fatal("oldest entry should have its payload released once the cap is exceeded")
	}
	if s2.Snap == nil || s3.Snap == nil {
		t.Fatal("entries within the cap must keep their payload")
	}
	if set.Len() != 3 {
		t.Fatalf("identity must be retained for the evicted entry, got Len=%d", set.Len())
	}
	if set.LiveLen() != 2 {
		t.Fatalf("expected 2 live payloads, got %d", set.LiveLen())
	}
}

func TestPinProtectsFromEviction(t *testing.T) {
	set := New(1)
	k := Key{NbActors: 1}
	s1 := set.Insert(k, fakeSnap(1, 10))
	set.Pin(s1)
	set.Insert(k, fakeSnap(1, 20))

	if s1.Snap == nil {
		t.Fatal("pinned entry must not be evicted even over capacity")
	}
	set.Unpin(s1)
	if s1.Snap != nil {
		t.Fatal("unpinning should retry eviction and release the now-oldest entry")
	}
}
