package pagestore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func filled(b byte) *[PageSize]byte {
	var p [PageSize]byte
	for i := range p {
		p[i] = b
	}
	return &p
}

// S1 — page dedup scenario.
func TestStorePageDedup(t *testing.T) {
	s := New()

	aaIdx1 := s.StorePage(filled(0xAA))
	aaIdx2 := s.StorePage(filled(0xAA))
	bbIdx := s.StorePage(filled(0xBB))

	require.Equal(t, aaIdx1, aaIdx2, "identical content must reuse the same index")
	require.NotEqual(t, aaIdx1, bbIdx, "distinct content must not share an index")
	require.EqualValues(t, 2, s.Refcount(aaIdx1))

	s.UnrefPage(aaIdx1)
	s.UnrefPage(aaIdx1)
	require.EqualValues(t, 0, s.Refcount(aaIdx1))

	// A fresh 0xAA store must succeed (either reusing the freed slot or
	// allocating a new one) and the 0xBB index must remain untouched.
	aaIdx3 := s.StorePage(filled(0xAA))
	require.EqualValues(t, 1, s.Refcount(aaIdx3))
	require.EqualValues(t, 1, s.Refcount(bbIdx), "0xBB index must remain valid and referenced throughout")
}

// Invariant 1: store_page(b1) == store_page(b2) iff b1 == b2 byte-exact.
func TestStorePageContentExact(t *testing.T) {
	s := New()
	b1 := filled(0x01)
	b2 := filled(0x01)
	b2[PageSize-1] = 0x02

	i1 := s.StorePage(b1)
	i2 := s.StorePage(b2)
	require.NotEqual(t, i1, i2, "pages differing in one byte must not share an index")

	b3 := filled(0x01)
	i3 := s.StorePage(b3)
	require.Equal(t, i1, i3, "byte-identical pages must share an index")
}

// Invariant 2: refcount soundness across a net-zero sequence of
// store/unref operations.
func TestRefcountSoundness(t *testing.T) {
	s := New()
	start := s.Len()

	idx := s.StorePage(filled(0x42))
	s.RefPage(idx)
	s.RefPage(idx)
	s.UnrefPage(idx)
	s.UnrefPage(idx)
	s.UnrefPage(idx)

	require.EqualValues(t, 0, s.Refcount(idx))
	// The slot count only grows (the freelist recycles slots on next
	// store), so re-storing the same content after a net-zero sequence
	// must not grow the slot count.
	s.StorePage(filled(0x42))
	require.Equal(t, start+1, s.Len(), "expected exactly one new slot to have been allocated")
}
