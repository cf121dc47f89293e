package snapshot

import (
	"bytes"
	"testing"

	"github.com/dpor-mc/mc/pkg/addrspace"
	"github.com/dpor-mc/mc/pkg/pagestore"
)

// fakeAddressSpace is a flat in-memory AddressSpace for tests, rooted at
// a fixed base address.
type fakeAddressSpace struct {
	base uint64
	data []byte
}

func (f *fakeAddressSpace) ReadBytes(dst []byte, addr uint64, opts addrspace.ReadOptions) ([]byte, error) {
	off := addr - f.base
	copy(dst, f.data[off:off+uint64(len(dst))])
	return dst, nil
}

func (f *fakeAddressSpace) WriteBytes(addr uint64, src []byte) error {
	off := addr - f.base
	copy(f.data[off:], src)
	return nil
}

func (f *fakeAddressSpace) ClearBytes(addr uint64, n int) error {
	off := addr - f.base
	for i := 0; i < n; i++ {
		f.data[off+uint64(i)] = 0
	}
	return nil
}

func makeSpace(nPages int) *fakeAddressSpace {
	return &fakeAddressSpace{base: 0x400000, data: make([]byte, nPages*pagestore.PageSize)}
}

// Invariant 3: Region round-trip.
func TestRegionRoundTrip(t *testing.T) {
	as := makeSpace(2)
	for i := range as.data {
		as.data[i] = byte(i % 251)
	}

	r, err := TakeRegion(as, as.base, as.base, len(as.data), RegionData, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(as.data))
	if _, err := r.ReadBytes(got, as.base, addrspace.ReadOptions{}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, as.data) {
		t.Fatalf("round-trip mismatch")
	}
}

func TestRegionRoundTripChunked(t *testing.T) {
	as := makeSpace(3)
	for i := range as.data {
		as.data[i] = byte((i * 7) % 256)
	}
	store := pagestore.New()

	r, err := TakeRegion(as, as.base, as.base, len(as.data), RegionData, store)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(as.data))
	if _, err := r.ReadBytes(got, as.base, addrspace.ReadOptions{}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, as.data) {
		t.Fatalf("chunked round-trip mismatch")
	}

	// Cross-page read.
	crossBuf := make([]byte, 16)
	off := uint64(pagestore.PageSize - 8)
	if _, err := r.ReadBytes(crossBuf, as.base+off, addrspace.ReadOptions{}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(crossBuf, as.data[off:off+16]) {
		t.Fatalf("cross-page chunked read mismatch")
	}
}

// Invariant 4: memcmp reflexivity.
func TestMemcmpReflexive(t *testing.T) {
	as := makeSpace(1)
	for i := range as.data {
		as.data[i] = byte(i)
	}
	r, err := TakeRegion(as, as.base, as.base, len(as.data), RegionData, nil)
	if err != nil {
		t.Fatal(err)
	}
	cmp, err := Memcmp(r, as.base+10, r, as.base+10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if cmp != 0 {
		t.Fatalf("memcmp(r, a, r, a, n) must be 0, got %d", cmp)
	}
}

// Invariant 5: memcmp consistency with direct byte comparison.
func TestMemcmpConsistency(t *testing.T) {
	as1 := makeSpace(1)
	as2 := makeSpace(1)
	for i := range as1.data {
		as1.data[i] = byte(i)
		as2.data[i] = byte(i)
	}
	as2.data[50] = 0xFF

	r1, _ := TakeRegion(as1, as1.base, as1.base, len(as1.data), RegionData, nil)
	r2, _ := TakeRegion(as2, as2.base, as2.base, len(as2.data), RegionData, nil)

	cmp, err := Memcmp(r1, as1.base, r2, as2.base, len(as1.data))
	if err != nil {
		t.Fatal(err)
	}
	direct := bytes.Equal(as1.data, as2.data)
	if (cmp == 0) != direct {
		t.Fatalf("memcmp result %d inconsistent with direct byte comparison equal=%v", cmp, direct)
	}
}

// Invariant 6: restore idempotence (byte-equal outside ignored ranges).
func TestRestoreIdempotence(t *testing.T) {
	as := makeSpace(1)
	for i := range as.data {
		as.data[i] = byte(i)
	}
	orig := append([]byte(nil), as.data...)

	r, err := TakeRegion(as, as.base, as.base, len(as.data), RegionData, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Mutate live memory, then restore.
	for i := range as.data {
		as.data[i] = 0xFF
	}
	if err := RestoreRegion(r, as); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(as.data, orig) {
		t.Fatalf("restore did not reproduce original bytes")
	}
}
