package objfile

import (
	"strings"
	"testing"
)

const sampleMaps = `00400000-00401000 r-xp 00000000 08:01 123 /bin/app
00600000-00601000 rw-p 00000000 08:01 123 /bin/app
7f0000000000-7f0000020000 r-xp 00000000 08:01 456 /usr/lib/x86_64-linux-gnu/libc-2.31.so
7f0000020000-7f0000030000 rw-p 00000000 08:01 456 /usr/lib/x86_64-linux-gnu/libc-2.31.so
7f1000000000-7f1000010000 rw-p 00000000 08:01 789 /usr/lib/libsimgrid.so
7ffff0000000-7ffff0021000 rw-p 00000000 00:00 0 [stack]
`

func TestParseMapsAndGroup(t *testing.T) {
	mappings, err := ParseMaps(strings.NewReader(sampleMaps))
	if err != nil {
		t.Fatal(err)
	}
	if len(mappings) != 6 {
		t.Fatalf("expected 6 mappings, got %d", len(mappings))
	}

	mods := GroupModules(mappings)
	if len(mods) != 2 {
		t.Fatalf("expected 2 modules after deny-list filtering and anon-mapping skip, got %d", len(mods))
	}

	var names []string
	for _, m := range mods {
		names = append(names, m.Path)
	}
	for _, n := range names {
		if Denied(n) {
			t.Fatalf("deny-listed module %q leaked through GroupModules", n)
		}
	}
}

func TestDenied(t *testing.T) {
	cases := map[string]bool{
		"/usr/lib/x86_64-linux-gnu/libc-2.31.so": true,
		"/lib64/ld-linux-x86-64.so.2":            true,
		"/usr/lib/libsimgrid.so":                 false,
		"/bin/app":                               false,
	}
	for path, want := range cases {
		if got := Denied(path); got != want {
			t.Errorf("Denied(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestRWRange(t *testing.T) {
	mappings, _ := ParseMaps(strings.NewReader(sampleMaps))
	mods := GroupModules(mappings)
	for _, m := range mods {
		if m.Path == "/bin/app" {
			start, size := m.RWRange()
			if start != 0x600000 || size != 0x1000 {
				t.Fatalf("expected rw range 0x600000/0x1000, got %#x/%#x", start, size)
			}
		}
	}
}
