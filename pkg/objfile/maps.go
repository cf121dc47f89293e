// Package objfile parses /proc/<pid>/maps and builds one ObjectInfo per
// mapped ELF module, filtering out deny-listed system libraries. Grounded on golang-debug's
// internal/core/process.go mapping parser, which this checker's
// process-attach path replicates instead of core-file parsing. Mappings
// are grouped per file but never merged.
package objfile

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dpor-mc/mc/pkg/dwarfdt"
)

// Mapping is one /proc/<pid>/maps line, trimmed to what the checker
// needs to group contiguous segments per module and to find each
// module's R/W range for Region capture.
type Mapping struct {
	Low, High uint64
	Perms     string
	Offset    uint64
	Path      string
}

func (m Mapping) Readable() bool { return strings.Contains(m.Perms, "r") }
func (m Mapping) Writable() bool { return strings.Contains(m.Perms, "w") }
func (m Mapping) Executable() bool { return strings.Contains(m.Perms, "x") }

// ParseMaps parses the contents of /proc/<pid>/maps.
func ParseMaps(r io.Reader) ([]Mapping, error) {
	var out []Mapping
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) != 2 {
			continue
		}
		lo, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("objfile: bad maps line %q: %w", line, err)
		}
		hi, err := strconv.ParseUint(addrs[1], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("objfile: bad maps line %q: %w", line, err)
		}
		off, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("objfile: bad maps line %q: %w", line, err)
		}
		path := ""
		if len(fields) >= 6 {
			path = strings.Join(fields[5:], " ")
		}
		out = append(out, Mapping{Low: lo, High: hi, Perms: fields[1], Offset: off, Path: path})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DenyList is the set of shared-library basenames whose memory is
// excluded from introspection because their state is considered
// external.
var DenyList = []string{
	"libc.so", "libc-", "ld-linux", "ld.so",
	"libm.so", "libpthread.so", "libdl.so", "librt.so",
	"libgcc_s.so", "libstdc++.so",
	"libunwind.so", "libunwind-", "liblzma.so", "libz.so", "libzstd.so",
	"libcrypto.so", "libssl.so",
	"libasan.so", "libtsan.so", "libubsan.so",
}

// Denied reports whether path's basename matches the deny-list by
// prefix match, the way the source filters by basename.
func Denied(path string) bool {
	base := filepath.Base(path)
	for _, d := range DenyList {
		if strings.HasPrefix(base, d) {
			return true
		}
	}
	return false
}

// Module groups the set of Mappings that belong to one ELF file, sorted
// by start address. Each mapping is kept as its own entry; contiguous
// ones are not merged.
type Module struct {
	Path     string
	BaseAddr uint64
	Mappings []Mapping
}

// GroupModules partitions mappings by file path (skipping anonymous and
// deny-listed mappings) and sorts each file's mappings by start address,
// in the order the files first appear; mappings are not merged.
func GroupModules(mappings []Mapping) []*Module {
	byPath := map[string][]Mapping{}
	var order []string
	for _, m := range mappings {
		if m.Path == "" || strings.HasPrefix(m.Path, "[") {
			continue
		}
		if Denied(m.Path) {
			continue
		}
		if _, ok := byPath[m.Path]; !ok {
			order = append(order, m.Path)
		}
		byPath[m.Path] = append(byPath[m.Path], m)
	}

	var out []*Module
	for _, p := range order {
		ms := byPath[p]
		sort.Slice(ms, func(i, j int) bool { return ms[i].Low < ms[j].Low })
		out = append(out, &Module{Path: p, BaseAddr: ms[0].Low, Mappings: ms})
	}
	return out
}

// RWRange returns the module's writable data segment, the range
// captured as a Data Region.
func (m *Module) RWRange() (start uint64, size int) {
	for _, mm := range m.Mappings {
		if mm.Writable() && !mm.Executable() {
			return mm.Low, int(mm.High - mm.Low)
		}
	}
	return 0, 0
}

// Load builds this Module's ObjectInfo via l, tagging it executable iff
// it is the main binary (conventionally mappings[0] in a maps listing,
// passed in by the caller).
func (m *Module) Load(l dwarfdt.Loader, executable bool) (*dwarfdt.ObjectInfo, error) {
	base := uint64(0)
	if !executable {
		base = m.BaseAddr
	}
	return dwarfdt.LoadWithFallback(l, m.Path, executable, base, "")
}
