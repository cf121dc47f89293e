package dwarfdt

import "fmt"

// Loader is the opaque debug-info collaborator: it yields typed
// entities (ObjectInfo, Frame, Variable, Type) from one ELF module. The
// checker core depends only on this interface, never on a concrete
// DWARF/ELF decoder.
type Loader interface {
	// Load parses path (an ELF executable or shared object) and returns
	// a populated, Finalized ObjectInfo.
	Load(path string, executable bool, baseAddr uint64) (*ObjectInfo, error)

	// BuildID returns the ELF module's NT_GNU_BUILD_ID note, or "" if
	// the module carries none.
	BuildID(path string) (string, error)
}

// ErrNoDebugInfo is returned when neither the module itself nor its
// separate debug-info file carries any DWARF data.
type ErrNoDebugInfo struct {
	Path string
}

func (e *ErrNoDebugInfo) Error() string {
	return fmt.Sprintf("%s: no debug info found; recompile with -g", e.Path)
}

// SeparateDebugInfoPaths returns the candidate locations for a module's
// separate debug info given its build-id: the system build-id store
// first, then a local equivalent rooted at localRoot.
func SeparateDebugInfoPaths(buildID string, localRoot string) []string {
	if len(buildID) < 3 {
		return nil
	}
	rel := fmt.Sprintf("%s/%s.debug", buildID[:2], buildID[2:])
	paths := []string{"/usr/lib/debug/.build-id/" + rel}
	if localRoot != "" {
		paths = append(paths, localRoot+"/.build-id/"+rel)
	}
	return paths
}

// LoadWithFallback loads path's own debug info; if none is embedded, it
// tries every path SeparateDebugInfoPaths names before giving up with
// ErrNoDebugInfo.
func LoadWithFallback(l Loader, path string, executable bool, baseAddr uint64, localRoot string) (*ObjectInfo, error) {
	oi, err := l.Load(path, executable, baseAddr)
	if err == nil {
		return oi, nil
	}

	buildID, bidErr := l.BuildID(path)
	if bidErr != nil || buildID == "" {
		return nil, &ErrNoDebugInfo{Path: path}
	}
	for _, candidate := range SeparateDebugInfoPaths(buildID, localRoot) {
		if oi, err := l.Load(candidate, executable, baseAddr); err == nil {
			return oi, nil
		}
	}
	return nil, &ErrNoDebugInfo{Path: path}
}
