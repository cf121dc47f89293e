// Package mclog provides the checker's ambient logging surface: one
// named logrus logger per subsystem, all sharing one root logger whose
// level (SetOutputLevel) decides what is printed. A per-subsystem
// boolean flag (Enable/Enabled) is recorded as well, but the loggers do
// not consult it.
package mclog

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Subsystem names, mirroring the checker's own data-flow stages.
const (
	Remote    = "remote"
	Dwarf     = "dwarf"
	Unwind    = "unwind"
	Pagestore = "pagestore"
	Snapshot  = "snapshot"
	Checker   = "checker"
	Proto     = "proto"
)

var (
	mu      sync.Mutex
	loggers = map[string]*logrus.Entry{}
	enabled = map[string]bool{}
	root    = logrus.New()
)

func init() {
	root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	root.SetLevel(logrus.InfoLevel)
}

// Enable records the named subsystem as verbose, as reported by Enabled.
// It does not change any logger's level; Logger ignores this flag.
func Enable(subsystem string) {
	mu.Lock()
	defer mu.Unlock()
	enabled[subsystem] = true
}

// Enabled reports whether Enable has been called for subsystem.
func Enabled(subsystem string) bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled[subsystem]
}

// Logger returns the named subsystem's logger, creating it on first use.
func Logger(subsystem string) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[subsystem]; ok {
		return l
	}
	l := root.WithField("subsystem", subsystem)
	loggers[subsystem] = l
	return l
}

// SetOutputLevel adjusts the root logger's level, e.g. to logrus.DebugLevel
// when the caller wants every subsystem verbose. This level is the only
// setting that filters subsystem loggers.
func SetOutputLevel(level logrus.Level) {
	root.SetLevel(level)
}
