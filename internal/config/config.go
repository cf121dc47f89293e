// Package config defines the plain struct that carries every
// user-tunable knob of a checker run. CLI parsing is out of scope here;
// cmd/mcheck fills this struct from cobra/pflag and hands it to the
// checker packages, the same separation delve draws between cmd/dlv's
// flag parsing and the debugger.Config it builds.
package config

import "github.com/dpor-mc/mc/pkg/checker"

// Reduction selects the Safety checker's reduction mode.
type Reduction string

const (
	ReductionNone Reduction = "none"
	ReductionDPOR Reduction = "dpor"
)

// Config is every option named by the CLI surface table.
type Config struct {
	// Program is the application binary (and its argv) to fork/exec.
	Program string
	Args    []string

	MaxDepth         uint32
	VisitedMax       int32
	CheckpointPeriod uint32
	Reduction        Reduction
	Termination      bool

	CommsDeterminism bool
	SendDeterminism  bool

	PropertyFile string

	Hash             bool
	SparseCheckpoint bool

	DotOutput string

	// SocketPath is the UNIX socket the application connects back on;
	// empty selects an auto-generated path under os.TempDir.
	SocketPath string
}

// CheckerMode converts the CLI's string reduction option into the
// enum pkg/checker's SafetyChecker expects.
func (r Reduction) CheckerMode() checker.ReductionMode {
	if r == ReductionNone {
		return checker.ReductionNone
	}
	return checker.ReductionDPOR
}

// Default returns a Config with every CLI default from the surface
// table applied.
func Default() Config {
	return Config{
		MaxDepth:         1000,
		VisitedMax:       0,
		CheckpointPeriod: 0,
		Reduction:        ReductionDPOR,
	}
}
