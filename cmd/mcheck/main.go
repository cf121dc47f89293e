// Command mcheck is the checker's CLI entrypoint: it parses the CLI
// surface via cobra/pflag into an internal/config.Config, launches the
// application under pkg/proto.Session, runs the requested checker, and
// exits with the code the result's Outcome maps to. Grounded on
// delve's cmd/dlv, which draws exactly this line between flag parsing
// and the debugger it drives.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dpor-mc/mc/internal/config"
	"github.com/dpor-mc/mc/pkg/checker"
	"github.com/dpor-mc/mc/pkg/dwarfdt"
	"github.com/dpor-mc/mc/pkg/mclog"
	"github.com/dpor-mc/mc/pkg/proto"
	"github.com/dpor-mc/mc/pkg/remote"
	"github.com/dpor-mc/mc/pkg/visited"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Default()
	var verbose bool
	var socketDir string

	root := &cobra.Command{
		Use:          "mcheck <program> [args...]",
		Short:        "explore every interleaving of a simulated application and report safety, liveness, and determinism violations",
		SilenceUsage: true,
		Args:         cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Program = args[0]
			cfg.Args = args[1:]
			if verbose {
				mclog.SetOutputLevel(logrus.DebugLevel)
			}
			if cfg.SocketPath == "" {
				path, err := defaultSocketPath(socketDir)
				if err != nil {
					return err
				}
				cfg.SocketPath = path
			}
			code, err := runChecker(cfg)
			lastExitCode = code
			return err
		},
	}

	flags := root.Flags()
	flags.Uint32Var(&cfg.MaxDepth, "max-depth", cfg.MaxDepth, "maximum exploration depth before a state is treated as an abort")
	flags.Int32Var(&cfg.VisitedMax, "visited-max", cfg.VisitedMax, "cap on retained visited-set entries, 0 for unbounded")
	flags.Uint32Var(&cfg.CheckpointPeriod, "checkpoint-period", cfg.CheckpointPeriod, "states between full snapshots, 0 for every state")
	flags.StringVar((*string)(&cfg.Reduction), "reduction", string(cfg.Reduction), "reduction mode: none or dpor")
	flags.BoolVar(&cfg.Termination, "termination", cfg.Termination, "also report non-progressive cycles during safety exploration")
	flags.BoolVar(&cfg.CommsDeterminism, "comms-determinism", cfg.CommsDeterminism, "run the communication-determinism checker")
	flags.BoolVar(&cfg.SendDeterminism, "send-determinism", cfg.SendDeterminism, "run the communication-determinism checker (same check as --comms-determinism; receives are compared too)")
	flags.StringVar(&cfg.PropertyFile, "property-file", cfg.PropertyFile, "LTL property automaton file, enables the liveness checker")
	flags.BoolVar(&cfg.Hash, "hash", cfg.Hash, "has no effect: every snapshot always carries a content hash")
	flags.BoolVar(&cfg.SparseCheckpoint, "sparse-checkpoint", cfg.SparseCheckpoint, "use content-addressed chunked regions instead of flat copies")
	flags.StringVar(&cfg.DotOutput, "dot-output", cfg.DotOutput, "write the explored state graph to this file in dot format")
	flags.StringVar(&cfg.SocketPath, "socket-path", cfg.SocketPath, "UNIX socket path for the application to connect back on")
	flags.StringVar(&socketDir, "socket-dir", os.TempDir(), "directory to place an auto-generated socket in, when --socket-path is empty")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging on every subsystem")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr(), err)
		if lastExitCode != 0 {
			return lastExitCode
		}
		return 63
	}
	return lastExitCode
}

// lastExitCode carries the outcome exit code out of cobra's RunE, which
// only returns an error, not a status code.
var lastExitCode int

func stderr() *os.File { return os.Stderr }

func defaultSocketPath(dir string) (string, error) {
	f, err := os.CreateTemp(dir, "mcheck-*.sock")
	if err != nil {
		return "", fmt.Errorf("mcheck: reserving a socket path: %w", err)
	}
	path := f.Name()
	f.Close()
	os.Remove(path)
	return path, nil
}

func archOptions(loader dwarfdt.Loader) (remote.Options, error) {
	switch runtime.GOARCH {
	case "amd64":
		return remote.AMD64Options(loader), nil
	case "arm64":
		return remote.ARM64Options(loader), nil
	default:
		return remote.Options{}, fmt.Errorf("mcheck: unsupported architecture %s", runtime.GOARCH)
	}
}

func runChecker(cfg config.Config) (int, error) {
	opts, err := archOptions(dwarfdt.ELFLoader{})
	if err != nil {
		return 63, err
	}

	sess, err := proto.Launch(proto.SessionOptions{
		Program:          cfg.Program,
		Args:             cfg.Args,
		SocketPath:       cfg.SocketPath,
		RemoteOptions:    opts,
		SparseCheckpoint: cfg.SparseCheckpoint,
	})
	if err != nil {
		return 63, err
	}
	defer sess.Kill()

	initial, err := sess.TakeSnapshot(0)
	if err != nil {
		return 63, err
	}

	switch {
	case cfg.CommsDeterminism || cfg.SendDeterminism:
		second, err := sess.TakeSnapshot(0)
		if err != nil {
			return 63, err
		}
		result, err := checker.RunCommDet(sess, cfg.Reduction.CheckerMode(), int(cfg.MaxDepth), int(cfg.CheckpointPeriod), initial, second)
		if err != nil {
			return 63, err
		}
		if !result.Deterministic {
			printNondeterminism(result)
			return 5, nil
		}
		return 0, nil

	case cfg.PropertyFile != "":
		automaton, propositionNames, err := loadAutomaton(cfg.PropertyFile)
		if err != nil {
			return 63, err
		}
		lc := &checker.LivenessChecker{App: sess, Automaton: automaton, MaxDepth: int(cfg.MaxDepth)}
		result, err := lc.Explore(initial, propositionNames)
		if err != nil {
			return 63, err
		}
		printResult(result)
		return result.Outcome.ExitCode(), nil

	default:
		sc := &checker.SafetyChecker{
			App:              sess,
			Visited:          visited.New(int(cfg.VisitedMax)),
			Reduction:        cfg.Reduction.CheckerMode(),
			MaxDepth:         int(cfg.MaxDepth),
			CheckpointPeriod: int(cfg.CheckpointPeriod),
			NonTermination:   cfg.Termination,
		}
		if cfg.DotOutput != "" {
			f, err := os.Create(cfg.DotOutput)
			if err != nil {
				return 63, err
			}
			defer f.Close()
			sc.Dot = checker.NewDotWriter(f)
			defer sc.Dot.Close()
		}
		result, err := sc.Explore(initial)
		if err != nil {
			return 63, err
		}
		printResult(result)
		return result.Outcome.ExitCode(), nil
	}
}

func printResult(result *checker.Result) {
	out := colorable.NewColorableStdout()
	color := isatty.IsTerminal(os.Stdout.Fd())

	if result.Outcome == checker.OutcomeNoViolation {
		fmt.Fprintf(out, "no violation found after exploring %d states\n", result.StatesCount)
		return
	}

	if color {
		fmt.Fprintf(out, "\x1b[31mviolation:\x1b[0m %s\n", result.Message)
	} else {
		fmt.Fprintf(out, "violation: %s\n", result.Message)
	}
	fmt.Fprint(out, "trace: ")
	for i, el := range result.Trace {
		if i > 0 {
			fmt.Fprint(out, ";")
		}
		fmt.Fprintf(out, "%d,%d", el.Actor, el.Value.Kind)
	}
	fmt.Fprintln(out)
}

func printNondeterminism(result *checker.CommDetResult) {
	out := colorable.NewColorableStdout()
	m := result.Mismatch
	fmt.Fprintf(out, "communication non-determinism detected: actor %d diverged at history index %d (want %+v, got %+v)\n",
		m.Actor, m.Index, m.Want, m.Got)
}
