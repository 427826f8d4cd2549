// Package driver orchestrates the compilation and simulation surfaces:
// it loads source, runs the parser, and dispatches to the emitter, the
// pass pipeline, or the simulator.
package driver

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"quasar/internal/coupling"
	"quasar/internal/diagnostics"
	"quasar/internal/emitter"
	"quasar/internal/ir"
	"quasar/internal/metrics"
	"quasar/internal/parser"
	"quasar/internal/passes"
	"quasar/internal/sim"
)

// Options configures one driver invocation. Either Path or Source must
// be set; Source wins when both are.
type Options struct {
	Path   string
	Source string

	UseIR         bool
	CouplingSpec  string
	AncillaBudget int
	DecomposeCCX  bool
	Shots         int // overrides the final MEASURE shot count when > 0
	Debug         bool

	Output io.Writer // simulator/trace output; default os.Stdout
}

// TranspileResult is the output of one transpilation.
type TranspileResult struct {
	Assembly string
	Metrics  metrics.Summary
	PassLog  []string
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

// Load reads and parses the configured source. Parse diagnostics are
// rendered to stderr before the error is returned.
func Load(opts Options) (*parser.Program, error) {
	text := opts.Source
	name := opts.Path
	if text == "" {
		if name == "" {
			return nil, fmt.Errorf("no source given")
		}
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("reading source: %w", err)
		}
		text = string(data)
	}
	if name == "" {
		name = "<source>"
	}

	bag := diagnostics.NewBag()
	prog, err := parser.Parse(name, text, bag)
	if err != nil {
		bag.EmitAll()
		return nil, err
	}
	return prog, nil
}

func parseCoupling(opts Options, log zerolog.Logger) (*coupling.Graph, error) {
	if opts.CouplingSpec == "" {
		return nil, nil
	}
	g, err := coupling.Parse(opts.CouplingSpec)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("spec", opts.CouplingSpec).Msg("coupling map loaded")
	return g, nil
}

// Transpile compiles source to assembly text plus metrics.
func Transpile(opts Options) (*TranspileResult, error) {
	log := newLogger(opts.Debug)
	prog, err := Load(opts)
	if err != nil {
		return nil, err
	}
	g, err := parseCoupling(opts, log)
	if err != nil {
		return nil, err
	}

	em, err := emitter.New(prog, emitter.Options{
		AncillaBudget: opts.AncillaBudget,
		DecomposeCCX:  opts.DecomposeCCX,
		Coupling:      g,
		UseIR:         opts.UseIR,
	})
	if err != nil {
		return nil, err
	}
	res, err := em.Emit()
	if err != nil {
		return nil, err
	}
	log.Debug().
		Int("depth", res.Metrics.Depth).
		Int("two_qubit_count", res.Metrics.TwoQubitCount).
		Int("t_count", res.Metrics.TCount).
		Msg("transpiled")
	return &TranspileResult{Assembly: res.Assembly, Metrics: res.Metrics, PassLog: res.PassLog}, nil
}

// Run simulates the program and returns its measurement counts.
func Run(opts Options) (map[string]int, error) {
	log := newLogger(opts.Debug)
	prog, err := Load(opts)
	if err != nil {
		return nil, err
	}
	if opts.Shots > 0 {
		for i := range prog.Instrs {
			if prog.Instrs[i].Kind == parser.KindMeasureAll {
				prog.Instrs[i].Shots = opts.Shots
			}
		}
	}

	it, err := sim.New(prog)
	if err != nil {
		return nil, err
	}
	if opts.Output != nil {
		it.SetOutput(opts.Output)
	}
	counts, err := it.Run()
	if err != nil {
		return nil, err
	}
	log.Debug().Int("outcomes", len(counts)).Msg("run complete")
	return counts, nil
}

// DumpIR lowers the program and renders the module as text.
func DumpIR(opts Options) (string, error) {
	prog, err := Load(opts)
	if err != nil {
		return "", err
	}
	m, err := ir.Lower(prog)
	if err != nil {
		return "", err
	}
	return m.Dump(), nil
}

// Pipeline lowers the program, runs the pass pipeline, and returns the
// processed module together with the pass context.
func Pipeline(opts Options) (*ir.Module, *passes.Context, error) {
	log := newLogger(opts.Debug)
	prog, err := Load(opts)
	if err != nil {
		return nil, nil, err
	}
	m, err := ir.Lower(prog)
	if err != nil {
		return nil, nil, err
	}
	g, err := parseCoupling(opts, log)
	if err != nil {
		return nil, nil, err
	}
	m.Meta.Coupling = g
	ctx := passes.Run(m)
	return m, ctx, nil
}
