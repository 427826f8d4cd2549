// Package ir defines the compiler's intermediate representation: a
// module of functions holding linear blocks of namespaced operations,
// plus the lowering from a parsed program and a lightweight verifier.
package ir

import (
	"fmt"
	"strings"

	"quasar/internal/coupling"
	"quasar/internal/parser"
)

// Value is a typed IR symbol (function parameters, results).
type Value struct {
	Name string
	Type string // "i64", "f64", "bool", "qreg", "qbit", "void"
}

// Op is one IR operation. Name is a namespaced tag ("q.h",
// "q.cnot_expr", ...). Structured control flow and bodies stay attached
// via Sub so passes and the emitter see into them without re-parsing.
type Op struct {
	Name  string
	Args  []string
	Attrs map[string]string
	Sub   *parser.Instr // original instruction for structured ops; nil for pass-built primitives
	Line  int
}

func (o *Op) String() string {
	args := make([]string, len(o.Args))
	for i, a := range o.Args {
		args[i] = fmt.Sprintf("%q", a)
	}
	s := fmt.Sprintf("%s(%s)", o.Name, strings.Join(args, ", "))
	if o.Line > 0 {
		s += fmt.Sprintf("  // @%d", o.Line)
	}
	return s
}

// Block owns an ordered, mutable list of operations.
type Block struct {
	Name string
	Ops  []*Op
}

func (b *Block) Append(op *Op) *Op {
	b.Ops = append(b.Ops, op)
	return op
}

// Replace substitutes the op at index i with repl, in place.
func (b *Block) Replace(i int, repl []*Op) {
	out := make([]*Op, 0, len(b.Ops)-1+len(repl))
	out = append(out, b.Ops[:i]...)
	out = append(out, repl...)
	out = append(out, b.Ops[i+1:]...)
	b.Ops = out
}

// Function owns an ordered list of blocks. Only the entry block is
// populated by the current lowering; control flow is structured inside
// operations, not split across blocks.
type Function struct {
	Name   string
	Params []Value
	Blocks []*Block
	Ret    string
}

func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		f.Blocks = append(f.Blocks, &Block{Name: "entry"})
	}
	return f.Blocks[0]
}

// Meta carries module-level facts: the register, pass results, and the
// function-template table.
type Meta struct {
	Reg      string
	NQubits  int
	Seed     int64
	HasSeed  bool
	Funcs    map[string]parser.FuncDef
	Coupling *coupling.Graph

	// Pass-computed.
	Depth     int
	TwoQDepth int
	Counts    map[string]int
	Verify    []string
}

// Module is the unit of compilation.
type Module struct {
	Funcs []*Function
	Meta  Meta
}

func (m *Module) Lookup(name string) *Function {
	for _, fn := range m.Funcs {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// Dump renders the module as text for the ir CLI command.
func (m *Module) Dump() string {
	var sb strings.Builder
	for _, fn := range m.Funcs {
		params := make([]string, len(fn.Params))
		for i, p := range fn.Params {
			params[i] = p.Name + ":" + p.Type
		}
		sb.WriteString(fmt.Sprintf("fn @%s(%s)", fn.Name, strings.Join(params, ", ")))
		if fn.Ret != "" {
			sb.WriteString(" -> " + fn.Ret)
		}
		sb.WriteString(" {\n")
		for _, bb := range fn.Blocks {
			sb.WriteString(fmt.Sprintf("  ^%s:\n", bb.Name))
			for _, op := range bb.Ops {
				sb.WriteString("    " + op.String() + "\n")
			}
		}
		sb.WriteString("}\n")
	}
	return sb.String()
}

// OpName maps an instruction kind to its IR operation name.
func OpName(k parser.Kind) string {
	return "q." + strings.ToLower(string(k))
}

// Lower embeds a parsed program into a single-function module, one op
// per instruction, arguments carried unmodified. Passes are responsible
// for decomposition, routing, and metrics.
func Lower(p *parser.Program) (*Module, error) {
	if p == nil || p.NQubits == 0 || p.RegName == "" {
		return nil, fmt.Errorf("program must ALLOCATE before lowering")
	}
	m := &Module{
		Meta: Meta{
			Reg:     p.RegName,
			NQubits: p.NQubits,
			Seed:    p.Seed,
			HasSeed: p.HasSeed,
			Funcs:   p.Funcs,
		},
	}
	main := &Function{
		Name:   "main",
		Params: []Value{{Name: p.RegName, Type: "qreg"}},
		Ret:    "void",
	}
	m.Funcs = append(m.Funcs, main)
	b := main.Entry()

	for i := range p.Instrs {
		ins := &p.Instrs[i]
		op := &Op{
			Name: OpName(ins.Kind),
			Args: ins.Args,
			Line: ins.Line,
		}
		switch ins.Kind {
		case parser.KindMeasureAll:
			op.Args = append(append([]string{}, ins.Args...), fmt.Sprintf("%d", ins.Shots))
		case parser.KindQFT:
			op.Args = append(append([]string{}, ins.Args...), fmt.Sprintf("%t", ins.NoSwap))
		case parser.KindIQFT:
			op.Args = append(append([]string{}, ins.Args...), fmt.Sprintf("%t", ins.Reverse))
		case parser.KindIfChain, parser.KindForInReg, parser.KindCall, parser.KindCallR:
			op.Sub = ins
		}
		b.Append(op)
	}

	m.Meta.Verify = Verify(m)
	return m, nil
}

// opArity lists expected argument counts for commonly used operations;
// a nil entry means any count is accepted.
var opArity = map[string][]int{
	"q.h":              {2},
	"q.x":              {2},
	"q.z":              {2},
	"q.rz_expr":        {3},
	"q.cnot_expr":      {3},
	"q.swap_expr":      {3},
	"q.qft":            {2},
	"q.iqft":           {2},
	"q.hadamard_layer": {1},
	"q.measure_all":    {1, 2},
	"q.markstate":      {2},
	"q.grover_iterate": {2},
}

// Verify checks module metadata and operation arities. Findings are
// advisory: they are attached to metadata, never abort compilation.
func Verify(m *Module) []string {
	var errs []string
	if m.Meta.Reg == "" || m.Meta.NQubits == 0 {
		errs = append(errs, "meta missing: register name or qubit count")
	}
	for _, fn := range m.Funcs {
		for _, bb := range fn.Blocks {
			for _, op := range bb.Ops {
				want, ok := opArity[op.Name]
				if !ok {
					continue
				}
				got := len(op.Args)
				match := false
				for _, w := range want {
					if got == w {
						match = true
						break
					}
				}
				if !match {
					errs = append(errs, fmt.Sprintf("arity error: %s expects %v args, got %d", op.Name, want, got))
				}
			}
		}
	}
	return errs
}
