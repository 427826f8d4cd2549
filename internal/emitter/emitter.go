// Package emitter turns an instruction stream (raw or IR-processed)
// into OpenQASM 3 text plus circuit-quality metrics. Emission never
// fails: semantic problems become inline diagnostic comments so the
// output stays syntactically valid.
package emitter

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"quasar/internal/coupling"
	"quasar/internal/diagnostics"
	"quasar/internal/expreval"
	"quasar/internal/ir"
	"quasar/internal/metrics"
	"quasar/internal/parser"
	"quasar/internal/passes"
)

// Options configures one emission.
type Options struct {
	AncillaBudget int
	DecomposeCCX  bool
	Coupling      *coupling.Graph
	UseIR         bool
}

// Result carries the emitted assembly and its metrics; PassLog is
// populated only on the IR path.
type Result struct {
	Assembly string
	Metrics  metrics.Summary
	PassLog  []string
}

// Emitter emits one program. Not reusable across programs.
type Emitter struct {
	prog  *parser.Program
	opts  Options
	n     int
	reg   string
	lines []string
	tr    *metrics.Tracker
	cbits map[string]int
	funcs map[string]parser.FuncDef
	env   expreval.Env
}

// New prepares an emitter; the program must have allocated a register.
func New(p *parser.Program, opts Options) (*Emitter, error) {
	if p == nil || p.NQubits == 0 {
		return nil, fmt.Errorf("program must ALLOCATE before transpile")
	}
	return &Emitter{prog: p, opts: opts, n: p.NQubits, reg: p.RegName}, nil
}

// Emit produces the assembly text and metrics.
func (e *Emitter) Emit() (*Result, error) {
	instrs := e.prog.Instrs
	res := &Result{}

	if e.opts.UseIR {
		m, err := ir.Lower(e.prog)
		if err != nil {
			return nil, err
		}
		m.Meta.Coupling = e.opts.Coupling
		ctx := passes.Run(m)
		res.PassLog = ctx.Log
		instrs = irToInstrs(m)
	}

	e.lines = []string{
		"OPENQASM 3.0;",
		`include "stdgates.inc";`,
		fmt.Sprintf("qubit[%d] %s;", e.n, e.reg),
		fmt.Sprintf("bit[%d] c;", e.n),
	}
	e.tr = metrics.New(e.n)
	e.env = make(expreval.Env)
	e.funcs = make(map[string]parser.FuncDef, len(e.prog.Funcs))
	for name, def := range e.prog.Funcs {
		e.funcs[name] = def
	}

	// Map named classical bits before emission so conditionals can
	// rewrite symbols into indexed references.
	e.cbits = make(map[string]int)
	for _, ins := range instrs {
		if ins.Kind == parser.KindMeasureOne {
			if q, err := expreval.Index(ins.Args[1], nil, e.n); err == nil {
				e.cbits[ins.Args[2]] = q
			}
		}
	}

	e.emitSeq(instrs)
	e.footer()

	res.Assembly = strings.Join(e.lines, "\n")
	res.Metrics = e.tr.Summary()
	return res, nil
}

// irToInstrs maps IR ops back into instruction shape so emission is
// shared between the raw and IR paths. SWAP expands to 3 CNOTs.
func irToInstrs(m *ir.Module) []parser.Instr {
	var out []parser.Instr
	for _, fn := range m.Funcs {
		for _, bb := range fn.Blocks {
			for _, op := range bb.Ops {
				if op.Sub != nil {
					out = append(out, *op.Sub)
					continue
				}
				switch op.Name {
				case "q.h", "q.x", "q.z":
					out = append(out, parser.Instr{Kind: parser.Kind(strings.ToUpper(strings.TrimPrefix(op.Name, "q."))), Args: op.Args})
				case "q.rz_expr":
					out = append(out, parser.Instr{Kind: parser.KindRz, Args: op.Args})
				case "q.cnot_expr":
					out = append(out, parser.Instr{Kind: parser.KindCNot, Args: op.Args})
				case "q.swap_expr":
					reg, a, b := op.Args[0], op.Args[1], op.Args[2]
					out = append(out,
						parser.Instr{Kind: parser.KindCNot, Args: []string{reg, a, b}},
						parser.Instr{Kind: parser.KindCNot, Args: []string{reg, b, a}},
						parser.Instr{Kind: parser.KindCNot, Args: []string{reg, a, b}},
					)
				case "q.qft":
					out = append(out, parser.Instr{Kind: parser.KindQFT, Args: op.Args[:1], NoSwap: flag(op.Args, 1)})
				case "q.iqft":
					out = append(out, parser.Instr{Kind: parser.KindIQFT, Args: op.Args[:1], Reverse: flag(op.Args, 1)})
				case "q.measure_all":
					shots := 0
					if len(op.Args) > 1 {
						shots, _ = strconv.Atoi(op.Args[1])
					}
					out = append(out, parser.Instr{Kind: parser.KindMeasureAll, Args: op.Args[:1], Shots: shots})
				default:
					kind := parser.Kind(strings.ToUpper(strings.TrimPrefix(op.Name, "q.")))
					out = append(out, parser.Instr{Kind: kind, Args: op.Args})
				}
			}
		}
	}
	return out
}

func flag(args []string, i int) bool {
	return i < len(args) && args[i] == "true"
}

// ---- primitive emission ----

func (e *Emitter) add(s string) { e.lines = append(e.lines, s) }

func (e *Emitter) errf(format string, args ...interface{}) {
	e.add("// ERROR: " + fmt.Sprintf(format, args...))
}

func (e *Emitter) h(q int) {
	e.add(fmt.Sprintf("h %s[%d];", e.reg, q))
	e.tr.Count("h")
	e.tr.Touch(0, q)
	e.tr.Barrier(q)
}

func (e *Emitter) x(q int) {
	e.add(fmt.Sprintf("x %s[%d];", e.reg, q))
	e.tr.Touch(0, q)
	e.tr.Barrier(q)
}

func (e *Emitter) z(q int) {
	e.add(fmt.Sprintf("z %s[%d];", e.reg, q))
	e.tr.Touch(0, q)
	e.tr.Barrier(q)
}

func (e *Emitter) rz(theta string, q int) {
	// Angle text is copied verbatim, never evaluated here.
	e.add(fmt.Sprintf("rz(%s) %s[%d];", theta, e.reg, q))
}

func (e *Emitter) tgate(q int) {
	e.tr.TGate(q, "t")
	e.add(fmt.Sprintf("t %s[%d];", e.reg, q))
}

func (e *Emitter) tdg(q int) {
	e.tr.TGate(q, "tdg")
	e.add(fmt.Sprintf("tdg %s[%d];", e.reg, q))
}

func (e *Emitter) cp(a, b int, theta float64) {
	e.add(fmt.Sprintf("cp(%v) %s[%d], %s[%d];", theta, e.reg, a, e.reg, b))
	e.tr.Count("cp")
	e.tr.Touch(1, a, b)
	e.tr.Barrier(a, b)
}

func (e *Emitter) cxPrim(a, b int) {
	e.add(fmt.Sprintf("cx %s[%d], %s[%d];", e.reg, a, e.reg, b))
	e.tr.Count("cx")
	e.tr.Touch(1, a, b)
	e.tr.Barrier(a, b)
}

// cx routes through the coupling graph when the operands are not
// adjacent, swapping the control along a shortest path and back.
func (e *Emitter) cx(a, b int) {
	g := e.opts.Coupling
	if g.Empty() || g.Adjacent(a, b) {
		e.cxPrim(a, b)
		return
	}
	path := g.ShortestPath(a, b)
	if len(path) < 2 {
		e.cxPrim(a, b)
		return
	}
	cur := a
	for _, nxt := range path[1 : len(path)-1] {
		e.cxPrim(cur, nxt)
		e.cxPrim(nxt, cur)
		e.cxPrim(cur, nxt)
		cur = nxt
	}
	e.cxPrim(cur, b)
}

func (e *Emitter) swap(a, b int) {
	e.cx(a, b)
	e.cx(b, a)
	e.cx(a, b)
}

// ccx emits a Toffoli-equivalent: either the exact ancilla-free 7-T
// decomposition (order significant for T-depth accounting) or a native
// ccx statement when decomposition is disabled.
func (e *Emitter) ccx(a, b, c int) {
	if !e.opts.DecomposeCCX {
		e.add(fmt.Sprintf("ccx %s[%d], %s[%d], %s[%d];", e.reg, a, e.reg, b, e.reg, c))
		e.tr.Count("ccx")
		e.tr.Touch(1, a, b, c)
		e.tr.Barrier(a, b, c)
		return
	}
	e.h(c)
	e.tgate(a)
	e.tgate(b)
	e.tgate(c)
	e.cxPrim(b, c)
	e.tdg(c)
	e.cxPrim(a, c)
	e.tgate(c)
	e.cxPrim(b, c)
	e.tdg(c)
	e.cxPrim(a, c)
	e.h(c)
}

// flipAll emits the phase flip on |11..1> used by both the diffusion
// operator and the mark-state oracle. Exact for n <= 3; beyond that a
// placeholder is emitted, never a silent approximation.
func (e *Emitter) flipAll() {
	t := e.n - 1
	switch e.n {
	case 1:
		e.z(0)
	case 2:
		e.h(t)
		e.cx(0, t)
		e.h(t)
	case 3:
		e.h(t)
		e.ccx(0, 1, t)
		e.h(t)
	default:
		e.add(fmt.Sprintf("// TODO: exact MCX for n>3 (phase-correct); using placeholder (n=%d)", e.n))
		e.h(t)
		e.add("// [placeholder mct]")
		e.h(t)
	}
}

func (e *Emitter) diffusion() {
	for q := 0; q < e.n; q++ {
		e.h(q)
	}
	for q := 0; q < e.n; q++ {
		e.x(q)
	}
	e.flipAll()
	for q := 0; q < e.n; q++ {
		e.x(q)
	}
	for q := 0; q < e.n; q++ {
		e.h(q)
	}
}

func (e *Emitter) markstate(bits string) {
	if len(bits) != e.n {
		e.errf("MARKSTATE length mismatch")
		return
	}
	// X on zeros maps |bits> onto |11..1>; rightmost character is
	// qubit 0.
	for i := 0; i < e.n; i++ {
		if bits[len(bits)-1-i] == '0' {
			e.x(i)
		}
	}
	e.flipAll()
	for i := 0; i < e.n; i++ {
		if bits[len(bits)-1-i] == '0' {
			e.x(i)
		}
	}
}

func (e *Emitter) qft(noswap bool) {
	for j := 0; j < e.n; j++ {
		e.h(j)
		for k := j + 1; k < e.n; k++ {
			e.cp(k, j, math.Pi/float64(int(1)<<(k-j)))
		}
	}
	if !noswap {
		for i := 0; i < e.n/2; i++ {
			e.swap(i, e.n-1-i)
		}
	}
}

func (e *Emitter) iqft(reverse bool) {
	if reverse {
		for i := 0; i < e.n/2; i++ {
			e.swap(i, e.n-1-i)
		}
	}
	for j := e.n - 1; j >= 0; j-- {
		for k := e.n - 1; k > j; k-- {
			e.cp(k, j, -math.Pi/float64(int(1)<<(k-j)))
		}
		e.h(j)
	}
}

// ---- conditionals ----

var wsRe = regexp.MustCompile(`\s+`)

// normCond rewrites named classical bits into indexed references and
// normalizes redundant parentheses and whitespace.
func (e *Emitter) normCond(expr string) string {
	s := strings.TrimSpace(expr)
	for name, idx := range e.cbits {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
		s = re.ReplaceAllString(s, fmt.Sprintf("c[%d]", idx))
	}
	s = wsRe.ReplaceAllString(s, " ")
	s = strings.TrimLeft(s, "(")
	s = strings.TrimRight(s, ")")
	for strings.Contains(s, "((") {
		s = strings.ReplaceAll(s, "((", "(")
	}
	for strings.Contains(s, "))") {
		s = strings.ReplaceAll(s, "))", ")")
	}
	s = strings.ReplaceAll(s, "( ", "(")
	s = strings.ReplaceAll(s, " )", ")")
	return s
}

// emitIfChain emits a properly nested if/else chain: the head IF gets
// its own block, and each ELIF becomes an if nested inside the
// preceding else scope.
func (e *Emitter) emitIfChain(branches []parser.Branch) {
	if len(branches) == 0 {
		return
	}

	var emitTail func(i int, nested bool)
	emitTail = func(i int, nested bool) {
		if i >= len(branches) {
			return
		}
		br := branches[i]
		if br.Kind == "ELSE" {
			if nested {
				e.emitSeq(br.Body)
			} else {
				e.add("else {")
				e.emitSeq(br.Body)
				e.add("}")
			}
			return
		}
		c := e.normCond(br.Cond)
		if nested {
			e.add(fmt.Sprintf("if (%s) {", c))
			e.emitSeq(br.Body)
			if i+1 < len(branches) {
				e.add("} else {")
				emitTail(i+1, true)
				e.add("}")
			} else {
				e.add("}")
			}
		} else {
			e.add("else {")
			emitTail(i, true)
			e.add("}")
		}
	}

	head := branches[0]
	e.add(fmt.Sprintf("if (%s) {", e.normCond(head.Cond)))
	e.emitSeq(head.Body)
	e.add("}")
	if len(branches) > 1 {
		emitTail(1, false)
	}
}

// ---- call inlining ----

// withBindings binds formal parameters to values in the emission
// environment, runs fn, then restores any shadowed bindings.
func (e *Emitter) withBindings(names []string, vals []float64, fn func()) {
	saved := make(map[string]float64, len(names))
	present := make(map[string]bool, len(names))
	for i, name := range names {
		if old, ok := e.env[name]; ok {
			saved[name] = old
			present[name] = true
		}
		e.env[name] = vals[i]
	}
	fn()
	for _, name := range names {
		if present[name] {
			e.env[name] = saved[name]
		} else {
			delete(e.env, name)
		}
	}
}

func (e *Emitter) inlineCall(ins parser.Instr, kindLabel string) {
	name := ins.Args[0]
	actuals := ins.Args[1:]
	def, ok := e.funcs[name]
	if !ok {
		e.errf("unknown %s %s", kindLabel, name)
		return
	}
	if len(def.Params) != len(actuals) {
		e.errf("%s %s arity mismatch", kindLabel, name)
		return
	}
	vals := make([]float64, len(actuals))
	for i, a := range actuals {
		v, err := expreval.Number(a, e.env)
		if err != nil {
			e.errf("%s %s: bad argument %q", kindLabel, name, a)
			return
		}
		vals[i] = v
	}
	e.withBindings(def.Params, vals, func() {
		e.emitSeq(def.Body)
	})
}

// ---- emission driver ----

func (e *Emitter) idx(expr string) (int, bool) {
	q, err := expreval.Index(expr, e.env, e.n)
	if err != nil {
		e.errf("%v", err)
		return 0, false
	}
	return q, true
}

func (e *Emitter) emitSeq(instrs []parser.Instr) {
	for _, ins := range instrs {
		switch ins.Kind {
		case parser.KindAllocate, parser.KindLet, parser.KindFnDef:
			// no emitted text

		case parser.KindH, parser.KindX, parser.KindZ:
			if q, ok := e.idx(ins.Args[1]); ok {
				switch ins.Kind {
				case parser.KindH:
					e.h(q)
				case parser.KindX:
					e.x(q)
				default:
					e.z(q)
				}
			}

		case parser.KindRz:
			if q, ok := e.idx(ins.Args[1]); ok {
				e.rz(ins.Args[2], q)
			}

		case parser.KindCNot:
			c, okC := e.idx(ins.Args[1])
			t, okT := e.idx(ins.Args[2])
			if okC && okT {
				e.cx(c, t)
			}

		case parser.KindSwap:
			a, okA := e.idx(ins.Args[1])
			b, okB := e.idx(ins.Args[2])
			if okA && okB {
				e.swap(a, b)
			}

		case parser.KindHadamardLayer:
			for q := 0; q < e.n; q++ {
				e.h(q)
			}

		case parser.KindDiffusion:
			e.diffusion()

		case parser.KindMarkState:
			e.markstate(ins.Args[1])

		case parser.KindGroverIterate:
			e.markstate(ins.Args[1])
			e.diffusion()

		case parser.KindQFT:
			e.qft(ins.NoSwap)

		case parser.KindIQFT:
			e.iqft(ins.Reverse)

		case parser.KindMeasureOne:
			if q, ok := e.idx(ins.Args[1]); ok {
				e.add(fmt.Sprintf("c[%d] = measure %s[%d];", q, e.reg, q))
				e.tr.Barrier(q)
			}

		case parser.KindMeasureAll:
			e.add(fmt.Sprintf("c = measure %s;", e.reg))
			e.tr.BarrierAll()

		case parser.KindExpect:
			e.add(fmt.Sprintf("// EXPECT %q on %s  (interpreter-only)", ins.Args[0], strings.Join(ins.Args[1:], ", ")))

		case parser.KindVar:
			e.add(fmt.Sprintf("// VAR %q on %s  (interpreter-only)", ins.Args[0], strings.Join(ins.Args[1:], ", ")))

		case parser.KindIfChain:
			e.emitIfChain(ins.Branches)

		case parser.KindForInReg:
			// Unrolled: the target has no loop construct.
			for i := 0; i < e.n; i++ {
				e.withBindings([]string{ins.Args[0]}, []float64{float64(i)}, func() {
					e.emitSeq(ins.Body)
				})
			}

		case parser.KindCall:
			e.inlineCall(ins, "CALL")

		case parser.KindCallR:
			e.inlineCall(ins, "CALLR")
			e.add(fmt.Sprintf("// NOTE: CALLR %s -> return assigned to %s (classical), ignored in QASM", ins.Args[0], ins.Target))

		case parser.KindReturn:
			e.add(fmt.Sprintf("// RETURN %s (classical; ignored in QASM)", ins.Args[0]))

		case parser.KindImport:
			e.emitImport(ins.Args[0])

		case parser.KindTrace:
			e.add(fmt.Sprintf("// TRACE: %s", ins.Args[0]))

		case parser.KindDumpState:
			e.add("// DUMPSTATE (interpreter-only)")

		case parser.KindProbs:
			e.add("// PROBS (interpreter-only)")

		default:
			e.errf("unknown instruction %s", ins.Kind)
		}
	}
}

// emitImport inlines another program and merges its function table.
// Read or parse failure becomes a diagnostic comment.
func (e *Emitter) emitImport(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		e.errf("IMPORT %q: %v", path, err)
		return
	}
	sub, err := parser.Parse(path, string(data), diagnostics.NewBag())
	if err != nil {
		e.errf("IMPORT %q: %v", path, err)
		return
	}
	for name, def := range sub.Funcs {
		e.funcs[name] = def
	}
	e.emitSeq(sub.Instrs)
}

func (e *Emitter) footer() {
	s := e.tr.Summary()
	e.lines = append(e.lines,
		"// ---- metrics ----",
		fmt.Sprintf("// depth (ASAP with phase commuting): %d", s.Depth),
		fmt.Sprintf("// two_qubit_count (cx+ccx+cp): %d", s.TwoQubitCount),
		fmt.Sprintf("// two_qubit_equiv (ccx=2x): %d", s.TwoQubitEquiv),
		fmt.Sprintf("// two_qubit_depth (layers of 2q interaction): %d", s.TwoQubitDepth),
		fmt.Sprintf("// T-count: %d", s.TCount),
		fmt.Sprintf("// T-depth (global, Clifford-commuted): %d", s.TDepth),
	)
}
