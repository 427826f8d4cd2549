package sim

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"regexp"
	"time"

	"quasar/internal/diagnostics"
	"quasar/internal/expreval"
	"quasar/internal/parser"
)

// Context is the single mutable execution context threaded through
// every nested execution (conditional branches, loop bodies, inlined
// function calls). Callee effects are visible to the caller by
// construction.
type Context struct {
	State  *StateVector
	Reg    string
	CBits  map[string]int
	Vars   expreval.Env
	Funcs  map[string]parser.FuncDef
	Rng    *rand.Rand
	Out    io.Writer
	Counts map[string]int

	retVal  float64
	retSet  bool
	imports map[string]bool
}

// env merges variables and classical bits into one evaluation
// environment; classical bits enter as 0/1 values.
func (ctx *Context) env() expreval.Env {
	env := make(expreval.Env, len(ctx.Vars)+len(ctx.CBits))
	for k, v := range ctx.Vars {
		env[k] = v
	}
	for k, v := range ctx.CBits {
		env[k] = float64(v)
	}
	return env
}

// Interpreter runs one program to completion.
type Interpreter struct {
	prog *parser.Program
	ctx  *Context
}

// New prepares an interpreter; the program must have allocated a
// register.
func New(p *parser.Program) (*Interpreter, error) {
	if p == nil || p.NQubits == 0 {
		return nil, fmt.Errorf("program must ALLOCATE before run")
	}
	var src rand.Source
	if p.HasSeed {
		src = rand.NewSource(p.Seed)
	} else {
		src = rand.NewSource(time.Now().UnixNano())
	}
	funcs := make(map[string]parser.FuncDef, len(p.Funcs))
	for name, def := range p.Funcs {
		funcs[name] = def
	}
	return &Interpreter{
		prog: p,
		ctx: &Context{
			State:   NewStateVector(p.NQubits),
			Reg:     p.RegName,
			CBits:   make(map[string]int),
			Vars:    make(expreval.Env),
			Funcs:   funcs,
			Rng:     rand.New(src),
			Out:     os.Stdout,
			imports: make(map[string]bool),
		},
	}, nil
}

// SetOutput redirects trace/observable printing (default os.Stdout).
func (it *Interpreter) SetOutput(w io.Writer) { it.ctx.Out = w }

// Context exposes the execution context for inspection after a run.
func (it *Interpreter) Context() *Context { return it.ctx }

// Run executes the program and returns the final measurement counts,
// if any. Semantic errors are fatal.
func (it *Interpreter) Run() (map[string]int, error) {
	if err := it.exec(it.prog.Instrs); err != nil {
		return nil, err
	}
	return it.ctx.Counts, nil
}

func (it *Interpreter) idx(expr string) (int, error) {
	return expreval.Index(expr, it.ctx.env(), it.prog.NQubits)
}

func (it *Interpreter) exec(instrs []parser.Instr) error {
	ctx := it.ctx
	n := it.prog.NQubits
	for i := range instrs {
		ins := &instrs[i]
		switch ins.Kind {
		case parser.KindAllocate, parser.KindFnDef:
			// handled at parse time

		case parser.KindLet:
			v, err := expreval.Number(ins.Args[1], ctx.env())
			if err != nil {
				return fmt.Errorf("line %d: LET %s: %w", ins.Line, ins.Args[0], err)
			}
			ctx.Vars[ins.Args[0]] = v

		case parser.KindH, parser.KindX, parser.KindZ:
			q, err := it.idx(ins.Args[1])
			if err != nil {
				return fmt.Errorf("line %d: %w", ins.Line, err)
			}
			switch ins.Kind {
			case parser.KindH:
				ctx.State.ApplySingle(q, GateH)
			case parser.KindX:
				ctx.State.ApplySingle(q, GateX)
			default:
				ctx.State.ApplySingle(q, GateZ)
			}

		case parser.KindRz:
			q, err := it.idx(ins.Args[1])
			if err != nil {
				return fmt.Errorf("line %d: %w", ins.Line, err)
			}
			theta, err := expreval.Number(ins.Args[2], ctx.env())
			if err != nil {
				return fmt.Errorf("line %d: RZ angle: %w", ins.Line, err)
			}
			ctx.State.ApplySingle(q, GateRz(theta))

		case parser.KindCNot:
			if err := it.applyCNOT(ins); err != nil {
				return err
			}

		case parser.KindSwap:
			a, err := it.idx(ins.Args[1])
			if err != nil {
				return fmt.Errorf("line %d: %w", ins.Line, err)
			}
			b, err := it.idx(ins.Args[2])
			if err != nil {
				return fmt.Errorf("line %d: %w", ins.Line, err)
			}
			if err := it.swap(a, b); err != nil {
				return fmt.Errorf("line %d: %w", ins.Line, err)
			}

		case parser.KindHadamardLayer:
			for q := 0; q < n; q++ {
				ctx.State.ApplySingle(q, GateH)
			}

		case parser.KindDiffusion:
			it.diffusion()

		case parser.KindMarkState:
			if err := it.markstate(ins.Args[1]); err != nil {
				return fmt.Errorf("line %d: %w", ins.Line, err)
			}

		case parser.KindGroverIterate:
			if err := it.markstate(ins.Args[1]); err != nil {
				return fmt.Errorf("line %d: %w", ins.Line, err)
			}
			it.diffusion()

		case parser.KindQFT:
			if err := it.qft(ins.NoSwap); err != nil {
				return fmt.Errorf("line %d: %w", ins.Line, err)
			}

		case parser.KindIQFT:
			if err := it.iqft(ins.Reverse); err != nil {
				return fmt.Errorf("line %d: %w", ins.Line, err)
			}

		case parser.KindExpect, parser.KindVar:
			if err := it.observe(ins); err != nil {
				return fmt.Errorf("line %d: %w", ins.Line, err)
			}

		case parser.KindMeasureOne:
			q, err := it.idx(ins.Args[1])
			if err != nil {
				return fmt.Errorf("line %d: %w", ins.Line, err)
			}
			idx := ctx.State.SampleIndex(ctx.Rng)
			ctx.CBits[ins.Args[2]] = (idx >> q) & 1

		case parser.KindMeasureAll:
			ctx.Counts = ctx.State.Sample(ins.Shots, ctx.Rng)

		case parser.KindIfChain:
			if err := it.execIfChain(ins.Branches); err != nil {
				return err
			}

		case parser.KindForInReg:
			if err := it.execFor(ins); err != nil {
				return err
			}

		case parser.KindCall:
			if _, err := it.call(ins, false); err != nil {
				return fmt.Errorf("line %d: %w", ins.Line, err)
			}

		case parser.KindCallR:
			ret, err := it.call(ins, true)
			if err != nil {
				return fmt.Errorf("line %d: %w", ins.Line, err)
			}
			ctx.Vars[ins.Target] = ret

		case parser.KindReturn:
			v, err := expreval.Number(ins.Args[0], ctx.env())
			if err != nil {
				return fmt.Errorf("line %d: RETURN: %w", ins.Line, err)
			}
			ctx.retVal, ctx.retSet = v, true
			return nil

		case parser.KindImport:
			if err := it.execImport(ins.Args[0]); err != nil {
				return fmt.Errorf("line %d: %w", ins.Line, err)
			}

		case parser.KindTrace:
			fmt.Fprintf(ctx.Out, "[TRACE] %s\n", ins.Args[0])

		case parser.KindDumpState:
			it.dumpState()

		case parser.KindProbs:
			it.probs()

		default:
			return fmt.Errorf("line %d: unknown instruction %s", ins.Line, ins.Kind)
		}

		if ctx.retSet {
			return nil
		}
	}
	return nil
}

func (it *Interpreter) applyCNOT(ins *parser.Instr) error {
	c, err := it.idx(ins.Args[1])
	if err != nil {
		return fmt.Errorf("line %d: %w", ins.Line, err)
	}
	t, err := it.idx(ins.Args[2])
	if err != nil {
		return fmt.Errorf("line %d: %w", ins.Line, err)
	}
	if err := it.ctx.State.ApplyTwo(c, t, GateCNOT); err != nil {
		return fmt.Errorf("line %d: %w", ins.Line, err)
	}
	return nil
}

func (it *Interpreter) swap(a, b int) error {
	st := it.ctx.State
	if err := st.ApplyTwo(a, b, GateCNOT); err != nil {
		return err
	}
	if err := st.ApplyTwo(b, a, GateCNOT); err != nil {
		return err
	}
	return st.ApplyTwo(a, b, GateCNOT)
}

// diffusion is the exact inversion about the mean for any register
// size: H^n X^n, sign flip on |1...1>, X^n H^n (equal to 2|s><s|-I up
// to global phase). Deliberately more capable than the emitter's
// closed-form bound.
func (it *Interpreter) diffusion() {
	st := it.ctx.State
	n := st.N()
	for q := 0; q < n; q++ {
		st.ApplySingle(q, GateH)
	}
	for q := 0; q < n; q++ {
		st.ApplySingle(q, GateX)
	}
	st.Amps()[len(st.Amps())-1] *= -1
	for q := 0; q < n; q++ {
		st.ApplySingle(q, GateX)
	}
	for q := 0; q < n; q++ {
		st.ApplySingle(q, GateH)
	}
}

// markstate flips the sign of the amplitude at the basis state matching
// bits; the rightmost character is qubit 0.
func (it *Interpreter) markstate(bits string) error {
	st := it.ctx.State
	if len(bits) != st.N() {
		return fmt.Errorf("MARKSTATE bitstring length %d must match register size %d", len(bits), st.N())
	}
	idx := 0
	for i := 0; i < len(bits); i++ {
		if bits[len(bits)-1-i] == '1' {
			idx |= 1 << i
		}
	}
	st.Amps()[idx] *= -1
	return nil
}

func (it *Interpreter) qft(noswap bool) error {
	st := it.ctx.State
	n := st.N()
	for j := 0; j < n; j++ {
		st.ApplySingle(j, GateH)
		for k := j + 1; k < n; k++ {
			theta := piOver(k - j)
			if err := st.ApplyTwo(k, j, GateCRPhase(theta)); err != nil {
				return err
			}
		}
	}
	if !noswap {
		for i := 0; i < n/2; i++ {
			if err := it.swap(i, n-1-i); err != nil {
				return err
			}
		}
	}
	return nil
}

func (it *Interpreter) iqft(reverse bool) error {
	st := it.ctx.State
	n := st.N()
	if reverse {
		for i := 0; i < n/2; i++ {
			if err := it.swap(i, n-1-i); err != nil {
				return err
			}
		}
	}
	for j := n - 1; j >= 0; j-- {
		for k := n - 1; k > j; k-- {
			theta := -piOver(k - j)
			if err := st.ApplyTwo(k, j, GateCRPhase(theta)); err != nil {
				return err
			}
		}
		st.ApplySingle(j, GateH)
	}
	return nil
}

func piOver(k int) float64 {
	return math.Pi / float64(int(1)<<k)
}

var qubitRefRe = regexp.MustCompile(`^\w+\[\s*(.+?)\s*\]$`)

var pauliGates = map[byte][2][2]complex128{
	'I': GateI,
	'X': GateX,
	'Y': GateY,
	'Z': GateZ,
}

// expectPauli computes <psi|O|psi> for a Pauli-string observable over
// the given qubits by applying each factor to a cloned vector and
// taking the inner product. The real part is the expectation; the
// imaginary part is numerically negligible for a valid observable.
func (it *Interpreter) expectPauli(pauli string, qubits []int) (float64, float64, error) {
	if len(pauli) != len(qubits) {
		return 0, 0, fmt.Errorf("Pauli string length %d must match number of qubits %d", len(pauli), len(qubits))
	}
	clone := it.ctx.State.Clone()
	for i := 0; i < len(pauli); i++ {
		gate, ok := pauliGates[pauli[i]]
		if !ok {
			return 0, 0, fmt.Errorf("unknown Pauli operator %q", string(pauli[i]))
		}
		clone.ApplySingle(qubits[i], gate)
	}
	var val complex128
	orig := it.ctx.State.Amps()
	transformed := clone.Amps()
	for i := range orig {
		c := orig[i]
		val += complex(real(c), -imag(c)) * transformed[i]
	}
	return real(val), imag(val), nil
}

func (it *Interpreter) observe(ins *parser.Instr) error {
	pauli := ins.Args[0]
	qubits := make([]int, 0, len(ins.Args)-1)
	for _, ref := range ins.Args[1:] {
		m := qubitRefRe.FindStringSubmatch(ref)
		if m == nil {
			return fmt.Errorf("bad qubit ref: %s", ref)
		}
		q, err := it.idx(m[1])
		if err != nil {
			return err
		}
		qubits = append(qubits, q)
	}
	e, _, err := it.expectPauli(pauli, qubits)
	if err != nil {
		return err
	}
	if ins.Kind == parser.KindExpect {
		fmt.Fprintf(it.ctx.Out, "EXPECT %s on %v = %.6f\n", pauli, qubits, e)
	} else {
		// Var(P) = 1 - <P>^2 since Pauli eigenvalues are +/-1; clamped
		// so rounding never reports a negative zero.
		fmt.Fprintf(it.ctx.Out, "VAR %s on %v = %.6f\n", pauli, qubits, math.Max(0, 1.0-e*e))
	}
	return nil
}

func (it *Interpreter) execIfChain(branches []parser.Branch) error {
	taken := false
	for _, br := range branches {
		switch br.Kind {
		case "IF", "ELIF":
			if taken {
				continue
			}
			// Malformed guards evaluate to false, non-fatally.
			ok, err := expreval.Bool(br.Cond, it.ctx.env())
			if err != nil || !ok {
				continue
			}
		case "ELSE":
			if taken {
				continue
			}
		}
		taken = true
		if err := it.exec(br.Body); err != nil {
			return err
		}
		if it.ctx.retSet {
			return nil
		}
	}
	return nil
}

func (it *Interpreter) execFor(ins *parser.Instr) error {
	name := ins.Args[0]
	old, shadowed := it.ctx.Vars[name]
	defer func() {
		if shadowed {
			it.ctx.Vars[name] = old
		} else {
			delete(it.ctx.Vars, name)
		}
	}()
	for i := 0; i < it.prog.NQubits; i++ {
		it.ctx.Vars[name] = float64(i)
		if err := it.exec(ins.Body); err != nil {
			return err
		}
		if it.ctx.retSet {
			return nil
		}
	}
	return nil
}

// call executes a function body with formals bound to evaluated actuals
// in the shared variable environment; the binding is restored
// afterwards so formals never leak, while any other mutation the body
// makes stays visible to the caller.
func (it *Interpreter) call(ins *parser.Instr, wantReturn bool) (float64, error) {
	ctx := it.ctx
	name := ins.Args[0]
	actuals := ins.Args[1:]
	def, ok := ctx.Funcs[name]
	if !ok {
		return 0, fmt.Errorf("unknown function %s", name)
	}
	if len(def.Params) != len(actuals) {
		return 0, fmt.Errorf("%s arity mismatch: want %d args, got %d", name, len(def.Params), len(actuals))
	}

	vals := make([]float64, len(actuals))
	for i, a := range actuals {
		v, err := expreval.Number(a, ctx.env())
		if err != nil {
			return 0, fmt.Errorf("%s: argument %q: %w", name, a, err)
		}
		vals[i] = v
	}

	saved := make(map[string]float64, len(def.Params))
	present := make(map[string]bool, len(def.Params))
	for i, p := range def.Params {
		if v, ok := ctx.Vars[p]; ok {
			saved[p], present[p] = v, true
		}
		ctx.Vars[p] = vals[i]
	}

	ctx.retSet = false
	err := it.exec(def.Body)

	for _, p := range def.Params {
		if present[p] {
			ctx.Vars[p] = saved[p]
		} else {
			delete(ctx.Vars, p)
		}
	}
	if err != nil {
		return 0, err
	}

	ret, retSet := ctx.retVal, ctx.retSet
	ctx.retVal, ctx.retSet = 0, false
	if wantReturn && !retSet {
		return 0, fmt.Errorf("%s did not RETURN a value", name)
	}
	return ret, nil
}

// execImport parses and executes another program sharing this context.
// Failures are fatal in the simulator.
func (it *Interpreter) execImport(path string) error {
	if it.ctx.imports[path] {
		return fmt.Errorf("circular IMPORT %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("IMPORT %q: %w", path, err)
	}
	sub, err := parser.Parse(path, string(data), diagnostics.NewBag())
	if err != nil {
		return fmt.Errorf("IMPORT %q: %w", path, err)
	}
	for name, def := range sub.Funcs {
		it.ctx.Funcs[name] = def
	}
	it.ctx.imports[path] = true
	defer delete(it.ctx.imports, path)
	return it.exec(sub.Instrs)
}

func (it *Interpreter) dumpState() {
	st := it.ctx.State
	for i, a := range st.Amps() {
		if real(a) == 0 && imag(a) == 0 {
			continue
		}
		fmt.Fprintf(it.ctx.Out, "|%s>  %+.6f%+.6fi\n", st.BitString(i), real(a), imag(a))
	}
}

func (it *Interpreter) probs() {
	st := it.ctx.State
	for i, p := range st.Probabilities() {
		if p < 1e-12 {
			continue
		}
		fmt.Fprintf(it.ctx.Out, "P(%s) = %.6f\n", st.BitString(i), p)
	}
}
