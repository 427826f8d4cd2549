// Package passes implements the fixed compilation pipeline over the IR:
// constant folding, canonicalization, composite-gate decomposition,
// coupling-aware routing, depth scheduling, and cost accounting.
package passes

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"quasar/internal/expreval"
	"quasar/internal/ir"
	"quasar/internal/metrics"
)

// Context is shared by every pass in one pipeline run: a human-readable
// log and a changed flag, reset after each pass is reported.
type Context struct {
	Changed bool
	Log     []string
}

func (c *Context) Logf(format string, args ...interface{}) {
	c.Log = append(c.Log, fmt.Sprintf(format, args...))
}

// Pass is one named transformation over the module.
type Pass struct {
	Name string
	Run  func(*ir.Module, *Context)
}

// Default returns the standard pipeline in its fixed order.
func Default() []Pass {
	return []Pass{
		{Name: "const-fold", Run: constFold},
		{Name: "canonicalize", Run: canonicalize},
		{Name: "decompose", Run: decompose},
		{Name: "route", Run: route},
		{Name: "schedule", Run: schedule},
		{Name: "cost", Run: cost},
	}
}

// Run executes the default pipeline over m and returns the shared
// context with the accumulated log.
func Run(m *ir.Module) *Context {
	ctx := &Context{}
	for _, p := range Default() {
		p.Run(m, ctx)
		ctx.Logf("%s: changed=%t", p.Name, ctx.Changed)
		ctx.Changed = false
	}
	return ctx
}

// constFold annotates LET bindings whose expression is a pure integer
// literal. Downstream uses are still evaluated precisely at execution
// time; the annotation is an extension point.
func constFold(m *ir.Module, ctx *Context) {
	for _, fn := range m.Funcs {
		for _, bb := range fn.Blocks {
			for _, op := range bb.Ops {
				if op.Name != "q.let" || len(op.Args) != 2 {
					continue
				}
				expr := strings.TrimSpace(op.Args[1])
				if _, err := strconv.Atoi(expr); err != nil {
					continue
				}
				if op.Attrs == nil {
					op.Attrs = make(map[string]string)
				}
				op.Attrs["const"] = expr
				ctx.Logf("const-fold LET %s=%s", op.Args[0], expr)
				ctx.Changed = true
			}
		}
	}
}

// canonicalize is reserved for small normalizations.
func canonicalize(*ir.Module, *Context) {}

func crzTriple(reg string, ctrl, tgt int, angle string) []*ir.Op {
	// No native controlled-phase at this stage: CRZ via CNOT-RZ-CNOT.
	return []*ir.Op{
		{Name: "q.cnot_expr", Args: []string{reg, strconv.Itoa(ctrl), strconv.Itoa(tgt)}},
		{Name: "q.rz_expr", Args: []string{reg, strconv.Itoa(tgt), angle}},
		{Name: "q.cnot_expr", Args: []string{reg, strconv.Itoa(ctrl), strconv.Itoa(tgt)}},
	}
}

func qftOps(reg string, n int, noswap bool) []*ir.Op {
	var ops []*ir.Op
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			angle := fmt.Sprintf("(%.15g/(2**%d))", math.Pi, j-i)
			ops = append(ops, crzTriple(reg, j, i, angle)...)
		}
		ops = append(ops, &ir.Op{Name: "q.h", Args: []string{reg, strconv.Itoa(i)}})
	}
	if !noswap {
		for i := 0; i < n/2; i++ {
			ops = append(ops, &ir.Op{Name: "q.swap_expr", Args: []string{reg, strconv.Itoa(i), strconv.Itoa(n - 1 - i)}})
		}
	}
	return ops
}

func iqftOps(reg string, n int, reverse bool) []*ir.Op {
	var ops []*ir.Op
	if reverse {
		for i := 0; i < n/2; i++ {
			ops = append(ops, &ir.Op{Name: "q.swap_expr", Args: []string{reg, strconv.Itoa(i), strconv.Itoa(n - 1 - i)}})
		}
	}
	for i := n - 1; i >= 0; i-- {
		ops = append(ops, &ir.Op{Name: "q.h", Args: []string{reg, strconv.Itoa(i)}})
		for j := n - 1; j > i; j-- {
			angle := fmt.Sprintf("-(%.15g/(2**%d))", math.Pi, j-i)
			ops = append(ops, crzTriple(reg, j, i, angle)...)
		}
	}
	return ops
}

// decompose expands q.qft and q.iqft into {h, cnot, rz, swap} primitives.
func decompose(m *ir.Module, ctx *Context) {
	n := m.Meta.NQubits
	reg := m.Meta.Reg
	if n == 0 || reg == "" {
		return
	}
	for _, fn := range m.Funcs {
		for _, bb := range fn.Blocks {
			for i := 0; i < len(bb.Ops); {
				op := bb.Ops[i]
				switch op.Name {
				case "q.qft":
					repl := qftOps(reg, n, flagArg(op, 1))
					bb.Replace(i, repl)
					ctx.Changed = true
					ctx.Logf("decompose: QFT -> %d prims", len(repl))
					i += len(repl)
				case "q.iqft":
					repl := iqftOps(reg, n, flagArg(op, 1))
					bb.Replace(i, repl)
					ctx.Changed = true
					ctx.Logf("decompose: IQFT -> %d prims", len(repl))
					i += len(repl)
				default:
					i++
				}
			}
		}
	}
}

func flagArg(op *ir.Op, i int) bool {
	return i < len(op.Args) && op.Args[i] == "true"
}

// route inserts SWAP chains around q.cnot_expr ops whose operands are
// not adjacent in the coupling graph: walk the control along a BFS
// shortest path, apply the CNOT, then mirror the chain back.
func route(m *ir.Module, ctx *Context) {
	g := m.Meta.Coupling
	if g.Empty() {
		return
	}
	for _, fn := range m.Funcs {
		for _, bb := range fn.Blocks {
			for i := 0; i < len(bb.Ops); {
				op := bb.Ops[i]
				if op.Name != "q.cnot_expr" || len(op.Args) != 3 {
					i++
					continue
				}
				reg := op.Args[0]
				c, errC := expreval.Int(op.Args[1], nil)
				t, errT := expreval.Int(op.Args[2], nil)
				if errC != nil || errT != nil || g.Adjacent(c, t) {
					i++
					continue
				}
				path := g.ShortestPath(c, t)
				if len(path) < 2 {
					i++
					continue
				}
				var fwd []*ir.Op
				cur := path[0]
				for _, nxt := range path[1 : len(path)-1] {
					fwd = append(fwd, &ir.Op{Name: "q.swap_expr", Args: []string{reg, strconv.Itoa(cur), strconv.Itoa(nxt)}})
					cur = nxt
				}
				cnot := &ir.Op{Name: "q.cnot_expr", Args: []string{reg, strconv.Itoa(cur), strconv.Itoa(path[len(path)-1])}}
				repl := make([]*ir.Op, 0, 2*len(fwd)+1)
				repl = append(repl, fwd...)
				repl = append(repl, cnot)
				for j := len(fwd) - 1; j >= 0; j-- {
					repl = append(repl, fwd[j])
				}
				bb.Replace(i, repl)
				ctx.Changed = true
				ctx.Logf("route: inserted %d SWAPs for CNOT %d->%d", 2*len(fwd), c, t)
				i += len(repl)
			}
		}
	}
}

// touchedQubits resolves the qubit indices a primitive op acts on;
// non-primitive or non-constant ops contribute nothing.
func touchedQubits(op *ir.Op) []int {
	switch op.Name {
	case "q.h", "q.x", "q.z", "q.rz_expr":
		if len(op.Args) < 2 {
			return nil
		}
		q, err := expreval.Int(op.Args[1], nil)
		if err != nil {
			return nil
		}
		return []int{q}
	case "q.cnot_expr", "q.swap_expr":
		if len(op.Args) < 3 {
			return nil
		}
		a, errA := expreval.Int(op.Args[1], nil)
		b, errB := expreval.Int(op.Args[2], nil)
		if errA != nil || errB != nil {
			return nil
		}
		return []int{a, b}
	}
	return nil
}

// schedule computes the parallel depth and the two-qubit interaction
// depth and stores them in module metadata.
func schedule(m *ir.Module, ctx *Context) {
	tr := metrics.New(m.Meta.NQubits)
	for _, fn := range m.Funcs {
		for _, bb := range fn.Blocks {
			for _, op := range bb.Ops {
				qs := touchedQubits(op)
				if len(qs) == 0 {
					continue
				}
				weight := 0
				if op.Name == "q.cnot_expr" || op.Name == "q.swap_expr" {
					weight = 1
				}
				tr.Touch(weight, qs...)
			}
		}
	}
	m.Meta.Depth = tr.Depth()
	m.Meta.TwoQDepth = tr.TwoQubitDepth()
	ctx.Logf("schedule: depth=%d, twoq_depth=%d", m.Meta.Depth, m.Meta.TwoQDepth)
}

// cost tallies operation-kind frequencies across the module.
func cost(m *ir.Module, ctx *Context) {
	counts := make(map[string]int)
	for _, fn := range m.Funcs {
		for _, bb := range fn.Blocks {
			for _, op := range bb.Ops {
				counts[op.Name]++
			}
		}
	}
	m.Meta.Counts = counts

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	ctx.Logf("cost: %s", strings.Join(parts, " "))
}
