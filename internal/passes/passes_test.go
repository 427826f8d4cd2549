package passes

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quasar/internal/coupling"
	"quasar/internal/diagnostics"
	"quasar/internal/ir"
	"quasar/internal/parser"
	"quasar/internal/sim"
)

func lower(t *testing.T, src string) *ir.Module {
	t.Helper()
	prog, err := parser.Parse("test.qsl", src, diagnostics.NewBag())
	require.NoError(t, err)
	m, err := ir.Lower(prog)
	require.NoError(t, err)
	return m
}

func opNames(m *ir.Module) []string {
	var names []string
	for _, op := range m.Lookup("main").Entry().Ops {
		names = append(names, op.Name)
	}
	return names
}

func TestConstFold(t *testing.T) {
	m := lower(t, "ALLOCATE r 1\nLET k = 42\nLET j = k + 1\n")
	ctx := &Context{}
	constFold(m, ctx)

	ops := m.Lookup("main").Entry().Ops
	assert.Equal(t, "42", ops[1].Attrs["const"])
	assert.Empty(t, ops[2].Attrs, "non-literal LET must not fold")
	assert.True(t, ctx.Changed)
}

func TestDecompose_QFT(t *testing.T) {
	m := lower(t, "ALLOCATE r 3\nQFT r\n")
	ctx := &Context{}
	decompose(m, ctx)

	counts := map[string]int{}
	for _, name := range opNames(m) {
		counts[name]++
	}
	// n=3: 3 CRZ triples (3 cnot-rz-cnot), 3 H, and one final swap.
	assert.Equal(t, 6, counts["q.cnot_expr"])
	assert.Equal(t, 3, counts["q.rz_expr"])
	assert.Equal(t, 3, counts["q.h"])
	assert.Equal(t, 1, counts["q.swap_expr"])
	assert.True(t, ctx.Changed)
}

func TestDecompose_QFTNoSwap(t *testing.T) {
	m := lower(t, "ALLOCATE r 3\nQFT r NOSWAP\n")
	decompose(m, &Context{})
	for _, name := range opNames(m) {
		assert.NotEqual(t, "q.swap_expr", name)
	}
}

func TestDecompose_IQFTMirrorsQFT(t *testing.T) {
	m := lower(t, "ALLOCATE r 2\nIQFT r REVERSE=false\n")
	decompose(m, &Context{})

	ops := m.Lookup("main").Entry().Ops
	// n=2, reverse=false: H(1), H(0), then the j=1,i=0 triple with a
	// negated angle.
	require.Len(t, ops, 6)
	assert.Equal(t, "q.h", ops[1].Name)
	assert.Equal(t, "q.h", ops[2].Name)
	assert.Equal(t, "q.cnot_expr", ops[3].Name)
	assert.Equal(t, "q.rz_expr", ops[4].Name)
	assert.True(t, strings.HasPrefix(ops[4].Args[2], "-("), "IQFT angle must be negated: %s", ops[4].Args[2])
	assert.Equal(t, "q.cnot_expr", ops[5].Name)
}

func pathGraph(n int) *coupling.Graph {
	edges := make([][]int, 0, n-1)
	for i := 0; i < n-1; i++ {
		edges = append(edges, []int{i, i + 1})
	}
	return coupling.New(edges)
}

func TestRoute_PathGraphSwapCount(t *testing.T) {
	const n = 5
	m := lower(t, fmt.Sprintf("ALLOCATE r %d\nCNOT r[0], r[%d]\n", n, n-1))
	m.Meta.Coupling = pathGraph(n)
	ctx := &Context{}
	route(m, ctx)

	swaps, cnots := 0, 0
	for _, name := range opNames(m) {
		switch name {
		case "q.swap_expr":
			swaps++
		case "q.cnot_expr":
			cnots++
		}
	}
	assert.Equal(t, 2*(n-2), swaps, "forward chain plus mirrored reverse chain")
	assert.Equal(t, 1, cnots)
	assert.True(t, ctx.Changed)
}

func TestRoute_AdjacentUntouched(t *testing.T) {
	m := lower(t, "ALLOCATE r 3\nCNOT r[0], r[1]\n")
	m.Meta.Coupling = pathGraph(3)
	ctx := &Context{}
	route(m, ctx)
	assert.False(t, ctx.Changed)
	assert.Equal(t, []string{"q.allocate", "q.cnot_expr"}, opNames(m))
}

func TestRoute_NoPathUntouched(t *testing.T) {
	m := lower(t, "ALLOCATE r 4\nCNOT r[0], r[3]\n")
	m.Meta.Coupling = coupling.New([][]int{{0, 1}, {2, 3}})
	ctx := &Context{}
	route(m, ctx)
	assert.False(t, ctx.Changed)
}

// runRouted executes the routed op list on the simulator starting from
// a given basis state and returns the resulting basis state.
func runRouted(t *testing.T, m *ir.Module, n, start int) int {
	t.Helper()
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ALLOCATE r %d\n", n))
	for q := 0; q < n; q++ {
		if start&(1<<q) != 0 {
			sb.WriteString(fmt.Sprintf("X r[%d]\n", q))
		}
	}
	prog, err := parser.Parse("routed.qsl", sb.String(), diagnostics.NewBag())
	require.NoError(t, err)

	for _, op := range m.Lookup("main").Entry().Ops {
		switch op.Name {
		case "q.cnot_expr":
			prog.Instrs = append(prog.Instrs, parser.Instr{Kind: parser.KindCNot, Args: op.Args})
		case "q.swap_expr":
			prog.Instrs = append(prog.Instrs, parser.Instr{Kind: parser.KindSwap, Args: op.Args})
		}
	}

	it, err := sim.New(prog)
	require.NoError(t, err)
	_, err = it.Run()
	require.NoError(t, err)

	amps := it.Context().State.Amps()
	for i, a := range amps {
		if real(a)*real(a)+imag(a)*imag(a) > 0.5 {
			return i
		}
	}
	t.Fatal("state is not a basis state")
	return -1
}

func TestRoute_PreservesCNOTTruthTable(t *testing.T) {
	const n = 4
	m := lower(t, fmt.Sprintf("ALLOCATE r %d\nCNOT r[0], r[%d]\n", n, n-1))
	m.Meta.Coupling = pathGraph(n)
	route(m, &Context{})

	for start := 0; start < 1<<n; start++ {
		want := start
		if start&1 != 0 {
			want ^= 1 << (n - 1) // CNOT(0, n-1) flips the top bit when bit 0 is set
		}
		got := runRouted(t, m, n, start)
		assert.Equal(t, want, got, "basis state %04b", start)
	}
}

func TestSchedule(t *testing.T) {
	m := lower(t, `
		ALLOCATE r 2
		H r[0]
		H r[1]
		H r[0]
		CNOT r[0], r[1]
	`)
	ctx := &Context{}
	schedule(m, ctx)
	assert.Equal(t, 3, m.Meta.Depth)
	assert.Equal(t, 1, m.Meta.TwoQDepth)
}

func TestCost(t *testing.T) {
	m := lower(t, "ALLOCATE r 2\nH r[0]\nH r[1]\nCNOT r[0], r[1]\n")
	ctx := &Context{}
	cost(m, ctx)
	assert.Equal(t, 2, m.Meta.Counts["q.h"])
	assert.Equal(t, 1, m.Meta.Counts["q.cnot_expr"])
	require.NotEmpty(t, ctx.Log)
	assert.Contains(t, ctx.Log[0], "q.h=2")
}

func TestRun_PipelineOrderAndLog(t *testing.T) {
	m := lower(t, "ALLOCATE r 2\nQFT r\nMEASURE r SHOTS 8\n")
	ctx := Run(m)

	var reported []string
	for _, line := range ctx.Log {
		if strings.Contains(line, "changed=") {
			reported = append(reported, strings.SplitN(line, ":", 2)[0])
		}
	}
	assert.Equal(t, []string{"const-fold", "canonicalize", "decompose", "route", "schedule", "cost"}, reported)
	assert.False(t, ctx.Changed, "changed flag is reset after each pass")
	assert.Greater(t, m.Meta.Depth, 0)
}
