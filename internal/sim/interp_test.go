package sim

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quasar/internal/diagnostics"
	"quasar/internal/parser"
)

func run(t *testing.T, src string) (*Interpreter, map[string]int, string) {
	t.Helper()
	prog, err := parser.Parse("test.qsl", src, diagnostics.NewBag())
	require.NoError(t, err)
	it, err := New(prog)
	require.NoError(t, err)
	var buf bytes.Buffer
	it.SetOutput(&buf)
	counts, err := it.Run()
	require.NoError(t, err)
	return it, counts, buf.String()
}

func runErr(t *testing.T, src string) error {
	t.Helper()
	prog, err := parser.Parse("test.qsl", src, diagnostics.NewBag())
	require.NoError(t, err)
	it, err := New(prog)
	require.NoError(t, err)
	it.SetOutput(&bytes.Buffer{})
	_, err = it.Run()
	require.Error(t, err)
	return err
}

// basisIndex asserts the state is a single basis state and returns its
// index.
func basisIndex(t *testing.T, it *Interpreter) int {
	t.Helper()
	for i, a := range it.Context().State.Amps() {
		if real(a)*real(a)+imag(a)*imag(a) > 0.5 {
			return i
		}
	}
	t.Fatal("state is not a basis state")
	return -1
}

func TestRun_RequiresAllocate(t *testing.T) {
	prog, err := parser.Parse("test.qsl", "TRACE \"x\"\n", diagnostics.NewBag())
	require.NoError(t, err)
	_, err = New(prog)
	assert.Error(t, err)
}

func TestRun_GatesAndLet(t *testing.T) {
	it, _, _ := run(t, `
		ALLOCATE r 2
		LET k = 1
		X r[k]
		X r[0]
	`)
	assert.Equal(t, 3, basisIndex(t, it))
	assert.Equal(t, 1.0, it.Context().Vars["k"])
}

func TestRun_BellExpectations(t *testing.T) {
	it, _, out := run(t, `
		ALLOCATE r 2
		H r[0]
		CNOT r[0], r[1]
		EXPECT "ZZ" r[0], r[1]
		VAR "ZZ" r[0], r[1]
		EXPECT "XX" r[0], r[1]
	`)
	assert.Contains(t, out, "EXPECT ZZ on [0 1] = 1.000000")
	assert.Contains(t, out, "VAR ZZ on [0 1] = 0.000000")
	assert.Contains(t, out, "EXPECT XX on [0 1] = 1.000000")

	// The imaginary part of <psi|O|psi> must be numerically negligible
	// for every Hermitian observable, Y factors included.
	for pauli, want := range map[string]float64{"ZZ": 1, "XX": 1, "YY": -1} {
		e, im, err := it.expectPauli(pauli, []int{0, 1})
		require.NoError(t, err)
		assert.InDelta(t, want, e, eps, pauli)
		assert.InDelta(t, 0.0, im, eps, "imaginary part of <%s>", pauli)
	}
}

func TestRun_MeasureOneBits(t *testing.T) {
	it, _, _ := run(t, `
		ALLOCATE r 3
		X r[2]
		MEASURE r[2] AS m2
		MEASURE r[0] AS m0
	`)
	cb := it.Context().CBits
	assert.Equal(t, 1, cb["m2"])
	assert.Equal(t, 0, cb["m0"])
}

func TestRun_MeasureAllDefaultShots(t *testing.T) {
	_, counts, _ := run(t, `
		SEED 1
		ALLOCATE r 1
		MEASURE r
	`)
	assert.Equal(t, 1024, counts["0"])
}

func TestRun_SeedReproducible(t *testing.T) {
	src := `
		SEED 99
		ALLOCATE r 2
		H r[0]
		H r[1]
		MEASURE r SHOTS 128
	`
	_, a, _ := run(t, src)
	_, b, _ := run(t, src)
	assert.Equal(t, a, b)
}

func TestRun_IfChainOnMeasuredBit(t *testing.T) {
	it, _, _ := run(t, `
		ALLOCATE r 2
		X r[0]
		MEASURE r[0] AS m
		IF m {
			X r[1]
		ELSE {
			H r[1]
		ENDIF
	`)
	assert.Equal(t, 3, basisIndex(t, it))
}

func TestRun_ForLoop(t *testing.T) {
	it, _, _ := run(t, `
		ALLOCATE r 3
		FOR q IN r {
			X r[q]
		ENDFOR
	`)
	assert.Equal(t, 7, basisIndex(t, it))
	_, ok := it.Context().Vars["q"]
	assert.False(t, ok, "loop variable must not leak")
}

func TestRun_CallMatchesDirect(t *testing.T) {
	direct, _, _ := run(t, "ALLOCATE r 2\nH r[0]\nCNOT r[0], r[1]\n")
	called, _, _ := run(t, `
		ALLOCATE r 2
		FN BELL(a,b) {
			H r[a]
			CNOT r[a], r[b]
		} ENDFN
		CALL BELL(0,1)
	`)
	assert.InDeltaSlice(t,
		realParts(direct.Context().State.Amps()),
		realParts(called.Context().State.Amps()), eps)
}

func realParts(amps []complex128) []float64 {
	out := make([]float64, len(amps))
	for i, a := range amps {
		out[i] = real(a)
	}
	return out
}

func TestRun_CallRAndLet(t *testing.T) {
	it, _, _ := run(t, `
		ALLOCATE r 1
		FN F(a,b) {
			RETURN a + b
		} ENDFN
		CALLR k = F(2,3)
		LET m = k * 2
	`)
	vars := it.Context().Vars
	assert.Equal(t, 5.0, vars["k"])
	assert.Equal(t, 10.0, vars["m"])
	_, ok := vars["a"]
	assert.False(t, ok, "formals must not leak")
}

func TestRun_ReturnHaltsBody(t *testing.T) {
	it, _, _ := run(t, `
		ALLOCATE r 1
		FN F(a) {
			RETURN a
			X r[0]
		} ENDFN
		CALLR k = F(1)
	`)
	assert.Equal(t, 0, basisIndex(t, it), "statements after RETURN must not run")
}

func TestRun_CallRWithoutReturn(t *testing.T) {
	err := runErr(t, `
		ALLOCATE r 1
		FN G(a) { H r[a] } ENDFN
		CALLR k = G(0)
	`)
	assert.Contains(t, err.Error(), "did not RETURN a value")
}

func TestRun_UnknownFunction(t *testing.T) {
	err := runErr(t, "ALLOCATE r 1\nCALL NOPE(1)\n")
	assert.Contains(t, err.Error(), "unknown function NOPE")
}

func TestRun_MarkstateLengthMismatch(t *testing.T) {
	err := runErr(t, "ALLOCATE r 3\nMARKSTATE r \"10\"\n")
	assert.Contains(t, err.Error(), "length 2 must match register size 3")
}

func TestRun_GroverFindsMarkedState(t *testing.T) {
	// One iteration on 3 qubits boosts the marked state to
	// sin^2(3*asin(1/sqrt(8))) ~ 0.78.
	_, counts, _ := run(t, `
		SEED 3
		ALLOCATE r 3
		HADAMARD_LAYER r
		GROVER_ITERATE r "101"
		MEASURE r SHOTS 256
	`)
	assert.Greater(t, counts["101"], 128, "the marked state must dominate all others combined")
	for key, n := range counts {
		if key != "101" {
			assert.Less(t, n, counts["101"], "outcome %s", key)
		}
	}
}

func TestRun_GroverAmplitudeExact(t *testing.T) {
	it, _, _ := run(t, `
		ALLOCATE r 3
		HADAMARD_LAYER r
		GROVER_ITERATE r "101"
	`)
	probs := it.Context().State.Probabilities()
	theta := math.Asin(1 / math.Sqrt(8))
	want := math.Pow(math.Sin(3*theta), 2)
	assert.InDelta(t, want, probs[5], eps, "amplified probability of |101>")
	for i, p := range probs {
		if i != 5 {
			assert.InDelta(t, (1-want)/7, p, eps, "unmarked state %03b", i)
		}
	}
}

func TestRun_DiffusionInvolution(t *testing.T) {
	it, _, _ := run(t, `
		ALLOCATE r 3
		X r[0]
		DIFFUSION r
		DIFFUSION r
	`)
	assert.Equal(t, 1, basisIndex(t, it), "the diffusion operator squares to identity")
}

func TestRun_QFTRoundTrip(t *testing.T) {
	for _, src := range []string{
		"ALLOCATE r 3\nX r[0]\nQFT r\nIQFT r\n",
		"ALLOCATE r 3\nX r[0]\nQFT r NOSWAP\nIQFT r REVERSE=false\n",
	} {
		it, _, _ := run(t, src)
		a := it.Context().State.Amps()[1]
		mag := math.Sqrt(real(a)*real(a) + imag(a)*imag(a))
		assert.InDelta(t, 1.0, mag, 1e-9, "roundtrip must restore |001>: %s", src)
	}
}

// The ancilla-free Toffoli decomposition used on the compilation side:
// H, T/Tdg ladder with three CNOT pairs, H. Rz(pi/4) differs from T
// only by a global phase, so the truth table is checked on
// probabilities.
func TestToffoliDecompositionTruthTable(t *testing.T) {
	tGate := GateRz(math.Pi / 4)
	tdgGate := GateRz(-math.Pi / 4)
	for start := 0; start < 8; start++ {
		s := NewStateVector(3)
		for q := 0; q < 3; q++ {
			if start&(1<<q) != 0 {
				s.ApplySingle(q, GateX)
			}
		}
		s.ApplySingle(2, GateH)
		s.ApplySingle(0, tGate)
		s.ApplySingle(1, tGate)
		s.ApplySingle(2, tGate)
		require.NoError(t, s.ApplyTwo(1, 2, GateCNOT))
		s.ApplySingle(2, tdgGate)
		require.NoError(t, s.ApplyTwo(0, 2, GateCNOT))
		s.ApplySingle(2, tGate)
		require.NoError(t, s.ApplyTwo(1, 2, GateCNOT))
		s.ApplySingle(2, tdgGate)
		require.NoError(t, s.ApplyTwo(0, 2, GateCNOT))
		s.ApplySingle(2, GateH)

		want := start
		if start&1 != 0 && start&2 != 0 {
			want ^= 4
		}
		probs := s.Probabilities()
		assert.InDelta(t, 1.0, probs[want], 1e-9, "input %03b", start)
	}
}

func TestRun_TraceAndDumps(t *testing.T) {
	_, _, out := run(t, `
		ALLOCATE r 1
		TRACE "ok"
		H r[0]
		DUMPSTATE
		PROBS
	`)
	assert.Contains(t, out, "[TRACE] ok\n")
	assert.Contains(t, out, "|0>  +0.707107+0.000000i")
	assert.Contains(t, out, "|1>  +0.707107+0.000000i")
	assert.Contains(t, out, "P(0) = 0.500000")
	assert.Contains(t, out, "P(1) = 0.500000")
}

func TestRun_Import(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "lib.qsl")
	require.NoError(t, os.WriteFile(lib, []byte("FN CX(a,b) { CNOT r[a], r[b] } ENDFN\n"), 0o644))

	it, _, _ := run(t, fmt.Sprintf(`
		ALLOCATE r 2
		IMPORT %q
		X r[0]
		CALL CX(0,1)
	`, lib))
	assert.Equal(t, 3, basisIndex(t, it))
}

func TestRun_ImportCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "self.qsl")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("IMPORT %q\n", path)), 0o644))

	err := runErr(t, fmt.Sprintf("ALLOCATE r 1\nIMPORT %q\n", path))
	assert.Contains(t, err.Error(), "circular IMPORT")
}

func TestRun_ImportMissing(t *testing.T) {
	err := runErr(t, "ALLOCATE r 1\nIMPORT \"no/such/file.qsl\"\n")
	assert.Contains(t, err.Error(), "IMPORT")
}
