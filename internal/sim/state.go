// Package sim is the reference state-vector simulator for the QSL
// instruction set. It executes the same semantics the emitter compiles,
// directly on a complex amplitude vector.
package sim

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
)

// Single-qubit gate matrices.
var (
	GateH = [2][2]complex128{
		{complex(1/math.Sqrt2, 0), complex(1/math.Sqrt2, 0)},
		{complex(1/math.Sqrt2, 0), complex(-1/math.Sqrt2, 0)},
	}
	GateX = [2][2]complex128{
		{0, 1},
		{1, 0},
	}
	GateZ = [2][2]complex128{
		{1, 0},
		{0, -1},
	}
	GateY = [2][2]complex128{
		{0, complex(0, -1)},
		{complex(0, 1), 0},
	}
	GateI = [2][2]complex128{
		{1, 0},
		{0, 1},
	}
)

// GateRz returns the z-rotation diag(e^{-i t/2}, e^{i t/2}).
func GateRz(theta float64) [2][2]complex128 {
	return [2][2]complex128{
		{cmplx.Exp(complex(0, -theta/2)), 0},
		{0, cmplx.Exp(complex(0, theta/2))},
	}
}

// GateCNOT is the controlled-NOT on (control, target) ordered basis
// |c t>: it flips the target when the control is 1.
var GateCNOT = [4][4]complex128{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 0, 1},
	{0, 0, 1, 0},
}

// GateCRPhase returns the controlled phase diag(1,1,1,e^{i t}).
func GateCRPhase(theta float64) [4][4]complex128 {
	return [4][4]complex128{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, cmplx.Exp(complex(0, theta))},
	}
}

// StateVector holds 2^n complex amplitudes indexed by basis state; bit
// q of the index is the value of qubit q.
type StateVector struct {
	n    int
	amps []complex128
}

// NewStateVector starts in |0...0>.
func NewStateVector(n int) *StateVector {
	s := &StateVector{n: n, amps: make([]complex128, 1<<n)}
	s.amps[0] = 1
	return s
}

func (s *StateVector) N() int { return s.n }

// Amps exposes the raw amplitude slice; mutating it mutates the state.
func (s *StateVector) Amps() []complex128 { return s.amps }

// Clone returns an independent copy.
func (s *StateVector) Clone() *StateVector {
	amps := make([]complex128, len(s.amps))
	copy(amps, s.amps)
	return &StateVector{n: s.n, amps: amps}
}

// ApplySingle applies a 2x2 unitary to qubit q: basis indices are
// paired differing only in bit q and each pair is mapped in place.
func (s *StateVector) ApplySingle(q int, u [2][2]complex128) {
	mask := 1 << q
	for i := 0; i < len(s.amps); i++ {
		if i&mask != 0 {
			continue
		}
		j := i | mask
		v0, v1 := s.amps[i], s.amps[j]
		s.amps[i] = u[0][0]*v0 + u[0][1]*v1
		s.amps[j] = u[1][0]*v0 + u[1][1]*v1
	}
}

// ApplyTwo applies a 4x4 unitary to the ordered qubit pair (q1, q2):
// the quadruple index is 2*b1+b2 where b1 is the bit of q1. Argument
// order is significant — CNOT control/target direction depends on it.
func (s *StateVector) ApplyTwo(q1, q2 int, u [4][4]complex128) error {
	if q1 == q2 {
		return fmt.Errorf("two-qubit op needs distinct qubits, got %d twice", q1)
	}
	m1, m2 := 1<<q1, 1<<q2
	for base := 0; base < len(s.amps); base++ {
		if base&m1 != 0 || base&m2 != 0 {
			continue
		}
		var idx [4]int
		for b1 := 0; b1 < 2; b1++ {
			for b2 := 0; b2 < 2; b2++ {
				idx[2*b1+b2] = base | b1*m1 | b2*m2
			}
		}
		var v, w [4]complex128
		for k := 0; k < 4; k++ {
			v[k] = s.amps[idx[k]]
		}
		for r := 0; r < 4; r++ {
			for c := 0; c < 4; c++ {
				w[r] += u[r][c] * v[c]
			}
		}
		for k := 0; k < 4; k++ {
			s.amps[idx[k]] = w[k]
		}
	}
	return nil
}

// Norm returns the sum of squared amplitude magnitudes.
func (s *StateVector) Norm() float64 {
	sum := 0.0
	for _, a := range s.amps {
		sum += real(a)*real(a) + imag(a)*imag(a)
	}
	return sum
}

// Probabilities returns the normalized squared magnitudes.
func (s *StateVector) Probabilities() []float64 {
	probs := make([]float64, len(s.amps))
	total := 0.0
	for i, a := range s.amps {
		p := real(a)*real(a) + imag(a)*imag(a)
		probs[i] = p
		total += p
	}
	if total > 0 {
		for i := range probs {
			probs[i] /= total
		}
	}
	return probs
}

// SampleIndex draws one basis-state index from the categorical
// distribution of the current probabilities.
func (s *StateVector) SampleIndex(rng *rand.Rand) int {
	probs := s.Probabilities()
	r := rng.Float64()
	acc := 0.0
	for i, p := range probs {
		acc += p
		if r < acc {
			return i
		}
	}
	return len(probs) - 1
}

// Sample draws shots independent samples and returns a frequency map
// keyed by bit-string (qubit 0 is the rightmost character).
func (s *StateVector) Sample(shots int, rng *rand.Rand) map[string]int {
	counts := make(map[string]int)
	for i := 0; i < shots; i++ {
		counts[s.BitString(s.SampleIndex(rng))]++
	}
	return counts
}

// BitString formats a basis-state index as an n-character bit string,
// most significant qubit first.
func (s *StateVector) BitString(idx int) string {
	buf := make([]byte, s.n)
	for q := 0; q < s.n; q++ {
		if idx&(1<<q) != 0 {
			buf[s.n-1-q] = '1'
		} else {
			buf[s.n-1-q] = '0'
		}
	}
	return string(buf)
}
