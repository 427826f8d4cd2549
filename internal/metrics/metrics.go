// Package metrics owns circuit-quality accounting: parallel depth,
// two-qubit interaction depth, operation counts, T-count, and global
// T-depth. Both the pass pipeline and the emitter report through one
// Tracker so the two paths cannot drift apart.
package metrics

// Tracker accumulates per-qubit layer counters and op-kind counts as a
// finalized operation stream is walked.
type Tracker struct {
	n      int
	depth  []int
	twoq   []int
	tstage []int
	tblock []bool
	counts map[string]int
}

// New returns a tracker for an n-qubit register.
func New(n int) *Tracker {
	t := &Tracker{
		n:      n,
		depth:  make([]int, n),
		twoq:   make([]int, n),
		tstage: make([]int, n),
		tblock: make([]bool, n),
		counts: make(map[string]int),
	}
	for q := range t.tblock {
		t.tblock[q] = true
	}
	return t
}

// Touch advances the depth layer of every touched qubit to one past the
// maximum among them. twoQubitWeight > 0 additionally advances the
// two-qubit interaction layers by that weight.
func (t *Tracker) Touch(twoQubitWeight int, qubits ...int) {
	layer := 0
	for _, q := range qubits {
		if t.depth[q] > layer {
			layer = t.depth[q]
		}
	}
	layer++
	for _, q := range qubits {
		t.depth[q] = layer
	}
	if twoQubitWeight > 0 {
		base := 0
		for _, q := range qubits {
			if t.twoq[q] > base {
				base = t.twoq[q]
			}
		}
		for _, q := range qubits {
			t.twoq[q] = base + twoQubitWeight
		}
	}
}

// Barrier marks a Clifford boundary on the given qubits: the next
// T-type gate on each starts a fresh T stage.
func (t *Tracker) Barrier(qubits ...int) {
	for _, q := range qubits {
		t.tblock[q] = true
	}
}

// BarrierAll marks a Clifford boundary on every qubit.
func (t *Tracker) BarrierAll() {
	for q := range t.tblock {
		t.tblock[q] = true
	}
}

// TGate records a T-type gate (kind "t" or "tdg") on qubit q, opening a
// new T stage if the qubit sits behind a barrier.
func (t *Tracker) TGate(q int, kind string) {
	if t.tblock[q] {
		t.tstage[q]++
		t.tblock[q] = false
	}
	t.counts[kind]++
}

// Count increments the tally for an operation kind.
func (t *Tracker) Count(kind string) {
	t.counts[kind]++
}

// Counts returns the op-kind frequency map.
func (t *Tracker) Counts() map[string]int {
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

// Depth returns the overall parallel depth.
func (t *Tracker) Depth() int {
	return maxOf(t.depth)
}

// TwoQubitDepth returns the depth counting only entangling layers.
func (t *Tracker) TwoQubitDepth() int {
	return maxOf(t.twoq)
}

// Summary is the fixed metric set reported in the assembly footer.
type Summary struct {
	Depth         int
	TwoQubitCount int
	TwoQubitEquiv int
	TwoQubitDepth int
	TCount        int
	TDepth        int
}

// Summary finalizes the tracker into the footer metric set. ccx counts
// once toward the two-qubit count and twice toward the equivalent
// count.
func (t *Tracker) Summary() Summary {
	cx := t.counts["cx"]
	ccx := t.counts["ccx"]
	cp := t.counts["cp"]
	return Summary{
		Depth:         t.Depth(),
		TwoQubitCount: cx + ccx + cp,
		TwoQubitEquiv: cx + 2*ccx + cp,
		TwoQubitDepth: t.TwoQubitDepth(),
		TCount:        t.counts["t"] + t.counts["tdg"],
		TDepth:        maxOf(t.tstage),
	}
}

func maxOf(xs []int) int {
	m := 0
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}
