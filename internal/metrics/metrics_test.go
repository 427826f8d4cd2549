package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTouch_SequentialDepth(t *testing.T) {
	tr := New(2)
	for i := 0; i < 5; i++ {
		tr.Touch(0, 0)
	}
	assert.Equal(t, 5, tr.Depth(), "k sequential gates on one qubit give depth k")
}

func TestTouch_ParallelDepth(t *testing.T) {
	tr := New(2)
	for i := 0; i < 5; i++ {
		tr.Touch(0, 0)
		tr.Touch(0, 1)
	}
	assert.Equal(t, 5, tr.Depth(), "independent qubits stack in parallel")
}

func TestTouch_TwoQubitDepth(t *testing.T) {
	tr := New(3)
	tr.Touch(0, 0) // single-qubit ops do not count
	tr.Touch(1, 0, 1)
	tr.Touch(1, 1, 2)
	assert.Equal(t, 3, tr.Depth())
	assert.Equal(t, 2, tr.TwoQubitDepth())
}

func TestTouch_TwoQubitWeight(t *testing.T) {
	tr := New(2)
	tr.Touch(2, 0, 1)
	assert.Equal(t, 2, tr.TwoQubitDepth())
}

func TestTGate_Staging(t *testing.T) {
	tr := New(1)

	// A run of consecutive T gates is one stage.
	tr.TGate(0, "t")
	tr.TGate(0, "tdg")
	tr.TGate(0, "t")
	assert.Equal(t, 1, tr.Summary().TDepth)

	// A barrier opens a new stage.
	tr.Barrier(0)
	tr.TGate(0, "t")
	s := tr.Summary()
	assert.Equal(t, 2, s.TDepth)
	assert.Equal(t, 4, s.TCount)
}

func TestSummary_TwoQubitCounts(t *testing.T) {
	tr := New(3)
	tr.Count("cx")
	tr.Count("cx")
	tr.Count("ccx")
	tr.Count("cp")
	tr.Count("h")

	s := tr.Summary()
	assert.Equal(t, 4, s.TwoQubitCount, "cx+ccx+cp")
	assert.Equal(t, 5, s.TwoQubitEquiv, "ccx counts double")
}

func TestBarrierAll(t *testing.T) {
	tr := New(2)
	tr.TGate(0, "t")
	tr.TGate(1, "t")
	tr.BarrierAll()
	tr.TGate(0, "t")
	tr.TGate(1, "t")
	assert.Equal(t, 2, tr.Summary().TDepth)
}

func TestCounts_Copy(t *testing.T) {
	tr := New(1)
	tr.Count("h")
	counts := tr.Counts()
	counts["h"] = 99
	assert.Equal(t, 1, tr.Counts()["h"])
}
