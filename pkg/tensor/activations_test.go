package tensor

import (
	"math"
	"testing"
)

func TestSiLUZero(t *testing.T) {
	a, _ := FromSlice([]float32{0, 0, 0}, 3)
	out := a.SiLU()
	for i, v := range out.Data {
		if v != 0 {
			t.Errorf("SiLU(0) at %d = %v, expected 0", i, v)
		}
	}
}

func TestSiLUValues(t *testing.T) {
	a, _ := FromSlice([]float32{1, -1}, 2)
	out := a.SiLU()

	// silu(1) = 1 * sigmoid(1) ~ 0.7311, silu(-1) ~ -0.2689
	if math.Abs(float64(out.Data[0])-0.7310586) > 1e-5 {
		t.Errorf("SiLU(1) = %v", out.Data[0])
	}
	if math.Abs(float64(out.Data[1])+0.2689414) > 1e-5 {
		t.Errorf("SiLU(-1) = %v", out.Data[1])
	}

	// Input must not be mutated.
	if a.Data[0] != 1 {
		t.Error("SiLU mutated its input")
	}
}

func TestSiLULargeInputs(t *testing.T) {
	a, _ := FromSlice([]float32{50, -50}, 2)
	out := a.SiLU()
	if math.Abs(float64(out.Data[0]-50)) > 1e-3 {
		t.Errorf("SiLU(50) = %v, expected ~50", out.Data[0])
	}
	if math.Abs(float64(out.Data[1])) > 1e-3 {
		t.Errorf("SiLU(-50) = %v, expected ~0", out.Data[1])
	}
}
