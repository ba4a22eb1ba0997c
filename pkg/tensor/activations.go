package tensor

import "math"

// SiLU applies the sigmoid-weighted linear unit x * sigmoid(x) element-wise
// and returns a new tensor. This is the activation used inside the SwiGLU
// feed-forward block.
func (t *Tensor) SiLU() *Tensor {
	out := New(t.Shape...)
	for i, v := range t.Data {
		out.Data[i] = v / (1 + float32(math.Exp(float64(-v))))
	}
	return out
}
