package tensor

import "math/rand"

// Dropout zeroes elements with probability p and scales the survivors by
// 1/(1-p) (inverted dropout). The random source is an explicit parameter:
// callers that need reproducible masks — in particular a recomputed forward
// pass that must match the original — seed their own source and pass it on
// both executions. A nil source or p == 0 disables dropout and returns a
// copy of the input.
func (t *Tensor) Dropout(p float32, rng *rand.Rand) *Tensor {
	if rng == nil || p == 0 {
		return t.Clone()
	}
	if p < 0 || p >= 1 {
		panic("tensor: dropout probability must be in [0, 1)")
	}
	out := New(t.Shape...)
	scale := 1 / (1 - p)
	for i, v := range t.Data {
		if rng.Float32() >= p {
			out.Data[i] = v * scale
		}
	}
	return out
}
