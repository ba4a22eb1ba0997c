package model

import (
	"fmt"
	"math"

	"llmpipe/pkg/tensor"
)

// RoPE holds precomputed rotary position embedding tables.
//
// We use the split-halves convention: the head dimension is divided into
// two halves that are rotated against each other, with the angle for
// position m and frequency index i given by m / theta^(2i/head_dim). The
// cos/sin values for every position up to MaxSeqLen are computed once at
// construction and indexed by explicit position ids at apply time —
// positions travel through the pipeline with the hidden states, they are
// never re-derived from sequence offsets.
type RoPE struct {
	Cos       []float32 // (max_seq_len * head_dim), row per position
	Sin       []float32
	MaxSeqLen int
	HeadDim   int
}

// NewRoPE precomputes rotary tables for headDim-sized heads up to
// maxSeqLen positions.
func NewRoPE(headDim, maxSeqLen int, theta float32) (*RoPE, error) {
	if headDim%2 != 0 {
		return nil, fmt.Errorf("head dimension must be even, got %d", headDim)
	}
	if maxSeqLen <= 0 {
		return nil, fmt.Errorf("max sequence length must be positive, got %d", maxSeqLen)
	}

	half := headDim / 2
	invFreq := make([]float64, half)
	for i := 0; i < half; i++ {
		invFreq[i] = 1 / math.Pow(float64(theta), float64(2*i)/float64(headDim))
	}

	cos := make([]float32, maxSeqLen*headDim)
	sin := make([]float32, maxSeqLen*headDim)
	for pos := 0; pos < maxSeqLen; pos++ {
		for i := 0; i < half; i++ {
			angle := float64(pos) * invFreq[i]
			c, s := float32(math.Cos(angle)), float32(math.Sin(angle))
			// Duplicate across both halves (split-halves style).
			cos[pos*headDim+i] = c
			cos[pos*headDim+half+i] = c
			sin[pos*headDim+i] = s
			sin[pos*headDim+half+i] = s
		}
	}
	return &RoPE{Cos: cos, Sin: sin, MaxSeqLen: maxSeqLen, HeadDim: headDim}, nil
}

// Apply rotates x by the angles of the given positions.
//
// Input shapes:
//   - x: (batch, heads, seq, head_dim)
//   - positions: (seq,) of position indices stored as float32
//
// Output shape: same as x.
func (r *RoPE) Apply(x, positions *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Dims() != 4 {
		return nil, fmt.Errorf("expected 4D (batch, heads, seq, head_dim) input, got shape %v", x.Shape)
	}
	batch, heads, seq, headDim := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	if headDim != r.HeadDim {
		return nil, fmt.Errorf("head dimension %d does not match RoPE tables (%d)", headDim, r.HeadDim)
	}
	if positions.Size() != seq {
		return nil, fmt.Errorf("got %d position ids for sequence length %d", positions.Size(), seq)
	}

	half := headDim / 2
	out := tensor.New(x.Shape...)
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			for s := 0; s < seq; s++ {
				pos := int(positions.Data[s])
				if pos < 0 || pos >= r.MaxSeqLen {
					return nil, fmt.Errorf("position id %d out of range [0, %d)", pos, r.MaxSeqLen)
				}
				base := ((b*heads+h)*seq + s) * headDim
				tab := pos * headDim
				for d := 0; d < half; d++ {
					x1, x2 := x.Data[base+d], x.Data[base+half+d]
					out.Data[base+d] = x1*r.Cos[tab+d] - x2*r.Sin[tab+d]
					out.Data[base+half+d] = x2*r.Cos[tab+half+d] + x1*r.Sin[tab+half+d]
				}
			}
		}
	}
	return out, nil
}
