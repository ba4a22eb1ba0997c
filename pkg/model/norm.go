package model

import (
	"fmt"
	"math"

	"llmpipe/pkg/tensor"
)

// RMSNorm implements root-mean-square normalization with a learnable scale.
//
// Unlike LayerNorm there is no mean subtraction and no shift term:
//
//	rms = sqrt(mean(x^2) + eps)
//	out = (x / rms) * scale
//
// Normalization is applied independently to each position over the last
// (feature) dimension.
type RMSNorm struct {
	Scale *tensor.Tensor // (hidden_size,)
	Eps   float32
}

// NewRMSNorm creates an RMSNorm over dim features with scale initialized
// to ones.
func NewRMSNorm(dim int, eps float32) *RMSNorm {
	scale := tensor.New(dim)
	for i := range scale.Data {
		scale.Data[i] = 1
	}
	return &RMSNorm{Scale: scale, Eps: eps}
}

// Forward normalizes x over its last dimension.
//
// Input shape: (..., hidden_size). Output shape: same as input.
func (n *RMSNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Dims() == 0 {
		return nil, fmt.Errorf("cannot apply RMSNorm to a 0D tensor")
	}
	dim := x.Shape[len(x.Shape)-1]
	if dim != len(n.Scale.Data) {
		return nil, fmt.Errorf("input feature dimension %d does not match RMSNorm dimension %d",
			dim, len(n.Scale.Data))
	}

	rows := x.Size() / dim
	out := tensor.New(x.Shape...)
	for r := 0; r < rows; r++ {
		row := x.Data[r*dim : (r+1)*dim]
		outRow := out.Data[r*dim : (r+1)*dim]

		var sumSq float32
		for _, v := range row {
			sumSq += v * v
		}
		inv := float32(1 / math.Sqrt(float64(sumSq/float32(dim)+n.Eps)))

		for i, v := range row {
			outRow[i] = v * inv * n.Scale.Data[i]
		}
	}
	return out, nil
}
