package model

import (
	"fmt"

	"llmpipe/pkg/tensor"
)

// Linear is a dense projection y = x @ W (+ b).
type Linear struct {
	Weight *tensor.Tensor // (in_features, out_features)
	Bias   *tensor.Tensor // (out_features,), nil when the layer has no bias
}

// NewLinear creates a zero-initialized linear layer. The LM head and all
// attention projections use bias=false.
func NewLinear(in, out int, bias bool) *Linear {
	l := &Linear{Weight: tensor.New(in, out)}
	if bias {
		l.Bias = tensor.New(out)
	}
	return l
}

// Forward applies the projection to the last dimension of x.
//
// Input shape: (..., in_features). Output shape: (..., out_features).
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	in := l.Weight.Shape[0]
	if x.Shape[len(x.Shape)-1] != in {
		return nil, fmt.Errorf("input feature dimension %d does not match weight input dimension %d",
			x.Shape[len(x.Shape)-1], in)
	}
	out, err := tensor.Matmul(x, l.Weight)
	if err != nil {
		return nil, fmt.Errorf("linear projection: %w", err)
	}
	if l.Bias != nil {
		out, err = tensor.Add(out, l.Bias)
		if err != nil {
			return nil, fmt.Errorf("linear bias: %w", err)
		}
	}
	return out, nil
}
