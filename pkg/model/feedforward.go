package model

import (
	"fmt"

	"llmpipe/pkg/tensor"
)

// FeedForward is the SwiGLU feed-forward block:
//
//	out = Down(SiLU(Gate(x)) * Up(x))
//
// Gate and Up project hidden_size -> intermediate_size, Down projects back.
// None of the projections carry a bias.
type FeedForward struct {
	Gate *Linear
	Up   *Linear
	Down *Linear
}

// NewFeedForward creates a zero-initialized SwiGLU block for the given
// configuration.
func NewFeedForward(cfg Config) *FeedForward {
	return &FeedForward{
		Gate: NewLinear(cfg.HiddenSize, cfg.IntermediateSize, false),
		Up:   NewLinear(cfg.HiddenSize, cfg.IntermediateSize, false),
		Down: NewLinear(cfg.IntermediateSize, cfg.HiddenSize, false),
	}
}

// Forward applies the block position-wise.
//
// Input shape: (batch, seq, hidden_size). Output shape: same.
func (ff *FeedForward) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	gated, err := ff.Gate.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("gate projection: %w", err)
	}
	up, err := ff.Up.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("up projection: %w", err)
	}
	inner, err := tensor.Mul(gated.SiLU(), up)
	if err != nil {
		return nil, fmt.Errorf("swiglu product: %w", err)
	}
	out, err := ff.Down.Forward(inner)
	if err != nil {
		return nil, fmt.Errorf("down projection: %w", err)
	}
	return out, nil
}
