package model

import (
	"fmt"

	"llmpipe/pkg/tensor"
)

// DecoderLayer is one pre-norm transformer block:
//
//	h = x + Attention(RMSNorm(x), bias, positions)
//	out = h + FeedForward(RMSNorm(h))
//
// Its forward signature matches Attention: hidden states, additive
// attention bias, position ids.
type DecoderLayer struct {
	InputNorm    *RMSNorm
	SelfAttn     *Attention
	PostAttnNorm *RMSNorm
	MLP          *FeedForward
}

// NewDecoderLayer creates a zero-initialized decoder layer for the given
// configuration.
func NewDecoderLayer(cfg Config) *DecoderLayer {
	return &DecoderLayer{
		InputNorm:    NewRMSNorm(cfg.HiddenSize, cfg.RMSNormEps),
		SelfAttn:     NewAttention(cfg),
		PostAttnNorm: NewRMSNorm(cfg.HiddenSize, cfg.RMSNormEps),
		MLP:          NewFeedForward(cfg),
	}
}

// Forward runs the block.
//
// Input shapes:
//   - hidden: (batch, seq, hidden_size)
//   - attnBias: (seq, seq) additive bias, or nil
//   - positions: (seq,) position ids
//
// Output shape: (batch, seq, hidden_size).
func (l *DecoderLayer) Forward(hidden, attnBias, positions *tensor.Tensor) (*tensor.Tensor, error) {
	normed, err := l.InputNorm.Forward(hidden)
	if err != nil {
		return nil, fmt.Errorf("input norm: %w", err)
	}
	attnOut, err := l.SelfAttn.Forward(normed, attnBias, positions)
	if err != nil {
		return nil, fmt.Errorf("self attention: %w", err)
	}
	hidden, err = tensor.Add(hidden, attnOut)
	if err != nil {
		return nil, fmt.Errorf("attention residual: %w", err)
	}

	normed, err = l.PostAttnNorm.Forward(hidden)
	if err != nil {
		return nil, fmt.Errorf("post-attention norm: %w", err)
	}
	mlpOut, err := l.MLP.Forward(normed)
	if err != nil {
		return nil, fmt.Errorf("feed-forward: %w", err)
	}
	out, err := tensor.Add(hidden, mlpOut)
	if err != nil {
		return nil, fmt.Errorf("feed-forward residual: %w", err)
	}
	return out, nil
}
