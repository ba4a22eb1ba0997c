package model

import (
	"fmt"
	"math"

	"llmpipe/pkg/tensor"
)

// Attention implements grouped-query self-attention with rotary position
// embeddings. NumKeyValueHeads key/value heads are shared by groups of
// query heads.
//
// The eager forward signature is (hidden states, attention bias, position
// ids): the bias is ADDITIVE — it is added to the scaled attention scores
// before softmax, so a -Inf entry removes a position from attention and a
// zero entry leaves the score untouched. Deriving that bias from a boolean
// mask is the caller's job (the pipeline stage does it per transition).
type Attention struct {
	NumHeads   int
	NumKVHeads int
	HeadDim    int

	WQ, WK, WV, WO *Linear
	Rope           *RoPE
}

// NewAttention creates a zero-initialized attention layer for the given
// configuration. The configuration must already be validated; inconsistent
// head counts are a programmer error and panic.
func NewAttention(cfg Config) *Attention {
	if cfg.NumAttentionHeads%cfg.NumKeyValueHeads != 0 {
		panic(fmt.Sprintf("num_attention_heads (%d) must be divisible by num_key_value_heads (%d)",
			cfg.NumAttentionHeads, cfg.NumKeyValueHeads))
	}
	headDim := cfg.HeadDim()
	rope, err := NewRoPE(headDim, cfg.MaxPositionEmbeddings, cfg.RopeTheta)
	if err != nil {
		panic(fmt.Sprintf("rope tables: %v", err))
	}
	return &Attention{
		NumHeads:   cfg.NumAttentionHeads,
		NumKVHeads: cfg.NumKeyValueHeads,
		HeadDim:    headDim,
		WQ:         NewLinear(cfg.HiddenSize, cfg.NumAttentionHeads*headDim, false),
		WK:         NewLinear(cfg.HiddenSize, cfg.NumKeyValueHeads*headDim, false),
		WV:         NewLinear(cfg.HiddenSize, cfg.NumKeyValueHeads*headDim, false),
		WO:         NewLinear(cfg.NumAttentionHeads*headDim, cfg.HiddenSize, false),
		Rope:       rope,
	}
}

// Forward computes self-attention.
//
// Input shapes:
//   - hidden: (batch, seq, hidden_size)
//   - attnBias: (seq, seq) additive bias, or nil for no masking
//   - positions: (seq,) position ids
//
// Output shape: (batch, seq, hidden_size).
func (a *Attention) Forward(hidden, attnBias, positions *tensor.Tensor) (*tensor.Tensor, error) {
	if hidden.Dims() != 3 {
		return nil, fmt.Errorf("expected 3D (batch, seq, hidden) input, got shape %v", hidden.Shape)
	}
	batch, seq := hidden.Shape[0], hidden.Shape[1]

	q, err := a.project(hidden, a.WQ, a.NumHeads, positions, true)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	k, err := a.project(hidden, a.WK, a.NumKVHeads, positions, true)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	v, err := a.project(hidden, a.WV, a.NumKVHeads, positions, false)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}

	// Repeat the key/value heads so every query head has a partner.
	k = repeatKV(k, a.NumHeads/a.NumKVHeads)
	v = repeatKV(v, a.NumHeads/a.NumKVHeads)

	kt, err := k.Transpose(2, 3)
	if err != nil {
		return nil, fmt.Errorf("key transpose: %w", err)
	}
	scores, err := tensor.Matmul(q, kt)
	if err != nil {
		return nil, fmt.Errorf("attention scores: %w", err)
	}
	scores = scores.Scale(float32(1 / math.Sqrt(float64(a.HeadDim))))

	if attnBias != nil {
		scores, err = tensor.Add(scores, attnBias)
		if err != nil {
			return nil, fmt.Errorf("attention bias: %w", err)
		}
	}

	weights := tensor.SoftmaxLast(scores)
	ctx, err := tensor.Matmul(weights, v)
	if err != nil {
		return nil, fmt.Errorf("attention context: %w", err)
	}

	// (batch, heads, seq, head_dim) -> (batch, seq, heads*head_dim)
	ctx, err = ctx.Transpose(1, 2)
	if err != nil {
		return nil, fmt.Errorf("context transpose: %w", err)
	}
	ctx, err = ctx.Reshape(batch, seq, a.NumHeads*a.HeadDim)
	if err != nil {
		return nil, fmt.Errorf("context reshape: %w", err)
	}

	out, err := a.WO.Forward(ctx)
	if err != nil {
		return nil, fmt.Errorf("output projection: %w", err)
	}
	return out, nil
}

// project applies w to hidden and reorders the result into per-head layout
// (batch, heads, seq, head_dim), optionally applying rotary embeddings.
func (a *Attention) project(hidden *tensor.Tensor, w *Linear, heads int, positions *tensor.Tensor, rotate bool) (*tensor.Tensor, error) {
	batch, seq := hidden.Shape[0], hidden.Shape[1]
	p, err := w.Forward(hidden)
	if err != nil {
		return nil, err
	}
	p, err = p.Reshape(batch, seq, heads, a.HeadDim)
	if err != nil {
		return nil, err
	}
	p, err = p.Transpose(1, 2)
	if err != nil {
		return nil, err
	}
	if rotate {
		p, err = a.Rope.Apply(p, positions)
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

// repeatKV expands (batch, kv_heads, seq, head_dim) to
// (batch, kv_heads*groups, seq, head_dim) by repeating each kv head for
// its group of query heads.
func repeatKV(x *tensor.Tensor, groups int) *tensor.Tensor {
	if groups == 1 {
		return x
	}
	batch, kvHeads, seq, headDim := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	out := tensor.New(batch, kvHeads*groups, seq, headDim)
	headSize := seq * headDim
	for b := 0; b < batch; b++ {
		for h := 0; h < kvHeads; h++ {
			src := x.Data[(b*kvHeads+h)*headSize : (b*kvHeads+h+1)*headSize]
			for g := 0; g < groups; g++ {
				dst := (b*kvHeads*groups + h*groups + g) * headSize
				copy(out.Data[dst:dst+headSize], src)
			}
		}
	}
	return out
}
