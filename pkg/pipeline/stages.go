package pipeline

import (
	"fmt"
	"math"

	"llmpipe/pkg/model"
	"llmpipe/pkg/tensor"
)

// AttentionBias converts a boolean attention mask into the additive bias
// consumed by the decoder layers: masked entries (nonzero) map to -Inf,
// unmasked entries to exactly 0, and the result is then truncated to
// integer precision.
//
// The bias is deliberately integer-valued: the attention kernels consume it
// as an integer-precision tensor, so finite entries are truncated before
// use. -Inf survives truncation unchanged and the unmasked case stays
// exactly zero, so masked positions can never leak attention. Do not
// replace this with a plain float mask without also redefining the kernel
// contract downstream.
func AttentionBias(mask *tensor.Tensor) *tensor.Tensor {
	bias := tensor.New(mask.Shape...)
	negInf := float32(math.Inf(-1))
	for i, v := range mask.Data {
		if v != 0 {
			bias.Data[i] = negInf
		}
	}
	return truncateToInt(bias)
}

// truncateToInt drops the fractional part of every finite element,
// preserving infinities. Conversion of an infinity to an integer type is
// not defined in Go, so the sentinel is carried through as-is.
func truncateToInt(t *tensor.Tensor) *tensor.Tensor {
	for i, v := range t.Data {
		if !math.IsInf(float64(v), 0) {
			t.Data[i] = float32(int64(v))
		}
	}
	return t
}

// EmbeddingStage adapts the token embedding table to the stage contract.
//
// Input:  (token ids, position ids, boolean mask)
// Output: (hidden states, position ids, boolean mask)
//
// Position ids and the mask pass through untouched — every downstream
// transformer stage needs them, and they must not be dropped or recomputed
// here.
type EmbeddingStage struct {
	Embed *model.Embedding
}

// NewEmbeddingStage wraps an already-materialized embedding layer (the
// eager path). The stage borrows the layer; parameters are shared, not
// copied.
func NewEmbeddingStage(e *model.Embedding) *EmbeddingStage {
	return &EmbeddingStage{Embed: e}
}

// NewEmbeddingStageFromConfig constructs the stage and a fresh embedding
// table from configuration alone (the lazy specification path). The table
// has PaddedVocabSize rows: the vocabulary plus one padding sentinel slot.
// Weights start at zero; the engine that materializes the stage owns
// initialization or checkpoint loading.
func NewEmbeddingStageFromConfig(cfg model.Config) *EmbeddingStage {
	return &EmbeddingStage{Embed: model.NewEmbedding(cfg.PaddedVocabSize(), cfg.HiddenSize)}
}

func (s *EmbeddingStage) Name() string { return "embed" }

// Forward looks up the token ids and forwards positions and mask unchanged.
func (s *EmbeddingStage) Forward(args Tuple) (Tuple, error) {
	tokenIDs, positions, mask, err := args.Unpack3()
	if err != nil {
		return nil, err
	}
	hidden, err := s.Embed.Forward(tokenIDs)
	if err != nil {
		return nil, err
	}
	return Tuple{hidden, positions, mask}, nil
}

// TransformerStage adapts one decoder layer to the stage contract.
//
// Input:  (hidden states, position ids, boolean mask)
// Output: (new hidden states, position ids, boolean mask)
//
// The stage derives the additive attention bias from the boolean mask on
// every invocation and re-emits the mask in its ORIGINAL boolean form, not
// the derived bias: later stages re-derive the bias themselves.
type TransformerStage struct {
	Layer *model.DecoderLayer
	Index int

	// ckpt, when non-nil, routes the layer body through a recompute
	// boundary instead of executing it directly.
	ckpt Checkpointer
}

// NewTransformerStage wraps an already-materialized decoder layer. A nil
// checkpointer selects the plain forward path.
func NewTransformerStage(layer *model.DecoderLayer, index int, ckpt Checkpointer) *TransformerStage {
	return &TransformerStage{Layer: layer, Index: index, ckpt: ckpt}
}

// NewTransformerStageFromConfig constructs the stage and a fresh,
// zero-initialized decoder layer from configuration alone.
func NewTransformerStageFromConfig(cfg model.Config, index int, ckpt Checkpointer) *TransformerStage {
	return &TransformerStage{Layer: model.NewDecoderLayer(cfg), Index: index, ckpt: ckpt}
}

func (s *TransformerStage) Name() string { return fmt.Sprintf("layer.%d", s.Index) }

// Forward runs the decoder layer, either directly or through the
// checkpointer. Both paths execute the identical body, so for a fixed
// input and random state their outputs match exactly; any divergence under
// checkpointing is attributable to nondeterminism in the surrounding
// environment, not to this wrapper.
func (s *TransformerStage) Forward(args Tuple) (Tuple, error) {
	hidden, positions, mask, err := args.Unpack3()
	if err != nil {
		return nil, err
	}
	bias := AttentionBias(mask)

	var out *tensor.Tensor
	if s.ckpt != nil {
		out, err = s.ckpt.Checkpoint(s.body, hidden, bias, positions)
	} else {
		out, err = s.body(hidden, bias, positions)
	}
	if err != nil {
		return nil, err
	}
	return Tuple{out, positions, mask}, nil
}

// body is the pure forward function handed to the recompute boundary: its
// output depends only on its explicit arguments and the layer parameters.
func (s *TransformerStage) body(args ...*tensor.Tensor) (*tensor.Tensor, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("transformer body expects 3 tensors, got %d", len(args))
	}
	return s.Layer.Forward(args[0], args[1], args[2])
}

// NormStage applies the final root-mean-square normalization.
//
// Input:  (hidden states, ...) — only the first element is read; any
// remaining elements are deliberately discarded, since position and mask
// information is no longer needed from this point on.
// Output: (normalized hidden states,) — arity shrinks to 1 here, the
// designed transition from per-token sequence processing to final
// representation.
type NormStage struct {
	Norm *model.RMSNorm
}

// NewNormStage wraps an already-materialized RMSNorm layer.
func NewNormStage(n *model.RMSNorm) *NormStage {
	return &NormStage{Norm: n}
}

// NewNormStageFromConfig constructs the stage and a fresh norm layer from
// configuration alone.
func NewNormStageFromConfig(cfg model.Config) *NormStage {
	return &NormStage{Norm: model.NewRMSNorm(cfg.HiddenSize, cfg.RMSNormEps)}
}

func (s *NormStage) Name() string { return "norm" }

func (s *NormStage) Forward(args Tuple) (Tuple, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("expected at least a 1-tuple, got arity 0")
	}
	out, err := s.Norm.Forward(args[0])
	if err != nil {
		return nil, err
	}
	return Tuple{out}, nil
}

// OutputStage applies the bias-free projection to vocabulary logits.
//
// Input:  (hidden states,)
// Output: (logits,)
type OutputStage struct {
	Proj *model.Linear
}

// NewOutputStage wraps an already-materialized LM head.
func NewOutputStage(l *model.Linear) *OutputStage {
	return &OutputStage{Proj: l}
}

// NewOutputStageFromConfig constructs the stage and a fresh bias-free
// projection to PaddedVocabSize logits from configuration alone.
func NewOutputStageFromConfig(cfg model.Config) *OutputStage {
	return &OutputStage{Proj: model.NewLinear(cfg.HiddenSize, cfg.PaddedVocabSize(), false)}
}

func (s *OutputStage) Name() string { return "lm_head" }

func (s *OutputStage) Forward(args Tuple) (Tuple, error) {
	hidden, err := args.Unpack1()
	if err != nil {
		return nil, err
	}
	logits, err := s.Proj.Forward(hidden)
	if err != nil {
		return nil, err
	}
	return Tuple{logits}, nil
}
