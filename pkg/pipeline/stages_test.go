package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"llmpipe/pkg/model"
	"llmpipe/pkg/tensor"
)

func testConfig() model.Config {
	cfg := model.DefaultConfig()
	cfg.VocabSize = 64
	cfg.HiddenSize = 16
	cfg.IntermediateSize = 40
	cfg.NumHiddenLayers = 4
	cfg.NumAttentionHeads = 4
	cfg.NumKeyValueHeads = 2
	cfg.MaxPositionEmbeddings = 32
	return cfg
}

func testModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.New(testConfig(), 11)
	require.NoError(t, err)
	return m
}

func hiddenInput(t *testing.T, cfg model.Config, batch, seq int) Tuple {
	t.Helper()
	hidden := tensor.New(batch, seq, cfg.HiddenSize)
	for i := range hidden.Data {
		hidden.Data[i] = float32(i%9) * 0.1
	}
	return Tuple{hidden, model.Positions(seq), tensor.CausalMask(seq)}
}

// Mask-to-bias law: a masked entry contributes negative infinity to the
// attention score, an unmasked entry contributes exactly zero.
func TestAttentionBias(t *testing.T) {
	mask := mustTensor(t, []float32{0, 1, 1, 0}, 2, 2)
	bias := AttentionBias(mask)

	require.Equal(t, mask.Shape, bias.Shape)
	require.Equal(t, float32(0), bias.Data[0])
	require.True(t, math.IsInf(float64(bias.Data[1]), -1))
	require.True(t, math.IsInf(float64(bias.Data[2]), -1))
	require.Equal(t, float32(0), bias.Data[3])
}

func TestAttentionBiasIntegerValued(t *testing.T) {
	mask := mustTensor(t, []float32{0, 1}, 2)
	bias := AttentionBias(mask)
	for _, v := range bias.Data {
		if math.IsInf(float64(v), 0) {
			continue
		}
		require.Equal(t, float32(int64(v)), v, "finite bias entries must carry integer values")
	}
}

func TestEmbeddingStage(t *testing.T) {
	cfg := testConfig()
	m := testModel(t)
	stage := NewEmbeddingStage(m.EmbedTokens)

	seq := 5
	ids := tensor.New(1, seq)
	for i := range ids.Data {
		ids.Data[i] = float32(i % cfg.VocabSize)
	}
	positions := model.Positions(seq)
	mask := tensor.CausalMask(seq)

	out, err := stage.Forward(Tuple{ids, positions, mask})
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, []int{1, seq, cfg.HiddenSize}, out[0].Shape)

	// Positions and mask pass through untouched: same tensors, not copies.
	require.Same(t, positions, out[1])
	require.Same(t, mask, out[2])
}

func TestEmbeddingStageFromConfigContract(t *testing.T) {
	cfg := testConfig()
	stage := NewEmbeddingStageFromConfig(cfg)

	// The fresh table reserves the padding sentinel slot.
	require.Equal(t, []int{cfg.PaddedVocabSize(), cfg.HiddenSize}, stage.Embed.Weight.Shape)

	ids := tensor.New(1, 3)
	ids.Data[0] = float32(cfg.VocabSize) // sentinel id is in range
	out, err := stage.Forward(Tuple{ids, model.Positions(3), tensor.CausalMask(3)})
	require.NoError(t, err)
	require.Len(t, out, 3)
}

// Round-trip shape law: a transformer stage emits a tuple of identical
// arity and tensor shapes; only the hidden states change.
func TestTransformerStageRoundTrip(t *testing.T) {
	cfg := testConfig()
	m := testModel(t)
	stage := NewTransformerStage(m.Layers[0], 0, nil)

	in := hiddenInput(t, cfg, 2, 6)
	out, err := stage.Forward(in)
	require.NoError(t, err)

	require.Len(t, out, len(in))
	for i := range in {
		require.Equal(t, in[i].Shape, out[i].Shape, "tuple position %d", i)
	}
	require.Same(t, in[1], out[1], "position ids must pass through")
	require.Same(t, in[2], out[2], "the original boolean mask must be re-emitted, not the bias")
	require.False(t, in[0].Equals(out[0], 1e-9), "hidden states should change")
}

func TestTransformerStageArityMismatch(t *testing.T) {
	m := testModel(t)
	stage := NewTransformerStage(m.Layers[0], 0, nil)

	_, err := stage.Forward(Tuple{tensor.New(1, 2, 16)})
	require.Error(t, err)
	_, err = stage.Forward(Tuple{tensor.New(1), tensor.New(1), tensor.New(1), tensor.New(1)})
	require.Error(t, err)
}

// The norm stage reads only the first tuple element and discards the rest:
// this is the designed 3-to-1 arity transition.
func TestNormStageDiscardsExtras(t *testing.T) {
	cfg := testConfig()
	m := testModel(t)
	stage := NewNormStage(m.Norm)

	in := hiddenInput(t, cfg, 1, 4)
	out, err := stage.Forward(in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, in[0].Shape, out[0].Shape)

	// A bare 1-tuple works too; only arity zero is a wiring error.
	out, err = stage.Forward(Tuple{in[0]})
	require.NoError(t, err)
	require.Len(t, out, 1)

	_, err = stage.Forward(Tuple{})
	require.Error(t, err)
}

func TestOutputStage(t *testing.T) {
	cfg := testConfig()
	m := testModel(t)
	stage := NewOutputStage(m.LMHead)

	hidden := tensor.New(2, 4, cfg.HiddenSize)
	out, err := stage.Forward(Tuple{hidden})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []int{2, 4, cfg.PaddedVocabSize()}, out[0].Shape)

	// Strict 1-tuple input: a leftover 3-tuple is a wiring bug and must
	// surface, not be silently truncated.
	_, err = stage.Forward(hiddenInput(t, cfg, 1, 4))
	require.Error(t, err)
}

func TestStageNames(t *testing.T) {
	m := testModel(t)
	require.Equal(t, "embed", NewEmbeddingStage(m.EmbedTokens).Name())
	require.Equal(t, "layer.3", NewTransformerStage(m.Layers[0], 3, nil).Name())
	require.Equal(t, "norm", NewNormStage(m.Norm).Name())
	require.Equal(t, "lm_head", NewOutputStage(m.LMHead).Name())
}
