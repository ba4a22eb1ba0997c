package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"llmpipe/pkg/tensor"
)

func TestCrossEntropyFiniteNonNegative(t *testing.T) {
	batch, seq, vocab := 2, 3, 5
	logits := tensor.New(batch, seq, vocab)
	for i := range logits.Data {
		logits.Data[i] = float32(i%7)*0.3 - 1
	}
	labels := tensor.New(batch, seq)
	for i := range labels.Data {
		labels.Data[i] = float32(i % vocab)
	}

	loss, err := CrossEntropy(Tuple{logits}, labels)
	require.NoError(t, err)
	require.False(t, math.IsNaN(loss))
	require.False(t, math.IsInf(loss, 0))
	require.GreaterOrEqual(t, loss, 0.0)
}

// Uniform logits give -log(1/V) = log(V) exactly.
func TestCrossEntropyUniformLogits(t *testing.T) {
	vocab := 8
	logits := tensor.New(1, 2, vocab)
	labels := mustTensor(t, []float32{3, 5}, 1, 2)

	loss, err := CrossEntropy(Tuple{logits}, labels)
	require.NoError(t, err)
	require.InDelta(t, math.Log(float64(vocab)), loss, 1e-6)
}

func TestCrossEntropyIgnoredPositions(t *testing.T) {
	vocab := 4
	// Row 0: certain prediction of the correct label -> ~0 loss.
	// Row 1: ignored, would otherwise contribute heavily.
	logits := tensor.New(1, 2, vocab)
	logits.Data[0] = 100 // row 0, label 0
	labels := mustTensor(t, []float32{0, IgnoreIndex}, 1, 2)

	loss, err := CrossEntropy(Tuple{logits}, labels)
	require.NoError(t, err)
	require.InDelta(t, 0, loss, 1e-6, "ignored position must not contribute")
}

// An all-ignored batch has zero contributing positions: the result is NaN
// and the caller is expected to detect it, not receive a substituted zero.
func TestCrossEntropyAllIgnored(t *testing.T) {
	logits := tensor.New(1, 3, 4)
	labels := mustTensor(t, []float32{IgnoreIndex, IgnoreIndex, IgnoreIndex}, 1, 3)

	loss, err := CrossEntropy(Tuple{logits}, labels)
	require.NoError(t, err)
	require.True(t, math.IsNaN(loss))
}

func TestCrossEntropyErrors(t *testing.T) {
	logits := tensor.New(1, 2, 4)
	labels := tensor.New(1, 2)

	// Terminal tuple must be a 1-tuple.
	_, err := CrossEntropy(Tuple{logits, labels}, labels)
	require.Error(t, err)

	// Label count must match logit rows.
	_, err = CrossEntropy(Tuple{logits}, tensor.New(1, 3))
	require.Error(t, err)

	// Labels outside the vocabulary (other than the ignore sentinel) are
	// data corruption, not something to clamp.
	bad := mustTensor(t, []float32{0, 4}, 1, 2)
	_, err = CrossEntropy(Tuple{logits}, bad)
	require.Error(t, err)

	_, err = CrossEntropy(Tuple{tensor.New(4)}, labels)
	require.Error(t, err)
}
