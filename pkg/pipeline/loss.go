package pipeline

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"llmpipe/pkg/tensor"
)

// IgnoreIndex marks label positions excluded from the loss.
const IgnoreIndex = -100

// CrossEntropy maps the terminal stage's output tuple and a label tensor
// to a scalar training signal: mean cross-entropy over the flattened
// (token-position x vocabulary) logits against flattened labels.
//
// Labels equal to IgnoreIndex are excluded. When EVERY position is
// ignored the result is NaN — there are zero contributing positions, so
// there is no meaningful loss value, and the contract is to surface that
// condition rather than substitute a default. Callers must check the
// result with math.IsNaN before using it for a gradient step.
func CrossEntropy(outputs Tuple, labels *tensor.Tensor) (float64, error) {
	logits, err := outputs.Unpack1()
	if err != nil {
		return 0, err
	}
	if logits.Dims() < 2 {
		return 0, fmt.Errorf("expected at least 2D logits, got shape %v", logits.Shape)
	}
	vocab := logits.Shape[len(logits.Shape)-1]
	rows := logits.Size() / vocab
	if labels.Size() != rows {
		return 0, fmt.Errorf("labels size %d does not match %d logit rows (logits %v, labels %v)",
			labels.Size(), rows, logits.Shape, labels.Shape)
	}

	buf := make([]float64, vocab)
	var total float64
	var count int
	for r := 0; r < rows; r++ {
		label := int(labels.Data[r])
		if label == IgnoreIndex {
			continue
		}
		if label < 0 || label >= vocab {
			return 0, fmt.Errorf("label %d at position %d out of range [0, %d)", label, r, vocab)
		}
		row := logits.Data[r*vocab : (r+1)*vocab]
		for i, v := range row {
			buf[i] = float64(v)
		}
		// -log softmax(row)[label] = logsumexp(row) - row[label]
		total += floats.LogSumExp(buf) - buf[label]
		count++
	}
	if count == 0 {
		return math.NaN(), nil
	}
	return total / float64(count), nil
}
