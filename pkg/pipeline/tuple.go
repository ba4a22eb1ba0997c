// Package pipeline decomposes the model into an ordered list of
// independently schedulable stages for pipeline-parallel execution.
//
// Every stage consumes a fixed-arity tuple of tensors and emits a tuple for
// its successor. Two tuple shapes occur: (hidden-or-token ids, position ids,
// boolean mask) from the embedding up to the last transformer stage, and
// (hidden,) from normalization onward. The package also provides the lazy
// stage-specification builder, the cross-entropy loss contract, activation
// checkpointing, and the 3D process topology with its per-stage seed
// assignment. The distributed execution engine itself (micro-batch
// scheduling, inter-stage communication) is an external collaborator.
package pipeline

import (
	"fmt"

	"llmpipe/pkg/tensor"
)

// Tuple is the inter-stage data contract: an ordered, fixed-arity group of
// tensors. Arity and positional meaning are fixed per transition; a stage
// must accept exactly the shape its predecessor emits. Violations are
// wiring bugs and surface immediately as unpack errors, they are never
// recovered from.
type Tuple []*tensor.Tensor

// Unpack3 splits a 3-tuple. It fails on any other arity.
func (t Tuple) Unpack3() (a, b, c *tensor.Tensor, err error) {
	if len(t) != 3 {
		return nil, nil, nil, fmt.Errorf("expected 3-tuple, got arity %d", len(t))
	}
	return t[0], t[1], t[2], nil
}

// Unpack1 splits a 1-tuple. It fails on any other arity.
func (t Tuple) Unpack1() (*tensor.Tensor, error) {
	if len(t) != 1 {
		return nil, fmt.Errorf("expected 1-tuple, got arity %d", len(t))
	}
	return t[0], nil
}

// Stage is one unit of the pipeline: a tuple-in/tuple-out transformation
// executing on one logical device group.
type Stage interface {
	// Name identifies the stage for logs and plan listings.
	Name() string

	// Forward consumes the predecessor's tuple and produces the
	// successor's.
	Forward(Tuple) (Tuple, error)
}

// Run executes materialized stages sequentially in a single process. This
// is the eager collaborator used by tests and the CLI; distributing stages
// across workers is the external engine's job.
func Run(stages []Stage, in Tuple) (Tuple, error) {
	out := in
	for _, s := range stages {
		var err error
		out, err = s.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", s.Name(), err)
		}
	}
	return out, nil
}
