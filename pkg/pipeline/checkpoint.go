package pipeline

import (
	"fmt"

	"llmpipe/pkg/tensor"
)

// ForwardFunc is the body handed to a recompute boundary. It must be pure
// with respect to its explicit inputs (and the layer parameters it closes
// over): the boundary will execute it a second time during backward and
// the two executions must produce identical outputs.
type ForwardFunc func(args ...*tensor.Tensor) (*tensor.Tensor, error)

// Checkpointer is the recompute-on-backward primitive supplied by the
// training runtime. Checkpoint executes fn for the forward pass while
// retaining only fn's inputs; the intermediates are reconstructed by
// re-executing fn when the backward pass reaches this boundary.
type Checkpointer interface {
	Checkpoint(fn ForwardFunc, args ...*tensor.Tensor) (*tensor.Tensor, error)
}

// CheckpointConfig carries the named activation-checkpointing options of
// the runtime. A nil *CheckpointConfig disables checkpointing entirely.
type CheckpointConfig struct {
	PartitionActivations          bool
	ContiguousMemoryOptimization  bool
	CPUCheckpointing              bool
	NumberCheckpoints             *int
	SynchronizeCheckpointBoundary bool
	Profile                       bool
}

// Validate checks option consistency before the configuration is handed to
// the runtime.
func (c CheckpointConfig) Validate() error {
	if c.NumberCheckpoints != nil && *c.NumberCheckpoints <= 0 {
		return fmt.Errorf("number_checkpoints must be positive, got %d", *c.NumberCheckpoints)
	}
	if c.CPUCheckpointing && !c.PartitionActivations {
		return fmt.Errorf("cpu_checkpointing requires partition_activations")
	}
	return nil
}

// RecomputeCheckpointer is the in-process reference implementation of the
// recompute boundary. It records each (body, inputs) frame — cloning the
// inputs so later in-place mutation cannot corrupt the replay — executes
// the body immediately for the forward pass, and re-executes it from the
// saved inputs when Replay is called during backward.
//
// The memory-placement options of CheckpointConfig (partitioning,
// contiguous buffers, CPU offload) have no effect in a single-process
// runtime; they are validated and carried for interface compatibility with
// the distributed engine.
type RecomputeCheckpointer struct {
	frames []frame
}

type frame struct {
	fn   ForwardFunc
	args []*tensor.Tensor
}

// NewRecomputeCheckpointer creates an empty checkpointer. cfg may be nil;
// a non-nil cfg is validated.
func NewRecomputeCheckpointer(cfg *CheckpointConfig) (*RecomputeCheckpointer, error) {
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("checkpoint config: %w", err)
		}
	}
	return &RecomputeCheckpointer{}, nil
}

// Checkpoint records the frame and runs fn for the forward pass. The
// returned tensor is fn's output unchanged: enabling checkpointing alters
// when the body runs relative to backward, never what it computes.
func (c *RecomputeCheckpointer) Checkpoint(fn ForwardFunc, args ...*tensor.Tensor) (*tensor.Tensor, error) {
	saved := make([]*tensor.Tensor, len(args))
	for i, a := range args {
		saved[i] = a.Clone()
	}
	c.frames = append(c.frames, frame{fn: fn, args: saved})
	return fn(args...)
}

// Frames returns the number of recorded recompute boundaries.
func (c *RecomputeCheckpointer) Frames() int { return len(c.frames) }

// Replay re-executes frame i from its saved inputs, reconstructing the
// activations for the backward pass. With a deterministic body the result
// is identical to the original forward output.
func (c *RecomputeCheckpointer) Replay(i int) (*tensor.Tensor, error) {
	if i < 0 || i >= len(c.frames) {
		return nil, fmt.Errorf("no checkpoint frame %d (have %d)", i, len(c.frames))
	}
	f := c.frames[i]
	return f.fn(f.args...)
}

// Reset drops all recorded frames, e.g. between micro-batches.
func (c *RecomputeCheckpointer) Reset() { c.frames = c.frames[:0] }
