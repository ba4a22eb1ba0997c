package pipeline

import (
	"fmt"

	"llmpipe/pkg/model"
	"llmpipe/pkg/tensor"
)

// LossFunc maps the terminal stage's output tuple and labels to a scalar
// training signal.
type LossFunc func(outputs Tuple, labels *tensor.Tensor) (float64, error)

// Options is the caller-supplied configuration surface for assembling a
// pipeline on one worker.
type Options struct {
	// PipeParallelSize is the number of pipeline stages.
	PipeParallelSize int

	// ModelParallelSize is the tensor/model-parallel degree.
	ModelParallelSize int

	// WorldSize is the total worker count. It must be divisible by
	// PipeParallelSize * ModelParallelSize; the remainder of the
	// factorization becomes the data-parallel degree.
	WorldSize int

	// Rank is the calling worker's global rank.
	Rank int

	// Seed is the base random seed before any stage offset.
	Seed int64

	// Checkpoint enables activation checkpointing for every transformer
	// stage when non-nil. Absence disables checkpointing entirely.
	Checkpoint *CheckpointConfig
}

// Pipeline is everything the external distributed runtime consumes when it
// constructs its pipeline object for one worker: the ordered stage
// specifications, the topology, the worker's (possibly stage-offset) seed,
// and the loss contract.
type Pipeline struct {
	Specs    []StageSpec
	Topology *Topology
	Coord    Coord
	Seed     int64
	Loss     LossFunc
}

// New validates the topology, applies the interior-stage seed offset for
// the calling rank, and builds the stage-specification list. No tensors
// are allocated; materialization of the local stages is the engine's job.
func New(cfg model.Config, opts Options) (*Pipeline, error) {
	topo, err := NewTopology(opts.WorldSize, opts.PipeParallelSize, opts.ModelParallelSize)
	if err != nil {
		return nil, err
	}
	coord, err := topo.Coord(opts.Rank)
	if err != nil {
		return nil, err
	}
	if opts.Checkpoint != nil {
		if err := opts.Checkpoint.Validate(); err != nil {
			return nil, fmt.Errorf("checkpoint config: %w", err)
		}
	}
	specs, err := BuildSpecs(cfg, opts.Checkpoint != nil)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		Specs:    specs,
		Topology: topo,
		Coord:    coord,
		Seed:     StageSeed(opts.Seed, coord.Pipe, topo.PipeDegree(), topo.ModelDegree()),
		Loss:     CrossEntropy,
	}, nil
}
