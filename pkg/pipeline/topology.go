package pipeline

import "fmt"

// Topology is the 3D coordinate system mapping a global worker rank to its
// position along the pipeline, data-parallel and model-parallel axes. The
// axis order is pipe (outermost), then data, then model (innermost),
// matching the runtime the list of stages is handed to.
//
// A topology is computed once from the world size and the two configured
// parallelism degrees and is read-only afterward.
type Topology struct {
	pipe  int
	data  int
	model int
}

// Coord is one worker's position along the three axes.
type Coord struct {
	Pipe  int
	Model int
	Data  int
}

// NewTopology derives the data-parallel degree from the world size and
// validates world_size == pipe * model * data. An indivisible world size
// is a configuration error: construction fails before any stage is
// touched, and the error is fatal, not retried.
func NewTopology(worldSize, pipeDegree, modelDegree int) (*Topology, error) {
	if pipeDegree <= 0 || modelDegree <= 0 {
		return nil, fmt.Errorf("parallelism degrees must be positive, got pipe=%d model=%d",
			pipeDegree, modelDegree)
	}
	if worldSize <= 0 || worldSize%(pipeDegree*modelDegree) != 0 {
		return nil, fmt.Errorf("world size %d is not divisible by pipe (%d) * model (%d) parallelism",
			worldSize, pipeDegree, modelDegree)
	}
	return &Topology{
		pipe:  pipeDegree,
		model: modelDegree,
		data:  worldSize / (pipeDegree * modelDegree),
	}, nil
}

// WorldSize returns the total number of workers.
func (t *Topology) WorldSize() int { return t.pipe * t.data * t.model }

// PipeDegree returns the number of pipeline stages.
func (t *Topology) PipeDegree() int { return t.pipe }

// ModelDegree returns the model-parallel degree.
func (t *Topology) ModelDegree() int { return t.model }

// DataDegree returns the derived data-parallel degree.
func (t *Topology) DataDegree() int { return t.data }

// Coord maps a global rank to its coordinate. Every rank in
// [0, WorldSize) maps to exactly one coordinate.
func (t *Topology) Coord(rank int) (Coord, error) {
	if rank < 0 || rank >= t.WorldSize() {
		return Coord{}, fmt.Errorf("rank %d out of range [0, %d)", rank, t.WorldSize())
	}
	return Coord{
		Pipe:  rank / (t.data * t.model),
		Data:  (rank / t.model) % t.data,
		Model: rank % t.model,
	}, nil
}

// Rank is the inverse of Coord.
func (t *Topology) Rank(c Coord) (int, error) {
	if c.Pipe < 0 || c.Pipe >= t.pipe || c.Data < 0 || c.Data >= t.data || c.Model < 0 || c.Model >= t.model {
		return 0, fmt.Errorf("coordinate %+v out of range for topology pipe=%d data=%d model=%d",
			c, t.pipe, t.data, t.model)
	}
	return (c.Pipe*t.data+c.Data)*t.model + c.Model, nil
}

// StageSeed assigns the random seed for a worker at the given
// pipeline-stage coordinate. Interior stages get base + stage*modelDegree
// so that their dropout and initialization streams decorrelate across
// pipeline ranks; boundary stages (first and last, often embedding/output
// and sometimes weight-tied) keep the unmodified base seed for
// reproducibility.
//
// This is a pure function of its arguments — it never mutates shared
// configuration.
func StageSeed(base int64, stage, pipeDegree, modelDegree int) int64 {
	if stage > 0 && stage < pipeDegree-1 {
		return base + int64(stage*modelDegree)
	}
	return base
}
