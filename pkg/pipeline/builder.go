package pipeline

import (
	"fmt"

	"llmpipe/pkg/model"
)

// StageKind identifies which wrapper a specification materializes.
type StageKind int

const (
	StageEmbedding StageKind = iota
	StageTransformer
	StageNorm
	StageOutput
)

func (k StageKind) String() string {
	switch k {
	case StageEmbedding:
		return "embed"
	case StageTransformer:
		return "transformer"
	case StageNorm:
		return "norm"
	case StageOutput:
		return "lm_head"
	default:
		return fmt.Sprintf("StageKind(%d)", int(k))
	}
}

// StageSpec is a lazy stage descriptor: constructor selector plus
// arguments, no materialized layer. It is an inert value — the builder
// creates the full ordered list on every worker, and the engine
// materializes only the specs assigned to the local pipeline rank.
type StageSpec struct {
	Kind StageKind

	// Layer is the decoder-layer index for StageTransformer specs and
	// -1 otherwise.
	Layer int

	// Checkpoint requests activation checkpointing; only meaningful for
	// StageTransformer specs.
	Checkpoint bool

	// Config is the shared, read-only model configuration.
	Config model.Config
}

// Name returns the stage name the materialized stage will carry.
func (s StageSpec) Name() string {
	if s.Kind == StageTransformer {
		return fmt.Sprintf("layer.%d", s.Layer)
	}
	return s.Kind.String()
}

// Materialize constructs the stage described by the spec. Each spec is
// consumed once, by the worker that owns the stage; the caller owns the
// result. ckpt supplies the recompute boundary for checkpointed
// transformer specs and may be nil when s.Checkpoint is false.
func (s StageSpec) Materialize(ckpt Checkpointer) (Stage, error) {
	switch s.Kind {
	case StageEmbedding:
		return NewEmbeddingStageFromConfig(s.Config), nil
	case StageTransformer:
		if s.Checkpoint && ckpt == nil {
			return nil, fmt.Errorf("spec %s requests checkpointing but no checkpointer was supplied", s.Name())
		}
		if !s.Checkpoint {
			ckpt = nil
		}
		return NewTransformerStageFromConfig(s.Config, s.Layer, ckpt), nil
	case StageNorm:
		return NewNormStageFromConfig(s.Config), nil
	case StageOutput:
		return NewOutputStageFromConfig(s.Config), nil
	default:
		return nil, fmt.Errorf("unknown stage kind %v", s.Kind)
	}
}

// BuildSpecs produces the ordered stage-specification list for the
// configuration: one embedding stage, NumHiddenLayers transformer stages
// (each checkpointed iff checkpoint is true), one normalization stage and
// one output-projection stage. No tensors exist yet at this point.
func BuildSpecs(cfg model.Config, checkpoint bool) ([]StageSpec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	specs := make([]StageSpec, 0, cfg.NumHiddenLayers+3)
	specs = append(specs, StageSpec{Kind: StageEmbedding, Layer: -1, Config: cfg})
	for i := 0; i < cfg.NumHiddenLayers; i++ {
		specs = append(specs, StageSpec{Kind: StageTransformer, Layer: i, Checkpoint: checkpoint, Config: cfg})
	}
	specs = append(specs, StageSpec{Kind: StageNorm, Layer: -1, Config: cfg})
	specs = append(specs, StageSpec{Kind: StageOutput, Layer: -1, Config: cfg})
	return specs, nil
}

// MaterializeAll constructs every spec in order. The distributed engine
// materializes only its local slice; this helper serves the eager
// single-process path.
func MaterializeAll(specs []StageSpec, ckpt Checkpointer) ([]Stage, error) {
	stages := make([]Stage, len(specs))
	for i, s := range specs {
		st, err := s.Materialize(ckpt)
		if err != nil {
			return nil, fmt.Errorf("materialize %s: %w", s.Name(), err)
		}
		stages[i] = st
	}
	return stages, nil
}

// WrapModel is the eager mode of the builder: it wraps the layers of an
// already-instantiated model in place, in the same order BuildSpecs emits,
// borrowing the model's parameters rather than constructing fresh ones.
// The returned list has identical length and identical per-position tuple
// contracts to the lazy path.
func WrapModel(m *model.Model, checkpoint bool, ckpt Checkpointer) ([]Stage, error) {
	if checkpoint && ckpt == nil {
		return nil, fmt.Errorf("checkpointing requested but no checkpointer was supplied")
	}
	if !checkpoint {
		ckpt = nil
	}
	stages := make([]Stage, 0, len(m.Layers)+3)
	stages = append(stages, NewEmbeddingStage(m.EmbedTokens))
	for i, layer := range m.Layers {
		stages = append(stages, NewTransformerStage(layer, i, ckpt))
	}
	stages = append(stages, NewNormStage(m.Norm))
	stages = append(stages, NewOutputStage(m.LMHead))
	return stages, nil
}
