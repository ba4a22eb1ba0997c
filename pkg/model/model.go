package model

import (
	"fmt"
	"math"
	"math/rand"

	"llmpipe/pkg/tensor"
)

// Model is the eager, non-distributed form of the network:
//
//	EmbedTokens -> Layers[0..N) -> Norm -> LMHead
//
// The embedding table and the LM head both use PaddedVocabSize rows: one
// slot beyond the vocabulary is reserved for a padding sentinel. The same
// layer objects can be borrowed by the pipeline package's eager wrap mode,
// which re-tags them behind its tuple-in/tuple-out stage contract.
type Model struct {
	Config      Config
	EmbedTokens *Embedding
	Layers      []*DecoderLayer
	Norm        *RMSNorm
	LMHead      *Linear

	// Training toggles embedding dropout; generation and the pipeline
	// determinism tests run with Training=false.
	Training bool

	rng *rand.Rand
}

// New creates a model with freshly initialized weights. The seed makes
// initialization (and training-mode dropout) reproducible.
func New(cfg Config, seed int64) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &Model{
		Config:      cfg,
		EmbedTokens: NewEmbedding(cfg.PaddedVocabSize(), cfg.HiddenSize),
		Layers:      make([]*DecoderLayer, cfg.NumHiddenLayers),
		Norm:        NewRMSNorm(cfg.HiddenSize, cfg.RMSNormEps),
		LMHead:      NewLinear(cfg.HiddenSize, cfg.PaddedVocabSize(), false),
		rng:         rand.New(rand.NewSource(seed)),
	}
	for i := range m.Layers {
		m.Layers[i] = NewDecoderLayer(cfg)
	}
	m.initWeights()
	return m, nil
}

// Forward runs the whole network eagerly.
//
// Input shape: (batch, seq) of token ids stored as float32.
// Output shape: (batch, seq, PaddedVocabSize) logits.
//
// Positions 0..seq-1 and a causal mask are derived internally; callers that
// need explicit control over positions and masking use the pipeline stages
// instead.
func (m *Model) Forward(tokenIDs *tensor.Tensor) (*tensor.Tensor, error) {
	if tokenIDs.Dims() != 2 {
		return nil, fmt.Errorf("expected 2D (batch, seq) token ids, got shape %v", tokenIDs.Shape)
	}
	seq := tokenIDs.Shape[1]
	if seq > m.Config.MaxPositionEmbeddings {
		return nil, fmt.Errorf("sequence length %d exceeds max position embeddings %d",
			seq, m.Config.MaxPositionEmbeddings)
	}

	hidden, err := m.EmbedTokens.Forward(tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("token embedding: %w", err)
	}
	if m.Training && m.Config.Dropout > 0 {
		hidden = hidden.Dropout(m.Config.Dropout, m.rng)
	}

	positions := Positions(seq)
	bias := causalBias(seq)
	for i, layer := range m.Layers {
		hidden, err = layer.Forward(hidden, bias, positions)
		if err != nil {
			return nil, fmt.Errorf("decoder layer %d: %w", i, err)
		}
	}

	hidden, err = m.Norm.Forward(hidden)
	if err != nil {
		return nil, fmt.Errorf("final norm: %w", err)
	}
	logits, err := m.LMHead.Forward(hidden)
	if err != nil {
		return nil, fmt.Errorf("lm head: %w", err)
	}
	return logits, nil
}

// Positions returns the (seq,) tensor of position ids 0..seq-1.
func Positions(seq int) *tensor.Tensor {
	p := tensor.New(seq)
	for i := range p.Data {
		p.Data[i] = float32(i)
	}
	return p
}

// causalBias is the additive form of the causal mask: -Inf above the
// diagonal, 0 elsewhere.
func causalBias(seq int) *tensor.Tensor {
	bias := tensor.New(seq, seq)
	negInf := float32(math.Inf(-1))
	for i := 0; i < seq; i++ {
		for j := i + 1; j < seq; j++ {
			bias.Data[i*seq+j] = negInf
		}
	}
	return bias
}

// initWeights initializes embeddings from N(0, 0.02) and projections with
// Xavier-uniform, leaving norm scales at one.
func (m *Model) initWeights() {
	m.normalInit(m.EmbedTokens.Weight, 0.02)
	m.xavierInit(m.LMHead.Weight)
	for _, layer := range m.Layers {
		m.xavierInit(layer.SelfAttn.WQ.Weight)
		m.xavierInit(layer.SelfAttn.WK.Weight)
		m.xavierInit(layer.SelfAttn.WV.Weight)
		m.xavierInit(layer.SelfAttn.WO.Weight)
		m.xavierInit(layer.MLP.Gate.Weight)
		m.xavierInit(layer.MLP.Up.Weight)
		m.xavierInit(layer.MLP.Down.Weight)
	}
}

func (m *Model) normalInit(t *tensor.Tensor, std float32) {
	for i := range t.Data {
		t.Data[i] = float32(m.rng.NormFloat64()) * std
	}
}

func (m *Model) xavierInit(t *tensor.Tensor) {
	fanIn := t.Shape[len(t.Shape)-2]
	fanOut := t.Shape[len(t.Shape)-1]
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range t.Data {
		t.Data[i] = float32((m.rng.Float64()*2 - 1) * limit)
	}
}
