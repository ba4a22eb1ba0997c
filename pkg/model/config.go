// Package model provides the layer types of a LLaMA-style decoder-only
// transformer: token embedding, RMSNorm, grouped-query attention with rotary
// position embeddings, SwiGLU feed-forward, and the output projection.
//
// The package knows nothing about pipeline parallelism. It exposes a
// configuration object and layer constructors with documented eager forward
// signatures; the pipeline package wraps these layers behind its own
// tuple-in/tuple-out stage contract.
package model

import "fmt"

// Config describes the architecture of the model. It is created once at
// startup and treated as read-only afterward; every layer constructor and
// every stage specification shares the same value.
type Config struct {
	// VocabSize is the number of real tokens in the vocabulary. The
	// embedding table and the output projection reserve one extra row
	// beyond this for a padding sentinel (see PaddedVocabSize).
	VocabSize int

	// HiddenSize is the model dimension carried between layers.
	HiddenSize int

	// IntermediateSize is the inner dimension of the SwiGLU feed-forward.
	IntermediateSize int

	// NumHiddenLayers is the number of decoder layers.
	NumHiddenLayers int

	// NumAttentionHeads is the number of query heads.
	NumAttentionHeads int

	// NumKeyValueHeads is the number of key/value heads for grouped-query
	// attention. Must divide NumAttentionHeads.
	NumKeyValueHeads int

	// MaxPositionEmbeddings is the longest sequence the rotary tables
	// are precomputed for.
	MaxPositionEmbeddings int

	// RMSNormEps is the epsilon used by every RMSNorm in the model.
	RMSNormEps float32

	// RopeTheta is the rotary embedding frequency base.
	RopeTheta float32

	// Dropout is the dropout rate applied after the token embedding when
	// the eager model runs in training mode. Zero disables it.
	Dropout float32
}

// DefaultConfig returns a small configuration suitable for tests and the
// CLI demo. Production configurations come from the caller.
func DefaultConfig() Config {
	return Config{
		VocabSize:             512,
		HiddenSize:            64,
		IntermediateSize:      172,
		NumHiddenLayers:       4,
		NumAttentionHeads:     4,
		NumKeyValueHeads:      2,
		MaxPositionEmbeddings: 128,
		RMSNormEps:            1e-5,
		RopeTheta:             10000,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.VocabSize <= 0 {
		return fmt.Errorf("vocab_size must be positive, got %d", c.VocabSize)
	}
	if c.HiddenSize <= 0 {
		return fmt.Errorf("hidden_size must be positive, got %d", c.HiddenSize)
	}
	if c.IntermediateSize <= 0 {
		return fmt.Errorf("intermediate_size must be positive, got %d", c.IntermediateSize)
	}
	if c.NumHiddenLayers <= 0 {
		return fmt.Errorf("num_hidden_layers must be positive, got %d", c.NumHiddenLayers)
	}
	if c.NumAttentionHeads <= 0 {
		return fmt.Errorf("num_attention_heads must be positive, got %d", c.NumAttentionHeads)
	}
	if c.NumKeyValueHeads <= 0 || c.NumAttentionHeads%c.NumKeyValueHeads != 0 {
		return fmt.Errorf("num_attention_heads (%d) must be divisible by num_key_value_heads (%d)",
			c.NumAttentionHeads, c.NumKeyValueHeads)
	}
	if c.HiddenSize%c.NumAttentionHeads != 0 {
		return fmt.Errorf("hidden_size (%d) must be divisible by num_attention_heads (%d)",
			c.HiddenSize, c.NumAttentionHeads)
	}
	if c.HeadDim()%2 != 0 {
		return fmt.Errorf("head dimension (%d) must be even for rotary embeddings", c.HeadDim())
	}
	if c.MaxPositionEmbeddings <= 0 {
		return fmt.Errorf("max_position_embeddings must be positive, got %d", c.MaxPositionEmbeddings)
	}
	if c.RMSNormEps <= 0 {
		return fmt.Errorf("rms_norm_eps must be positive, got %v", c.RMSNormEps)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1), got %v", c.Dropout)
	}
	return nil
}

// HeadDim returns the dimension of a single attention head.
func (c Config) HeadDim() int { return c.HiddenSize / c.NumAttentionHeads }

// PaddedVocabSize returns the row count of the embedding table and the
// output projection: the vocabulary plus one reserved padding slot.
func (c Config) PaddedVocabSize() int { return c.VocabSize + 1 }
