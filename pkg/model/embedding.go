package model

import (
	"fmt"

	"llmpipe/pkg/tensor"
)

// Embedding is a token embedding lookup table.
type Embedding struct {
	Weight *tensor.Tensor // (num_embeddings, embedding_dim)
}

// NewEmbedding creates a zero-initialized embedding table.
func NewEmbedding(numEmbeddings, dim int) *Embedding {
	return &Embedding{Weight: tensor.New(numEmbeddings, dim)}
}

// Forward looks up each token id in the table.
//
// Input shape: (batch, seq) of integer token ids stored as float32.
// Output shape: (batch, seq, embedding_dim).
func (e *Embedding) Forward(ids *tensor.Tensor) (*tensor.Tensor, error) {
	if ids.Dims() != 2 {
		return nil, fmt.Errorf("expected 2D (batch, seq) token ids, got shape %v", ids.Shape)
	}
	numEmbeddings, dim := e.Weight.Shape[0], e.Weight.Shape[1]
	batch, seq := ids.Shape[0], ids.Shape[1]

	out := tensor.New(batch, seq, dim)
	for i, raw := range ids.Data {
		id := int(raw)
		if id < 0 || id >= numEmbeddings {
			return nil, fmt.Errorf("token id %d out of range [0, %d)", id, numEmbeddings)
		}
		copy(out.Data[i*dim:(i+1)*dim], e.Weight.Data[id*dim:(id+1)*dim])
	}
	return out, nil
}
