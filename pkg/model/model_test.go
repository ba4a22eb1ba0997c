package model

import (
	"math"
	"testing"

	"llmpipe/pkg/tensor"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.VocabSize = 64
	cfg.HiddenSize = 16
	cfg.IntermediateSize = 40
	cfg.NumHiddenLayers = 2
	cfg.NumAttentionHeads = 4
	cfg.NumKeyValueHeads = 2
	cfg.MaxPositionEmbeddings = 32
	return cfg
}

func tokenBatch(t *testing.T, cfg Config, batch, seq int) *tensor.Tensor {
	t.Helper()
	ids := tensor.New(batch, seq)
	for i := range ids.Data {
		ids.Data[i] = float32((i * 7) % cfg.VocabSize)
	}
	return ids
}

func TestModelForwardShape(t *testing.T) {
	cfg := testConfig()
	m, err := New(cfg, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logits, err := m.Forward(tokenBatch(t, cfg, 2, 8))
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	want := []int{2, 8, cfg.PaddedVocabSize()}
	for i, d := range want {
		if logits.Shape[i] != d {
			t.Fatalf("logits shape %v, expected %v", logits.Shape, want)
		}
	}
	for i, v := range logits.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("logit %d is %v", i, v)
		}
	}
}

func TestModelForwardDeterministic(t *testing.T) {
	cfg := testConfig()
	m, err := New(cfg, 3)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ids := tokenBatch(t, cfg, 1, 6)

	a, err := m.Forward(ids)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	b, err := m.Forward(ids)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !a.Equals(b, 0) {
		t.Error("eval-mode forward is not deterministic")
	}
}

func TestModelRejectsInvalidInput(t *testing.T) {
	cfg := testConfig()
	m, err := New(cfg, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := m.Forward(tensor.New(4)); err == nil {
		t.Error("expected error for 1D input")
	}
	if _, err := m.Forward(tensor.New(1, cfg.MaxPositionEmbeddings+1)); err == nil {
		t.Error("expected error for over-long sequence")
	}

	cfg.VocabSize = -1
	if _, err := New(cfg, 1); err == nil {
		t.Error("expected error for invalid config")
	}
}

// The padding sentinel row (id = VocabSize) is a valid embedding lookup.
func TestModelPaddingSentinelLookup(t *testing.T) {
	cfg := testConfig()
	m, err := New(cfg, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ids := tensor.New(1, 2)
	ids.Data[0] = float32(cfg.VocabSize) // sentinel slot
	ids.Data[1] = 0
	if _, err := m.Forward(ids); err != nil {
		t.Errorf("sentinel id rejected: %v", err)
	}
}
