package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"llmpipe/pkg/tensor"
)

func TestUnpack3(t *testing.T) {
	a, b, c := tensor.New(1), tensor.New(2), tensor.New(3)

	x, y, z, err := Tuple{a, b, c}.Unpack3()
	require.NoError(t, err)
	require.Same(t, a, x)
	require.Same(t, b, y)
	require.Same(t, c, z)

	_, _, _, err = Tuple{a, b}.Unpack3()
	require.Error(t, err)
	_, _, _, err = Tuple{a, b, c, a}.Unpack3()
	require.Error(t, err)
}

func TestUnpack1(t *testing.T) {
	a := tensor.New(1)

	x, err := Tuple{a}.Unpack1()
	require.NoError(t, err)
	require.Same(t, a, x)

	_, err = Tuple{}.Unpack1()
	require.Error(t, err)
	_, err = Tuple{a, a}.Unpack1()
	require.Error(t, err)
}

type stubStage struct {
	name string
	fn   func(Tuple) (Tuple, error)
}

func (s stubStage) Name() string                 { return s.name }
func (s stubStage) Forward(in Tuple) (Tuple, error) { return s.fn(in) }

func TestRunPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	stages := []Stage{
		stubStage{"ok", func(in Tuple) (Tuple, error) { return in, nil }},
		stubStage{"bad", func(Tuple) (Tuple, error) { return nil, boom }},
	}
	_, err := Run(stages, Tuple{tensor.New(1)})
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "bad")
}

func TestRunChainsStages(t *testing.T) {
	double := stubStage{"double", func(in Tuple) (Tuple, error) {
		x, err := in.Unpack1()
		if err != nil {
			return nil, err
		}
		return Tuple{x.Scale(2)}, nil
	}}
	out, err := Run([]Stage{double, double}, Tuple{mustTensor(t, []float32{1}, 1)})
	require.NoError(t, err)
	require.Equal(t, float32(4), out[0].Data[0])
}

func mustTensor(t *testing.T, data []float32, shape ...int) *tensor.Tensor {
	t.Helper()
	ts, err := tensor.FromSlice(data, shape...)
	require.NoError(t, err)
	return ts
}
