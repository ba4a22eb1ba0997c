package pipeline

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestNewTopologyValid(t *testing.T) {
	tests := []struct {
		world, pipe, model int
		wantData           int
	}{
		{1, 1, 1, 1},
		{4, 2, 1, 2},
		{8, 2, 2, 2},
		{12, 3, 2, 2},
		{16, 4, 2, 2},
	}
	for _, tt := range tests {
		topo, err := NewTopology(tt.world, tt.pipe, tt.model)
		require.NoError(t, err, "world=%d pipe=%d model=%d", tt.world, tt.pipe, tt.model)
		require.Equal(t, tt.wantData, topo.DataDegree())
		require.Equal(t, tt.world, topo.WorldSize())
	}
}

func TestNewTopologyInvalid(t *testing.T) {
	tests := []struct {
		world, pipe, model int
	}{
		{6, 4, 1},
		{7, 2, 2},
		{4, 0, 1},
		{4, 2, 0},
		{0, 1, 1},
		{-4, 2, 1},
	}
	for _, tt := range tests {
		_, err := NewTopology(tt.world, tt.pipe, tt.model)
		require.Error(t, err, "world=%d pipe=%d model=%d", tt.world, tt.pipe, tt.model)
	}
}

// Every rank maps to exactly one coordinate, and Rank inverts Coord.
func TestCoordBijective(t *testing.T) {
	topo, err := NewTopology(24, 3, 2) // data = 4
	require.NoError(t, err)

	seen := make(map[Coord]int)
	for rank := 0; rank < topo.WorldSize(); rank++ {
		c, err := topo.Coord(rank)
		require.NoError(t, err)
		prev, dup := seen[c]
		require.False(t, dup, "coordinate %+v assigned to ranks %d and %d", c, prev, rank)
		seen[c] = rank

		back, err := topo.Rank(c)
		require.NoError(t, err)
		require.Equal(t, rank, back)
	}
	require.Len(t, seen, topo.WorldSize())

	_, err = topo.Coord(-1)
	require.Error(t, err)
	_, err = topo.Coord(topo.WorldSize())
	require.Error(t, err)
	_, err = topo.Rank(Coord{Pipe: 3})
	require.Error(t, err)
}

func TestCoordAxisOrder(t *testing.T) {
	// pipe outermost, then data, model innermost.
	topo, err := NewTopology(8, 2, 2) // data = 2
	require.NoError(t, err)

	got := make([]Coord, 0, 8)
	for rank := 0; rank < 8; rank++ {
		c, err := topo.Coord(rank)
		require.NoError(t, err)
		got = append(got, c)
	}
	want := []Coord{
		{Pipe: 0, Data: 0, Model: 0},
		{Pipe: 0, Data: 0, Model: 1},
		{Pipe: 0, Data: 1, Model: 0},
		{Pipe: 0, Data: 1, Model: 1},
		{Pipe: 1, Data: 0, Model: 0},
		{Pipe: 1, Data: 0, Model: 1},
		{Pipe: 1, Data: 1, Model: 0},
		{Pipe: 1, Data: 1, Model: 1},
	}
	require.Empty(t, cmp.Diff(want, got))
}

// Boundary stages keep the base seed; interior stages are offset by
// stage * modelDegree. pipe=4, model=2, base=10 -> 10, 12, 14, 10.
func TestStageSeed(t *testing.T) {
	got := make([]int64, 0, 4)
	for stage := 0; stage < 4; stage++ {
		got = append(got, StageSeed(10, stage, 4, 2))
	}
	require.Equal(t, []int64{10, 12, 14, 10}, got)
}

func TestStageSeedSmallPipelines(t *testing.T) {
	// With two or fewer stages there is no interior: every stage keeps
	// the base seed.
	for _, pipe := range []int{1, 2} {
		for stage := 0; stage < pipe; stage++ {
			require.Equal(t, int64(99), StageSeed(99, stage, pipe, 8))
		}
	}
}
