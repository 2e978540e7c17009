package comm

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/NOAA-GFDL/cubedsphere/partitions"
	"github.com/NOAA-GFDL/cubedsphere/quantity"
	"github.com/NOAA-GFDL/cubedsphere/transport"
)

func TestTileCommunicator_ScatterGather(t *testing.T) {
	group := transport.NewLocalGroup(4)
	layout := partitions.Layout{Rows: 2, Cols: 2}
	comms := make([]*TileCommunicator, 4)
	for rank, tr := range group {
		c, err := NewTileCommunicator(tr, layout, WithFillValue(-9))
		require.NoError(t, err)
		comms[rank] = c
	}

	global, err := quantity.NewQuantity("q",
		[]string{quantity.YDim, quantity.XDim},
		[]int{4, 4}, []int{0, 0}, []int{4, 4})
	require.NoError(t, err)
	for iy := 0; iy < 4; iy++ {
		for ix := 0; ix < 4; ix++ {
			global.Set(float64(iy*10+ix), iy, ix)
		}
	}

	locals := make([]*quantity.Quantity, 4)
	for rank := range locals {
		q, err := quantity.NewQuantity("q",
			[]string{quantity.YDim, quantity.XDim},
			[]int{4, 4}, []int{1, 1}, []int{2, 2})
		require.NoError(t, err)
		locals[rank] = q
	}

	// The root publishes first; the other ranks then take their chunks.
	require.NoError(t, comms[0].Scatter(global, locals[0]))
	for rank := 1; rank < 4; rank++ {
		require.NoError(t, comms[rank].Scatter(nil, locals[rank]))
	}

	for rank, q := range locals {
		row, col := comms[rank].Partitioner().SubtileIndex(rank)
		for iy := 0; iy < 2; iy++ {
			for ix := 0; ix < 2; ix++ {
				want := float64((row*2+iy)*10 + col*2 + ix)
				if got := q.At(1+iy, 1+ix); got != want {
					t.Errorf("rank %d interior (%d, %d) = %v, want %v", rank, iy, ix, got, want)
				}
			}
		}
		// Halo cells carry the fill value until a halo update runs.
		if got := q.At(0, 0); got != -9 {
			t.Errorf("rank %d halo = %v, want fill -9", rank, got)
		}
	}

	// The inverse trip: contributors first, then the root assembles.
	back, err := quantity.NewQuantity("q",
		[]string{quantity.YDim, quantity.XDim},
		[]int{4, 4}, []int{0, 0}, []int{4, 4})
	require.NoError(t, err)
	for rank := 1; rank < 4; rank++ {
		require.NoError(t, comms[rank].Gather(locals[rank], nil))
	}
	require.NoError(t, comms[0].Gather(locals[0], back))
	if diff := cmp.Diff(global.Data, back.Data); diff != "" {
		t.Errorf("gathered grid differs from original (-want +got):\n%s", diff)
	}
}

func TestCubedSphereCommunicator_ScatterGather(t *testing.T) {
	comms := cubeComms(t)

	global, err := quantity.NewQuantity("q",
		[]string{quantity.TileDim, quantity.YDim, quantity.XDim},
		[]int{6, 3, 3}, []int{0, 0, 0}, []int{6, 3, 3})
	require.NoError(t, err)
	for face := 0; face < 6; face++ {
		for iy := 0; iy < 3; iy++ {
			for ix := 0; ix < 3; ix++ {
				global.Set(float64(face*100+iy*10+ix), face, iy, ix)
			}
		}
	}

	// Per-rank quantities drop the tile axis and gain a halo.
	locals := make([]*quantity.Quantity, 6)
	for rank := range locals {
		q, err := quantity.NewQuantity("q",
			[]string{quantity.YDim, quantity.XDim},
			[]int{5, 5}, []int{1, 1}, []int{3, 3})
		require.NoError(t, err)
		locals[rank] = q
	}

	require.NoError(t, comms[0].Scatter(global, locals[0]))
	for rank := 1; rank < 6; rank++ {
		require.NoError(t, comms[rank].Scatter(nil, locals[rank]))
	}
	for rank, q := range locals {
		for iy := 0; iy < 3; iy++ {
			for ix := 0; ix < 3; ix++ {
				want := float64(rank*100 + iy*10 + ix)
				if got := q.At(1+iy, 1+ix); got != want {
					t.Errorf("face %d interior (%d, %d) = %v, want %v", rank, iy, ix, got, want)
				}
			}
		}
	}

	back, err := quantity.NewQuantity("q",
		[]string{quantity.TileDim, quantity.YDim, quantity.XDim},
		[]int{6, 3, 3}, []int{0, 0, 0}, []int{6, 3, 3})
	require.NoError(t, err)
	for rank := 1; rank < 6; rank++ {
		require.NoError(t, comms[rank].Gather(locals[rank], nil))
	}
	require.NoError(t, comms[0].Gather(locals[0], back))
	if diff := cmp.Diff(global.Data, back.Data); diff != "" {
		t.Errorf("gathered cube differs from original (-want +got):\n%s", diff)
	}
}

func TestCubedSphereCommunicator_ScatterErrors(t *testing.T) {
	comms := cubeComms(t)

	local, err := quantity.NewQuantity("q",
		[]string{quantity.YDim, quantity.XDim},
		[]int{5, 5}, []int{1, 1}, []int{3, 3})
	require.NoError(t, err)

	t.Run("MissingTileAxis", func(t *testing.T) {
		flat, err := quantity.NewQuantity("q",
			[]string{quantity.YDim, quantity.XDim},
			[]int{3, 3}, []int{0, 0}, []int{3, 3})
		require.NoError(t, err)
		err = comms[0].Scatter(flat, local)
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("err = %v, want ErrConfiguration", err)
		}
	})

	t.Run("NoSourceOnRoot", func(t *testing.T) {
		err := comms[0].Scatter(nil, local)
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("err = %v, want ErrConfiguration", err)
		}
	})

	t.Run("SizeMismatch", func(t *testing.T) {
		global, err := quantity.NewQuantity("q",
			[]string{quantity.TileDim, quantity.YDim, quantity.XDim},
			[]int{6, 4, 4}, []int{0, 0, 0}, []int{6, 4, 4})
		require.NoError(t, err)
		err = comms[0].Scatter(global, local)
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("err = %v, want ErrConfiguration", err)
		}
	})
}
