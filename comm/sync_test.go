package comm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NOAA-GFDL/cubedsphere/quantity"
)

// windPair allocates a C-grid staggered (u, v) pair with a 3x4 and 4x3
// interior inside a one-cell halo, filled with per-face constants.
func windPair(t *testing.T, face int) (u, v *quantity.Quantity) {
	t.Helper()
	u, err := quantity.NewQuantity("u",
		[]string{quantity.YDim, quantity.XInterfaceDim},
		[]int{5, 6}, []int{1, 1}, []int{3, 4})
	require.NoError(t, err)
	v, err = quantity.NewQuantity("v",
		[]string{quantity.YInterfaceDim, quantity.XDim},
		[]int{6, 5}, []int{1, 1}, []int{4, 3})
	require.NoError(t, err)
	for i := range u.Data {
		u.Data[i] = float64(100 + face)
	}
	for i := range v.Data {
		v.Data[i] = float64(200 + face)
	}
	return u, v
}

func TestCubedSphere_SynchronizeVectorInterfaces(t *testing.T) {
	comms := cubeComms(t)
	us := make([]*quantity.Quantity, 6)
	vs := make([]*quantity.Quantity, 6)
	for face := range us {
		us[face], vs[face] = windPair(t, face)
	}
	reqs := make([]*HaloUpdateRequest, 6)
	for rank, c := range comms {
		req, err := c.StartSynchronizeVectorInterfaces(us[rank], vs[rank])
		require.NoError(t, err)
		reqs[rank] = req
	}
	for rank, req := range reqs {
		require.NoError(t, req.Wait(), "rank %d", rank)
	}

	// Face 0's east interface line is co-owned with face 1's west line,
	// whose u is authoritative across the unrotated shared edge.
	u, v := us[0], vs[0]
	for iy := 0; iy < 3; iy++ {
		if got := u.At(1+iy, 4); got != 101 {
			t.Errorf("east u line[%d] = %v, want 101", iy, got)
		}
	}
	// Face 0's north interface line pairs with face 2's west line; the
	// quarter turn between the frames maps face 2's u onto v here.
	for ix := 0; ix < 3; ix++ {
		if got := v.At(4, 1+ix); got != 102 {
			t.Errorf("north v line[%d] = %v, want 102", ix, got)
		}
	}
	// Authoritative south and west lines keep their own values.
	for ix := 0; ix < 3; ix++ {
		if got := v.At(1, 1+ix); got != 200 {
			t.Errorf("south v line[%d] = %v, want 200", ix, got)
		}
	}
	for iy := 0; iy < 3; iy++ {
		if got := u.At(1+iy, 1); got != 100 {
			t.Errorf("west u line[%d] = %v, want 100", iy, got)
		}
	}
	// Points outside the interior line stay put.
	if got := u.At(0, 4); got != 100 {
		t.Errorf("east u halo cell = %v, want 100", got)
	}
}

func TestSynchronizeVectorInterfaces_RejectsCellCentered(t *testing.T) {
	comms := cubeComms(t)
	centered, err := quantity.NewQuantity("q",
		[]string{quantity.YDim, quantity.XDim},
		[]int{5, 5}, []int{1, 1}, []int{3, 3})
	require.NoError(t, err)
	u, _ := windPair(t, 0)

	if _, err := comms[0].StartSynchronizeVectorInterfaces(centered, centered); !errors.Is(err, quantity.ErrGeometry) {
		t.Errorf("cell-centered x: err = %v, want ErrGeometry", err)
	}
	if _, err := comms[0].StartSynchronizeVectorInterfaces(u, centered); !errors.Is(err, quantity.ErrGeometry) {
		t.Errorf("cell-centered y: err = %v, want ErrGeometry", err)
	}
}
