package comm

import (
	"github.com/NOAA-GFDL/cubedsphere/quantity"
)

// rotatedShape returns the per-axis lengths of a block after k clockwise
// quarter turns: odd turns swap the horizontal extents, everything else is
// unchanged.
func rotatedShape(shape []int, k, yAxis, xAxis int) []int {
	out := append([]int(nil), shape...)
	if k%2 == 1 {
		out[yAxis], out[xAxis] = shape[xAxis], shape[yAxis]
	}
	return out
}

// packRotated serializes the region's values into dst in the row-major
// order of the block rotated k clockwise quarter turns, scaled by sign, so
// the receiving rank unpacks without any rotation of its own. Returns the
// number of values written.
func packRotated(r quantity.Region, k, yAxis, xAxis int, sign float64, dst []float64) int {
	src := r.Shape()
	out := rotatedShape(src, k, yAxis, xAxis)

	nd := len(out)
	idx := make([]int, nd)
	srcIdx := make([]int, nd)
	n := 0
	for {
		copy(srcIdx, idx)
		ay, ax := idx[yAxis], idx[xAxis]
		switch k % 4 {
		case 1:
			srcIdx[xAxis] = ay
			srcIdx[yAxis] = src[yAxis] - 1 - ax
		case 2:
			srcIdx[xAxis] = src[xAxis] - 1 - ax
			srcIdx[yAxis] = src[yAxis] - 1 - ay
		case 3:
			srcIdx[yAxis] = ax
			srcIdx[xAxis] = src[xAxis] - 1 - ay
		}
		dst[n] = sign * r.At(srcIdx...)
		n++

		axis := nd - 1
		for axis >= 0 {
			idx[axis]++
			if idx[axis] < out[axis] {
				break
			}
			idx[axis] = 0
			axis--
		}
		if axis < 0 {
			return n
		}
	}
}

// vectorSigns returns the coefficients combining a source (x, y) vector
// pair into the rotated frame's components after k clockwise quarter
// turns: xOut = xFromX*x + xFromY*y, and likewise for yOut. Exactly one
// coefficient per output component is non-zero.
func vectorSigns(k int) (xFromX, xFromY, yFromX, yFromY float64) {
	switch k % 4 {
	case 1:
		return 0, -1, 1, 0
	case 2:
		return -1, 0, 0, -1
	case 3:
		return 0, 1, -1, 0
	}
	return 1, 0, 0, 1
}

// componentSource resolves which source component and sign feed the given
// output component under k clockwise quarter turns. outIsX selects the
// rotated x component. Even turns keep components, odd turns swap them.
func componentSource(k int, outIsX bool) (srcIsX bool, sign float64) {
	xFromX, xFromY, yFromX, yFromY := vectorSigns(k)
	if outIsX {
		if k%2 == 0 {
			return true, xFromX
		}
		return false, xFromY
	}
	if k%2 == 0 {
		return false, yFromY
	}
	return true, yFromX
}
