// Package quantity provides the N-dimensional data container exchanged by
// the cubed-sphere communicators, together with the boundary geometry that
// locates edge, corner and interior regions within it.
package quantity

// Dimension names drawn from a small fixed vocabulary. Cell-centered and
// interface (staggered) variants exist for each spatial axis; any other
// name is treated as an extra, non-geometric axis.
const (
	XDim          = "x"
	XInterfaceDim = "x_interface"
	YDim          = "y"
	YInterfaceDim = "y_interface"
	ZDim          = "z"
	ZInterfaceDim = "z_interface"

	// TileDim is the leading axis of whole-cube quantities held on a root
	// rank: one entry per cube face.
	TileDim = "tile"
)

// IsXDim reports whether dim is a horizontal x-axis (cell or interface).
func IsXDim(dim string) bool {
	return dim == XDim || dim == XInterfaceDim
}

// IsYDim reports whether dim is a horizontal y-axis (cell or interface).
func IsYDim(dim string) bool {
	return dim == YDim || dim == YInterfaceDim
}

// IsHorizontalDim reports whether dim is one of the two horizontal axes.
func IsHorizontalDim(dim string) bool {
	return IsXDim(dim) || IsYDim(dim)
}

// IsInterfaceDim reports whether dim is grid-interface staggered.
func IsInterfaceDim(dim string) bool {
	switch dim {
	case XInterfaceDim, YInterfaceDim, ZInterfaceDim:
		return true
	}
	return false
}

// HorizontalAxes returns the positions of the first y-like and x-like axes
// in dims, or -1 where absent.
func HorizontalAxes(dims []string) (yAxis, xAxis int) {
	yAxis, xAxis = -1, -1
	for i, d := range dims {
		if yAxis < 0 && IsYDim(d) {
			yAxis = i
		}
		if xAxis < 0 && IsXDim(d) {
			xAxis = i
		}
	}
	return yAxis, xAxis
}
