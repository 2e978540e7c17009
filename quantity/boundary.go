package quantity

import (
	"errors"
	"fmt"
)

// ErrGeometry is wrapped by every out-of-range boundary or halo-depth
// request. Requests beyond the allocated halo are caller errors and are
// never silently clamped.
var ErrGeometry = errors.New("boundary geometry out of range")

// BoundaryType tags one of the eight boundary regions of a rank's domain,
// or its interior. The four edge types come first so they can index
// edge-only tables directly.
type BoundaryType uint8

const (
	North BoundaryType = iota
	South
	East
	West
	Northeast
	Northwest
	Southeast
	Southwest
	Interior
)

// EdgeBoundaryTypes lists the edge types in canonical order.
var EdgeBoundaryTypes = [4]BoundaryType{North, South, East, West}

// CornerBoundaryTypes lists the corner types in canonical order.
var CornerBoundaryTypes = [4]BoundaryType{Northeast, Northwest, Southeast, Southwest}

func (b BoundaryType) String() string {
	switch b {
	case North:
		return "north"
	case South:
		return "south"
	case East:
		return "east"
	case West:
		return "west"
	case Northeast:
		return "northeast"
	case Northwest:
		return "northwest"
	case Southeast:
		return "southeast"
	case Southwest:
		return "southwest"
	case Interior:
		return "interior"
	}
	return fmt.Sprintf("BoundaryType(%d)", uint8(b))
}

// IsCorner reports whether b is one of the four corner types.
func (b BoundaryType) IsCorner() bool {
	switch b {
	case Northeast, Northwest, Southeast, Southwest:
		return true
	}
	return false
}

// Opposite returns the boundary type facing b across the shared edge or
// corner on an unrotated neighbor.
func (b BoundaryType) Opposite() BoundaryType {
	switch b {
	case North:
		return South
	case South:
		return North
	case East:
		return West
	case West:
		return East
	case Northeast:
		return Southwest
	case Northwest:
		return Southeast
	case Southeast:
		return Northwest
	case Southwest:
		return Northeast
	}
	return Interior
}

// Components splits a corner type into its meridional and zonal edges.
// Edge types return themselves in the matching slot and Interior in the
// other.
func (b BoundaryType) Components() (ns, ew BoundaryType) {
	switch b {
	case North, South:
		return b, Interior
	case East, West:
		return Interior, b
	case Northeast:
		return North, East
	case Northwest:
		return North, West
	case Southeast:
		return South, East
	case Southwest:
		return South, West
	}
	return Interior, Interior
}

// touchesX reports whether the boundary restricts the x axis, and on which
// side (+1 east, -1 west, 0 untouched). touchesY is analogous.
func (b BoundaryType) touchesX() int {
	switch b {
	case East, Northeast, Southeast:
		return 1
	case West, Northwest, Southwest:
		return -1
	}
	return 0
}

func (b BoundaryType) touchesY() int {
	switch b {
	case North, Northeast, Northwest:
		return 1
	case South, Southeast, Southwest:
		return -1
	}
	return 0
}

// Range is a half-open index interval [Start, Stop) along one axis.
type Range struct {
	Start int
	Stop  int
}

// Len returns the number of indices covered.
func (r Range) Len() int { return r.Stop - r.Start }

// BoundarySlice computes per-axis index ranges for a boundary region of an
// array described by dims/shape/origin/extent. For each horizontal axis
// touched by the boundary type, the range covers the nPoints cells just
// inside the compute domain on that side (interior=true) or the nPoints
// halo cells just outside it (interior=false). Corner types restrict both
// horizontal axes; all other axes span their full allocated range.
// Requesting more points than the declared halo depth (or interior extent)
// is an error, not a clamp.
func BoundarySlice(dims []string, shape, origin, extent []int, bt BoundaryType, nPoints int, interior bool) ([]Range, error) {
	if len(dims) != len(shape) || len(dims) != len(origin) || len(dims) != len(extent) {
		return nil, fmt.Errorf("dims/shape/origin/extent lengths differ: %d/%d/%d/%d",
			len(dims), len(shape), len(origin), len(extent))
	}
	if bt == Interior {
		ranges := make([]Range, len(dims))
		for i := range dims {
			ranges[i] = Range{Start: origin[i], Stop: origin[i] + extent[i]}
		}
		return ranges, nil
	}
	if nPoints <= 0 {
		return nil, fmt.Errorf("%w: nPoints %d must be positive", ErrGeometry, nPoints)
	}
	ranges := make([]Range, len(dims))
	for i, dim := range dims {
		side := 0
		switch {
		case IsXDim(dim):
			side = bt.touchesX()
		case IsYDim(dim):
			side = bt.touchesY()
		}
		if side == 0 {
			ranges[i] = Range{Start: 0, Stop: shape[i]}
			continue
		}
		r, err := edgeRange(shape[i], origin[i], extent[i], side, nPoints, interior)
		if err != nil {
			return nil, fmt.Errorf("%w (axis %s, boundary %s)", err, dim, bt)
		}
		ranges[i] = r
	}
	return ranges, nil
}

// edgeRange selects nPoints cells adjacent to the compute-domain edge on
// the given side; interior selects inside the domain, otherwise the halo.
func edgeRange(shape, origin, extent, side, nPoints int, interior bool) (Range, error) {
	var r Range
	switch {
	case interior && side < 0:
		r = Range{Start: origin, Stop: origin + nPoints}
	case interior && side > 0:
		r = Range{Start: origin + extent - nPoints, Stop: origin + extent}
	case !interior && side < 0:
		r = Range{Start: origin - nPoints, Stop: origin}
	default:
		r = Range{Start: origin + extent, Stop: origin + extent + nPoints}
	}
	if interior && nPoints > extent {
		return Range{}, fmt.Errorf("%w: %d interior points requested, extent is %d", ErrGeometry, nPoints, extent)
	}
	if r.Start < 0 || r.Stop > shape {
		return Range{}, fmt.Errorf("%w: %d halo points requested, allocation is [%d, %d) with interior [%d, %d)",
			ErrGeometry, nPoints, 0, shape, origin, origin+extent)
	}
	return r, nil
}

// Region is a rectangular sub-view of a quantity, addressed in coordinates
// relative to the region's own origin.
type Region struct {
	q      *Quantity
	ranges []Range
}

// View returns the region covering the given absolute per-axis index
// ranges of q.
func (q *Quantity) View(ranges []Range) (Region, error) {
	if len(ranges) != q.NDim() {
		return Region{}, fmt.Errorf("quantity %q: view has %d ranges, quantity has %d axes",
			q.Name, len(ranges), q.NDim())
	}
	for i, r := range ranges {
		if r.Start < 0 || r.Stop > q.Shape[i] || r.Start > r.Stop {
			return Region{}, fmt.Errorf("%w: view range [%d, %d) outside axis %s of shape %d",
				ErrGeometry, r.Start, r.Stop, q.Dims[i], q.Shape[i])
		}
	}
	return Region{q: q, ranges: append([]Range(nil), ranges...)}, nil
}

// Ranges returns the absolute per-axis index ranges.
func (r Region) Ranges() []Range { return r.ranges }

// Shape returns the per-axis lengths of the region.
func (r Region) Shape() []int {
	shape := make([]int, len(r.ranges))
	for i, rg := range r.ranges {
		shape[i] = rg.Len()
	}
	return shape
}

// Size returns the total number of points in the region.
func (r Region) Size() int {
	n := 1
	for _, rg := range r.ranges {
		n *= rg.Len()
	}
	return n
}

// At returns the value at a region-relative multi-index.
func (r Region) At(idx ...int) float64 {
	return r.q.Data[r.flat(idx)]
}

// Set stores a value at a region-relative multi-index.
func (r Region) Set(v float64, idx ...int) {
	r.q.Data[r.flat(idx)] = v
}

func (r Region) flat(idx []int) int {
	flat := 0
	for i, v := range idx {
		flat += (r.ranges[i].Start + v) * r.q.strides[i]
	}
	return flat
}

// ExtractTo packs the region's values into dst in row-major order and
// returns the number of values written. dst must hold Size() values.
func (r Region) ExtractTo(dst []float64) int {
	n := 0
	r.walk(func(flat int) {
		dst[n] = r.q.Data[flat]
		n++
	})
	return n
}

// InsertFrom unpacks row-major values from src into the region and returns
// the number of values consumed.
func (r Region) InsertFrom(src []float64) int {
	n := 0
	r.walk(func(flat int) {
		r.q.Data[flat] = src[n]
		n++
	})
	return n
}

// Fill sets every point of the region to v.
func (r Region) Fill(v float64) {
	r.walk(func(flat int) {
		r.q.Data[flat] = v
	})
}

// walk visits each point of the region in row-major order, passing the
// flat offset into the backing data.
func (r Region) walk(visit func(flat int)) {
	nd := len(r.ranges)
	if nd == 0 {
		return
	}
	idx := make([]int, nd)
	for i, rg := range r.ranges {
		if rg.Len() <= 0 {
			return
		}
		idx[i] = rg.Start
	}
	for {
		flat := 0
		for i, v := range idx {
			flat += v * r.q.strides[i]
		}
		visit(flat)
		axis := nd - 1
		for axis >= 0 {
			idx[axis]++
			if idx[axis] < r.ranges[axis].Stop {
				break
			}
			idx[axis] = r.ranges[axis].Start
			axis--
		}
		if axis < 0 {
			return
		}
	}
}
