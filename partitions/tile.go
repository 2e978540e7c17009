// Package partitions maps global rank numbers onto the cubed-sphere grid:
// which face a rank computes, where its sub-tile sits within the face, who
// its neighbors are, and how neighbor coordinate frames rotate relative to
// its own at cube-face edges.
package partitions

import (
	"errors"
	"fmt"

	"github.com/NOAA-GFDL/cubedsphere/quantity"
)

// NumTiles is the number of faces of the cubed sphere.
const NumTiles = 6

// ErrLayout is wrapped by every malformed or unsupported layout error.
var ErrLayout = errors.New("unsupported layout")

// Layout describes how many ranks subdivide one face along each axis.
// Rows counts sub-tiles along y (south to north), Cols along x (west to
// east).
type Layout struct {
	Rows int
	Cols int
}

func (l Layout) String() string { return fmt.Sprintf("(%d, %d)", l.Rows, l.Cols) }

// Boundary describes the neighbor relationship of FromRank across one of
// its boundaries. NClockwiseRotations is the number of clockwise quarter
// turns that must be applied to the neighbor's data to orient it like
// FromRank's local axes; it is non-zero only when the boundary crosses a
// cube-face edge.
type Boundary struct {
	Type                quantity.BoundaryType
	FromRank            int
	ToRank              int
	NClockwiseRotations int
}

// Partitioner resolves neighbor ranks and rotations for a topology. Both
// the single-tile and cubed-sphere partitioners implement it; the halo
// update engine is written against this interface only.
type Partitioner interface {
	TotalRanks() int

	// Boundary returns the neighbor relationship across the given boundary
	// of rank, or nil where no neighbor exists (beyond a tile edge, or at
	// a cube corner where three faces meet).
	Boundary(bt quantity.BoundaryType, rank int) *Boundary

	// BoundaryToward returns the boundary type of rank `from` whose
	// neighbor is rank `to`, searching corners or edges per the flag.
	BoundaryToward(from, to int, corner bool) (quantity.BoundaryType, bool)
}

// TilePartitioner is the pure geometric layer for a single face
// decomposed by a layout. Rank r sits at row r/Cols, column r%Cols.
type TilePartitioner struct {
	Layout Layout
}

// NewTilePartitioner validates the layout and returns a tile partitioner.
func NewTilePartitioner(layout Layout) (*TilePartitioner, error) {
	if layout.Rows < 1 || layout.Cols < 1 {
		return nil, fmt.Errorf("%w: %s must be at least (1, 1)", ErrLayout, layout)
	}
	return &TilePartitioner{Layout: layout}, nil
}

// TotalRanks returns the number of ranks covering one face.
func (p *TilePartitioner) TotalRanks() int { return p.Layout.Rows * p.Layout.Cols }

// SubtileIndex returns the (row, col) coordinate of rank within the face.
func (p *TilePartitioner) SubtileIndex(rank int) (row, col int) {
	r := rank % p.TotalRanks()
	return r / p.Layout.Cols, r % p.Layout.Cols
}

// RankAt returns the rank at a (row, col) coordinate.
func (p *TilePartitioner) RankAt(row, col int) int {
	return row*p.Layout.Cols + col
}

// OnTileLeft reports whether rank's sub-tile touches the face's west edge.
func (p *TilePartitioner) OnTileLeft(rank int) bool {
	_, col := p.SubtileIndex(rank)
	return col == 0
}

// OnTileRight reports whether rank's sub-tile touches the face's east edge.
func (p *TilePartitioner) OnTileRight(rank int) bool {
	_, col := p.SubtileIndex(rank)
	return col == p.Layout.Cols-1
}

// OnTileTop reports whether rank's sub-tile touches the face's north edge.
func (p *TilePartitioner) OnTileTop(rank int) bool {
	row, _ := p.SubtileIndex(rank)
	return row == p.Layout.Rows-1
}

// OnTileBottom reports whether rank's sub-tile touches the face's south
// edge.
func (p *TilePartitioner) OnTileBottom(rank int) bool {
	row, _ := p.SubtileIndex(rank)
	return row == 0
}

// onEdge reports whether rank touches the face edge in the direction of
// the given edge boundary type.
func (p *TilePartitioner) onEdge(bt quantity.BoundaryType, rank int) bool {
	switch bt {
	case quantity.North:
		return p.OnTileTop(rank)
	case quantity.South:
		return p.OnTileBottom(rank)
	case quantity.East:
		return p.OnTileRight(rank)
	case quantity.West:
		return p.OnTileLeft(rank)
	}
	return false
}

// Boundary resolves neighbors within a single face. A single face is
// topologically open: boundaries beyond the face edge have no neighbor and
// return nil. Rotations are always zero.
func (p *TilePartitioner) Boundary(bt quantity.BoundaryType, rank int) *Boundary {
	row, col := p.SubtileIndex(rank)
	ns, ew := bt.Components()
	switch ns {
	case quantity.North:
		row++
	case quantity.South:
		row--
	}
	switch ew {
	case quantity.East:
		col++
	case quantity.West:
		col--
	}
	if row < 0 || row >= p.Layout.Rows || col < 0 || col >= p.Layout.Cols {
		return nil
	}
	to := p.RankAt(row, col)
	if to == rank {
		return nil
	}
	return &Boundary{Type: bt, FromRank: rank, ToRank: to}
}

// BoundaryToward returns rank from's boundary type facing rank to.
func (p *TilePartitioner) BoundaryToward(from, to int, corner bool) (quantity.BoundaryType, bool) {
	return boundaryToward(p, from, to, corner)
}

func boundaryToward(p Partitioner, from, to int, corner bool) (quantity.BoundaryType, bool) {
	types := quantity.EdgeBoundaryTypes
	if corner {
		types = quantity.CornerBoundaryTypes
	}
	for _, bt := range types {
		if b := p.Boundary(bt, from); b != nil && b.ToRank == to {
			return bt, true
		}
	}
	return quantity.Interior, false
}

// SubtileExtent returns the per-rank extent of a sub-tile of a quantity
// with the given dims and whole-tile extent. Interface dims carry one
// extra point shared with the neighboring sub-tile, so extents are uniform
// across ranks. Horizontal extents must divide evenly by the layout.
func (p *TilePartitioner) SubtileExtent(dims []string, tileExtent []int) ([]int, error) {
	out := make([]int, len(dims))
	for i, dim := range dims {
		n := tileExtent[i]
		switch {
		case quantity.IsXDim(dim):
			cells := n
			if quantity.IsInterfaceDim(dim) {
				cells--
			}
			if cells%p.Layout.Cols != 0 {
				return nil, fmt.Errorf("%w: x extent %d does not divide into %d columns", ErrLayout, n, p.Layout.Cols)
			}
			out[i] = cells / p.Layout.Cols
			if quantity.IsInterfaceDim(dim) {
				out[i]++
			}
		case quantity.IsYDim(dim):
			cells := n
			if quantity.IsInterfaceDim(dim) {
				cells--
			}
			if cells%p.Layout.Rows != 0 {
				return nil, fmt.Errorf("%w: y extent %d does not divide into %d rows", ErrLayout, n, p.Layout.Rows)
			}
			out[i] = cells / p.Layout.Rows
			if quantity.IsInterfaceDim(dim) {
				out[i]++
			}
		default:
			out[i] = n
		}
	}
	return out, nil
}

// SubtileSlice returns the index ranges of rank's sub-tile within a
// whole-tile extent (tile-relative coordinates, interior only). Interface
// dims overlap their shared point with the adjacent sub-tile.
func (p *TilePartitioner) SubtileSlice(rank int, dims []string, tileExtent []int) ([]quantity.Range, error) {
	sub, err := p.SubtileExtent(dims, tileExtent)
	if err != nil {
		return nil, err
	}
	row, col := p.SubtileIndex(rank)
	out := make([]quantity.Range, len(dims))
	for i, dim := range dims {
		switch {
		case quantity.IsXDim(dim):
			cells := sub[i]
			if quantity.IsInterfaceDim(dim) {
				cells--
			}
			out[i] = quantity.Range{Start: col * cells, Stop: col*cells + sub[i]}
		case quantity.IsYDim(dim):
			cells := sub[i]
			if quantity.IsInterfaceDim(dim) {
				cells--
			}
			out[i] = quantity.Range{Start: row * cells, Stop: row*cells + sub[i]}
		default:
			out[i] = quantity.Range{Start: 0, Stop: tileExtent[i]}
		}
	}
	return out, nil
}
