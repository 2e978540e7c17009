package partitions

import (
	"fmt"

	"github.com/NOAA-GFDL/cubedsphere/quantity"
)

// cubeEdge is one directed entry of the face-adjacency table: crossing an
// edge of a face lands on toFace, arriving at the toEdge side of that
// face. rot is the number of clockwise quarter turns that orient the
// neighbor's data to the crossing face's axes; reversed reports whether
// the coordinate running along the shared edge flips direction.
type cubeEdge struct {
	toFace   int
	toEdge   quantity.BoundaryType
	rot      int
	reversed bool
}

// cubeEdges is the fixed adjacency table of the six cube faces, indexed by
// [face][North, South, East, West]. Faces follow the FV3 numbering: faces
// 0 and 1 sit on the equator, 2 on the north pole, 3 and 4 complete the
// equator, 5 on the south pole. Local axes are chosen so that walking
// around any face visits each neighbor once with consistent handedness;
// the table is derived from the 3D cube embedding (face normals
// +X,+Y,+Z,-X,-Y,-Z with east/north axes making consecutive-face edges
// rotation-free) and satisfies rot(a,b)+rot(b,a) == 0 mod 4 on every edge.
var cubeEdges = [NumTiles][4]cubeEdge{
	{ // face 0
		{toFace: 2, toEdge: quantity.West, rot: 1, reversed: true},  // north
		{toFace: 5, toEdge: quantity.North, rot: 0},                 // south
		{toFace: 1, toEdge: quantity.West, rot: 0},                  // east
		{toFace: 4, toEdge: quantity.North, rot: 3, reversed: true}, // west
	},
	{ // face 1
		{toFace: 2, toEdge: quantity.South, rot: 0},                 // north
		{toFace: 5, toEdge: quantity.East, rot: 1, reversed: true},  // south
		{toFace: 3, toEdge: quantity.South, rot: 3, reversed: true}, // east
		{toFace: 0, toEdge: quantity.East, rot: 0},                  // west
	},
	{ // face 2
		{toFace: 4, toEdge: quantity.West, rot: 1, reversed: true},  // north
		{toFace: 1, toEdge: quantity.North, rot: 0},                 // south
		{toFace: 3, toEdge: quantity.West, rot: 0},                  // east
		{toFace: 0, toEdge: quantity.North, rot: 3, reversed: true}, // west
	},
	{ // face 3
		{toFace: 4, toEdge: quantity.South, rot: 0},                 // north
		{toFace: 1, toEdge: quantity.East, rot: 1, reversed: true},  // south
		{toFace: 5, toEdge: quantity.South, rot: 3, reversed: true}, // east
		{toFace: 2, toEdge: quantity.East, rot: 0},                  // west
	},
	{ // face 4
		{toFace: 0, toEdge: quantity.West, rot: 1, reversed: true},  // north
		{toFace: 3, toEdge: quantity.North, rot: 0},                 // south
		{toFace: 5, toEdge: quantity.West, rot: 0},                  // east
		{toFace: 2, toEdge: quantity.North, rot: 3, reversed: true}, // west
	},
	{ // face 5
		{toFace: 0, toEdge: quantity.South, rot: 0},                 // north
		{toFace: 3, toEdge: quantity.East, rot: 1, reversed: true},  // south
		{toFace: 1, toEdge: quantity.South, rot: 3, reversed: true}, // east
		{toFace: 4, toEdge: quantity.East, rot: 0},                  // west
	},
}

// CubedSpherePartitioner maps global ranks onto six faces, each decomposed
// by the same square tile layout. Global rank = face*rows*cols +
// row*cols + col, a bijection over [0, 6*rows*cols).
type CubedSpherePartitioner struct {
	Tile *TilePartitioner
}

// NewCubedSpherePartitioner validates the tile layout and returns a
// cubed-sphere partitioner. Only square layouts are supported: crossing a
// rotated cube edge maps one face's rows onto the neighbor's columns, so
// unequal layouts would leave edge ranks without a one-to-one partner.
func NewCubedSpherePartitioner(tile *TilePartitioner) (*CubedSpherePartitioner, error) {
	if tile == nil {
		return nil, fmt.Errorf("%w: nil tile partitioner", ErrLayout)
	}
	if tile.Layout.Rows != tile.Layout.Cols {
		return nil, fmt.Errorf("%w: cubed sphere requires a square layout, got %s", ErrLayout, tile.Layout)
	}
	return &CubedSpherePartitioner{Tile: tile}, nil
}

// TotalRanks returns the rank count over all six faces.
func (p *CubedSpherePartitioner) TotalRanks() int { return NumTiles * p.Tile.TotalRanks() }

// TileIndex returns the face owning rank.
func (p *CubedSpherePartitioner) TileIndex(rank int) int { return rank / p.Tile.TotalRanks() }

// TileRootRank returns the first rank of rank's face.
func (p *CubedSpherePartitioner) TileRootRank(rank int) int {
	return p.Tile.TotalRanks() * p.TileIndex(rank)
}

// SubtileIndex returns the (row, col) coordinate of rank within its face.
func (p *CubedSpherePartitioner) SubtileIndex(rank int) (row, col int) {
	return p.Tile.SubtileIndex(rank)
}

// RankAt returns the global rank at a (face, row, col) coordinate.
func (p *CubedSpherePartitioner) RankAt(face, row, col int) int {
	return face*p.Tile.TotalRanks() + p.Tile.RankAt(row, col)
}

// Boundary resolves the neighbor across one boundary of rank. Corner
// boundaries return nil where three faces meet at a cube corner: no
// diagonal neighbor exists there.
func (p *CubedSpherePartitioner) Boundary(bt quantity.BoundaryType, rank int) *Boundary {
	if bt.IsCorner() {
		return p.cornerBoundary(bt, rank)
	}
	return p.edgeBoundary(bt, rank)
}

// edgeBoundary resolves one of the four edge neighbors. Within a face this
// is plain sub-tile adjacency; at a face edge it consults the cube
// adjacency table, transforming the position along the edge by the
// table's reversal flag.
func (p *CubedSpherePartitioner) edgeBoundary(bt quantity.BoundaryType, rank int) *Boundary {
	face := p.TileIndex(rank)
	if !p.Tile.onEdge(bt, rank) {
		local := p.Tile.Boundary(bt, rank%p.Tile.TotalRanks())
		return &Boundary{Type: bt, FromRank: rank, ToRank: p.Tile.TotalRanks()*face + local.ToRank}
	}
	e := cubeEdges[face][bt]
	row, col := p.Tile.SubtileIndex(rank)

	// Position along the crossed edge; rows == cols, so the parameter
	// range is the same on both sides.
	t := col
	if bt == quantity.East || bt == quantity.West {
		t = row
	}
	if e.reversed {
		t = p.Tile.Layout.Cols - 1 - t
	}
	var toRow, toCol int
	switch e.toEdge {
	case quantity.North:
		toRow, toCol = p.Tile.Layout.Rows-1, t
	case quantity.South:
		toRow, toCol = 0, t
	case quantity.East:
		toRow, toCol = t, p.Tile.Layout.Cols-1
	case quantity.West:
		toRow, toCol = t, 0
	}
	return &Boundary{
		Type:                bt,
		FromRank:            rank,
		ToRank:              p.RankAt(e.toFace, toRow, toCol),
		NClockwiseRotations: e.rot,
	}
}

// cornerBoundary resolves a diagonal neighbor by composing two edge moves,
// taking the within-face move first so a cube edge is crossed at most
// once. A sub-tile corner that coincides with a cube corner (on the face
// edge in both directions) has no diagonal neighbor.
func (p *CubedSpherePartitioner) cornerBoundary(bt quantity.BoundaryType, rank int) *Boundary {
	ns, ew := bt.Components()
	onNS := p.Tile.onEdge(ns, rank%p.Tile.TotalRanks())
	onEW := p.Tile.onEdge(ew, rank%p.Tile.TotalRanks())
	if onNS && onEW {
		return nil
	}
	first, second := ns, ew
	if onNS {
		first, second = ew, ns
	}
	b1 := p.edgeBoundary(first, rank)
	b2 := p.edgeBoundary(second, b1.ToRank)
	return &Boundary{
		Type:                bt,
		FromRank:            rank,
		ToRank:              b2.ToRank,
		NClockwiseRotations: (b1.NClockwiseRotations + b2.NClockwiseRotations) % 4,
	}
}

// BoundaryToward returns rank from's boundary type facing rank to.
func (p *CubedSpherePartitioner) BoundaryToward(from, to int, corner bool) (quantity.BoundaryType, bool) {
	return boundaryToward(p, from, to, corner)
}

// SubtileSlice returns the index ranges of rank's sub-tile within its
// face's whole-tile extent.
func (p *CubedSpherePartitioner) SubtileSlice(rank int, dims []string, tileExtent []int) ([]quantity.Range, error) {
	return p.Tile.SubtileSlice(rank%p.Tile.TotalRanks(), dims, tileExtent)
}
