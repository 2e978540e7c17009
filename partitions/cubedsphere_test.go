package partitions

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NOAA-GFDL/cubedsphere/quantity"
)

func mustCube(t *testing.T, rows, cols int) *CubedSpherePartitioner {
	t.Helper()
	tile, err := NewTilePartitioner(Layout{Rows: rows, Cols: cols})
	if err != nil {
		t.Fatalf("NewTilePartitioner: %v", err)
	}
	p, err := NewCubedSpherePartitioner(tile)
	if err != nil {
		t.Fatalf("NewCubedSpherePartitioner: %v", err)
	}
	return p
}

func TestCubedSpherePartitioner_RequiresSquareLayout(t *testing.T) {
	tile, _ := NewTilePartitioner(Layout{Rows: 1, Cols: 2})
	if _, err := NewCubedSpherePartitioner(tile); !errors.Is(err, ErrLayout) {
		t.Fatalf("expected ErrLayout, got %v", err)
	}
	if _, err := NewCubedSpherePartitioner(nil); !errors.Is(err, ErrLayout) {
		t.Fatalf("expected ErrLayout for nil tile, got %v", err)
	}
}

func TestCubedSpherePartitioner_Bijection(t *testing.T) {
	for _, n := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("Layout%dx%d", n, n), func(t *testing.T) {
			p := mustCube(t, n, n)
			seen := make(map[int]bool)
			for face := 0; face < NumTiles; face++ {
				for row := 0; row < n; row++ {
					for col := 0; col < n; col++ {
						rank := p.RankAt(face, row, col)
						if rank < 0 || rank >= p.TotalRanks() {
							t.Fatalf("rank %d outside [0, %d)", rank, p.TotalRanks())
						}
						if seen[rank] {
							t.Fatalf("rank %d assigned twice", rank)
						}
						seen[rank] = true
						gotRow, gotCol := p.SubtileIndex(rank)
						if p.TileIndex(rank) != face || gotRow != row || gotCol != col {
							t.Errorf("rank %d round-trips to (%d, %d, %d), want (%d, %d, %d)",
								rank, p.TileIndex(rank), gotRow, gotCol, face, row, col)
						}
					}
				}
			}
			if len(seen) != p.TotalRanks() {
				t.Errorf("bijection covered %d ranks, want %d", len(seen), p.TotalRanks())
			}
		})
	}
}

// edgeLink is a neighbor relation in the form the adjacency tests assert
// against: which rank sits across an edge and how many clockwise quarter
// turns orient its data.
type edgeLink struct {
	To  int
	Rot int
}

// TestCubedSphere_SingleRankAdjacency pins the full 24-entry face
// adjacency against a hand-derived table for the unit layout, where rank
// and face coincide. Faces 0 and 1 sit on the equator, 2 on the north
// pole, 3 and 4 complete the equator, 5 on the south pole.
func TestCubedSphere_SingleRankAdjacency(t *testing.T) {
	p := mustCube(t, 1, 1)

	want := map[int]map[quantity.BoundaryType]edgeLink{
		0: {quantity.North: {2, 1}, quantity.South: {5, 0}, quantity.East: {1, 0}, quantity.West: {4, 3}},
		1: {quantity.North: {2, 0}, quantity.South: {5, 1}, quantity.East: {3, 3}, quantity.West: {0, 0}},
		2: {quantity.North: {4, 1}, quantity.South: {1, 0}, quantity.East: {3, 0}, quantity.West: {0, 3}},
		3: {quantity.North: {4, 0}, quantity.South: {1, 1}, quantity.East: {5, 3}, quantity.West: {2, 0}},
		4: {quantity.North: {0, 1}, quantity.South: {3, 0}, quantity.East: {5, 0}, quantity.West: {2, 3}},
		5: {quantity.North: {0, 0}, quantity.South: {3, 1}, quantity.East: {1, 3}, quantity.West: {4, 0}},
	}

	got := make(map[int]map[quantity.BoundaryType]edgeLink)
	for rank := 0; rank < p.TotalRanks(); rank++ {
		got[rank] = make(map[quantity.BoundaryType]edgeLink)
		for _, bt := range quantity.EdgeBoundaryTypes {
			b := p.Boundary(bt, rank)
			if b == nil {
				t.Fatalf("rank %d has no %s neighbor", rank, bt)
			}
			got[rank][bt] = edgeLink{To: b.ToRank, Rot: b.NClockwiseRotations}
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("adjacency mismatch (-want +got):\n%s", diff)
	}

	// With one rank per face, every sub-tile corner is a cube corner where
	// three faces meet: no diagonal neighbors anywhere.
	for rank := 0; rank < p.TotalRanks(); rank++ {
		for _, bt := range quantity.CornerBoundaryTypes {
			if b := p.Boundary(bt, rank); b != nil {
				t.Errorf("rank %d %s should be a cube corner, got neighbor %d", rank, bt, b.ToRank)
			}
		}
	}
}

// TestCubedSphere_AdjacencySymmetry checks that neighbor relations invert:
// if B is across one of A's boundaries, A is across one of B's, and the
// two rotations cancel.
func TestCubedSphere_AdjacencySymmetry(t *testing.T) {
	for _, n := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("Layout%dx%d", n, n), func(t *testing.T) {
			p := mustCube(t, n, n)
			types := append(quantity.EdgeBoundaryTypes[:], quantity.CornerBoundaryTypes[:]...)
			for rank := 0; rank < p.TotalRanks(); rank++ {
				for _, bt := range types {
					b := p.Boundary(bt, rank)
					if b == nil {
						continue
					}
					back, ok := p.BoundaryToward(b.ToRank, rank, bt.IsCorner())
					if !ok {
						t.Fatalf("rank %d sees %d across %s, but %d does not see %d",
							rank, b.ToRank, bt, b.ToRank, rank)
					}
					b2 := p.Boundary(back, b.ToRank)
					if b2 == nil || b2.ToRank != rank {
						t.Fatalf("rank %d: %s of %d does not point back", rank, back, b.ToRank)
					}
					if (b.NClockwiseRotations+b2.NClockwiseRotations)%4 != 0 {
						t.Errorf("rank %d %s: rotations %d and %d do not cancel",
							rank, bt, b.NClockwiseRotations, b2.NClockwiseRotations)
					}
				}
			}
		})
	}
}

// TestCubedSphere_Layout2x2Audit sweeps all 24 ranks of a (2,2) cube:
// every rank has exactly one neighbor per edge, never itself, and exactly
// one of its four corners coincides with a cube corner.
func TestCubedSphere_Layout2x2Audit(t *testing.T) {
	p := mustCube(t, 2, 2)
	if p.TotalRanks() != 24 {
		t.Fatalf("TotalRanks = %d, want 24", p.TotalRanks())
	}
	for rank := 0; rank < p.TotalRanks(); rank++ {
		for _, bt := range quantity.EdgeBoundaryTypes {
			b := p.Boundary(bt, rank)
			if b == nil {
				t.Fatalf("rank %d has no %s neighbor", rank, bt)
			}
			if b.ToRank == rank {
				t.Errorf("rank %d is its own %s neighbor", rank, bt)
			}
		}
		var cubeCorners int
		for _, bt := range quantity.CornerBoundaryTypes {
			b := p.Boundary(bt, rank)
			if b == nil {
				cubeCorners++
				continue
			}
			if b.ToRank == rank {
				t.Errorf("rank %d is its own %s neighbor", rank, bt)
			}
		}
		if cubeCorners != 1 {
			t.Errorf("rank %d sits on %d cube corners, want exactly 1", rank, cubeCorners)
		}
	}
}

func TestCubedSphere_WithinFaceNeighbors(t *testing.T) {
	p := mustCube(t, 3, 3)
	// Face 1 center rank: all neighbors stay on the face, no rotation.
	center := p.RankAt(1, 1, 1)
	for _, bt := range quantity.EdgeBoundaryTypes {
		b := p.Boundary(bt, center)
		if b == nil {
			t.Fatalf("center rank has no %s neighbor", bt)
		}
		if p.TileIndex(b.ToRank) != 1 {
			t.Errorf("%s neighbor %d left face 1", bt, b.ToRank)
		}
		if b.NClockwiseRotations != 0 {
			t.Errorf("%s neighbor has rotation %d within a face", bt, b.NClockwiseRotations)
		}
	}
}

func TestCubedSphere_TileRootRank(t *testing.T) {
	p := mustCube(t, 2, 2)
	if got := p.TileRootRank(11); got != 8 {
		t.Errorf("TileRootRank(11) = %d, want 8", got)
	}
	if got := p.TileIndex(23); got != 5 {
		t.Errorf("TileIndex(23) = %d, want 5", got)
	}
}

// TestCubedSphere_EdgeRankPairing spot-checks the sub-tile pairing across
// a reversed cube edge: face 0's north edge meets face 2's west edge with
// the position along the edge reversed.
func TestCubedSphere_EdgeRankPairing(t *testing.T) {
	p := mustCube(t, 3, 3)
	for col := 0; col < 3; col++ {
		from := p.RankAt(0, 2, col)
		b := p.Boundary(quantity.North, from)
		if b == nil {
			t.Fatalf("rank %d has no north neighbor", from)
		}
		want := p.RankAt(2, 2-col, 0)
		if b.ToRank != want {
			t.Errorf("face 0 col %d: north neighbor %d, want %d", col, b.ToRank, want)
		}
		if b.NClockwiseRotations != 1 {
			t.Errorf("face 0 north rotation = %d, want 1", b.NClockwiseRotations)
		}
	}
}
