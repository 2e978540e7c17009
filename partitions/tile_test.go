package partitions

import (
	"errors"
	"testing"

	"github.com/NOAA-GFDL/cubedsphere/quantity"
)

func TestTilePartitioner_Indexing(t *testing.T) {
	p, err := NewTilePartitioner(Layout{Rows: 2, Cols: 3})
	if err != nil {
		t.Fatalf("NewTilePartitioner: %v", err)
	}
	if p.TotalRanks() != 6 {
		t.Fatalf("TotalRanks = %d, want 6", p.TotalRanks())
	}
	for rank := 0; rank < p.TotalRanks(); rank++ {
		row, col := p.SubtileIndex(rank)
		if p.RankAt(row, col) != rank {
			t.Errorf("rank %d: RankAt(%d, %d) = %d", rank, row, col, p.RankAt(row, col))
		}
	}
	if !p.OnTileBottom(2) || p.OnTileTop(2) {
		t.Error("rank 2 should touch the bottom edge only")
	}
	if !p.OnTileRight(5) || p.OnTileLeft(5) {
		t.Error("rank 5 should touch the right edge only")
	}
}

func TestTilePartitioner_Boundary(t *testing.T) {
	// 3x3 face, center rank 4 has all eight neighbors.
	p, _ := NewTilePartitioner(Layout{Rows: 3, Cols: 3})

	center := map[quantity.BoundaryType]int{
		quantity.North: 7, quantity.South: 1, quantity.East: 5, quantity.West: 3,
		quantity.Northeast: 8, quantity.Northwest: 6,
		quantity.Southeast: 2, quantity.Southwest: 0,
	}
	for bt, want := range center {
		b := p.Boundary(bt, 4)
		if b == nil {
			t.Fatalf("center rank has no %s neighbor", bt)
		}
		if b.ToRank != want || b.NClockwiseRotations != 0 {
			t.Errorf("%s: got rank %d rot %d, want rank %d rot 0", bt, b.ToRank, b.NClockwiseRotations, want)
		}
	}

	// A single face is open: boundaries past its edge have no neighbor.
	for _, bt := range []quantity.BoundaryType{quantity.South, quantity.West, quantity.Southwest} {
		if b := p.Boundary(bt, 0); b != nil {
			t.Errorf("rank 0 %s neighbor should be nil, got rank %d", bt, b.ToRank)
		}
	}

	if bt, ok := p.BoundaryToward(4, 7, false); !ok || bt != quantity.North {
		t.Errorf("BoundaryToward(4, 7) = (%s, %t), want (north, true)", bt, ok)
	}
	if _, ok := p.BoundaryToward(0, 8, false); ok {
		t.Error("non-adjacent ranks should not report a boundary")
	}
}

func TestTilePartitioner_SubtileSlice(t *testing.T) {
	p, _ := NewTilePartitioner(Layout{Rows: 2, Cols: 2})

	t.Run("CellCentered", func(t *testing.T) {
		ranges, err := p.SubtileSlice(3, []string{quantity.YDim, quantity.XDim}, []int{4, 4})
		if err != nil {
			t.Fatalf("SubtileSlice: %v", err)
		}
		want := []quantity.Range{{Start: 2, Stop: 4}, {Start: 2, Stop: 4}}
		for i := range ranges {
			if ranges[i] != want[i] {
				t.Errorf("axis %d: got [%d,%d), want [%d,%d)",
					i, ranges[i].Start, ranges[i].Stop, want[i].Start, want[i].Stop)
			}
		}
	})

	t.Run("InterfaceOverlap", func(t *testing.T) {
		// 5 interface points over 4 cells: ranks share the middle point.
		left, err := p.SubtileSlice(0, []string{quantity.YDim, quantity.XInterfaceDim}, []int{4, 5})
		if err != nil {
			t.Fatalf("SubtileSlice: %v", err)
		}
		right, err := p.SubtileSlice(1, []string{quantity.YDim, quantity.XInterfaceDim}, []int{4, 5})
		if err != nil {
			t.Fatalf("SubtileSlice: %v", err)
		}
		if left[1].Stop != 3 || right[1].Start != 2 {
			t.Errorf("interface ranges [%d,%d) and [%d,%d) should overlap by one point",
				left[1].Start, left[1].Stop, right[1].Start, right[1].Stop)
		}
	})

	t.Run("UnevenDivide", func(t *testing.T) {
		_, err := p.SubtileSlice(0, []string{quantity.YDim, quantity.XDim}, []int{4, 5})
		if !errors.Is(err, ErrLayout) {
			t.Fatalf("expected ErrLayout, got %v", err)
		}
	})

	t.Run("ExtraAxisFullRange", func(t *testing.T) {
		ranges, err := p.SubtileSlice(0, []string{quantity.ZDim, quantity.YDim, quantity.XDim}, []int{7, 4, 4})
		if err != nil {
			t.Fatalf("SubtileSlice: %v", err)
		}
		if ranges[0] != (quantity.Range{Start: 0, Stop: 7}) {
			t.Errorf("z axis got [%d,%d), want [0,7)", ranges[0].Start, ranges[0].Stop)
		}
	})
}

func TestNewTilePartitioner_RejectsEmptyLayout(t *testing.T) {
	if _, err := NewTilePartitioner(Layout{Rows: 0, Cols: 2}); !errors.Is(err, ErrLayout) {
		t.Fatalf("expected ErrLayout, got %v", err)
	}
}
