package quantity

import (
	"fmt"
	"strings"
)

// Float64Size is the item size in bytes of the buffer element type.
const Float64Size = 8

// Quantity is a named N-dimensional array with grid metadata. The full
// allocation spans interior plus halo; interior data occupies
// Data[Origin[i] : Origin[i]+Extent[i]] along every axis i. Halo contents
// are only valid immediately after a completed halo update and are
// otherwise stale.
type Quantity struct {
	Name  string
	Units string

	// Dims names each axis, drawn from the dimension vocabulary plus
	// arbitrary extra names.
	Dims []string

	// Shape is the full allocated length per axis, Origin the index of the
	// first interior cell, Extent the interior length.
	Shape  []int
	Origin []int
	Extent []int

	// Data is the flat row-major backing storage.
	Data []float64

	strides []int
}

// NewQuantity allocates a quantity and validates its metadata.
func NewQuantity(name string, dims []string, shape, origin, extent []int) (*Quantity, error) {
	q := &Quantity{
		Name:   name,
		Dims:   append([]string(nil), dims...),
		Shape:  append([]int(nil), shape...),
		Origin: append([]int(nil), origin...),
		Extent: append([]int(nil), extent...),
	}
	if err := q.validate(); err != nil {
		return nil, err
	}
	size := 1
	for _, n := range shape {
		size *= n
	}
	q.Data = make([]float64, size)
	q.strides = rowMajorStrides(q.Shape)
	return q, nil
}

// NewQuantityFromData wraps existing backing storage without copying.
func NewQuantityFromData(name string, dims []string, shape, origin, extent []int, data []float64) (*Quantity, error) {
	q := &Quantity{
		Name:   name,
		Dims:   append([]string(nil), dims...),
		Shape:  append([]int(nil), shape...),
		Origin: append([]int(nil), origin...),
		Extent: append([]int(nil), extent...),
		Data:   data,
	}
	if err := q.validate(); err != nil {
		return nil, err
	}
	size := 1
	for _, n := range shape {
		size *= n
	}
	if len(data) != size {
		return nil, fmt.Errorf("quantity %q: data length %d does not match shape %v (%d)",
			name, len(data), shape, size)
	}
	q.strides = rowMajorStrides(q.Shape)
	return q, nil
}

func (q *Quantity) validate() error {
	n := len(q.Dims)
	if len(q.Shape) != n || len(q.Origin) != n || len(q.Extent) != n {
		return fmt.Errorf("quantity %q: dims/shape/origin/extent lengths differ: %d/%d/%d/%d",
			q.Name, n, len(q.Shape), len(q.Origin), len(q.Extent))
	}
	for i := range q.Dims {
		if q.Shape[i] <= 0 {
			return fmt.Errorf("quantity %q: axis %s has non-positive shape %d", q.Name, q.Dims[i], q.Shape[i])
		}
		if q.Origin[i] < 0 || q.Extent[i] < 0 {
			return fmt.Errorf("quantity %q: axis %s has negative origin/extent (%d, %d)",
				q.Name, q.Dims[i], q.Origin[i], q.Extent[i])
		}
		if q.Origin[i]+q.Extent[i] > q.Shape[i] {
			return fmt.Errorf("quantity %q: axis %s interior [%d:%d) exceeds shape %d",
				q.Name, q.Dims[i], q.Origin[i], q.Origin[i]+q.Extent[i], q.Shape[i])
		}
	}
	return nil
}

// NDim returns the number of axes.
func (q *Quantity) NDim() int { return len(q.Dims) }

// Strides returns the row-major element strides.
func (q *Quantity) Strides() []int { return q.strides }

// flatIndex converts a full multi-index into a flat Data offset.
func (q *Quantity) flatIndex(idx []int) int {
	flat := 0
	for i, v := range idx {
		flat += v * q.strides[i]
	}
	return flat
}

// At returns the value at a full (halo-inclusive) multi-index.
func (q *Quantity) At(idx ...int) float64 { return q.Data[q.flatIndex(idx)] }

// Set stores a value at a full (halo-inclusive) multi-index.
func (q *Quantity) Set(v float64, idx ...int) { q.Data[q.flatIndex(idx)] = v }

// Interior returns the compute-domain region.
func (q *Quantity) Interior() Region {
	ranges := make([]Range, q.NDim())
	for i := range ranges {
		ranges[i] = Range{Start: q.Origin[i], Stop: q.Origin[i] + q.Extent[i]}
	}
	return Region{q: q, ranges: ranges}
}

// Boundary returns the region selected by BoundarySlice for this quantity.
func (q *Quantity) Boundary(bt BoundaryType, nPoints int, interior bool) (Region, error) {
	ranges, err := BoundarySlice(q.Dims, q.Shape, q.Origin, q.Extent, bt, nPoints, interior)
	if err != nil {
		return Region{}, fmt.Errorf("quantity %q: %w", q.Name, err)
	}
	return Region{q: q, ranges: ranges}, nil
}

// HaloSpec is a lightweight structural descriptor sufficient to compute
// packing offsets without holding the live buffer. Quantities with equal
// specs can share a precomputed halo buffer layout.
type HaloSpec struct {
	Dims     []string
	Shape    []int
	Origin   []int
	Extent   []int
	Strides  []int
	DType    string
	ItemSize int
}

// HaloSpec captures the structural descriptor of q.
func (q *Quantity) HaloSpec() HaloSpec {
	return HaloSpec{
		Dims:     append([]string(nil), q.Dims...),
		Shape:    append([]int(nil), q.Shape...),
		Origin:   append([]int(nil), q.Origin...),
		Extent:   append([]int(nil), q.Extent...),
		Strides:  append([]int(nil), q.strides...),
		DType:    "float64",
		ItemSize: Float64Size,
	}
}

// PointCount returns the total allocated point count.
func (s HaloSpec) PointCount() int {
	n := 1
	for _, v := range s.Shape {
		n *= v
	}
	return n
}

// Key returns a string identifying the spec's structure, used to cache
// halo buffer layouts across structurally identical quantities.
func (s HaloSpec) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%d:", s.DType, s.ItemSize)
	for i := range s.Dims {
		fmt.Fprintf(&b, "%s=%d@%d+%d;", s.Dims[i], s.Shape[i], s.Origin[i], s.Extent[i])
	}
	return b.String()
}

// Matches reports whether q structurally matches the spec.
func (s HaloSpec) Matches(q *Quantity) bool {
	return s.Key() == q.HaloSpec().Key()
}

func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}
