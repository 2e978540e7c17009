// Package comm provides the tile-level and cubed-sphere communicators:
// scatter/gather of whole-grid data between a root rank and per-rank
// sub-tiles, asynchronous halo updates for scalar and vector quantities,
// and synchronization of co-owned grid-interface values.
package comm

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/NOAA-GFDL/cubedsphere/partitions"
	"github.com/NOAA-GFDL/cubedsphere/quantity"
	"github.com/NOAA-GFDL/cubedsphere/transport"
)

// ErrConfiguration is wrapped by every construction-time mismatch: unknown
// topology, unsupported layout, or a transport whose size does not cover
// the partitioner's ranks.
var ErrConfiguration = errors.New("comm: invalid communicator configuration")

// ErrUpdaterState is wrapped when a halo updater is driven through an
// illegal state transition: waiting twice, or starting an update while one
// is already pending on the same updater.
var ErrUpdaterState = errors.New("comm: halo updater in wrong state")

// Topology names accepted by New.
const (
	TopologyTile        = "tile"
	TopologyCubedSphere = "cubed-sphere"
)

// Communicator is the public surface application code drives. Both
// communicator types implement it; everything below (partitioner geometry,
// buffer layouts, transport choice) is fixed at construction.
type Communicator interface {
	Rank() int
	Size() int

	// Scatter moves a whole-grid quantity held on rank 0 into each rank's
	// per-rank quantity; Gather is the inverse. At the cubed-sphere level
	// the root quantity carries a leading tile axis that per-rank data
	// lacks.
	Scatter(send, recv *quantity.Quantity) error
	Gather(send, recv *quantity.Quantity) error

	// StartHaloUpdate begins an asynchronous halo exchange of nPoints
	// ghost cells for all given quantities, aggregated into one message
	// per neighbor boundary. Data is valid after Wait on the returned
	// request.
	StartHaloUpdate(quantities []*quantity.Quantity, nPoints int) (*HaloUpdateRequest, error)

	// StartVectorHaloUpdate is the vector form: crossing a rotated cube
	// edge mixes the (x, y) components into the destination face's axis
	// convention instead of copying them.
	StartVectorHaloUpdate(x, y *quantity.Quantity, nPoints int) (*HaloUpdateRequest, error)

	// StartSynchronizeVectorInterfaces makes the interface values shared
	// by two ranks bit-identical, overwriting each north/east edge line
	// with the neighboring rank's authoritative south/west line.
	StartSynchronizeVectorInterfaces(x, y *quantity.Quantity) (*HaloUpdateRequest, error)

	Barrier() error
}

// Option configures a communicator at construction.
type Option func(*config)

type config struct {
	fill   float64
	logger *slog.Logger
}

// WithFillValue sets the value written into receive-side halo cells on
// scatter, marking them stale until the first halo update.
func WithFillValue(v float64) Option {
	return func(c *config) { c.fill = v }
}

// WithLogger sets the structured logger used for build and exchange
// diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// New constructs a communicator for the named topology over the given
// transport and per-face layout. Unknown topology strings fail fast.
func New(t transport.Transport, topology string, layout partitions.Layout, opts ...Option) (Communicator, error) {
	switch topology {
	case TopologyTile:
		return NewTileCommunicator(t, layout, opts...)
	case TopologyCubedSphere:
		return NewCubedSphereCommunicator(t, layout, opts...)
	}
	return nil, fmt.Errorf("%w: unknown topology %q (want %q or %q)",
		ErrConfiguration, topology, TopologyTile, TopologyCubedSphere)
}

// core carries the state shared by both communicator types. The tag
// counter advances in lockstep across ranks because every rank issues the
// same exchange operations in the same order.
type core struct {
	tr     transport.Transport
	part   partitions.Partitioner
	logger *slog.Logger
	fill   float64

	nextTag  int
	updaters map[string]*HaloUpdater
}

func newCore(t transport.Transport, part partitions.Partitioner, cfg config) (*core, error) {
	if t.Size() != part.TotalRanks() {
		return nil, fmt.Errorf("%w: transport has %d ranks, partition needs %d",
			ErrConfiguration, t.Size(), part.TotalRanks())
	}
	return &core{
		tr:       t,
		part:     part,
		logger:   cfg.logger,
		fill:     cfg.fill,
		updaters: make(map[string]*HaloUpdater),
	}, nil
}

func applyOptions(opts []Option) config {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c *core) Rank() int      { return c.tr.Rank() }
func (c *core) Size() int      { return c.tr.Size() }
func (c *core) Barrier() error { return c.tr.Barrier() }

// claimTags reserves a contiguous tag block for one exchange operation.
// The block is wide enough for one tag per boundary type.
func (c *core) claimTags() int {
	base := c.nextTag
	c.nextTag += tagStride
	return base
}

// TileCommunicator exchanges data among the ranks of a single face. A face
// is topologically open: halo regions beyond the face edge have no
// neighbor and are left untouched.
type TileCommunicator struct {
	*core
	part *partitions.TilePartitioner
}

// NewTileCommunicator builds a communicator over one face decomposed by
// layout. The transport size must equal rows*cols.
func NewTileCommunicator(t transport.Transport, layout partitions.Layout, opts ...Option) (*TileCommunicator, error) {
	part, err := partitions.NewTilePartitioner(layout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	c, err := newCore(t, part, applyOptions(opts))
	if err != nil {
		return nil, err
	}
	return &TileCommunicator{core: c, part: part}, nil
}

// Partitioner returns the tile partitioner geometry.
func (c *TileCommunicator) Partitioner() *partitions.TilePartitioner { return c.part }

// CubedSphereCommunicator exchanges data among the ranks of all six faces,
// rotating boundary data where neighboring faces' coordinate conventions
// differ.
type CubedSphereCommunicator struct {
	*core
	part *partitions.CubedSpherePartitioner

	tile *TileCommunicator
}

// NewCubedSphereCommunicator builds a communicator over the full cube. The
// layout must be square, and layouts of 2x2 sub-tiles per face are
// rejected: with exactly two sub-tiles per edge, a sub-tile corner is
// simultaneously adjacent to a face edge in both directions without lying
// on the cube corner's diagonal, and corner routing is ambiguous. A (1,1)
// layout is supported since every sub-tile corner then coincides with a
// cube corner and corner exchange vanishes.
func NewCubedSphereCommunicator(t transport.Transport, layout partitions.Layout, opts ...Option) (*CubedSphereCommunicator, error) {
	tilePart, err := partitions.NewTilePartitioner(layout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	part, err := partitions.NewCubedSpherePartitioner(tilePart)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if min := minInt(layout.Rows, layout.Cols); min > 1 && min < 3 {
		return nil, fmt.Errorf("%w: cubed-sphere corner routing requires layout (1,1) or at least (3,3), got %s",
			ErrConfiguration, layout)
	}
	c, err := newCore(t, part, applyOptions(opts))
	if err != nil {
		return nil, err
	}
	return &CubedSphereCommunicator{core: c, part: part}, nil
}

// Partitioner returns the cubed-sphere partitioner geometry.
func (c *CubedSphereCommunicator) Partitioner() *partitions.CubedSpherePartitioner { return c.part }

// Tile returns the communicator scoped to this rank's face, splitting the
// transport by face on first use and caching the result. The split child is
// not interrogated here: coloring by face puts exactly one tile layout's
// worth of ranks in each group, and transports whose splits resolve
// collectively stay usable this way.
func (c *CubedSphereCommunicator) Tile() (*TileCommunicator, error) {
	if c.tile != nil {
		return c.tile, nil
	}
	face := c.part.TileIndex(c.Rank())
	sub, err := c.tr.Split(face, c.Rank())
	if err != nil {
		return nil, fmt.Errorf("comm: splitting transport by face: %w", err)
	}
	c.tile = &TileCommunicator{
		core: &core{
			tr:       sub,
			part:     c.part.Tile,
			logger:   c.logger,
			fill:     c.fill,
			updaters: make(map[string]*HaloUpdater),
		},
		part: c.part.Tile,
	}
	return c.tile, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
