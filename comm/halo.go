package comm

import (
	"fmt"
	"strings"

	"github.com/NOAA-GFDL/cubedsphere/quantity"
	"github.com/NOAA-GFDL/cubedsphere/transport"
)

// tagStride is the width of the tag block one exchange operation claims:
// one tag per boundary type, so concurrent messages of the same operation
// to the same peer stay distinguishable.
const tagStride = 8

// allBoundaryTypes enumerates the eight exchangeable boundary regions.
var allBoundaryTypes = [8]quantity.BoundaryType{
	quantity.North, quantity.South, quantity.East, quantity.West,
	quantity.Northeast, quantity.Northwest, quantity.Southeast, quantity.Southwest,
}

// haloSlot is the per-quantity portion of one boundary's message. qIndex
// is the quantity whose halo the received block fills; srcIndex the
// quantity packed on the send side, which differs from qIndex only for
// vector pairs crossing an odd rotation.
type haloSlot struct {
	qIndex   int
	srcIndex int
	sign     float64

	sendRanges []quantity.Range
	recvRanges []quantity.Range
	srcYAxis   int
	srcXAxis   int

	sendLen int
	recvLen int
}

// haloPlan is the fixed exchange layout for one boundary: the neighbor,
// the rotation to apply while packing, the tag offsets, and the buffer
// layout aggregating every quantity into a single message.
type haloPlan struct {
	bt      quantity.BoundaryType
	toRank  int
	packRot int

	// sendTagOff is the receiving rank's boundary type, so the receiver
	// can match the message to the halo region it fills; recvTagOff is
	// this rank's own boundary type.
	sendTagOff int
	recvTagOff int

	slots   []haloSlot
	sendLen int
	recvLen int
}

// haloLayout is the cached product of the one-time specification phase:
// everything geometric about an exchange, computed from halo specs alone
// and reusable across structurally identical quantities.
type haloLayout struct {
	specKeys []string
	nPoints  int
	vector   bool
	plans    []haloPlan
}

// layoutKey identifies a layout in the communicator's cache.
func layoutKey(specs []quantity.HaloSpec, nPoints int, vector bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "n=%d vector=%t", nPoints, vector)
	for _, s := range specs {
		b.WriteString(" | ")
		b.WriteString(s.Key())
	}
	return b.String()
}

// buildHaloLayout runs the specification phase for this rank: for every
// boundary with a neighbor it precomputes send regions (the interior cells
// feeding the neighbor's halo), receive regions (this rank's halo cells),
// the pack rotation, and the message layout over all quantities.
func (c *core) buildHaloLayout(specs []quantity.HaloSpec, nPoints int, vector bool) (*haloLayout, error) {
	if vector && len(specs) != 2 {
		return nil, fmt.Errorf("%w: vector update needs exactly one (x, y) pair", quantity.ErrGeometry)
	}
	axes := make([][2]int, len(specs))
	for i, s := range specs {
		yAxis, xAxis := quantity.HorizontalAxes(s.Dims)
		if yAxis < 0 || xAxis < 0 {
			return nil, fmt.Errorf("%w: quantity with dims %v has no horizontal axes to exchange",
				quantity.ErrGeometry, s.Dims)
		}
		axes[i] = [2]int{yAxis, xAxis}
	}

	layout := &haloLayout{nPoints: nPoints, vector: vector}
	for _, s := range specs {
		layout.specKeys = append(layout.specKeys, s.Key())
	}
	rank := c.tr.Rank()
	for _, bt := range allBoundaryTypes {
		b := c.part.Boundary(bt, rank)
		if b == nil {
			continue
		}
		recvBT, ok := c.part.BoundaryToward(b.ToRank, rank, bt.IsCorner())
		if !ok {
			return nil, fmt.Errorf("%w: rank %d sees rank %d across its %s boundary but not back",
				quantity.ErrGeometry, rank, b.ToRank, bt)
		}
		plan := haloPlan{
			bt:         bt,
			toRank:     b.ToRank,
			packRot:    (4 - b.NClockwiseRotations%4) % 4,
			sendTagOff: int(recvBT),
			recvTagOff: int(bt),
		}
		for i, s := range specs {
			recvRanges, err := quantity.BoundarySlice(s.Dims, s.Shape, s.Origin, s.Extent, bt, nPoints, false)
			if err != nil {
				return nil, err
			}
			srcIndex, sign := i, 1.0
			if vector {
				srcIsX, srcSign := componentSource(plan.packRot, i == 0)
				srcIndex = 1
				if srcIsX {
					srcIndex = 0
				}
				sign = srcSign
			}
			src := specs[srcIndex]
			sendRanges, err := quantity.BoundarySlice(src.Dims, src.Shape, src.Origin, src.Extent, bt, nPoints, true)
			if err != nil {
				return nil, err
			}
			slot := haloSlot{
				qIndex:     i,
				srcIndex:   srcIndex,
				sign:       sign,
				sendRanges: sendRanges,
				recvRanges: recvRanges,
				srcYAxis:   axes[srcIndex][0],
				srcXAxis:   axes[srcIndex][1],
				sendLen:    rangesLen(sendRanges),
				recvLen:    rangesLen(recvRanges),
			}
			plan.sendLen += slot.sendLen
			plan.recvLen += slot.recvLen
			plan.slots = append(plan.slots, slot)
		}
		layout.plans = append(layout.plans, plan)
	}
	c.logger.Debug("built halo layout",
		"rank", rank, "boundaries", len(layout.plans), "nPoints", nPoints, "vector", vector)
	return layout, nil
}

func rangesLen(ranges []quantity.Range) int {
	n := 1
	for _, r := range ranges {
		n *= r.Len()
	}
	return n
}

type updaterState int

const (
	updaterBuilt updaterState = iota
	updaterPending
	updaterComplete
)

// HaloUpdater executes halo exchanges against a cached layout. Between
// Start and Wait the updater's transfer buffers are in flight and owned
// exclusively by the pending exchange; starting again in that window, or
// waiting twice, is an error.
type HaloUpdater struct {
	comm   *core
	layout *haloLayout

	state    updaterState
	bound    []*quantity.Quantity
	sendBufs [][]float64
	recvBufs [][]float64
	requests []transport.Request
}

func newHaloUpdater(c *core, layout *haloLayout) *HaloUpdater {
	u := &HaloUpdater{comm: c, layout: layout}
	for _, plan := range layout.plans {
		u.sendBufs = append(u.sendBufs, make([]float64, plan.sendLen))
		u.recvBufs = append(u.recvBufs, make([]float64, plan.recvLen))
	}
	return u
}

// Start packs every boundary's live data, pre-rotated into the receiving
// rank's orientation, and issues one non-blocking send and receive per
// neighbor boundary. The quantities must structurally match the layout the
// updater was built for.
func (u *HaloUpdater) Start(quantities []*quantity.Quantity) error {
	if u.state == updaterPending {
		return fmt.Errorf("%w: update started while a previous one is pending", ErrUpdaterState)
	}
	if len(quantities) != len(u.layout.specKeys) {
		return fmt.Errorf("%w: updater built for %d quantities, got %d",
			quantity.ErrGeometry, len(u.layout.specKeys), len(quantities))
	}
	for i, q := range quantities {
		if q.HaloSpec().Key() != u.layout.specKeys[i] {
			return fmt.Errorf("%w: quantity %q does not match the layout this updater was built for",
				quantity.ErrGeometry, q.Name)
		}
	}
	baseTag := u.comm.claimTags()
	u.bound = quantities
	u.requests = u.requests[:0]
	for p, plan := range u.layout.plans {
		if plan.sendLen > 0 {
			off := 0
			for _, slot := range plan.slots {
				if slot.sendLen == 0 {
					continue
				}
				region, err := quantities[slot.srcIndex].View(slot.sendRanges)
				if err != nil {
					return err
				}
				packRotated(region, plan.packRot, slot.srcYAxis, slot.srcXAxis, slot.sign,
					u.sendBufs[p][off:off+slot.sendLen])
				off += slot.sendLen
			}
			send, err := u.comm.tr.Isend(u.sendBufs[p], plan.toRank, baseTag+plan.sendTagOff)
			if err != nil {
				return err
			}
			u.requests = append(u.requests, send)
		}
		if plan.recvLen > 0 {
			recv, err := u.comm.tr.Irecv(u.recvBufs[p], plan.toRank, baseTag+plan.recvTagOff)
			if err != nil {
				return err
			}
			u.requests = append(u.requests, recv)
		}
	}
	u.state = updaterPending
	return nil
}

// Wait blocks until every message has completed, then unpacks each receive
// buffer into its halo region. No rotation is applied on receipt: data
// arrives already oriented to this rank's axes.
func (u *HaloUpdater) Wait() error {
	if u.state != updaterPending {
		return fmt.Errorf("%w: wait without a pending update", ErrUpdaterState)
	}
	u.state = updaterComplete
	var firstErr error
	for _, req := range u.requests {
		if err := req.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}
	for p, plan := range u.layout.plans {
		off := 0
		for _, slot := range plan.slots {
			if slot.recvLen == 0 {
				continue
			}
			region, err := u.bound[slot.qIndex].View(slot.recvRanges)
			if err != nil {
				return err
			}
			region.InsertFrom(u.recvBufs[p][off : off+slot.recvLen])
			off += slot.recvLen
		}
	}
	return nil
}

// HaloUpdateRequest is the single-use handle of one started exchange.
type HaloUpdateRequest struct {
	u    *HaloUpdater
	done bool
}

// Wait blocks until the exchanged halo data is valid. A second Wait on the
// same request is an error; already-delivered data is never mutated again.
func (r *HaloUpdateRequest) Wait() error {
	if r.done {
		return fmt.Errorf("%w: halo update request already waited on", ErrUpdaterState)
	}
	r.done = true
	return r.u.Wait()
}

// updater returns the cached updater for this quantity structure, building
// layout and buffers on first use.
func (c *core) updater(specs []quantity.HaloSpec, nPoints int, vector bool) (*HaloUpdater, error) {
	key := layoutKey(specs, nPoints, vector)
	if u, ok := c.updaters[key]; ok {
		return u, nil
	}
	layout, err := c.buildHaloLayout(specs, nPoints, vector)
	if err != nil {
		return nil, err
	}
	u := newHaloUpdater(c, layout)
	c.updaters[key] = u
	return u, nil
}

// StartHaloUpdate begins an asynchronous scalar halo exchange of nPoints
// ghost cells for all given quantities.
func (c *core) StartHaloUpdate(quantities []*quantity.Quantity, nPoints int) (*HaloUpdateRequest, error) {
	specs := make([]quantity.HaloSpec, len(quantities))
	for i, q := range quantities {
		specs[i] = q.HaloSpec()
	}
	u, err := c.updater(specs, nPoints, false)
	if err != nil {
		return nil, err
	}
	if err := u.Start(quantities); err != nil {
		return nil, err
	}
	return &HaloUpdateRequest{u: u}, nil
}

// StartVectorHaloUpdate begins an asynchronous halo exchange of the (x, y)
// vector pair, mixing the components into the destination face's axis
// convention across rotated cube edges.
func (c *core) StartVectorHaloUpdate(x, y *quantity.Quantity, nPoints int) (*HaloUpdateRequest, error) {
	specs := []quantity.HaloSpec{x.HaloSpec(), y.HaloSpec()}
	u, err := c.updater(specs, nPoints, true)
	if err != nil {
		return nil, err
	}
	if err := u.Start([]*quantity.Quantity{x, y}); err != nil {
		return nil, err
	}
	return &HaloUpdateRequest{u: u}, nil
}
