package comm

import (
	"fmt"

	"github.com/NOAA-GFDL/cubedsphere/quantity"
)

// StartSynchronizeVectorInterfaces makes the interface values co-owned by
// adjacent ranks bit-identical. x must be staggered on the x axis and y on
// the y axis (C-grid winds). South and west interface lines are
// authoritative: each rank sends its low-edge line to the neighbor there,
// and overwrites its own north and east high-edge lines with the received
// values. The cube's edge handedness pairs every south/west sender with a
// north/east receiver, across face edges too, where the line is rotated
// and remapped to the destination face's vector component. Lines span the
// interior extent of the perpendicular axes, so the shared corner point is
// written by exactly one exchange.
func (c *core) StartSynchronizeVectorInterfaces(x, y *quantity.Quantity) (*HaloUpdateRequest, error) {
	if err := validateInterfacePair(x, y); err != nil {
		return nil, err
	}
	specs := []quantity.HaloSpec{x.HaloSpec(), y.HaloSpec()}
	key := "sync | " + layoutKey(specs, 1, true)
	u, ok := c.updaters[key]
	if !ok {
		layout, err := c.buildSyncLayout(specs)
		if err != nil {
			return nil, err
		}
		u = newHaloUpdater(c, layout)
		c.updaters[key] = u
	}
	if err := u.Start([]*quantity.Quantity{x, y}); err != nil {
		return nil, err
	}
	return &HaloUpdateRequest{u: u}, nil
}

func validateInterfacePair(x, y *quantity.Quantity) error {
	if !hasDim(x.Dims, quantity.XInterfaceDim) || !hasDim(x.Dims, quantity.YDim) {
		return fmt.Errorf("%w: x component %q must have dims (%s, %s), got %v",
			quantity.ErrGeometry, x.Name, quantity.XInterfaceDim, quantity.YDim, x.Dims)
	}
	if !hasDim(y.Dims, quantity.YInterfaceDim) || !hasDim(y.Dims, quantity.XDim) {
		return fmt.Errorf("%w: y component %q must have dims (%s, %s), got %v",
			quantity.ErrGeometry, y.Name, quantity.YInterfaceDim, quantity.XDim, y.Dims)
	}
	return nil
}

func hasDim(dims []string, dim string) bool {
	for _, d := range dims {
		if d == dim {
			return true
		}
	}
	return false
}

// buildSyncLayout precomputes the interface exchange: one send-only plan
// per south/west boundary carrying the authoritative low-edge line, one
// receive-only plan per north/east boundary landing on the high-edge line.
func (c *core) buildSyncLayout(specs []quantity.HaloSpec) (*haloLayout, error) {
	layout := &haloLayout{vector: true}
	for _, s := range specs {
		layout.specKeys = append(layout.specKeys, s.Key())
	}
	rank := c.tr.Rank()
	for _, bt := range [2]quantity.BoundaryType{quantity.South, quantity.West} {
		b := c.part.Boundary(bt, rank)
		if b == nil {
			continue
		}
		recvBT, ok := c.part.BoundaryToward(b.ToRank, rank, false)
		if !ok {
			return nil, fmt.Errorf("%w: rank %d sees rank %d across its %s boundary but not back",
				quantity.ErrGeometry, rank, b.ToRank, bt)
		}
		if recvBT != quantity.North && recvBT != quantity.East {
			return nil, fmt.Errorf("%w: %s interface line of rank %d lands on the %s edge of rank %d",
				quantity.ErrGeometry, bt, rank, recvBT, b.ToRank)
		}
		packRot := (4 - b.NClockwiseRotations%4) % 4
		srcIsX, sign := componentSource(packRot, recvBT == quantity.East)
		if srcIsX != (bt == quantity.West) {
			return nil, fmt.Errorf("%w: rotation %d maps the %s line of rank %d onto the wrong component",
				quantity.ErrGeometry, packRot, bt, rank)
		}
		srcIndex := 1
		if srcIsX {
			srcIndex = 0
		}
		src := specs[srcIndex]
		sendRanges, err := interfaceLine(src, srcIndex == 0, false)
		if err != nil {
			return nil, err
		}
		yAxis, xAxis := quantity.HorizontalAxes(src.Dims)
		slot := haloSlot{
			qIndex:     srcIndex,
			srcIndex:   srcIndex,
			sign:       sign,
			sendRanges: sendRanges,
			srcYAxis:   yAxis,
			srcXAxis:   xAxis,
			sendLen:    rangesLen(sendRanges),
		}
		layout.plans = append(layout.plans, haloPlan{
			bt:         bt,
			toRank:     b.ToRank,
			packRot:    packRot,
			sendTagOff: int(recvBT),
			slots:      []haloSlot{slot},
			sendLen:    slot.sendLen,
		})
	}
	for _, bt := range [2]quantity.BoundaryType{quantity.North, quantity.East} {
		b := c.part.Boundary(bt, rank)
		if b == nil {
			continue
		}
		qIndex := 1
		if bt == quantity.East {
			qIndex = 0
		}
		recvRanges, err := interfaceLine(specs[qIndex], qIndex == 0, true)
		if err != nil {
			return nil, err
		}
		slot := haloSlot{
			qIndex:     qIndex,
			recvRanges: recvRanges,
			recvLen:    rangesLen(recvRanges),
		}
		layout.plans = append(layout.plans, haloPlan{
			bt:         bt,
			toRank:     b.ToRank,
			recvTagOff: int(bt),
			slots:      []haloSlot{slot},
			recvLen:    slot.recvLen,
		})
	}
	c.logger.Debug("built interface sync layout", "rank", rank, "messages", len(layout.plans))
	return layout, nil
}

// interfaceLine selects the one-point-wide interface line of a staggered
// quantity: the staggered axis is pinned to its first (low) or last (high)
// interior index, every other axis spans its interior extent.
func interfaceLine(s quantity.HaloSpec, staggeredInX, high bool) ([]quantity.Range, error) {
	staggered := quantity.YInterfaceDim
	if staggeredInX {
		staggered = quantity.XInterfaceDim
	}
	ranges := make([]quantity.Range, len(s.Dims))
	found := false
	for i, dim := range s.Dims {
		if dim == staggered {
			at := s.Origin[i]
			if high {
				at = s.Origin[i] + s.Extent[i] - 1
			}
			ranges[i] = quantity.Range{Start: at, Stop: at + 1}
			found = true
			continue
		}
		ranges[i] = quantity.Range{Start: s.Origin[i], Stop: s.Origin[i] + s.Extent[i]}
	}
	if !found {
		return nil, fmt.Errorf("%w: quantity with dims %v is not staggered on %s",
			quantity.ErrGeometry, s.Dims, staggered)
	}
	return ranges, nil
}
