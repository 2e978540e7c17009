package comm

import (
	"fmt"

	"github.com/NOAA-GFDL/cubedsphere/quantity"
)

// scatterRoot is 0: whole-grid quantities live on the first rank.
const scatterRoot = 0

// scatterQ distributes the root's whole-grid quantity into each rank's
// interior. rootRanges locates rank r's chunk within the root quantity;
// interface dims overlap one shared point between adjacent sub-tiles, so
// every chunk has the same size. Halo cells of recv are set to the
// communicator's fill value and stay stale until a halo update.
func (c *core) scatterQ(send, recv *quantity.Quantity, rootRanges func(rank int) ([]quantity.Range, error)) error {
	if recv == nil {
		return fmt.Errorf("%w: scatter needs a receive quantity on every rank", ErrConfiguration)
	}
	chunk := recv.Interior().Size()
	recvbuf := make([]float64, chunk)
	var sendbuf []float64
	if c.Rank() == scatterRoot {
		if send == nil {
			return fmt.Errorf("%w: scatter needs the source quantity on rank %d", ErrConfiguration, scatterRoot)
		}
		sendbuf = make([]float64, c.Size()*chunk)
		for r := 0; r < c.Size(); r++ {
			ranges, err := rootRanges(r)
			if err != nil {
				return err
			}
			region, err := send.View(ranges)
			if err != nil {
				return err
			}
			if region.Size() != chunk {
				return fmt.Errorf("%w: rank %d sub-tile holds %d points, per-rank interior holds %d",
					ErrConfiguration, r, region.Size(), chunk)
			}
			region.ExtractTo(sendbuf[r*chunk : (r+1)*chunk])
		}
	}
	if err := c.tr.Scatter(sendbuf, recvbuf, scatterRoot); err != nil {
		return err
	}
	for i := range recv.Data {
		recv.Data[i] = c.fill
	}
	recv.Interior().InsertFrom(recvbuf)
	return nil
}

// gatherQ collects each rank's interior into the root's whole-grid
// quantity, the inverse of scatterQ. Points shared by adjacent sub-tiles
// on interface dims are written more than once with identical values.
func (c *core) gatherQ(send, recv *quantity.Quantity, rootRanges func(rank int) ([]quantity.Range, error)) error {
	if send == nil {
		return fmt.Errorf("%w: gather needs a source quantity on every rank", ErrConfiguration)
	}
	chunk := send.Interior().Size()
	sendbuf := make([]float64, chunk)
	send.Interior().ExtractTo(sendbuf)
	var recvbuf []float64
	if c.Rank() == scatterRoot {
		if recv == nil {
			return fmt.Errorf("%w: gather needs the destination quantity on rank %d", ErrConfiguration, scatterRoot)
		}
		recvbuf = make([]float64, c.Size()*chunk)
	}
	if err := c.tr.Gather(sendbuf, recvbuf, scatterRoot); err != nil {
		return err
	}
	if c.Rank() != scatterRoot {
		return nil
	}
	for r := 0; r < c.Size(); r++ {
		ranges, err := rootRanges(r)
		if err != nil {
			return err
		}
		region, err := recv.View(ranges)
		if err != nil {
			return err
		}
		if region.Size() != chunk {
			return fmt.Errorf("%w: rank %d sub-tile holds %d points, per-rank interior holds %d",
				ErrConfiguration, r, region.Size(), chunk)
		}
		region.InsertFrom(recvbuf[r*chunk : (r+1)*chunk])
	}
	return nil
}

// tileRanges locates rank r's sub-tile within a whole-face quantity.
func (c *TileCommunicator) tileRanges(global *quantity.Quantity, rank int) ([]quantity.Range, error) {
	ranges, err := c.part.SubtileSlice(rank, global.Dims, global.Extent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	for i := range ranges {
		ranges[i].Start += global.Origin[i]
		ranges[i].Stop += global.Origin[i]
	}
	return ranges, nil
}

// Scatter distributes a whole-face quantity from rank 0 into each rank's
// interior.
func (c *TileCommunicator) Scatter(send, recv *quantity.Quantity) error {
	return c.scatterQ(send, recv, func(r int) ([]quantity.Range, error) {
		return c.tileRanges(send, r)
	})
}

// Gather collects each rank's interior into a whole-face quantity on
// rank 0.
func (c *TileCommunicator) Gather(send, recv *quantity.Quantity) error {
	return c.gatherQ(send, recv, func(r int) ([]quantity.Range, error) {
		return c.tileRanges(recv, r)
	})
}

// cubeRanges locates rank r's sub-tile within a whole-cube quantity, whose
// leading axis indexes the six faces. Per-rank quantities drop that axis:
// dimensionality changes by exactly one between the root and the ranks.
func (c *CubedSphereCommunicator) cubeRanges(global *quantity.Quantity, rank int) ([]quantity.Range, error) {
	if global.NDim() < 1 || global.Dims[0] != quantity.TileDim {
		return nil, fmt.Errorf("%w: whole-cube quantity %q must lead with the %q axis, got %v",
			ErrConfiguration, global.Name, quantity.TileDim, global.Dims)
	}
	sub, err := c.part.SubtileSlice(rank, global.Dims[1:], global.Extent[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	face := c.part.TileIndex(rank)
	ranges := make([]quantity.Range, 0, global.NDim())
	ranges = append(ranges, quantity.Range{
		Start: global.Origin[0] + face,
		Stop:  global.Origin[0] + face + 1,
	})
	for i, r := range sub {
		ranges = append(ranges, quantity.Range{
			Start: r.Start + global.Origin[i+1],
			Stop:  r.Stop + global.Origin[i+1],
		})
	}
	return ranges, nil
}

// Scatter distributes a whole-cube quantity from rank 0 into each rank's
// interior, stripping the leading tile axis.
func (c *CubedSphereCommunicator) Scatter(send, recv *quantity.Quantity) error {
	return c.scatterQ(send, recv, func(r int) ([]quantity.Range, error) {
		return c.cubeRanges(send, r)
	})
}

// Gather collects each rank's interior into a whole-cube quantity on
// rank 0, adding the leading tile axis.
func (c *CubedSphereCommunicator) Gather(send, recv *quantity.Quantity) error {
	return c.gatherQ(send, recv, func(r int) ([]quantity.Range, error) {
		return c.cubeRanges(recv, r)
	})
}
