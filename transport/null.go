package transport

// NullTransport is a no-op stub for smoke-testing code paths without real
// parallelism: every receive-like operation fills its buffer with
// FillValue and nothing ever blocks.
type NullTransport struct {
	rank int
	size int

	// FillValue is written into every received buffer element.
	FillValue float64
}

// NewNullTransport returns a stub transport presenting the given rank and
// group size.
func NewNullTransport(rank, size int, fillValue float64) *NullTransport {
	return &NullTransport{rank: rank, size: size, FillValue: fillValue}
}

func (t *NullTransport) Rank() int { return t.rank }
func (t *NullTransport) Size() int { return t.size }

func (t *NullTransport) fill(buf []float64) {
	for i := range buf {
		buf[i] = t.FillValue
	}
}

func (t *NullTransport) Broadcast(buf []float64, root int) error {
	if t.rank != root {
		t.fill(buf)
	}
	return nil
}

func (t *NullTransport) Barrier() error { return nil }

func (t *NullTransport) Scatter(sendbuf, recvbuf []float64, root int) error {
	if t.rank == root && len(sendbuf) >= (t.rank+1)*len(recvbuf) {
		copy(recvbuf, sendbuf[t.rank*len(recvbuf):(t.rank+1)*len(recvbuf)])
		return nil
	}
	t.fill(recvbuf)
	return nil
}

func (t *NullTransport) Gather(sendbuf, recvbuf []float64, root int) error {
	if t.rank != root {
		return nil
	}
	t.fill(recvbuf)
	copy(recvbuf[t.rank*len(sendbuf):(t.rank+1)*len(sendbuf)], sendbuf)
	return nil
}

func (t *NullTransport) Send(buf []float64, dest, tag int) error { return nil }

func (t *NullTransport) Recv(buf []float64, source, tag int) error {
	t.fill(buf)
	return nil
}

func (t *NullTransport) Isend(buf []float64, dest, tag int) (Request, error) {
	return completedRequest{}, nil
}

func (t *NullTransport) Irecv(buf []float64, source, tag int) (Request, error) {
	t.fill(buf)
	return completedRequest{}, nil
}

// Split returns a single-member stub group.
func (t *NullTransport) Split(color, key int) (Transport, error) {
	return NewNullTransport(0, 1, t.FillValue), nil
}

func (t *NullTransport) Reduce(value float64, op ReduceOp, root int) (float64, error) {
	if t.rank == root {
		return value, nil
	}
	return 0, nil
}
