package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// dialTestMesh brings up size connected transports on loopback listeners
// with dynamically allocated ports.
func dialTestMesh(t *testing.T, size int) []*NetworkTransport {
	t.Helper()
	listeners := make([]net.Listener, size)
	addrs := make([]string, size)
	for i := range listeners {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		listeners[i] = l
		addrs[i] = l.Addr().String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ts := make([]*NetworkTransport, size)
	var g errgroup.Group
	for rank := 0; rank < size; rank++ {
		rank := rank
		g.Go(func() error {
			tr, err := DialNetwork(ctx, rank, addrs, WithListener(listeners[rank]))
			if err != nil {
				return err
			}
			ts[rank] = tr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("dialing mesh: %v", err)
	}
	t.Cleanup(func() {
		for _, tr := range ts {
			tr.Close()
		}
	})
	return ts
}

func TestNetworkTransport_PointToPoint(t *testing.T) {
	ts := dialTestMesh(t, 2)

	var g errgroup.Group
	g.Go(func() error {
		return ts[0].Send([]float64{1, 2, 3}, 1, 9)
	})
	buf := make([]float64, 3)
	if err := ts[1].Recv(buf, 0, 9); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if buf[0] != 1 || buf[2] != 3 {
		t.Errorf("received %v", buf)
	}
}

func TestNetworkTransport_TagDemux(t *testing.T) {
	ts := dialTestMesh(t, 2)

	if err := ts[0].Send([]float64{1}, 1, 1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ts[0].Send([]float64{2}, 1, 2); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// Receive in the opposite tag order.
	buf := make([]float64, 1)
	if err := ts[1].Recv(buf, 0, 2); err != nil {
		t.Fatalf("Recv tag 2: %v", err)
	}
	if buf[0] != 2 {
		t.Errorf("tag 2 carried %v", buf[0])
	}
	if err := ts[1].Recv(buf, 0, 1); err != nil {
		t.Fatalf("Recv tag 1: %v", err)
	}
	if buf[0] != 1 {
		t.Errorf("tag 1 carried %v", buf[0])
	}
}

func TestNetworkTransport_Collectives(t *testing.T) {
	const size = 3
	ts := dialTestMesh(t, size)

	run := func(f func(rank int) error) {
		t.Helper()
		var g errgroup.Group
		for rank := 0; rank < size; rank++ {
			rank := rank
			g.Go(func() error { return f(rank) })
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("collective: %v", err)
		}
	}

	t.Run("Broadcast", func(t *testing.T) {
		bufs := make([][]float64, size)
		run(func(rank int) error {
			bufs[rank] = make([]float64, 2)
			if rank == 0 {
				bufs[rank][0], bufs[rank][1] = 4, 5
			}
			return ts[rank].Broadcast(bufs[rank], 0)
		})
		for rank := 0; rank < size; rank++ {
			if bufs[rank][0] != 4 || bufs[rank][1] != 5 {
				t.Errorf("rank %d got %v", rank, bufs[rank])
			}
		}
	})

	t.Run("Barrier", func(t *testing.T) {
		run(func(rank int) error { return ts[rank].Barrier() })
	})

	t.Run("ScatterGather", func(t *testing.T) {
		send := []float64{0, 10, 20}
		chunks := make([][]float64, size)
		run(func(rank int) error {
			chunks[rank] = make([]float64, 1)
			var sbuf []float64
			if rank == 0 {
				sbuf = send
			}
			return ts[rank].Scatter(sbuf, chunks[rank], 0)
		})
		for rank := 0; rank < size; rank++ {
			if chunks[rank][0] != float64(10*rank) {
				t.Errorf("rank %d chunk %v", rank, chunks[rank])
			}
		}

		got := make([]float64, size)
		run(func(rank int) error {
			var rbuf []float64
			if rank == 0 {
				rbuf = got
			}
			return ts[rank].Gather(chunks[rank], rbuf, 0)
		})
		for i, v := range send {
			if got[i] != v {
				t.Fatalf("gather got %v, want %v", got, send)
			}
		}
	})

	t.Run("Reduce", func(t *testing.T) {
		results := make([]float64, size)
		run(func(rank int) error {
			v, err := ts[rank].Reduce(float64(rank+1), OpSum, 0)
			results[rank] = v
			return err
		})
		if results[0] != 6 {
			t.Errorf("reduce at root = %v, want 6", results[0])
		}
	})
}

func TestNetworkTransport_Split(t *testing.T) {
	const size = 4
	ts := dialTestMesh(t, size)

	children := make([]Transport, size)
	var g errgroup.Group
	for rank := 0; rank < size; rank++ {
		rank := rank
		g.Go(func() error {
			child, err := ts[rank].Split(rank%2, rank)
			children[rank] = child
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Split: %v", err)
	}
	if children[0].Size() != 2 || children[2].Rank() != 1 {
		t.Fatalf("even group = rank %d of %d", children[2].Rank(), children[0].Size())
	}

	// Same child ranks and tags as the parent's messages would use, but
	// the split context keeps them apart.
	g = errgroup.Group{}
	g.Go(func() error { return children[0].Send([]float64{100}, 1, 0) })
	g.Go(func() error { return children[1].Send([]float64{200}, 1, 0) })
	even := make([]float64, 1)
	odd := make([]float64, 1)
	if err := children[2].Recv(even, 0, 0); err != nil {
		t.Fatalf("even Recv: %v", err)
	}
	if err := children[3].Recv(odd, 0, 0); err != nil {
		t.Fatalf("odd Recv: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("child Send: %v", err)
	}
	if even[0] != 100 || odd[0] != 200 {
		t.Errorf("split routing: even %v odd %v", even[0], odd[0])
	}
}

func TestNetworkTransport_IsendIrecv(t *testing.T) {
	ts := dialTestMesh(t, 2)

	sreq, err := ts[0].Isend([]float64{6}, 1, 0)
	if err != nil {
		t.Fatalf("Isend: %v", err)
	}
	buf := make([]float64, 1)
	rreq, err := ts[1].Irecv(buf, 0, 0)
	if err != nil {
		t.Fatalf("Irecv: %v", err)
	}
	if err := sreq.Wait(); err != nil {
		t.Fatalf("send Wait: %v", err)
	}
	if err := rreq.Wait(); err != nil {
		t.Fatalf("recv Wait: %v", err)
	}
	if buf[0] != 6 {
		t.Errorf("got %v, want 6", buf[0])
	}
}
