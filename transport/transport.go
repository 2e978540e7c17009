// Package transport abstracts the message passing used by the cubed-sphere
// communicators behind a capability interface with four conforming
// implementations: a live TCP transport, an in-process sequential loopback,
// a deterministic record/replay pair, and a fill-value stub.
package transport

import "errors"

// ErrOrdering marks caller sequencing errors surfaced by the loopback
// transport: a receive attempted before its matching send was recorded,
// collective calls in an order the sequential emulation cannot satisfy, or
// use of a split transport before every parent rank has registered.
var ErrOrdering = errors.New("transport: operation ordered before its prerequisite")

// ErrReplayDivergence marks a replay whose call sequence does not match
// the recorded log; wrong data is never silently returned.
var ErrReplayDivergence = errors.New("transport: replay log diverged from call sequence")

// Request is the handle of a non-blocking operation. Wait blocks until the
// operation completes; all buffer mutation happens strictly before Wait
// returns. A request is single-use: once issued it must be waited on
// exactly once. Abandoning a request without waiting leaves the loopback
// and replay transports' internal state undefined and is a caller error.
type Request interface {
	Wait() error
}

// Transport is the capability set required by the communicators. Buffers
// are flat float64 slices; for a given (source, dest, tag) triple messages
// are delivered in send order, and no ordering holds across triples.
// Implementations are selected at construction and never switched at
// runtime.
type Transport interface {
	Rank() int
	Size() int

	// Broadcast copies buf from root to every rank's buf.
	Broadcast(buf []float64, root int) error

	// Barrier blocks until every rank has entered it.
	Barrier() error

	// Scatter splits sendbuf (significant at root, length size*len(recvbuf))
	// into equal chunks, delivering the i-th chunk to rank i's recvbuf.
	Scatter(sendbuf, recvbuf []float64, root int) error

	// Gather collects each rank's sendbuf into root's recvbuf (length
	// size*len(sendbuf)), rank i's contribution at chunk i.
	Gather(sendbuf, recvbuf []float64, root int) error

	Send(buf []float64, dest, tag int) error
	Recv(buf []float64, source, tag int) error
	Isend(buf []float64, dest, tag int) (Request, error)
	Irecv(buf []float64, source, tag int) (Request, error)

	// Split partitions the ranks by color into disjoint transports; ranks
	// sharing a color form a new group ordered by (key, rank).
	Split(color, key int) (Transport, error)

	// Reduce combines one value per rank with op; the combined result is
	// returned at root, the zero value elsewhere.
	Reduce(value float64, op ReduceOp, root int) (float64, error)
}

// completedRequest is a request whose side effects happened at issue time.
type completedRequest struct{ err error }

func (r completedRequest) Wait() error { return r.err }
