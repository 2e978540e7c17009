package transport

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Reserved tags for collectives built on point-to-point messages. User
// tags must be non-negative.
const (
	tagBroadcast = -1
	tagBarrier   = -2
	tagScatter   = -3
	tagGather    = -4
	tagReduce    = -5
	tagSplit     = -6
)

// frame is the unit sent on the wire. Ctx namespaces split groups so a
// child transport's messages cannot match a parent's; it encodes the split
// lineage (parent context, split sequence number, color group), which every
// member derives identically.
type frame struct {
	Src  int
	Ctx  string
	Tag  int
	Data []float64
}

type hello struct {
	Rank int
}

type inboxKey struct {
	src, tag int
	ctx      string
}

// peer is one TCP connection with gob codecs. Writes are serialized by mu;
// reads happen on a single reader goroutine.
type peer struct {
	conn net.Conn
	mu   sync.Mutex
	enc  *gob.Encoder
	dec  *gob.Decoder
}

// netCore owns the connections and the shared inbox for a process; every
// split transport in the process is a view over the same core.
type netCore struct {
	rank     int
	size     int
	peers    []*peer
	listener net.Listener
	logger   *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	inbox   map[inboxKey][][]float64
	closed  bool
	readErr error
}

// NetworkTransport is the live implementation: ranks are separate
// processes exchanging gob-framed messages over TCP, after the net-based
// MPI design. Rank i listens for connections from ranks above it and
// dials the ranks below it.
type NetworkTransport struct {
	core *netCore
	ctx  string
	rank int
	// members maps group rank to global rank; identity for the root
	// transport.
	members []int
	// splitSeq counts Split calls on this transport so successive splits
	// get distinct child contexts.
	splitSeq int
}

// NetworkOption configures DialNetwork.
type NetworkOption func(*networkConfig)

type networkConfig struct {
	listener    net.Listener
	dialBackoff time.Duration
	logger      *slog.Logger
}

// WithListener supplies a pre-bound listener for this rank instead of
// listening on addrs[rank]; useful when ports are allocated dynamically.
func WithListener(l net.Listener) NetworkOption {
	return func(c *networkConfig) { c.listener = l }
}

// WithDialBackoff sets the retry interval while peers come up.
func WithDialBackoff(d time.Duration) NetworkOption {
	return func(c *networkConfig) { c.dialBackoff = d }
}

// WithNetworkLogger sets the session lifecycle logger.
func WithNetworkLogger(logger *slog.Logger) NetworkOption {
	return func(c *networkConfig) { c.logger = logger }
}

// DialNetwork establishes the all-to-all connection mesh for one rank.
// addrs lists every rank's listen address in rank order; the call returns
// once all size-1 peer connections are up or ctx expires.
func DialNetwork(ctx context.Context, rank int, addrs []string, opts ...NetworkOption) (*NetworkTransport, error) {
	cfg := networkConfig{dialBackoff: 50 * time.Millisecond, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	size := len(addrs)
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("network transport: rank %d outside address list of %d", rank, size)
	}
	core := &netCore{
		rank:   rank,
		size:   size,
		peers:  make([]*peer, size),
		logger: cfg.logger,
		inbox:  make(map[inboxKey][][]float64),
	}
	core.cond = sync.NewCond(&core.mu)

	listener := cfg.listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", addrs[rank])
		if err != nil {
			return nil, fmt.Errorf("network transport: listen %s: %w", addrs[rank], err)
		}
	}
	core.listener = listener

	g, gctx := errgroup.WithContext(ctx)
	// Accept one connection from every higher rank.
	g.Go(func() error {
		for n := rank + 1; n < size; n++ {
			conn, err := listener.Accept()
			if err != nil {
				return fmt.Errorf("network transport: accept: %w", err)
			}
			p := &peer{conn: conn, enc: gob.NewEncoder(conn), dec: gob.NewDecoder(conn)}
			var h hello
			if err := p.dec.Decode(&h); err != nil {
				return fmt.Errorf("network transport: handshake: %w", err)
			}
			if h.Rank <= rank || h.Rank >= size || core.peers[h.Rank] != nil {
				return fmt.Errorf("network transport: bad handshake rank %d", h.Rank)
			}
			core.peers[h.Rank] = p
		}
		return nil
	})
	// Dial every lower rank, retrying while peers come up.
	for n := 0; n < rank; n++ {
		n := n
		g.Go(func() error {
			p, err := dialPeer(gctx, addrs[n], cfg.dialBackoff)
			if err != nil {
				return fmt.Errorf("network transport: dial rank %d (%s): %w", n, addrs[n], err)
			}
			if err := p.enc.Encode(hello{Rank: rank}); err != nil {
				return fmt.Errorf("network transport: handshake to rank %d: %w", n, err)
			}
			core.peers[n] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		core.closeConns()
		return nil, err
	}
	for n, p := range core.peers {
		if n != rank {
			go core.readLoop(n, p)
		}
	}
	core.logger.Debug("network transport connected", "rank", rank, "size", size)

	members := make([]int, size)
	for i := range members {
		members[i] = i
	}
	return &NetworkTransport{core: core, ctx: "0", rank: rank, members: members}, nil
}

func dialPeer(ctx context.Context, addr string, backoff time.Duration) (*peer, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return &peer{conn: conn, enc: gob.NewEncoder(conn), dec: gob.NewDecoder(conn)}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// readLoop demultiplexes frames from one peer into the shared inbox,
// preserving per-(source, ctx, tag) arrival order.
func (c *netCore) readLoop(src int, p *peer) {
	for {
		var f frame
		if err := p.dec.Decode(&f); err != nil {
			c.mu.Lock()
			if !c.closed {
				c.readErr = fmt.Errorf("network transport: read from rank %d: %w", src, err)
				if err == io.EOF {
					c.readErr = fmt.Errorf("network transport: rank %d closed the connection", src)
				}
			}
			c.closed = true
			c.cond.Broadcast()
			c.mu.Unlock()
			return
		}
		key := inboxKey{src: f.Src, ctx: f.Ctx, tag: f.Tag}
		c.mu.Lock()
		c.inbox[key] = append(c.inbox[key], f.Data)
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

func (c *netCore) send(dest int, ctx string, tag int, data []float64) error {
	p := c.peers[dest]
	if p == nil {
		return fmt.Errorf("network transport: no connection to rank %d", dest)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(frame{Src: c.rank, Ctx: ctx, Tag: tag, Data: data})
}

func (c *netCore) recv(src int, ctx string, tag int) ([]float64, error) {
	key := inboxKey{src: src, ctx: ctx, tag: tag}
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.inbox[key]) == 0 {
		if c.closed {
			err := c.readErr
			if err == nil {
				err = fmt.Errorf("network transport: closed while receiving from rank %d tag %d", src, tag)
			}
			return nil, err
		}
		c.cond.Wait()
	}
	q := c.inbox[key]
	msg := q[0]
	c.inbox[key] = q[1:]
	return msg, nil
}

func (c *netCore) closeConns() {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
	if c.listener != nil {
		c.listener.Close()
	}
	for _, p := range c.peers {
		if p != nil {
			p.conn.Close()
		}
	}
}

// Close tears down the connection mesh. Pending receives fail.
func (t *NetworkTransport) Close() error {
	t.core.logger.Debug("network transport closed", "rank", t.core.rank)
	t.core.closeConns()
	return nil
}

func (t *NetworkTransport) Rank() int { return t.rank }
func (t *NetworkTransport) Size() int { return len(t.members) }

func (t *NetworkTransport) Send(buf []float64, dest, tag int) error {
	if dest == t.rank {
		t.core.mu.Lock()
		key := inboxKey{src: t.global(t.rank), ctx: t.ctx, tag: tag}
		t.core.inbox[key] = append(t.core.inbox[key], append([]float64(nil), buf...))
		t.core.cond.Broadcast()
		t.core.mu.Unlock()
		return nil
	}
	return t.core.send(t.global(dest), t.ctx, tag, append([]float64(nil), buf...))
}

func (t *NetworkTransport) Recv(buf []float64, source, tag int) error {
	msg, err := t.core.recv(t.global(source), t.ctx, tag)
	if err != nil {
		return err
	}
	if len(msg) != len(buf) {
		return fmt.Errorf("network transport: recv buffer length %d, message length %d (rank %d tag %d)",
			len(buf), len(msg), source, tag)
	}
	copy(buf, msg)
	return nil
}

func (t *NetworkTransport) Isend(buf []float64, dest, tag int) (Request, error) {
	data := append([]float64(nil), buf...)
	done := make(chan error, 1)
	go func() {
		if dest == t.rank {
			done <- t.Send(data, dest, tag)
			return
		}
		done <- t.core.send(t.global(dest), t.ctx, tag, data)
	}()
	return &chanRequest{done: done}, nil
}

func (t *NetworkTransport) Irecv(buf []float64, source, tag int) (Request, error) {
	return &netRecvRequest{t: t, buf: buf, source: source, tag: tag}, nil
}

type chanRequest struct {
	done chan error
	used bool
}

func (r *chanRequest) Wait() error {
	if r.used {
		return fmt.Errorf("network transport: request waited on more than once")
	}
	r.used = true
	return <-r.done
}

type netRecvRequest struct {
	t      *NetworkTransport
	buf    []float64
	source int
	tag    int
	used   bool
}

func (r *netRecvRequest) Wait() error {
	if r.used {
		return fmt.Errorf("network transport: request waited on more than once")
	}
	r.used = true
	return r.t.Recv(r.buf, r.source, r.tag)
}

func (t *NetworkTransport) global(groupRank int) int { return t.members[groupRank] }

func (t *NetworkTransport) Broadcast(buf []float64, root int) error {
	if t.rank == root {
		for n := 0; n < t.Size(); n++ {
			if n == root {
				continue
			}
			if err := t.core.send(t.global(n), t.ctx, tagBroadcast, buf); err != nil {
				return err
			}
		}
		return nil
	}
	msg, err := t.core.recv(t.global(root), t.ctx, tagBroadcast)
	if err != nil {
		return err
	}
	if len(msg) != len(buf) {
		return fmt.Errorf("network transport: broadcast buffer length %d, payload length %d", len(buf), len(msg))
	}
	copy(buf, msg)
	return nil
}

func (t *NetworkTransport) Barrier() error {
	if t.rank == 0 {
		for n := 1; n < t.Size(); n++ {
			if _, err := t.core.recv(t.global(n), t.ctx, tagBarrier); err != nil {
				return err
			}
		}
		for n := 1; n < t.Size(); n++ {
			if err := t.core.send(t.global(n), t.ctx, tagBarrier, nil); err != nil {
				return err
			}
		}
		return nil
	}
	if err := t.core.send(t.global(0), t.ctx, tagBarrier, nil); err != nil {
		return err
	}
	_, err := t.core.recv(t.global(0), t.ctx, tagBarrier)
	return err
}

func (t *NetworkTransport) Scatter(sendbuf, recvbuf []float64, root int) error {
	if t.rank == root {
		if len(sendbuf) != t.Size()*len(recvbuf) {
			return fmt.Errorf("network transport: scatter sendbuf length %d, want %d*%d",
				len(sendbuf), t.Size(), len(recvbuf))
		}
		for n := 0; n < t.Size(); n++ {
			chunk := sendbuf[n*len(recvbuf) : (n+1)*len(recvbuf)]
			if n == root {
				copy(recvbuf, chunk)
				continue
			}
			if err := t.core.send(t.global(n), t.ctx, tagScatter, chunk); err != nil {
				return err
			}
		}
		return nil
	}
	msg, err := t.core.recv(t.global(root), t.ctx, tagScatter)
	if err != nil {
		return err
	}
	if len(msg) != len(recvbuf) {
		return fmt.Errorf("network transport: scatter chunk length %d, recvbuf length %d", len(msg), len(recvbuf))
	}
	copy(recvbuf, msg)
	return nil
}

func (t *NetworkTransport) Gather(sendbuf, recvbuf []float64, root int) error {
	if t.rank != root {
		return t.core.send(t.global(root), t.ctx, tagGather, sendbuf)
	}
	if len(recvbuf) != t.Size()*len(sendbuf) {
		return fmt.Errorf("network transport: gather recvbuf length %d, want %d*%d",
			len(recvbuf), t.Size(), len(sendbuf))
	}
	copy(recvbuf[root*len(sendbuf):], sendbuf)
	for n := 0; n < t.Size(); n++ {
		if n == root {
			continue
		}
		msg, err := t.core.recv(t.global(n), t.ctx, tagGather)
		if err != nil {
			return err
		}
		if len(msg) != len(sendbuf) {
			return fmt.Errorf("network transport: gather chunk from rank %d has length %d, want %d",
				n, len(msg), len(sendbuf))
		}
		copy(recvbuf[n*len(sendbuf):(n+1)*len(sendbuf)], msg)
	}
	return nil
}

func (t *NetworkTransport) Reduce(value float64, op ReduceOp, root int) (float64, error) {
	if t.rank != root {
		return 0, t.core.send(t.global(root), t.ctx, tagReduce, []float64{value})
	}
	values := make([]float64, t.Size())
	values[root] = value
	for n := 0; n < t.Size(); n++ {
		if n == root {
			continue
		}
		msg, err := t.core.recv(t.global(n), t.ctx, tagReduce)
		if err != nil {
			return 0, err
		}
		if len(msg) != 1 {
			return 0, fmt.Errorf("network transport: reduce contribution from rank %d has length %d", n, len(msg))
		}
		values[n] = msg[0]
	}
	return op.Reduce(values), nil
}

// Split gathers every rank's (color, key) at group rank 0, which assigns
// each color group a fresh message context and broadcasts the membership.
// All ranks must call Split in the same order so contexts agree.
func (t *NetworkTransport) Split(color, key int) (Transport, error) {
	size := t.Size()
	pairs := make([]float64, 2*size)
	if err := t.Gather([]float64{float64(color), float64(key)}, pickRoot(t.rank == 0, pairs), 0); err != nil {
		return nil, err
	}
	assign := make([]float64, 2*size) // per rank: child rank, group size
	membership := make([]float64, size)
	if t.rank == 0 {
		groupOf, rankIn, sizeOf := assignGroups(pairs, size)
		for n := 0; n < size; n++ {
			assign[2*n] = float64(rankIn[n])
			assign[2*n+1] = float64(sizeOf[n])
			membership[n] = float64(groupOf[n])
		}
	}
	if err := t.Broadcast(assign, 0); err != nil {
		return nil, err
	}
	if err := t.Broadcast(membership, 0); err != nil {
		return nil, err
	}
	t.splitSeq++
	ctx := fmt.Sprintf("%s.%d.%d", t.ctx, t.splitSeq, int(membership[t.rank]))

	childSize := int(assign[2*t.rank+1])
	members := make([]int, childSize)
	for n := 0; n < size; n++ {
		if int(membership[n]) == int(membership[t.rank]) {
			members[int(assign[2*n])] = t.global(n)
		}
	}
	return &NetworkTransport{core: t.core, ctx: ctx, rank: int(assign[2*t.rank]), members: members}, nil
}

// assignGroups orders each color's members by (key, rank) and numbers the
// groups in first-appearance order.
func assignGroups(pairs []float64, size int) (groupOf, rankIn, sizeOf []int) {
	groupOf = make([]int, size)
	rankIn = make([]int, size)
	sizeOf = make([]int, size)
	groupID := make(map[int]int)
	var colors []int
	for n := 0; n < size; n++ {
		c := int(pairs[2*n])
		if _, ok := groupID[c]; !ok {
			groupID[c] = len(colors)
			colors = append(colors, c)
		}
		groupOf[n] = groupID[c]
	}
	for _, c := range colors {
		var members []int
		for n := 0; n < size; n++ {
			if int(pairs[2*n]) == c {
				members = append(members, n)
			}
		}
		// order by (key, rank)
		for i := 1; i < len(members); i++ {
			for j := i; j > 0; j-- {
				a, b := members[j-1], members[j]
				if int(pairs[2*a+1]) > int(pairs[2*b+1]) ||
					(int(pairs[2*a+1]) == int(pairs[2*b+1]) && a > b) {
					members[j-1], members[j] = b, a
				} else {
					break
				}
			}
		}
		for i, n := range members {
			rankIn[n] = i
			sizeOf[n] = len(members)
		}
	}
	return groupOf, rankIn, sizeOf
}

// pickRoot passes recvbuf only on the root rank, nil elsewhere.
func pickRoot(isRoot bool, recvbuf []float64) []float64 {
	if isRoot {
		return recvbuf
	}
	return nil
}
