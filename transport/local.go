package transport

import (
	"fmt"
	"sort"
)

// LocalGroup is the shared exchange behind a set of loopback transports.
// It lets N simulated ranks execute sequentially in one process: sends
// deposit copies into per-(source, dest, tag) queues and receives pop
// them, so any receive attempted before its matching send surfaces as
// ErrOrdering instead of blocking.
//
// Collectives follow sequential-root conventions: the root must call
// broadcast and scatter before the other ranks, and gather and reduce
// after registration/contribution as described on each method.
type LocalGroup struct {
	size    int
	queues  map[msgKey][][]float64
	bcasts  map[int]*fanoutList
	scats   map[int]*fanoutList
	gathers map[int]*gatherList
	reduces map[int]*reduceList
	splits  []*localSplit
}

type msgKey struct {
	src, dst, tag int
}

// fanoutList holds root-published payloads consumed once per non-root
// rank, in each rank's own call order.
type fanoutList struct {
	entries  [][]float64
	consumed []int // per-rank count of entries already taken
}

type gatherEntry struct {
	chunks [][]float64
}

type gatherList struct {
	entries []gatherEntry
	rounds  []int // per-rank round already participated in
}

type reduceEntry struct {
	values []float64
	have   []bool
	count  int
}

type reduceList struct {
	entries []reduceEntry
	rounds  []int
}

type localSplit struct {
	parent  *LocalGroup
	members []splitMember
	groups  map[int]*LocalGroup // by color, once finalized
	ranks   map[int]int         // parent rank -> child rank
}

type splitMember struct {
	rank, color, key int
}

// NewLocalGroup creates size loopback transports sharing one exchange.
func NewLocalGroup(size int) []*LocalTransport {
	g := newLocalGroup(size)
	ts := make([]*LocalTransport, size)
	for i := range ts {
		ts[i] = &LocalTransport{group: g, rank: i}
	}
	return ts
}

func newLocalGroup(size int) *LocalGroup {
	return &LocalGroup{
		size:    size,
		queues:  make(map[msgKey][][]float64),
		bcasts:  make(map[int]*fanoutList),
		scats:   make(map[int]*fanoutList),
		gathers: make(map[int]*gatherList),
		reduces: make(map[int]*reduceList),
	}
}

// LocalTransport is one simulated rank's view of a LocalGroup.
type LocalTransport struct {
	group *LocalGroup
	rank  int

	// set when this transport was produced by Split and the split has not
	// finalized yet
	pending    *localSplit
	parentRank int

	splitCount int
}

// resolve binds a split-produced transport to its finalized group.
func (t *LocalTransport) resolve() error {
	if t.group != nil {
		return nil
	}
	if t.pending.groups == nil {
		return fmt.Errorf("%w: split transport used before all %d parent ranks called Split",
			ErrOrdering, t.pending.parent.size)
	}
	var member splitMember
	for _, m := range t.pending.members {
		if m.rank == t.parentRank {
			member = m
		}
	}
	t.group = t.pending.groups[member.color]
	t.rank = t.pending.ranks[t.parentRank]
	t.pending = nil
	return nil
}

// Rank returns this transport's rank. It panics if called on a split
// transport before every parent rank has registered its Split.
func (t *LocalTransport) Rank() int {
	if err := t.resolve(); err != nil {
		panic(err)
	}
	return t.rank
}

// Size returns the group size, with the same split caveat as Rank.
func (t *LocalTransport) Size() int {
	if err := t.resolve(); err != nil {
		panic(err)
	}
	return t.group.size
}

// Send deposits a copy of buf for (dest, tag).
func (t *LocalTransport) Send(buf []float64, dest, tag int) error {
	if err := t.resolve(); err != nil {
		return err
	}
	if dest < 0 || dest >= t.group.size {
		return fmt.Errorf("local transport: send to rank %d outside group of %d", dest, t.group.size)
	}
	key := msgKey{src: t.rank, dst: dest, tag: tag}
	t.group.queues[key] = append(t.group.queues[key], append([]float64(nil), buf...))
	return nil
}

// Recv pops the oldest message for (source, tag) into buf. A receive with
// no matching recorded send is an ordering error.
func (t *LocalTransport) Recv(buf []float64, source, tag int) error {
	if err := t.resolve(); err != nil {
		return err
	}
	key := msgKey{src: source, dst: t.rank, tag: tag}
	q := t.group.queues[key]
	if len(q) == 0 {
		return fmt.Errorf("%w: recv from rank %d tag %d before matching send", ErrOrdering, source, tag)
	}
	msg := q[0]
	t.group.queues[key] = q[1:]
	if len(msg) != len(buf) {
		return fmt.Errorf("local transport: recv buffer length %d, message length %d (rank %d tag %d)",
			len(buf), len(msg), source, tag)
	}
	copy(buf, msg)
	return nil
}

// Isend performs the send immediately; the request's Wait is a no-op.
func (t *LocalTransport) Isend(buf []float64, dest, tag int) (Request, error) {
	err := t.Send(buf, dest, tag)
	return completedRequest{err: err}, err
}

// Irecv defers the receive to Wait, which is where a missing matching
// send surfaces as ErrOrdering.
func (t *LocalTransport) Irecv(buf []float64, source, tag int) (Request, error) {
	if err := t.resolve(); err != nil {
		return nil, err
	}
	return &localRecvRequest{t: t, buf: buf, source: source, tag: tag}, nil
}

type localRecvRequest struct {
	t        *LocalTransport
	buf      []float64
	source   int
	tag      int
	complete bool
}

func (r *localRecvRequest) Wait() error {
	if r.complete {
		return fmt.Errorf("%w: request waited on more than once", ErrOrdering)
	}
	r.complete = true
	return r.t.Recv(r.buf, r.source, r.tag)
}

// Barrier is a no-op for sequential ranks.
func (t *LocalTransport) Barrier() error { return t.resolve() }

// Broadcast requires the root to call first; each other rank then consumes
// the root's payload in its own call order.
func (t *LocalTransport) Broadcast(buf []float64, root int) error {
	if err := t.resolve(); err != nil {
		return err
	}
	list := t.group.bcasts[root]
	if list == nil {
		list = &fanoutList{consumed: make([]int, t.group.size)}
		t.group.bcasts[root] = list
	}
	if t.rank == root {
		list.entries = append(list.entries, append([]float64(nil), buf...))
		return nil
	}
	i := list.consumed[t.rank]
	if i >= len(list.entries) {
		return fmt.Errorf("%w: broadcast consumed on rank %d before root %d published", ErrOrdering, t.rank, root)
	}
	list.consumed[t.rank]++
	if len(list.entries[i]) != len(buf) {
		return fmt.Errorf("local transport: broadcast buffer length %d, payload length %d", len(buf), len(list.entries[i]))
	}
	copy(buf, list.entries[i])
	return nil
}

// Scatter requires the root to call first with len(sendbuf) ==
// size*len(recvbuf); each rank then takes its chunk.
func (t *LocalTransport) Scatter(sendbuf, recvbuf []float64, root int) error {
	if err := t.resolve(); err != nil {
		return err
	}
	list := t.group.scats[root]
	if list == nil {
		list = &fanoutList{consumed: make([]int, t.group.size)}
		t.group.scats[root] = list
	}
	if t.rank == root {
		if len(sendbuf) != t.group.size*len(recvbuf) {
			return fmt.Errorf("local transport: scatter sendbuf length %d, want %d*%d", len(sendbuf), t.group.size, len(recvbuf))
		}
		list.entries = append(list.entries, append([]float64(nil), sendbuf...))
		copy(recvbuf, sendbuf[root*len(recvbuf):(root+1)*len(recvbuf)])
		return nil
	}
	i := list.consumed[t.rank]
	if i >= len(list.entries) {
		return fmt.Errorf("%w: scatter consumed on rank %d before root %d published", ErrOrdering, t.rank, root)
	}
	list.consumed[t.rank]++
	payload := list.entries[i]
	if len(payload) != t.group.size*len(recvbuf) {
		return fmt.Errorf("local transport: scatter recvbuf length %d inconsistent with payload %d", len(recvbuf), len(payload))
	}
	copy(recvbuf, payload[t.rank*len(recvbuf):(t.rank+1)*len(recvbuf)])
	return nil
}

// Gather requires every non-root rank to contribute before the root call;
// the root then assembles the chunks into recvbuf at rank offsets, so the
// gathered data is complete when its call returns.
func (t *LocalTransport) Gather(sendbuf, recvbuf []float64, root int) error {
	if err := t.resolve(); err != nil {
		return err
	}
	list := t.group.gathers[root]
	if list == nil {
		list = &gatherList{rounds: make([]int, t.group.size)}
		t.group.gathers[root] = list
	}
	round := list.rounds[t.rank]
	list.rounds[t.rank]++
	for round >= len(list.entries) {
		list.entries = append(list.entries, gatherEntry{chunks: make([][]float64, t.group.size)})
	}
	e := &list.entries[round]
	if t.rank != root {
		e.chunks[t.rank] = append([]float64(nil), sendbuf...)
		return nil
	}
	if len(recvbuf) != t.group.size*len(sendbuf) {
		return fmt.Errorf("local transport: gather recvbuf length %d, want %d*%d", len(recvbuf), t.group.size, len(sendbuf))
	}
	e.chunks[root] = sendbuf
	for i, chunk := range e.chunks {
		if chunk == nil {
			return fmt.Errorf("%w: gather root called before rank %d contributed", ErrOrdering, i)
		}
		if len(chunk) != len(sendbuf) {
			return fmt.Errorf("local transport: gather chunk from rank %d has length %d, want %d", i, len(chunk), len(sendbuf))
		}
		copy(recvbuf[i*len(sendbuf):(i+1)*len(sendbuf)], chunk)
	}
	return nil
}

// Reduce requires every non-root rank to contribute before the root call;
// the combined result is returned at the root and zero elsewhere. Values
// combine in rank order, so OpNoOp yields rank 0's value and OpReplace the
// highest rank's.
func (t *LocalTransport) Reduce(value float64, op ReduceOp, root int) (float64, error) {
	if err := t.resolve(); err != nil {
		return 0, err
	}
	list := t.group.reduces[root]
	if list == nil {
		list = &reduceList{rounds: make([]int, t.group.size)}
		t.group.reduces[root] = list
	}
	round := list.rounds[t.rank]
	list.rounds[t.rank]++
	for round >= len(list.entries) {
		list.entries = append(list.entries, reduceEntry{
			values: make([]float64, t.group.size),
			have:   make([]bool, t.group.size),
		})
	}
	e := &list.entries[round]
	e.values[t.rank] = value
	e.have[t.rank] = true
	e.count++
	if t.rank != root {
		return 0, nil
	}
	if e.count != t.group.size {
		return 0, fmt.Errorf("%w: reduce root called with %d of %d contributions", ErrOrdering, e.count, t.group.size)
	}
	return op.Reduce(e.values), nil
}

// Split groups ranks by color. The returned transport resolves once every
// parent rank has called Split for the same round; earlier use of the
// child is an ordering error.
func (t *LocalTransport) Split(color, key int) (Transport, error) {
	if err := t.resolve(); err != nil {
		return nil, err
	}
	round := t.splitCount
	t.splitCount++
	for round >= len(t.group.splits) {
		t.group.splits = append(t.group.splits, &localSplit{parent: t.group})
	}
	s := t.group.splits[round]
	s.members = append(s.members, splitMember{rank: t.rank, color: color, key: key})
	if len(s.members) == t.group.size {
		s.finalize()
	}
	child := &LocalTransport{pending: s, parentRank: t.rank}
	if s.groups != nil {
		if err := child.resolve(); err != nil {
			return nil, err
		}
	}
	return child, nil
}

func (s *localSplit) finalize() {
	byColor := make(map[int][]splitMember)
	for _, m := range s.members {
		byColor[m.color] = append(byColor[m.color], m)
	}
	s.groups = make(map[int]*LocalGroup)
	s.ranks = make(map[int]int)
	for color, members := range byColor {
		sort.Slice(members, func(i, j int) bool {
			if members[i].key != members[j].key {
				return members[i].key < members[j].key
			}
			return members[i].rank < members[j].rank
		})
		s.groups[color] = newLocalGroup(len(members))
		for i, m := range members {
			s.ranks[m.rank] = i
		}
	}
}
