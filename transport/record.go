package transport

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// callKind identifies one transport call in the record/replay log.
type callKind uint8

const (
	kindBroadcast callKind = iota + 1
	kindBarrier
	kindScatter
	kindGather
	kindSend
	kindRecv
	kindIsend
	kindIsendWait
	kindIrecv
	kindIrecvWait
	kindReduce
	kindSplit
)

func (k callKind) String() string {
	names := [...]string{"", "broadcast", "barrier", "scatter", "gather", "send",
		"recv", "isend", "isend-wait", "irecv", "irecv-wait", "reduce", "split"}
	if int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("callKind(%d)", uint8(k))
}

// logEntry is one recorded call: its kind, the peer/tag it addressed, and
// the result data where the call produced any. Entries are strictly
// ordered; replay consumes them in the exact sequence of calls made.
type logEntry struct {
	Kind  callKind  `cbor:"1,keyasint"`
	Peer  int       `cbor:"2,keyasint,omitempty"`
	Tag   int       `cbor:"3,keyasint,omitempty"`
	Data  []float64 `cbor:"4,keyasint,omitempty"`
	Value float64   `cbor:"5,keyasint,omitempty"`
	Rank  int       `cbor:"6,keyasint,omitempty"`
	Size  int       `cbor:"7,keyasint,omitempty"`
}

type logHeader struct {
	Version int    `cbor:"1,keyasint"`
	Session string `cbor:"2,keyasint"`
	Rank    int    `cbor:"3,keyasint"`
	Size    int    `cbor:"4,keyasint"`
}

type logFile struct {
	Header  logHeader  `cbor:"1,keyasint"`
	Entries []logEntry `cbor:"2,keyasint"`
}

// recordLog is shared between a recorder and the child recorders its
// splits produce, so the log preserves one global call order.
type recordLog struct {
	header  logHeader
	entries []logEntry
}

// Recorder wraps a live transport, serializing every call's result so a
// Replay can later reproduce the run without any live transport.
type Recorder struct {
	inner Transport
	log   *recordLog
}

// NewRecorder wraps inner in a recording transport.
func NewRecorder(inner Transport) *Recorder {
	return &Recorder{
		inner: inner,
		log: &recordLog{header: logHeader{
			Version: 1,
			Session: uuid.NewString(),
			Rank:    inner.Rank(),
			Size:    inner.Size(),
		}},
	}
}

// Session returns the log's session identifier.
func (r *Recorder) Session() string { return r.log.header.Session }

// Len returns the number of recorded entries.
func (r *Recorder) Len() int { return len(r.log.entries) }

// Flush serializes the header and all entries recorded so far.
func (r *Recorder) Flush(w io.Writer) error {
	return cbor.NewEncoder(w).Encode(logFile{Header: r.log.header, Entries: r.log.entries})
}

func (r *Recorder) record(e logEntry) {
	r.log.entries = append(r.log.entries, e)
}

func (r *Recorder) Rank() int { return r.inner.Rank() }
func (r *Recorder) Size() int { return r.inner.Size() }

func (r *Recorder) Broadcast(buf []float64, root int) error {
	if err := r.inner.Broadcast(buf, root); err != nil {
		return err
	}
	r.record(logEntry{Kind: kindBroadcast, Peer: root, Data: append([]float64(nil), buf...)})
	return nil
}

func (r *Recorder) Barrier() error {
	if err := r.inner.Barrier(); err != nil {
		return err
	}
	r.record(logEntry{Kind: kindBarrier})
	return nil
}

func (r *Recorder) Scatter(sendbuf, recvbuf []float64, root int) error {
	if err := r.inner.Scatter(sendbuf, recvbuf, root); err != nil {
		return err
	}
	r.record(logEntry{Kind: kindScatter, Peer: root, Data: append([]float64(nil), recvbuf...)})
	return nil
}

func (r *Recorder) Gather(sendbuf, recvbuf []float64, root int) error {
	if err := r.inner.Gather(sendbuf, recvbuf, root); err != nil {
		return err
	}
	e := logEntry{Kind: kindGather, Peer: root}
	if r.Rank() == root {
		e.Data = append([]float64(nil), recvbuf...)
	}
	r.record(e)
	return nil
}

func (r *Recorder) Send(buf []float64, dest, tag int) error {
	if err := r.inner.Send(buf, dest, tag); err != nil {
		return err
	}
	r.record(logEntry{Kind: kindSend, Peer: dest, Tag: tag})
	return nil
}

func (r *Recorder) Recv(buf []float64, source, tag int) error {
	if err := r.inner.Recv(buf, source, tag); err != nil {
		return err
	}
	r.record(logEntry{Kind: kindRecv, Peer: source, Tag: tag, Data: append([]float64(nil), buf...)})
	return nil
}

func (r *Recorder) Isend(buf []float64, dest, tag int) (Request, error) {
	req, err := r.inner.Isend(buf, dest, tag)
	if err != nil {
		return nil, err
	}
	r.record(logEntry{Kind: kindIsend, Peer: dest, Tag: tag})
	return &recordRequest{rec: r, inner: req, kind: kindIsendWait}, nil
}

func (r *Recorder) Irecv(buf []float64, source, tag int) (Request, error) {
	req, err := r.inner.Irecv(buf, source, tag)
	if err != nil {
		return nil, err
	}
	r.record(logEntry{Kind: kindIrecv, Peer: source, Tag: tag})
	return &recordRequest{rec: r, inner: req, kind: kindIrecvWait, buf: buf, peer: source, tag: tag}, nil
}

type recordRequest struct {
	rec   *Recorder
	inner Request
	kind  callKind
	buf   []float64
	peer  int
	tag   int
}

func (q *recordRequest) Wait() error {
	if err := q.inner.Wait(); err != nil {
		return err
	}
	e := logEntry{Kind: q.kind, Peer: q.peer, Tag: q.tag}
	if q.kind == kindIrecvWait {
		e.Data = append([]float64(nil), q.buf...)
	}
	q.rec.record(e)
	return nil
}

func (r *Recorder) Reduce(value float64, op ReduceOp, root int) (float64, error) {
	result, err := r.inner.Reduce(value, op, root)
	if err != nil {
		return 0, err
	}
	r.record(logEntry{Kind: kindReduce, Peer: root, Value: result})
	return result, nil
}

func (r *Recorder) Split(color, key int) (Transport, error) {
	child, err := r.inner.Split(color, key)
	if err != nil {
		return nil, err
	}
	r.record(logEntry{Kind: kindSplit, Rank: child.Rank(), Size: child.Size()})
	return &Recorder{inner: child, log: r.log}, nil
}

// replayLog is shared between a replay transport and its split children,
// mirroring the recorder's single global call order.
type replayLog struct {
	header  logHeader
	entries []logEntry
	next    int
}

// Replay re-issues a recorded session's results in the same call order,
// with no live transport behind it. Any divergence between the recorded
// and replayed call sequences surfaces as ErrReplayDivergence.
type Replay struct {
	rank int
	size int
	log  *replayLog
}

// NewReplay decodes a log produced by Recorder.Flush.
func NewReplay(rd io.Reader) (*Replay, error) {
	var f logFile
	if err := cbor.NewDecoder(rd).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: decoding log: %v", ErrReplayDivergence, err)
	}
	if f.Header.Version != 1 {
		return nil, fmt.Errorf("%w: unsupported log version %d", ErrReplayDivergence, f.Header.Version)
	}
	return &Replay{
		rank: f.Header.Rank,
		size: f.Header.Size,
		log:  &replayLog{header: f.Header, entries: f.Entries},
	}, nil
}

// Session returns the replayed log's session identifier.
func (p *Replay) Session() string { return p.log.header.Session }

func (p *Replay) Rank() int { return p.rank }
func (p *Replay) Size() int { return p.size }

// take pops the next entry, verifying the call matches what was recorded.
func (p *Replay) take(kind callKind, peer, tag int) (*logEntry, error) {
	if p.log.next >= len(p.log.entries) {
		return nil, fmt.Errorf("%w: %s call beyond end of log (%d entries)", ErrReplayDivergence, kind, len(p.log.entries))
	}
	e := &p.log.entries[p.log.next]
	if e.Kind != kind || e.Peer != peer || e.Tag != tag {
		return nil, fmt.Errorf("%w: entry %d is %s(peer=%d, tag=%d), call was %s(peer=%d, tag=%d)",
			ErrReplayDivergence, p.log.next, e.Kind, e.Peer, e.Tag, kind, peer, tag)
	}
	p.log.next++
	return e, nil
}

func (p *Replay) takeData(kind callKind, peer, tag int, buf []float64) error {
	e, err := p.take(kind, peer, tag)
	if err != nil {
		return err
	}
	if len(e.Data) != len(buf) {
		return fmt.Errorf("%w: entry %d holds %d values, call asked for %d",
			ErrReplayDivergence, p.log.next-1, len(e.Data), len(buf))
	}
	copy(buf, e.Data)
	return nil
}

func (p *Replay) Broadcast(buf []float64, root int) error {
	if p.rank == root {
		_, err := p.take(kindBroadcast, root, 0)
		return err
	}
	return p.takeData(kindBroadcast, root, 0, buf)
}

func (p *Replay) Barrier() error {
	_, err := p.take(kindBarrier, 0, 0)
	return err
}

func (p *Replay) Scatter(sendbuf, recvbuf []float64, root int) error {
	return p.takeData(kindScatter, root, 0, recvbuf)
}

func (p *Replay) Gather(sendbuf, recvbuf []float64, root int) error {
	if p.rank == root {
		return p.takeData(kindGather, root, 0, recvbuf)
	}
	_, err := p.take(kindGather, root, 0)
	return err
}

func (p *Replay) Send(buf []float64, dest, tag int) error {
	_, err := p.take(kindSend, dest, tag)
	return err
}

func (p *Replay) Recv(buf []float64, source, tag int) error {
	return p.takeData(kindRecv, source, tag, buf)
}

func (p *Replay) Isend(buf []float64, dest, tag int) (Request, error) {
	if _, err := p.take(kindIsend, dest, tag); err != nil {
		return nil, err
	}
	return &replayRequest{p: p, kind: kindIsendWait, peer: dest, tag: tag}, nil
}

func (p *Replay) Irecv(buf []float64, source, tag int) (Request, error) {
	if _, err := p.take(kindIrecv, source, tag); err != nil {
		return nil, err
	}
	return &replayRequest{p: p, kind: kindIrecvWait, peer: source, tag: tag, buf: buf}, nil
}

type replayRequest struct {
	p    *Replay
	kind callKind
	peer int
	tag  int
	buf  []float64
}

func (q *replayRequest) Wait() error {
	if q.kind == kindIrecvWait {
		return q.p.takeData(kindIrecvWait, q.peer, q.tag, q.buf)
	}
	_, err := q.p.take(q.kind, q.peer, q.tag)
	return err
}

func (p *Replay) Reduce(value float64, op ReduceOp, root int) (float64, error) {
	e, err := p.take(kindReduce, root, 0)
	if err != nil {
		return 0, err
	}
	return e.Value, nil
}

func (p *Replay) Split(color, key int) (Transport, error) {
	e, err := p.take(kindSplit, 0, 0)
	if err != nil {
		return nil, err
	}
	return &Replay{rank: e.Rank, size: e.Size, log: p.log}, nil
}
