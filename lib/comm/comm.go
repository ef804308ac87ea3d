/*package comm contains the message-passing primitives that krill's swarm
transport runs on: ranks, message tags, non-blocking sends, probes, blocking
receives, and a global barrier. The vocabulary follows MPI point-to-point
communication, but the package ships a pure-Go in-process World so that
multi-rank runs and tests need no system MPI. An MPI-backed Communicator
could replace World without changing any buffer or payload contracts.*/
package comm

import (
	"fmt"
	"sync"
)

// Tag returns the message tag for a payload addressed to channel bufid of
// the receiver's block lid, for swarm channelID. The combination is unique
// per directed block pair per swarm, so concurrently active swarms sharing
// a process pair cannot cross-talk. bufid must be below 64 and channelID
// below 32; lid is unbounded.
func Tag(lid, bufid, channelID int) int {
	return lid<<11 | bufid<<5 | channelID
}

// Communicator is the transport a swarm sends its particle payloads
// through. All payloads are float64 slices.
//
// Isend must not block. Posting a second Isend with the same dest and tag
// while the first is still undelivered is a usage error and panics: the
// swarm protocol never queues or retries sends. SendDone reports whether a
// previously posted send has been consumed by the receiver.
//
// Iprobe is non-blocking and reports whether a message tagged for this rank
// has arrived, along with its decoded length. Recv blocks until the message
// is available and must be passed a buffer of exactly the probed length.
//
// Barrier blocks until every rank in the communicator has entered it.
type Communicator interface {
	Rank() int
	Size() int
	Isend(dest, tag int, data []float64)
	SendDone(dest, tag int) bool
	Iprobe(tag int) (n int, ok bool)
	Recv(buf []float64, tag int)
	Barrier()
}

type msgKey struct {
	dest, tag int
}

type message struct {
	data []byte
	n    int
}

// World is the shared state behind a set of in-process ranks. Each rank
// holds a *Proc handle; messages live in a mailbox table keyed by
// (destination rank, tag), with at most one message per key at a time.
type World struct {
	size int
	cd   codec

	mu    sync.Mutex
	cond  *sync.Cond
	boxes map[msgKey]message

	bar barrier
}

// Option configures a World.
type Option func(w *World)

// WithCompression makes the world zstd-compress payload bytes at the given
// level before they cross the wire. Payload lengths reported by Iprobe are
// unaffected.
func WithCompression(level int) Option {
	return func(w *World) { w.cd = codec{ compress: true, level: level } }
}

// NewWorld creates an in-process world with one Proc per rank.
func NewWorld(size int, opts ...Option) []*Proc {
	if size < 1 { size = 1 }
	w := &World{ size: size, boxes: map[msgKey]message{ } }
	w.cond = sync.NewCond(&w.mu)
	w.bar.init(size)
	for _, opt := range opts { opt(w) }

	procs := make([]*Proc, size)
	for i := range procs {
		procs[i] = &Proc{ world: w, rank: i }
	}
	return procs
}

// Proc is one rank's handle on an in-process World.
type Proc struct {
	world *World
	rank  int
}

func (p *Proc) Rank() int { return p.rank }
func (p *Proc) Size() int { return p.world.size }

// Isend deposits an encoded copy of data in dest's mailbox and returns
// immediately. The caller may reuse data as soon as Isend returns.
func (p *Proc) Isend(dest, tag int, data []float64) {
	if dest < 0 || dest >= p.world.size {
		panic(fmt.Sprintf("comm: Isend to rank %d, but the world only has ranks 0 - %d", dest, p.world.size-1))
	}
	msg := p.world.cd.encode(data)

	w := p.world
	w.mu.Lock()
	defer w.mu.Unlock()

	key := msgKey{ dest, tag }
	if _, ok := w.boxes[key]; ok {
		panic(fmt.Sprintf("comm: Isend to rank %d with tag %d before the previous message with that tag was received", dest, tag))
	}
	w.boxes[key] = msg
	w.cond.Broadcast()
}

// SendDone returns true once the message previously sent to (dest, tag) has
// been received, or if no such message was ever sent.
func (p *Proc) SendDone(dest, tag int) bool {
	w := p.world
	w.mu.Lock()
	defer w.mu.Unlock()
	_, pending := w.boxes[msgKey{ dest, tag }]
	return !pending
}

// Iprobe checks without blocking for a message tagged for this rank. If one
// has arrived it returns the payload length in float64 values and true.
func (p *Proc) Iprobe(tag int) (n int, ok bool) {
	w := p.world
	w.mu.Lock()
	defer w.mu.Unlock()
	msg, ok := w.boxes[msgKey{ p.rank, tag }]
	if !ok { return 0, false }
	return msg.n, true
}

// Recv blocks until a message tagged for this rank arrives, then decodes it
// into buf and removes it from the mailbox. len(buf) must equal the length
// reported by Iprobe.
func (p *Proc) Recv(buf []float64, tag int) {
	w := p.world
	w.mu.Lock()

	key := msgKey{ p.rank, tag }
	msg, ok := w.boxes[key]
	for !ok {
		w.cond.Wait()
		msg, ok = w.boxes[key]
	}
	delete(w.boxes, key)
	w.mu.Unlock()

	if len(buf) != msg.n {
		panic(fmt.Sprintf("comm: Recv called with a buffer of length %d for a message of length %d", len(buf), msg.n))
	}
	p.world.cd.decode(msg, buf)
}

// Barrier blocks until every rank in the world has entered it. It is
// reusable across cycles.
func (p *Proc) Barrier() { p.world.bar.wait() }

// barrier is a reusable counting barrier.
type barrier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	size  int
	count int
	gen   int
}

func (b *barrier) init(size int) {
	b.size = size
	b.cond = sync.NewCond(&b.mu)
}

func (b *barrier) wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.gen
	b.count++
	if b.count == b.size {
		b.count = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen { b.cond.Wait() }
}
