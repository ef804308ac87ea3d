package swarm

/* swarm.go contains the Swarm coordinator: the pool, router, and boundary
channels of one particle species on one block, and the exchange cycle that
migrates particles between blocks. */

import (
	"fmt"

	"github.com/blocksim/krill/lib"
	"github.com/blocksim/krill/lib/comm"
	"github.com/blocksim/krill/lib/mesh"
)

// Registry resolves block ids to the swarms that live on them. Channels
// store neighbor ids, never neighbor pointers, so adjacent blocks do not
// own one another; co-located transfers look their target up here on
// demand. Each rank keeps one registry for the swarms it hosts.
type Registry struct {
	swarms map[int]*Swarm
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ swarms: map[int]*Swarm{ } }
}

// Add registers a swarm under its block's global id.
func (reg *Registry) Add(s *Swarm) { reg.swarms[s.block.GID] = s }

// Find returns the swarm living on block gid, if this rank hosts it.
func (reg *Registry) Find(gid int) (*Swarm, bool) {
	s, ok := reg.swarms[gid]
	return s, ok
}

// Swarm is one particle species on one block: its pool, its routing table,
// and its boundary transport. A swarm is exclusively owned by its block's
// execution context; all cross-block effects go through channel buffers.
type Swarm struct {
	Pool *Pool

	id     int
	block  *mesh.Block
	router *mesh.Router
	bd     *BoundarySwarm
	cm     comm.Communicator
	reg    *Registry

	numToSend []int
	idxTable  []int
	received  []int
	totalRecv int
}

// NewSwarm creates a swarm on a block with a starting pool capacity of
// nmaxPool and registers it with reg. id distinguishes swarms sharing the
// same block pair in message tags and must be below 32. The block's domain
// must be fully periodic and 1-3 dimensional.
func NewSwarm(block *mesh.Block, reg *Registry, cm comm.Communicator, id, nmaxPool int) (*Swarm, error) {
	if id < 0 || id >= 32 {
		return nil, fmt.Errorf("The swarm id %d is outside the range 0 - 31 that message tags can encode.", id)
	}
	for d := 0; d < block.Domain.NDim; d++ {
		if !block.Domain.Periodic[d] {
			return nil, fmt.Errorf("Axis %d of block %d's domain is not periodic. Swarm transport only supports fully periodic domains.", d, block.GID)
		}
	}

	router, err := mesh.BuildRouter(block)
	if err != nil { return nil, err }

	s := &Swarm{
		Pool:      NewPool(nmaxPool),
		id:        id,
		block:     block,
		router:    router,
		cm:        cm,
		reg:       reg,
		numToSend: make([]int, len(block.Neighbors)),
		received:  make([]int, len(block.Neighbors)),
	}
	s.bd = newBoundarySwarm(block, reg, cm, id)
	reg.Add(s)

	return s, nil
}

// Block returns the block the swarm lives on.
func (s *Swarm) Block() *mesh.Block { return s.block }

// Boundary returns the swarm's boundary channels.
func (s *Swarm) Boundary() *BoundarySwarm { return s.bd }

// DestIndex routes a position to mesh.Local or to the channel slot of the
// receiving neighbor.
func (s *Swarm) DestIndex(x, y, z float64) int {
	return s.router.DestIndex(s.block, x, y, z)
}

// SetDestFromPos assigns every active slot's destination tag from its
// current position using the routing table.
func (s *Swarm) SetDestFromPos() {
	p := s.Pool
	x, y, z := p.Float64Col("x"), p.Float64Col("y"), p.Float64Col("z")
	lib.ParFor(0, p.MaxActiveIndex(), func(n int) {
		if p.active[n] {
			p.dest[n] = s.router.DestIndex(s.block, x[n], y[n], z[n])
		}
	})
}

// countOutgoing tallies the outgoing particle count per neighbor, builds a
// padded rectangular table of the slot indices going to each one, and sizes
// the send buffers. It returns the table's stride, the largest per-neighbor
// count (floored at 1 so that later completion logic runs even when nothing
// is sent).
func (s *Swarm) countOutgoing() int {
	p := s.Pool
	nb := len(s.bd.channels)
	for m := 0; m < nb; m++ { s.numToSend[m] = 0 }

	maxSize := 0
	for n := 0; n <= p.maxActiveIndex; n++ {
		if p.active[n] && p.dest[n] >= 0 {
			s.numToSend[p.dest[n]]++
			if s.numToSend[p.dest[n]] > maxSize {
				maxSize = s.numToSend[p.dest[n]]
			}
		}
	}
	if maxSize < 1 { maxSize = 1 }

	// Rectangular rather than ragged for simple strided indexing.
	if len(s.idxTable) < nb*maxSize {
		s.idxTable = make([]int, nb*maxSize)
	}
	counter := make([]int, nb)
	for n := 0; n <= p.maxActiveIndex; n++ {
		if p.active[n] && p.dest[n] >= 0 {
			m := p.dest[n]
			s.idxTable[m*maxSize+counter[m]] = n
			counter[m]++
		}
	}

	width := p.PayloadWidth()
	for m, ch := range s.bd.channels {
		need := s.numToSend[m] * width
		if len(ch.Send) < need {
			ch.Send = make([]float64, need)
		}
		ch.SendSize = need
	}

	return maxSize
}

// loadBuffers serializes every outgoing slot into its neighbor's send
// buffer at offset localIndex*PayloadWidth, marks the source slots for
// removal (they are migrating away), and reclaims them.
func (s *Swarm) loadBuffers(maxSize int) {
	p := s.Pool
	width := p.PayloadWidth()

	lib.ParFor(0, maxSize-1, func(n int) {
		for m, ch := range s.bd.channels {
			if n >= s.numToSend[m] { continue }
			sidx := s.idxTable[m*maxSize+n]
			p.marked[sidx] = true
			p.loadSlot(sidx, ch.Send, n*width)
		}
	})

	p.RemoveMarked()
}

// Send counts this block's outgoing particles, packs them into the
// per-neighbor send buffers, reclaims their slots, and dispatches every
// channel.
func (s *Swarm) Send() {
	maxSize := s.countOutgoing()
	s.loadBuffers(maxSize)
	s.bd.Send()
}

// countReceived converts each arrived channel's payload length into a
// particle count. A payload that is not evenly divisible by the payload
// width means the two sides disagree about the attribute set, which is
// unrecoverable.
func (s *Swarm) countReceived() {
	width := s.Pool.PayloadWidth()
	s.totalRecv = 0
	for m, ch := range s.bd.channels {
		if ch.Status != Arrived {
			s.received[m] = 0
			continue
		}
		if ch.RecvSize%width != 0 {
			panic(fmt.Sprintf("swarm: block %d received %d values from block %d, which is not divisible by the payload width %d", s.block.GID, ch.RecvSize, ch.nb.GID, width))
		}
		s.received[m] = ch.RecvSize / width
		s.totalRecv += s.received[m]
	}
}

// unloadBuffers reserves a pool slot for every received particle,
// deserializes the arrived payloads into them, and applies the periodic
// coordinate correction per axis. Consumed channels move to Completed.
func (s *Swarm) unloadBuffers() {
	if s.totalRecv > 0 {
		newIdx, _ := s.Pool.AddEmptySlots(s.totalRecv)

		chIdx := make([]int, s.totalRecv)
		bufIdx := make([]int, s.totalRecv)
		id := 0
		for m := range s.bd.channels {
			for b := 0; b < s.received[m]; b++ {
				chIdx[id], bufIdx[id] = m, b
				id++
			}
		}

		p := s.Pool
		width := p.PayloadWidth()
		x, y, z := p.Float64Col("x"), p.Float64Col("y"), p.Float64Col("z")
		dom := s.block.Domain

		lib.ParFor(0, s.totalRecv-1, func(n int) {
			sid := newIdx[n]
			ch := s.bd.channels[chIdx[n]]
			p.unloadSlot(sid, ch.Recv, bufIdx[n]*width)

			pos := dom.Wrap([3]float64{ x[sid], y[sid], z[sid] })
			x[sid], y[sid], z[sid] = pos[0], pos[1], pos[2]
		})
	}

	for _, ch := range s.bd.channels {
		if ch.Status == Arrived { ch.Status = Completed }
	}
}

// Receive runs the probe/receive phase on every channel, unpacks arrived
// payloads into newly reserved pool slots, and reports whether every
// channel has completed this cycle. Channels still Waiting mean the cycle
// is not yet complete and the caller must call Receive again. In multi-rank
// worlds Receive is collective.
func (s *Swarm) Receive() bool {
	s.bd.Receive()
	s.countReceived()
	s.unloadBuffers()

	for _, ch := range s.bd.channels {
		if ch.Status == Waiting { return false }
	}
	return true
}

// Defrag compacts the swarm's pool. It may only run between fully completed
// exchange cycles: compaction renumbers slots, which would silently
// invalidate the slot indices referenced by an in-flight cycle.
func (s *Swarm) Defrag() {
	for _, ch := range s.bd.channels {
		if ch.Status == Arrived {
			panic(fmt.Sprintf("swarm: Defrag called on block %d while a channel holds unconsumed arrived data", s.block.GID))
		}
	}
	s.Pool.Defrag()
}

// RunExchangeCycle runs one full exchange cycle for a swarm whose rank
// hosts no other swarm with co-located neighbors; ranks hosting several
// blocks of the same mesh should use Exchange instead. It returns whether
// the cycle fully completed within maxTries receive attempts.
func (s *Swarm) RunExchangeCycle(maxTries int) bool {
	return Exchange([]*Swarm{ s }, maxTries)
}

// Exchange runs one exchange cycle across every swarm a rank hosts.
// Statuses reset first across all swarms, so a local copy posted by one
// block's send cannot be wiped by its receiver's reset. Receive is retried
// up to maxTries times; remote payloads may need several probe attempts
// across wall-clock time. Returns whether every channel of every swarm
// completed.
//
// In multi-rank worlds the receive phase of each swarm is bracketed by
// global barriers, so every rank must call Exchange with the same number
// of swarms; ranks hosting different swarm counts deadlock at the first
// unmatched barrier. Splitting the mesh evenly across ranks, the way the
// demo driver's config validation enforces, satisfies this.
func Exchange(swarms []*Swarm, maxTries int) bool {
	for _, s := range swarms { s.bd.ResetStatuses() }
	for _, s := range swarms { s.Send() }

	for try := 0; try < maxTries; try++ {
		done := true
		for _, s := range swarms {
			if !s.Receive() { done = false }
		}
		if done { return true }
	}
	return false
}
