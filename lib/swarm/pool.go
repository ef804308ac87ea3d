/*package swarm implements krill's per-block particle storage and the
transport that moves particles between blocks: a columnar attribute pool
with logical deletion and compaction, per-neighbor boundary channels, and
the exchange cycle that ties them together. One Swarm is one particle
species on one block.*/
package swarm

import (
	"fmt"

	"github.com/blocksim/krill/lib"
	"github.com/blocksim/krill/lib/mesh"
)

// AttrType identifies the storage type of a pool attribute. Only Float64
// and Int64 are supported.
type AttrType int

const (
	Float64 AttrType = iota
	Int64
)

type colRef struct {
	typ AttrType
	col int
}

// Pool is fixed-capacity columnar storage for one block's particles, with
// logical allocation and deletion. Each registered attribute is one column
// of length Cap(); each slot owns one particle's attribute values while its
// active bit is set. Pools grow on demand and never shrink.
//
// Methods that take a slot index do no bounds checking beyond the slice
// accesses themselves; callers iterate using MaxActiveIndex and the active
// mask.
type Pool struct {
	nmax           int
	numActive      int
	maxActiveIndex int

	active []bool
	marked []bool
	dest   []int
	free   freeList

	f64Names []string
	f64      [][]float64
	i64Names []string
	i64      [][]int64
	index    map[string]colRef
}

// NewPool creates a pool with capacity nmax (at least 1). Every pool starts
// with the position attributes "x", "y", and "z" registered as Float64
// columns; transport reads them during unpacking, so they cannot be
// removed from a pool used with a Swarm.
func NewPool(nmax int) *Pool {
	if nmax < 1 { nmax = 1 }
	p := &Pool{
		nmax: nmax, maxActiveIndex: -1,
		active: make([]bool, nmax),
		marked: make([]bool, nmax),
		dest:   make([]int, nmax),
		index:  map[string]colRef{ },
	}
	for i := range p.dest { p.dest[i] = mesh.Local }
	p.free.init(nmax)

	p.AddAttribute("x", Float64)
	p.AddAttribute("y", Float64)
	p.AddAttribute("z", Float64)

	return p
}

// Cap returns the pool's current slot capacity.
func (p *Pool) Cap() int { return p.nmax }

// NumActive returns the number of active slots.
func (p *Pool) NumActive() int { return p.numActive }

// MaxActiveIndex returns the highest index with an active slot, or -1 if no
// slot is active. This is always exact, never an over-approximation.
func (p *Pool) MaxActiveIndex() int { return p.maxActiveIndex }

// Active returns whether slot i holds a particle.
func (p *Pool) Active(i int) bool { return p.active[i] }

// MarkForRemoval marks slot i for removal by the next RemoveMarked call.
func (p *Pool) MarkForRemoval(i int) { p.marked[i] = true }

// Dest returns slot i's destination tag: mesh.Local, or the channel slot of
// the neighbor the particle migrates to at the next exchange cycle.
func (p *Pool) Dest(i int) int { return p.dest[i] }

// SetDest sets slot i's destination tag.
func (p *Pool) SetDest(i, dest int) { p.dest[i] = dest }

// PayloadWidth returns the number of float64 values needed to serialize one
// particle's full attribute set.
func (p *Pool) PayloadWidth() int { return len(p.f64) + len(p.i64) }

// AddAttribute registers a new attribute column with the given name and
// type. Names must be unique across both types. Registering a duplicate
// name or an unsupported type panics: attribute sets are fixed by the code
// that owns the swarm, so a bad registration is a bug, not input.
func (p *Pool) AddAttribute(name string, typ AttrType) {
	if _, ok := p.index[name]; ok {
		panic(fmt.Sprintf("swarm: the attribute '%s' is already registered with this pool", name))
	}

	switch typ {
	case Float64:
		p.f64 = append(p.f64, make([]float64, p.nmax))
		p.f64Names = append(p.f64Names, name)
		p.index[name] = colRef{ Float64, len(p.f64) - 1 }
	case Int64:
		p.i64 = append(p.i64, make([]int64, p.nmax))
		p.i64Names = append(p.i64Names, name)
		p.index[name] = colRef{ Int64, len(p.i64) - 1 }
	default:
		panic(fmt.Sprintf("swarm: %d is not a valid attribute type", typ))
	}
}

// RemoveAttribute removes a registered attribute column, compacting the
// column list by moving the last column of the same type into the vacated
// position. Removing a name that was never registered panics.
func (p *Pool) RemoveAttribute(name string) {
	ref, ok := p.index[name]
	if !ok {
		panic(fmt.Sprintf("swarm: the attribute '%s' is not registered with this pool", name))
	}

	switch ref.typ {
	case Float64:
		last := len(p.f64) - 1
		p.f64[ref.col] = p.f64[last]
		p.f64Names[ref.col] = p.f64Names[last]
		p.f64, p.f64Names = p.f64[:last], p.f64Names[:last]
		if ref.col < last {
			p.index[p.f64Names[ref.col]] = colRef{ Float64, ref.col }
		}
	case Int64:
		last := len(p.i64) - 1
		p.i64[ref.col] = p.i64[last]
		p.i64Names[ref.col] = p.i64Names[last]
		p.i64, p.i64Names = p.i64[:last], p.i64Names[:last]
		if ref.col < last {
			p.index[p.i64Names[ref.col]] = colRef{ Int64, ref.col }
		}
	}
	delete(p.index, name)
}

// Float64Col returns the column backing a Float64 attribute. The slice
// aliases pool storage and is invalidated by SetCapacity.
func (p *Pool) Float64Col(name string) []float64 {
	ref, ok := p.index[name]
	if !ok || ref.typ != Float64 {
		panic(fmt.Sprintf("swarm: '%s' is not a registered Float64 attribute", name))
	}
	return p.f64[ref.col]
}

// Int64Col returns the column backing an Int64 attribute. The slice aliases
// pool storage and is invalidated by SetCapacity.
func (p *Pool) Int64Col(name string) []int64 {
	ref, ok := p.index[name]
	if !ok || ref.typ != Int64 {
		panic(fmt.Sprintf("swarm: '%s' is not a registered Int64 attribute", name))
	}
	return p.i64[ref.col]
}

// SetCapacity grows the pool to newCap slots, preserving the contents and
// positions of existing slots and appending the new indices to the free
// list. Pools never shrink; newCap at or below the current capacity panics
// and leaves the pool unmodified.
func (p *Pool) SetCapacity(newCap int) {
	if newCap <= p.nmax {
		panic(fmt.Sprintf("swarm: SetCapacity(%d) called on a pool with capacity %d, but pools can only grow", newCap, p.nmax))
	}

	old := p.nmax
	p.active = append(p.active, make([]bool, newCap-old)...)
	p.marked = append(p.marked, make([]bool, newCap-old)...)
	p.dest = append(p.dest, make([]int, newCap-old)...)
	for i := old; i < newCap; i++ { p.dest[i] = mesh.Local }

	for i := range p.f64 {
		p.f64[i] = append(p.f64[i], make([]float64, newCap-old)...)
	}
	for i := range p.i64 {
		p.i64[i] = append(p.i64[i], make([]int64, newCap-old)...)
	}

	p.free.grow(newCap)
	for i := old; i < newCap; i++ { p.free.pushBack(i) }
	p.nmax = newCap
}

// AddEmptySlots activates k empty slots and returns their indices along
// with a mask over the (possibly grown) slot range that is true at exactly
// the new slots. New slots get a Local destination tag; their attribute
// memory is not sanitized. If the free list cannot satisfy the request the
// pool doubles its capacity until it can. k <= 0 is a no-op that returns
// nil slices.
func (p *Pool) AddEmptySlots(k int) (indices []int, newMask []bool) {
	if k <= 0 { return nil, nil }

	for p.free.len() < k {
		p.SetCapacity(2 * p.nmax)
	}

	indices = make([]int, k)
	newMask = make([]bool, p.nmax)
	for n := 0; n < k; n++ {
		i := p.free.popFront()
		p.active[i] = true
		newMask[i] = true
		p.dest[i] = mesh.Local
		if i > p.maxActiveIndex { p.maxActiveIndex = i }
		indices[n] = i
	}
	p.numActive += k

	return indices, newMask
}

// RemoveMarked frees every slot that is both active and marked for removal.
// Freed indices go to the front of the free list so they are the first to
// be reused. Afterwards no slot is simultaneously active and marked and
// MaxActiveIndex is exact.
func (p *Pool) RemoveMarked() {
	// Loop backwards so front-pushed indices come out ascending.
	for n := p.maxActiveIndex; n >= 0; n-- {
		if p.active[n] && p.marked[n] {
			p.active[n] = false
			p.marked[n] = false
			p.free.pushFront(n)
			p.numActive--
			if n == p.maxActiveIndex { p.maxActiveIndex-- }
		}
	}
	for p.maxActiveIndex >= 0 && !p.active[p.maxActiveIndex] {
		p.maxActiveIndex--
	}
}

// Defrag relocates the highest-indexed active slots into the lowest-indexed
// free slots so that the active set exactly fills [0, NumActive). A single
// from->to index map is built and applied uniformly across every attribute
// column in one pass, so the multiset of attribute tuples over active slots
// is preserved while slot identity is not. Afterwards MaxActiveIndex equals
// NumActive - 1 and the free list holds all remaining indices in ascending
// order. A pool with no active slots is left untouched.
func (p *Pool) Defrag() {
	if p.numActive == 0 { return }

	fromTo := make([]int, p.maxActiveIndex+1)
	for i := range fromTo { fromTo[i] = -1 }

	// Fill each hole below numActive with the highest remaining active
	// slot. Moving a slot already below numActive would gain nothing, and
	// the hole count below numActive always matches the active count above
	// it, so the greedy pairing fills every hole.
	src := p.maxActiveIndex
	for hole := 0; hole < p.numActive; hole++ {
		if p.active[hole] { continue }
		for !p.active[src] { src-- }
		if src < p.numActive { break }
		fromTo[src] = hole
		src--
	}

	lib.ParFor(0, p.maxActiveIndex, func(from int) {
		to := fromTo[from]
		if to < 0 { return }
		p.active[to], p.active[from] = true, false
		p.marked[to], p.marked[from] = p.marked[from], false
		p.dest[to] = p.dest[from]
		for i := range p.f64 { p.f64[i][to] = p.f64[i][from] }
		for i := range p.i64 { p.i64[i][to] = p.i64[i][from] }
	})

	p.maxActiveIndex = p.numActive - 1

	// Every free index is now at or above numActive, so rebuilding the list
	// in one ascending sweep gives the same order the original push-front/
	// push-back bookkeeping would have to be sorted into.
	p.free.clear()
	for n := p.numActive; n < p.nmax; n++ { p.free.pushBack(n) }
}

// loadSlot serializes slot i into buf starting at off: Float64 columns in
// registration order, then Int64 columns widened to float64.
func (p *Pool) loadSlot(i int, buf []float64, off int) {
	for _, col := range p.f64 {
		buf[off] = col[i]
		off++
	}
	for _, col := range p.i64 {
		buf[off] = float64(col[i])
		off++
	}
}

// unloadSlot is the inverse of loadSlot: Int64 columns are truncated back
// from their float64 wire form.
func (p *Pool) unloadSlot(i int, buf []float64, off int) {
	for _, col := range p.f64 {
		col[i] = buf[off]
		off++
	}
	for _, col := range p.i64 {
		col[i] = int64(buf[off])
		off++
	}
}
