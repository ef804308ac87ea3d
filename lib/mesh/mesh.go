/*package mesh describes the block decomposition that krill swarms live on:
the global domain, per-block bounds, and the neighbor adjacency that swarm
transport routes particles through. Mesh refinement and load balancing are
handled by whatever code builds the Block objects; this package only
validates and stores the result.*/
package mesh

import (
	"fmt"
)

// Local is the destination sentinel for a particle that stays on its
// current block. Every non-negative destination is a channel slot index
// into the block's neighbor list.
const Local = -1

// Domain is the global simulation domain. Swarm transport requires every
// active axis to be periodic, which NewDomain enforces.
type Domain struct {
	NDim     int
	Min, Max [3]float64
	Periodic [3]bool
}

// NewDomain creates a Domain with the given bounds. Axes at or beyond ndim
// are ignored. An error is returned if ndim is not 1, 2, or 3, if any active
// axis is empty, or if any active axis is not periodic: non-periodic
// boundaries are rejected here, at setup time, rather than mid-transport.
func NewDomain(ndim int, min, max [3]float64, periodic [3]bool) (*Domain, error) {
	if ndim < 1 || ndim > 3 {
		return nil, fmt.Errorf("The domain dimension must be 1, 2, or 3, but ndim = %d.", ndim)
	}
	for d := 0; d < ndim; d++ {
		if max[d] <= min[d] {
			return nil, fmt.Errorf("Axis %d of the domain has min = %g and max = %g, which is empty.", d, min[d], max[d])
		}
		if !periodic[d] {
			return nil, fmt.Errorf("Axis %d of the domain is not periodic. Swarm transport only supports fully periodic domains.", d)
		}
	}
	return &Domain{ NDim: ndim, Min: min, Max: max, Periodic: periodic }, nil
}

// Extent returns the width of the domain along axis d.
func (dom *Domain) Extent(d int) float64 { return dom.Max[d] - dom.Min[d] }

// Wrap maps a position back into the domain, assuming it has drifted at most
// one extent beyond either edge. Positions already inside the domain are
// returned unchanged.
func (dom *Domain) Wrap(x [3]float64) [3]float64 {
	for d := 0; d < dom.NDim; d++ {
		if x[d] < dom.Min[d] {
			x[d] = dom.Max[d] - (dom.Min[d] - x[d])
		} else if x[d] > dom.Max[d] {
			x[d] = dom.Min[d] + (x[d] - dom.Max[d])
		}
	}
	return x
}

// NeighborBlock describes one neighbor relation of a block. A block can
// appear as its own neighbor (or as the same neighbor through two different
// offsets) on meshes with one or two blocks along a periodic axis, so the
// channel slots BufID and TargetID, not the block ids, identify a relation.
type NeighborBlock struct {
	// GID and LID are the neighbor's global id and its local id on Rank.
	GID, LID int
	// Rank is the rank that owns the neighbor.
	Rank int
	// BufID is this block's channel slot for the neighbor. TargetID is the
	// reciprocal channel slot on the neighbor's side.
	BufID, TargetID int
	// Offset is the neighbor's position relative to this block, -1, 0, or
	// +1 along each active axis. At least one active entry is nonzero.
	Offset [3]int
}

// Block is one spatial subdomain. Min and Max are the block's interior
// bounds; particles between them belong to the block.
type Block struct {
	// GID is the block's global id, LID its local id on Rank.
	GID, LID int
	Rank     int
	Min, Max [3]float64
	Domain   *Domain

	Neighbors []NeighborBlock
}

// NewBlock creates a block covering [min, max) on dom. Neighbors are added
// afterwards with AddNeighbor.
func NewBlock(gid, lid, rank int, min, max [3]float64, dom *Domain) *Block {
	return &Block{ GID: gid, LID: lid, Rank: rank, Min: min, Max: max, Domain: dom }
}

// MaxNeighbors returns the largest number of neighbor relations a block in
// an ndim-dimensional mesh can have, 3^ndim - 1.
func MaxNeighbors(ndim int) int {
	n := 1
	for d := 0; d < ndim; d++ { n *= 3 }
	return n - 1
}

// AddNeighbor appends a neighbor relation to the block. The relation's BufID
// must equal its position in the neighbor list, offsets must be -1, 0, or +1
// on active axes and 0 on inactive ones, and the total count may not exceed
// MaxNeighbors.
func (b *Block) AddNeighbor(nb NeighborBlock) error {
	if nb.BufID != len(b.Neighbors) {
		return fmt.Errorf("Neighbor %d of block %d has BufID = %d, but channel slots must be assigned in order.", len(b.Neighbors), b.GID, nb.BufID)
	}
	if len(b.Neighbors) >= MaxNeighbors(b.Domain.NDim) {
		return fmt.Errorf("Block %d already has %d neighbors, the maximum for a %d-dimensional mesh.", b.GID, len(b.Neighbors), b.Domain.NDim)
	}

	allZero := true
	for d := 0; d < 3; d++ {
		off := nb.Offset[d]
		if off < -1 || off > 1 {
			return fmt.Errorf("Neighbor %d of block %d has offset %d along axis %d, but offsets must be -1, 0, or +1.", nb.BufID, b.GID, off, d)
		}
		if d >= b.Domain.NDim && off != 0 {
			return fmt.Errorf("Neighbor %d of block %d has a nonzero offset along inactive axis %d.", nb.BufID, b.GID, d)
		}
		if off != 0 { allZero = false }
	}
	if allZero {
		return fmt.Errorf("Neighbor %d of block %d has a zero offset, which would make the block its own interior neighbor.", nb.BufID, b.GID)
	}

	b.Neighbors = append(b.Neighbors, nb)
	return nil
}
