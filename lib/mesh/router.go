package mesh

/* router.go builds the precomputed table that maps a particle's position,
quantized into four buckets per active axis, to the channel slot of the
neighbor that should own it. The table is rebuilt whenever the neighbor
topology changes and lookups are O(1). */

import (
	"fmt"
)

// Router maps the quantized position of a particle to Local or to the
// channel slot of the neighbor block that should receive it.
//
// Each active axis is split into four buckets: beyond the lower neighbor,
// the lower interior half, the upper interior half, and beyond the upper
// neighbor. Inactive axes collapse to bucket 0.
type Router struct {
	ndim  int
	cells [4][4][4]int
}

// BuildRouter constructs the routing table for a block from its current
// neighbor list. Cells claimed by no neighbor resolve to Local.
func BuildRouter(b *Block) (*Router, error) {
	ndim := b.Domain.NDim
	if ndim < 1 || ndim > 3 {
		return nil, fmt.Errorf("ndim must be 1, 2, or 3 for swarm routing, but block %d has ndim = %d.", b.GID, ndim)
	}

	r := &Router{ ndim: ndim }
	for k := 0; k < 4; k++ {
		for j := 0; j < 4; j++ {
			for i := 0; i < 4; i++ {
				r.cells[k][j][i] = Local
			}
		}
	}

	for _, nb := range b.Neighbors {
		is := axisCells(nb.Offset[0], ndim >= 1)
		js := axisCells(nb.Offset[1], ndim >= 2)
		ks := axisCells(nb.Offset[2], ndim >= 3)
		for _, k := range ks {
			for _, j := range js {
				for _, i := range is {
					r.cells[k][j][i] = nb.BufID
				}
			}
		}
	}

	return r, nil
}

// axisCells returns the bucket indices along one axis claimed by a neighbor
// with the given offset. Inactive axes are claimed in full.
func axisCells(off int, active bool) []int {
	if !active { return []int{ 0, 1, 2, 3 } }
	switch off {
	case -1:
		return []int{ 0 }
	case 0:
		return []int{ 1, 2 }
	case 1:
		return []int{ 3 }
	}
	panic("'Impossible' neighbor offset.")
}

// DestIndex quantizes a position against the block's bounds and looks up
// the destination: Local if the particle stays on b, and the channel slot
// of the receiving neighbor otherwise. A particle exactly at the upper
// bound belongs to the upper neighbor, matching [min, max) block intervals.
func (r *Router) DestIndex(b *Block, x, y, z float64) int {
	i := bucket(x, b.Min[0], b.Max[0], r.ndim >= 1)
	j := bucket(y, b.Min[1], b.Max[1], r.ndim >= 2)
	k := bucket(z, b.Min[2], b.Max[2], r.ndim >= 3)
	return r.cells[k][j][i]
}

func bucket(x, min, max float64, active bool) int {
	if !active { return 0 }
	if x < min { return 0 }
	if x >= max { return 3 }
	if 2*(x-min) < max-min { return 1 }
	return 2
}
