package main

import (
	"flag"
	"fmt"
	"math/rand"
	"sync"

	"github.com/blocksim/krill/lib"
	"github.com/blocksim/krill/lib/comm"
	"github.com/blocksim/krill/lib/mesh"
	"github.com/blocksim/krill/lib/swarm"

	"gonum.org/v1/gonum/stat"
)

/* krill.go is a demo driver for the krill library: it decomposes a periodic
domain into blocks spread across an in-process communicator world, seeds
particles on every block, random-walks them with one exchange cycle per
step, and reports displacement statistics at the end. */

const defragInterval = 10

func main() {
	configFile := flag.String("config", "", "Name of the krill config file.")
	steps := flag.Int("steps", -1, "Overrides Steps in the config file's [run] section.")
	flag.Parse()

	if *configFile == "" {
		lib.ExternalErrorf("No config file given. Run krill as:\n$ krill -config <file> [-steps <n>]")
	}

	cfg, err := lib.ParseConfigFile(*configFile)
	if err != nil { lib.ExternalErrorf("%v", err) }
	if *steps >= 0 { cfg.Run.Steps = *steps }

	lib.SetThreads(cfg.Run.Threads)
	run(cfg)
}

func run(cfg *lib.Config) {
	dom, err := mesh.NewDomain(cfg.Domain.NDim,
		[3]float64{ cfg.Domain.XMin, cfg.Domain.YMin, cfg.Domain.ZMin },
		[3]float64{ cfg.Domain.XMax, cfg.Domain.YMax, cfg.Domain.ZMax },
		[3]bool{ true, true, true },
	)
	if err != nil { lib.ExternalErrorf("%v", err) }

	blocks, err := uniformMesh(dom, cfg)
	if err != nil { lib.ExternalErrorf("%v", err) }

	opts := []comm.Option{ }
	if cfg.Run.Compress {
		opts = append(opts, comm.WithCompression(1))
	}
	procs := comm.NewWorld(cfg.Run.Ranks, opts...)

	nTotal := len(blocks) * cfg.Particles.PerBlock
	fmt.Printf("krill: %d blocks / %d ranks / %d particles / %d steps\n",
		len(blocks), cfg.Run.Ranks, nTotal, cfg.Run.Steps)

	// One goroutine per rank stands in for one process. Results are
	// gathered through shared memory, which breaks the process fiction but
	// keeps the demo self-contained.
	results := make([][3][]float64, cfg.Run.Ranks)
	counts := make([]int, cfg.Run.Ranks)
	wg := &sync.WaitGroup{ }
	wg.Add(cfg.Run.Ranks)
	for r := 0; r < cfg.Run.Ranks; r++ {
		go func(r int) {
			defer wg.Done()
			results[r], counts[r] = rankMain(procs[r], rankBlocks(blocks, r), cfg)
		}(r)
	}
	wg.Wait()

	nEnd := 0
	all := [3][]float64{ }
	for r := range results {
		nEnd += counts[r]
		for d := 0; d < 3; d++ {
			all[d] = append(all[d], results[r][d]...)
		}
	}

	if nEnd != nTotal {
		lib.InternalErrorf("Started with %d particles but ended with %d: transport lost or duplicated particles.", nTotal, nEnd)
	}

	axes := []string{ "x", "y", "z" }
	for d := 0; d < cfg.Domain.NDim; d++ {
		mean := stat.Mean(all[d], nil)
		sigma := stat.StdDev(all[d], nil)
		fmt.Printf("krill: %s: mean = %.4f, std dev = %.4f\n", axes[d], mean, sigma)
	}
	fmt.Printf("krill: %d particles conserved across %d steps\n", nEnd, cfg.Run.Steps)
}

// rankBlocks returns the blocks assigned to one rank, in gid order.
func rankBlocks(blocks []*mesh.Block, rank int) []*mesh.Block {
	out := []*mesh.Block{ }
	for _, b := range blocks {
		if b.Rank == rank { out = append(out, b) }
	}
	return out
}

// rankMain seeds, steps, and drains the swarms of one rank's blocks. It
// returns the final per-axis positions of every particle the rank ended up
// with, along with their count.
func rankMain(p *comm.Proc, blocks []*mesh.Block, cfg *lib.Config) ([3][]float64, int) {
	reg := swarm.NewRegistry()
	swarms := make([]*swarm.Swarm, len(blocks))
	rngs := make([]*rand.Rand, len(blocks))

	for i, b := range blocks {
		s, err := swarm.NewSwarm(b, reg, p, 0, cfg.Run.PoolSize)
		if err != nil { lib.ExternalErrorf("%v", err) }
		s.Pool.AddAttribute("id", swarm.Int64)
		swarms[i] = s
		rngs[i] = rand.New(rand.NewSource(cfg.Particles.Seed + int64(b.GID)))

		seed(s, rngs[i], cfg)
	}

	for step := 0; step < cfg.Run.Steps; step++ {
		for i, s := range swarms {
			drift(s, rngs[i], cfg)
			s.SetDestFromPos()
		}
		if !swarm.Exchange(swarms, 10) {
			lib.ExternalErrorf("The exchange cycle at step %d stalled: not every channel completed.", step)
		}
		if (step+1)%defragInterval == 0 {
			for _, s := range swarms { s.Defrag() }
		}
	}

	out := [3][]float64{ }
	n := 0
	for _, s := range swarms {
		pl := s.Pool
		x, y, z := pl.Float64Col("x"), pl.Float64Col("y"), pl.Float64Col("z")
		for i := 0; i <= pl.MaxActiveIndex(); i++ {
			if !pl.Active(i) { continue }
			out[0] = append(out[0], x[i])
			out[1] = append(out[1], y[i])
			out[2] = append(out[2], z[i])
			n++
		}
	}
	return out, n
}

// seed activates PerBlock particles uniformly distributed over the block's
// interior, tagging each with a globally unique id.
func seed(s *swarm.Swarm, rng *rand.Rand, cfg *lib.Config) {
	b := s.Block()
	idx, _ := s.Pool.AddEmptySlots(cfg.Particles.PerBlock)
	x := s.Pool.Float64Col("x")
	y := s.Pool.Float64Col("y")
	z := s.Pool.Float64Col("z")
	id := s.Pool.Int64Col("id")

	pos := [3][]float64{ x, y, z }
	for n, i := range idx {
		for d := 0; d < cfg.Domain.NDim; d++ {
			pos[d][i] = b.Min[d] + rng.Float64()*(b.Max[d]-b.Min[d])
		}
		id[i] = int64(b.GID*cfg.Particles.PerBlock + n)
	}
}

// drift moves every active particle by a uniform random displacement of up
// to Step along each active axis. Displacements stay well under a block
// width, so a particle never outruns its block's immediate neighbors in
// one step.
func drift(s *swarm.Swarm, rng *rand.Rand, cfg *lib.Config) {
	pl := s.Pool
	pos := [3][]float64{
		pl.Float64Col("x"), pl.Float64Col("y"), pl.Float64Col("z"),
	}
	for i := 0; i <= pl.MaxActiveIndex(); i++ {
		if !pl.Active(i) { continue }
		for d := 0; d < cfg.Domain.NDim; d++ {
			pos[d][i] += cfg.Particles.Step * (2*rng.Float64() - 1)
		}
	}
}

// uniformMesh splits the domain into NX*NY*NZ equal blocks with periodic
// neighbor wiring, assigning blocks to ranks round-robin. Channel slots are
// allocated in a fixed offset-enumeration order on every block, so the
// reciprocal slot for offset o is the slot of -o on the neighbor.
func uniformMesh(dom *mesh.Domain, cfg *lib.Config) ([]*mesh.Block, error) {
	n := [3]int{ cfg.Mesh.NX, cfg.Mesh.NY, cfg.Mesh.NZ }
	for d := dom.NDim; d < 3; d++ { n[d] = 1 }
	ranks := cfg.Run.Ranks

	offsets, slotOf := offsetOrder(dom.NDim)

	gid := func(i, j, k int) int {
		return i + n[0]*(j+n[1]*k)
	}
	wrap := func(i, d int) int {
		return ((i % n[d]) + n[d]) % n[d]
	}

	blocks := []*mesh.Block{ }
	for k := 0; k < n[2]; k++ {
		for j := 0; j < n[1]; j++ {
			for i := 0; i < n[0]; i++ {
				g := gid(i, j, k)
				min, max := [3]float64{ }, [3]float64{ }
				c := [3]int{ i, j, k }
				for d := 0; d < 3; d++ {
					w := dom.Extent(d) / float64(n[d])
					min[d] = dom.Min[d] + w*float64(c[d])
					max[d] = min[d] + w
				}
				b := mesh.NewBlock(g, g/ranks, g%ranks, min, max, dom)

				for slot, off := range offsets {
					ni := wrap(i+off[0], 0)
					nj := wrap(j+off[1], 1)
					nk := wrap(k+off[2], 2)
					ng := gid(ni, nj, nk)
					err := b.AddNeighbor(mesh.NeighborBlock{
						GID: ng, LID: ng / ranks, Rank: ng % ranks,
						BufID:    slot,
						TargetID: slotOf[negate(off)],
						Offset:   off,
					})
					if err != nil { return nil, err }
				}
				blocks = append(blocks, b)
			}
		}
	}
	return blocks, nil
}

// offsetOrder enumerates the nonzero neighbor offsets of an ndim mesh in a
// fixed order and returns the slot index of each offset.
func offsetOrder(ndim int) ([][3]int, map[[3]int]int) {
	lim := func(d int) int {
		if d < ndim { return 1 }
		return 0
	}

	offsets := [][3]int{ }
	slotOf := map[[3]int]int{ }
	for oz := -lim(2); oz <= lim(2); oz++ {
		for oy := -lim(1); oy <= lim(1); oy++ {
			for ox := -lim(0); ox <= lim(0); ox++ {
				if ox == 0 && oy == 0 && oz == 0 { continue }
				off := [3]int{ ox, oy, oz }
				slotOf[off] = len(offsets)
				offsets = append(offsets, off)
			}
		}
	}
	return offsets, slotOf
}

func negate(off [3]int) [3]int {
	return [3]int{ -off[0], -off[1], -off[2] }
}
