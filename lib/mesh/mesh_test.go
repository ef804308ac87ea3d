package mesh

import (
	"testing"

	"github.com/blocksim/krill/lib/eq"
)

func TestNewDomain(t *testing.T) {
	periodic := [3]bool{ true, true, true }

	_, err := NewDomain(0, [3]float64{ }, [3]float64{ 1, 1, 1 }, periodic)
	if err == nil {
		t.Errorf("Expected ndim = 0 to be rejected, but it wasn't.")
	}
	_, err = NewDomain(4, [3]float64{ }, [3]float64{ 1, 1, 1 }, periodic)
	if err == nil {
		t.Errorf("Expected ndim = 4 to be rejected, but it wasn't.")
	}

	_, err = NewDomain(2, [3]float64{ }, [3]float64{ 1, 0, 0 }, periodic)
	if err == nil {
		t.Errorf("Expected an empty y axis to be rejected, but it wasn't.")
	}

	// Non-periodic boundaries are rejected at setup time, not at
	// transport time.
	_, err = NewDomain(2, [3]float64{ }, [3]float64{ 1, 1, 0 },
		[3]bool{ true, false, true })
	if err == nil {
		t.Errorf("Expected a non-periodic active axis to be rejected, but it wasn't.")
	}

	// An inactive non-periodic axis is fine.
	dom, err := NewDomain(1, [3]float64{ }, [3]float64{ 10, 0, 0 },
		[3]bool{ true, false, false })
	if err != nil {
		t.Errorf("Expected a periodic 1D domain to be accepted, got: %v", err)
		return
	}
	if dom.Extent(0) != 10 {
		t.Errorf("Expected Extent(0) = 10, got %g.", dom.Extent(0))
	}
}

func TestDomainWrap(t *testing.T) {
	dom, err := NewDomain(1, [3]float64{ }, [3]float64{ 10, 0, 0 },
		[3]bool{ true, false, false })
	if err != nil {
		t.Fatalf("Could not create domain: %v", err)
	}

	// Overshoots are chosen so the extent correction is exact in float64.
	in := []float64{ 9.75, 10.5, -0.25, 0, 10, 5 }
	out := []float64{ 9.75, 0.5, 9.75, 0, 10, 5 }
	got := make([]float64, len(in))
	for i := range in {
		got[i] = dom.Wrap([3]float64{ in[i], 0, 0 })[0]
	}
	if !eq.Float64s(got, out) {
		t.Errorf("Expected Wrap to map %v to %v, got %v.", in, out, got)
	}
}

func TestMaxNeighbors(t *testing.T) {
	got := []int{ MaxNeighbors(1), MaxNeighbors(2), MaxNeighbors(3) }
	if !eq.Ints(got, []int{ 2, 8, 26 }) {
		t.Errorf("Expected [2 8 26] neighbors for 1D/2D/3D, got %v.", got)
	}
}

func TestAddNeighbor(t *testing.T) {
	dom, err := NewDomain(1, [3]float64{ }, [3]float64{ 10, 0, 0 },
		[3]bool{ true, false, false })
	if err != nil {
		t.Fatalf("Could not create domain: %v", err)
	}
	b := NewBlock(0, 0, 0, [3]float64{ }, [3]float64{ 5, 0, 0 }, dom)

	bad := []NeighborBlock{
		{ GID: 1, BufID: 1, Offset: [3]int{ 1, 0, 0 } },  // out-of-order slot
		{ GID: 1, BufID: 0, Offset: [3]int{ 2, 0, 0 } },  // offset out of range
		{ GID: 1, BufID: 0, Offset: [3]int{ 0, 1, 0 } },  // inactive axis
		{ GID: 1, BufID: 0, Offset: [3]int{ 0, 0, 0 } },  // zero offset
	}
	for i := range bad {
		if err := b.AddNeighbor(bad[i]); err == nil {
			t.Errorf("Expected neighbor %d to be rejected, but it wasn't.", i)
		}
	}

	good := []NeighborBlock{
		{ GID: 1, BufID: 0, TargetID: 1, Offset: [3]int{ -1, 0, 0 } },
		{ GID: 1, BufID: 1, TargetID: 0, Offset: [3]int{ 1, 0, 0 } },
	}
	for i := range good {
		if err := b.AddNeighbor(good[i]); err != nil {
			t.Errorf("Expected neighbor %d to be accepted, got: %v", i, err)
		}
	}

	// A 1D block has at most two neighbors.
	err = b.AddNeighbor(NeighborBlock{ GID: 2, BufID: 2, Offset: [3]int{ 1, 0, 0 } })
	if err == nil {
		t.Errorf("Expected a third 1D neighbor to be rejected, but it wasn't.")
	}
}
