package swarm

import (
	"sort"
	"testing"

	"github.com/blocksim/krill/lib/eq"
	"github.com/blocksim/krill/lib/mesh"
)

func expectPanic(t *testing.T, name string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("Expected %s to panic, but it returned normally.", name)
		}
	}()
	f()
}

func TestAddEmptySlots(t *testing.T) {
	p := NewPool(8)

	idx, mask := p.AddEmptySlots(3)
	if !eq.Ints(idx, []int{ 0, 1, 2 }) {
		t.Errorf("Expected AddEmptySlots(3) to return indices [0 1 2], got %v.", idx)
	}
	maskOut := []bool{ true, true, true, false, false, false, false, false }
	if !eq.Bools(mask, maskOut) {
		t.Errorf("Expected new-slot mask %v, got %v.", maskOut, mask)
	}
	if p.NumActive() != 3 {
		t.Errorf("Expected NumActive() = 3, got %d.", p.NumActive())
	}
	if p.MaxActiveIndex() != 2 {
		t.Errorf("Expected MaxActiveIndex() = 2, got %d.", p.MaxActiveIndex())
	}
	for _, i := range idx {
		if p.Dest(i) != mesh.Local {
			t.Errorf("Expected slot %d to start with a Local destination, got %d.", i, p.Dest(i))
		}
	}

	idx, mask = p.AddEmptySlots(0)
	if idx != nil || mask != nil {
		t.Errorf("Expected AddEmptySlots(0) to return nil slices, got %v and %v.", idx, mask)
	}
	if p.NumActive() != 3 {
		t.Errorf("Expected AddEmptySlots(0) to leave NumActive() = 3, got %d.", p.NumActive())
	}
}

func TestAddEmptySlotsGrowth(t *testing.T) {
	p := NewPool(4)
	p.AddEmptySlots(4)
	if p.Cap() != 4 {
		t.Errorf("Expected a full pool to still have Cap() = 4, got %d.", p.Cap())
	}

	// The pool doubles its capacity until the free list can satisfy the
	// request.
	idx, mask := p.AddEmptySlots(1)
	if p.Cap() != 8 {
		t.Errorf("Expected the pool to double to Cap() = 8, got %d.", p.Cap())
	}
	if !eq.Ints(idx, []int{ 4 }) {
		t.Errorf("Expected the new slot to be index 4, got %v.", idx)
	}
	if len(mask) != 8 {
		t.Errorf("Expected the new-slot mask to cover the grown pool with length 8, got %d.", len(mask))
	}
	if p.NumActive() != 5 || p.MaxActiveIndex() != 4 {
		t.Errorf("Expected NumActive() = 5 and MaxActiveIndex() = 4, got %d and %d.", p.NumActive(), p.MaxActiveIndex())
	}

	p.AddEmptySlots(20)
	if p.Cap() != 32 {
		t.Errorf("Expected repeated doubling to Cap() = 32, got %d.", p.Cap())
	}
}

func TestSetCapacity(t *testing.T) {
	p := NewPool(4)
	p.AddEmptySlots(2)
	x := p.Float64Col("x")
	x[0], x[1] = 1.5, 2.5

	expectPanic(t, "SetCapacity(4)", func() { p.SetCapacity(4) })
	expectPanic(t, "SetCapacity(3)", func() { p.SetCapacity(3) })

	if p.Cap() != 4 || p.NumActive() != 2 {
		t.Errorf("Expected a failed SetCapacity to leave the pool unmodified, got Cap() = %d and NumActive() = %d.", p.Cap(), p.NumActive())
	}
	if !eq.Float64s(p.Float64Col("x")[:2], []float64{ 1.5, 2.5 }) {
		t.Errorf("Expected a failed SetCapacity to leave slot contents unmodified, got %v.", p.Float64Col("x")[:2])
	}

	p.SetCapacity(6)
	if p.Cap() != 6 {
		t.Errorf("Expected Cap() = 6 after growing, got %d.", p.Cap())
	}
	if !eq.Float64s(p.Float64Col("x"), []float64{ 1.5, 2.5, 0, 0, 0, 0 }) {
		t.Errorf("Expected growth to preserve slot contents and positions, got %v.", p.Float64Col("x"))
	}
	idx, _ := p.AddEmptySlots(4)
	if !eq.Ints(idx, []int{ 2, 3, 4, 5 }) {
		t.Errorf("Expected the new capacity to join the free list in order, got %v.", idx)
	}
}

func TestRemoveMarked(t *testing.T) {
	p := NewPool(8)
	p.AddEmptySlots(6)
	p.MarkForRemoval(1)
	p.MarkForRemoval(4)
	p.MarkForRemoval(5)
	p.RemoveMarked()

	if p.NumActive() != 3 {
		t.Errorf("Expected NumActive() = 3 after the sweep, got %d.", p.NumActive())
	}
	if p.MaxActiveIndex() != 3 {
		t.Errorf("Expected MaxActiveIndex() = 3 after the sweep, got %d.", p.MaxActiveIndex())
	}
	for n := 0; n < p.Cap(); n++ {
		if p.active[n] && p.marked[n] {
			t.Errorf("Expected no slot to be active and marked after the sweep, but slot %d is.", n)
		}
	}

	// The swept indices were pushed to the front of the free list in
	// ascending order, so they are the first to be reused.
	idx, _ := p.AddEmptySlots(3)
	if !eq.Ints(idx, []int{ 1, 4, 5 }) {
		t.Errorf("Expected the swept slots [1 4 5] to be reused first, got %v.", idx)
	}
}

func TestRemoveMarkedExactMax(t *testing.T) {
	p := NewPool(8)
	p.AddEmptySlots(5)

	// Free slot 3 first, then slot 4: the sweep has to walk past the hole
	// at 3 to land the max on 2.
	p.MarkForRemoval(3)
	p.RemoveMarked()
	if p.MaxActiveIndex() != 4 {
		t.Errorf("Expected MaxActiveIndex() = 4, got %d.", p.MaxActiveIndex())
	}

	p.MarkForRemoval(4)
	p.RemoveMarked()
	if p.MaxActiveIndex() != 2 {
		t.Errorf("Expected MaxActiveIndex() = 2, got %d.", p.MaxActiveIndex())
	}

	p.MarkForRemoval(0)
	p.MarkForRemoval(1)
	p.MarkForRemoval(2)
	p.RemoveMarked()
	if p.MaxActiveIndex() != -1 {
		t.Errorf("Expected MaxActiveIndex() = -1 on an empty pool, got %d.", p.MaxActiveIndex())
	}
	if p.NumActive() != 0 {
		t.Errorf("Expected NumActive() = 0 on an empty pool, got %d.", p.NumActive())
	}
}

func TestDefrag(t *testing.T) {
	p := NewPool(16)
	p.AddAttribute("m", Float64)
	p.AddAttribute("id", Int64)
	p.AddEmptySlots(8)

	x, m, id := p.Float64Col("x"), p.Float64Col("m"), p.Int64Col("id")
	for i := 0; i < 8; i++ {
		x[i] = 10 + float64(i)
		m[i] = 0.5 * float64(i)
		id[i] = int64(i)
	}

	p.MarkForRemoval(0)
	p.MarkForRemoval(2)
	p.MarkForRemoval(5)
	p.MarkForRemoval(7)
	p.RemoveMarked()
	p.Defrag()

	if p.NumActive() != 4 {
		t.Errorf("Expected NumActive() = 4 after Defrag, got %d.", p.NumActive())
	}
	if p.MaxActiveIndex() != 3 {
		t.Errorf("Expected MaxActiveIndex() = NumActive - 1 = 3 after Defrag, got %d.", p.MaxActiveIndex())
	}
	for n := 0; n < 4; n++ {
		if !p.Active(n) {
			t.Errorf("Expected slots [0, 4) to all be active after Defrag, but slot %d is not.", n)
		}
	}

	// Defrag preserves the multiset of attribute tuples, not slot identity.
	x, m, id = p.Float64Col("x"), p.Float64Col("m"), p.Int64Col("id")
	got := []int64{ id[0], id[1], id[2], id[3] }
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if !eq.Int64s(got, []int64{ 1, 3, 4, 6 }) {
		t.Errorf("Expected the surviving ids [1 3 4 6] after Defrag, got %v.", got)
	}
	for n := 0; n < 4; n++ {
		i := id[n]
		if x[n] != 10+float64(i) || m[n] != 0.5*float64(i) {
			t.Errorf("Expected slot %d (id %d) to keep its tuple (%g, %g), got (%g, %g).", n, i, 10+float64(i), 0.5*float64(i), x[n], m[n])
		}
	}

	// The free list is ascending after compaction.
	idx, _ := p.AddEmptySlots(2)
	if !eq.Ints(idx, []int{ 4, 5 }) {
		t.Errorf("Expected the lowest free slots [4 5] to be reused after Defrag, got %v.", idx)
	}
}

func TestDefragEmptyAndPacked(t *testing.T) {
	p := NewPool(4)
	p.Defrag()
	if p.MaxActiveIndex() != -1 || p.NumActive() != 0 {
		t.Errorf("Expected Defrag on an empty pool to be a no-op, got MaxActiveIndex() = %d and NumActive() = %d.", p.MaxActiveIndex(), p.NumActive())
	}

	p.AddEmptySlots(3)
	x := p.Float64Col("x")
	x[0], x[1], x[2] = 1, 2, 3
	p.Defrag()
	if p.MaxActiveIndex() != 2 {
		t.Errorf("Expected Defrag on a packed pool to keep MaxActiveIndex() = 2, got %d.", p.MaxActiveIndex())
	}
	if !eq.Float64s(p.Float64Col("x")[:3], []float64{ 1, 2, 3 }) {
		t.Errorf("Expected Defrag on a packed pool to leave values in place, got %v.", p.Float64Col("x")[:3])
	}
}

func TestAttributeRegistration(t *testing.T) {
	p := NewPool(4)

	expectPanic(t, "registering a duplicate name", func() { p.AddAttribute("x", Float64) })

	p.AddAttribute("id", Int64)
	expectPanic(t, "registering a name already used by the other type", func() { p.AddAttribute("id", Float64) })
	expectPanic(t, "registering an unsupported type", func() { p.AddAttribute("bad", AttrType(7)) })
	expectPanic(t, "removing an unregistered attribute", func() { p.RemoveAttribute("nope") })
	expectPanic(t, "reading a column with the wrong type", func() { p.Int64Col("x") })
}

func TestRemoveAttribute(t *testing.T) {
	p := NewPool(4)
	p.AddAttribute("a", Float64)
	p.AddAttribute("b", Float64)
	p.AddEmptySlots(1)
	p.Float64Col("a")[0] = 4
	p.Float64Col("b")[0] = 8

	if p.PayloadWidth() != 5 {
		t.Errorf("Expected PayloadWidth() = 5, got %d.", p.PayloadWidth())
	}

	// "y" sits in the middle of the Float64 column list, so removal swaps
	// the last column into its place.
	p.RemoveAttribute("y")
	if p.PayloadWidth() != 4 {
		t.Errorf("Expected PayloadWidth() = 4 after removal, got %d.", p.PayloadWidth())
	}
	if p.Float64Col("a")[0] != 4 || p.Float64Col("b")[0] != 8 {
		t.Errorf("Expected the swapped columns to keep their values, got a = %g and b = %g.", p.Float64Col("a")[0], p.Float64Col("b")[0])
	}
	expectPanic(t, "reading a removed attribute", func() { p.Float64Col("y") })
}

func TestLoadUnloadSlot(t *testing.T) {
	p := NewPool(4)
	p.AddAttribute("q", Int64)
	p.AddEmptySlots(2)

	x, y, z := p.Float64Col("x"), p.Float64Col("y"), p.Float64Col("z")
	q := p.Int64Col("q")
	x[0], y[0], z[0], q[0] = 1.25, -2.5, 3.75, 42

	buf := make([]float64, p.PayloadWidth())
	p.loadSlot(0, buf, 0)
	if !eq.Float64s(buf, []float64{ 1.25, -2.5, 3.75, 42 }) {
		t.Errorf("Expected the payload [1.25 -2.5 3.75 42], floats first, then widened ints, got %v.", buf)
	}

	p.unloadSlot(1, buf, 0)
	if x[1] != 1.25 || y[1] != -2.5 || z[1] != 3.75 || q[1] != 42 {
		t.Errorf("Expected a load/unload round trip to preserve values, got (%g, %g, %g, %d).", x[1], y[1], z[1], q[1])
	}

	// Int columns are truncated back from their wire form.
	buf[3] = 7.9
	p.unloadSlot(1, buf, 0)
	if q[1] != 7 {
		t.Errorf("Expected the int attribute to truncate to 7, got %d.", q[1])
	}
}
