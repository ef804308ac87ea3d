package swarm

/* freelist.go contains the free slot list used by Pool. */

const freeNil = int32(-1)

// freeList is an intrusive linked list of unoccupied slot indices threaded
// through a fixed arena, giving O(1) pushes and pops with no per-node
// allocation or deallocation churn. Indices pushed to the front are the
// first to be reused.
type freeList struct {
	next       []int32
	head, tail int32
	n          int
}

// init sets the list up over an arena of nmax slots, with every slot free
// in ascending order.
func (fl *freeList) init(nmax int) {
	fl.next = make([]int32, nmax)
	fl.head, fl.tail = freeNil, freeNil
	for i := 0; i < nmax; i++ { fl.pushBack(i) }
}

// grow extends the arena to nmax slots without freeing any of them.
func (fl *freeList) grow(nmax int) {
	fl.next = append(fl.next, make([]int32, nmax-len(fl.next))...)
}

// clear empties the list without touching the arena.
func (fl *freeList) clear() {
	fl.head, fl.tail = freeNil, freeNil
	fl.n = 0
}

func (fl *freeList) len() int { return fl.n }

func (fl *freeList) pushFront(i int) {
	fl.next[i] = fl.head
	fl.head = int32(i)
	if fl.tail == freeNil { fl.tail = int32(i) }
	fl.n++
}

func (fl *freeList) pushBack(i int) {
	fl.next[i] = freeNil
	if fl.tail == freeNil {
		fl.head, fl.tail = int32(i), int32(i)
	} else {
		fl.next[fl.tail] = int32(i)
		fl.tail = int32(i)
	}
	fl.n++
}

// popFront removes and returns the first free index. The list must not be
// empty.
func (fl *freeList) popFront() int {
	i := fl.head
	if i == freeNil { panic("swarm: popFront called on an empty free list") }
	fl.head = fl.next[i]
	if fl.head == freeNil { fl.tail = freeNil }
	fl.n--
	return int(i)
}
