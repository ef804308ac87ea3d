package comm

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/blocksim/krill/lib/eq"
)

func TestTag(t *testing.T) {
	seen := map[int][3]int{ }
	for lid := 0; lid < 4; lid++ {
		for bufid := 0; bufid < 8; bufid++ {
			for id := 0; id < 4; id++ {
				tag := Tag(lid, bufid, id)
				if prev, ok := seen[tag]; ok {
					t.Errorf("Tag collision: (%d, %d, %d) and %v both map to %d.", lid, bufid, id, prev, tag)
				}
				seen[tag] = [3]int{ lid, bufid, id }
			}
		}
	}
}

func testSendRecv(t *testing.T, opts ...Option) {
	procs := NewWorld(2, opts...)
	payload := []float64{ 1.5, -2.25, 3, 0, 5e10 }
	tag := Tag(0, 1, 0)

	wg := &sync.WaitGroup{ }
	wg.Add(1)
	go func() {
		defer wg.Done()
		procs[1].Isend(0, tag, payload)
		procs[1].Barrier()
	}()

	procs[0].Barrier()
	n, ok := procs[0].Iprobe(tag)
	if !ok {
		t.Errorf("Expected Iprobe to find the message after the barrier, but it didn't.")
		wg.Wait()
		return
	}
	if n != len(payload) {
		t.Errorf("Expected Iprobe to report %d values, got %d.", len(payload), n)
	}

	buf := make([]float64, n)
	procs[0].Recv(buf, tag)
	if !eq.Float64s(buf, payload) {
		t.Errorf("Expected to receive %v, got %v.", payload, buf)
	}

	if _, ok := procs[0].Iprobe(tag); ok {
		t.Errorf("Expected the mailbox to be empty after Recv, but Iprobe found a message.")
	}
	wg.Wait()

	if !procs[1].SendDone(0, tag) {
		t.Errorf("Expected SendDone to report true after the message was received.")
	}
}

func TestSendRecv(t *testing.T) { testSendRecv(t) }

func TestSendRecvCompressed(t *testing.T) { testSendRecv(t, WithCompression(1)) }

func TestEmptyMessage(t *testing.T) {
	procs := NewWorld(1)
	tag := Tag(0, 0, 0)

	// Blocks with nothing to send still post sends, so empty messages
	// must round trip.
	procs[0].Isend(0, tag, []float64{ })
	n, ok := procs[0].Iprobe(tag)
	if !ok || n != 0 {
		t.Errorf("Expected to probe an empty message, got n = %d, ok = %v.", n, ok)
	}
	procs[0].Recv([]float64{ }, tag)
	if _, ok := procs[0].Iprobe(tag); ok {
		t.Errorf("Expected the empty message to be consumed by Recv, but it wasn't.")
	}
}

func TestDoubleSendPanics(t *testing.T) {
	procs := NewWorld(2)
	tag := Tag(0, 0, 0)
	procs[1].Isend(0, tag, []float64{ 1 })

	if procs[1].SendDone(0, tag) {
		t.Errorf("Expected SendDone to report false while the message is undelivered.")
	}

	defer func() {
		if recover() == nil {
			t.Errorf("Expected a second Isend on an undelivered tag to panic, but it didn't.")
		}
	}()
	procs[1].Isend(0, tag, []float64{ 2 })
}

func TestBarrier(t *testing.T) {
	ranks := 4
	procs := NewWorld(ranks)

	before := int32(0)
	after := int32(0)
	wg := &sync.WaitGroup{ }
	wg.Add(ranks)
	for r := 0; r < ranks; r++ {
		go func(r int) {
			defer wg.Done()
			// Two rounds to check the barrier is reusable.
			for round := 0; round < 2; round++ {
				atomic.AddInt32(&before, 1)
				procs[r].Barrier()
				if n := atomic.LoadInt32(&before); n < int32(ranks*(round+1)) {
					t.Errorf("Rank %d passed barrier round %d after only %d arrivals.", r, round, n)
				}
				procs[r].Barrier()
				atomic.AddInt32(&after, 1)
			}
		}(r)
	}
	wg.Wait()

	if before != int32(2*ranks) || after != int32(2*ranks) {
		t.Errorf("Expected all %d ranks to finish both rounds, got before = %d, after = %d.", ranks, before, after)
	}
}
