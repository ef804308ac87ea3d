package swarm

/* bvals.go contains the boundary channels a swarm exchanges particle
payloads through: one duplex buffer pair and completion flag per neighbor
relation, plus the send/receive transport primitive. Co-located neighbors
get a synchronous direct copy; remote neighbors go through the
communicator. */

import (
	"fmt"

	"github.com/blocksim/krill/lib/comm"
	"github.com/blocksim/krill/lib/mesh"
)

// Status is the completion state of one boundary channel within an exchange
// cycle. Channels move Waiting -> Arrived -> Completed once per cycle and
// reset to Waiting when the next cycle begins.
type Status int

const (
	Waiting Status = iota
	Arrived
	Completed
)

func (s Status) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Arrived:
		return "arrived"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Channel is the send/receive buffer pair and completion flag associated
// with one neighbor relation. Buffers are resized only upward, never
// shrunk, and are fully overwritten on each reuse; SendSize and RecvSize
// give the populated lengths.
type Channel struct {
	nb mesh.NeighborBlock

	Send, Recv         []float64
	SendSize, RecvSize int
	Status             Status

	sendTag, recvTag int
	sendPending      bool
}

// BoundarySwarm owns a block's channels, one per neighbor relation, and the
// transport primitive that moves payloads across them.
type BoundarySwarm struct {
	block    *mesh.Block
	reg      *Registry
	cm       comm.Communicator
	swarmID  int
	channels []*Channel
}

func newBoundarySwarm(block *mesh.Block, reg *Registry, cm comm.Communicator, swarmID int) *BoundarySwarm {
	bs := &BoundarySwarm{ block: block, reg: reg, cm: cm, swarmID: swarmID }
	for _, nb := range block.Neighbors {
		bs.channels = append(bs.channels, &Channel{
			nb:      nb,
			sendTag: comm.Tag(nb.LID, nb.TargetID, swarmID),
			recvTag: comm.Tag(block.LID, nb.BufID, swarmID),
		})
	}
	return bs
}

// ResetStatuses returns every channel to Waiting. A rank hosting several
// blocks must reset all of them before any of them sends, or a local copy
// could be wiped by its receiver's reset; Exchange handles that ordering.
func (bs *BoundarySwarm) ResetStatuses() {
	for _, ch := range bs.channels {
		ch.Status = Waiting
	}
}

// Send dispatches every channel's populated send buffer.
//
// For a co-located neighbor the buffer is copied directly into the target
// channel's receive buffer (growing it if undersized) and the target flag
// is set: Arrived for a non-empty payload, Completed for an empty one.
//
// For a remote neighbor a non-blocking send is posted, empty or not: the
// receiver's probe loop needs the message to complete its cycle. Posting a
// send while the channel's previous send is still undelivered is a fatal
// usage error; sends are never queued or retried.
func (bs *BoundarySwarm) Send() {
	for _, ch := range bs.channels {
		nb := ch.nb
		if nb.Rank != bs.cm.Rank() {
			if ch.sendPending && !bs.cm.SendDone(nb.Rank, ch.sendTag) {
				panic(fmt.Sprintf("swarm: a new send to block %d was posted before the channel's previous send completed", nb.GID))
			}
			bs.cm.Isend(nb.Rank, ch.sendTag, ch.Send[:ch.SendSize])
			ch.sendPending = true
			continue
		}

		target, ok := bs.reg.Find(nb.GID)
		if !ok {
			panic(fmt.Sprintf("swarm: block %d is co-located with block %d but is not in the registry", nb.GID, bs.block.GID))
		}
		tch := target.bd.channels[nb.TargetID]
		if ch.SendSize > 0 {
			if len(tch.Recv) < ch.SendSize {
				tch.Recv = make([]float64, ch.SendSize)
			}
			copy(tch.Recv[:ch.SendSize], ch.Send[:ch.SendSize])
			tch.RecvSize = ch.SendSize
			tch.Status = Arrived
		} else {
			tch.RecvSize = 0
			tch.Status = Completed
		}
	}
}

// Receive runs the probe phase for remote channels. Local payloads are
// already in place by the time the sender's Send returns, so there is
// nothing to do for them. The phase is bracketed by global barriers, which
// bounds message arrival for the cycle; in multi-rank worlds Receive is
// therefore collective and every rank must call it the same number of times
// per cycle.
func (bs *BoundarySwarm) Receive() {
	if bs.cm.Size() == 1 { return }

	bs.cm.Barrier()
	for _, ch := range bs.channels {
		if ch.nb.Rank == bs.cm.Rank() { continue }
		if ch.Status == Completed || ch.Status == Arrived { continue }

		n, ok := bs.cm.Iprobe(ch.recvTag)
		if !ok {
			ch.Status = Waiting
			continue
		}
		if len(ch.Recv) < n {
			ch.Recv = make([]float64, n)
		}
		bs.cm.Recv(ch.Recv[:n], ch.recvTag)
		ch.RecvSize = n
		ch.Status = Arrived
	}
	bs.cm.Barrier()
}

// Channels exposes the block's channels in neighbor order. Tests and
// diagnostics read statuses through this; transport code owns the rest.
func (bs *BoundarySwarm) Channels() []*Channel { return bs.channels }

// NeighborBlock returns the neighbor relation a channel serves.
func (ch *Channel) NeighborBlock() mesh.NeighborBlock { return ch.nb }
