package peerwantlists

import (
	"container/heap"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// task is one pending response owed to a peer: either a HAVE presence or
// the block itself, decided by PeerWantLists.ReceivedBlock.
type task struct {
	peer     peer.ID
	cid      cid.Cid
	priority int32
	index    int
}

// taskQueue orders pending per-peer responses by task priority, highest
// first; tasks of equal priority come out in no defined order (the heap
// does not track insertion order). This is a stdlib container/heap rewrite
// of the teacher's hand-rolled thirdparty/pq priority queue
// (exchange/bitswap/decision/peer_request_queue.go's prq/activePartner
// shape); only the underlying heap implementation changes from a bespoke
// package to container/heap, since that bespoke package was never a
// third-party dependency to begin with.
type taskQueue struct {
	items []*task
}

func newTaskQueue() *taskQueue {
	tq := &taskQueue{}
	heap.Init(tq)
	return tq
}

func (tq *taskQueue) Len() int { return len(tq.items) }

func (tq *taskQueue) Less(i, j int) bool {
	return tq.items[i].priority > tq.items[j].priority
}

func (tq *taskQueue) Swap(i, j int) {
	tq.items[i], tq.items[j] = tq.items[j], tq.items[i]
	tq.items[i].index = i
	tq.items[j].index = j
}

func (tq *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(tq.items)
	tq.items = append(tq.items, t)
}

func (tq *taskQueue) Pop() any {
	old := tq.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	tq.items = old[:n-1]
	return t
}

func (tq *taskQueue) push(t *task) {
	heap.Push(tq, t)
}

func (tq *taskQueue) pop() *task {
	if tq.Len() == 0 {
		return nil
	}
	return heap.Pop(tq).(*task)
}
