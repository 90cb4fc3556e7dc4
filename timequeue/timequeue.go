// Package timequeue implements the kernel's priority queue of pending
// events, ordered by (simulated time, insertion sequence).
package timequeue

import "container/heap"

// Item is anything that can be ordered into a Queue. Queue.Insert stamps
// each item's insertion sequence through SetSeq.
type Item interface {
	// When returns the simulated instant the item is scheduled for.
	When() int64
	// SetSeq is called exactly once, by Insert, to stamp the tie-breaking
	// insertion sequence.
	SetSeq(seq uint64)
}

// Queue is a min-heap ordered by (When(), insertion sequence), giving
// amortized O(log n) Insert/PopMin and strict FIFO ordering among items
// scheduled for the same instant.
type Queue struct {
	h    itemHeap
	next uint64
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Len returns the number of pending items.
func (q *Queue) Len() int { return q.h.Len() }

// IsEmpty reports whether the queue has no pending items.
func (q *Queue) IsEmpty() bool { return q.h.Len() == 0 }

// Insert stamps item with the next monotonic sequence number and pushes it
// onto the heap. Items inserted with equal When() values are popped in the
// order they were inserted.
func (q *Queue) Insert(item Item) {
	q.next++
	item.SetSeq(q.next)
	heap.Push(&q.h, item)
}

// PeekMin returns the earliest item without removing it, or nil if empty.
func (q *Queue) PeekMin() Item {
	if q.h.Len() == 0 {
		return nil
	}
	return q.h[0]
}

// PopMin removes and returns the earliest item, or nil if empty.
func (q *Queue) PopMin() Item {
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.h).(Item)
}

// itemHeap adapts a slice of Item to container/heap, comparing by (When, a
// sequence recovered via seqOf) so ties are broken FIFO.
type itemHeap []Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	wi, wj := h[i].When(), h[j].When()
	if wi != wj {
		return wi < wj
	}
	return seqOf(h[i]) < seqOf(h[j])
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(Item))
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// seqOf recovers the insertion sequence stamped by Insert. Items must also
// implement Seq() uint64 to participate in tie-breaking; this is checked
// with an anonymous interface assertion rather than folded into Item so that Item stays
// minimal for callers that never need to read it back.
func seqOf(it Item) uint64 {
	if s, ok := it.(interface{ Seq() uint64 }); ok {
		return s.Seq()
	}
	return 0
}
