package kernel

import "container/heap"

// event resumes a parked process, or runs fn on the kernel goroutine.
type event struct {
	at   float64
	seq  uint64
	proc *Proc
	fn   func()
}

// eventHeap implements a priority queue with deterministic ordering.
// Ordering: timestamp → scheduling sequence
type eventHeap struct {
	events []*event
}

// Len implements heap.Interface
func (h *eventHeap) Len() int {
	return len(h.events)
}

// Less implements heap.Interface with deterministic ordering.
// Events at the same instant run in the order they were scheduled.
func (h *eventHeap) Less(i, j int) bool {
	ei, ej := h.events[i], h.events[j]
	if ei.at != ej.at {
		return ei.at < ej.at
	}
	return ei.seq < ej.seq
}

// Swap implements heap.Interface
func (h *eventHeap) Swap(i, j int) {
	h.events[i], h.events[j] = h.events[j], h.events[i]
}

// Push implements heap.Interface
func (h *eventHeap) Push(x any) {
	h.events = append(h.events, x.(*event))
}

// Pop implements heap.Interface
func (h *eventHeap) Pop() any {
	old := h.events
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.events = old[0 : n-1]
	return item
}

// schedule adds an event to the heap
func (h *eventHeap) schedule(e *event) {
	heap.Push(h, e)
}

// popNext removes and returns the next event
func (h *eventHeap) popNext() *event {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*event)
}

// peek returns the next event without removing it
func (h *eventHeap) peek() *event {
	if h.Len() == 0 {
		return nil
	}
	return h.events[0]
}
