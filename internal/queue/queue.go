package queue

import (
	"container/heap"
	"sync"
)

// item is a single value in the queue
type item[T any] struct {
	value T
	seq   uint64
	index int
}

// orderedHeap implements heap.Interface
type orderedHeap[T any] struct {
	items []*item[T]
	less  func(a, b T) bool
}

func (h *orderedHeap[T]) Len() int {
	return len(h.items)
}

// Less orders by the user function and falls back to insertion order, so
// equal values come out first-in first-out
func (h *orderedHeap[T]) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if h.less(a.value, b.value) {
		return true
	}
	if h.less(b.value, a.value) {
		return false
	}
	return a.seq < b.seq
}

func (h *orderedHeap[T]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *orderedHeap[T]) Push(x any) {
	it := x.(*item[T])
	it.index = len(h.items)
	h.items = append(h.items, it)
}

func (h *orderedHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	it.index = -1
	h.items = old[:n-1]
	return it
}

// OrderedQueue is a thread-safe generic priority queue ordered by a less
// function. Ties keep insertion order.
type OrderedQueue[T any] struct {
	heap orderedHeap[T]
	seq  uint64
	mu   sync.Mutex
}

// NewOrderedQueue creates a queue that dequeues the smallest value first
func NewOrderedQueue[T any](less func(a, b T) bool) *OrderedQueue[T] {
	q := &OrderedQueue[T]{
		heap: orderedHeap[T]{less: less},
	}
	heap.Init(&q.heap)
	return q
}

// Len returns the number of queued values
func (q *OrderedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Enqueue adds a value
func (q *OrderedQueue[T]) Enqueue(value T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	heap.Push(&q.heap, &item[T]{value: value, seq: q.seq})
}

// Dequeue removes and returns the smallest value
func (q *OrderedQueue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		var zero T
		return zero, false
	}

	it := heap.Pop(&q.heap).(*item[T])
	return it.value, true
}

// Peek returns the smallest value without removing it
func (q *OrderedQueue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		var zero T
		return zero, false
	}
	return q.heap.items[0].value, true
}

// DequeueAll empties the queue in order
func (q *OrderedQueue[T]) DequeueAll() []T {
	items := make([]T, 0, q.Len())
	for {
		v, ok := q.Dequeue()
		if !ok {
			return items
		}
		items = append(items, v)
	}
}
