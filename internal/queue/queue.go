// Package queue provides a minimal FIFO container used by device drivers and
// the protocol dispatch path.
//
// A Queue performs no locking of its own. Every producer/consumer pair must
// serialize access externally: device queues sit behind the owning driver's
// mutex, protocol queues rely on the single interrupt-dispatch goroutine.
package queue

// Queue is an ordered FIFO sequence of entries. The queue owns each entry
// from Push until the matching Pop returns it to the caller.
type Queue[T any] struct {
	items []T
	head  int
}

// Push appends an entry at the tail.
func (q *Queue[T]) Push(v T) {
	q.items = append(q.items, v)
}

// Pop removes and returns the head entry. The second return value is false
// when the queue is empty. Pop never blocks.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		// Fully drained; reset so the backing array is reused.
		q.items = q.items[:0]
		q.head = 0
	}
	return v, true
}

// Len returns the number of entries currently queued.
func (q *Queue[T]) Len() int {
	return len(q.items) - q.head
}
