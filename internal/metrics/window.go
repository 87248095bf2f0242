package metrics

// Window is a bounded FIFO history. Pushing beyond capacity evicts the oldest
// entries first; the order of the remaining entries never changes.
//
// A Window is not safe for concurrent use. The Collector serializes access.
type Window[T any] struct {
	values   []T
	capacity int
}

// NewWindow creates an empty window holding at most capacity values.
// A capacity below one is raised to one.
func NewWindow[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &Window[T]{
		values:   make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push appends v and trims the front until the window fits its capacity.
func (w *Window[T]) Push(v T) {
	w.values = append(w.values, v)

	if overflow := len(w.values) - w.capacity; overflow > 0 {
		// shift in place so the backing array does not grow unbounded
		n := copy(w.values, w.values[overflow:])
		clear(w.values[n:])
		w.values = w.values[:n]
	}
}

// Values returns a copy of the window contents, oldest first.
func (w *Window[T]) Values() []T {
	out := make([]T, len(w.values))
	copy(out, w.values)
	return out
}
