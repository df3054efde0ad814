package mqttstream

// relay is the bounded, ordered buffer between asynchronous events and a
// consumer that pulls by receiving from out. It is owned by the stage
// goroutine and never blocks.
type relay[T any] struct {
	out   chan T
	queue []T
	max   int
}

func newRelay[T any](max int) *relay[T] {
	return &relay[T]{
		out:   make(chan T),
		queue: make([]T, 0, max),
		max:   max,
	}
}

// offer hands v to a waiting consumer when nothing is queued, and queues it
// otherwise. Queueing the element that makes the length reach max returns an
// *OverflowError; the element is kept.
func (r *relay[T]) offer(v T) error {
	if len(r.queue) == 0 {
		select {
		case r.out <- v:
			return nil
		default:
		}
	}
	r.queue = append(r.queue, v)
	if len(r.queue) >= r.max {
		return &OverflowError{Resource: resourceBuffer, Capacity: r.max, Dropped: len(r.queue)}
	}
	return nil
}

// demand returns the outlet and the head element if one is queued.
// The returned channel is nil when the queue is empty, which disables the
// send case in a select.
func (r *relay[T]) demand() (chan<- T, T) {
	var zero T
	if len(r.queue) == 0 {
		return nil, zero
	}
	return r.out, r.queue[0]
}

// pop removes the head element after it was delivered.
func (r *relay[T]) pop() {
	var zero T
	r.queue[0] = zero
	r.queue = r.queue[1:]
}

func (r *relay[T]) len() int {
	return len(r.queue)
}

// close discards queued elements and closes the outlet.
func (r *relay[T]) close() int {
	dropped := len(r.queue)
	r.queue = nil
	close(r.out)
	return dropped
}
