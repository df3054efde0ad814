package mqttstream

import "sync"

// mailbox carries work from client goroutines to the stage goroutine.
// post never blocks; the stage goroutine drains posted work in order.
type mailbox struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	notify chan struct{}
	done   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// post queues fn. It reports false once the mailbox is closed; fn is then
// dropped.
func (m *mailbox) post(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, fn)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// ready is signaled after one or more posts.
func (m *mailbox) ready() <-chan struct{} {
	return m.notify
}

// closing is closed together with the mailbox.
func (m *mailbox) closing() <-chan struct{} {
	return m.done
}

// take returns and clears all queued work.
func (m *mailbox) take() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

// close drops queued work and rejects further posts.
func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.items = nil
	close(m.done)
}
