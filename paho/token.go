package paho

import "sync"

// token is the mqttstream.Token handed out by Client.
type token struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newToken() *token {
	return &token{done: make(chan struct{})}
}

func completed(err error) *token {
	t := newToken()
	t.complete(err)
	return t
}

func (t *token) complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *token) Done() <-chan struct{} {
	return t.done
}

func (t *token) Error() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
