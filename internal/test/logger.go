package test

import (
	"io"
	"log/slog"
	"sync"
)

// Discard returns a logger that drops all records.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Errors collects errors passed to an ErrorHandler.
type Errors struct {
	mu   sync.Mutex
	errs []error
}

// Handle records err. Use it as Config.ErrorHandler.
func (e *Errors) Handle(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

// All returns the recorded errors.
func (e *Errors) All() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.errs...)
}
