package mqttstream

import (
	"errors"
	"fmt"
)

// ErrBufferOverflow is matched by every *OverflowError.
var ErrBufferOverflow = errors.New("mqttstream: buffer overflow")

// OverflowError is the fatal error raised when the notification buffer or
// the pending-operation counter reaches its capacity.
type OverflowError struct {
	// Resource is "buffer" or "pending".
	Resource string
	// Capacity is the configured MaxBufferSize.
	Capacity int
	// Dropped is the number of buffered notifications discarded with the stage.
	Dropped int
}

func (e *OverflowError) Error() string {
	if e.Resource == resourcePending {
		return fmt.Sprintf("mqttstream: buffer overflow: max pending operations %d", e.Capacity)
	}
	return fmt.Sprintf("mqttstream: buffer overflow: max event buffer size %d (%d notifications dropped)",
		e.Capacity, e.Dropped)
}

// Unwrap returns ErrBufferOverflow.
func (e *OverflowError) Unwrap() error { return ErrBufferOverflow }

const (
	resourceBuffer  = "buffer"
	resourcePending = "pending"
)
