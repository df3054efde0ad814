package pipe

import "errors"

// ErrAlreadyStarted is returned when Generate, Pipe or Use is called
// on a stage that has already been started.
var ErrAlreadyStarted = errors.New("pipe: already started")

// ErrShutdownDropped is reported to the ErrorHandler for every input that
// was dropped during a forced shutdown.
var ErrShutdownDropped = errors.New("pipe: dropped on shutdown")
