package compute

import (
	"errors"
	"fmt"
)

var (
	ErrNoPlatform        = errors.New("compute: no platform available")
	ErrNoDevice          = errors.New("compute: no device available")
	ErrBufferCreate      = errors.New("compute: buffer creation failed")
	ErrArgBind           = errors.New("compute: kernel argument binding failed")
	ErrEnqueue           = errors.New("compute: kernel enqueue failed")
	ErrReadBack          = errors.New("compute: buffer read-back failed")
	ErrProfilingDisabled = errors.New("compute: queue created without profiling")
	ErrReleased          = errors.New("compute: handle already released")
)

// BuildError reports a failed program compilation together with the
// full compiler log.
type BuildError struct {
	Log string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("compute: program build failed:\n%s", e.Log)
}
