// Package compute defines the backend abstraction the harness runs
// against. The object graph follows the OpenCL model: a Backend exposes
// Platforms, a Platform exposes Devices, a Device anchors a Context,
// and the Context owns every downstream handle (programs, kernels,
// queues, buffers). Handles are released explicitly; a Device is only
// referenced and is never released through this interface.
package compute

import "unsafe"

// DeviceType classifies a device for selection purposes.
type DeviceType int

const (
	// Accelerator covers GPUs and other offload devices.
	Accelerator DeviceType = iota
	// CPU covers general-purpose processor devices.
	CPU
)

func (t DeviceType) String() string {
	switch t {
	case Accelerator:
		return "accelerator"
	case CPU:
		return "cpu"
	default:
		return "unknown"
	}
}

// MemFlags control buffer access and initialization.
type MemFlags int

const (
	ReadOnly MemFlags = 1 << iota
	WriteOnly
	ReadWrite
	// CopyHostPtr initializes the buffer by copying host memory at
	// creation time. The host pointer must stay valid for the duration
	// of the CreateBuffer call only.
	CopyHostPtr
)

// ProfilingTimes holds the four lifecycle timestamps of one submitted
// operation, in device-clock nanoseconds. They are monotonically
// non-decreasing in field order.
type ProfilingTimes struct {
	Queued    uint64
	Submitted uint64
	Start     uint64
	End       uint64
}

// KernelNanos returns the device-side execution time of the operation.
func (p ProfilingTimes) KernelNanos() uint64 {
	return p.End - p.Start
}

// Backend is the entry point to a compute runtime.
type Backend interface {
	Name() string
	Platforms() ([]Platform, error)
}

// Platform is a vendor runtime exposing zero or more devices.
type Platform interface {
	Name() string
	Devices(t DeviceType) ([]Device, error)
}

// Device is a single compute device discovered through a platform.
type Device interface {
	Name() string
	Type() DeviceType
	CreateContext() (Context, error)
}

// Context binds one device to programs, queues, and buffers for one
// execution session. No owned handle may outlive it.
type Context interface {
	CreateQueue(profiling bool) (Queue, error)
	CreateBuffer(flags MemFlags, size int64, host unsafe.Pointer) (Buffer, error)
	BuildProgram(source string) (Program, error)
	Release() error
}

// Program is kernel source compiled for a context's device. Must be
// released before the context.
type Program interface {
	CreateKernel(name string) (Kernel, error)
	Release() error
}

// Kernel is a named entry point of a compiled program. Must be
// released before the program.
type Kernel interface {
	SetArg(index int, buf Buffer) error
	Release() error
}

// Buffer is a device-resident memory region owned by the context.
type Buffer interface {
	Size() int64
	Release() error
}

// Queue is an ordered submission channel to the device. Profiling must
// be requested at creation for events to carry timestamps.
type Queue interface {
	// EnqueueKernel submits k over a one-dimensional work domain of
	// globalSize items and returns the completion event.
	EnqueueKernel(k Kernel, globalSize int) (Event, error)
	// ReadBuffer copies size bytes of b into host memory at dst,
	// blocking until the copy completes.
	ReadBuffer(b Buffer, dst unsafe.Pointer, size int64) error
	// Finish blocks until every submitted operation has drained.
	Finish() error
	Release() error
}

// Event is the completion signal of one enqueued operation.
type Event interface {
	// Wait blocks until the operation has completed on the device.
	Wait() error
	// Profile returns the lifecycle timestamps. It fails if the
	// owning queue was created without profiling, and is only valid
	// after Wait has returned.
	Profile() (ProfilingTimes, error)
	Release() error
}
