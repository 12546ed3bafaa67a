// Package occa implements the compute backend on top of gocca, the Go
// bindings for OCCA. OCCA presents one runtime that can target CUDA,
// OpenCL, HIP, OpenMP, and Serial, so the backend exposes a single
// platform whose accelerator and CPU device classes are resolved by
// probing modes in preference order.
//
// Two impedance mismatches with the compute interfaces are worth
// knowing about. OKL kernels iterate their own work domain, so the
// enqueue passes the global size as a trailing int argument and kernel
// sources must declare it as their last parameter. And OCCA reports no
// per-operation device timestamps, so events carry host-clock
// nanoseconds stamped at queue, submit, launch, and completion; the
// ordering guarantee still holds.
package occa

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/hostbench/kernprof/compute"
	"github.com/notargets/gocca"
)

// epoch anchors event timestamps so they are monotonic.
var epoch = time.Now()

func stamp() uint64 { return uint64(time.Since(epoch)) }

type modeSpec struct {
	name  string
	props string
}

var acceleratorModes = []modeSpec{
	{"CUDA", `{"mode": "CUDA", "device_id": 0}`},
	{"OpenCL", `{"mode": "OpenCL", "platform_id": 0, "device_id": 0}`},
	{"HIP", `{"mode": "HIP", "device_id": 0}`},
}

var cpuModes = []modeSpec{
	{"OpenMP", `{"mode": "OpenMP"}`},
	{"Serial", `{"mode": "Serial"}`},
}

// Backend exposes the OCCA runtime as a compute.Backend.
type Backend struct{}

func New() *Backend { return &Backend{} }

func (b *Backend) Name() string { return "occa" }

func (b *Backend) Platforms() ([]compute.Platform, error) {
	return []compute.Platform{&platform{}}, nil
}

type platform struct{}

func (p *platform) Name() string { return "OCCA" }

// Devices probes modes in preference order and returns the first one
// that opens. The opened occa device is carried into the context; the
// device handle is freed when the context is released.
func (p *platform) Devices(t compute.DeviceType) ([]compute.Device, error) {
	var modes []modeSpec
	switch t {
	case compute.Accelerator:
		modes = acceleratorModes
	case compute.CPU:
		modes = cpuModes
	default:
		return nil, fmt.Errorf("occa: unknown device type %d", t)
	}

	for _, m := range modes {
		dev, err := gocca.NewDevice(m.props)
		if err == nil {
			return []compute.Device{&Device{occa: dev, mode: m.name, kind: t}}, nil
		}
	}
	return nil, nil
}

// Device wraps an already-opened occa device.
type Device struct {
	occa *gocca.OCCADevice
	mode string
	kind compute.DeviceType
}

func (d *Device) Name() string             { return "occa " + d.mode }
func (d *Device) Type() compute.DeviceType { return d.kind }

func (d *Device) CreateContext() (compute.Context, error) {
	return &context{device: d.occa, mode: d.mode}, nil
}

type context struct {
	device   *gocca.OCCADevice
	mode     string
	released bool
}

func (c *context) CreateQueue(profiling bool) (compute.Queue, error) {
	return &queue{device: c.device, profiling: profiling}, nil
}

func (c *context) CreateBuffer(flags compute.MemFlags, size int64, host unsafe.Pointer) (compute.Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("occa: invalid buffer size %d: %w", size, compute.ErrBufferCreate)
	}
	var src unsafe.Pointer
	if flags&compute.CopyHostPtr != 0 {
		if host == nil {
			return nil, fmt.Errorf("occa: copy-host-ptr buffer without host pointer: %w", compute.ErrBufferCreate)
		}
		src = host
	}
	mem := c.device.Malloc(size, src, nil)
	if mem == nil {
		return nil, fmt.Errorf("occa: malloc of %d bytes failed: %w", size, compute.ErrBufferCreate)
	}
	return &buffer{mem: mem, size: size}, nil
}

func (c *context) BuildProgram(source string) (compute.Program, error) {
	if source == "" {
		return nil, &compute.BuildError{Log: "occa: empty kernel source"}
	}
	// OCCA compiles per entry point, so compilation is deferred to
	// CreateKernel and build failures surface there.
	return &program{device: c.device, mode: c.mode, source: source}, nil
}

func (c *context) Release() error {
	if c.released {
		return fmt.Errorf("occa: context: %w", compute.ErrReleased)
	}
	c.released = true
	c.device.Free()
	return nil
}

type program struct {
	device   *gocca.OCCADevice
	mode     string
	source   string
	released bool
}

func (p *program) CreateKernel(name string) (compute.Kernel, error) {
	var k *gocca.OCCAKernel
	var err error

	if p.mode == "OpenMP" {
		// OCCA bug: OpenMP misses the default -O3 flag.
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		k, err = p.device.BuildKernelFromString(p.source, name, props)
	} else {
		k, err = p.device.BuildKernelFromString(p.source, name, nil)
	}
	if err != nil {
		return nil, &compute.BuildError{Log: err.Error()}
	}
	if k == nil {
		return nil, &compute.BuildError{Log: fmt.Sprintf("occa: build returned no kernel for %q", name)}
	}
	return &kernel{occa: k}, nil
}

func (p *program) Release() error {
	if p.released {
		return fmt.Errorf("occa: program: %w", compute.ErrReleased)
	}
	p.released = true
	return nil
}

type kernel struct {
	occa     *gocca.OCCAKernel
	args     []interface{}
	released bool
}

func (k *kernel) SetArg(index int, buf compute.Buffer) error {
	ob, ok := buf.(*buffer)
	if !ok {
		return fmt.Errorf("occa: argument %d is not an occa buffer: %w", index, compute.ErrArgBind)
	}
	if ob.released {
		return fmt.Errorf("occa: argument %d uses a released buffer: %w", index, compute.ErrArgBind)
	}
	for len(k.args) <= index {
		k.args = append(k.args, nil)
	}
	k.args[index] = ob.mem
	return nil
}

func (k *kernel) Release() error {
	if k.released {
		return fmt.Errorf("occa: kernel: %w", compute.ErrReleased)
	}
	k.released = true
	k.occa.Free()
	return nil
}

type buffer struct {
	mem      *gocca.OCCAMemory
	size     int64
	released bool
}

func (b *buffer) Size() int64 { return b.size }

func (b *buffer) Release() error {
	if b.released {
		return fmt.Errorf("occa: buffer: %w", compute.ErrReleased)
	}
	b.released = true
	b.mem.Free()
	return nil
}

type queue struct {
	device    *gocca.OCCADevice
	profiling bool
	released  bool
}

func (q *queue) EnqueueKernel(k compute.Kernel, globalSize int) (compute.Event, error) {
	kern, isOcca := k.(*kernel)
	if !isOcca {
		return nil, fmt.Errorf("occa: not an occa kernel: %w", compute.ErrEnqueue)
	}

	ev := &event{device: q.device, profiling: q.profiling}
	ev.times.Queued = stamp()

	args := make([]interface{}, 0, len(kern.args)+1)
	for i, a := range kern.args {
		if a == nil {
			return nil, fmt.Errorf("occa: argument %d not bound: %w", i, compute.ErrEnqueue)
		}
		args = append(args, a)
	}
	// OKL kernels loop over the work domain themselves; the size goes
	// in as the trailing int parameter.
	args = append(args, int32(globalSize))

	ev.times.Submitted = stamp()
	ev.times.Start = stamp()
	if err := kern.occa.RunWithArgs(args...); err != nil {
		return nil, fmt.Errorf("occa: kernel launch failed: %v: %w", err, compute.ErrEnqueue)
	}
	return ev, nil
}

func (q *queue) ReadBuffer(b compute.Buffer, dst unsafe.Pointer, size int64) error {
	ob, isOcca := b.(*buffer)
	if !isOcca {
		return fmt.Errorf("occa: not an occa buffer: %w", compute.ErrReadBack)
	}
	if ob.released {
		return fmt.Errorf("occa: buffer already released: %w", compute.ErrReadBack)
	}
	if size > ob.size {
		return fmt.Errorf("occa: read of %d bytes exceeds buffer size %d: %w", size, ob.size, compute.ErrReadBack)
	}
	ob.mem.CopyTo(dst, size)
	return nil
}

func (q *queue) Finish() error {
	q.device.Finish()
	return nil
}

func (q *queue) Release() error {
	if q.released {
		return fmt.Errorf("occa: queue: %w", compute.ErrReleased)
	}
	q.released = true
	return nil
}

type event struct {
	device    *gocca.OCCADevice
	profiling bool
	times     compute.ProfilingTimes
	done      bool
	released  bool
}

func (e *event) Wait() error {
	if !e.done {
		e.device.Finish()
		e.times.End = stamp()
		e.done = true
	}
	return nil
}

func (e *event) Profile() (compute.ProfilingTimes, error) {
	if !e.profiling {
		return compute.ProfilingTimes{}, compute.ErrProfilingDisabled
	}
	return e.times, nil
}

func (e *event) Release() error {
	if e.released {
		return fmt.Errorf("occa: event: %w", compute.ErrReleased)
	}
	e.released = true
	return nil
}

var (
	_ compute.Backend = (*Backend)(nil)
	_ compute.Device  = (*Device)(nil)
)
