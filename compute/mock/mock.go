// Package mock provides an in-memory compute backend for testing the
// harness without a device runtime. Buffers live in host memory,
// "compilation" scans the source text for kernel definitions, and
// kernel execution dispatches to registered Go functions. Every handle
// kind carries acquire/release counters so tests can prove that
// teardown releases each handle exactly once.
package mock

import (
	"fmt"
	"regexp"
	"sync"
	"unsafe"

	"github.com/hostbench/kernprof/compute"
)

// KernelFunc simulates device execution of one kernel. args holds the
// bound buffers in argument-index order; globalSize is the size of the
// one-dimensional work domain.
type KernelFunc func(args []*Buffer, globalSize int) error

// HandleCounts tallies lifecycle calls for one handle kind.
type HandleCounts struct {
	Acquired       int
	Released       int
	DoubleReleased int
}

// Backend is the mock entry point. The zero value is not usable; use
// New.
type Backend struct {
	mu      sync.Mutex
	counts  map[string]HandleCounts
	kernels map[string]KernelFunc
	clock   uint64

	noPlatforms     bool
	noAccelerators  bool
	noCPUs          bool
	failBufferAt    int
	failArgAt       int
	failEnqueue     bool
	failReadBack    bool
	failQueueCreate bool
}

// Option configures failure injection on a Backend.
type Option func(*Backend)

// WithoutPlatforms makes Platforms report none.
func WithoutPlatforms() Option { return func(b *Backend) { b.noPlatforms = true } }

// WithoutDevices makes the platform report no devices of type t.
func WithoutDevices(t compute.DeviceType) Option {
	return func(b *Backend) {
		switch t {
		case compute.Accelerator:
			b.noAccelerators = true
		case compute.CPU:
			b.noCPUs = true
		}
	}
}

// FailBufferCreate makes the n-th CreateBuffer call (0-based) fail.
func FailBufferCreate(n int) Option { return func(b *Backend) { b.failBufferAt = n } }

// FailArgBind makes SetArg fail for argument index n.
func FailArgBind(n int) Option { return func(b *Backend) { b.failArgAt = n } }

// FailEnqueue makes every EnqueueKernel call fail.
func FailEnqueue() Option { return func(b *Backend) { b.failEnqueue = true } }

// FailReadBack makes every ReadBuffer call fail.
func FailReadBack() Option { return func(b *Backend) { b.failReadBack = true } }

// FailQueueCreate makes CreateQueue fail.
func FailQueueCreate() Option { return func(b *Backend) { b.failQueueCreate = true } }

// New creates a mock backend with the built-in "add" kernel
// (out[i] = in[i] + bias[0] over float32) registered.
func New(opts ...Option) *Backend {
	b := &Backend{
		counts:       make(map[string]HandleCounts),
		kernels:      make(map[string]KernelFunc),
		failBufferAt: -1,
		failArgAt:    -1,
	}
	b.kernels["add"] = addKernel
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register installs a kernel behavior under name, replacing any
// previous registration.
func (b *Backend) Register(name string, fn KernelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.kernels[name] = fn
}

// Counts returns a snapshot of the per-kind handle tallies.
func (b *Backend) Counts() map[string]HandleCounts {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]HandleCounts, len(b.counts))
	for k, v := range b.counts {
		out[k] = v
	}
	return out
}

func (b *Backend) Name() string { return "mock" }

func (b *Backend) Platforms() ([]compute.Platform, error) {
	if b.noPlatforms {
		return nil, nil
	}
	return []compute.Platform{&platform{backend: b}}, nil
}

func (b *Backend) acquire(kind string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.counts[kind]
	c.Acquired++
	b.counts[kind] = c
}

// release returns ErrReleased when the handle was already released.
func (b *Backend) release(kind string, released *bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.counts[kind]
	if *released {
		c.DoubleReleased++
		b.counts[kind] = c
		return fmt.Errorf("mock: %s: %w", kind, compute.ErrReleased)
	}
	*released = true
	c.Released++
	b.counts[kind] = c
	return nil
}

// tick advances the fake device clock and returns the new timestamp.
func (b *Backend) tick(step uint64) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock += step
	return b.clock
}

type platform struct {
	backend *Backend
}

func (p *platform) Name() string { return "mock platform" }

func (p *platform) Devices(t compute.DeviceType) ([]compute.Device, error) {
	switch t {
	case compute.Accelerator:
		if p.backend.noAccelerators {
			return nil, nil
		}
		return []compute.Device{&Device{backend: p.backend, kind: t}}, nil
	case compute.CPU:
		if p.backend.noCPUs {
			return nil, nil
		}
		return []compute.Device{&Device{backend: p.backend, kind: t}}, nil
	default:
		return nil, fmt.Errorf("mock: unknown device type %d", t)
	}
}

// Device is a mock compute device.
type Device struct {
	backend *Backend
	kind    compute.DeviceType
}

func (d *Device) Name() string             { return "mock " + d.kind.String() }
func (d *Device) Type() compute.DeviceType { return d.kind }

func (d *Device) CreateContext() (compute.Context, error) {
	d.backend.acquire("context")
	return &context{backend: d.backend}, nil
}

type context struct {
	backend    *Backend
	released   bool
	numBuffers int
}

func (c *context) CreateQueue(profiling bool) (compute.Queue, error) {
	if c.backend.failQueueCreate {
		return nil, fmt.Errorf("mock: queue creation rejected")
	}
	c.backend.acquire("queue")
	return &queue{backend: c.backend, profiling: profiling}, nil
}

func (c *context) CreateBuffer(flags compute.MemFlags, size int64, host unsafe.Pointer) (compute.Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mock: invalid buffer size %d: %w", size, compute.ErrBufferCreate)
	}
	if c.backend.failBufferAt == c.numBuffers {
		c.numBuffers++
		return nil, fmt.Errorf("mock: buffer %d rejected: %w", c.numBuffers-1, compute.ErrBufferCreate)
	}
	c.numBuffers++
	buf := &Buffer{backend: c.backend, flags: flags, data: make([]byte, size)}
	if flags&compute.CopyHostPtr != 0 {
		if host == nil {
			return nil, fmt.Errorf("mock: copy-host-ptr buffer without host pointer: %w", compute.ErrBufferCreate)
		}
		copy(buf.data, unsafe.Slice((*byte)(host), size))
	}
	c.backend.acquire("buffer")
	return buf, nil
}

// kernelDef matches OKL, OpenCL C, and WGSL kernel definitions.
var kernelDef = regexp.MustCompile(`(?m)(?:@kernel\s+void|__kernel\s+void|kernel\s+void|fn)\s+([A-Za-z_][A-Za-z0-9_]*)`)

func (c *context) BuildProgram(source string) (compute.Program, error) {
	matches := kernelDef.FindAllStringSubmatch(source, -1)
	if len(matches) == 0 {
		return nil, &compute.BuildError{
			Log: "mock build log:\n<source>:1: error: no kernel definition found",
		}
	}
	names := make(map[string]bool, len(matches))
	for _, m := range matches {
		names[m[1]] = true
	}
	c.backend.acquire("program")
	return &program{backend: c.backend, entryPoints: names}, nil
}

func (c *context) Release() error {
	return c.backend.release("context", &c.released)
}

type program struct {
	backend     *Backend
	entryPoints map[string]bool
	released    bool
}

func (p *program) CreateKernel(name string) (compute.Kernel, error) {
	if !p.entryPoints[name] {
		return nil, fmt.Errorf("mock: no kernel %q in program", name)
	}
	p.backend.acquire("kernel")
	return &kernel{backend: p.backend, name: name}, nil
}

func (p *program) Release() error {
	return p.backend.release("program", &p.released)
}

type kernel struct {
	backend  *Backend
	name     string
	args     []*Buffer
	released bool
}

func (k *kernel) SetArg(index int, buf compute.Buffer) error {
	if index == k.backend.failArgAt {
		return fmt.Errorf("mock: argument %d rejected: %w", index, compute.ErrArgBind)
	}
	mb, ok := buf.(*Buffer)
	if !ok {
		return fmt.Errorf("mock: argument %d is not a mock buffer: %w", index, compute.ErrArgBind)
	}
	if mb.released {
		return fmt.Errorf("mock: argument %d uses a released buffer: %w", index, compute.ErrArgBind)
	}
	for len(k.args) <= index {
		k.args = append(k.args, nil)
	}
	k.args[index] = mb
	return nil
}

func (k *kernel) Release() error {
	return k.backend.release("kernel", &k.released)
}

// Buffer is a mock device buffer backed by host memory.
type Buffer struct {
	backend  *Backend
	flags    compute.MemFlags
	data     []byte
	released bool
}

func (b *Buffer) Size() int64 { return int64(len(b.data)) }

// Float32s views the buffer contents as float32 elements. For use by
// registered KernelFuncs.
func (b *Buffer) Float32s() []float32 {
	if len(b.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b.data[0])), len(b.data)/4)
}

func (b *Buffer) Release() error {
	return b.backend.release("buffer", &b.released)
}

type queue struct {
	backend   *Backend
	profiling bool
	released  bool
}

func (q *queue) EnqueueKernel(k compute.Kernel, globalSize int) (compute.Event, error) {
	if q.backend.failEnqueue {
		return nil, fmt.Errorf("mock: enqueue rejected: %w", compute.ErrEnqueue)
	}
	mk, ok := k.(*kernel)
	if !ok {
		return nil, fmt.Errorf("mock: not a mock kernel: %w", compute.ErrEnqueue)
	}
	fn, ok := q.backend.kernels[mk.name]
	if !ok {
		return nil, fmt.Errorf("mock: no behavior registered for kernel %q: %w", mk.name, compute.ErrEnqueue)
	}

	ev := &event{backend: q.backend, profiling: q.profiling}
	ev.times.Queued = q.backend.tick(10)
	ev.times.Submitted = q.backend.tick(10)
	ev.times.Start = q.backend.tick(10)
	// Execution is synchronous; Wait observes a completed event.
	ev.err = fn(mk.args, globalSize)
	ev.times.End = q.backend.tick(uint64(globalSize) + 1)
	q.backend.acquire("event")
	return ev, nil
}

func (q *queue) ReadBuffer(b compute.Buffer, dst unsafe.Pointer, size int64) error {
	if q.backend.failReadBack {
		return fmt.Errorf("mock: read-back rejected: %w", compute.ErrReadBack)
	}
	mb, ok := b.(*Buffer)
	if !ok {
		return fmt.Errorf("mock: not a mock buffer: %w", compute.ErrReadBack)
	}
	if mb.released {
		return fmt.Errorf("mock: buffer already released: %w", compute.ErrReadBack)
	}
	if size > int64(len(mb.data)) {
		return fmt.Errorf("mock: read of %d bytes exceeds buffer size %d: %w", size, len(mb.data), compute.ErrReadBack)
	}
	copy(unsafe.Slice((*byte)(dst), size), mb.data[:size])
	return nil
}

func (q *queue) Finish() error { return nil }

func (q *queue) Release() error {
	return q.backend.release("queue", &q.released)
}

type event struct {
	backend   *Backend
	profiling bool
	times     compute.ProfilingTimes
	err       error
	released  bool
}

func (e *event) Wait() error { return e.err }

func (e *event) Profile() (compute.ProfilingTimes, error) {
	if !e.profiling {
		return compute.ProfilingTimes{}, compute.ErrProfilingDisabled
	}
	return e.times, nil
}

func (e *event) Release() error {
	return e.backend.release("event", &e.released)
}

// addKernel is the built-in behavior for the "add" entry point:
// args[2][i] = args[0][i] + args[1][0].
func addKernel(args []*Buffer, globalSize int) error {
	if len(args) < 3 || args[0] == nil || args[1] == nil || args[2] == nil {
		return fmt.Errorf("mock: add kernel requires 3 bound arguments, have %d", len(args))
	}
	in := args[0].Float32s()
	bias := args[1].Float32s()
	out := args[2].Float32s()
	if len(in) < globalSize || len(out) < globalSize || len(bias) < 1 {
		return fmt.Errorf("mock: add kernel buffers smaller than work domain %d", globalSize)
	}
	for i := 0; i < globalSize; i++ {
		out[i] = in[i] + bias[0]
	}
	return nil
}

var (
	_ compute.Backend = (*Backend)(nil)
	_ compute.Device  = (*Device)(nil)
	_ compute.Buffer  = (*Buffer)(nil)
)
