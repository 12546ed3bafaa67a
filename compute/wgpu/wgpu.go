// Package wgpu implements the compute backend on WebGPU through the
// openfluke/webgpu bindings. Adapters enumerate as devices of one
// platform, programs are WGSL shader modules, and kernels are compute
// pipelines whose bind group is assembled from the bound argument
// buffers (binding index == argument index).
//
// Kernel sources size their own work from arrayLength on the output
// binding, so the enqueue only chooses the workgroup count,
// ceil(globalSize/256) for the fixed @workgroup_size(256). WebGPU
// timestamp queries are not wired here; events carry host-clock
// nanoseconds with the usual queued/submitted/start/end ordering.
package wgpu

import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/hostbench/kernprof/compute"
	"github.com/openfluke/webgpu/wgpu"
)

var epoch = time.Now()

func stamp() uint64 { return uint64(time.Since(epoch)) }

// workgroupSize must match the @workgroup_size attribute in kernel
// sources.
const workgroupSize = 256

// Backend exposes WebGPU as a compute.Backend. Creating it does not
// touch the GPU; the instance is created on first Platforms call.
type Backend struct {
	instance *wgpu.Instance
}

func New() *Backend { return &Backend{} }

func (b *Backend) Name() string { return "webgpu" }

func (b *Backend) Platforms() ([]compute.Platform, error) {
	if b.instance == nil {
		b.instance = wgpu.CreateInstance(nil)
		if b.instance == nil {
			return nil, fmt.Errorf("wgpu: instance creation failed: %w", compute.ErrNoPlatform)
		}
	}
	return []compute.Platform{&platform{instance: b.instance}}, nil
}

type platform struct {
	instance *wgpu.Instance
}

func (p *platform) Name() string { return "WebGPU" }

func (p *platform) Devices(t compute.DeviceType) ([]compute.Device, error) {
	adapters := p.instance.EnumerateAdapters(nil)
	var out []compute.Device
	for _, a := range adapters {
		info := a.GetInfo()
		kind := classify(info.AdapterType)
		if kind != t {
			continue
		}
		out = append(out, &Device{adapter: a, name: info.Name, kind: kind})
	}
	return out, nil
}

func classify(t wgpu.AdapterType) compute.DeviceType {
	switch t {
	case wgpu.AdapterTypeDiscreteGPU, wgpu.AdapterTypeIntegratedGPU:
		return compute.Accelerator
	default:
		return compute.CPU
	}
}

// Device wraps one enumerated adapter.
type Device struct {
	adapter *wgpu.Adapter
	name    string
	kind    compute.DeviceType
}

func (d *Device) Name() string             { return d.name }
func (d *Device) Type() compute.DeviceType { return d.kind }

func (d *Device) CreateContext() (compute.Context, error) {
	dev, err := d.adapter.RequestDevice(nil)
	if err != nil {
		return nil, fmt.Errorf("wgpu: device request failed: %w", err)
	}
	return &context{device: dev, queue: dev.GetQueue()}, nil
}

type context struct {
	device   *wgpu.Device
	queue    *wgpu.Queue
	released bool
}

func (c *context) CreateQueue(profiling bool) (compute.Queue, error) {
	return &queue{ctx: c, profiling: profiling}, nil
}

func (c *context) CreateBuffer(flags compute.MemFlags, size int64, host unsafe.Pointer) (compute.Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("wgpu: invalid buffer size %d: %w", size, compute.ErrBufferCreate)
	}
	usage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc

	var buf *wgpu.Buffer
	var err error
	if flags&compute.CopyHostPtr != 0 {
		if host == nil {
			return nil, fmt.Errorf("wgpu: copy-host-ptr buffer without host pointer: %w", compute.ErrBufferCreate)
		}
		buf, err = c.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
			Contents: unsafe.Slice((*byte)(host), size),
			Usage:    usage,
		})
	} else {
		buf, err = c.device.CreateBuffer(&wgpu.BufferDescriptor{
			Size:  uint64(size),
			Usage: usage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("wgpu: buffer creation failed: %v: %w", err, compute.ErrBufferCreate)
	}
	return &buffer{buf: buf, size: size, flags: flags}, nil
}

func (c *context) BuildProgram(source string) (compute.Program, error) {
	module, err := c.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "kernprof",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: source},
	})
	if err != nil {
		return nil, &compute.BuildError{Log: err.Error()}
	}
	return &program{ctx: c, module: module, source: source}, nil
}

func (c *context) Release() error {
	if c.released {
		return fmt.Errorf("wgpu: context: %w", compute.ErrReleased)
	}
	c.released = true
	c.device.Release()
	return nil
}

type program struct {
	ctx      *context
	module   *wgpu.ShaderModule
	source   string
	released bool
}

func (p *program) CreateKernel(name string) (compute.Kernel, error) {
	// Shader modules do not expose their entry points; a missing one
	// is caught cheaply here rather than at pipeline creation.
	if !strings.Contains(p.source, "fn "+name) {
		return nil, fmt.Errorf("wgpu: no entry point %q in shader module", name)
	}
	return &kernel{ctx: p.ctx, module: p.module, entry: name}, nil
}

func (p *program) Release() error {
	if p.released {
		return fmt.Errorf("wgpu: program: %w", compute.ErrReleased)
	}
	p.released = true
	p.module.Release()
	return nil
}

type kernel struct {
	ctx      *context
	module   *wgpu.ShaderModule
	entry    string
	args     []*buffer
	released bool
}

func (k *kernel) SetArg(index int, buf compute.Buffer) error {
	wb, ok := buf.(*buffer)
	if !ok {
		return fmt.Errorf("wgpu: argument %d is not a wgpu buffer: %w", index, compute.ErrArgBind)
	}
	if wb.released {
		return fmt.Errorf("wgpu: argument %d uses a released buffer: %w", index, compute.ErrArgBind)
	}
	for len(k.args) <= index {
		k.args = append(k.args, nil)
	}
	k.args[index] = wb
	return nil
}

func (k *kernel) Release() error {
	if k.released {
		return fmt.Errorf("wgpu: kernel: %w", compute.ErrReleased)
	}
	k.released = true
	return nil
}

type buffer struct {
	buf      *wgpu.Buffer
	size     int64
	flags    compute.MemFlags
	released bool
}

func (b *buffer) Size() int64 { return b.size }

func (b *buffer) Release() error {
	if b.released {
		return fmt.Errorf("wgpu: buffer: %w", compute.ErrReleased)
	}
	b.released = true
	b.buf.Destroy()
	return nil
}

type queue struct {
	ctx       *context
	profiling bool
	released  bool
}

func (q *queue) EnqueueKernel(k compute.Kernel, globalSize int) (compute.Event, error) {
	wk, ok := k.(*kernel)
	if !ok {
		return nil, fmt.Errorf("wgpu: not a wgpu kernel: %w", compute.ErrEnqueue)
	}

	ev := &event{ctx: q.ctx, profiling: q.profiling}
	ev.times.Queued = stamp()

	dev := q.ctx.device

	layoutEntries := make([]wgpu.BindGroupLayoutEntry, 0, len(wk.args))
	groupEntries := make([]wgpu.BindGroupEntry, 0, len(wk.args))
	for i, arg := range wk.args {
		if arg == nil {
			return nil, fmt.Errorf("wgpu: argument %d not bound: %w", i, compute.ErrEnqueue)
		}
		bindingType := wgpu.BufferBindingTypeStorage
		if arg.flags&compute.ReadOnly != 0 {
			bindingType = wgpu.BufferBindingTypeReadOnlyStorage
		}
		layoutEntries = append(layoutEntries, wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: bindingType},
		})
		groupEntries = append(groupEntries, wgpu.BindGroupEntry{
			Binding: uint32(i),
			Buffer:  arg.buf,
			Size:    arg.buf.GetSize(),
		})
	}

	bgl, err := dev.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   wk.entry + "_layout",
		Entries: layoutEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: bind group layout: %v: %w", err, compute.ErrEnqueue)
	}
	defer bgl.Release()

	pl, err := dev.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            wk.entry + "_pipeline_layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: pipeline layout: %v: %w", err, compute.ErrEnqueue)
	}
	defer pl.Release()

	pipeline, err := dev.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  wk.entry,
		Layout: pl,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     wk.module,
			EntryPoint: wk.entry,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: pipeline creation: %v: %w", err, compute.ErrEnqueue)
	}
	defer pipeline.Release()

	bindGroup, err := dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   wk.entry + "_bind",
		Layout:  bgl,
		Entries: groupEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: bind group: %v: %w", err, compute.ErrEnqueue)
	}
	defer bindGroup.Release()

	encoder, err := dev.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("wgpu: command encoder: %v: %w", err, compute.ErrEnqueue)
	}

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(uint32((globalSize+workgroupSize-1)/workgroupSize), 1, 1)
	pass.End()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("wgpu: command finish: %v: %w", err, compute.ErrEnqueue)
	}

	ev.times.Submitted = stamp()
	ev.times.Start = stamp()
	q.ctx.queue.Submit(cmd)
	return ev, nil
}

func (q *queue) ReadBuffer(b compute.Buffer, dst unsafe.Pointer, size int64) error {
	wb, ok := b.(*buffer)
	if !ok {
		return fmt.Errorf("wgpu: not a wgpu buffer: %w", compute.ErrReadBack)
	}
	if wb.released {
		return fmt.Errorf("wgpu: buffer already released: %w", compute.ErrReadBack)
	}
	if size > wb.size {
		return fmt.Errorf("wgpu: read of %d bytes exceeds buffer size %d: %w", size, wb.size, compute.ErrReadBack)
	}

	dev := q.ctx.device
	staging, err := dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "read_staging",
		Size:  uint64(size),
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: staging buffer: %v: %w", err, compute.ErrReadBack)
	}
	defer staging.Destroy()

	encoder, err := dev.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("wgpu: command encoder: %v: %w", err, compute.ErrReadBack)
	}
	encoder.CopyBufferToBuffer(wb.buf, 0, staging, 0, uint64(size))
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("wgpu: command finish: %v: %w", err, compute.ErrReadBack)
	}
	q.ctx.queue.Submit(cmd)

	done := make(chan struct{})
	var mapErr error
	err = staging.MapAsync(wgpu.MapModeRead, 0, uint64(size), func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("wgpu: map failed with status %v", status)
		}
		close(done)
	})
	if err != nil {
		return fmt.Errorf("wgpu: map request: %v: %w", err, compute.ErrReadBack)
	}

	for {
		dev.Poll(true, nil)
		select {
		case <-done:
			if mapErr != nil {
				return fmt.Errorf("%v: %w", mapErr, compute.ErrReadBack)
			}
			data := staging.GetMappedRange(0, uint(size))
			if data == nil {
				return fmt.Errorf("wgpu: mapped range unavailable: %w", compute.ErrReadBack)
			}
			copy(unsafe.Slice((*byte)(dst), size), data)
			staging.Unmap()
			return nil
		default:
		}
	}
}

func (q *queue) Finish() error {
	q.ctx.device.Poll(true, nil)
	return nil
}

func (q *queue) Release() error {
	if q.released {
		return fmt.Errorf("wgpu: queue: %w", compute.ErrReleased)
	}
	q.released = true
	return nil
}

type event struct {
	ctx       *context
	profiling bool
	times     compute.ProfilingTimes
	done      bool
	released  bool
}

func (e *event) Wait() error {
	if !e.done {
		e.ctx.device.Poll(true, nil)
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
		return fmt.Errorf("wgpu: event: %w", compute.ErrReleased)
	}
	e.released = true
	return nil
}

var (
	_ compute.Backend = (*Backend)(nil)
	_ compute.Device  = (*Device)(nil)
)
