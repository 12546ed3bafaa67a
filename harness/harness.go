// Package harness runs one elementwise kernel on a compute backend and
// measures it: device selection, program compilation from source text,
// buffer setup and argument binding, a single timed dispatch, result
// read-back with CPU verification, and teardown of every acquired
// handle. No function here exits the process; every failure propagates
// as an error so the harness can be embedded and tested.
package harness

import (
	"fmt"
	"time"

	"github.com/hostbench/kernprof/compute"
)

// Defaults for Config fields left zero.
const (
	DefaultArraySize  = 100000
	DefaultKernelPath = "kernels/add.okl"
	DefaultKernelName = "add"
	DefaultTolerance  = 1e-4
)

// Config parameterizes one run.
type Config struct {
	// ArraySize is the element count of each of the three buffers and
	// the size of the one-dimensional work domain.
	ArraySize int
	// KernelPath locates the kernel source file.
	KernelPath string
	// KernelName is the entry point extracted from the compiled
	// program.
	KernelName string
	// Tolerance is the absolute bound the verifier allows per element.
	Tolerance float64
}

func (c *Config) setDefaults() {
	if c.ArraySize == 0 {
		c.ArraySize = DefaultArraySize
	}
	if c.KernelPath == "" {
		c.KernelPath = DefaultKernelPath
	}
	if c.KernelName == "" {
		c.KernelName = DefaultKernelName
	}
	if c.Tolerance == 0 {
		c.Tolerance = DefaultTolerance
	}
}

// Result is the outcome of a verified run.
type Result struct {
	Output []float32
	Timing TimingSample
}

// Harness binds a configuration to a backend.
type Harness struct {
	cfg     Config
	backend compute.Backend
}

// New creates a harness. Zero Config fields take the package defaults.
func New(cfg Config, backend compute.Backend) *Harness {
	cfg.setDefaults()
	return &Harness{cfg: cfg, backend: backend}
}

// Config returns the effective configuration.
func (h *Harness) Config() Config { return h.cfg }

// Run executes the full pipeline: select a device, compile the kernel,
// dispatch it over the work domain, read the output back, and verify
// it against the CPU reference. The resource bundle is closed on every
// path, success or failure.
func (h *Harness) Run(input, bias []float32) (*Result, error) {
	if len(input) != h.cfg.ArraySize || len(bias) != h.cfg.ArraySize {
		return nil, fmt.Errorf("harness: need %d elements, have input %d, bias %d",
			h.cfg.ArraySize, len(input), len(bias))
	}

	start := time.Now()
	bundle := &Bundle{}
	res, runErr := h.run(bundle, input, bias)
	closeErr := bundle.Close()
	if runErr != nil {
		return nil, runErr
	}
	if closeErr != nil {
		return nil, fmt.Errorf("harness: teardown: %w", closeErr)
	}
	res.Timing.Wall = time.Since(start)
	return res, nil
}

func (h *Harness) run(bundle *Bundle, input, bias []float32) (*Result, error) {
	dev, err := SelectDevice(h.backend)
	if err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}
	bundle.Device = dev

	ctx, err := dev.CreateContext()
	if err != nil {
		return nil, fmt.Errorf("harness: create context: %w", err)
	}
	bundle.Context = ctx

	prog, err := BuildProgram(ctx, h.cfg.KernelPath)
	if err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}
	bundle.Program = prog

	queue, err := ctx.CreateQueue(true)
	if err != nil {
		return nil, fmt.Errorf("harness: create queue: %w", err)
	}
	bundle.Queue = queue

	kernel, err := prog.CreateKernel(h.cfg.KernelName)
	if err != nil {
		return nil, fmt.Errorf("harness: create kernel %q: %w", h.cfg.KernelName, err)
	}
	bundle.Kernel = kernel

	output, timing, err := h.dispatch(bundle, input, bias)
	if err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}

	if err := Verify(input, bias, output, h.cfg.Tolerance); err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}

	return &Result{Output: output, Timing: timing}, nil
}
