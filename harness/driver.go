package harness

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/hostbench/kernprof/compute"
)

// TimingSample is the timing record of one dispatched run.
type TimingSample struct {
	// Device holds the four lifecycle timestamps of the kernel
	// submission, in device-clock nanoseconds.
	Device compute.ProfilingTimes
	// Kernel is the device-side execution time (end minus start).
	Kernel time.Duration
	// Wall is host wall-clock time for the whole run, selection
	// through verification.
	Wall time.Duration
}

const elemSize = 4 // float32

// dispatch creates the three device buffers, binds them as kernel
// arguments 0..2, enqueues the kernel over a one-dimensional domain of
// len(input) work items, blocks on the completion event, and reads the
// output back. The queue is drained before returning.
func (h *Harness) dispatch(b *Bundle, input, bias []float32) ([]float32, TimingSample, error) {
	n := len(input)
	size := int64(n) * elemSize
	var err error

	// Input and bias are device read-only and seeded from host memory.
	// The output is device-written and read back afterward, so it is
	// write-only with no host seed.
	b.Input, err = b.Context.CreateBuffer(compute.ReadOnly|compute.CopyHostPtr, size, unsafe.Pointer(&input[0]))
	if err != nil {
		return nil, TimingSample{}, fmt.Errorf("input buffer: %w", err)
	}
	b.Bias, err = b.Context.CreateBuffer(compute.ReadOnly|compute.CopyHostPtr, size, unsafe.Pointer(&bias[0]))
	if err != nil {
		return nil, TimingSample{}, fmt.Errorf("bias buffer: %w", err)
	}
	b.Output, err = b.Context.CreateBuffer(compute.WriteOnly, size, nil)
	if err != nil {
		return nil, TimingSample{}, fmt.Errorf("output buffer: %w", err)
	}

	// Each binding is checked on its own so an early failure cannot be
	// masked by a later success.
	for i, buf := range []compute.Buffer{b.Input, b.Bias, b.Output} {
		if err := b.Kernel.SetArg(i, buf); err != nil {
			return nil, TimingSample{}, fmt.Errorf("bind argument %d: %w", i, err)
		}
	}

	ev, err := b.Queue.EnqueueKernel(b.Kernel, n)
	if err != nil {
		return nil, TimingSample{}, fmt.Errorf("enqueue: %w", err)
	}
	defer ev.Release()

	if err := ev.Wait(); err != nil {
		return nil, TimingSample{}, fmt.Errorf("kernel execution: %w", err)
	}

	times, err := ev.Profile()
	if err != nil {
		return nil, TimingSample{}, fmt.Errorf("profiling read: %w", err)
	}

	out := make([]float32, n)
	if err := b.Queue.ReadBuffer(b.Output, unsafe.Pointer(&out[0]), size); err != nil {
		return nil, TimingSample{}, fmt.Errorf("read output: %w", err)
	}
	if err := b.Queue.Finish(); err != nil {
		return nil, TimingSample{}, fmt.Errorf("queue drain: %w", err)
	}

	sample := TimingSample{
		Device: times,
		Kernel: time.Duration(times.KernelNanos()),
	}
	return out, sample, nil
}
