package harness

import (
	"fmt"

	"github.com/hostbench/kernprof/compute"
)

// Bundle aggregates every handle one run acquires. Construction is
// staged: fields are filled in as stages succeed, and Close releases
// whatever was acquired, in dependency order, exactly once. A stage
// failure therefore never strands earlier handles and never touches a
// handle that was never created.
//
// The device is referenced, not owned; releasing it is the backend's
// business (for OCCA it happens when the context is released).
type Bundle struct {
	Device  compute.Device
	Context compute.Context
	Program compute.Program
	Kernel  compute.Kernel
	Queue   compute.Queue
	Input   compute.Buffer
	Bias    compute.Buffer
	Output  compute.Buffer

	closed bool
}

type releaser interface {
	Release() error
}

// Close releases all owned handles in the order kernel, input, bias,
// output, queue, program, context. It keeps going past failures and
// returns the first error. Closing twice is a no-op.
func (b *Bundle) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	var firstErr error
	release := func(name string, h releaser) {
		if h == nil {
			return
		}
		if err := h.Release(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("release %s: %w", name, err)
		}
	}

	release("kernel", b.Kernel)
	release("input buffer", b.Input)
	release("bias buffer", b.Bias)
	release("output buffer", b.Output)
	release("queue", b.Queue)
	release("program", b.Program)
	release("context", b.Context)

	b.Kernel, b.Input, b.Bias, b.Output = nil, nil, nil, nil
	b.Queue, b.Program, b.Context = nil, nil, nil
	return firstErr
}
