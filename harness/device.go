package harness

import (
	"fmt"

	"github.com/hostbench/kernprof/compute"
)

// SelectDevice picks the device a run will execute on. It queries the
// backend for one platform and asks it for an accelerator-class
// device, falling back to a general-purpose processor when the
// platform has none. There is no retry; callers treat failure as fatal
// for the run.
func SelectDevice(b compute.Backend) (compute.Device, error) {
	platforms, err := b.Platforms()
	if err != nil {
		return nil, fmt.Errorf("platform query: %v: %w", err, compute.ErrNoPlatform)
	}
	if len(platforms) == 0 {
		return nil, compute.ErrNoPlatform
	}
	p := platforms[0]

	devices, err := p.Devices(compute.Accelerator)
	if err != nil || len(devices) == 0 {
		devices, err = p.Devices(compute.CPU)
		if err != nil {
			return nil, fmt.Errorf("device query: %v: %w", err, compute.ErrNoDevice)
		}
	}
	if len(devices) == 0 {
		return nil, compute.ErrNoDevice
	}
	return devices[0], nil
}
