package compute

import "testing"

func TestProfilingTimes_KernelNanos(t *testing.T) {
	p := ProfilingTimes{Queued: 10, Submitted: 20, Start: 30, End: 75}
	if got := p.KernelNanos(); got != 45 {
		t.Errorf("Expected 45, got %d", got)
	}
}

func TestDeviceTypeString(t *testing.T) {
	testCases := []struct {
		t    DeviceType
		want string
	}{
		{Accelerator, "accelerator"},
		{CPU, "cpu"},
		{DeviceType(99), "unknown"},
	}
	for _, tc := range testCases {
		if got := tc.t.String(); got != tc.want {
			t.Errorf("DeviceType(%d): expected %q, got %q", tc.t, tc.want, got)
		}
	}
}
