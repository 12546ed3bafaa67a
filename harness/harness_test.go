package harness

import (
	"testing"

	"github.com/hostbench/kernprof/compute"
	"github.com/hostbench/kernprof/compute/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const addSource = `
@kernel void add(const float *src,
                 const float *bias,
                 float *dst,
                 const int n) {
  for (int i = 0; i < n; ++i; @tile(256, @outer, @inner)) {
    dst[i] = src[i] + bias[0];
  }
}
`

// requireBalanced asserts that every handle kind was released exactly
// as often as it was acquired, with no double releases.
func requireBalanced(t *testing.T, backend *mock.Backend) {
	t.Helper()
	for kind, c := range backend.Counts() {
		assert.Equal(t, c.Acquired, c.Released, "%s: acquired %d, released %d", kind, c.Acquired, c.Released)
		assert.Zero(t, c.DoubleReleased, "%s released twice", kind)
	}
}

func newTestHarness(t *testing.T, size int, opts ...mock.Option) (*Harness, *mock.Backend) {
	t.Helper()
	backend := mock.New(opts...)
	h := New(Config{
		ArraySize:  size,
		KernelPath: writeSource(t, addSource),
	}, backend)
	return h, backend
}

func TestHarness_Run(t *testing.T) {
	h, backend := newTestHarness(t, 4)

	input := []float32{0, 1, 2, 3}
	bias := []float32{10000, 10000, 10000, 10000}

	res, err := h.Run(input, bias)
	require.NoError(t, err)
	require.Equal(t, []float32{10000, 10001, 10002, 10003}, res.Output)

	d := res.Timing.Device
	assert.LessOrEqual(t, d.Queued, d.Submitted)
	assert.LessOrEqual(t, d.Submitted, d.Start)
	assert.LessOrEqual(t, d.Start, d.End)
	assert.Equal(t, d.End-d.Start, uint64(res.Timing.Kernel))

	requireBalanced(t, backend)
}

func TestHarness_RunDefaultSize(t *testing.T) {
	h, backend := newTestHarness(t, 0) // 0 takes the default
	require.Equal(t, DefaultArraySize, h.Config().ArraySize)

	input := make([]float32, DefaultArraySize)
	bias := make([]float32, DefaultArraySize)
	for i := range input {
		input[i] = float32(i)
		bias[i] = 10000
	}

	res, err := h.Run(input, bias)
	require.NoError(t, err)
	for _, i := range []int{0, 1, DefaultArraySize / 2, DefaultArraySize - 1} {
		require.Equal(t, input[i]+10000, res.Output[i], "index %d", i)
	}
	requireBalanced(t, backend)
}

func TestHarness_RunIsIdempotent(t *testing.T) {
	h, backend := newTestHarness(t, 16)

	input := make([]float32, 16)
	bias := make([]float32, 16)
	for i := range input {
		input[i] = float32(i) * 0.5
		bias[i] = 10000
	}

	first, err := h.Run(input, bias)
	require.NoError(t, err)
	second, err := h.Run(input, bias)
	require.NoError(t, err)

	require.Equal(t, first.Output, second.Output)
	requireBalanced(t, backend)
}

func TestHarness_InputLengthChecked(t *testing.T) {
	h, _ := newTestHarness(t, 8)
	_, err := h.Run(make([]float32, 4), make([]float32, 8))
	require.Error(t, err)
}

func TestHarness_MissingKernelSource(t *testing.T) {
	backend := mock.New()
	h := New(Config{ArraySize: 4, KernelPath: "does/not/exist.okl"}, backend)

	_, err := h.Run(make([]float32, 4), make([]float32, 4))
	require.ErrorIs(t, err, ErrSourceNotFound)

	// No program was ever created; the context still came and went.
	counts := backend.Counts()
	assert.Zero(t, counts["program"].Acquired)
	assert.Equal(t, 1, counts["context"].Acquired)
	requireBalanced(t, backend)
}

func TestHarness_CompileFailure(t *testing.T) {
	backend := mock.New()
	h := New(Config{
		ArraySize:  4,
		KernelPath: writeSource(t, "int broken(\n"),
	}, backend)

	_, err := h.Run(make([]float32, 4), make([]float32, 4))

	var buildErr *compute.BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.NotEmpty(t, buildErr.Log)

	// Compilation failed, so no kernel was ever created.
	assert.Zero(t, backend.Counts()["kernel"].Acquired)
	requireBalanced(t, backend)
}

func TestHarness_FailureTeardown(t *testing.T) {
	// Every injected failure must still leave the handle tallies
	// balanced: whatever a partial run acquired, teardown released.
	cases := []struct {
		name   string
		opts   []mock.Option
		target error
	}{
		{"QueueCreate", []mock.Option{mock.FailQueueCreate()}, nil},
		{"FirstBuffer", []mock.Option{mock.FailBufferCreate(0)}, compute.ErrBufferCreate},
		{"SecondBuffer", []mock.Option{mock.FailBufferCreate(1)}, compute.ErrBufferCreate},
		{"ThirdBuffer", []mock.Option{mock.FailBufferCreate(2)}, compute.ErrBufferCreate},
		{"ArgBind", []mock.Option{mock.FailArgBind(2)}, compute.ErrArgBind},
		{"Enqueue", []mock.Option{mock.FailEnqueue()}, compute.ErrEnqueue},
		{"ReadBack", []mock.Option{mock.FailReadBack()}, compute.ErrReadBack},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, backend := newTestHarness(t, 4, tc.opts...)
			_, err := h.Run(make([]float32, 4), make([]float32, 4))
			require.Error(t, err)
			if tc.target != nil {
				require.ErrorIs(t, err, tc.target)
			}
			requireBalanced(t, backend)
		})
	}
}

func TestHarness_VerificationFailure(t *testing.T) {
	h, backend := newTestHarness(t, 4)
	backend.Register("add", func(args []*mock.Buffer, globalSize int) error {
		out := args[2].Float32s()
		for i := 0; i < globalSize; i++ {
			out[i] = -1
		}
		return nil
	})

	_, err := h.Run([]float32{0, 1, 2, 3}, []float32{10000, 10000, 10000, 10000})

	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 0, mismatch.Index)
	assert.Equal(t, float64(10000), mismatch.Want)
	requireBalanced(t, backend)
}
