package harness

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/hostbench/kernprof/compute"
)

// releaseRecorder appends its name to a shared log when released, so
// tests can assert teardown order.
type releaseRecorder struct {
	name string
	log  *[]string
	err  error
}

func (r *releaseRecorder) Release() error {
	*r.log = append(*r.log, r.name)
	return r.err
}

type fakeKernel struct{ releaseRecorder }

func (f *fakeKernel) SetArg(int, compute.Buffer) error { return nil }

type fakeBuffer struct{ releaseRecorder }

func (f *fakeBuffer) Size() int64 { return 0 }

type fakeQueue struct{ releaseRecorder }

func (f *fakeQueue) EnqueueKernel(compute.Kernel, int) (compute.Event, error) { return nil, nil }
func (f *fakeQueue) ReadBuffer(compute.Buffer, unsafe.Pointer, int64) error   { return nil }
func (f *fakeQueue) Finish() error                                            { return nil }

type fakeProgram struct{ releaseRecorder }

func (f *fakeProgram) CreateKernel(string) (compute.Kernel, error) { return nil, nil }

type fakeContext struct{ releaseRecorder }

func (f *fakeContext) CreateQueue(bool) (compute.Queue, error) { return nil, nil }
func (f *fakeContext) CreateBuffer(compute.MemFlags, int64, unsafe.Pointer) (compute.Buffer, error) {
	return nil, nil
}
func (f *fakeContext) BuildProgram(string) (compute.Program, error) { return nil, nil }

func fullBundle(log *[]string) *Bundle {
	return &Bundle{
		Kernel:  &fakeKernel{releaseRecorder{name: "kernel", log: log}},
		Input:   &fakeBuffer{releaseRecorder{name: "input", log: log}},
		Bias:    &fakeBuffer{releaseRecorder{name: "bias", log: log}},
		Output:  &fakeBuffer{releaseRecorder{name: "output", log: log}},
		Queue:   &fakeQueue{releaseRecorder{name: "queue", log: log}},
		Program: &fakeProgram{releaseRecorder{name: "program", log: log}},
		Context: &fakeContext{releaseRecorder{name: "context", log: log}},
	}
}

func TestBundle_CloseOrder(t *testing.T) {
	var log []string
	b := fullBundle(&log)

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	want := []string{"kernel", "input", "bias", "output", "queue", "program", "context"}
	if len(log) != len(want) {
		t.Fatalf("Expected %d releases, got %d: %v", len(want), len(log), log)
	}
	for i, name := range want {
		if log[i] != name {
			t.Errorf("Release %d: expected %s, got %s", i, name, log[i])
		}
	}
}

func TestBundle_CloseIsIdempotent(t *testing.T) {
	var log []string
	b := fullBundle(&log)

	if err := b.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
	if len(log) != 7 {
		t.Errorf("Expected 7 releases after double close, got %d", len(log))
	}
}

func TestBundle_ClosePartial(t *testing.T) {
	// Only the handles the failed construction reached get released.
	var log []string
	b := &Bundle{
		Context: &fakeContext{releaseRecorder{name: "context", log: &log}},
		Program: &fakeProgram{releaseRecorder{name: "program", log: &log}},
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	want := []string{"program", "context"}
	if len(log) != len(want) || log[0] != want[0] || log[1] != want[1] {
		t.Errorf("Expected releases %v, got %v", want, log)
	}
}

func TestBundle_CloseEmpty(t *testing.T) {
	b := &Bundle{}
	if err := b.Close(); err != nil {
		t.Errorf("Closing an empty bundle failed: %v", err)
	}
}

func TestBundle_CloseKeepsGoingOnError(t *testing.T) {
	var log []string
	releaseErr := errors.New("release rejected")
	b := fullBundle(&log)
	b.Input = &fakeBuffer{releaseRecorder{name: "input", log: &log, err: releaseErr}}

	err := b.Close()
	if !errors.Is(err, releaseErr) {
		t.Errorf("Expected the input release error, got %v", err)
	}
	if len(log) != 7 {
		t.Errorf("Expected all 7 releases despite the failure, got %d: %v", len(log), log)
	}
}
