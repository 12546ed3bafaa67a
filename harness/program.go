package harness

import (
	"errors"
	"fmt"
	"os"

	"github.com/hostbench/kernprof/compute"
)

// ErrSourceNotFound reports a kernel source file that could not be
// read. It is surfaced before any program object is created.
var ErrSourceNotFound = errors.New("harness: kernel source not found")

// LoadKernelSource reads the entire kernel source file at path.
func LoadKernelSource(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%s: %v: %w", path, err, ErrSourceNotFound)
	}
	return string(data), nil
}

// BuildProgram reads the kernel source at path and compiles it for the
// context's device. There is no caching; every call recompiles. On a
// compilation failure the returned error chain carries the full build
// log as a *compute.BuildError.
func BuildProgram(ctx compute.Context, path string) (compute.Program, error) {
	source, err := LoadKernelSource(path)
	if err != nil {
		return nil, err
	}
	prog, err := ctx.BuildProgram(source)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", path, err)
	}
	return prog, nil
}
