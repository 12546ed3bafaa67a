package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hostbench/kernprof/compute"
	"github.com/hostbench/kernprof/compute/mock"
	"github.com/hostbench/kernprof/compute/occa"
	"github.com/hostbench/kernprof/compute/wgpu"
	"github.com/hostbench/kernprof/harness"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
)

const biasValue = 10000.0

var (
	backendName string
	arraySize   int
	kernelPath  string
	entryPoint  string
	tolerance   float64
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "kernprof",
	Short: "Dispatch one elementwise kernel to a compute device and profile it",
	Long: `kernprof offloads an elementwise add (output[i] = input[i] + bias) to a
compute device, reports the four device-side lifecycle timestamps of
the dispatch plus wall-clock time, and verifies the result against a
CPU reference.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}
		handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		slog.SetDefault(slog.New(handler))
	},
	RunE: runProfile,
}

func init() {
	rootCmd.Flags().StringVar(&backendName, "backend", "occa", "Compute backend: occa, webgpu, mock")
	rootCmd.Flags().IntVar(&arraySize, "size", harness.DefaultArraySize, "Element count of each buffer")
	rootCmd.Flags().StringVar(&kernelPath, "kernel", "", "Kernel source path (default per backend)")
	rootCmd.Flags().StringVar(&entryPoint, "entry", harness.DefaultKernelName, "Kernel entry point name")
	rootCmd.Flags().Float64Var(&tolerance, "tolerance", harness.DefaultTolerance, "Absolute verification tolerance per element")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func selectBackend(name string) (compute.Backend, string, error) {
	switch name {
	case "occa":
		return occa.New(), "kernels/add.okl", nil
	case "webgpu":
		return wgpu.New(), "kernels/add.wgsl", nil
	case "mock":
		return mock.New(), "kernels/add.okl", nil
	default:
		return nil, "", fmt.Errorf("unknown backend %q", name)
	}
}

func runProfile(cmd *cobra.Command, args []string) error {
	if arraySize < 2 {
		err := fmt.Errorf("size must be at least 2, have %d", arraySize)
		slog.Error("Invalid configuration", "error", err)
		return err
	}

	backend, defaultKernel, err := selectBackend(backendName)
	if err != nil {
		slog.Error("Backend selection failed", "error", err)
		return err
	}
	if kernelPath == "" {
		kernelPath = defaultKernel
	}

	h := harness.New(harness.Config{
		ArraySize:  arraySize,
		KernelPath: kernelPath,
		KernelName: entryPoint,
		Tolerance:  tolerance,
	}, backend)

	slog.Info("Starting run", "backend", backend.Name(), "size", arraySize, "kernel", kernelPath)

	input := make([]float32, arraySize)
	bias := make([]float32, arraySize)
	ramp := make([]float64, arraySize)
	floats.Span(ramp, 0, float64(arraySize-1))
	for i := range input {
		input[i] = float32(ramp[i])
		bias[i] = biasValue
	}

	res, err := h.Run(input, bias)
	if err != nil {
		report(err)
		return err
	}

	t := res.Timing
	fmt.Printf("t_queued at %d\n", t.Device.Queued)
	fmt.Printf("t_submit at %d\n", t.Device.Submitted)
	fmt.Printf("t_start at %d\n", t.Device.Start)
	fmt.Printf("t_end at %d\n", t.Device.End)
	fmt.Printf("kernel execute cost %d ns\n", t.Device.KernelNanos())
	fmt.Printf("total cost %.3f ms\n", float64(t.Wall.Microseconds())/1000.0)
	fmt.Println("ALL PASSED")
	return nil
}

// report prints the failure detail a caller of the binary needs: the
// full compiler log for build failures, the offending index and both
// values for verification failures.
func report(err error) {
	var buildErr *compute.BuildError
	if errors.As(err, &buildErr) {
		fmt.Println(buildErr.Log)
	}
	var mismatch *harness.MismatchError
	if errors.As(err, &mismatch) {
		fmt.Printf("%d %f vs %f\n", mismatch.Index, mismatch.Want, mismatch.Got)
	}
	slog.Error("Run failed", "error", err)
}
