package harness

import (
	"fmt"

	"gonum.org/v1/gonum/floats/scalar"
)

// MismatchError reports the first output element that deviates from
// the reference beyond tolerance.
type MismatchError struct {
	Index int
	Want  float64
	Got   float64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("verify: index %d: expected %g, got %g", e.Index, e.Want, e.Got)
}

// Verify compares output element-wise against the CPU reference
// bias[i] + input[i] and fails at the first index outside tol.
func Verify(input, bias, output []float32, tol float64) error {
	if len(output) != len(input) || len(bias) != len(input) {
		return fmt.Errorf("verify: length mismatch: input %d, bias %d, output %d",
			len(input), len(bias), len(output))
	}
	for i := range output {
		want := float64(bias[i]) + float64(input[i])
		if !scalar.EqualWithinAbs(float64(output[i]), want, tol) {
			return &MismatchError{Index: i, Want: want, Got: float64(output[i])}
		}
	}
	return nil
}
