package harness

import (
	"errors"
	"testing"
)

func TestVerify(t *testing.T) {
	input := []float32{0, 1, 2, 3}
	bias := []float32{10000, 10000, 10000, 10000}

	t.Run("Pass", func(t *testing.T) {
		output := []float32{10000, 10001, 10002, 10003}
		if err := Verify(input, bias, output, DefaultTolerance); err != nil {
			t.Errorf("Expected pass, got %v", err)
		}
	})

	t.Run("FirstOffendingIndex", func(t *testing.T) {
		output := []float32{10000, 10101, 10002, 10303}
		err := Verify(input, bias, output, DefaultTolerance)

		var mismatch *MismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("Expected a MismatchError, got %v", err)
		}
		if mismatch.Index != 1 {
			t.Errorf("Expected first mismatch at index 1, got %d", mismatch.Index)
		}
		if mismatch.Want != 10001 || mismatch.Got != 10101 {
			t.Errorf("Expected 10001 vs 10101, got %g vs %g", mismatch.Want, mismatch.Got)
		}
	})

	t.Run("WithinTolerance", func(t *testing.T) {
		output := []float32{10000, 10001, 10002, 10003.5}
		if err := Verify(input, bias, output, 1.0); err != nil {
			t.Errorf("Expected pass within loose tolerance, got %v", err)
		}
		if err := Verify(input, bias, output, DefaultTolerance); err == nil {
			t.Error("Expected failure at the default tolerance")
		}
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		if err := Verify(input, bias, []float32{10000}, DefaultTolerance); err == nil {
			t.Error("Expected an error for mismatched lengths")
		}
	})
}
