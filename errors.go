package neuralstyle

import "fmt"

// ModelFormatError reports stored layer data that does not match the
// expected feature topology at a position.
type ModelFormatError struct {
	Index    int
	Expected string
	Got      string
	Reason   string
}

func (e *ModelFormatError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("model format: layer %d (%s): %s", e.Index, e.Expected, e.Reason)
	}
	return fmt.Sprintf("model format: layer %d: expected %q, got %q", e.Index, e.Expected, e.Got)
}

// DimensionMismatchError reports an input image whose shape differs from the
// configured one.
type DimensionMismatchError struct {
	Image string
	Want  [3]int // height, width, channels
	Got   [3]int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s image is %dx%dx%d, want %dx%dx%d",
		e.Image, e.Got[1], e.Got[0], e.Got[2], e.Want[1], e.Want[0], e.Want[2])
}

// NumericInstabilityError is returned when the objective, the gradient or the
// canvas stops being finite. The run cannot continue after it.
type NumericInstabilityError struct {
	Iteration int
	Quantity  string
}

func (e *NumericInstabilityError) Error() string {
	return fmt.Sprintf("non-finite %s at iteration %d", e.Quantity, e.Iteration)
}
