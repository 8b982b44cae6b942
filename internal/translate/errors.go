package translate

import (
	"errors"
	"fmt"
)

// InferenceError reports that the model endpoint could not produce a
// translation: unreachable, non-success status, or a broken stream.
type InferenceError struct {
	Model   string
	Partial bool // Some fragments were delivered before the failure.
	Err     error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference with %s failed: %v", e.Model, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// TruncationError reports that generation stopped at the output token cap,
// so the chunk's translation is incomplete.
type TruncationError struct {
	Limit     int
	Generated int
}

func (e *TruncationError) Error() string {
	return fmt.Sprintf("translation stopped at the output limit (%d of %d tokens)", e.Generated, e.Limit)
}

// IsTruncation reports whether err is a TruncationError.
func IsTruncation(err error) bool {
	var te *TruncationError
	return errors.As(err, &te)
}
