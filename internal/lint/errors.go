package lint

import "errors"

var (
	// ErrInvocationFailure is returned when the validator could not run or
	// exited with a code above 1. No diagnostics are derived from such a run.
	ErrInvocationFailure = errors.New("validator invocation failed")

	// ErrMalformedOutput is returned when the validator output holds no
	// parseable JSON object.
	ErrMalformedOutput = errors.New("malformed validator output")
)
