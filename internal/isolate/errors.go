package isolate

import "errors"

var (
	// ErrContextReleased is returned by any operation on a released context.
	ErrContextReleased = errors.New("isolated context released")

	// ErrSymbolNotFound is returned when a dotted name does not resolve to an
	// object inside the context.
	ErrSymbolNotFound = errors.New("symbol not found in context")

	// ErrResourceNotFound is returned when no resource root holds the name.
	ErrResourceNotFound = errors.New("resource not found in context")

	// ErrEvaluation is returned when a code artifact fails to compile or run.
	ErrEvaluation = errors.New("artifact evaluation failed")

	// ErrInvalidHandle is returned for handles not issued by the context.
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrEncoding is returned when call arguments or results cannot cross the
	// JSON calling convention.
	ErrEncoding = errors.New("value encoding failed")
)
