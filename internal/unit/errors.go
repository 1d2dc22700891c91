package unit

import "errors"

var (
	// ErrNotFound is returned when a unit's main artifacts or metadata
	// document are missing.
	ErrNotFound = errors.New("deployment unit not found")

	// ErrClassNotFound is returned when a class listed in workflowClasses
	// does not resolve inside the unit's context.
	ErrClassNotFound = errors.New("class not found in deployment unit")

	// ErrIO is returned when the metadata document is unreadable or malformed.
	ErrIO = errors.New("deployment unit metadata unreadable")

	// ErrBadSignature is returned when a tagged member does not satisfy the
	// entry-point calling convention.
	ErrBadSignature = errors.New("entry point has an invalid signature")

	// ErrInvalidArtifact is returned when a code artifact fails to evaluate.
	ErrInvalidArtifact = errors.New("invalid code artifact")
)
