package operation

import "errors"

// Operation registry and contract errors.
var (
	// ErrNotFound is returned when an operation is not registered.
	ErrNotFound = errors.New("operation not found")

	// ErrNameEmpty is returned when an operation has no name.
	ErrNameEmpty = errors.New("operation name cannot be empty")

	// ErrAlreadyRegistered is returned when registering a duplicate.
	ErrAlreadyRegistered = errors.New("operation already registered")

	// ErrUnknownMethod is returned when an alternative method name is not
	// recognized by the operation.
	ErrUnknownMethod = errors.New("unknown alternative method")

	// ErrMissingParameter is returned when a required parameter is absent.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrInvalidParameter is returned when a parameter has the wrong type
	// or an unusable value.
	ErrInvalidParameter = errors.New("invalid parameter")
)
