package common

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError couples a short machine-readable code with a message and an
// optional cause. The cause carries the sentinel class for errors.Is.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Error classes of the digitization pipeline.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrMissingInput marks an expected input (image, transcription) that was
	// absent when a stage needed it. Recoverable: the unit is skipped or the
	// field marked incomplete, processing continues.
	ErrMissingInput = errors.New("missing input")

	// ErrCacheCorrupt marks an unreadable or unparseable cache entry. Always
	// degraded to a cache miss by the caller, never propagated as a failure.
	ErrCacheCorrupt = errors.New("corrupt cache entry")

	// ErrArbiterContract marks an arbiter response that violated the expected
	// shape. The affected field is marked needs-review; no value is invented.
	ErrArbiterContract = errors.New("arbiter contract violation")

	// ErrExternalService marks a failed call to the vision model, arbiter
	// model or specimen warehouse. Recoverable at the unit that needed it.
	ErrExternalService = errors.New("external service failure")

	// ErrStorage marks an unusable storage layer (cache root, database).
	// The only error class that aborts a whole run.
	ErrStorage = errors.New("storage unavailable")
)

// IsFatal reports whether err should abort the whole run rather than the
// current unit of work.
func IsFatal(err error) bool {
	return errors.Is(err, ErrStorage)
}

// InvalidArgumentError converts a validation message into the gRPC
// status handlers return to callers.
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}
