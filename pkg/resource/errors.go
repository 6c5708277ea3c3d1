package resource

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

var (
	// ErrUnsupportedFamily means no handler exists for the resource family.
	ErrUnsupportedFamily = errors.New("unsupported family")
	// ErrUnsupportedAction means the handler does not implement the action kind.
	ErrUnsupportedAction = errors.New("unsupported action")
	// ErrValidation means parameters are missing or invalid for the action kind.
	ErrValidation = errors.New("validation error")
	// ErrInvalidTransition means a command state change would move backwards.
	ErrInvalidTransition = errors.New("invalid command transition")
	// ErrNotFound means the target resource is not in the latest snapshot.
	ErrNotFound = errors.New("resource not found")
	// ErrAmbiguousKey means a key without a group matches resources in several groups.
	ErrAmbiguousKey = fmt.Errorf("%w: key matches more than one resource", ErrValidation)
)

// ProviderError is a downstream call failure (network, auth, throttling, rejection).
type ProviderError struct {
	Family Family
	Op     string
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Family, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Code returns the provider error code when the SDK exposes one.
func (e *ProviderError) Code() string {
	var apiErr smithy.APIError
	if errors.As(e.Err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsProviderError reports whether err wraps a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
