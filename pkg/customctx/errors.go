package customctx

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotInitialized     = errors.New("custom context is not initialized")
	ErrAlreadyInitialized = errors.New("custom context already initialized")
	ErrTypeMismatch       = errors.New("custom context type mismatch")
	ErrInvalidKey         = errors.New("invalid custom context key")
)

// TypeMismatchError reports a typed read whose stored value does not have
// the expected type.
type TypeMismatchError struct {
	Param Param
	Want  string
	Got   string
}

func (e *TypeMismatchError) Error() string {
	if e == nil {
		return ErrTypeMismatch.Error()
	}
	return fmt.Sprintf("%s for %s: want %s, got %s", ErrTypeMismatch, e.Param, e.Want, e.Got)
}

func (e *TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }

// InvalidKeyError reports a parameter outside the closed set, or one with
// an empty key.
type InvalidKeyError struct {
	Key string
}

func (e *InvalidKeyError) Error() string {
	if e == nil {
		return ErrInvalidKey.Error()
	}
	return fmt.Sprintf("%s: %q", ErrInvalidKey, e.Key)
}

func (e *InvalidKeyError) Is(target error) bool { return target == ErrInvalidKey }
