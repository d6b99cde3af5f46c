package propagation

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidKey      = errors.New("invalid accessor key")
	ErrDuplicateKey    = errors.New("duplicate accessor key")
	ErrAccessorFailure = errors.New("accessor failure")
	ErrUnexpectedType  = errors.New("unexpected value type")
)

// Op names the accessor operation that failed.
type Op string

const (
	OpGet   Op = "get"
	OpSet   Op = "set"
	OpClear Op = "clear"
)

// AccessorError wraps an error returned, or a panic raised, by one accessor.
type AccessorError struct {
	Key string
	Op  Op
	Err error
}

func (e *AccessorError) Error() string {
	if e == nil {
		return ErrAccessorFailure.Error()
	}
	return fmt.Sprintf("%s: %s %q: %v", ErrAccessorFailure, e.Op, e.Key, e.Err)
}

func (e *AccessorError) Unwrap() error { return e.Err }

func (e *AccessorError) Is(target error) bool { return target == ErrAccessorFailure }

// UnexpectedTypeError is returned by accessors handed a value they cannot
// store.
func UnexpectedTypeError(key string, want string, got any) error {
	return errors.Wrapf(ErrUnexpectedType, "%s: want %s, got %T", key, want, got)
}
