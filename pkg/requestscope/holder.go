package requestscope

import (
	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/pkg/errors"
)

var slot = local.NewSlot("request-scope")

// Bind makes a the ambient request scope of s. Attribute bags of completed
// requests are rejected with ErrRequestInactive.
func Bind(s *local.Storage, a Attributes) error {
	if a == nil {
		Reset(s)
		return nil
	}
	if s == nil {
		return errors.New("no storage to bind request scope to")
	}
	if act, ok := a.(Activatable); ok && !act.Active() {
		return ErrRequestInactive
	}
	s.Store(slot, a)
	return nil
}

// Current returns the ambient request scope of s.
func Current(s *local.Storage) (Attributes, bool) {
	v, ok := s.Load(slot)
	if !ok {
		return nil, false
	}
	return v.(Attributes), true
}

// Reset unbinds the ambient request scope of s.
func Reset(s *local.Storage) {
	s.Delete(slot)
}
