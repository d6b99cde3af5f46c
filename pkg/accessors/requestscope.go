package accessors

import (
	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/propagation"
	"github.com/go-go-golems/ctxrelay/pkg/requestscope"
	"github.com/rs/zerolog/log"
)

// RequestScopeAccessor carries the request attribute bag. Only detached
// scopes should travel to other goroutines; the inbound hook takes care of
// detaching before storing.
type RequestScopeAccessor struct {
	slot *local.Slot
}

var _ propagation.Accessor = (*RequestScopeAccessor)(nil)

func NewRequestScopeAccessor() *RequestScopeAccessor {
	return &RequestScopeAccessor{slot: local.NewSlot(RequestScopeKey)}
}

func (a *RequestScopeAccessor) Key() string { return RequestScopeKey }

func (a *RequestScopeAccessor) Get(s *local.Storage) (any, error) {
	if v, ok := s.Load(a.slot); ok {
		return v, nil
	}
	if attrs, ok := requestscope.Current(s); ok {
		return attrs, nil
	}
	return nil, nil
}

// Set stores the scope and binds it as the goroutine's current scope. A scope
// that can no longer be bound is still stored, and the failure is logged.
func (a *RequestScopeAccessor) Set(s *local.Storage, v any) error {
	if v == nil {
		return nil
	}
	attrs, ok := v.(requestscope.Attributes)
	if !ok {
		return propagation.UnexpectedTypeError(RequestScopeKey, "requestscope.Attributes", v)
	}
	s.Store(a.slot, attrs)
	if err := requestscope.Bind(s, attrs); err != nil {
		log.Debug().
			Err(err).
			Str("component", "accessors").
			Str("accessor", RequestScopeKey).
			Msg("could not bind request scope")
	}
	return nil
}

func (a *RequestScopeAccessor) Clear(s *local.Storage) error {
	s.Delete(a.slot)
	requestscope.Reset(s)
	return nil
}
