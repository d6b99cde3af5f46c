package accessors

import (
	"maps"

	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/propagation"
)

// HeaderAccessor carries the inbound request headers as a plain
// map[string]string. Values are opaque.
type HeaderAccessor struct {
	slot *local.Slot
}

var _ propagation.Accessor = (*HeaderAccessor)(nil)

func NewHeaderAccessor() *HeaderAccessor {
	return &HeaderAccessor{slot: local.NewSlot(HeadersKey)}
}

func (a *HeaderAccessor) Key() string { return HeadersKey }

func (a *HeaderAccessor) Get(s *local.Storage) (any, error) {
	h := a.Headers(s)
	if len(h) == 0 {
		return nil, nil
	}
	return h, nil
}

func (a *HeaderAccessor) Set(s *local.Storage, v any) error {
	if v == nil {
		return nil
	}
	h, ok := v.(map[string]string)
	if !ok {
		return propagation.UnexpectedTypeError(HeadersKey, "map[string]string", v)
	}
	a.SetHeaders(s, h)
	return nil
}

func (a *HeaderAccessor) Clear(s *local.Storage) error {
	s.Delete(a.slot)
	return nil
}

// Headers returns a copy of the stored headers, or nil.
func (a *HeaderAccessor) Headers(s *local.Storage) map[string]string {
	v, ok := s.Load(a.slot)
	if !ok {
		return nil
	}
	return maps.Clone(v.(map[string]string))
}

// SetHeaders stores a copy of h. A nil map is ignored.
func (a *HeaderAccessor) SetHeaders(s *local.Storage, h map[string]string) {
	if h == nil {
		return
	}
	s.Store(a.slot, maps.Clone(h))
}
