package accessors

import (
	"maps"

	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/mdc"
	"github.com/go-go-golems/ctxrelay/pkg/propagation"
)

// MDCAccessor carries the mapped diagnostic context. It keeps its own copy in
// a slot and mirrors writes into the mdc package so log lines pick them up.
type MDCAccessor struct {
	slot *local.Slot
}

var _ propagation.Accessor = (*MDCAccessor)(nil)

func NewMDCAccessor() *MDCAccessor {
	return &MDCAccessor{slot: local.NewSlot(MDCKey)}
}

func (a *MDCAccessor) Key() string { return MDCKey }

// Get prefers the explicit copy and falls back to the live diagnostic
// context.
func (a *MDCAccessor) Get(s *local.Storage) (any, error) {
	if v, ok := s.Load(a.slot); ok {
		if m := v.(map[string]string); len(m) > 0 {
			return maps.Clone(m), nil
		}
	}
	if m := mdc.CopyOfContextMap(s); len(m) > 0 {
		return m, nil
	}
	return nil, nil
}

func (a *MDCAccessor) Set(s *local.Storage, v any) error {
	if v == nil {
		return nil
	}
	m, ok := v.(map[string]string)
	if !ok {
		return propagation.UnexpectedTypeError(MDCKey, "map[string]string", v)
	}
	s.Store(a.slot, maps.Clone(m))
	mdc.SetContextMap(s, m)
	return nil
}

func (a *MDCAccessor) Clear(s *local.Storage) error {
	s.Delete(a.slot)
	mdc.Clear(s)
	return nil
}
