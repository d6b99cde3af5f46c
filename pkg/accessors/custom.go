package accessors

import (
	"github.com/go-go-golems/ctxrelay/pkg/customctx"
	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/propagation"
	"github.com/huandu/go-clone"
)

// CustomContextAccessor carries the typed custom context map.
//
// Get never reports empty: an uninitialized store is captured as an empty
// map, which initializes the store on the goroutine it is restored on.
type CustomContextAccessor struct {
	slot *local.Slot
}

var _ propagation.Accessor = (*CustomContextAccessor)(nil)

func NewCustomContextAccessor() *CustomContextAccessor {
	return &CustomContextAccessor{slot: local.NewSlot(CustomKey)}
}

func (a *CustomContextAccessor) Key() string { return CustomKey }

func (a *CustomContextAccessor) Get(s *local.Storage) (any, error) {
	if v, ok := s.Load(a.slot); ok {
		return clone.Clone(v).(customctx.Map), nil
	}
	return customctx.CopyOfMap(s), nil
}

func (a *CustomContextAccessor) Set(s *local.Storage, v any) error {
	if v == nil {
		return nil
	}
	m, ok := v.(customctx.Map)
	if !ok {
		return propagation.UnexpectedTypeError(CustomKey, "customctx.Map", v)
	}
	a.Store(s, m)
	customctx.ReplaceMap(s, m)
	return nil
}

func (a *CustomContextAccessor) Clear(s *local.Storage) error {
	s.Delete(a.slot)
	customctx.Clear(s)
	return nil
}

// Store writes a copy of m into the accessor slot without touching the store.
func (a *CustomContextAccessor) Store(s *local.Storage, m customctx.Map) {
	if m == nil {
		return
	}
	s.Store(a.slot, clone.Clone(m).(customctx.Map))
}

// Stored reports the map held in the accessor slot, if any.
func (a *CustomContextAccessor) Stored(s *local.Storage) (customctx.Map, bool) {
	v, ok := s.Load(a.slot)
	if !ok {
		return nil, false
	}
	return v.(customctx.Map), true
}
