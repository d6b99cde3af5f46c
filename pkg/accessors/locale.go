package accessors

import (
	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/locale"
	"github.com/go-go-golems/ctxrelay/pkg/propagation"
)

type LocaleAccessor struct {
	slot *local.Slot
}

var _ propagation.Accessor = (*LocaleAccessor)(nil)

func NewLocaleAccessor() *LocaleAccessor {
	return &LocaleAccessor{slot: local.NewSlot(LocaleKey)}
}

func (a *LocaleAccessor) Key() string { return LocaleKey }

func (a *LocaleAccessor) Get(s *local.Storage) (any, error) {
	if v, ok := s.Load(a.slot); ok {
		return v, nil
	}
	if c, ok := locale.Get(s); ok {
		return c, nil
	}
	return nil, nil
}

// Set accepts a locale.Context; a zero context is treated as empty.
func (a *LocaleAccessor) Set(s *local.Storage, v any) error {
	if v == nil {
		return nil
	}
	c, ok := v.(locale.Context)
	if !ok {
		return propagation.UnexpectedTypeError(LocaleKey, "locale.Context", v)
	}
	if c.IsZero() {
		return nil
	}
	s.Store(a.slot, c)
	locale.Set(s, c)
	return nil
}

func (a *LocaleAccessor) Clear(s *local.Storage) error {
	s.Delete(a.slot)
	locale.Reset(s)
	return nil
}
