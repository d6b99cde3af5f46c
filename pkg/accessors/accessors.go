// Package accessors holds the built-in propagation accessors: inbound
// headers, the custom context, the mapped diagnostic context, the request
// attribute scope and the locale.
package accessors

import (
	"github.com/go-go-golems/ctxrelay/pkg/propagation"
)

const (
	HeadersKey      = "headers-context"
	CustomKey       = "dt-context"
	MDCKey          = "mdc-context"
	RequestScopeKey = "request-attributes"
	LocaleKey       = "locale-context"
)

// Set groups the built-in accessors so hooks can reach each of them with its
// concrete type.
type Set struct {
	Headers      *HeaderAccessor
	Custom       *CustomContextAccessor
	MDC          *MDCAccessor
	RequestScope *RequestScopeAccessor
	Locale       *LocaleAccessor
}

// Defaults creates a fresh set of the built-in accessors.
func Defaults() *Set {
	return &Set{
		Headers:      NewHeaderAccessor(),
		Custom:       NewCustomContextAccessor(),
		MDC:          NewMDCAccessor(),
		RequestScope: NewRequestScopeAccessor(),
		Locale:       NewLocaleAccessor(),
	}
}

// List returns the accessors in registration order.
func (s *Set) List() []propagation.Accessor {
	return []propagation.Accessor{
		s.Headers,
		s.Custom,
		s.MDC,
		s.RequestScope,
		s.Locale,
	}
}

// NewManager registers the built-in accessors followed by extra.
func (s *Set) NewManager(extra ...propagation.Accessor) (*propagation.Manager, error) {
	return propagation.NewManager(append(s.List(), extra...)...)
}
