// Package customctx is a typed, enumerable key/value context layered on the
// diagnostic context (package mdc).
//
// The context has an explicit lifecycle on each local.Storage: it must be
// initialized with Init before any read or write, and Clear returns it to the
// uninitialized state. Operations on an uninitialized context fail with
// ErrNotInitialized instead of silently doing nothing.
//
// String parameters written with Put live in the diagnostic context so they
// show up on log lines; typed values written with PutTyped live in a separate
// map that can be copied and replaced as a whole.
package customctx

import (
	"reflect"

	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/mdc"
	"github.com/google/uuid"
	"github.com/huandu/go-clone"
	"github.com/rs/zerolog/log"
)

var slot = local.NewSlot("custom-context")

func typedMap(s *local.Storage) (Map, bool) {
	v, ok := s.Load(slot)
	if !ok {
		return nil, false
	}
	return v.(Map), true
}

func assertInitialized(s *local.Storage) (Map, error) {
	m, ok := typedMap(s)
	if !ok {
		return nil, ErrNotInitialized
	}
	return m, nil
}

func validate(p Param) error {
	if !p.Valid() {
		return &InvalidKeyError{Key: p.String()}
	}
	return nil
}

// IsInitialized reports whether Init (or ReplaceMap) ran on s since the last
// Clear.
func IsInitialized(s *local.Storage) bool {
	_, ok := typedMap(s)
	return ok
}

// Init initializes the context on s and seeds the diagnostic context with a
// fresh request id and correlation id.
func Init(s *local.Storage) error {
	if IsInitialized(s) {
		return ErrAlreadyInitialized
	}
	if s == nil {
		return ErrNotInitialized
	}
	s.Store(slot, Map{})
	requestID := uuid.NewString()
	correlationID := uuid.NewString()
	mdc.Put(s, RequestID.Key(), requestID)
	mdc.Put(s, CorrelationID.Key(), correlationID)

	log.Trace().
		Str("component", "customctx").
		Str("storage", s.Name()).
		Str("request_id", requestID).
		Str("correlation_id", correlationID).
		Msg("custom context initialized")
	return nil
}

// Put stores a string parameter in the diagnostic context.
func Put(s *local.Storage, p Param, value string) error {
	if _, err := assertInitialized(s); err != nil {
		return err
	}
	if err := validate(p); err != nil {
		return err
	}
	mdc.Put(s, p.Key(), value)
	return nil
}

// Get reads a string parameter from the diagnostic context.
func Get(s *local.Storage, p Param) (string, error) {
	if _, err := assertInitialized(s); err != nil {
		return "", err
	}
	if err := validate(p); err != nil {
		return "", err
	}
	return mdc.Get(s, p.Key()), nil
}

// Remove deletes a string parameter from the diagnostic context.
func Remove(s *local.Storage, p Param) error {
	if _, err := assertInitialized(s); err != nil {
		return err
	}
	if err := validate(p); err != nil {
		return err
	}
	mdc.Remove(s, p.Key())
	return nil
}

// PutTyped stores v in the typed map. Storing the zero Value removes p; a
// value whose kind differs from the one p declares is rejected.
func PutTyped(s *local.Storage, p Param, v Value) error {
	m, err := assertInitialized(s)
	if err != nil {
		return err
	}
	if err := validate(p); err != nil {
		return err
	}
	if v.IsZero() {
		delete(m, p)
		return nil
	}
	if v.Kind() != p.Kind() {
		return &TypeMismatchError{Param: p, Want: p.Kind().String(), Got: v.Kind().String()}
	}
	m[p] = v
	return nil
}

// GetTyped reads p from the typed map and checks it against the kind p
// declares. An absent parameter yields the zero Value and no error.
func GetTyped(s *local.Storage, p Param) (Value, error) {
	m, err := assertInitialized(s)
	if err != nil {
		return Value{}, err
	}
	if err := validate(p); err != nil {
		return Value{}, err
	}
	v, ok := m[p]
	if !ok {
		return Value{}, nil
	}
	if p.Kind() == KindString && v.Kind() != KindString {
		return Value{}, &TypeMismatchError{Param: p, Want: p.Kind().String(), Got: v.Kind().String()}
	}
	return v, nil
}

// GetAs reads p from the typed map as a T.
func GetAs[T any](s *local.Storage, p Param) (T, error) {
	var zero T
	v, err := GetTyped(s, p)
	if err != nil || v.IsZero() {
		return zero, err
	}
	t, ok := v.Interface().(T)
	if !ok {
		return zero, &TypeMismatchError{
			Param: p,
			Want:  reflect.TypeOf((*T)(nil)).Elem().String(),
			Got:   reflect.TypeOf(v.Interface()).String(),
		}
	}
	return t, nil
}

// RemoveTyped deletes p from the typed map.
func RemoveTyped(s *local.Storage, p Param) error {
	m, err := assertInitialized(s)
	if err != nil {
		return err
	}
	if err := validate(p); err != nil {
		return err
	}
	delete(m, p)
	return nil
}

// ContainsKey reports whether p is present in the typed map. It is false on
// an uninitialized context.
func ContainsKey(s *local.Storage, p Param) bool {
	m, ok := typedMap(s)
	if !ok {
		return false
	}
	_, ok = m[p]
	return ok
}

// CopyOfMap returns a deep copy of the typed map, or an empty map when the
// context is not initialized.
func CopyOfMap(s *local.Storage) Map {
	m, ok := typedMap(s)
	if !ok || len(m) == 0 {
		return Map{}
	}
	return clone.Clone(m).(Map)
}

// CopyOfContextMap returns a copy of the underlying diagnostic context.
func CopyOfContextMap(s *local.Storage) map[string]string {
	return mdc.CopyOfContextMap(s)
}

// ReplaceMap installs a deep copy of m as the typed map, initializing the
// context if needed. The diagnostic context is left untouched.
func ReplaceMap(s *local.Storage, m Map) {
	if s == nil {
		return
	}
	if len(m) == 0 {
		s.Store(slot, Map{})
		return
	}
	s.Store(slot, clone.Clone(m).(Map))
}

// Clear uninitializes the context and clears the diagnostic context.
func Clear(s *local.Storage) {
	mdc.Clear(s)
	s.Delete(slot)
}
