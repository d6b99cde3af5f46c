// Package mdc is a mapped diagnostic context: string key/value pairs attached
// to the goroutine that owns a local.Storage, picked up by every log line
// emitted through Logger.
package mdc

import (
	"context"
	"maps"
	"sort"

	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var slot = local.NewSlot("mdc")

func contextMap(s *local.Storage, create bool) map[string]string {
	if v, ok := s.Load(slot); ok {
		return v.(map[string]string)
	}
	if !create || s == nil {
		return nil
	}
	m := map[string]string{}
	s.Store(slot, m)
	return m
}

// Put sets key to value. An empty key is ignored.
func Put(s *local.Storage, key, value string) {
	if key == "" {
		return
	}
	if m := contextMap(s, true); m != nil {
		m[key] = value
	}
}

// Get returns the value of key, or "" when unset.
func Get(s *local.Storage, key string) string {
	return contextMap(s, false)[key]
}

// Lookup returns the value of key and whether it was set.
func Lookup(s *local.Storage, key string) (string, bool) {
	v, ok := contextMap(s, false)[key]
	return v, ok
}

// Remove deletes key.
func Remove(s *local.Storage, key string) {
	m := contextMap(s, false)
	if m == nil {
		return
	}
	delete(m, key)
	if len(m) == 0 {
		s.Delete(slot)
	}
}

// CopyOfContextMap returns a copy of the whole context, or nil if it is empty.
func CopyOfContextMap(s *local.Storage) map[string]string {
	m := contextMap(s, false)
	if len(m) == 0 {
		return nil
	}
	return maps.Clone(m)
}

// SetContextMap replaces the whole context with a copy of m.
func SetContextMap(s *local.Storage, m map[string]string) {
	if s == nil {
		return
	}
	if len(m) == 0 {
		s.Delete(slot)
		return
	}
	s.Store(slot, maps.Clone(m))
}

// Clear removes every key.
func Clear(s *local.Storage) {
	s.Delete(slot)
}

// Keys returns the sorted keys currently set.
func Keys(s *local.Storage) []string {
	m := contextMap(s, false)
	ret := make([]string, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

// Logger returns the global logger enriched with the diagnostic context of s.
func Logger(s *local.Storage) zerolog.Logger {
	m := contextMap(s, false)
	if len(m) == 0 {
		return log.Logger
	}
	c := log.With()
	for _, k := range Keys(s) {
		c = c.Str(k, m[k])
	}
	return c.Logger()
}

// Ctx is Logger for the storage attached to ctx.
func Ctx(ctx context.Context) *zerolog.Logger {
	s, _ := local.FromContext(ctx)
	l := Logger(s)
	return &l
}
