// Package locale holds the active locale and time zone of the goroutine that
// owns a local.Storage.
package locale

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/pkg/errors"
	"golang.org/x/text/language"
)

// Context is a locale / time zone pair. The zero value means "unset".
type Context struct {
	Tag      language.Tag
	Location *time.Location
}

// IsZero reports whether neither a language nor a location is set.
func (c Context) IsZero() bool {
	return c.Tag == language.Und && c.Location == nil
}

// TimeZone returns the location, defaulting to UTC.
func (c Context) TimeZone() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c Context) String() string {
	return fmt.Sprintf("%s[%s]", c.Tag, c.TimeZone())
}

// Parse builds a Context from a BCP 47 tag and an IANA zone name. An empty
// zone means UTC.
func Parse(tag string, zone string) (Context, error) {
	t, err := language.Parse(tag)
	if err != nil {
		return Context{}, errors.Wrapf(err, "invalid language tag %q", tag)
	}
	loc := time.UTC
	if zone != "" {
		loc, err = time.LoadLocation(zone)
		if err != nil {
			return Context{}, errors.Wrapf(err, "invalid time zone %q", zone)
		}
	}
	return Context{Tag: t, Location: loc}, nil
}

// FromAcceptLanguage picks the preferred tag of an Accept-Language header and
// pairs it with the location of fallback. The fallback is returned untouched
// when the header is empty or unparseable.
func FromAcceptLanguage(header string, fallback Context) Context {
	if header == "" {
		return fallback
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return fallback
	}
	return Context{Tag: tags[0], Location: fallback.Location}
}

var defaultContext atomic.Value

func init() {
	defaultContext.Store(Context{Tag: language.AmericanEnglish, Location: time.UTC})
}

// SetDefault configures the process-wide default locale.
func SetDefault(c Context) {
	defaultContext.Store(c)
}

// Default returns the process-wide default locale.
func Default() Context {
	return defaultContext.Load().(Context)
}

var slot = local.NewSlot("locale")

// Get returns the locale explicitly set on s.
func Get(s *local.Storage) (Context, bool) {
	v, ok := s.Load(slot)
	if !ok {
		return Context{}, false
	}
	return v.(Context), true
}

// Set makes c the active locale of s. Setting the zero Context resets.
func Set(s *local.Storage, c Context) {
	if c.IsZero() {
		Reset(s)
		return
	}
	s.Store(slot, c)
}

// Reset removes the locale of s.
func Reset(s *local.Storage) {
	s.Delete(slot)
}

// Current returns the locale of s, falling back to Default.
func Current(s *local.Storage) Context {
	if c, ok := Get(s); ok {
		return c
	}
	return Default()
}
