// Package requestscope models the attribute bag of an in-flight request and a
// detached copy of it that stays usable after the request is gone.
package requestscope

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrRequestInactive is returned when binding attributes of a request that
// has already completed.
var ErrRequestInactive = errors.New("request is no longer active")

// SessionCookieName is the cookie read by NewHTTPAttributes for the session id.
const SessionCookieName = "SESSION"

// Attributes is a bag of request attributes plus a session identifier.
type Attributes interface {
	Attribute(name string) (any, bool)
	SetAttribute(name string, value any)
	RemoveAttribute(name string)
	AttributeNames() []string
	SessionID() string
}

// Activatable is implemented by attribute bags tied to a transport request
// that can complete.
type Activatable interface {
	Active() bool
}

// HTTPAttributes is the live attribute bag of an *http.Request. It is only
// meaningful while the request is being handled.
type HTTPAttributes struct {
	mu        sync.RWMutex
	request   *http.Request
	attrs     map[string]any
	sessionID string
	completed bool
}

var _ Attributes = (*HTTPAttributes)(nil)
var _ Activatable = (*HTTPAttributes)(nil)

// NewHTTPAttributes wraps r. The session id comes from the SESSION cookie.
func NewHTTPAttributes(r *http.Request) *HTTPAttributes {
	a := &HTTPAttributes{
		request: r,
		attrs:   map[string]any{},
	}
	if r != nil {
		if c, err := r.Cookie(SessionCookieName); err == nil {
			a.sessionID = c.Value
		}
	}
	return a
}

// Request returns the wrapped transport request.
func (a *HTTPAttributes) Request() *http.Request {
	return a.request
}

func (a *HTTPAttributes) Attribute(name string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.attrs[name]
	return v, ok
}

func (a *HTTPAttributes) SetAttribute(name string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if value == nil {
		delete(a.attrs, name)
		return
	}
	a.attrs[name] = value
}

func (a *HTTPAttributes) RemoveAttribute(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.attrs, name)
}

func (a *HTTPAttributes) AttributeNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sortedKeys(a.attrs)
}

func (a *HTTPAttributes) SessionID() string {
	return a.sessionID
}

// Complete marks the request as finished. The transport may recycle the
// request afterwards, so the bag can no longer be bound to a goroutine.
func (a *HTTPAttributes) Complete() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completed = true
	a.request = nil
}

func (a *HTTPAttributes) Active() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.completed
}

func sortedKeys(m map[string]any) []string {
	ret := make([]string, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

func normalize(name string) string {
	return strings.ToLower(name)
}
