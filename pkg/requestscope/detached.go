package requestscope

import (
	"net/http"
	"sync"
)

// MinimalRequest is the stand-in request synthesized for a detached scope.
// It answers header lookups and nothing else.
type MinimalRequest struct {
	header http.Header
}

// Header returns the value of the named header, case-insensitively.
func (r *MinimalRequest) Header(name string) string {
	return r.header.Get(name)
}

// HeaderNames returns the canonical names of all headers.
func (r *MinimalRequest) HeaderNames() []string {
	ret := make([]string, 0, len(r.header))
	for k := range r.header {
		ret = append(ret, k)
	}
	return ret
}

// Headers returns a copy of all headers.
func (r *MinimalRequest) Headers() http.Header {
	return r.header.Clone()
}

// Detached is a self-contained copy of a request's attribute bag. Every
// attribute is copied out of the live bag when the copy is built; afterwards
// reads and writes only touch the copy's own map. Attribute names are
// case-insensitive.
//
// A Detached is shared between the request goroutine and the workers it hands
// work to, so it is safe for concurrent use.
type Detached struct {
	mu        sync.RWMutex
	attrs     map[string]any
	sessionID string
	request   *MinimalRequest
}

var _ Attributes = (*Detached)(nil)

// Detach copies live into a new Detached. headers populate the synthesized
// MinimalRequest. A nil live bag yields an empty scope.
func Detach(live Attributes, headers map[string]string) *Detached {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	d := &Detached{
		attrs:   map[string]any{},
		request: &MinimalRequest{header: h},
	}
	if live == nil {
		return d
	}
	d.sessionID = live.SessionID()
	for _, name := range live.AttributeNames() {
		if v, ok := live.Attribute(name); ok {
			d.attrs[normalize(name)] = v
		}
	}
	return d
}

// Request returns the synthesized request.
func (d *Detached) Request() *MinimalRequest {
	return d.request
}

func (d *Detached) Attribute(name string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.attrs[normalize(name)]
	return v, ok
}

func (d *Detached) SetAttribute(name string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if value == nil {
		delete(d.attrs, normalize(name))
		return
	}
	d.attrs[normalize(name)] = value
}

func (d *Detached) RemoveAttribute(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.attrs, normalize(name))
}

func (d *Detached) AttributeNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedKeys(d.attrs)
}

func (d *Detached) SessionID() string {
	return d.sessionID
}
