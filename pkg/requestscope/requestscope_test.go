package requestscope

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLive(t *testing.T) *HTTPAttributes {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/mcp/message", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})
	return NewHTTPAttributes(r)
}

func TestDetachedOutlivesLiveScope(t *testing.T) {
	live := newLive(t)
	live.SetAttribute("session", "abc")

	d := Detach(live, map[string]string{"x-traffic-color": "blue"})

	live.RemoveAttribute("session")
	live.Complete()
	live = nil

	v, ok := d.Attribute("session")
	require.True(t, ok)
	assert.Equal(t, "abc", v)
	assert.Equal(t, "sess-1", d.SessionID())
	assert.Equal(t, "blue", d.Request().Header("X-Traffic-Color"))
}

func TestDetachedWritesStayLocal(t *testing.T) {
	live := newLive(t)
	live.SetAttribute("User", "u1")
	d := Detach(live, nil)

	v, ok := d.Attribute("user")
	require.True(t, ok, "names are normalized on copy")
	assert.Equal(t, "u1", v)

	d.SetAttribute("extra", 1)
	_, ok = live.Attribute("extra")
	assert.False(t, ok)

	d.RemoveAttribute("USER")
	assert.Equal(t, []string{"extra"}, d.AttributeNames())
}

func TestDetachNil(t *testing.T) {
	d := Detach(nil, nil)
	assert.Empty(t, d.AttributeNames())
	assert.Empty(t, d.Request().HeaderNames())
	assert.Equal(t, "", d.SessionID())
}

func TestDetachedConcurrentAccess(t *testing.T) {
	d := Detach(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.SetAttribute("k", j)
				_, _ = d.Attribute("k")
			}
		}()
	}
	wg.Wait()
	_, ok := d.Attribute("k")
	assert.True(t, ok)
}

func TestBindRejectsCompletedRequest(t *testing.T) {
	s := local.New("test")
	live := newLive(t)
	require.NoError(t, Bind(s, live))

	got, ok := Current(s)
	require.True(t, ok)
	assert.Same(t, live, got)

	live.Complete()
	err := Bind(local.New("other"), live)
	assert.True(t, errors.Is(err, ErrRequestInactive))

	Reset(s)
	_, ok = Current(s)
	assert.False(t, ok)
}

func TestBindNilResets(t *testing.T) {
	s := local.New("test")
	require.NoError(t, Bind(s, Detach(nil, nil)))
	require.NoError(t, Bind(s, nil))
	_, ok := Current(s)
	assert.False(t, ok)
}
