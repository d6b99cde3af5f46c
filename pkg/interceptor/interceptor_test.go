package interceptor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-go-golems/ctxrelay/pkg/accessors"
	"github.com/go-go-golems/ctxrelay/pkg/customctx"
	"github.com/go-go-golems/ctxrelay/pkg/executor"
	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/locale"
	"github.com/go-go-golems/ctxrelay/pkg/mdc"
	"github.com/go-go-golems/ctxrelay/pkg/propagation"
	"github.com/go-go-golems/ctxrelay/pkg/requestscope"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestPreHandleNeedsStorage(t *testing.T) {
	in := New(accessors.Defaults(), DefaultConfig())
	err := in.PreHandle(context.Background(), Request{})
	assert.True(t, errors.Is(err, ErrNoStorage))
}

func TestPreHandleSeedsAccessors(t *testing.T) {
	set := accessors.Defaults()
	cfg := DefaultConfig()
	cfg.HeaderAllowList = []string{"x-traffic-*", "Accept"}
	in := New(set, cfg)

	r := httptest.NewRequest(http.MethodPost, "/mcp/message", nil)
	r.AddCookie(&http.Cookie{Name: requestscope.SessionCookieName, Value: "sess-1"})
	live := requestscope.NewHTTPAttributes(r)
	live.SetAttribute("session", "abc")

	s := local.New("request")
	ctx := local.WithStorage(context.Background(), s)
	fr := locale.Context{Tag: language.French, Location: time.UTC}
	require.NoError(t, in.PreHandle(ctx, Request{
		Headers: map[string]string{
			"X-Traffic-Color":  "green",
			"Accept":           "application/json",
			"Authorization":    "secret",
			"X-Correlation-ID": "corr-1",
		},
		Scope:  live,
		Locale: fr,
	}))
	live.Complete()

	assert.Equal(t, map[string]string{
		"x-traffic-color": "green",
		"accept":          "application/json",
	}, set.Headers.Headers(s))

	v, err := set.RequestScope.Get(s)
	require.NoError(t, err)
	detached, ok := v.(*requestscope.Detached)
	require.True(t, ok)
	session, _ := detached.Attribute("session")
	assert.Equal(t, "abc", session)
	assert.Equal(t, "sess-1", detached.SessionID())
	assert.Equal(t, "green", detached.Request().Header("X-Traffic-Color"))

	assert.Equal(t, fr, locale.Current(s))

	require.True(t, customctx.IsInitialized(s))
	color, err := customctx.GetAs[string](s, customctx.TrafficColor)
	require.NoError(t, err)
	assert.Equal(t, "blue", color, "the configured default seeds the custom context")

	id, err := customctx.Get(s, customctx.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, "corr-1", id)

	stored, ok := set.Custom.Stored(s)
	require.True(t, ok)
	assert.Len(t, stored, 2)
}

func TestCorrelationHeaderMatchesAnyCase(t *testing.T) {
	for _, name := range []string{"x-correlation-id", "X-Correlation-ID", "X-Correlation-Id"} {
		t.Run(name, func(t *testing.T) {
			in := New(accessors.Defaults(), DefaultConfig())
			s := local.New("request")
			require.NoError(t, in.PreHandle(local.WithStorage(context.Background(), s), Request{
				Headers: map[string]string{name: "caller-id"},
			}))

			id, err := customctx.Get(s, customctx.CorrelationID)
			require.NoError(t, err)
			assert.Equal(t, "caller-id", id)
		})
	}
}

func TestPreHandleKeepsInitializedCustomContext(t *testing.T) {
	set := accessors.Defaults()
	in := New(set, DefaultConfig())
	s := local.New("request")
	require.NoError(t, customctx.Init(s))
	require.NoError(t, customctx.PutTyped(s, customctx.TrafficColor, customctx.StringValue("red")))

	require.NoError(t, in.PreHandle(local.WithStorage(context.Background(), s), Request{}))

	color, err := customctx.GetAs[string](s, customctx.TrafficColor)
	require.NoError(t, err)
	assert.Equal(t, "red", color)
	_, ok := set.Custom.Stored(s)
	assert.False(t, ok)
}

func TestPreHandleStoresOtherScopesAsIs(t *testing.T) {
	set := accessors.Defaults()
	in := New(set, DefaultConfig())
	s := local.New("request")
	scope := requestscope.Detach(nil, nil)

	require.NoError(t, in.PreHandle(local.WithStorage(context.Background(), s), Request{Scope: scope}))

	v, err := set.RequestScope.Get(s)
	require.NoError(t, err)
	assert.Same(t, scope, v)
}

func TestAfterCompletionClearsHeadersAndMDCOnly(t *testing.T) {
	set := accessors.Defaults()
	in := New(set, DefaultConfig())
	s := local.New("request")
	ctx := local.WithStorage(context.Background(), s)
	mdc.Put(s, "user", "u1")

	require.NoError(t, in.PreHandle(ctx, Request{
		Headers: map[string]string{"x-a": "b"},
		Scope:   requestscope.Detach(nil, nil),
		Locale:  locale.Context{Tag: language.German, Location: time.UTC},
	}))
	in.AfterCompletion(ctx)

	assert.Nil(t, set.Headers.Headers(s))
	assert.Empty(t, mdc.Keys(s))

	v, _ := set.RequestScope.Get(s)
	assert.NotNil(t, v)
	v, _ = set.Locale.Get(s)
	assert.NotNil(t, v)
}

func TestMiddlewareCarriesTrafficColorToPool(t *testing.T) {
	set := accessors.Defaults()
	m, err := set.NewManager()
	require.NoError(t, err)
	pool, err := executor.New(executor.DefaultConfig(), propagation.NewTaskDecorator(m))
	require.NoError(t, err)
	defer func() { _ = pool.Shutdown(context.Background()) }()

	in := New(set, DefaultConfig())

	type seen struct {
		header    string
		color     string
		requestID string
		session   string
		lang      string
		worker    string
	}
	var got seen
	handler := in.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := pool.Execute(r.Context(), func(ctx context.Context) error {
			s, _ := local.FromContext(ctx)
			got.worker = s.Name()
			got.header = set.Headers.Headers(s)["x-traffic-color"]
			got.color, _ = customctx.GetAs[string](s, customctx.TrafficColor)
			got.requestID = mdc.Get(s, customctx.RequestID.Key())
			if scope, ok := requestscope.Current(s); ok {
				got.session = scope.SessionID()
			}
			got.lang = locale.Current(s).Tag.String()
			return nil
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodPost, "/mcp/message", nil)
	r.Header.Set("x-traffic-color", "blue")
	r.Header.Set("Accept-Language", "de-DE,de;q=0.9")
	r.Header.Set("X-Correlation-ID", "corr-42")
	r.AddCookie(&http.Cookie{Name: requestscope.SessionCookieName, Value: "abc"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "corr-42", w.Header().Get("X-Correlation-ID"))
	assert.Equal(t, "blue", got.header)
	assert.Equal(t, "blue", got.color)
	assert.NotEmpty(t, got.requestID)
	assert.Equal(t, "abc", got.session)
	assert.Equal(t, "de-DE", got.lang)
	assert.Contains(t, got.worker, "tool-exec-")
}

func TestMiddlewareDetachesAttributesSetUpstream(t *testing.T) {
	set := accessors.Defaults()
	m, err := set.NewManager()
	require.NoError(t, err)
	pool, err := executor.New(executor.DefaultConfig(), propagation.NewTaskDecorator(m))
	require.NoError(t, err)
	defer func() { _ = pool.Shutdown(context.Background()) }()

	in := New(set, DefaultConfig())

	var live *requestscope.HTTPAttributes
	auth := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := local.New("auth")
			live = requestscope.NewHTTPAttributes(r)
			defer live.Complete()
			live.SetAttribute("tenant", "acme")
			require.NoError(t, requestscope.Bind(s, live))
			next.ServeHTTP(w, r.WithContext(local.WithStorage(r.Context(), s)))
		})
	}

	var tenant any
	var detached bool
	handler := auth(in.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := pool.Execute(r.Context(), func(ctx context.Context) error {
			s, _ := local.FromContext(ctx)
			scope, ok := requestscope.Current(s)
			if !ok {
				return errors.New("no request scope on worker")
			}
			_, detached = scope.(*requestscope.Detached)
			tenant, _ = scope.Attribute("tenant")
			return nil
		})
		require.NoError(t, err)
		w.WriteHeader(http.StatusNoContent)
	})))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/mcp/message", nil))

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, detached, "workers get the detached copy, not the live bag")
	assert.Equal(t, "acme", tenant)
}

func TestMiddlewareBindsLiveScopeBeforeCapture(t *testing.T) {
	set := accessors.Defaults()
	in := New(set, DefaultConfig())

	var scope requestscope.Attributes
	handler := in.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, _ := local.FromContext(r.Context())
		scope, _ = requestscope.Current(s)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: requestscope.SessionCookieName, Value: "sess-9"})
	handler.ServeHTTP(httptest.NewRecorder(), r)

	require.NotNil(t, scope)
	assert.IsType(t, &requestscope.Detached{}, scope)
	assert.Equal(t, "sess-9", scope.SessionID())
}

func TestHeadersFromHTTP(t *testing.T) {
	h := http.Header{}
	h.Add("X-Multi", "one")
	h.Add("X-Multi", "two")
	h["Empty"] = nil
	assert.Equal(t, map[string]string{"x-multi": "one"}, HeadersFromHTTP(h))
}
