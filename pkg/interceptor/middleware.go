package interceptor

import (
	"net/http"
	"strings"

	"github.com/go-go-golems/ctxrelay/pkg/customctx"
	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/locale"
	"github.com/go-go-golems/ctxrelay/pkg/requestscope"
	"github.com/rs/zerolog/log"
)

// HeadersFromHTTP flattens h to lowercased names and first values.
func HeadersFromHTTP(h http.Header) map[string]string {
	ret := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) == 0 {
			continue
		}
		ret[strings.ToLower(k)] = vs[0]
	}
	return ret
}

// Middleware runs PreHandle before next and AfterCompletion after it.
//
// A storage installed by an outer middleware is reused, together with the
// live attribute bag bound to it, so attributes set upstream reach the
// detached copy. Otherwise the request gets its own storage and a fresh bag,
// bound before PreHandle. A bag created here is completed once next returns,
// so only its detached copy remains usable.
func (i *Interceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := local.FromContext(r.Context())
		if !ok {
			s = local.New("http:" + r.Method + " " + r.URL.Path)
			r = r.WithContext(local.WithStorage(r.Context(), s))
		}
		ctx := r.Context()

		live, ok := boundHTTPAttributes(s)
		if !ok {
			live = requestscope.NewHTTPAttributes(r)
			defer live.Complete()
			if err := requestscope.Bind(s, live); err != nil {
				log.Error().Err(err).Str("component", "interceptor").Msg("could not bind request scope")
				http.Error(w, "could not capture request context", http.StatusInternalServerError)
				return
			}
		}

		req := Request{
			Headers: HeadersFromHTTP(r.Header),
			Scope:   live,
			Locale:  locale.FromAcceptLanguage(r.Header.Get("Accept-Language"), locale.Default()),
		}
		if err := i.PreHandle(ctx, req); err != nil {
			log.Error().Err(err).Str("component", "interceptor").Msg("could not capture request context")
			http.Error(w, "could not capture request context", http.StatusInternalServerError)
			return
		}
		defer i.AfterCompletion(ctx)

		if id, err := customctx.Get(s, customctx.CorrelationID); err == nil && id != "" {
			w.Header().Set("X-Correlation-ID", id)
		}

		next.ServeHTTP(w, r)
	})
}

func boundHTTPAttributes(s *local.Storage) (*requestscope.HTTPAttributes, bool) {
	a, ok := requestscope.Current(s)
	if !ok {
		return nil, false
	}
	live, ok := a.(*requestscope.HTTPAttributes)
	if !ok || !live.Active() {
		return nil, false
	}
	return live, true
}
