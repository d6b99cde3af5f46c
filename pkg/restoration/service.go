// Package restoration lets downstream callbacks pull the propagated context
// back onto their goroutine explicitly, for code paths that are not started
// through the worker pool.
package restoration

import (
	"context"
	"net/http"

	"github.com/go-go-golems/ctxrelay/pkg/accessors"
	"github.com/go-go-golems/ctxrelay/pkg/customctx"
	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/locale"
	"github.com/go-go-golems/ctxrelay/pkg/mdc"
	"github.com/go-go-golems/ctxrelay/pkg/requestscope"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Service re-applies accessor-held values to the ambient state of the
// storage attached to a context: custom context, diagnostic context, request
// scope and locale, in that order.
type Service struct {
	set *accessors.Set
}

func New(set *accessors.Set) *Service {
	return &Service{set: set}
}

// RestoreAllContexts restores everything. Without a storage in ctx it does
// nothing.
func (r *Service) RestoreAllContexts(ctx context.Context) {
	s, ok := local.FromContext(ctx)
	if !ok {
		log.Debug().Str("component", "restoration").Msg("no goroutine storage in context, nothing to restore")
		return
	}
	logger := log.With().Str("component", "restoration").Str("storage", s.Name()).Logger()

	r.restoreCustomContext(s, logger)
	r.restoreMDC(s, logger)
	r.restoreRequestScope(s, logger)
	r.restoreLocale(s, logger)
}

// RestoreAllContextsAndGetHeaders restores everything and returns the
// propagated headers, ready to be set on an outbound request.
func (r *Service) RestoreAllContextsAndGetHeaders(ctx context.Context) http.Header {
	r.RestoreAllContexts(ctx)
	return r.HTTPHeaders(ctx)
}

// HTTPHeaders returns the propagated headers without restoring anything. The
// result is never nil.
func (r *Service) HTTPHeaders(ctx context.Context) http.Header {
	ret := http.Header{}
	s, ok := local.FromContext(ctx)
	if !ok {
		return ret
	}
	for k, v := range r.set.Headers.Headers(s) {
		ret.Add(k, v)
	}
	log.Trace().
		Str("component", "restoration").
		Str("storage", s.Name()).
		Int("headers", len(ret)).
		Msg("propagated headers")
	return ret
}

func (r *Service) restoreCustomContext(s *local.Storage, logger zerolog.Logger) {
	if customctx.IsInitialized(s) {
		return
	}
	m, ok := r.set.Custom.Stored(s)
	if !ok {
		return
	}
	customctx.ReplaceMap(s, m)
	logger.Trace().Int("params", len(m)).Msg("custom context restored")
}

func (r *Service) restoreMDC(s *local.Storage, logger zerolog.Logger) {
	v, err := r.set.MDC.Get(s)
	if err != nil {
		logger.Warn().Err(err).Msg("could not read diagnostic context")
		return
	}
	m, _ := v.(map[string]string)
	logger.Trace().Bool("available", len(m) > 0).Msg("diagnostic context")
	if m != nil {
		mdc.SetContextMap(s, m)
	}
}

func (r *Service) restoreRequestScope(s *local.Storage, logger zerolog.Logger) {
	v, err := r.set.RequestScope.Get(s)
	if err != nil || v == nil {
		return
	}
	if err := requestscope.Bind(s, v.(requestscope.Attributes)); err != nil {
		logger.Warn().Err(err).Msg("could not restore request scope")
		return
	}
	logger.Trace().Msg("request scope restored")
}

func (r *Service) restoreLocale(s *local.Storage, logger zerolog.Logger) {
	v, err := r.set.Locale.Get(s)
	if err != nil || v == nil {
		return
	}
	locale.Set(s, v.(locale.Context))
	logger.Trace().Msg("locale restored")
}
