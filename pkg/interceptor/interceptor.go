// Package interceptor is the inbound boundary: it seeds the goroutine
// storage of an incoming request with everything the propagation accessors
// carry to pooled work.
package interceptor

import (
	"context"
	"strings"

	"github.com/go-go-golems/ctxrelay/pkg/accessors"
	"github.com/go-go-golems/ctxrelay/pkg/customctx"
	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/locale"
	"github.com/go-go-golems/ctxrelay/pkg/mdc"
	"github.com/go-go-golems/ctxrelay/pkg/requestscope"
	"github.com/mb0/glob"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrNoStorage is returned when a hook runs on a context without a
// local.Storage.
var ErrNoStorage = errors.New("no goroutine storage in context")

type Config struct {
	// HeaderAllowList holds glob patterns matched against lowercased header
	// names. An empty list keeps every header.
	HeaderAllowList []string `json:"header_allow_list" yaml:"header_allow_list" mapstructure:"header_allow_list"`
	// TrafficColor and TrafficType seed a freshly initialized custom context.
	TrafficColor string `json:"traffic_color" yaml:"traffic_color" mapstructure:"traffic_color"`
	TrafficType  string `json:"traffic_type" yaml:"traffic_type" mapstructure:"traffic_type"`
	// CorrelationHeader, when present on the request, replaces the generated
	// correlation id.
	CorrelationHeader string `json:"correlation_header" yaml:"correlation_header" mapstructure:"correlation_header"`
}

func DefaultConfig() Config {
	return Config{
		TrafficColor:      "blue",
		TrafficType:       "live",
		CorrelationHeader: "X-Correlation-ID",
	}
}

// Request is what the transport hands to PreHandle.
type Request struct {
	// Headers maps header names to their first value.
	Headers map[string]string
	// Scope is the live attribute bag of the request, if the transport has
	// one. HTTPAttributes are detached before being stored; any other
	// implementation is stored as is.
	Scope requestscope.Attributes
	// Locale is the active locale. The zero value means none.
	Locale locale.Context
}

type Interceptor struct {
	cfg Config
	set *accessors.Set
}

func New(set *accessors.Set, cfg Config) *Interceptor {
	return &Interceptor{cfg: cfg, set: set}
}

func (i *Interceptor) Accessors() *accessors.Set {
	return i.set
}

// PreHandle runs on the request goroutine before the handler.
func (i *Interceptor) PreHandle(ctx context.Context, req Request) error {
	s, ok := local.FromContext(ctx)
	if !ok {
		return ErrNoStorage
	}
	logger := log.With().Str("component", "interceptor").Str("storage", s.Name()).Logger()

	headers := i.filterHeaders(req.Headers)
	i.set.Headers.SetHeaders(s, headers)

	switch scope := req.Scope.(type) {
	case nil:
		logger.Trace().Msg("no request scope available")
	case *requestscope.HTTPAttributes:
		if err := i.set.RequestScope.Set(s, requestscope.Detach(scope, headers)); err != nil {
			logger.Warn().Err(err).Msg("could not store detached request scope")
		}
	default:
		if err := i.set.RequestScope.Set(s, scope); err != nil {
			logger.Warn().Err(err).Msg("could not store request scope")
		}
	}

	if !req.Locale.IsZero() {
		if err := i.set.Locale.Set(s, req.Locale); err != nil {
			logger.Warn().Err(err).Msg("could not store locale")
		}
	}

	if m := mdc.CopyOfContextMap(s); m != nil {
		if err := i.set.MDC.Set(s, m); err != nil {
			logger.Warn().Err(err).Msg("could not store diagnostic context")
		}
	}

	if !customctx.IsInitialized(s) {
		if err := i.initCustomContext(s, req.Headers); err != nil {
			return err
		}
	}

	logger.Debug().
		Int("headers", len(headers)).
		Str("locale", locale.Current(s).String()).
		Msg("request context captured")
	return nil
}

func (i *Interceptor) initCustomContext(s *local.Storage, headers map[string]string) error {
	if err := customctx.Init(s); err != nil {
		return errors.Wrap(err, "initializing custom context")
	}
	if i.cfg.TrafficColor != "" {
		if err := customctx.PutTyped(s, customctx.TrafficColor, customctx.StringValue(i.cfg.TrafficColor)); err != nil {
			return err
		}
	}
	if i.cfg.TrafficType != "" {
		if err := customctx.PutTyped(s, customctx.TrafficType, customctx.StringValue(i.cfg.TrafficType)); err != nil {
			return err
		}
	}
	if i.cfg.CorrelationHeader != "" {
		if v := headerValue(headers, i.cfg.CorrelationHeader); v != "" {
			if err := customctx.Put(s, customctx.CorrelationID, v); err != nil {
				return err
			}
		}
	}
	i.set.Custom.Store(s, customctx.CopyOfMap(s))
	return nil
}

// AfterCompletion runs on the request goroutine once the response is
// written. Only headers and the diagnostic context are cleared: the request
// scope and locale stay with the storage for work that outlives the handler.
func (i *Interceptor) AfterCompletion(ctx context.Context) {
	s, ok := local.FromContext(ctx)
	if !ok {
		return
	}
	_ = i.set.Headers.Clear(s)
	_ = i.set.MDC.Clear(s)
}

// headerValue looks name up case-insensitively.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (i *Interceptor) filterHeaders(headers map[string]string) map[string]string {
	ret := make(map[string]string, len(headers))
	for k, v := range headers {
		name := strings.ToLower(k)
		if !i.allowed(name) {
			continue
		}
		ret[name] = v
	}
	return ret
}

func (i *Interceptor) allowed(name string) bool {
	if len(i.cfg.HeaderAllowList) == 0 {
		return true
	}
	for _, pattern := range i.cfg.HeaderAllowList {
		matching, err := glob.Match(strings.ToLower(pattern), name)
		if err != nil {
			log.Warn().Err(err).Str("pattern", pattern).Msg("invalid header glob")
			continue
		}
		if matching {
			return true
		}
	}
	return false
}
