package server

import (
	"context"

	"github.com/go-go-golems/ctxrelay/pkg/accessors"
	"github.com/go-go-golems/ctxrelay/pkg/config"
	"github.com/go-go-golems/ctxrelay/pkg/events"
	"github.com/go-go-golems/ctxrelay/pkg/executor"
	"github.com/go-go-golems/ctxrelay/pkg/interceptor"
	"github.com/go-go-golems/ctxrelay/pkg/locale"
	"github.com/go-go-golems/ctxrelay/pkg/propagation"
	"github.com/go-go-golems/ctxrelay/pkg/restoration"
	"github.com/go-go-golems/ctxrelay/pkg/tools"
	"github.com/go-go-golems/ctxrelay/pkg/userdir"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// App holds every long-lived component of a ctxrelay process.
type App struct {
	Settings    *config.Settings
	Accessors   *accessors.Set
	Manager     *propagation.Manager
	Pool        *executor.Pool
	Registry    *tools.InMemoryToolRegistry
	Executor    *tools.PoolExecutor
	Interceptor *interceptor.Interceptor
	Restorer    *restoration.Service
	UserDir     *userdir.Client
	Events      *events.Router
}

type AppOption func(*appOptions)

type appOptions struct {
	extraAccessors []propagation.Accessor
	clientOptions  []userdir.ClientOption
	withoutEvents  bool
}

// WithAccessors registers additional accessors after the built-in ones.
func WithAccessors(a ...propagation.Accessor) AppOption {
	return func(o *appOptions) {
		o.extraAccessors = append(o.extraAccessors, a...)
	}
}

func WithUserDirOptions(opts ...userdir.ClientOption) AppOption {
	return func(o *appOptions) {
		o.clientOptions = append(o.clientOptions, opts...)
	}
}

// WithoutEvents disables tool event publishing.
func WithoutEvents() AppOption {
	return func(o *appOptions) {
		o.withoutEvents = true
	}
}

func NewApp(ctx context.Context, settings *config.Settings, options ...AppOption) (*App, error) {
	opts := &appOptions{}
	for _, o := range options {
		o(opts)
	}

	defaultLocale, err := settings.Locale.Context()
	if err != nil {
		return nil, errors.Wrap(err, "default locale")
	}
	locale.SetDefault(defaultLocale)

	app := &App{
		Settings:  settings,
		Accessors: accessors.Defaults(),
	}
	app.Manager, err = app.Accessors.NewManager(opts.extraAccessors...)
	if err != nil {
		return nil, err
	}

	app.Pool, err = executor.New(settings.Executor, propagation.NewTaskDecorator(app.Manager))
	if err != nil {
		return nil, err
	}

	app.Restorer = restoration.New(app.Accessors)
	app.Interceptor = interceptor.New(app.Accessors, settings.Interceptor)

	app.UserDir, err = userdir.NewClient(ctx, settings.UserDir, app.Restorer, opts.clientOptions...)
	if err != nil {
		_ = app.Pool.Shutdown(ctx)
		return nil, err
	}

	app.Registry = tools.NewInMemoryToolRegistry()
	if err := userdir.NewTools(app.UserDir, app.Restorer).Register(app.Registry); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}

	var observers []tools.Observer
	if !opts.withoutEvents {
		app.Events, err = events.NewRouter(events.WithLogger(events.NewZerologAdapter(log.Logger)))
		if err != nil {
			_ = app.Close(ctx)
			return nil, err
		}
		app.Events.AddHandler("audit", events.TopicToolEvents, events.AuditHandler)
		observers = append(observers, events.NewToolObserver(app.Events.Publisher))
	}
	app.Executor = tools.NewPoolExecutor(settings.Tools, app.Pool, app.Registry, observers...)

	log.Debug().
		Str("component", "app").
		Strs("accessors", app.Manager.Keys()).
		Int("tools", app.Registry.Count()).
		Msg("application assembled")
	return app, nil
}

// RunEvents runs the event router until ctx is done. It returns right away
// when events are disabled.
func (a *App) RunEvents(ctx context.Context) error {
	if a.Events == nil {
		return nil
	}
	return a.Events.Run(ctx)
}

// Close drains the worker pool and releases the remaining components.
func (a *App) Close(ctx context.Context) error {
	var ret error
	if a.Pool != nil {
		if err := a.Pool.Shutdown(ctx); err != nil {
			ret = errors.Wrap(err, "shutting down pool")
		}
	}
	if a.Events != nil {
		if err := a.Events.Close(); err != nil && ret == nil {
			ret = errors.Wrap(err, "closing events")
		}
	}
	if a.UserDir != nil {
		if err := a.UserDir.Close(); err != nil && ret == nil {
			ret = errors.Wrap(err, "closing user directory client")
		}
	}
	return ret
}
