// Package events publishes tool call events on an in-process watermill
// pub/sub, stamped with the correlation id of the request that caused them.
package events

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const TopicToolEvents = "tool-events"

const closeTimeout = 5 * time.Second

type Router struct {
	logger     watermill.LoggerAdapter
	pubsub     *gochannel.GoChannel
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	blocking   bool
}

type RouterOption func(*Router)

func WithLogger(logger watermill.LoggerAdapter) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithBlockingPublish controls whether Publish waits until every subscriber
// acked. Blocking is the default: it keeps the events of one call in
// publication order.
func WithBlockingPublish(blocking bool) RouterOption {
	return func(r *Router) {
		r.blocking = blocking
	}
}

func NewRouter(options ...RouterOption) (*Router, error) {
	ret := &Router{
		logger:   NewZerologAdapter(log.Logger),
		blocking: true,
	}
	for _, o := range options {
		o(ret)
	}

	ret.pubsub = gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: ret.blocking,
	}, ret.logger)
	ret.Publisher = CorrelationPublisherDecorator{Publisher: ret.pubsub}
	ret.Subscriber = ret.pubsub

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: closeTimeout}, ret.logger)
	if err != nil {
		return nil, errors.Wrap(err, "creating watermill router")
	}
	ret.router = router
	return ret, nil
}

// AddHandler subscribes f to topic. Handlers must be added before Run.
func (r *Router) AddHandler(name string, topic string, f message.NoPublishHandlerFunc) {
	r.router.AddNoPublisherHandler(name, topic, r.Subscriber, f)
}

// Run blocks until ctx is done or the router is closed.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

// Close stops the router if it was started and closes the pub/sub. A router
// that never ran has no handlers to wait for.
func (r *Router) Close() error {
	log.Debug().Str("component", "events").Msg("closing event router")
	if r.started() {
		if err := r.router.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close router")
		}
	}
	if err := r.pubsub.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close pubsub")
	}
	return nil
}

func (r *Router) started() bool {
	select {
	case <-r.router.Running():
		return true
	default:
		return false
	}
}
