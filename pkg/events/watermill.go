package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/ctxrelay/pkg/customctx"
	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/mdc"
	"github.com/lithammer/shortuuid/v3"
	"github.com/rs/zerolog"
)

// ZerologAdapter routes watermill logs to zerolog.
type ZerologAdapter struct {
	logger zerolog.Logger
}

var _ watermill.LoggerAdapter = (*ZerologAdapter)(nil)

func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

func (w *ZerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.Error().Fields(map[string]interface{}(fields)).Err(err).Msg(msg)
}

// Info is logged at debug level, watermill is chatty.
func (w *ZerologAdapter) Info(msg string, fields watermill.LogFields) {
	w.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *ZerologAdapter) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *ZerologAdapter) Trace(msg string, fields watermill.LogFields) {
	w.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *ZerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &ZerologAdapter{logger: w.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}

const (
	CorrelationIDMetadataKey = "correlation_id"
	RequestIDMetadataKey     = "request_id"
)

// CorrelationIDFromContext reads the correlation id from the diagnostic
// context of the storage attached to ctx. Generated ids carry a "gen_"
// prefix so missing propagation is easy to spot.
func CorrelationIDFromContext(ctx context.Context) string {
	if s, ok := local.FromContext(ctx); ok {
		if id := mdc.Get(s, customctx.CorrelationID.Key()); id != "" {
			return id
		}
	}
	mdc.Ctx(ctx).Warn().Str("component", "events").Msg("correlation ID not found in context")
	return "gen_" + shortuuid.New()
}

// CorrelationPublisherDecorator stamps correlation and request ids from each
// message's context into its metadata, unless already set.
type CorrelationPublisherDecorator struct {
	message.Publisher
}

func (c CorrelationPublisherDecorator) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		ctx := msg.Context()
		if msg.Metadata.Get(CorrelationIDMetadataKey) == "" {
			msg.Metadata.Set(CorrelationIDMetadataKey, CorrelationIDFromContext(ctx))
		}
		if msg.Metadata.Get(RequestIDMetadataKey) == "" {
			if s, ok := local.FromContext(ctx); ok {
				if id := mdc.Get(s, customctx.RequestID.Key()); id != "" {
					msg.Metadata.Set(RequestIDMetadataKey, id)
				}
			}
		}
	}
	return c.Publisher.Publish(topic, messages...)
}
