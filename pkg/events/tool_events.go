package events

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/mdc"
	"github.com/go-go-golems/ctxrelay/pkg/tools"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventTypeToolStarted  EventType = "tool-started"
	EventTypeToolFinished EventType = "tool-finished"
)

// ToolEvent is the JSON payload of a tool event message. Seq increases
// monotonically per observer and orders events when the pub/sub does not.
type ToolEvent struct {
	Seq        uint64    `json:"seq"`
	Type       EventType `json:"type"`
	CallID     string    `json:"call_id"`
	Tool       string    `json:"tool"`
	Input      string    `json:"input,omitempty"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Storage    string    `json:"storage,omitempty"`
	Time       time.Time `json:"time"`
}

// ToolObserver publishes a ToolEvent before and after each tool call.
type ToolObserver struct {
	publisher message.Publisher
	topic     string
	seq       atomic.Uint64
}

var _ tools.Observer = (*ToolObserver)(nil)

func NewToolObserver(publisher message.Publisher) *ToolObserver {
	return &ToolObserver{publisher: publisher, topic: TopicToolEvents}
}

func (o *ToolObserver) ToolStarted(ctx context.Context, call tools.ToolCall, maskedArgs string) {
	o.publish(ctx, ToolEvent{
		Type:   EventTypeToolStarted,
		CallID: call.ID,
		Tool:   call.Name,
		Input:  maskedArgs,
	})
}

func (o *ToolObserver) ToolFinished(ctx context.Context, call tools.ToolCall, result *tools.ToolResult) {
	e := ToolEvent{
		Type:   EventTypeToolFinished,
		CallID: call.ID,
		Tool:   call.Name,
	}
	if result != nil {
		e.Error = result.Error
		e.DurationMS = result.Duration.Milliseconds()
		if result.Result != nil {
			if b, err := json.Marshal(result.Result); err == nil {
				e.Result = string(b)
			}
		}
	}
	o.publish(ctx, e)
}

func (o *ToolObserver) publish(ctx context.Context, e ToolEvent) {
	e.Seq = o.seq.Add(1)
	e.Time = time.Now()
	if s, ok := local.FromContext(ctx); ok {
		e.Storage = s.Name()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		log.Warn().Err(err).Str("component", "events").Msg("could not marshal tool event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := o.publisher.Publish(o.topic, msg); err != nil {
		mdc.Ctx(ctx).Warn().Err(err).Str("component", "events").Msg("could not publish tool event")
	}
}

// DecodeToolEvent parses a tool event message payload.
func DecodeToolEvent(msg *message.Message) (*ToolEvent, error) {
	var e ToolEvent
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return nil, errors.Wrap(err, "decoding tool event")
	}
	return &e, nil
}

// AuditHandler logs every tool event with the correlation metadata.
func AuditHandler(msg *message.Message) error {
	e, err := DecodeToolEvent(msg)
	if err != nil {
		log.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed tool event")
		return nil
	}
	log.Info().
		Str("component", "audit").
		Str("event", string(e.Type)).
		Str("tool", e.Tool).
		Str("call_id", e.CallID).
		Str("storage", e.Storage).
		Str("error", e.Error).
		Int64("duration_ms", e.DurationMS).
		Str(CorrelationIDMetadataKey, msg.Metadata.Get(CorrelationIDMetadataKey)).
		Str(RequestIDMetadataKey, msg.Metadata.Get(RequestIDMetadataKey)).
		Msg("tool event")
	return nil
}
