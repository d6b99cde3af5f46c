package events

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/ctxrelay/pkg/customctx"
	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/mdc"
	"github.com/go-go-golems/ctxrelay/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, options ...RouterOption) (*Router, <-chan *message.Message) {
	t.Helper()
	options = append([]RouterOption{WithLogger(watermill.NopLogger{}), WithBlockingPublish(false)}, options...)
	r, err := NewRouter(options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := r.Subscriber.Subscribe(ctx, TopicToolEvents)
	require.NoError(t, err)
	return r, ch
}

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("no message received")
		return nil
	}
}

func receiveEvents(t *testing.T, ch <-chan *message.Message, n int) ([]*message.Message, []*ToolEvent) {
	t.Helper()
	msgs := make([]*message.Message, 0, n)
	for i := 0; i < n; i++ {
		msgs = append(msgs, receive(t, ch))
	}
	sort.Slice(msgs, func(i, j int) bool {
		a, _ := DecodeToolEvent(msgs[i])
		b, _ := DecodeToolEvent(msgs[j])
		return a.Seq < b.Seq
	})
	evts := make([]*ToolEvent, 0, n)
	for _, msg := range msgs {
		e, err := DecodeToolEvent(msg)
		require.NoError(t, err)
		evts = append(evts, e)
	}
	return msgs, evts
}

func TestToolEventsCarryCorrelationID(t *testing.T) {
	r, ch := newRouter(t)
	obs := NewToolObserver(r.Publisher)

	s := local.New("tool-exec-1")
	mdc.Put(s, customctx.CorrelationID.Key(), "corr-1")
	mdc.Put(s, customctx.RequestID.Key(), "req-1")
	ctx := local.WithStorage(context.Background(), s)

	call := tools.ToolCall{ID: "c1", Name: "getUserById"}
	obs.ToolStarted(ctx, call, `{"id":1}`)
	obs.ToolFinished(ctx, call, &tools.ToolResult{Result: map[string]int{"id": 1}, Duration: 3 * time.Millisecond})

	msgs, evts := receiveEvents(t, ch, 2)
	for _, msg := range msgs {
		assert.Equal(t, "corr-1", msg.Metadata.Get(CorrelationIDMetadataKey))
		assert.Equal(t, "req-1", msg.Metadata.Get(RequestIDMetadataKey))
	}

	started := evts[0]
	assert.Equal(t, EventTypeToolStarted, started.Type)
	assert.Equal(t, `{"id":1}`, started.Input)
	assert.Equal(t, "tool-exec-1", started.Storage)

	finished := evts[1]
	assert.Equal(t, EventTypeToolFinished, finished.Type)
	assert.JSONEq(t, `{"id":1}`, finished.Result)
	assert.EqualValues(t, 3, finished.DurationMS)
	assert.Greater(t, finished.Seq, started.Seq)
}

func TestBlockingRouterDeliversInPublishOrder(t *testing.T) {
	r, err := NewRouter(WithLogger(watermill.NopLogger{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := r.Subscriber.Subscribe(ctx, TopicToolEvents)
	require.NoError(t, err)

	const calls = 20
	obs := NewToolObserver(r.Publisher)
	go func() {
		for i := 0; i < calls; i++ {
			call := tools.ToolCall{ID: "c", Name: "current_time"}
			obs.ToolStarted(context.Background(), call, "")
			obs.ToolFinished(context.Background(), call, &tools.ToolResult{Result: "now"})
		}
	}()

	var last uint64
	for i := 0; i < 2*calls; i++ {
		e, err := DecodeToolEvent(receive(t, ch))
		require.NoError(t, err)
		assert.Equal(t, last+1, e.Seq)
		if i%2 == 0 {
			assert.Equal(t, EventTypeToolStarted, e.Type)
		} else {
			assert.Equal(t, EventTypeToolFinished, e.Type)
		}
		last = e.Seq
	}
}

func TestCloseWithoutRunReturnsPromptly(t *testing.T) {
	r, err := NewRouter(WithLogger(watermill.NopLogger{}))
	require.NoError(t, err)
	r.AddHandler("audit", TopicToolEvents, AuditHandler)

	done := make(chan struct{})
	go func() {
		_ = r.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close blocked on a router that never ran")
	}
}

func TestCorrelationIDIsGeneratedWhenMissing(t *testing.T) {
	r, ch := newRouter(t)
	NewToolObserver(r.Publisher).ToolStarted(context.Background(), tools.ToolCall{ID: "c1", Name: "x"}, "")

	msg := receive(t, ch)
	assert.True(t, strings.HasPrefix(msg.Metadata.Get(CorrelationIDMetadataKey), "gen_"))
	assert.Equal(t, "", msg.Metadata.Get(RequestIDMetadataKey))
}

func TestExistingCorrelationIDIsKept(t *testing.T) {
	r, ch := newRouter(t)
	msg := message.NewMessage(watermill.NewUUID(), []byte(`{}`))
	msg.Metadata.Set(CorrelationIDMetadataKey, "upstream")
	require.NoError(t, r.Publisher.Publish(TopicToolEvents, msg))

	got := receive(t, ch)
	assert.Equal(t, "upstream", got.Metadata.Get(CorrelationIDMetadataKey))
}

func TestAuditHandlerToleratesBadPayloads(t *testing.T) {
	assert.NoError(t, AuditHandler(message.NewMessage("1", []byte("not json"))))
	assert.NoError(t, AuditHandler(message.NewMessage("2", []byte(`{"type":"tool-started","tool":"x"}`))))
}

func TestRouterRunsAuditHandler(t *testing.T) {
	r, err := NewRouter(WithLogger(watermill.NopLogger{}))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	seen := make(chan string, 1)
	r.AddHandler("audit", TopicToolEvents, func(msg *message.Message) error {
		e, err := DecodeToolEvent(msg)
		if err != nil {
			return err
		}
		seen <- e.Tool
		return AuditHandler(msg)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()
	<-r.Running()

	NewToolObserver(r.Publisher).ToolStarted(context.Background(), tools.ToolCall{ID: "c", Name: "current_time"}, "")
	select {
	case name := <-seen:
		assert.Equal(t, "current_time", name)
	case <-time.After(5 * time.Second):
		t.Fatalf("handler did not run")
	}
}
