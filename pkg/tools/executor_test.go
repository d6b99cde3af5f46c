package tools

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/ctxrelay/pkg/accessors"
	"github.com/go-go-golems/ctxrelay/pkg/executor"
	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/mdc"
	"github.com/go-go-golems/ctxrelay/pkg/propagation"
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	finished []*ToolResult
}

func (o *recordingObserver) ToolStarted(_ context.Context, call ToolCall, masked string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, call.Name+" "+masked)
}

func (o *recordingObserver) ToolFinished(_ context.Context, _ ToolCall, r *ToolResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, r)
}

func newTestExecutor(t *testing.T, cfg ToolConfig, r ToolRegistry, observers ...Observer) *PoolExecutor {
	t.Helper()
	m, err := accessors.Defaults().NewManager()
	require.NoError(t, err)
	pool, err := executor.New(executor.DefaultConfig(), propagation.NewTaskDecorator(m))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })
	return NewPoolExecutor(cfg, pool, r, observers...)
}

func TestToolRunsOnWorkerWithCallerContext(t *testing.T) {
	r := NewInMemoryToolRegistry()
	require.NoError(t, r.RegisterFunc("whoami", "test", func(ctx context.Context) (map[string]string, error) {
		s, _ := local.FromContext(ctx)
		call, _ := CurrentToolCallFromContext(ctx)
		return map[string]string{
			"worker": s.Name(),
			"user":   mdc.Get(s, "user"),
			"call":   call.ID,
		}, nil
	}))
	obs := &recordingObserver{}
	e := newTestExecutor(t, DefaultToolConfig(), r, obs)

	s := local.New("request")
	mdc.Put(s, "user", "alice")
	ctx := local.WithStorage(context.Background(), s)

	res, err := e.ExecuteToolCall(ctx, ToolCall{ID: "c1", Name: "whoami"})
	require.NoError(t, err)
	require.Empty(t, res.Error)

	out := res.Result.(map[string]string)
	assert.Contains(t, out["worker"], "tool-exec-")
	assert.Equal(t, "alice", out["user"])
	assert.Equal(t, "c1", out["call"])
	assert.Equal(t, "c1", res.ID)
	assert.Equal(t, []string{"whoami "}, obs.started)
	assert.Len(t, obs.finished, 1)
}

func TestFailuresAreReportedInResult(t *testing.T) {
	r := NewInMemoryToolRegistry()
	require.NoError(t, r.RegisterFunc("search", "test", func(in searchInput) (int, error) {
		return 0, errors.New("backend down")
	}))
	require.NoError(t, r.RegisterFunc("secret", "test", func() int { return 1 }))
	e := newTestExecutor(t, DefaultToolConfig().WithAllowedTools([]string{"search"}), r)
	ctx := context.Background()

	res, err := e.ExecuteToolCall(ctx, ToolCall{ID: "1", Name: "missing"})
	require.NoError(t, err)
	assert.Contains(t, res.Error, "tool not found")

	res, err = e.ExecuteToolCall(ctx, ToolCall{ID: "2", Name: "secret"})
	require.NoError(t, err)
	assert.Contains(t, res.Error, "not allowed")

	res, err = e.ExecuteToolCall(ctx, ToolCall{ID: "3", Name: "search", Arguments: json.RawMessage(`{"limit":1}`)})
	require.NoError(t, err)
	assert.Contains(t, res.Error, "invalid arguments")

	res, err = e.ExecuteToolCall(ctx, ToolCall{ID: "4", Name: "search", Arguments: json.RawMessage(`{"q":"x"}`)})
	require.NoError(t, err)
	assert.Equal(t, "backend down", res.Error)
}

func TestRetries(t *testing.T) {
	var calls atomic.Int32
	r := NewInMemoryToolRegistry()
	require.NoError(t, r.RegisterFunc("flaky", "test", func() (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("try again")
		}
		return "ok", nil
	}))
	cfg := DefaultToolConfig().
		WithToolErrorHandling(ToolErrorRetry).
		WithRetryConfig(RetryConfig{MaxRetries: 3, BackoffBase: time.Millisecond, BackoffFactor: 1})
	e := newTestExecutor(t, cfg, r)

	res, err := e.ExecuteToolCall(context.Background(), ToolCall{ID: "1", Name: "flaky"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Result)
	assert.Equal(t, 2, res.Retries)
}

func TestTimeout(t *testing.T) {
	r := NewInMemoryToolRegistry()
	require.NoError(t, r.RegisterFunc("slow", "test", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))
	e := newTestExecutor(t, DefaultToolConfig().WithExecutionTimeout(20*time.Millisecond), r)

	res, err := e.ExecuteToolCall(context.Background(), ToolCall{ID: "1", Name: "slow"})
	require.NoError(t, err)
	assert.Contains(t, res.Error, ErrorTypeTimeout)
}

func TestExecuteToolCallsKeepsOrder(t *testing.T) {
	r := NewInMemoryToolRegistry()
	require.NoError(t, r.RegisterFunc("echo", "test", func(in testInput) int { return in.Value }))
	e := newTestExecutor(t, DefaultToolConfig().WithMaxParallelTools(4), r)

	calls := make([]ToolCall, 10)
	for i := range calls {
		calls[i] = ToolCall{ID: "c", Name: "echo", Arguments: json.RawMessage(`{"value":` + string(rune('0'+i)) + `}`)}
	}
	results, err := e.ExecuteToolCalls(context.Background(), calls)
	require.NoError(t, err)
	for i, res := range results {
		assert.Equal(t, i, res.Result)
	}
}

func TestAbortOnError(t *testing.T) {
	r := NewInMemoryToolRegistry()
	require.NoError(t, r.RegisterFunc("fail", "test", func() (int, error) { return 0, errors.New("no") }))
	e := newTestExecutor(t, DefaultToolConfig().WithToolErrorHandling(ToolErrorAbort).WithMaxParallelTools(1), r)

	results, err := e.ExecuteToolCalls(context.Background(), []ToolCall{{Name: "fail"}, {Name: "fail"}})
	assert.Error(t, err)
	assert.NotNil(t, results[0])
	assert.Nil(t, results[1])
}

func TestFromOpenAIToolCalls(t *testing.T) {
	calls := FromOpenAIToolCalls([]openai.ToolCall{{
		ID:       "call_1",
		Type:     openai.ToolTypeFunction,
		Function: openai.FunctionCall{Name: "getUserById", Arguments: `{"id":1}`},
	}})
	require.Len(t, calls, 1)
	assert.Equal(t, "getUserById", calls[0].Name)
	assert.JSONEq(t, `{"id":1}`, string(calls[0].Arguments))
}
