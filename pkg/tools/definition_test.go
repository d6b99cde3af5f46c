package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testContextKey string

type testInput struct {
	Value int `json:"value"`
}

type searchInput struct {
	Query string `json:"q" jsonschema:"description=Search text"`
	Limit int    `json:"limit,omitempty"`
}

func TestToolFuncExecute_SupportsContextAndInputSignature(t *testing.T) {
	def, err := NewToolFromFunc(
		"ctx_input_tool",
		"test",
		func(ctx context.Context, in testInput) (int, error) {
			if ctx == nil {
				t.Fatalf("ctx should not be nil")
			}
			return in.Value + 1, nil
		},
	)
	if err != nil {
		t.Fatalf("NewToolFromFunc failed: %v", err)
	}

	out, err := def.Function.Execute(context.Background(), []byte(`{"value":41}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	v, ok := out.(int)
	if !ok {
		t.Fatalf("expected int result, got %T", out)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestToolFuncExecute_PassesProvidedContext(t *testing.T) {
	key := testContextKey("tool-test-key")
	def, err := NewToolFromFunc(
		"ctx_passthrough_tool",
		"test",
		func(ctx context.Context, in testInput) (bool, error) {
			v, _ := ctx.Value(key).(string)
			return v == "ok" && in.Value == 7, nil
		},
	)
	if err != nil {
		t.Fatalf("NewToolFromFunc failed: %v", err)
	}

	ctx := context.WithValue(context.Background(), key, "ok")
	out, err := def.Function.Execute(ctx, []byte(`{"value":7}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if v, _ := out.(bool); !v {
		t.Fatalf("expected true result")
	}
}

func TestToolFuncExecute_OtherSignatures(t *testing.T) {
	noArgs, err := NewToolFromFunc("now", "test", func() string { return "tick" })
	require.NoError(t, err)
	out, err := noArgs.Function.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "tick", out)

	ctxOnly, err := NewToolFromFunc("ctx_only", "test", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	out, err = ctxOnly.Function.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	_, err = NewToolFromFunc("bad", "test", 42)
	assert.Error(t, err)
	_, err = NewToolFromFunc("bad", "test", func(a, b int) int { return a + b })
	assert.Error(t, err)
	_, err = NewToolFromFunc("bad", "test", func() (int, int) { return 1, 2 })
	assert.Error(t, err)
}

func TestValidateArguments(t *testing.T) {
	def, err := NewToolFromFunc("search", "test", func(in searchInput) ([]string, error) {
		return []string{in.Query}, nil
	})
	require.NoError(t, err)

	require.NoError(t, def.ValidateArguments(json.RawMessage(`{"q":"john"}`)))
	require.NoError(t, def.ValidateArguments(json.RawMessage(`{"q":"john","limit":5}`)))

	err = def.ValidateArguments(json.RawMessage(`{"limit":5}`))
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ErrorTypeValidation, te.Type)

	assert.Error(t, def.ValidateArguments(json.RawMessage(`{"q":3}`)))
	assert.Error(t, def.ValidateArguments(nil), "q is required")
}

func TestSchemaIsInlined(t *testing.T) {
	def, err := NewToolFromFunc("search", "test", func(in searchInput) ([]string, error) {
		return nil, nil
	})
	require.NoError(t, err)

	b, err := json.Marshal(def.Parameters)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "$ref")
	assert.NotContains(t, string(b), "$schema")
	assert.Contains(t, string(b), `"q"`)
}
