package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// ToolDefinition is a callable tool with the JSON schema of its arguments.
type ToolDefinition struct {
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description" yaml:"description"`
	Parameters  *jsonschema.Schema `json:"parameters" yaml:"-"`
	Tags        []string           `json:"tags,omitempty" yaml:"tags,omitempty"`
	Function    ToolFunc           `json:"-" yaml:"-"`

	validator *gojsonschema.Schema
}

// ToolFunc is the reflected wrapper around the tool's Go function.
type ToolFunc struct {
	fn        reflect.Value
	inputType reflect.Type
	takesCtx  bool
}

// NewToolFromFunc builds a ToolDefinition from fn, which must have one of
// these shapes:
//
//	func(Input) (Result, error)
//	func(context.Context, Input) (Result, error)
//	func(context.Context) (Result, error)
//	func() (Result, error)
//
// The error result is optional. The argument schema is reflected from Input.
func NewToolFromFunc(name, description string, fn any) (*ToolDefinition, error) {
	funcType := reflect.TypeOf(fn)
	if funcType == nil || funcType.Kind() != reflect.Func {
		return nil, errors.New("provided value is not a function")
	}
	if funcType.NumOut() == 0 || funcType.NumOut() > 2 {
		return nil, errors.New("function must return (result) or (result, error)")
	}
	if funcType.NumOut() == 2 && !funcType.Out(1).Implements(errorType) {
		return nil, errors.New("second return value must be an error")
	}

	tf := ToolFunc{fn: reflect.ValueOf(fn)}
	switch funcType.NumIn() {
	case 0:
	case 1:
		if funcType.In(0) == contextType {
			tf.takesCtx = true
		} else {
			tf.inputType = funcType.In(0)
		}
	case 2:
		if funcType.In(0) != contextType {
			return nil, errors.New("two-arg tool function must be (context.Context, Input)")
		}
		tf.takesCtx = true
		tf.inputType = funcType.In(1)
	default:
		return nil, errors.New("function must take at most (context.Context, Input)")
	}

	schema := schemaFor(tf.inputType)
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling argument schema")
	}
	validator, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "compiling argument schema of %s", name)
	}

	return &ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  schema,
		Function:    tf,
		validator:   validator,
	}, nil
}

func schemaFor(inputType reflect.Type) *jsonschema.Schema {
	if inputType == nil {
		return &jsonschema.Schema{Type: "object"}
	}
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	schema := reflector.ReflectFromType(inputType)
	// keep the schema draft-agnostic so gojsonschema accepts it
	schema.Version = ""
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}
	return schema
}

// ValidateArguments checks args against the argument schema. Empty args are
// validated as an empty object.
func (d *ToolDefinition) ValidateArguments(args json.RawMessage) error {
	if d.validator == nil {
		return nil
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	result, err := d.validator.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return &ToolError{ToolName: d.Name, Type: ErrorTypeValidation, Message: err.Error()}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return &ToolError{ToolName: d.Name, Type: ErrorTypeValidation, Message: strings.Join(msgs, "; ")}
	}
	return nil
}

// Execute decodes args into the input type and calls the function.
func (tf *ToolFunc) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	if !tf.fn.IsValid() {
		return nil, errors.New("tool function not properly initialized")
	}
	in := make([]reflect.Value, 0, 2)
	if tf.takesCtx {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	if tf.inputType != nil {
		input := reflect.New(tf.inputType)
		if len(args) > 0 {
			if err := json.Unmarshal(args, input.Interface()); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal arguments")
			}
		}
		in = append(in, input.Elem())
	}
	return extractResults(tf.fn.Call(in))
}

func extractResults(results []reflect.Value) (any, error) {
	switch len(results) {
	case 1:
		return results[0].Interface(), nil
	case 2:
		result := results[0].Interface()
		if results[1].IsNil() {
			return result, nil
		}
		return result, results[1].Interface().(error)
	default:
		return nil, errors.Errorf("unexpected number of return values: %d", len(results))
	}
}

// ToolCall is a request to run a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the outcome of a tool call. Tool failures are reported in
// Error rather than as a Go error.
type ToolResult struct {
	ID       string        `json:"id"`
	Name     string        `json:"name,omitempty"`
	Result   any           `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Retries  int           `json:"retries,omitempty"`
}

const (
	ErrorTypeValidation = "validation"
	ErrorTypeExecution  = "execution"
	ErrorTypeTimeout    = "timeout"
	ErrorTypeNotFound   = "not_found"
	ErrorTypeForbidden  = "forbidden"
)

// ToolError describes why a tool call failed.
type ToolError struct {
	ToolName string `json:"tool_name"`
	ToolID   string `json:"tool_id,omitempty"`
	Type     string `json:"type"`
	Message  string `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error [%s] %s: %s", e.Type, e.ToolName, e.Message)
}
