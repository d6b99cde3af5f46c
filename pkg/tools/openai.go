package tools

import (
	"encoding/json"

	"github.com/sashabaranov/go-openai"
)

// OpenAITools converts definitions to the OpenAI function tool format.
func OpenAITools(defs []ToolDefinition) []openai.Tool {
	ret := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		ret = append(ret, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return ret
}

// FromOpenAIToolCalls converts tool calls requested by an OpenAI model.
func FromOpenAIToolCalls(calls []openai.ToolCall) []ToolCall {
	ret := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		ret = append(ret, ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: json.RawMessage(c.Function.Arguments),
		})
	}
	return ret
}
