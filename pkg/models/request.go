package models

import (
	"encoding/json"
	"fmt"

	"github.com/coastalcabana/gptbatch/pkg/structured"
)

// DefaultModel is used when a RequestSpec leaves Model empty.
const DefaultModel = "gpt-3.5-turbo-1106"

// Defaults applied to unset sampling parameters.
const (
	DefaultTemperature      = 0.0
	DefaultTopP             = 1.0
	DefaultMaxTokens        = 1000
	DefaultFrequencyPenalty = 0.0
	DefaultPresencePenalty  = 0.0
)

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Tool declares a function the model may call.
type Tool struct {
	Type     string       `json:"type" yaml:"type"`
	Function ToolFunction `json:"function" yaml:"function"`
}

// ToolFunction is the function half of a Tool declaration.
type ToolFunction struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters"`
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the name and JSON-encoded arguments of a ToolCall.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// RequestSpec is one unit of work for the executor. Unset pointer fields take
// the package defaults. A spec must not be modified after submission.
type RequestSpec struct {
	Model            string
	Messages         []ChatMessage
	Temperature      *float64
	TopP             *float64
	MaxTokens        *int
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Stop             []string
	LogitBias        map[string]int
	Tools            []Tool
	ToolChoice       any
	ResponseFormat   structured.Format
}

// Float returns a pointer to v, for optional RequestSpec fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for optional RequestSpec fields.
func Int(v int) *int { return &v }

var validRoles = map[string]bool{
	"system":    true,
	"developer": true,
	"user":      true,
	"assistant": true,
	"tool":      true,
}

// Validate rejects specs the endpoint would refuse outright.
func (s RequestSpec) Validate() error {
	if len(s.Messages) == 0 {
		return fmt.Errorf("request has no messages")
	}
	for i, m := range s.Messages {
		if !validRoles[m.Role] {
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > 2) {
		return fmt.Errorf("temperature %v out of range [0, 2]", *s.Temperature)
	}
	if s.TopP != nil && (*s.TopP < 0 || *s.TopP > 1) {
		return fmt.Errorf("top_p %v out of range [0, 1]", *s.TopP)
	}
	if s.MaxTokens != nil && *s.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", *s.MaxTokens)
	}
	if s.FrequencyPenalty != nil && (*s.FrequencyPenalty < -2 || *s.FrequencyPenalty > 2) {
		return fmt.Errorf("frequency_penalty %v out of range [-2, 2]", *s.FrequencyPenalty)
	}
	if s.PresencePenalty != nil && (*s.PresencePenalty < -2 || *s.PresencePenalty > 2) {
		return fmt.Errorf("presence_penalty %v out of range [-2, 2]", *s.PresencePenalty)
	}
	if s.ResponseFormat != nil && len(s.Tools) > 0 {
		return fmt.Errorf("tools and a response format cannot be combined")
	}
	if len(s.Stop) > 4 {
		return fmt.Errorf("at most 4 stop sequences, got %d", len(s.Stop))
	}
	return nil
}

// ChatCompletionRequest builds the wire request with defaults filled in.
func (s RequestSpec) ChatCompletionRequest() ChatCompletionRequest {
	req := ChatCompletionRequest{
		Model:            s.Model,
		Messages:         s.Messages,
		Temperature:      DefaultTemperature,
		TopP:             DefaultTopP,
		MaxTokens:        DefaultMaxTokens,
		FrequencyPenalty: DefaultFrequencyPenalty,
		PresencePenalty:  DefaultPresencePenalty,
		Stop:             s.Stop,
		LogitBias:        s.LogitBias,
	}
	if req.Model == "" {
		req.Model = DefaultModel
	}
	if s.Temperature != nil {
		req.Temperature = *s.Temperature
	}
	if s.TopP != nil {
		req.TopP = *s.TopP
	}
	if s.MaxTokens != nil {
		req.MaxTokens = *s.MaxTokens
	}
	if s.FrequencyPenalty != nil {
		req.FrequencyPenalty = *s.FrequencyPenalty
	}
	if s.PresencePenalty != nil {
		req.PresencePenalty = *s.PresencePenalty
	}
	if s.ResponseFormat != nil {
		req.ResponseFormat = &ResponseFormat{
			Type: "json_schema",
			JSONSchema: &JSONSchema{
				Name:   s.ResponseFormat.Name(),
				Strict: s.ResponseFormat.Strict(),
				Schema: s.ResponseFormat.Schema(),
			},
		}
	}
	if len(s.Tools) > 0 {
		req.Tools = s.Tools
		req.ToolChoice = s.ToolChoice
	}
	return req
}

// ChatCompletionRequest is an OpenAI-compatible chat completion request.
type ChatCompletionRequest struct {
	Model            string          `json:"model"`
	Messages         []ChatMessage   `json:"messages"`
	Temperature      float64         `json:"temperature"`
	TopP             float64         `json:"top_p"`
	MaxTokens        int             `json:"max_tokens"`
	FrequencyPenalty float64         `json:"frequency_penalty"`
	PresencePenalty  float64         `json:"presence_penalty"`
	Stop             []string        `json:"stop,omitempty"`
	LogitBias        map[string]int  `json:"logit_bias,omitempty"`
	Tools            []Tool          `json:"tools,omitempty"`
	ToolChoice       any             `json:"tool_choice,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`
}

// ResponseFormat constrains the completion to a JSON schema.
type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

// JSONSchema is the named schema inside a ResponseFormat.
type JSONSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// ChatCompletionResponse is an OpenAI-compatible chat completion response.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant message of a Choice. Parsed holds the
// decoded record when a ResponseFormat was requested.
type ResponseMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Refusal   string     `json:"refusal,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Parsed    any        `json:"-"`
}
