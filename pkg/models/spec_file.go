package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/coastalcabana/gptbatch/pkg/structured"
	"gopkg.in/yaml.v3"
)

// specDoc is the on-disk form of a RequestSpec.
type specDoc struct {
	Model            string         `yaml:"model"`
	Messages         []ChatMessage  `yaml:"messages"`
	Temperature      *float64       `yaml:"temperature"`
	TopP             *float64       `yaml:"top_p"`
	MaxTokens        *int           `yaml:"max_tokens"`
	FrequencyPenalty *float64       `yaml:"frequency_penalty"`
	PresencePenalty  *float64       `yaml:"presence_penalty"`
	Stop             []string       `yaml:"stop"`
	LogitBias        map[string]int `yaml:"logit_bias"`
	Tools            []Tool         `yaml:"tools"`
	ToolChoice       any            `yaml:"tool_choice"`
	ResponseSchema   *schemaDoc     `yaml:"response_schema"`
	Template         string         `yaml:"template"`
	TemplateRole     string         `yaml:"template_role"`
	Vars             map[string]any `yaml:"vars"`
}

// TemplateRenderer renders a named prompt template with variables.
type TemplateRenderer interface {
	Render(name string, data map[string]any) (string, error)
}

type schemaDoc struct {
	Name   string         `yaml:"name"`
	Strict *bool          `yaml:"strict"`
	Schema map[string]any `yaml:"schema"`
}

// ParseRequestSpecs decodes one parameter set, or a list of them, from YAML
// or JSON. Unrecognized keys are an error. Entries naming a template are
// rejected; use ParseRequestSpecsWith to render them.
func ParseRequestSpecs(data []byte) ([]RequestSpec, error) {
	return ParseRequestSpecsWith(data, nil)
}

// ParseRequestSpecsWith is ParseRequestSpecs with template support. An entry
// with a template key has the rendered text appended to its messages, as a
// user message unless template_role says otherwise.
func ParseRequestSpecsWith(data []byte, render TemplateRenderer) ([]RequestSpec, error) {
	var shape any
	if err := yaml.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("parse request specs: %w", err)
	}

	var docs []specDoc
	switch shape.(type) {
	case []any:
		if err := decodeKnown(data, &docs); err != nil {
			return nil, err
		}
	case map[string]any:
		var doc specDoc
		if err := decodeKnown(data, &doc); err != nil {
			return nil, err
		}
		docs = []specDoc{doc}
	case nil:
		return nil, errors.New("parse request specs: empty document")
	default:
		return nil, fmt.Errorf("parse request specs: expected mapping or list, got %T", shape)
	}

	specs := make([]RequestSpec, 0, len(docs))
	for i, d := range docs {
		spec, err := d.toSpec(render)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func decodeKnown(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse request specs: %w", err)
	}
	return nil
}

func (d specDoc) toSpec(render TemplateRenderer) (RequestSpec, error) {
	messages := d.Messages
	switch {
	case d.Template != "":
		if render == nil {
			return RequestSpec{}, fmt.Errorf("template %s: no prompts directory configured", d.Template)
		}
		text, err := render.Render(d.Template, d.Vars)
		if err != nil {
			return RequestSpec{}, err
		}
		role := d.TemplateRole
		if role == "" {
			role = "user"
		}
		messages = append(append([]ChatMessage(nil), d.Messages...), ChatMessage{Role: role, Content: text})
	case d.Vars != nil || d.TemplateRole != "":
		return RequestSpec{}, errors.New("vars and template_role require template")
	}

	spec := RequestSpec{
		Model:            d.Model,
		Messages:         messages,
		Temperature:      d.Temperature,
		TopP:             d.TopP,
		MaxTokens:        d.MaxTokens,
		FrequencyPenalty: d.FrequencyPenalty,
		PresencePenalty:  d.PresencePenalty,
		Stop:             d.Stop,
		LogitBias:        d.LogitBias,
		Tools:            d.Tools,
		ToolChoice:       d.ToolChoice,
	}
	for i := range spec.Tools {
		if spec.Tools[i].Type == "" {
			spec.Tools[i].Type = "function"
		}
	}
	if d.ResponseSchema != nil {
		if d.ResponseSchema.Name == "" {
			return RequestSpec{}, errors.New("response_schema: name is required")
		}
		schema, err := json.Marshal(d.ResponseSchema.Schema)
		if err != nil {
			return RequestSpec{}, fmt.Errorf("response_schema: %w", err)
		}
		strict := true
		if d.ResponseSchema.Strict != nil {
			strict = *d.ResponseSchema.Strict
		}
		format, err := structured.Raw(d.ResponseSchema.Name, schema, strict)
		if err != nil {
			return RequestSpec{}, fmt.Errorf("response_schema: %w", err)
		}
		spec.ResponseFormat = format
	}
	if err := spec.Validate(); err != nil {
		return RequestSpec{}, err
	}
	return spec, nil
}
