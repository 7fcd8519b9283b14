// Package structured describes the record shapes a chat completion can be
// constrained to, and decodes model output into them.
package structured

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrIncomplete marks content that is a valid JSON prefix cut off before the
// value was closed.
var ErrIncomplete = errors.New("invalid JSON: EOF while parsing")

// ErrSchema marks output that parsed but does not satisfy the schema.
var ErrSchema = errors.New("schema violation")

// Format is a named structured-output schema.
type Format interface {
	// Name is the schema name sent to the endpoint.
	Name() string
	// Schema is the JSON Schema document for the record.
	Schema() json.RawMessage
	// Strict requests exact schema adherence from the endpoint.
	Strict() bool
	// Decode parses model output into the record.
	Decode(data []byte) (any, error)
}

// Validator is implemented by records that check their own invariants after
// decoding.
type Validator interface {
	Validate() error
}

// DecodeError reports model output that does not fit the requested format.
type DecodeError struct {
	Format string
	Raw    string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type typed[T any] struct {
	name   string
	schema json.RawMessage
	check  *gojsonschema.Schema
}

// For returns a Format that decodes into T. Unknown fields are rejected and,
// when schema is set, the output is checked against it. For panics if schema
// is not a valid JSON Schema.
func For[T any](name string, schema json.RawMessage) Format {
	check, err := compile(schema)
	if err != nil {
		panic(fmt.Sprintf("structured: schema %s: %v", name, err))
	}
	return typed[T]{name: name, schema: schema, check: check}
}

func (f typed[T]) Name() string            { return f.name }
func (f typed[T]) Schema() json.RawMessage { return f.schema }
func (f typed[T]) Strict() bool            { return true }

func (f typed[T]) Decode(data []byte) (any, error) {
	var v T
	if err := decode(data, &v, true); err != nil {
		return nil, &DecodeError{Format: f.name, Raw: string(data), Err: err}
	}
	if err := validate(f.check, data); err != nil {
		return nil, &DecodeError{Format: f.name, Raw: string(data), Err: err}
	}
	if val, ok := any(&v).(Validator); ok {
		if err := val.Validate(); err != nil {
			return nil, &DecodeError{Format: f.name, Raw: string(data), Err: err}
		}
	}
	return v, nil
}

type raw struct {
	name   string
	schema json.RawMessage
	strict bool
	check  *gojsonschema.Schema
}

// Raw returns a Format that decodes into map[string]any and checks the result
// against schema. It is used where the schema is only known at run time, such
// as batch files.
func Raw(name string, schema json.RawMessage, strict bool) (Format, error) {
	check, err := compile(schema)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	return raw{name: name, schema: schema, strict: strict, check: check}, nil
}

func (f raw) Name() string            { return f.name }
func (f raw) Schema() json.RawMessage { return f.schema }
func (f raw) Strict() bool            { return f.strict }

func (f raw) Decode(data []byte) (any, error) {
	var v map[string]any
	if err := decode(data, &v, false); err != nil {
		return nil, &DecodeError{Format: f.name, Raw: string(data), Err: err}
	}
	if err := validate(f.check, data); err != nil {
		return nil, &DecodeError{Format: f.name, Raw: string(data), Err: err}
	}
	return v, nil
}

// compile returns nil for an empty or null schema.
func compile(schema json.RawMessage) (*gojsonschema.Schema, error) {
	trimmed := bytes.TrimSpace(schema)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(trimmed))
}

func validate(check *gojsonschema.Schema, data []byte) error {
	if check == nil {
		return nil
	}
	res, err := check.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrSchema, strings.Join(msgs, "; "))
}

// As converts a decoded record back to its static type.
func As[T any](v any) (T, bool) {
	t, ok := v.(T)
	return t, ok
}

func decode(data []byte, v any, strict bool) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %v", ErrIncomplete, err)
		}
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}
