package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchResultOutputs(t *testing.T) {
	choice := &Choice{FinishReason: "tool_calls"}
	b := &BatchResult{Results: []Result{
		{Index: 0, Status: StatusSucceeded, Output: Output{Kind: OutputText, Text: "hello"}},
		{Index: 1, Status: StatusFailed, Err: errors.New("boom")},
		{Index: 2, Status: StatusSucceeded, Output: Output{Kind: OutputStructured, Value: map[string]any{"a": 1.0}}},
		{Index: 3, Status: StatusSucceeded, Output: Output{Kind: OutputToolCall, Choice: choice}},
		{Index: 4, Status: StatusPending},
	}}

	out := b.Outputs()
	assert.Equal(t, "hello", out[0])
	assert.Nil(t, out[1])
	assert.Equal(t, map[string]any{"a": 1.0}, out[2])
	assert.Same(t, choice, out[3])
	assert.Nil(t, out[4])
	assert.Equal(t, 1, b.Failed())
}

func TestStatusText(t *testing.T) {
	for s, want := range map[Status]string{
		StatusPending:   "pending",
		StatusSucceeded: "succeeded",
		StatusFailed:    "failed",
	} {
		text, err := s.MarshalText()
		assert.NoError(t, err)
		assert.Equal(t, want, string(text))

		var back Status
		assert.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}

	var s Status
	assert.Error(t, s.UnmarshalText([]byte("lost")))
}
