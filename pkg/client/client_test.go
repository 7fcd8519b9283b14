package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coastalcabana/gptbatch/pkg/config"
	"github.com/coastalcabana/gptbatch/pkg/models"
	"github.com/coastalcabana/gptbatch/pkg/structured"
)

type cityInfo struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*config.ProviderConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default().Provider
	cfg.URL = srv.URL
	cfg.APIKey = "sk-test"
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg, nil)
	require.NoError(t, err)
	return c
}

func reply(w http.ResponseWriter, model, content, finish string) {
	resp := models.ChatCompletionResponse{
		ID:    "chatcmpl-1",
		Model: model,
		Choices: []models.Choice{{
			Message:      models.ResponseMessage{Role: "assistant", Content: content},
			FinishReason: finish,
		}},
		Usage: &models.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func userSpec(content string) models.RequestSpec {
	return models.RequestSpec{
		Model:    "gpt-4o-mini",
		Messages: []models.ChatMessage{{Role: "user", Content: content}},
	}
}

func TestCompleteText(t *testing.T) {
	var got models.ChatCompletionRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		reply(w, "gpt-4o-mini-2024-07-18", "Hello!", "stop")
	})

	resp, err := c.Complete(context.Background(), userSpec("hi"))
	require.NoError(t, err)
	assert.Equal(t, "Hello!", resp.Choices[0].Message.Content)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", resp.Model)
	assert.Equal(t, 10, resp.Usage.PromptTokens)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, models.DefaultMaxTokens, got.MaxTokens)
	assert.Equal(t, models.DefaultTopP, got.TopP)
	assert.Nil(t, got.ResponseFormat)
}

func TestCompleteStructured(t *testing.T) {
	var got models.ChatCompletionRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		reply(w, "gpt-4o-mini", `{"city":"Tokyo","country":"Japan"}`, "stop")
	})

	spec := userSpec("Tokyo?")
	spec.ResponseFormat = structured.For[cityInfo]("CityInfo", json.RawMessage(`{"type":"object"}`))

	resp, err := c.Complete(context.Background(), spec)
	require.NoError(t, err)
	city, ok := structured.As[cityInfo](resp.Choices[0].Message.Parsed)
	require.True(t, ok)
	assert.Equal(t, "Tokyo", city.City)

	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_schema", got.ResponseFormat.Type)
	assert.Equal(t, "CityInfo", got.ResponseFormat.JSONSchema.Name)
	assert.True(t, got.ResponseFormat.JSONSchema.Strict)
}

func TestCompleteTruncatedJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, "gpt-4o-mini", `{"city": "Tokyo", "count`, "stop")
	})

	spec := userSpec("Tokyo?")
	spec.ResponseFormat = structured.For[cityInfo]("CityInfo", nil)

	_, err := c.Complete(context.Background(), spec)
	var de *structured.DecodeError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, structured.ErrIncomplete)
	assert.Equal(t, `{"city": "Tokyo", "count`, de.Raw)
}

func TestCompleteLengthLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, "gpt-4o-mini", "partial answ", "length")
	})

	_, err := c.Complete(context.Background(), userSpec("long"))
	var le *LengthError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "partial answ", le.PartialContent())
	assert.Equal(t, 5, le.Response.Usage.CompletionTokens)
}

func TestCompleteRefusal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, "gpt-4o-mini", "", "content_filter")
	})
	_, err := c.Complete(context.Background(), userSpec("x"))
	assert.ErrorIs(t, err, ErrRefused)
}

func TestCompleteAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	})

	_, err := c.Complete(context.Background(), userSpec("x"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.True(t, apiErr.Temporary())
	assert.Contains(t, apiErr.Body, "slow down")

	assert.False(t, (&APIError{StatusCode: http.StatusBadRequest}).Temporary())
	assert.True(t, (&APIError{StatusCode: http.StatusBadGateway}).Temporary())
}

func TestCompleteToolCall(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"gpt-4o-mini","choices":[{"index":0,"finish_reason":"tool_calls",
			"message":{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function",
			"function":{"name":"lookup","arguments":"{\"q\":\"x\"}"}}]}}],
			"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`))
	})

	spec := userSpec("x")
	spec.Tools = []models.Tool{{Type: "function", Function: models.ToolFunction{Name: "lookup"}}}
	resp, err := c.Complete(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "lookup", resp.Choices[0].Message.ToolCalls[0].Function.Name)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, func(cfg *config.ProviderConfig) {
		cfg.Breaker.Enabled = true
		cfg.Breaker.MinRequests = 2
		cfg.Breaker.FailureRatio = 0.5
		cfg.Breaker.Timeout = time.Minute
	})

	for range 2 {
		_, err := c.Complete(context.Background(), userSpec("x"))
		require.Error(t, err)
	}
	_, err := c.Complete(context.Background(), userSpec("x"))
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState), "expected open breaker, got %v", err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRateLimiterHonorsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, "gpt-4o-mini", "ok", "stop")
	}, func(cfg *config.ProviderConfig) {
		cfg.RequestsPerSecond = 0.001
	})

	_, err := c.Complete(context.Background(), userSpec("first"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, userSpec("second"))
	assert.Error(t, err)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(config.ProviderConfig{URL: "not a url"}, nil)
	assert.Error(t, err)
}
