// Package client talks to an OpenAI-compatible chat-completion endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/coastalcabana/gptbatch/pkg/config"
	"github.com/coastalcabana/gptbatch/pkg/models"
)

const completionsPath = "/v1/chat/completions"

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

// Completer issues a single chat-completion call.
type Completer interface {
	Complete(ctx context.Context, spec models.RequestSpec) (*models.ChatCompletionResponse, error)
}

// Client is a Completer over HTTP. It is safe for concurrent use and is meant
// to be created once per process.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// New creates a Client with a pooled transport bounded by cfg.
func New(cfg config.ProviderConfig, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid provider URL %q", cfg.URL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxConnsPerHost:     cfg.MaxConnections,
		MaxIdleConns:        cfg.MaxIdleConnections,
		MaxIdleConnsPerHost: cfg.MaxIdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	c := &Client{
		endpoint: base.String() + completionsPath,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Transport: transport, Timeout: cfg.Timeout},
		logger:   logger,
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if cfg.Breaker.Enabled {
		c.breaker = newBreaker(cfg.Breaker, logger)
	}
	return c, nil
}

func newBreaker(cfg config.BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chat-completions",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		// Client errors say nothing about endpoint health.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Temporary()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// Complete sends spec and returns the parsed response. When spec carries a
// ResponseFormat the first choice's content is decoded into
// Message.Parsed; content that does not fit is reported as a
// *structured.DecodeError. A completion cut off by max_tokens is reported as
// a *LengthError before any decoding.
func (c *Client) Complete(ctx context.Context, spec models.RequestSpec) (*models.ChatCompletionResponse, error) {
	body, err := json.Marshal(spec.ChatCompletionRequest())
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var respBody []byte
	if c.breaker != nil {
		out, err := c.breaker.Execute(func() (interface{}, error) {
			return c.post(ctx, body)
		})
		if err != nil {
			return nil, err
		}
		respBody = out.([]byte)
	} else {
		respBody, err = c.post(ctx, body)
		if err != nil {
			return nil, err
		}
	}

	return parseResponse(spec, respBody)
}

// post sends one request and returns the body of a 2xx response.
func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := respBody
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	return respBody, nil
}

func parseResponse(spec models.RequestSpec, body []byte) (*models.ChatCompletionResponse, error) {
	var resp models.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion: response has no choices")
	}

	choice := &resp.Choices[0]
	switch choice.FinishReason {
	case "length":
		return nil, &LengthError{Response: &resp}
	case "content_filter":
		return nil, fmt.Errorf("%w: content filter", ErrRefused)
	}
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("%w: %s", ErrRefused, choice.Message.Refusal)
	}

	if spec.ResponseFormat != nil {
		parsed, err := spec.ResponseFormat.Decode([]byte(choice.Message.Content))
		if err != nil {
			return nil, err
		}
		choice.Message.Parsed = parsed
	}
	return &resp, nil
}
