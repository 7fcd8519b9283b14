package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/coastalcabana/gptbatch/pkg/models"
)

// ErrRefused is returned when the model declined to answer.
var ErrRefused = errors.New("completion refused")

// APIError is a non-2xx response from the endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat completion: status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying.
func (e *APIError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500
}

// LengthError is returned when generation stopped at the max_tokens cap.
// Response holds the partial completion and its usage.
type LengthError struct {
	Response *models.ChatCompletionResponse
}

func (e *LengthError) Error() string {
	if e.Response != nil && e.Response.Usage != nil {
		return fmt.Sprintf("completion truncated at length limit (%d completion tokens)", e.Response.Usage.CompletionTokens)
	}
	return "completion truncated at length limit"
}

// PartialContent returns the content generated before the cut-off.
func (e *LengthError) PartialContent() string {
	if e.Response == nil || len(e.Response.Choices) == 0 {
		return ""
	}
	return e.Response.Choices[0].Message.Content
}
