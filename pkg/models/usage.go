package models

import "time"

// Usage represents token usage from an LLM response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageRecord tracks one succeeded request.
type UsageRecord struct {
	ID               int64     `json:"id"`
	Caller           string    `json:"caller"`
	BatchID          string    `json:"batch_id"`
	Index            int       `json:"index"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Cost             float64   `json:"cost"`
	Repaired         bool      `json:"repaired,omitempty"`
	Cached           bool      `json:"cached,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// BatchSummary describes one executor call.
type BatchSummary struct {
	ID           string    `json:"id"`
	Caller       string    `json:"caller"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	RequestCount int       `json:"request_count"`
	FailedCount  int       `json:"failed_count"`
	TotalCost    float64   `json:"total_cost"`
}

// UsageSummary aggregates usage per caller and model.
type UsageSummary struct {
	Caller          string  `json:"caller"`
	Model           string  `json:"model"`
	RequestCount    int     `json:"request_count"`
	TotalPrompt     int     `json:"total_prompt"`
	TotalCompletion int     `json:"total_completion"`
	TotalTokens     int     `json:"total_tokens"`
	TotalCost       float64 `json:"total_cost"`
}
