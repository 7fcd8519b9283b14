package models

// ModelPricing defines per-1K token prices for a model.
type ModelPricing struct {
	Model           string  `json:"-" yaml:"model"`
	PromptPrice     float64 `json:"prompt_price" yaml:"prompt_price"`
	CompletionPrice float64 `json:"completion_price" yaml:"completion_price"`
}
