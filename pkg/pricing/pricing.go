// Package pricing converts token counts into USD using a per-model price table.
package pricing

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/coastalcabana/gptbatch/pkg/models"
)

//go:embed price_lut.json
var bundled []byte

// ErrUnknownModel is returned when a model has no entry in the table.
var ErrUnknownModel = errors.New("unknown model")

// Table is a read-only price lookup keyed by model id.
type Table struct {
	prices map[string]models.ModelPricing
}

// New builds a Table from explicit entries.
func New(prices []models.ModelPricing) *Table {
	m := make(map[string]models.ModelPricing, len(prices))
	for _, p := range prices {
		m[p.Model] = p
	}
	return &Table{prices: m}
}

// Default returns the table bundled with the binary.
func Default() (*Table, error) {
	return Parse(bundled)
}

// Load reads a price table file. An empty path selects the bundled table.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price table: %w", err)
	}
	return Parse(data)
}

// Parse decodes a {"model": {"prompt_price": x, "completion_price": y}} document.
func Parse(data []byte) (*Table, error) {
	var raw map[string]models.ModelPricing
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse price table: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("parse price table: no models")
	}
	prices := make(map[string]models.ModelPricing, len(raw))
	for model, p := range raw {
		if p.PromptPrice < 0 || p.CompletionPrice < 0 {
			return nil, fmt.Errorf("parse price table: negative price for %s", model)
		}
		p.Model = model
		prices[model] = p
	}
	return &Table{prices: prices}, nil
}

// Lookup returns the pricing for a model.
func (t *Table) Lookup(model string) (models.ModelPricing, bool) {
	p, ok := t.prices[model]
	return p, ok
}

// Cost returns the USD cost of a response. Prices are per 1000 tokens.
func (t *Table) Cost(model string, promptTokens, completionTokens int) (float64, error) {
	p, ok := t.prices[model]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	return float64(promptTokens)/1000*p.PromptPrice +
		float64(completionTokens)/1000*p.CompletionPrice, nil
}

// Models returns the known model ids in sorted order.
func (t *Table) Models() []string {
	out := make([]string, 0, len(t.prices))
	for m := range t.prices {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
