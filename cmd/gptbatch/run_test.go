package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/coastalcabana/gptbatch/pkg/models"
	"github.com/coastalcabana/gptbatch/pkg/prompt"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"two\nlines", 20, "two lines"},
		{"abcdefghij", 5, "abcd…"},
		{"ñandú ñandú", 6, "ñandú…"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestWriteResults(t *testing.T) {
	batch := &models.BatchResult{
		ID:        "b1",
		Caller:    "cli",
		TotalCost: 0.125,
		Results: []models.Result{
			{Index: 0, Status: models.StatusSucceeded, Model: "gpt-4o", Cost: 0.125, Attempts: 1,
				Output: models.Output{Kind: models.OutputText, Text: "hello"}},
			{Index: 1, Status: models.StatusFailed, Attempts: 3, Err: errors.New("boom")},
		},
	}

	path := filepath.Join(t.TempDir(), "out.json")
	if err := writeResults(path, batch); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got batchJSON
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got.Results))
	}
	if got.Results[0].Output != "hello" || got.Results[0].Kind != "text" {
		t.Errorf("unexpected first result: %+v", got.Results[0])
	}
	if got.Results[1].Error != "boom" || got.Results[1].Output != nil {
		t.Errorf("unexpected second result: %+v", got.Results[1])
	}
}

func TestBatchFileRendersTemplates(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "listing.tmpl"), []byte("Describe a flat in {{.city}}."), 0o644); err != nil {
		t.Fatal(err)
	}

	specs, err := models.ParseRequestSpecsWith([]byte(`
- template: listing.tmpl
  vars: {city: "\"Faro\""}
`), prompt.NewRenderer(dir))
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 1 || len(specs[0].Messages) != 1 {
		t.Fatalf("unexpected specs: %+v", specs)
	}
	if got := specs[0].Messages[0]; got.Role != "user" || got.Content != "Describe a flat in Faro." {
		t.Errorf("unexpected message: %+v", got)
	}
}
