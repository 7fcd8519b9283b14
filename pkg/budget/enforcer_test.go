package budget

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/coastalcabana/gptbatch/pkg/models"
	"github.com/coastalcabana/gptbatch/pkg/tracker"
)

func setup(t *testing.T) (tracker.Tracker, context.Context) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "budget_test.db")
	tr, err := tracker.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, context.Background()
}

func spend(t *testing.T, tr tracker.Tracker, caller string, cost float64) {
	t.Helper()
	err := tr.Record(context.Background(), models.UsageRecord{
		Caller: caller, Model: "gpt-4o",
		PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150,
		Cost: cost, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCheckUnderBudget(t *testing.T) {
	tr, ctx := setup(t)
	spend(t, tr, "brochure", 0.40)

	e := New([]models.BudgetPolicy{
		{Caller: "*", MaxCost: 1, Period: models.BudgetDaily},
	}, tr)

	if err := e.Check(ctx, "brochure"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckExceeded(t *testing.T) {
	tr, ctx := setup(t)
	spend(t, tr, "brochure", 0.60)
	spend(t, tr, "brochure", 0.50)

	e := New([]models.BudgetPolicy{
		{Caller: "*", MaxCost: 1, Period: models.BudgetDaily},
	}, tr)

	err := e.Check(ctx, "brochure")
	if err == nil {
		t.Fatal("expected budget exceeded error")
	}
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("expected ErrBudgetExceeded, got %v", err)
	}

	// Other callers are measured on their own spend.
	if err := e.Check(ctx, "listing"); err != nil {
		t.Errorf("expected no error for listing, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	tr, ctx := setup(t)
	spend(t, tr, "brochure", 0.25)

	e := New([]models.BudgetPolicy{
		{Caller: "*", MaxCost: 1, Period: models.BudgetDaily},
	}, tr)

	statuses, err := e.Status(ctx, "brochure")
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
	if math.Abs(statuses[0].Spent-0.25) > 1e-9 {
		t.Errorf("expected 0.25 spent, got %v", statuses[0].Spent)
	}
	if math.Abs(statuses[0].Remaining-0.75) > 1e-9 {
		t.Errorf("expected 0.75 remaining, got %v", statuses[0].Remaining)
	}
}

func TestSpecificCallerPolicy(t *testing.T) {
	tr, ctx := setup(t)

	e := New([]models.BudgetPolicy{
		{Caller: "brochure", MaxCost: 5, Period: models.BudgetDaily},
		{Caller: "*", MaxCost: 100, Period: models.BudgetMonthly},
	}, tr)

	// listing should only match wildcard
	statuses, err := e.Status(ctx, "listing")
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status for listing, got %d", len(statuses))
	}

	// brochure should match both
	statuses, err = e.Status(ctx, "brochure")
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses for brochure, got %d", len(statuses))
	}
}

func TestPeriodStart(t *testing.T) {
	now := time.Date(2026, time.March, 17, 15, 4, 5, 0, time.UTC)

	if got := periodStart(models.BudgetDaily, now); !got.Equal(time.Date(2026, time.March, 17, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("daily start = %v", got)
	}
	if got := periodStart(models.BudgetMonthly, now); !got.Equal(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("monthly start = %v", got)
	}
}
