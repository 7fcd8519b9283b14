package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coastalcabana/gptbatch/pkg/models"
	"github.com/coastalcabana/gptbatch/pkg/tracker"
)

// ErrBudgetExceeded is returned when a caller has spent its budget.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Enforcer checks caller spend against budget policies.
type Enforcer struct {
	policies []models.BudgetPolicy
	tracker  tracker.Tracker
	now      func() time.Time
}

// New creates an Enforcer with the given policies and tracker.
func New(policies []models.BudgetPolicy, t tracker.Tracker) *Enforcer {
	return &Enforcer{policies: policies, tracker: t, now: time.Now}
}

// Check returns ErrBudgetExceeded if the caller has reached any applicable policy.
func (e *Enforcer) Check(ctx context.Context, caller string) error {
	for _, p := range e.policiesFor(caller) {
		spent, err := e.tracker.TotalCostByCaller(ctx, caller, periodStart(p.Period, e.now()))
		if err != nil {
			return fmt.Errorf("budget check: %w", err)
		}
		if spent >= p.MaxCost {
			return fmt.Errorf("%w: caller %q spent $%.4f of $%.4f %s",
				ErrBudgetExceeded, caller, spent, p.MaxCost, p.Period)
		}
	}
	return nil
}

// Status returns the budget status for a caller across all applicable policies.
func (e *Enforcer) Status(ctx context.Context, caller string) ([]models.BudgetStatus, error) {
	policies := e.policiesFor(caller)
	statuses := make([]models.BudgetStatus, 0, len(policies))

	for _, p := range policies {
		spent, err := e.tracker.TotalCostByCaller(ctx, caller, periodStart(p.Period, e.now()))
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		statuses = append(statuses, models.BudgetStatus{
			Policy:    p,
			Spent:     spent,
			Remaining: max(p.MaxCost-spent, 0),
		})
	}
	return statuses, nil
}

func (e *Enforcer) policiesFor(caller string) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policies {
		if p.Caller == "*" || p.Caller == caller {
			result = append(result, p)
		}
	}
	return result
}

func periodStart(period models.BudgetPeriod, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case models.BudgetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
