package models

// BudgetPeriod defines the time window for a budget policy.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetMonthly BudgetPeriod = "monthly"
)

// BudgetPolicy caps the spend, in USD, of a caller per period.
// Caller "*" applies to every caller.
type BudgetPolicy struct {
	Caller  string       `json:"caller" yaml:"caller"`
	MaxCost float64      `json:"max_cost" yaml:"max_cost"`
	Period  BudgetPeriod `json:"period" yaml:"period"`
}

// BudgetStatus shows current spend against a policy.
type BudgetStatus struct {
	Policy    BudgetPolicy `json:"policy"`
	Spent     float64      `json:"spent"`
	Remaining float64      `json:"remaining"`
}
