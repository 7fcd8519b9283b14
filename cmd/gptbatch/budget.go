package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/coastalcabana/gptbatch/pkg/budget"
	"github.com/coastalcabana/gptbatch/pkg/tracker"
)

func newBudgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect spend budgets",
	}

	var caller string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show spend vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Budget.Enabled {
				fmt.Println("Budget enforcement is disabled.")
				return nil
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			enforcer := budget.New(cfg.Budget.Policies, tr)

			statuses, err := enforcer.Status(context.Background(), caller)
			if err != nil {
				return err
			}

			if len(statuses) == 0 {
				fmt.Println("No budget policies found for this caller.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "POLICY\tPERIOD\tMAX COST\tSPENT\tREMAINING")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t$%.4f\t$%.4f\t$%.4f\n",
					s.Policy.Caller, s.Policy.Period, s.Policy.MaxCost, s.Spent, s.Remaining)
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().StringVar(&caller, "caller", "*", "caller to report on (\"*\" sums all callers)")

	cmd.AddCommand(statusCmd)
	return cmd
}
