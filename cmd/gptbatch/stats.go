package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/coastalcabana/gptbatch/pkg/tracker"
)

const timeLayout = "2006-01-02T15:04:05"

func newStatsCmd() *cobra.Command {
	var (
		caller  string
		batches bool
		batchID string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show usage and spend statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			ctx := context.Background()

			// Batch detail view
			if batchID != "" {
				reqs, err := tr.BatchRequests(ctx, batchID)
				if err != nil {
					return err
				}
				if len(reqs) == 0 {
					fmt.Println("No recorded requests for batch.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "#\tTIME\tMODEL\tPROMPT\tCOMPLETION\tCOST\tSOURCE")
				for _, r := range reqs {
					source := "api"
					switch {
					case r.Cached:
						source = "cache"
					case r.Repaired:
						source = "repair"
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t$%.6f\t%s\n",
						r.Index, r.CreatedAt.Format(timeLayout), r.Model, r.PromptTokens, r.CompletionTokens, r.Cost, source)
				}
				return w.Flush()
			}

			// Batch list view
			if batches {
				list, err := tr.ListBatches(ctx, caller)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Println("No batches found.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "BATCH ID\tCALLER\tSTARTED\tDURATION\tREQUESTS\tFAILED\tCOST")
				for _, b := range list {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t$%.6f\n",
						b.ID, b.Caller, b.StartedAt.Format(timeLayout), b.FinishedAt.Sub(b.StartedAt).Round(time.Millisecond),
						b.RequestCount, b.FailedCount, b.TotalCost)
				}
				return w.Flush()
			}

			summaries, err := tr.Summary(ctx, caller)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CALLER\tMODEL\tREQUESTS\tPROMPT\tCOMPLETION\tTOTAL\tCOST")
			var total float64
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t$%.6f\n",
					s.Caller, s.Model, s.RequestCount, s.TotalPrompt, s.TotalCompletion, s.TotalTokens, s.TotalCost)
				total += s.TotalCost
			}
			fmt.Fprintf(w, "\t\t\t\t\tTOTAL\t$%.6f\n", total)
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&caller, "caller", "", "filter by caller")
	cmd.Flags().BoolVar(&batches, "batches", false, "list batches")
	cmd.Flags().StringVar(&batchID, "batch-id", "", "show requests of one batch")

	return cmd
}
