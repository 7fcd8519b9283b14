package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/coastalcabana/gptbatch/pkg/pricing"
)

func newPricesCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "prices",
		Short: "List per-1K-token prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			table, err := pricing.Load(cfg.Pricing.File)
			if err != nil {
				return err
			}

			names := table.Models()
			if model != "" {
				if _, ok := table.Lookup(model); !ok {
					return fmt.Errorf("%w: %s", pricing.ErrUnknownModel, model)
				}
				names = []string{model}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tPROMPT / 1K\tCOMPLETION / 1K")
			for _, name := range names {
				p, _ := table.Lookup(name)
				fmt.Fprintf(w, "%s\t$%.6f\t$%.6f\n", name, p.PromptPrice, p.CompletionPrice)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "show a single model")
	return cmd
}

func newCostCmd() *cobra.Command {
	var (
		model            string
		promptTokens     int
		completionTokens int
	)

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Compute the cost of a response from its token counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			table, err := pricing.Load(cfg.Pricing.File)
			if err != nil {
				return err
			}
			cost, err := table.Cost(model, promptTokens, completionTokens)
			if err != nil {
				return err
			}
			fmt.Printf("$%.6f\n", cost)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model id as echoed by the endpoint")
	cmd.Flags().IntVar(&promptTokens, "prompt-tokens", 0, "prompt token count")
	cmd.Flags().IntVar(&completionTokens, "completion-tokens", 0, "completion token count")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}
