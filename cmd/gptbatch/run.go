package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coastalcabana/gptbatch/pkg/budget"
	cachepkg "github.com/coastalcabana/gptbatch/pkg/cache/sqlite"
	"github.com/coastalcabana/gptbatch/pkg/client"
	"github.com/coastalcabana/gptbatch/pkg/executor"
	"github.com/coastalcabana/gptbatch/pkg/metrics"
	"github.com/coastalcabana/gptbatch/pkg/models"
	"github.com/coastalcabana/gptbatch/pkg/pricing"
	"github.com/coastalcabana/gptbatch/pkg/prompt"
	"github.com/coastalcabana/gptbatch/pkg/tracker"
)

func newRunCmd() *cobra.Command {
	var (
		batchFile   string
		caller      string
		outPath     string
		metricsPath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a batch file of chat-completion requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			data, err := os.ReadFile(batchFile)
			if err != nil {
				return fmt.Errorf("read batch file: %w", err)
			}
			specs, err := models.ParseRequestSpecsWith(data, prompt.NewRenderer(cfg.PromptsDir))
			if err != nil {
				return err
			}

			prices, err := pricing.Load(cfg.Pricing.File)
			if err != nil {
				return err
			}
			c, err := client.New(cfg.Provider, logger)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			reg := prometheus.NewRegistry()
			opts := []executor.Option{
				executor.WithLogger(logger),
				executor.WithPolicy(cfg.Retry.Policy()),
				executor.WithRecorder(tr),
				executor.WithMetrics(metrics.New(reg)),
			}
			if cfg.Cache.Enabled {
				cache, err := cachepkg.New(cfg.DBPath, cfg.Cache.TTL)
				if err != nil {
					return err
				}
				defer func() { _ = cache.Close() }()
				opts = append(opts, executor.WithCache(cache))
			}
			if cfg.Budget.Enabled {
				opts = append(opts, executor.WithBudget(budget.New(cfg.Budget.Policies, tr)))
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			batch, execErr := executor.New(c, prices, opts...).Execute(ctx, caller, specs...)

			if err := printBatch(batch); err != nil {
				return err
			}
			if outPath != "" {
				if err := writeResults(outPath, batch); err != nil {
					return err
				}
			}
			if metricsPath != "" {
				if err := prometheus.WriteToTextfile(metricsPath, reg); err != nil {
					logger.Warn("failed to write metrics", zap.String("path", metricsPath), zap.Error(err))
				}
			}
			return execErr
		},
	}

	cmd.Flags().StringVarP(&batchFile, "file", "f", "", "YAML batch file (one spec or a list)")
	cmd.Flags().StringVar(&caller, "caller", "cli", "caller label used for logs, usage and budgets")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write results as JSON to this file")
	cmd.Flags().StringVar(&metricsPath, "metrics-file", "", "write Prometheus metrics to this file after the batch")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func printBatch(batch *models.BatchResult) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSTATUS\tMODEL\tATTEMPTS\tCOST\tOUTPUT")
	for _, r := range batch.Results {
		status := r.Status.String()
		switch {
		case r.Cached:
			status += " (cached)"
		case r.Repaired:
			status += " (repaired)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t$%.6f\t%s\n",
			r.Index, status, r.Model, r.Attempts, r.Cost, truncate(summary(r), 60))
	}
	fmt.Fprintf(w, "\t\t\t\tTOTAL\t$%.6f\n", batch.TotalCost)
	fmt.Fprintf(w, "batch %s: %d requests, %d failed\n", batch.ID, len(batch.Results), batch.Failed())
	return w.Flush()
}

func summary(r models.Result) string {
	if r.Status == models.StatusFailed {
		return "error: " + r.Err.Error()
	}
	switch r.Output.Kind {
	case models.OutputText:
		return r.Output.Text
	case models.OutputStructured:
		data, _ := json.Marshal(r.Output.Value)
		return string(data)
	case models.OutputToolCall:
		var names []string
		for _, tc := range r.Output.Choice.Message.ToolCalls {
			names = append(names, tc.Function.Name)
		}
		return "tool calls: " + strings.Join(names, ", ")
	}
	return ""
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

type resultJSON struct {
	Index    int           `json:"index"`
	Status   models.Status `json:"status"`
	Kind     string        `json:"kind,omitempty"`
	Output   any           `json:"output,omitempty"`
	Model    string        `json:"model,omitempty"`
	Usage    models.Usage  `json:"usage"`
	Cost     float64       `json:"cost"`
	Attempts int           `json:"attempts"`
	Repaired bool          `json:"repaired,omitempty"`
	Cached   bool          `json:"cached,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type batchJSON struct {
	ID        string       `json:"id"`
	Caller    string       `json:"caller"`
	TotalCost float64      `json:"total_cost"`
	Results   []resultJSON `json:"results"`
}

func writeResults(path string, batch *models.BatchResult) error {
	out := batchJSON{ID: batch.ID, Caller: batch.Caller, TotalCost: batch.TotalCost}
	outputs := batch.Outputs()
	for i, r := range batch.Results {
		rj := resultJSON{
			Index:    r.Index,
			Status:   r.Status,
			Output:   outputs[i],
			Model:    r.Model,
			Usage:    r.Usage,
			Cost:     r.Cost,
			Attempts: r.Attempts,
			Repaired: r.Repaired,
			Cached:   r.Cached,
		}
		if r.Status == models.StatusSucceeded {
			rj.Kind = r.Output.Kind.String()
		}
		if r.Err != nil {
			rj.Error = r.Err.Error()
		}
		out.Results = append(out.Results, rj)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
