package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coastalcabana/gptbatch/pkg/prompt"
)

func newRenderCmd() *cobra.Command {
	var sets []string

	cmd := &cobra.Command{
		Use:   "render <template>",
		Short: "Render a prompt template from the prompts directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			data := make(map[string]any, len(sets))
			for _, kv := range sets {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid --set %q (use key=value)", kv)
				}
				data[k] = v
			}

			out, err := prompt.NewRenderer(cfg.PromptsDir).Render(args[0], data)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "template value as key=value (repeatable)")
	return cmd
}
