package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	cachepkg "github.com/coastalcabana/gptbatch/pkg/cache/sqlite"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := cachepkg.New(cfg.DBPath, cfg.Cache.TTL)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Entries: %d\nExpired: %d\nBytes:   %d\n", stats.Entries, stats.Expired, stats.Bytes)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := cachepkg.New(cfg.DBPath, cfg.Cache.TTL)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			n, err := c.Clear(context.Background(), expiredOnly)
			if err != nil {
				return err
			}
			if expiredOnly {
				fmt.Printf("%d expired cache entries cleared.\n", n)
			} else {
				fmt.Printf("%d cache entries cleared.\n", n)
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
