package main

import (
	"fmt"

	"github.com/spf13/cobra"

	gritsync "github.com/leonletto/grit/internal/sync"
)

func syncCmd() *cobra.Command {
	var pullOnly, pushOnly bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Exchange events with the Git remote",
		RunE: func(_ *cobra.Command, _ []string) error {
			if pullOnly && pushOnly {
				return usagef("--pull and --push are mutually exclusive; omit both for a full sync")
			}
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			var total gritsync.Result
			if !pushOnly {
				pulled, err := c.SyncPull()
				if err != nil {
					return err
				}
				total.EventsPulled = pulled.EventsPulled
				total.ConflictsMerged += pulled.ConflictsMerged
			}
			if !pullOnly {
				pushed, err := c.SyncPush()
				if err != nil {
					return err
				}
				total.EventsPushed = pushed.EventsPushed
				total.ConflictsMerged += pushed.ConflictsMerged
			}

			return emit(total, func() {
				fmt.Printf("pulled %d, pushed %d, merged %d conflict(s)\n",
					total.EventsPulled, total.EventsPushed, total.ConflictsMerged)
			})
		},
	}
	cmd.Flags().BoolVar(&pullOnly, "pull", false, "Pull only")
	cmd.Flags().BoolVar(&pushOnly, "push", false, "Push only")
	return cmd
}

func rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild projections from the event log",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			result, err := c.Rebuild()
			if err != nil {
				return err
			}
			return emit(result, func() {
				from := "full replay"
				if result.FromSnapshot != "" {
					from = "snapshot " + result.FromSnapshot
				}
				fmt.Printf("rebuilt %d event(s) (%s, %d malformed) in %dms\n",
					result.EventCount, from, result.Malformed, result.DurationMS)
			})
		},
	}
}

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect the local store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show local store statistics",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.DbStats()
			if err != nil {
				return err
			}
			return emit(stats, func() {
				fmt.Printf("path     %s\nsize     %d bytes\nevents   %d\nissues   %d\n",
					stats.Path, stats.SizeBytes, stats.EventCount, stats.IssueCount)
				if stats.LastRebuildTS > 0 {
					fmt.Printf("rebuilt  %d\n", stats.LastRebuildTS)
				}
			})
		},
	})
	return cmd
}
