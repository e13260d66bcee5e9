package main

import (
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer"
)

var rebuildIndex bool

func init() {
	rootCmd.AddCommand(compactCmd, checkpointCmd, statsCmd)
	checkpointCmd.Flags().BoolVar(&rebuildIndex, "rebuild", false,
		"discard the index and reindex every stored entry first (needed after changing tokenizer settings)")
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Reclaim store space held by replaced and deleted entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return withEngine(ctx, func(e *indexer.Engine) error {
			if err := e.Compact(ctx); err != nil {
				return err
			}
			stats, err := e.Stats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Write the index checkpoint, optionally rebuilding the index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return withEngine(ctx, func(e *indexer.Engine) error {
			if rebuildIndex {
				stats, err := e.Rebuild(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			}
			return e.Checkpoint(ctx)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print entry and index counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return withEngine(ctx, func(e *indexer.Engine) error {
			stats, err := e.Stats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}
