package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer"
)

var (
	queryLimit  int
	queryJSON   bool
	latestSince time.Duration
)

func init() {
	rootCmd.AddCommand(searchCmd, getCmd, latestCmd)

	searchCmd.Flags().IntVar(&queryLimit, "limit", 0, "maximum results (default from config)")
	searchCmd.Flags().BoolVar(&queryJSON, "json", false, "print results as JSON")

	latestCmd.Flags().IntVar(&queryLimit, "limit", 0, "maximum entries (default from config)")
	latestCmd.Flags().DurationVar(&latestSince, "window", 0, "how far back to look, e.g. 720h (default: configured months)")
	latestCmd.Flags().BoolVar(&queryJSON, "json", false, "print entries as JSON")
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index",
	Long: `Search the index and print ranked results.

Words are ORed by default. Join words with AND to require all of them,
prefix a word with - or NOT to exclude it, and quote words to keep
them together.

Examples:
  wikindex search ownership
  wikindex search 'rust AND ownership -unsafe' --limit 5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return withEngine(ctx, func(e *indexer.Engine) error {
			res, err := e.Search(ctx, args[0], queryLimit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if queryJSON {
				return printJSON(out, res)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCORE\tID\tTITLE\tMODIFIED")
			for _, r := range res.Results {
				fmt.Fprintf(tw, "%.2f\t%s\t%s\t%s\n", r.Score, r.ID, r.Title, r.MTime.Format(time.DateTime))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d of %d matching entries\n", len(res.Results), res.TotalHits)
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print the metadata of one entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return withEngine(ctx, func(e *indexer.Engine) error {
			entry, err := e.GetEntry(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entry)
		})
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "List recently modified entries, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return withEngine(ctx, func(e *indexer.Engine) error {
			entries, err := e.GetLatest(ctx, queryLimit, latestSince)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if queryJSON {
				return printJSON(out, entries)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODIFIED\tID\tTITLE\tTAGS")
			for _, en := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", en.MTime.Format(time.DateTime), en.ID, en.Title, en.Tags)
			}
			return tw.Flush()
		})
	},
}
