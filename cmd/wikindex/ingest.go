package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/importer"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/watcher"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/postgres"
)

var (
	importAfter string
	importSince string
	importBatch int
	importTable string

	watchRoot   string
	watchPrefix string
	watchOnce   bool
)

func init() {
	rootCmd.AddCommand(importCmd, watchCmd)

	importCmd.Flags().StringVar(&importAfter, "after", "", "resume after this document id")
	importCmd.Flags().StringVar(&importSince, "since", "", "only import rows modified at or after this RFC 3339 time")
	importCmd.Flags().IntVar(&importBatch, "batch-size", 0, "rows per batch (default from config)")
	importCmd.Flags().StringVar(&importTable, "table", "", "source table (default from config)")

	watchCmd.Flags().StringVar(&watchRoot, "root", "", "wiki directory to index (default from config)")
	watchCmd.Flags().StringVar(&watchPrefix, "prefix", "", "prefix for page entry IDs (default from config)")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "sync the directory and exit instead of watching")
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk import documents from PostgreSQL",
	Long: `Copy documents from a PostgreSQL table into the index.

The table needs an id column and may have title, body, tags, hash and
mtime columns. Rows are read in id order from one consistent snapshot.
A failed run prints the last imported id; pass it to --after to resume.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if importSince != "" {
			var err error
			since, err = time.Parse(time.RFC3339, importSince)
			if err != nil {
				return fmt.Errorf("parsing --since: %w", err)
			}
		}
		table := cfg.Postgres.Table
		if importTable != "" {
			table = importTable
		}
		batch := cfg.Postgres.BatchSize
		if importBatch > 0 {
			batch = importBatch
		}

		ctx, stop := signalContext()
		defer stop()

		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()

		return withEngine(ctx, func(e *indexer.Engine) error {
			var stats importer.Stats
			err := db.ReadSnapshot(ctx, func(tx *sql.Tx) error {
				src := importer.NewPostgresSource(tx, table, since)
				var err error
				stats, err = importer.New(src, e, batch).Run(ctx, importAfter)
				return err
			})
			if perr := printJSON(cmd.OutOrStdout(), stats); perr != nil {
				return perr
			}
			return err
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep a directory of wiki pages indexed",
	Long: `Index every page file under a directory and follow changes to it.

Each file becomes the entry named by its path relative to the root,
without extension. Leading "Title:" and "Tags:" header lines, ended by
a blank line, fill the entry's title and tags; the rest is the body.
Pages whose content hash matches the stored entry are skipped. Entries
under --prefix whose page no longer exists are deleted, so give the
watcher a prefix when the store also holds entries from other sources.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchRoot != "" {
			cfg.Watcher.Root = watchRoot
		}
		if cmd.Flags().Changed("prefix") {
			cfg.Watcher.Prefix = watchPrefix
		}
		ctx, stop := signalContext()
		defer stop()

		return withEngine(ctx, func(e *indexer.Engine) error {
			w := watcher.New(cfg.Watcher, e)
			if watchOnce {
				stats, err := w.Sync(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			}
			e.StartCheckpointLoop(ctx)
			return w.Run(ctx)
		})
	},
}

