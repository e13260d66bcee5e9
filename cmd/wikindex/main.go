// Command wikindex stores wiki entry metadata, keeps a full-text index of
// it and answers ranked searches, from the command line or over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/logger"
)

var (
	configPath string
	dataDir    string
	engineName string
	logLevel   string

	cfg *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wikindex",
	Short: "Entry metadata store and full-text search index",
	Long: `wikindex keeps the metadata of wiki entries in an embedded store,
indexes their title, body and tags, and answers BM25-ranked searches.

Every command opens the data directory itself; the index is recovered
from its last checkpoint and brought up to date with the store on start.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dataDir != "" {
			cfg.Storage.DataDir = dataDir
		}
		if engineName != "" {
			cfg.Storage.Engine = engineName
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&engineName, "engine", "", "storage engine: log or sqlite (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withEngine opens the engine for the duration of fn and closes it after,
// reporting the first error.
func withEngine(ctx context.Context, fn func(e *indexer.Engine) error, opts ...indexer.Option) (err error) {
	e, err := indexer.Open(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing engine: %w", cerr)
		}
	}()
	return fn(e)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
