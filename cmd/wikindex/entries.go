package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer"
)

var (
	addTitle    string
	addTags     string
	addBody     string
	addBodyFile string
	addMTime    string
)

func init() {
	rootCmd.AddCommand(addCmd, deleteCmd)

	addCmd.Flags().StringVar(&addTitle, "title", "", "entry title")
	addCmd.Flags().StringVar(&addTags, "tags", "", "space separated tags")
	addCmd.Flags().StringVar(&addBody, "body", "", "entry body text")
	addCmd.Flags().StringVar(&addBodyFile, "body-file", "", "read the body from a file, - for stdin")
	addCmd.Flags().StringVar(&addMTime, "mtime", "", "modification time, RFC3339 (default: now)")
	addCmd.MarkFlagsMutuallyExclusive("body", "body-file")
}

var addCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Insert or replace one entry",
	Long: `Insert an entry, or replace every field of the entry with the same id,
and index its title, body and tags.

Examples:
  wikindex add rust/ownership --title Ownership --tags "rust memory" --body-file ownership.md
  cat page.txt | wikindex add notes/today --body-file -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := addBody
		if addBodyFile != "" {
			b, err := readBody(cmd.InOrStdin(), addBodyFile)
			if err != nil {
				return err
			}
			body = b
		}
		doc := indexer.Document{ID: args[0], Title: addTitle, Tags: addTags, Body: body}
		if addMTime != "" {
			t, err := time.Parse(time.RFC3339, addMTime)
			if err != nil {
				return fmt.Errorf("parsing --mtime: %w", err)
			}
			doc.ModifiedAt = t
		}

		ctx, stop := signalContext()
		defer stop()
		return withEngine(ctx, func(e *indexer.Engine) error {
			if err := e.AddEntry(ctx, doc); err != nil {
				return err
			}
			entry, err := e.GetEntry(ctx, doc.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entry)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove one entry and its postings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return withEngine(ctx, func(e *indexer.Engine) error {
			return e.DeleteEntry(ctx, args[0])
		})
	},
}

func readBody(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading body from stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading body file: %w", err)
	}
	return string(b), nil
}
