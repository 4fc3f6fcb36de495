package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jfgonzales/fred/internal/app"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Index documents into the knowledge store",
	Long: `Index one or more documents into the knowledge store. Each file is
chunked, embedded, and stored under its base name as the source. Markdown
files are flattened to plain text first. Re-ingesting a file replaces its
prior chunks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(args)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(paths []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		result, err := a.Indexer.Ingest(ctx, filepath.Base(path), string(content))
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}

		if result.ReplacedPrior > 0 {
			fmt.Printf("%s: indexed %d chunks (replaced %d)\n",
				result.SourceName, result.ChunksIndexed, result.ReplacedPrior)
		} else {
			fmt.Printf("%s: indexed %d chunks\n", result.SourceName, result.ChunksIndexed)
		}

		if stored, err := a.DocStore.CountBySource(ctx, result.SourceName); err == nil &&
			stored != result.ChunksIndexed {
			fmt.Printf("%s: warning: store reports %d chunks\n", result.SourceName, stored)
		}
	}

	return nil
}
