package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bartoncreek/pdf2dataset/internal/config"
	"github.com/bartoncreek/pdf2dataset/internal/ingest"
	"github.com/bartoncreek/pdf2dataset/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		verbose     bool
		envFile     string
		downloadDir string
		tikaURL     string
	)

	cmd := &cobra.Command{
		Use:   "ingest <url> <dataset-dir>",
		Short: "Append the text of a PDF to an on-disk dataset",
		Long: `Downloads the document at <url> (unless a file with the same name is already
cached), extracts its text and metadata, normalizes the text and appends it as
one row to the dataset stored in <dataset-dir>. The directory must exist.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var paths []string
			if envFile != "" {
				paths = append(paths, envFile)
			}
			if err := config.LoadDotEnv(paths...); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}

			cfg, err := config.LoadIngest()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("download-dir") {
				cfg.DownloadDir = downloadDir
			}
			if cmd.Flags().Changed("tika-url") {
				cfg.TikaURL = tikaURL
			}

			level := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
			if verbose {
				level = slog.LevelDebug
			}
			log := logger.NewWithLevel("ingest", level)

			pipeline, err := ingest.Build(&cfg.Pipeline, log, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer pipeline.Close()

			_, err = pipeline.Process(cmd.Context(), args[0], args[1])
			return err
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load variables from this .env file")
	cmd.Flags().StringVar(&downloadDir, "download-dir", "", "Directory for cached downloads (overrides DOWNLOAD_DIR)")
	cmd.Flags().StringVar(&tikaURL, "tika-url", "", "Apache Tika server URL (overrides TIKA_URL)")
	return cmd
}
