package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"bucketzip/internal/app"
	"bucketzip/internal/checkpoint"
	"bucketzip/internal/config"
	"bucketzip/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "bucketzip [source-bucket] [destination-bucket]",
	Short: "Pack a bucket's objects into size-bounded zip chunks in another bucket",
	Long: `Lists the source bucket page by page, fetches objects concurrently and packs them
into zip chunks no larger than --max-chunk-size-mb under <label>/ in the destination
bucket. A manifest lets an interrupted run resume where it stopped; chunks that
already exist are never uploaded twice.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runArchive,
}

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List source objects that could not be fetched, from the run journal",
	Args:  cobra.NoArgs,
	RunE:  listFailures,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML)")
	config.RegisterFlags(rootCmd.Flags())

	failuresCmd.Flags().String("journal", "", "SQLite run journal file (required)")
	failuresCmd.Flags().String("label", "", "Label the failures were recorded under (required)")
	_ = failuresCmd.MarkFlagRequired("journal")
	_ = failuresCmd.MarkFlagRequired("label")
	rootCmd.AddCommand(failuresCmd)
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags(), args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	archiver, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create archiver: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Info("Received shutdown signal, gracefully stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()

	err = archiver.Run(ctx)

	if closeErr := archiver.Close(); closeErr != nil {
		log.Error("Error closing archiver", zap.Error(closeErr))
	}

	return err
}

func listFailures(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("journal")
	label, _ := cmd.Flags().GetString("label")

	store, err := checkpoint.NewSQLiteStore(path)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer store.Close()

	failures, err := store.ListFailures(cmd.Context(), label)
	if err != nil {
		return fmt.Errorf("failed to list failures: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PAGE\tKEY\tATTEMPTS\tLAST ERROR\tUPDATED")
	for _, f := range failures {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", f.Page, f.Key, f.Attempts, f.LastError, f.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
