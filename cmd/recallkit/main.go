package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/recallkit/internal/config"
	"github.com/dshills/recallkit/internal/indexer"
	"github.com/dshills/recallkit/internal/logging"
	"github.com/dshills/recallkit/internal/mcp"
	"github.com/dshills/recallkit/internal/storage"
	"github.com/dshills/recallkit/pkg/engine"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "recallkit",
		Short:         "Local hybrid retrieval over conversational records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (YAML)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), configPath, func(ctx context.Context, eng *engine.Engine, logger *logging.Logger) error {
				logger.InfoContext(ctx, "MCP server ready, listening on stdio", "version", version)
				err := mcp.NewServer(eng, logger).Serve(ctx)
				if ctx.Err() != nil {
					logger.InfoContext(ctx, "shutting down")
					return nil
				}
				return err
			})
		},
	}

	var (
		mode      string
		batchSize int
	)
	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Generate vectors for records that lack them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), configPath, func(ctx context.Context, eng *engine.Engine, logger *logging.Logger) error {
				summary, err := eng.BackfillEmbeddings(ctx, mode, batchSize, func(p indexer.Progress) {
					logger.DebugContext(ctx, "backfill progress", "processed", p.Processed, "total", p.Total, "record_id", p.CurrentID)
				})
				if err != nil {
					return err
				}
				return printJSON(summary)
			})
		},
	}
	backfillCmd.Flags().StringVar(&mode, "mode", "missing", "Backfill mode: missing, all or replace")
	backfillCmd.Flags().IntVar(&batchSize, "batch-size", storage.DefaultPageSize, "Records read per page")

	rebuildCmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Replay stored vectors into fresh indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), configPath, func(ctx context.Context, eng *engine.Engine, _ *logging.Logger) error {
				return eng.RebuildIndex(ctx, nil)
			})
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print record and index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), configPath, func(ctx context.Context, eng *engine.Engine, _ *logging.Logger) error {
				stats, err := eng.GetStats(ctx)
				if err != nil {
					return err
				}
				return printJSON(stats)
			})
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("recallkit\n")
			fmt.Printf("Version: %s\n", version)
			fmt.Printf("Build Time: %s\n", buildTime)
			fmt.Printf("Build Mode: %s\n", storage.BuildMode)
			fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		},
	}

	rootCmd.AddCommand(serveCmd, backfillCmd, rebuildCmd, statsCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// withEngine loads configuration, opens an engine for fn and closes it after.
// Logs go to stderr; stdout is reserved for MCP and command output.
func withEngine(ctx context.Context, configPath string, fn func(context.Context, *engine.Engine, *logging.Logger) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	for _, warning := range cfg.Validate() {
		logger.Warn("config", "warning", warning)
	}

	engCfg, err := cfg.ToEngine(logger)
	if err != nil {
		return err
	}
	eng, err := engine.Open(ctx, engCfg)
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("close engine", "error", err)
		}
	}()

	return fn(ctx, eng, logger)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
