// Package main provides the entry point for the terrapatch harvester.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jobrunner/terrapatch/internal/app"
	"github.com/jobrunner/terrapatch/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "terrapatch",
	Short: "Terrapatch - satellite imagery patch harvester",
	Long: `Terrapatch harvests fixed-size multispectral image patches from a
remote imagery catalog for machine learning datasets.

It samples candidate locations (uniformly, clustered around populated
places, or inside a boundary polygon), rejects overlapping draws,
resolves the best low-cloud scene per seasonal date window, and writes
per-band GeoTIFF patches with a resumable checkpoint ledger.

Features:
  - Uniform, population-weighted Gaussian and boundary-bounded sampling
  - Minimum-separation overlap rejection (grid or R-tree index)
  - Seasonal date windows with a prior-year fallback
  - Match mode reproducing an existing coordinate table
  - Multiple storage backends (local, AWS S3, Azure)
  - Optional SQLite patch manifest and Prometheus metrics`,
	RunE: runHarvest,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("Terrapatch %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the default settings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")

	// Harvest flags
	rootCmd.Flags().String("save-path", "./data", "output directory (or store prefix)")
	rootCmd.Flags().StringSlice("dates", nil, "reference dates (YYYY-MM-DD)")
	rootCmd.Flags().Int("window-days", 60, "width of each date window in days")
	rootCmd.Flags().StringSlice("bands", nil, "bands to download")
	rootCmd.Flags().IntSlice("crops", nil, "per-band crop sizes in pixels (0 keeps native)")
	rootCmd.Flags().String("dtype", "uint16", "output sample type (uint8, uint16, float32)")
	rootCmd.Flags().Int("workers", 8, "concurrent download workers (0 runs inline)")
	rootCmd.Flags().Int("log-freq", 100, "progress log frequency in downloads")
	rootCmd.Flags().Int("start-index", 0, "first index to process (inclusive)")
	rootCmd.Flags().Int("end-index", 250000, "end of the index range (exclusive)")
	rootCmd.Flags().String("resume", "", "checkpoint CSV to continue from")
	rootCmd.Flags().String("match-file", "", "coordinate table to reproduce instead of sampling")
	rootCmd.Flags().Bool("follow", false, "keep tailing the match file for appended rows")
	rootCmd.Flags().Int("max-retries", 0, "resample attempts per index (0 retries forever)")
	rootCmd.Flags().Bool("debug", false, "log every failed attempt")

	// Sampling flags
	rootCmd.Flags().String("sampling-mode", "gaussian", "sampling mode (uniform, gaussian, bounded)")
	rootCmd.Flags().Int64("seed", 42, "sampler random seed")
	rootCmd.Flags().Int("num-cities", 10000, "number of city anchors for gaussian sampling")
	rootCmd.Flags().Float64("std", 50, "gaussian std around city anchors in km")
	rootCmd.Flags().Float64("radius", 1320, "patch half-size in meters")
	rootCmd.Flags().String("overlap-index", "grid", "overlap index variant (grid, rtree)")
	rootCmd.Flags().String("anchor-file", "", "GeoJSON points replacing the city anchors")
	rootCmd.Flags().String("boundary-file", "", "GeoJSON polygon to sample within")

	// Catalog flags
	rootCmd.Flags().String("catalog-url", "", "imagery catalog base URL")
	rootCmd.Flags().String("api-key", "", "imagery catalog API key")
	rootCmd.Flags().String("collection", "COPERNICUS/S2", "imagery collection")
	rootCmd.Flags().String("cloud-field", "CLOUDY_PIXEL_PERCENTAGE", "scene metadata field with cloud cover")
	rootCmd.Flags().Float64("cloud-pct", 20, "maximum scene cloud percentage")
	rootCmd.Flags().Bool("mask-clouds", false, "zero cloudy pixels using the QA band")

	// Storage flags
	rootCmd.Flags().String("storage-type", "local", "storage type (local, s3, azure)")

	// Side-service flags
	rootCmd.Flags().Bool("metrics", false, "serve Prometheus metrics and progress")
	rootCmd.Flags().Int("metrics-port", 9090, "metrics server port")
	rootCmd.Flags().Bool("manifest", false, "record saved patches in a SQLite manifest")
	rootCmd.Flags().String("manifest-path", "./manifest.db", "manifest database path")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("harvest.save_path", rootCmd.Flags().Lookup("save-path"))
	_ = viper.BindPFlag("harvest.dates", rootCmd.Flags().Lookup("dates"))
	_ = viper.BindPFlag("harvest.window_days", rootCmd.Flags().Lookup("window-days"))
	_ = viper.BindPFlag("harvest.bands", rootCmd.Flags().Lookup("bands"))
	_ = viper.BindPFlag("harvest.crops", rootCmd.Flags().Lookup("crops"))
	_ = viper.BindPFlag("harvest.dtype", rootCmd.Flags().Lookup("dtype"))
	_ = viper.BindPFlag("harvest.workers", rootCmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("harvest.log_freq", rootCmd.Flags().Lookup("log-freq"))
	_ = viper.BindPFlag("harvest.start_index", rootCmd.Flags().Lookup("start-index"))
	_ = viper.BindPFlag("harvest.end_index", rootCmd.Flags().Lookup("end-index"))
	_ = viper.BindPFlag("harvest.resume", rootCmd.Flags().Lookup("resume"))
	_ = viper.BindPFlag("harvest.match_file", rootCmd.Flags().Lookup("match-file"))
	_ = viper.BindPFlag("harvest.follow", rootCmd.Flags().Lookup("follow"))
	_ = viper.BindPFlag("harvest.max_retries", rootCmd.Flags().Lookup("max-retries"))
	_ = viper.BindPFlag("harvest.debug", rootCmd.Flags().Lookup("debug"))
	_ = viper.BindPFlag("sampling.mode", rootCmd.Flags().Lookup("sampling-mode"))
	_ = viper.BindPFlag("sampling.seed", rootCmd.Flags().Lookup("seed"))
	_ = viper.BindPFlag("sampling.num_cities", rootCmd.Flags().Lookup("num-cities"))
	_ = viper.BindPFlag("sampling.std_km", rootCmd.Flags().Lookup("std"))
	_ = viper.BindPFlag("sampling.radius_meters", rootCmd.Flags().Lookup("radius"))
	_ = viper.BindPFlag("sampling.overlap_index", rootCmd.Flags().Lookup("overlap-index"))
	_ = viper.BindPFlag("sampling.anchor_file", rootCmd.Flags().Lookup("anchor-file"))
	_ = viper.BindPFlag("sampling.boundary_file", rootCmd.Flags().Lookup("boundary-file"))
	_ = viper.BindPFlag("catalog.base_url", rootCmd.Flags().Lookup("catalog-url"))
	_ = viper.BindPFlag("catalog.api_key", rootCmd.Flags().Lookup("api-key"))
	_ = viper.BindPFlag("catalog.collection", rootCmd.Flags().Lookup("collection"))
	_ = viper.BindPFlag("catalog.cloud_field", rootCmd.Flags().Lookup("cloud-field"))
	_ = viper.BindPFlag("catalog.cloud_pct", rootCmd.Flags().Lookup("cloud-pct"))
	_ = viper.BindPFlag("catalog.mask_clouds", rootCmd.Flags().Lookup("mask-clouds"))
	_ = viper.BindPFlag("storage.type", rootCmd.Flags().Lookup("storage-type"))
	_ = viper.BindPFlag("metrics.enabled", rootCmd.Flags().Lookup("metrics"))
	_ = viper.BindPFlag("metrics.port", rootCmd.Flags().Lookup("metrics-port"))
	_ = viper.BindPFlag("manifest.enabled", rootCmd.Flags().Lookup("manifest"))
	_ = viper.BindPFlag("manifest.path", rootCmd.Flags().Lookup("manifest-path"))

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(versionCmd, configCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runHarvest(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting terrapatch",
		"version", version,
		"collection", cfg.Catalog.Collection,
		"storage_type", cfg.Storage.Type,
		"indices", fmt.Sprintf("[%d,%d)", cfg.Harvest.StartIndex, cfg.Harvest.EndIndex),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize application
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	summary, err := application.Run(ctx)
	logger.Info("harvest summary",
		"run_id", summary.RunID,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"elapsed_seconds", fmt.Sprintf("%.1f", summary.ElapsedSec),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runConfigInit(_ *cobra.Command, args []string) error {
	path := "config.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing %s", path)
	}

	config.Defaults()
	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Printf("wrote default configuration to %s\n", path)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
