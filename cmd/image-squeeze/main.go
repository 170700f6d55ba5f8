package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"image-squeeze-go/internal/backend"
	"image-squeeze-go/internal/bridge"
	"image-squeeze-go/internal/config"
	"image-squeeze-go/internal/imagestore"
	"image-squeeze-go/internal/logger"
	"image-squeeze-go/internal/orchestrator"
	"image-squeeze-go/internal/progress"
	"image-squeeze-go/internal/settings"
	"image-squeeze-go/internal/telemetry"
	"image-squeeze-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	outputDir    string
	outputFormat string
	level        string
	verbose      bool
	quiet        bool
	version      string
	buildTime    string
	port         int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "image-squeeze [files...]",
	Short: "Batch-compress images with live progress feedback",
	Long: `ImageSqueeze drives a batch of image files through a compression
backend one at a time, with smooth progress feedback and telemetry-based
size estimation.

Features:
- JPEG, PNG, WebP and HEIC input
- Keep the source format or convert to WebP/JPEG/PNG
- Light, balanced and aggressive presets
- EXIF preservation for JPEG re-encodes
- Compression telemetry and size estimation
- Web interface with live progress`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(args)
	},
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web interface server",
	Long: `Starts a web server with a graphical interface for ImageSqueeze.
The web interface allows you to:
- Add and remove images
- Configure compression settings
- Monitor compression progress in real-time
- View telemetry and size estimations

Access the interface at http://localhost:<port> (default: 8080)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// estimateCmd predicts the size reduction for a file without compressing it.
var estimateCmd = &cobra.Command{
	Use:   "estimate <file>",
	Short: "Estimate the size reduction for a file",
	Long: `Estimates how much a file would shrink under the current settings,
using recorded compression telemetry where available and a static
heuristic otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEstimate(args[0])
	},
}

// statsCmd shows telemetry statistics.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show compression telemetry statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats()
	},
}

// statsResetCmd clears all recorded telemetry.
var statsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all recorded compression telemetry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatsReset()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().StringVar(&outputDir, "output", "", "output directory for compressed files (default: next to sources)")
	rootCmd.Flags().StringVar(&outputFormat, "format", "", "output format: keep, webp, jpeg, png")
	rootCmd.Flags().StringVar(&level, "level", "", "compression level: light, balanced, aggressive")

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")

	statsCmd.AddCommand(statsResetCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(statsCmd)
}

// initConfig loads configuration file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.image-squeeze")
		viper.AddConfigPath("/etc/image-squeeze")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// runCompress executes a one-shot batch compression over the given paths.
func runCompress(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no input files given")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	paths, err := expandPaths(args, cfg)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no supported image files found")
	}

	log := setupLogger(cfg)
	emitter := backend.NewEmitter()
	compressor := backend.NewImagingCompressor(emitter, log)
	images := imagestore.NewStore(log)
	settingsStore := settings.NewStore(settings.Settings{
		Quality:      cfg.Compression.Quality,
		OutputFormat: settings.OutputFormat(cfg.Compression.OutputFormat),
		Level:        settings.Level(cfg.Compression.Level),
	})
	estimator := progress.NewEstimator(time.Duration(cfg.Progress.TickIntervalMs)*time.Millisecond, log)
	defer estimator.Stop()

	var recorder telemetry.Recorder
	if cfg.Telemetry.Enabled {
		stats, err := telemetry.Open(cfg.Telemetry.DatabasePath)
		if err != nil {
			log.Warnf("Telemetry store unavailable, recording disabled: %v", err)
		} else {
			defer stats.Close()
			defer func() {
				if _, err := stats.Cleanup(context.Background(), cfg.Telemetry.MaxRecords); err != nil {
					log.Warnf("Telemetry cleanup failed: %v", err)
				}
			}()
			recorder = stats
		}
	}

	eventBridge := bridge.New(images, emitter, log, nil)
	eventBridge.Subscribe()
	defer eventBridge.Close()

	orch := orchestrator.New(
		images, settingsStore, compressor, estimator, recorder, log,
		orchestrator.WithOutputDir(outputDir),
		orchestrator.WithToolVersion(toolVersion()),
		orchestrator.WithNotifyHook(func(l, message string) {
			fmt.Fprintln(os.Stderr, message)
		}),
	)

	images.Add(paths)
	orch.Run(context.Background())

	if !quiet {
		printResults(images)
	}

	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}

	log := setupLogger(cfg)
	emitter := backend.NewEmitter()
	compressor := backend.NewImagingCompressor(emitter, log)

	var stats *telemetry.Store
	if cfg.Telemetry.Enabled {
		stats, err = telemetry.Open(cfg.Telemetry.DatabasePath)
		if err != nil {
			log.Warnf("Telemetry store unavailable, recording disabled: %v", err)
			stats = nil
		} else {
			defer stats.Close()
		}
	}

	server := web.NewServer(cfg, log, compressor, emitter, stats, toolVersion())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("ImageSqueeze web interface started on http://localhost:%d\n", port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// runEstimate prints the predicted size reduction for one file.
func runEstimate(path string) error {
	if !fileExists(path) {
		return fmt.Errorf("file does not exist: %s", path)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	source := imagestore.DetectFormat(path)
	params := settings.Resolve(
		settings.OutputFormat(cfg.Compression.OutputFormat),
		settings.Level(cfg.Compression.Level),
		source,
	)

	outFormat := string(params.Format)
	if params.Format == backend.WireAuto {
		outFormat = source.String()
	}

	query := telemetry.EstimationQuery{
		InputFormat:  source.String(),
		OutputFormat: outFormat,
		OriginalSize: size,
		Quality:      params.Quality,
		Lossy:        params.Lossy,
	}

	var est telemetry.Estimation
	if cfg.Telemetry.Enabled {
		stats, err := telemetry.Open(cfg.Telemetry.DatabasePath)
		if err == nil {
			defer stats.Close()
			est, err = stats.Estimate(context.Background(), query)
			if err != nil {
				return fmt.Errorf("estimation failed: %w", err)
			}
		} else {
			est = telemetry.HeuristicEstimate(query)
		}
	} else {
		est = telemetry.HeuristicEstimate(query)
	}

	fmt.Printf("Estimation for %s (%s -> %s, quality %d):\n",
		filepath.Base(path), query.InputFormat, query.OutputFormat, query.Quality)
	fmt.Printf("  Expected reduction: %.1f%%\n", est.Percent)
	fmt.Printf("  Confidence: %.0f%% (%d samples)\n", est.Confidence*100, est.SampleCount)
	return nil
}

// runStats prints telemetry statistics.
func runStats() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	stats, err := telemetry.Open(cfg.Telemetry.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open telemetry store: %w", err)
	}
	defer stats.Close()

	count, err := stats.Count(context.Background())
	if err != nil {
		return fmt.Errorf("failed to count records: %w", err)
	}

	fmt.Printf("Recorded compressions: %d\n", count)
	return nil
}

// runStatsReset clears all telemetry records.
func runStatsReset() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	stats, err := telemetry.Open(cfg.Telemetry.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open telemetry store: %w", err)
	}
	defer stats.Close()

	if err := stats.Clear(context.Background()); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}

	fmt.Println("Compression telemetry cleared")
	return nil
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig("")
	if err != nil {
		return nil, err
	}

	if outputDir != "" {
		cfg.OutputDirectory = outputDir
	}
	if outputFormat != "" {
		cfg.Compression.OutputFormat = outputFormat
	}
	if level != "" {
		cfg.Compression.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// expandPaths resolves the CLI arguments to supported image files,
// walking directories one level deep.
func expandPaths(args []string, cfg *config.Config) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			if cfg.IsSupportedExtension(strings.ToLower(filepath.Ext(arg))) {
				paths = append(paths, arg)
			}
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read directory %s: %w", arg, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if cfg.IsSupportedExtension(strings.ToLower(filepath.Ext(entry.Name()))) {
				paths = append(paths, filepath.Join(arg, entry.Name()))
			}
		}
	}
	return paths, nil
}

// printResults prints a per-image outcome table and an aggregate summary.
func printResults(images *imagestore.Store) {
	fmt.Println()
	for _, img := range images.List() {
		switch img.Status {
		case imagestore.StatusCompleted:
			fmt.Printf("  %-40s %8s -> %8s  (%.1f%% saved)\n",
				img.Name, formatBytes(img.OriginalSize), formatBytes(img.CompressedSize),
				img.Savings()*100)
		case imagestore.StatusError:
			fmt.Printf("  %-40s FAILED\n", img.Name)
		default:
			fmt.Printf("  %-40s %s\n", img.Name, img.Status)
		}
	}

	sum := images.Summarize()
	fmt.Printf("\n%d compressed, %d failed", sum.Completed, sum.Errored)
	if sum.OriginalBytes > 0 {
		fmt.Printf(", %s -> %s (%.1f%% saved)",
			formatBytes(sum.OriginalBytes), formatBytes(sum.CompressedBytes), sum.Savings*100)
	}
	fmt.Println()
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// toolVersion returns the version string recorded with telemetry.
func toolVersion() string {
	if version != "" {
		return version
	}
	return "dev"
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
