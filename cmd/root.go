package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/andresmejia3/vidproc/internal/config"
	"github.com/andresmejia3/vidproc/internal/logging"
	"github.com/andresmejia3/vidproc/internal/metrics"
	"github.com/andresmejia3/vidproc/internal/sink"
	"github.com/andresmejia3/vidproc/internal/store"
	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/andresmejia3/vidproc/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Options holds shared configuration for the process and play commands
type Options struct {
	InputPath   string
	TargetPath  string
	FramesDir   string
	Segment     bool
	Monochrome  bool
	Segmenter   string
	FrameRate   float64
	Resolution  string
	Codec       string
	Workers     int
	NoProgress  bool
	FFmpegTools utils.Tools
}

// Exit codes returned by Execute.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

var (
	// DB is the run ledger shared by subcommands. It is nil when no database is configured.
	DB *store.Store
	// dbURL is the connection string
	dbURL string

	logLevel    string
	metricsAddr string
	metricsSrv  *http.Server

	// envCfg carries environment defaults. It is loaded before any flag is registered.
	envCfg, envErr = loadEnv()
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "vidproc",
	Short:         "Frame-by-frame video segmentation and monochrome conversion",
	Version:       Version, // This enables the --version flag
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envErr != nil {
			return fmt.Errorf("%w: invalid environment: %v", types.ErrUsage, envErr)
		}
		if err := logging.Setup(logLevel); err != nil {
			return fmt.Errorf("%w: %v", types.ErrUsage, err)
		}

		if metricsAddr != "" {
			metricsSrv = metrics.StartMetricsServer(metricsAddr)
		}

		// If no flag was provided, try to build the connection string from the environment
		if dbURL == "" {
			dbURL = envCfg.Postgres.URL()
		}
		if dbURL == "" {
			logrus.WithField("function", "PersistentPreRunE").Debug("no database configured, run ledger disabled")
			return nil
		}

		var err error
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeResources()
	},
}

func closeResources() {
	if DB != nil {
		// Use Background here because the main context might be cancelled already (due to Ctrl+C)
		// and we still need to send the "Close" command to the DB.
		DB.Close(context.Background())
		DB = nil
	}
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		metricsSrv.Shutdown(ctx)
		metricsSrv = nil
	}
}

func Execute() {
	os.Exit(run())
}

func run() int {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := rootCmd.ExecuteContext(ctx)
	// PersistentPostRun is skipped when RunE fails.
	closeResources()
	if err != nil {
		utils.ShowError(errorTitle(err), err, nil)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, types.ErrUsage):
		return ExitUsage
	default:
		return ExitFailure
	}
}

func errorTitle(err error) string {
	switch {
	case errors.Is(err, types.ErrUsage):
		return "Invalid usage"
	case errors.Is(err, types.ErrNotFound):
		return "Input not found"
	case errors.Is(err, types.ErrUnsupportedFormat):
		return "Unsupported input format"
	case errors.Is(err, types.ErrInvalidFrame):
		return "Invalid frame"
	case errors.Is(err, types.ErrSource):
		return "Failed to read input"
	case errors.Is(err, types.ErrSink):
		return "Failed to write output"
	case errors.Is(err, types.ErrUnsupported):
		return "Not supported by this build"
	case errors.Is(err, context.Canceled):
		return "Interrupted"
	default:
		return "Command failed"
	}
}

func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func loadEnv() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return &config.Config{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			Codec:       sink.DefaultCodec,
			Workers:     1,
			LogLevel:    "info",
		}, err
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the run ledger (default: built from POSTGRES_* or disabled)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envCfg.LogLevel, "Log level: debug, info, warning, error")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", envCfg.MetricsAddr, "Serve Prometheus metrics on this address (e.g. :9100)")

	// --video_file_path and --video-file-path are the same flag.
	rootCmd.SetGlobalNormalizationFunc(normalizeFlagName)
	rootCmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", types.ErrUsage, err)
	})
}
