package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/selfupdate/internal/config"
	"github.com/oshokin/selfupdate/internal/logger"
	"github.com/oshokin/selfupdate/internal/service/updater"
	"github.com/oshokin/selfupdate/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// logLevel is the minimum level of printed status lines.
	logLevel string

	// update triggers the check-and-apply flow before the application runs.
	update bool

	// Application runs after the optional update check. Programs embedding
	// the updater replace it with their own entry point.
	//nolint:gochecknoglobals // Hook for the embedding program.
	Application = func(ctx context.Context) error {
		logger.Info(ctx, "Application is running")
		return nil
	}

	// rootCmd runs the application, checking for updates first when asked to.
	rootCmd = &cobra.Command{
		Use:           "selfupdate",
		Short:         "Run the application, optionally updating it in place first",
		Long:          "Run the application. With --update the locally installed version is compared with the remote manifest and, when they differ, the release archive is downloaded, extracted and synchronized into the installation directory.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}

			logger.SetLevel(level)

			return nil
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			logBanner(ctx)

			if update {
				result, err := updater.Run(ctx, &updater.Options{ConfigPath: configPath})
				if err != nil {
					return err
				}

				if result.State == updater.StateDone {
					// The files this process was started from have been replaced.
					logger.Info(ctx, "Update installed, exiting. Start the application again to use the new version")
					return nil
				}
			}

			return Application(ctx)
		},
	}
)

// Execute runs the CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd, metadataPath)

	if err := rootCmd.Execute(); err != nil {
		logger.ErrorKV(context.Background(), "Fatal error", "error", err)
		os.Exit(1)
	}
}

// metadataPath resolves the local metadata file from settings, falling back
// to the default name when no settings are available.
func metadataPath() string {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.DefaultMetadataFilename
	}

	return cfg.MetadataPath()
}

// logBanner prints the application name and version when they can be read.
func logBanner(ctx context.Context) {
	meta, err := version.LoadMetadata(metadataPath())
	if err != nil {
		logger.DebugKV(ctx, "Local metadata unavailable", "error", err)
		return
	}

	logger.InfoKV(ctx, "Starting", "name", meta.Name, "version", meta.Version)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.Flags().BoolVar(&update, "update", false, "check for a newer version and apply it before running")
}
