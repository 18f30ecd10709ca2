package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/selfupdate/internal/service/packager"
)

// packageCmd publishes the installation tree as a manifest and archive.
var packageCmd = &cobra.Command{
	Use:   "package [output-folder]",
	Short: "Write the release manifest and archive for distribution",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		options := &packager.Options{
			ConfigPath: configPath,
			OutputDir:  args[0],
		}

		_, err := packager.Run(ctx, options)

		return err
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(packageCmd)
}
