package version

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AttachCobraVersionCommand attaches a `version` subcommand to the provided root command.
// metadataPath is resolved when the subcommand runs so flags are already parsed.
func AttachCobraVersionCommand(root *cobra.Command, metadataPath func() string) {
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information.",
		Long:  "Print the installed application version read from the local metadata file, together with the commit hash and build timestamp of this binary.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			meta, err := LoadMetadata(metadataPath())
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), Full(meta))

			return nil
		},
	})
}
