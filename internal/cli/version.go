package cli

import (
	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/emoelevate/notesledger/internal/cli.version=...".
var (
	version   = "dev"
	buildDate = "unknown"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("notesledger version %s (built %s)\n", version, buildDate)
		},
	}
}
