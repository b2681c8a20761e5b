package cli

import (
	"fmt"
	"runtime"

	"github.com/centrifugal/evbridge/internal/build"

	"github.com/spf13/cobra"
)

func Version() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "evbridge version information",
		Long:  `Print the version information of evbridge`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
}

func versionString() string {
	return fmt.Sprintf("evbridge v%s (commit: %s, Go version: %s)", build.Version, build.Commit, runtime.Version())
}
