package app

import (
	"github.com/centrifugal/evbridge/internal/config"

	"github.com/spf13/cobra"
)

func Evbridge() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "",
		Short: "evbridge",
		Long:  "evbridge – bidirectional event bridge between server and clients over Server-Sent Events",
		Run: func(cmd *cobra.Command, args []string) {
			Run(cmd, configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "config.json", "path to config file")
	config.DefineFlags(cmd)
	return cmd
}
