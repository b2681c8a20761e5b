// evbridge – bidirectional event bridge between a server side event bus and
// remote clients over Server-Sent Events.
package main

import (
	"fmt"
	"os"

	"github.com/centrifugal/evbridge/internal/app"
	"github.com/centrifugal/evbridge/internal/cli"
)

func main() {
	rootCmd := app.Evbridge()
	rootCmd.AddCommand(
		cli.Version(),
		cli.CheckConfig(),
		cli.DefaultConfig(),
		cli.Listen(),
		cli.Publish(),
	)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
