// Command shmlog drives the simulated kernel: it runs log rounds, the
// shared-buffer round, or serves metrics and health while running rounds on
// an interval.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var cmdLong = `shmlog simulates a small kernel whose processes share physical pages
through map_shared_pages and unmap_shared_pages, and a lock-free log that
several producer processes write into a single shared page.

Settings are read from SHMLOG_* environment variables; flags override them.`

var cmd = &cobra.Command{
	Use:           "shmlog [command]",
	Short:         "Shared page mapping and lock-free log simulator",
	Long:          cmdLong,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	applyGlobalFlags(cmd)
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(newLogCmd())
	cmd.AddCommand(newShareCmd())
	cmd.AddCommand(newServeCmd())
}

func main() {
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrf("Error: %v\n", err)
		os.Exit(1)
	}
}
