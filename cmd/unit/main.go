// Command unit is the vSphere VM lifecycle control plane: an HTTP
// intake backed by a Postgres document store, a handful of
// claim-and-dispatch worker loops, and the background loops that keep
// deploy capacity and host state current.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "unit",
		Short: "vSphere VM lifecycle control plane",
		Long:  "unit runs the HTTP intake and/or the background worker loops that drive Machines through deploy, power, snapshot, and screenshot operations against a vSphere-like hypervisor adapter.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config layer (optional; flags and UNIT_* env vars still apply over it)")

	rootCmd.AddCommand(
		serveCmd(),
		deployWorkerCmd(),
		opsWorkerCmd(),
		reaperCmd(),
		ticketeerCmd(),
		obtainerCmd(),
		migrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
