// Command poskernel is an operator-facing CLI around the transaction
// kernel: it initializes and recovers terminals, and runs a scripted
// demo transaction end to end, for use in ops tooling and manual
// verification. Embedders drive the kernel directly through pkg/kernel;
// this binary is not the embedding surface itself.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fenilsonani/poskernel/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	yamlConfigPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "poskernel",
		Short:   "Operator CLI for the point-of-sale transaction kernel",
		Long:    `poskernel initializes terminals, drives recovery, and runs demo transactions against the embedded transaction kernel.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.PersistentFlags().StringVar(&yamlConfigPath, "config", "", "path to kernel.yaml (default: ./kernel.yaml if present)")

	rootCmd.AddCommand(
		newInitTerminalCommand(),
		newListActiveTerminalsCommand(),
		newRecoverCommand(),
		newDemoCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(yamlConfigPath)
}
