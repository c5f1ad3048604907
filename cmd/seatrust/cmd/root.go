package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "seatrust",
	Short: "SeaTrust is a maritime certificate service",
	Long: `A certificate service for the maritime trust fabric: registers
entities with the Maritime Identity Registry, obtains their X.509
certificates through CSR-based issuance, and signs and verifies
payloads with locally held keys.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
