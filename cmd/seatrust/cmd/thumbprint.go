package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var thumbprintAlgorithm string

// thumbprintCmd prints trust-anchor thumbprints without starting the
// server, for out-of-band distribution to relying parties.
var thumbprintCmd = &cobra.Command{
	Use:   "thumbprint [alias]",
	Short: "Print trust anchor thumbprints",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trust, err := loadTrustStore()
		if err != nil {
			return err
		}
		aliases := trust.Aliases()
		if len(args) == 1 {
			aliases = args[:1]
		}
		for _, alias := range aliases {
			thumb, err := trust.Thumbprint(alias, thumbprintAlgorithm)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", alias, thumb)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(thumbprintCmd)
	thumbprintCmd.Flags().StringVar(&trustPath, "trust-store", "", "Trust anchors: PEM bundle or PKCS#12 keystore")
	thumbprintCmd.Flags().StringVar(&trustPassword, "trust-password", "", "PKCS#12 password (or SEATRUST_TRUST_PASSWORD)")
	thumbprintCmd.Flags().StringVar(&thumbprintAlgorithm, "algorithm", "SHA-256", "Thumbprint digest: SHA-1 or SHA-256")
}
