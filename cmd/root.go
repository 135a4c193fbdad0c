package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pantry/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "pantry",
	Short: "Pantry - turn shopping receipts into reviewed inventory entries",
	Long: `Pantry reads photographed receipts and PDF or HTML invoices, recognizes
their text with Google Document AI, Cloud Vision or a local Tesseract engine,
identifies the purchased products with a language model, and keeps every
receipt in a review queue until a person confirms the items.

Confirmed items are committed to a Google Sheet holding the household
inventory and the expense ledger.

Typical flow:
  pantry scan receipt.jpg
  pantry review show <receipt-id>
  pantry review validate <receipt-id> --all
  pantry review approve <receipt-id>
  pantry commit <receipt-id>`,
	Version:      version,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.WithComponent("root").Debug().Str("version", version).Msg("No subcommand given")
		return cmd.Help()
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
	rootCmd.SetVersionTemplate("pantry {{.Version}}\n")
}
