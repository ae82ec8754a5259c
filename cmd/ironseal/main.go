package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ironseal/ironseal/cmd/ironseal/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	app := commands.NewApp()

	rootCmd := &cobra.Command{
		Use:   "ironseal",
		Short: "Seal, unseal, and operate a secrets-management core",
		Long: `ironseal guards a master encryption key behind Shamir-split shares and
exposes versioned secrets, transit cryptography, and dynamic database
credentials once unsealed.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.PersistentFlags().StringVar(&app.ConfigPath, "config", "ironseal.yaml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&app.DataDir, "data-dir", ".", "Directory for local state (incident reports)")
	rootCmd.PersistentFlags().BoolVar(&app.Debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&app.Subject, "as", "", "Subject identity to authorize operations as")

	rootCmd.AddCommand(
		commands.NewInitCommand(app),
		commands.NewSealCommand(app),
		commands.NewUnsealCommand(app),
		commands.NewStatusCommand(app),
		commands.NewKVCommand(app),
		commands.NewTransitCommand(app),
		commands.NewDBCredsCommand(app),
		commands.NewAuditCommand(app),
		commands.NewDoctorCommand(app),
	)

	return rootCmd.Execute()
}
