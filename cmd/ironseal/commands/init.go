package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewInitCommand initializes the seal: generates the master key, splits it
// into shares, and prints both the shares and the root token exactly once.
// The caller is responsible for distributing shares to separate holders;
// ironseal never retains a plaintext copy of either.
func NewInitCommand(app *App) *cobra.Command {
	var shares, threshold int

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the seal: generate and split the master key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("init", err)
			}

			result, err := app.Seal.Initialize(context.Background(), shares, threshold)
			if err != nil {
				return exitErr("init", err)
			}

			fmt.Println("Seal initialized. Record these values now; they will not be shown again.")
			fmt.Println()
			fmt.Printf("Root token: %s\n", result.RootToken)
			fmt.Println("Unseal shares:")
			for i, share := range result.Shares {
				fmt.Printf("  %d: %s\n", i+1, share)
			}
			fmt.Printf("\n%d of %d shares are required to unseal.\n", threshold, shares)
			return nil
		},
	}

	cmd.Flags().IntVar(&shares, "shares", 5, "Total number of unseal shares to generate")
	cmd.Flags().IntVar(&threshold, "threshold", 3, "Number of shares required to unseal")

	return cmd
}
