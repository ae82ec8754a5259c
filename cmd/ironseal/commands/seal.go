package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewSealCommand reseals the store, discarding the in-memory master key.
func NewSealCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "seal",
		Short: "Seal the store, discarding the in-memory master key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("seal", err)
			}
			if err := app.Seal.Seal(context.Background()); err != nil {
				return exitErr("seal", err)
			}
			fmt.Println("Sealed.")
			return nil
		},
	}
}

// NewUnsealCommand submits one unseal share. The controller reports
// progress toward the configured threshold; once reached, the master key
// is reconstructed and installed.
func NewUnsealCommand(app *App) *cobra.Command {
	var share string

	cmd := &cobra.Command{
		Use:   "unseal",
		Short: "Submit one unseal share",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("unseal", err)
			}
			state, err := app.Seal.Unseal(context.Background(), share)
			if err != nil {
				return exitErr("unseal", err)
			}
			if state.Sealed {
				fmt.Printf("Sealed: %d/%d shares provided.\n", state.Progress, state.Threshold)
				return nil
			}
			fmt.Println("Unsealed.")
			return nil
		},
	}

	cmd.Flags().StringVar(&share, "share", "", "Base64-encoded unseal share")
	_ = cmd.MarkFlagRequired("share")

	return cmd
}

// NewStatusCommand reports the current seal state.
func NewStatusCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current seal status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("status", err)
			}
			state := app.Seal.Status()
			fmt.Printf("Sealed: %t\n", state.Sealed)
			if state.Sealed {
				fmt.Printf("Unseal progress: %d/%d\n", state.Progress, state.Threshold)
			}
			return nil
		},
	}
}
