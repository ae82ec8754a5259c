package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironseal/ironseal/pkg/transit"
)

// NewTransitCommand groups the Transit Engine's operator surface.
func NewTransitCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transit",
		Short: "Manage named transit encryption and signing keys",
	}
	cmd.AddCommand(
		newTransitCreateKeyCommand(app),
		newTransitRotateCommand(app),
		newTransitEncryptCommand(app),
		newTransitDecryptCommand(app),
		newTransitRewrapCommand(app),
		newTransitSignCommand(app),
		newTransitVerifyCommand(app),
		newTransitDeletionProtectionCommand(app),
		newTransitAutoRotateCommand(app),
		newTransitSweepAutoRotateCommand(app),
		newTransitDeleteCommand(app),
	)
	return cmd
}

func newTransitCreateKeyCommand(app *App) *cobra.Command {
	var name, keyType string
	var exportable, allowPlaintextBackup, deletionProtection bool

	cmd := &cobra.Command{
		Use:   "create-key",
		Short: "Create a new named transit key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("transit create-key", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "create", "transit/"+name); err != nil {
				return exitErr("transit create-key", err)
			}
			if err := app.Transit.CreateKey(ctx, name, transit.KeyType(keyType), exportable, allowPlaintextBackup, deletionProtection); err != nil {
				return exitErr("transit create-key", err)
			}
			fmt.Printf("Created key %s (%s)\n", name, keyType)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Key name")
	cmd.Flags().StringVar(&keyType, "type", string(transit.KeyTypeAES256GCM), "Key type: aes256-gcm, chacha20-poly1305, rsa-2048/3072/4096, ecdsa-p256/p384, or ed25519")
	cmd.Flags().BoolVar(&exportable, "exportable", false, "Allow raw key material export")
	cmd.Flags().BoolVar(&allowPlaintextBackup, "allow-plaintext-backup", false, "Allow plaintext backup export")
	cmd.Flags().BoolVar(&deletionProtection, "deletion-protection", true, "Guard the key against delete and unforced rotate")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newTransitRotateCommand(app *App) *cobra.Command {
	var name string
	var override bool

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Generate a new key version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("transit rotate", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "rotate", "transit/"+name); err != nil {
				return exitErr("transit rotate", err)
			}
			if err := app.Transit.Rotate(ctx, name, override); err != nil {
				return exitErr("transit rotate", err)
			}
			fmt.Println("Rotated.")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Key name")
	cmd.Flags().BoolVar(&override, "override-deletion-protection", false, "Rotate even if deletion protection is enabled")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newTransitEncryptCommand(app *App) *cobra.Command {
	var name, plaintext, aad string
	var pinVersion int
	var hasPin bool

	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt plaintext under a named key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("transit encrypt", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "encrypt", "transit/"+name); err != nil {
				return exitErr("transit encrypt", err)
			}
			var pin *int
			if hasPin {
				pin = &pinVersion
			}
			ciphertext, err := app.Transit.Encrypt(ctx, name, []byte(plaintext), []byte(aad), pin)
			if err != nil {
				return exitErr("transit encrypt", err)
			}
			fmt.Println(ciphertext)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Key name")
	cmd.Flags().StringVar(&plaintext, "plaintext", "", "Plaintext to encrypt")
	cmd.Flags().StringVar(&aad, "context", "", "Associated data binding the ciphertext to a context")
	cmd.Flags().IntVar(&pinVersion, "key-version", 0, "Pin encryption to a specific key version")
	cmd.Flags().BoolVar(&hasPin, "key-version-set", false, "Use --key-version instead of the current version")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("plaintext")
	return cmd
}

func newTransitDecryptCommand(app *App) *cobra.Command {
	var name, ciphertext, aad string

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt a ciphertext previously produced by encrypt",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("transit decrypt", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "decrypt", "transit/"+name); err != nil {
				return exitErr("transit decrypt", err)
			}
			plaintext, err := app.Transit.Decrypt(ctx, name, ciphertext, []byte(aad))
			if err != nil {
				return exitErr("transit decrypt", err)
			}
			fmt.Println(string(plaintext))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Key name")
	cmd.Flags().StringVar(&ciphertext, "ciphertext", "", "Ciphertext envelope to decrypt")
	cmd.Flags().StringVar(&aad, "context", "", "Associated data used at encryption time")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("ciphertext")
	return cmd
}

func newTransitRewrapCommand(app *App) *cobra.Command {
	var name, ciphertext, aad string

	cmd := &cobra.Command{
		Use:   "rewrap",
		Short: "Re-encrypt a ciphertext under the current key version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("transit rewrap", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "rewrap", "transit/"+name); err != nil {
				return exitErr("transit rewrap", err)
			}
			rewrapped, err := app.Transit.Rewrap(ctx, name, ciphertext, []byte(aad))
			if err != nil {
				return exitErr("transit rewrap", err)
			}
			fmt.Println(rewrapped)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Key name")
	cmd.Flags().StringVar(&ciphertext, "ciphertext", "", "Ciphertext envelope to rewrap")
	cmd.Flags().StringVar(&aad, "context", "", "Associated data used at encryption time")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("ciphertext")
	return cmd
}

func newTransitSignCommand(app *App) *cobra.Command {
	var name, message string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a message under an ECDSA transit key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("transit sign", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "sign", "transit/"+name); err != nil {
				return exitErr("transit sign", err)
			}
			signature, err := app.Transit.Sign(ctx, name, []byte(message))
			if err != nil {
				return exitErr("transit sign", err)
			}
			fmt.Println(signature)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Key name")
	cmd.Flags().StringVar(&message, "message", "", "Message to sign")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newTransitVerifyCommand(app *App) *cobra.Command {
	var name, message, signature string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a signature produced by sign",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("transit verify", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "verify", "transit/"+name); err != nil {
				return exitErr("transit verify", err)
			}
			valid, err := app.Transit.Verify(ctx, name, []byte(message), signature)
			if err != nil {
				return exitErr("transit verify", err)
			}
			if valid {
				fmt.Println("valid")
				return nil
			}
			fmt.Println("invalid")
			return fmt.Errorf("transit verify: signature does not match")
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Key name")
	cmd.Flags().StringVar(&message, "message", "", "Message the signature covers")
	cmd.Flags().StringVar(&signature, "signature", "", "base64-encoded signature from sign")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("message")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}

func newTransitDeletionProtectionCommand(app *App) *cobra.Command {
	var name string
	var protected bool

	cmd := &cobra.Command{
		Use:   "set-deletion-protection",
		Short: "Toggle a key's deletion protection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("transit set-deletion-protection", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "update", "transit/"+name); err != nil {
				return exitErr("transit set-deletion-protection", err)
			}
			if err := app.Transit.SetDeletionProtection(ctx, name, protected); err != nil {
				return exitErr("transit set-deletion-protection", err)
			}
			fmt.Println("Updated.")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Key name")
	cmd.Flags().BoolVar(&protected, "protected", true, "Whether the key is guarded against delete and unforced rotate")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newTransitAutoRotateCommand(app *App) *cobra.Command {
	var name string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "set-auto-rotate",
		Short: "Set (or with 0 disable) a key's auto-rotate interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("transit set-auto-rotate", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "rotate", "transit/"+name); err != nil {
				return exitErr("transit set-auto-rotate", err)
			}
			if err := app.Transit.SetAutoRotate(ctx, name, interval); err != nil {
				return exitErr("transit set-auto-rotate", err)
			}
			fmt.Println("Updated.")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Key name")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Rotate automatically once the newest version is this old (0 disables)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newTransitSweepAutoRotateCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep-auto-rotate",
		Short: "Rotate every key whose auto-rotate interval has elapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("transit sweep-auto-rotate", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "rotate", "transit"); err != nil {
				return exitErr("transit sweep-auto-rotate", err)
			}
			rotated, err := app.Transit.SweepAutoRotate(ctx)
			if err != nil {
				return exitErr("transit sweep-auto-rotate", err)
			}
			if len(rotated) == 0 {
				fmt.Println("No keys due for rotation.")
				return nil
			}
			for _, name := range rotated {
				fmt.Printf("Rotated %s\n", name)
			}
			return nil
		},
	}
	return cmd
}

func newTransitDeleteCommand(app *App) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a transit key (requires it not be deletion-protected)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("transit delete", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "delete", "transit/"+name); err != nil {
				return exitErr("transit delete", err)
			}
			if err := app.Transit.Delete(ctx, name); err != nil {
				return exitErr("transit delete", err)
			}
			fmt.Println("Deleted.")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Key name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
