package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// NewKVCommand groups the versioned KV Secrets Engine's operator surface.
func NewKVCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Manage versioned key-value secrets",
	}
	cmd.AddCommand(
		newKVPutCommand(app),
		newKVGetCommand(app),
		newKVListCommand(app),
		newKVDeleteCommand(app),
		newKVUndeleteCommand(app),
		newKVDestroyCommand(app),
		newKVMetadataCommand(app),
		newKVConfigureCommand(app),
		newKVDeleteMetadataCommand(app),
	)
	return cmd
}

func newKVPutCommand(app *App) *cobra.Command {
	var path string
	var data map[string]string
	var casVersion int
	var hasCAS bool

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Write a new version of a secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("kv put", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "write", "secret/"+path); err != nil {
				return exitErr("kv put", err)
			}
			payload := make(map[string]any, len(data))
			for k, v := range data {
				payload[k] = v
			}
			var expected *int
			if hasCAS {
				expected = &casVersion
			}
			version, err := app.KV.Write(ctx, path, payload, expected)
			if err != nil {
				return exitErr("kv put", err)
			}
			fmt.Printf("Wrote version %d at %s\n", version, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Secret path")
	cmd.Flags().StringToStringVar(&data, "data", nil, "key=value pairs to store (repeatable)")
	cmd.Flags().IntVar(&casVersion, "cas", 0, "Expected current version (check-and-set)")
	cmd.Flags().BoolVar(&hasCAS, "cas-enabled", false, "Enforce the --cas version as the expected current version")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func newKVGetCommand(app *App) *cobra.Command {
	var path string
	var version int
	var hasVersion bool

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Read a secret, latest version by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("kv get", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "read", "secret/"+path); err != nil {
				return exitErr("kv get", err)
			}
			var v *int
			if hasVersion {
				v = &version
			}
			data, err := app.KV.Read(ctx, path, v)
			if err != nil {
				return exitErr("kv get", err)
			}
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(data)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Secret path")
	cmd.Flags().IntVar(&version, "version", 0, "Version to read")
	cmd.Flags().BoolVar(&hasVersion, "version-set", false, "Read the --version instead of the latest")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func newKVListCommand(app *App) *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List secret paths under a prefix",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("kv list", err)
			}
			ctx := context.Background()
			resource := "secret"
			if prefix != "" {
				resource = "secret/" + prefix
			}
			if err := app.Authorize(ctx, "list", resource); err != nil {
				return exitErr("kv list", err)
			}
			entries, err := app.KV.List(ctx, prefix)
			if err != nil {
				return exitErr("kv list", err)
			}
			for _, e := range entries {
				fmt.Println(e)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Path prefix to list")
	return cmd
}

func newKVDeleteCommand(app *App) *cobra.Command {
	var path string
	var versions []int

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Soft-delete one or more versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("kv delete", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "delete", "secret/"+path); err != nil {
				return exitErr("kv delete", err)
			}
			if err := app.KV.SoftDelete(ctx, path, versions); err != nil {
				return exitErr("kv delete", err)
			}
			fmt.Println("Deleted.")
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Secret path")
	cmd.Flags().IntSliceVar(&versions, "versions", nil, "Versions to delete")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func newKVUndeleteCommand(app *App) *cobra.Command {
	var path string
	var versions []int

	cmd := &cobra.Command{
		Use:   "undelete",
		Short: "Restore soft-deleted versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("kv undelete", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "undelete", "secret/"+path); err != nil {
				return exitErr("kv undelete", err)
			}
			if err := app.KV.Undelete(ctx, path, versions); err != nil {
				return exitErr("kv undelete", err)
			}
			fmt.Println("Restored.")
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Secret path")
	cmd.Flags().IntSliceVar(&versions, "versions", nil, "Versions to restore")
	_ = cmd.MarkFlagRequired("path")
	_ = cmd.MarkFlagRequired("versions")
	return cmd
}

func newKVDestroyCommand(app *App) *cobra.Command {
	var path string
	var versions []int

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Permanently erase ciphertext for one or more versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("kv destroy", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "destroy", "secret/"+path); err != nil {
				return exitErr("kv destroy", err)
			}
			if err := app.KV.Destroy(ctx, path, versions); err != nil {
				return exitErr("kv destroy", err)
			}
			fmt.Println("Destroyed.")
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Secret path")
	cmd.Flags().IntSliceVar(&versions, "versions", nil, "Versions to destroy")
	_ = cmd.MarkFlagRequired("path")
	_ = cmd.MarkFlagRequired("versions")
	return cmd
}

func newKVMetadataCommand(app *App) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Show a secret's configuration and version bounds",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("kv metadata", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "metadata", "secret/"+path); err != nil {
				return exitErr("kv metadata", err)
			}
			meta, err := app.KV.GetMetadata(ctx, path)
			if err != nil {
				return exitErr("kv metadata", err)
			}
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(meta)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Secret path")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func newKVConfigureCommand(app *App) *cobra.Command {
	var path string
	var maxVersions int
	var casRequired bool
	var deleteVersionAfter time.Duration
	var custom map[string]string

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Update a secret's max-versions, CAS, and expiry configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("kv configure", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "metadata", "secret/"+path); err != nil {
				return exitErr("kv configure", err)
			}
			if err := app.KV.UpdateMetadata(ctx, path, maxVersions, casRequired, deleteVersionAfter, custom); err != nil {
				return exitErr("kv configure", err)
			}
			fmt.Println("Updated.")
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Secret path")
	cmd.Flags().IntVar(&maxVersions, "max-versions", 10, "Versions retained before the oldest is destroyed")
	cmd.Flags().BoolVar(&casRequired, "cas-required", false, "Require check-and-set on every write")
	cmd.Flags().DurationVar(&deleteVersionAfter, "delete-version-after", 0, "Treat versions older than this as deleted (0 disables)")
	cmd.Flags().StringToStringVar(&custom, "metadata", nil, "Custom key=value metadata (repeatable)")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func newKVDeleteMetadataCommand(app *App) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "delete-metadata",
		Short: "Remove a secret and every one of its versions (terminal)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("kv delete-metadata", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "delete", "secret/"+path); err != nil {
				return exitErr("kv delete-metadata", err)
			}
			if err := app.KV.DeleteMetadata(ctx, path); err != nil {
				return exitErr("kv delete-metadata", err)
			}
			fmt.Println("Removed.")
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Secret path")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}
