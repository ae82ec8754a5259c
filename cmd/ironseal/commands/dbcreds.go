package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewDBCredsCommand groups the Database Credentials Engine's operator
// surface.
func NewDBCredsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dbcreds",
		Short: "Issue and manage dynamic database credentials",
	}
	cmd.AddCommand(
		newDBCredsIssueCommand(app),
		newDBCredsRenewCommand(app),
		newDBCredsRevokeCommand(app),
		newDBCredsSweepCommand(app),
		newDBCredsRotateRootCommand(app),
	)
	return cmd
}

func newDBCredsIssueCommand(app *App) *cobra.Command {
	var database, role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a short-lived dynamic database credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("dbcreds issue", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "issue", "dbcreds/"+database+"/"+role); err != nil {
				return exitErr("dbcreds issue", err)
			}
			if err := app.EnsureDatabasesSeeded(ctx); err != nil {
				return exitErr("dbcreds issue", err)
			}
			result, err := app.DBCreds.Issue(ctx, database, role, ttl)
			if err != nil {
				return exitErr("dbcreds issue", err)
			}
			fmt.Printf("Lease:    %s\n", result.LeaseID)
			fmt.Printf("Username: %s\n", result.Username)
			fmt.Printf("Password: %s\n", result.Password)
			fmt.Printf("Expires:  %s\n", result.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "Database configuration name")
	cmd.Flags().StringVar(&role, "role", "", "Role name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Requested lease TTL (defaults to the role's default TTL)")
	_ = cmd.MarkFlagRequired("database")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newDBCredsRenewCommand(app *App) *cobra.Command {
	var leaseID string

	cmd := &cobra.Command{
		Use:   "renew",
		Short: "Extend a lease's expiry up to its role's max TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("dbcreds renew", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "renew", "dbcreds/lease/"+leaseID); err != nil {
				return exitErr("dbcreds renew", err)
			}
			expiresAt, err := app.DBCreds.Renew(ctx, leaseID)
			if err != nil {
				return exitErr("dbcreds renew", err)
			}
			fmt.Printf("New expiry: %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&leaseID, "lease", "", "Lease ID")
	_ = cmd.MarkFlagRequired("lease")
	return cmd
}

func newDBCredsRevokeCommand(app *App) *cobra.Command {
	var leaseID string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a lease immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("dbcreds revoke", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "revoke", "dbcreds/lease/"+leaseID); err != nil {
				return exitErr("dbcreds revoke", err)
			}
			if err := app.DBCreds.Revoke(ctx, leaseID); err != nil {
				return exitErr("dbcreds revoke", err)
			}
			fmt.Println("Revoked.")
			return nil
		},
	}
	cmd.Flags().StringVar(&leaseID, "lease", "", "Lease ID")
	_ = cmd.MarkFlagRequired("lease")
	return cmd
}

func newDBCredsSweepCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Revoke every lease past its expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("dbcreds sweep", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "sweep", "dbcreds"); err != nil {
				return exitErr("dbcreds sweep", err)
			}
			revoked, err := app.DBCreds.SweepExpiredLeases(ctx)
			if err != nil {
				return exitErr("dbcreds sweep", err)
			}
			fmt.Printf("Revoked %d expired lease(s).\n", len(revoked))
			for _, lease := range revoked {
				fmt.Printf("  %s (%s/%s)\n", lease.ID, lease.Database, lease.Role)
			}
			return nil
		},
	}
}

func newDBCredsRotateRootCommand(app *App) *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:   "rotate-root",
		Short: "Rotate a database's stored admin credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Bootstrap(); err != nil {
				return exitErr("dbcreds rotate-root", err)
			}
			ctx := context.Background()
			if err := app.Authorize(ctx, "rotate_root", "dbcreds/"+database); err != nil {
				return exitErr("dbcreds rotate-root", err)
			}
			if err := app.EnsureDatabasesSeeded(ctx); err != nil {
				return exitErr("dbcreds rotate-root", err)
			}
			if err := app.DBCreds.RotateRootCredentials(ctx, database); err != nil {
				return exitErr("dbcreds rotate-root", err)
			}
			fmt.Println("Root credentials rotated.")
			return nil
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "Database configuration name")
	_ = cmd.MarkFlagRequired("database")
	return cmd
}
