package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ironseal/ironseal/pkg/dbcreds/connectors"
)

// NewDoctorCommand reports configuration validity, seal status, and which
// database connectors are actually wired.
func NewDoctorCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration validity and subsystem readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Checking ironseal configuration...")
			if err := app.Bootstrap(); err != nil {
				fmt.Printf("✗ configuration error: %v\n", err)
				return err
			}
			fmt.Println("✓ configuration loaded successfully")

			state := app.Seal.Status()
			if state.Sealed {
				fmt.Printf("✗ seal status: sealed (%d/%d shares)\n", state.Progress, state.Threshold)
			} else {
				fmt.Println("✓ seal status: unsealed")
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "DATABASE\tPLUGIN\tCONNECTOR\n")
			for _, d := range app.def.Databases {
				conn, registered := connectorsByPlugin()[d.Plugin]
				status := "✗ not registered"
				if registered {
					status = "✓ wired"
					if _, stub := conn.(*connectors.Unsupported); stub {
						status = "✗ no driver available"
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, d.Plugin, status)
			}
			w.Flush()

			fmt.Printf("\nRBAC roles: %d, ABAC policies: %d\n", len(app.def.RBACRoles), len(app.def.Policies))
			fmt.Println("✓ doctor check complete")
			return nil
		},
	}
}
