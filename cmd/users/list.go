package users

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local users",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := openService(cmd)
		if err != nil {
			return err
		}
		defer bundle.Close()

		users, err := bundle.Service.ListUsers(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tROLES\tSTATUS\tLAST LOGIN")
		for _, u := range users {
			status := "active"
			if u.IsDisabled() {
				status = "disabled"
			}
			lastLogin := "-"
			if u.LastLoginAt != nil {
				lastLogin = u.LastLoginAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				u.ID, u.Username, u.Email, strings.Join(u.Roles, ","), status, lastLogin)
		}
		return w.Flush()
	},
}
