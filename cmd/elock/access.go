package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/elock-client/internal/access"
)

func newAccessCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "access <lockId>",
		Short: "List who has access to a lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := c.accessView(args[0])
			if err != nil {
				return err
			}
			defer view.Close()

			if err := view.Load(cmd.Context()); err != nil {
				return err
			}
			return printEntries(c.out, view.Entries())
		},
	}
}

func newShareCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "share <lockId> <email>",
		Short: "Give another user guest access to a lock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := c.accessView(args[0])
			if err != nil {
				return err
			}
			defer view.Close()

			u, err := view.Share(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "shared lock %d with %s (user %d)\n", view.LockID(), u.Email, u.ID)
			return nil
		},
	}
}

func newRevokeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <lockId> <grantId>",
		Short: "Remove a guest's access to a lock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := c.accessView(args[0])
			if err != nil {
				return err
			}
			defer view.Close()

			grantID, err := parseID("grant", args[1])
			if err != nil {
				return err
			}
			if err := view.Load(cmd.Context()); err != nil {
				return err
			}
			if err := view.Revoke(cmd.Context(), grantID); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "revoked grant %d\n", grantID)
			return nil
		},
	}
}

func (c *cli) accessView(arg string) (*access.View, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	lockID, err := parseID("lock", arg)
	if err != nil {
		return nil, err
	}
	return c.app.Access(lockID), nil
}

func printEntries(w io.Writer, entries []access.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no access grants")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GRANT\tUSER\tROLE\tSTATUS\tREVOCABLE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\n", e.Grant.ID, e.DisplayName, e.Grant.Role, e.Grant.Status, e.Revocable)
	}
	return tw.Flush()
}
