package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/elock-client/internal/locks"
	"github.com/nerrad567/elock-client/internal/rpc"
)

func newLocksCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "locks",
		Short: "List the locks you can open",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireSession(); err != nil {
				return err
			}
			list, err := c.app.API.ListLocks(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing locks: %w", err)
			}
			return printLocks(c.out, list)
		},
	}
}

func newWatchCmd(c *cli) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "List locks and reprint the list on every pushed change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireSession(); err != nil {
				return err
			}
			ctx, cancel := withOptionalTimeout(cmd.Context(), duration)
			defer cancel()

			changed := make(chan struct{}, 1)
			view := c.app.LockList(locks.WithOnChange(func() { notify(changed) }))
			defer view.Close()

			if err := view.Open(ctx); err != nil {
				return fmt.Errorf("loading locks: %w", err)
			}
			if err := printLocks(c.out, view.Locks()); err != nil {
				return err
			}
			drain(changed)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-changed:
					fmt.Fprintln(c.out)
					if err := printLocks(c.out, view.Locks()); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func newLockCmd(c *cli) *cobra.Command {
	var (
		live     bool
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "lock <id>",
		Short: "Show one lock, optionally following live updates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireSession(); err != nil {
				return err
			}
			id, err := parseID("lock", args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withOptionalTimeout(cmd.Context(), duration)
			defer cancel()

			changed := make(chan struct{}, 1)
			view := c.app.LockDetail(locks.WithOnChange(func() { notify(changed) }))
			defer view.Close()

			if err := view.Open(ctx, rpc.Lock{ID: id}); err != nil {
				return fmt.Errorf("loading lock %d: %w", id, err)
			}
			l, _ := view.Lock()
			printLock(c.out, l)
			if !live {
				return nil
			}
			drain(changed)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-changed:
					if view.Removed() {
						fmt.Fprintf(c.out, "lock %d was removed\n", id)
						return nil
					}
					l, _ := view.Lock()
					printLock(c.out, l)
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&live, "watch", "w", false, "follow live updates")
	cmd.Flags().DurationVar(&duration, "duration", 0, "with --watch, stop after this long")
	return cmd
}

func newToggleCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Lock an unlocked lock or unlock a locked one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireSession(); err != nil {
				return err
			}
			id, err := parseID("lock", args[0])
			if err != nil {
				return err
			}

			view := c.app.LockDetail()
			defer view.Close()
			if err := view.Open(cmd.Context(), rpc.Lock{ID: id}); err != nil {
				return fmt.Errorf("loading lock %d: %w", id, err)
			}
			l, err := view.Toggle(cmd.Context())
			if err != nil {
				return err
			}
			printLock(c.out, l)
			return nil
		},
	}
}

func newNewLockCmd(c *cli) *cobra.Command {
	var name, location string
	cmd := &cobra.Command{
		Use:   "new-lock",
		Short: "Register a new lock owned by you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireSession(); err != nil {
				return err
			}
			l, err := c.app.CreateLock(cmd.Context(), name, location)
			if err != nil {
				return err
			}
			printLock(c.out, l)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "lock name")
	cmd.Flags().StringVar(&location, "location", "", "where the lock is installed")
	return cmd
}

// ============================================================================
// Output
// ============================================================================

func printLocks(w io.Writer, list []rpc.Lock) error {
	if len(list) == 0 {
		fmt.Fprintln(w, "no locks")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLOCATION\tSTATUS")
	for _, l := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", l.ID, l.Name, l.Location, l.Status)
	}
	return tw.Flush()
}

func printLock(w io.Writer, l rpc.Lock) {
	fmt.Fprintf(w, "%d %s (%s): %s\n", l.ID, l.Name, l.Location, l.Status)
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// notify records a change without blocking the view's callback.
func notify(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch <-chan struct{}) {
	select {
	case <-ch:
	default:
	}
}
