// elock is the command-line client for the door lock backend.
//
// Each command mirrors one screen of the mobile client: sign in, list and
// watch locks, open a single lock, toggle it, create one, and manage who
// may open it. The session token printed by login or register is passed to
// later invocations with --token or ELOCK_TOKEN; nothing is stored on disk.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on Ctrl+C or SIGTERM so watch commands shut down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run executes one command line, separated from main for testability.
func run(ctx context.Context, args []string, out io.Writer) error {
	c := &cli{out: out}
	defer c.close()

	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	return root.ExecuteContext(ctx)
}
