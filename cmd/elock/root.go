package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nerrad567/elock-client/internal/app"
	"github.com/nerrad567/elock-client/internal/infrastructure/config"
	"github.com/nerrad567/elock-client/internal/infrastructure/logging"
)

var errNotSignedIn = errors.New("not signed in: pass --token or set ELOCK_TOKEN")

// cli carries state shared by every command of one invocation.
type cli struct {
	out        io.Writer
	configPath string
	token      string

	log *logging.Logger
	app *app.App
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "elock",
		Short: "Door lock client",
		Long: `elock signs in to the door lock backend, lists and operates locks,
and manages who has access to them. Live commands follow the backend's
push channel until interrupted.`,
		Version:           fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", envOr("ELOCK_CONFIG", config.DefaultPath), "config file")
	root.PersistentFlags().StringVar(&c.token, "token", os.Getenv("ELOCK_TOKEN"), "session token from login or register")

	root.AddCommand(
		newLoginCmd(c),
		newRegisterCmd(c),
		newLocksCmd(c),
		newWatchCmd(c),
		newLockCmd(c),
		newToggleCmd(c),
		newNewLockCmd(c),
		newAccessCmd(c),
		newShareCmd(c),
		newRevokeCmd(c),
	)
	return root
}

// setup loads configuration and builds the App before any command runs.
func (c *cli) setup(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	c.log = logging.New(cfg.Logging, version)
	c.log.Debug("starting elock",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", c.configPath,
	)

	a, err := app.New(cfg, c.log)
	if err != nil {
		return fmt.Errorf("initialising client: %w", err)
	}
	c.app = a

	if c.token != "" {
		if _, err := a.Resume(c.token); err != nil {
			return fmt.Errorf("resuming session: %w", err)
		}
	}
	return nil
}

func (c *cli) close() {
	if c.app != nil {
		c.app.Close()
	}
}

// requireSession fails commands that need a signed-in user.
func (c *cli) requireSession() error {
	if c.app.Session.Token() == "" {
		return errNotSignedIn
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", kind, s)
	}
	return id, nil
}
