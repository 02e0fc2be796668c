package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/elock-client/internal/session"
)

func newLoginCmd(c *cli) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and print the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.app.SignIn(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, s.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account e-mail")
	cmd.Flags().StringVar(&password, "password", os.Getenv("ELOCK_PASSWORD"), "account password (default $ELOCK_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newRegisterCmd(c *cli) *cobra.Command {
	var in session.RegisterInput
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account, sign in and print the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if in.ConfirmPassword == "" {
				in.ConfirmPassword = in.Password
			}
			s, err := c.app.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, s.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Email, "email", "", "account e-mail")
	cmd.Flags().StringVar(&in.Password, "password", os.Getenv("ELOCK_PASSWORD"), "account password (default $ELOCK_PASSWORD)")
	cmd.Flags().StringVar(&in.ConfirmPassword, "confirm", "", "password confirmation (defaults to --password)")
	return cmd
}
