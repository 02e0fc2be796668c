package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/elock-client/internal/rpc"
)

// minPasswordLength is the shortest password the backend accepts.
const minPasswordLength = 6

// UserCreator creates accounts.
type UserCreator interface {
	CreateUser(ctx context.Context, in rpc.CreateUserInput) (rpc.User, error)
}

// RegisterInput is the content of the sign-up form.
type RegisterInput struct {
	Name            string
	Email           string
	Password        string
	ConfirmPassword string
}

// Validate checks the form and reports every problem at once.
func (in RegisterInput) Validate() error {
	var problems []string

	if strings.TrimSpace(in.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(in.Email) == "" {
		problems = append(problems, "email is required")
	} else if !strings.Contains(in.Email, "@") {
		problems = append(problems, "email is not valid")
	}
	switch {
	case in.Password == "":
		problems = append(problems, "password is required")
	case len(in.Password) < minPasswordLength:
		problems = append(problems, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if in.ConfirmPassword != in.Password {
		problems = append(problems, "passwords do not match")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// Register creates an account and signs in with it.
func (p *Provider) Register(ctx context.Context, users UserCreator, auth Authenticator, in RegisterInput) (*Session, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	email := strings.TrimSpace(in.Email)
	if _, err := users.CreateUser(ctx, rpc.CreateUserInput{
		Name:     strings.TrimSpace(in.Name),
		Email:    email,
		Password: in.Password,
	}); err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}

	return p.SignIn(ctx, auth, email, in.Password)
}
