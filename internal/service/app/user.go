package app

import (
	"context"

	"haine/internal/apperr"
)

// signIn logs in as name, creating the account first when it does not
// exist yet.
func (c *App) signIn(ctx context.Context, name, password string) error {
	err := c.client.LogIn(ctx, name, password)
	if !apperr.Is(err, apperr.CodeWrongCredentials) {
		return err
	}

	if _, err := c.client.SignUp(ctx, name, password); err != nil {
		return err
	}
	return c.client.LogIn(ctx, name, password)
}
