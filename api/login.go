package api

import (
	"context"
	"fmt"
	"net/http"

	"go.sigreq.dev/client-sdk/api/types"
	"go.sigreq.dev/client-sdk/pkg/auth"
)

// LoginResult describes a successful login.
type LoginResult struct {
	User string
}

// Login signs a login request with the password and, on success, stores the
// session key issued by the server. The password itself is never sent.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	op := c.begin("login")

	env, err := c.sign(ctx, op,
		auth.RequestDescriptor{Method: http.MethodPost, Path: LoginPath},
		auth.SigningMaterial{Credentials: &auth.Credentials{Password: password, AppSalt: c.appSalt}},
	)
	if err != nil {
		return nil, err
	}
	env.Username = username

	op.enter(StateSending)
	var resp types.LoginResponse
	if err := c.client.Post(ctx, LoginPath, env, &resp); err != nil {
		return nil, op.fail(err)
	}
	if resp.Status != types.StatusOK {
		return nil, op.fail(&auth.ApplicationError{Status: resp.Status, Message: resp.Msg})
	}

	key, err := auth.ParseSessionKey(resp.KeyB64)
	if err != nil {
		return nil, op.fail(fmt.Errorf("login response: %w", err))
	}
	c.store.Set(key)
	key.Wipe()

	op.succeed()
	return &LoginResult{User: resp.User}, nil
}
