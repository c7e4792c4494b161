package api

import (
	"context"

	"go.sigreq.dev/client-sdk/api/types"
	"go.sigreq.dev/client-sdk/pkg/auth"
)

// SessionResult describes the outcome of a session check.
type SessionResult struct {
	Active bool
	User   string
}

// CheckSession restores an existing server session, typically on startup.
//
// An active session with a key populates the session store; any other
// answer from the server clears it. Network failures leave the store as is.
func (c *Client) CheckSession(ctx context.Context) (*SessionResult, error) {
	op := c.begin("session")

	op.enter(StateSending)
	var resp types.SessionResponse
	if err := c.client.Get(ctx, SessionPath, &resp); err != nil {
		return nil, op.fail(err)
	}

	if resp.Status != types.StatusOK || resp.KeyB64 == nil {
		c.store.Clear()
		op.succeed()
		return &SessionResult{Active: false}, nil
	}

	key, err := auth.ParseSessionKey(*resp.KeyB64)
	if err != nil {
		c.store.Clear()
		return nil, op.fail(err)
	}
	c.store.Set(key)
	key.Wipe()

	res := &SessionResult{Active: true}
	if resp.User != nil {
		res.User = *resp.User
	}
	op.succeed()
	return res, nil
}

// Logout drops the session key held by the client.
func (c *Client) Logout() {
	c.store.Clear()
	c.logger.Debug().Msg("session key cleared")
}
