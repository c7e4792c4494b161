package api

import (
	"context"
	"errors"
	"net/http"

	"go.sigreq.dev/client-sdk/api/types"
	"go.sigreq.dev/client-sdk/pkg/auth"
)

// QueryResult holds the data returned by a successful query.
type QueryResult struct {
	Data []byte // raw JSON
}

// Decode unmarshals the query data into v.
func (r *QueryResult) Decode(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Query sends params as a request signed with the session key.
//
// It fails with auth.ErrNotAuthenticated before any network or signing work
// when no session key is held. A 401 answer means the server dropped the
// session, and the stored key is cleared unless a login replaced it since.
func (c *Client) Query(ctx context.Context, params map[string]string) (*QueryResult, error) {
	op := c.begin("query")

	key, ok := c.store.Get()
	if !ok {
		c.store.Clear()
		return nil, op.fail(auth.ErrNotAuthenticated)
	}
	defer key.Wipe()

	env, err := c.sign(ctx, op,
		auth.RequestDescriptor{Method: http.MethodPost, Path: QueryPath, Params: params},
		auth.SigningMaterial{SessionKey: key},
	)
	if err != nil {
		return nil, err
	}

	op.enter(StateSending)
	var resp types.QueryResponse
	if err := c.client.Post(ctx, QueryPath, env, &resp); err != nil {
		var netErr *auth.NetworkError
		if errors.As(err, &netErr) && netErr.StatusCode == http.StatusUnauthorized {
			c.store.CompareAndClear(key)
		}
		return nil, op.fail(err)
	}
	if resp.Status != types.StatusOK {
		return nil, op.fail(&auth.ApplicationError{Status: resp.Status, Message: resp.Msg})
	}

	op.succeed()
	return &QueryResult{Data: resp.Data}, nil
}
