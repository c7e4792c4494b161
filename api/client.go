package api

import (
	"context"

	"github.com/rs/zerolog"

	"go.sigreq.dev/client-sdk/internal/client"
	"go.sigreq.dev/client-sdk/pkg/auth"
	"go.sigreq.dev/client-sdk/pkg/session"
)

const (
	SaltPath    = "/api/salt"
	SessionPath = "/api/session"
	LoginPath   = "/api/login"
	QueryPath   = "/api/query"
)

// Signer computes the signature of a signable request.
type Signer interface {
	Sign(ctx context.Context, req *auth.SignableRequest) (string, error)
}

// Client dispatches signed requests to the API.
//
// Each operation fetches fresh salt material, builds the signable request,
// has it signed and sends the result. Operations are independent and may
// run concurrently.
type Client struct {
	client    *client.Client
	freshness *auth.Freshness
	signer    Signer
	store     *session.Store
	appSalt   string
	logger    zerolog.Logger

	observe func(op string, s State)
}

func NewClient(raw *client.Client, signer Signer, store *session.Store) *Client {
	cfg := raw.Config()
	return &Client{
		client:    raw,
		freshness: auth.NewFreshness(raw, cfg.Clock),
		signer:    signer,
		store:     store,
		appSalt:   cfg.AppSalt,
		logger:    cfg.Logger,
	}
}

// Observe registers fn to be called on every state transition of every
// operation. It must be called before any operation is started.
func (c *Client) Observe(fn func(op string, s State)) {
	c.observe = fn
}

// Authenticated reports whether a session key is held.
func (c *Client) Authenticated() bool {
	_, ok := c.store.Get()
	return ok
}

func (c *Client) begin(name string) *operation {
	return &operation{
		name:    name,
		state:   StateUnstarted,
		logger:  c.logger.With().Str("op", name).Logger(),
		observe: c.observe,
	}
}

// sign runs the FETCHING_SALT, BUILDING and SIGNING steps and returns the
// envelope to send.
func (c *Client) sign(ctx context.Context, op *operation, desc auth.RequestDescriptor, material auth.SigningMaterial) (*auth.Envelope, error) {
	op.enter(StateFetchingSalt)
	fresh, err := c.freshness.Obtain(ctx)
	if err != nil {
		return nil, op.fail(err)
	}

	op.enter(StateBuilding)
	req, err := auth.Build(desc, fresh.Ticket, fresh.Nonce, fresh.Timestamp, material)
	if err != nil {
		return nil, op.fail(err)
	}

	op.enter(StateSigning)
	sig, err := c.signer.Sign(ctx, req)
	if err != nil {
		return nil, op.fail(err)
	}

	return auth.NewEnvelope(req, fresh.Ticket, sig), nil
}
