package sigreq

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"go.sigreq.dev/client-sdk/api"
	"go.sigreq.dev/client-sdk/internal/client"
	"go.sigreq.dev/client-sdk/pkg/engine"
	"go.sigreq.dev/client-sdk/pkg/session"
	"go.sigreq.dev/client-sdk/pkg/signer"
)

// NewSDK creates a new SDK with the specified options.
func NewSDK(options ...Option) *SDK {
	// Create the raw client
	cfg := &client.Config{
		Clock:  clock.New(),
		Logger: zerolog.Nop(),
	}
	for _, option := range options {
		option(cfg)
	}
	if cfg.Engine == nil {
		cfg.Engine = engine.NewNative()
	}
	rawClient := client.New(cfg)

	// Now wire the signing components
	bridge := signer.New(cfg.Engine, cfg.Logger.With().Str("component", "signer").Logger())
	store := session.NewStore()

	return &SDK{
		API:    api.NewClient(rawClient, bridge, store),
		Signer: bridge,
		engine: cfg.Engine,
	}
}

// SDK is the entry point for sending signed requests.
type SDK struct {
	// API performs the login, query and session operations.
	API *api.Client

	// Signer is the bridge to the signing engine shared by all operations.
	Signer *signer.Bridge

	engine engine.Provider
}

// Close releases the signing engine if it holds resources.
func (s *SDK) Close(ctx context.Context) error {
	if c, ok := s.engine.(interface{ Close(context.Context) error }); ok {
		return c.Close(ctx)
	}
	return nil
}
