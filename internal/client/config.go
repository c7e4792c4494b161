package client

import (
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"go.sigreq.dev/client-sdk/pkg/engine"
)

// DefaultAppSalt is mixed into password mode signatures. It is not secret
// but must match the server deployment.
const DefaultAppSalt = "static-salt"

// Config is the configuration for the client.
type Config struct {
	Host       string          // The host to use, e.g. https://app.example.com
	Clock      clock.Clock     // The clock to use
	AppSalt    string          // The application salt for password mode signing
	HTTPClient *http.Client    // The HTTP client to use, it must carry a cookie jar for sessions
	Logger     zerolog.Logger  // The logger to use
	Engine     engine.Provider // The signing engine
}
