package sigreq

import (
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"go.sigreq.dev/client-sdk/internal/client"
	"go.sigreq.dev/client-sdk/pkg/engine"
)

// Option is a function that can be passed to NewSDK to configure the SDK.
type Option func(config *client.Config)

// WithHost configures the SDK to use the specified host, e.g.
// https://app.example.com. Paths such as /api/login are appended to it.
func WithHost(host string) Option {
	return func(config *client.Config) {
		config.Host = host
	}
}

// WithAppSalt sets the application salt mixed into password mode
// signatures. It must match the server deployment; the default is
// "static-salt".
func WithAppSalt(appSalt string) Option {
	return func(config *client.Config) {
		config.AppSalt = appSalt
	}
}

// WithEngine configures the signing engine.
//
// Use an [engine.Loader] to load a compiled WebAssembly module lazily:
//
//	sigreq.WithEngine(engine.NewLoader(engine.WasmFile("sign_wasm.wasm"), logger))
//
// If not specified the in-process [engine.Native] is used.
func WithEngine(provider engine.Provider) Option {
	return func(config *client.Config) {
		config.Engine = provider
	}
}

// WithHTTPClient configures the HTTP client. It should carry a cookie jar
// so the session cookie is kept between requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(config *client.Config) {
		config.HTTPClient = httpClient
	}
}

// WithLogger configures the logger. Session keys and passwords are never
// logged.
func WithLogger(logger zerolog.Logger) Option {
	return func(config *client.Config) {
		config.Logger = logger
	}
}

// WithClock configures the SDK to use the specified clock.
//
// This is useful for testing with a mocked clock, if not
// specified a real clock will be used.
func WithClock(clock clock.Clock) Option {
	return func(config *client.Config) {
		config.Clock = clock
	}
}
