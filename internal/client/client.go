package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/publicsuffix"

	"go.sigreq.dev/client-sdk/api/types"
	"go.sigreq.dev/client-sdk/pkg/auth"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 4 << 20

// Client is the underlying raw client for the API endpoints.
//
// It is injected into the dispatcher by the main [sigreq] package.
type Client struct {
	cfg *Config
}

func New(cfg *Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient()
	}
	if cfg.AppSalt == "" {
		cfg.AppSalt = DefaultAppSalt
	}
	return &Client{cfg}
}

// NewHTTPClient returns an HTTP client with a cookie jar, so the session
// cookie set at login is sent with later requests.
func NewHTTPClient() *http.Client {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &http.Client{Jar: jar}
}

// Config returns the client configuration.
func (c *Client) Config() *Config {
	return c.cfg
}

// FetchSalt requests a new salt ticket from the salt service.
func (c *Client) FetchSalt(ctx context.Context) (auth.SaltTicket, error) {
	var resp types.SaltResponse
	if err := c.Get(ctx, "/api/salt", &resp); err != nil {
		return auth.SaltTicket{}, err
	}
	return auth.SaltTicket{Salt: resp.Salt, SaltID: resp.SaltID}, nil
}

// Get performs a GET request to the specified path and decodes the JSON
// response into response.
func (c *Client) Get(ctx context.Context, path string, response any) error {
	return c.do(ctx, http.MethodGet, path, nil, response)
}

// Post performs a POST request to the specified path with body encoded as
// JSON and decodes the JSON response into response.
func (c *Client) Post(ctx context.Context, path string, body any, response any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bodyBytes, response)
}

// do sends the request. Transport failures, non 2xx statuses and
// undecodable bodies are all returned as *auth.NetworkError.
func (c *Client) do(ctx context.Context, method, path string, body []byte, response any) error {
	netErr := func(status int, err error) error {
		return &auth.NetworkError{Method: method, Path: path, StatusCode: status, Err: err}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("%s%s", c.cfg.Host, path), reader)
	if err != nil {
		return netErr(0, fmt.Errorf("failed to create request: %w", err))
	}

	// Set the headers
	req.Header.Set("User-Agent", "Sigreq-Client-SDK")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Send the request
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return netErr(0, fmt.Errorf("failed to make request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return netErr(resp.StatusCode, nil)
	}

	// Decode the response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(response); err != nil {
		return netErr(0, fmt.Errorf("failed to decode response: %w", err))
	}

	return nil
}
