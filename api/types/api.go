package types

import (
	"encoding/json"
)

// StatusOK is the application status of a successful response.
const StatusOK = "ok"

// SaltResponse is the response from GET /api/salt.
type SaltResponse struct {
	Salt      string `json:"salt"`
	SaltID    string `json:"salt_id"`
	ExpiresIn int    `json:"expires_in,omitempty"` // seconds the salt stays valid
}

// SessionResponse is the response from GET /api/session.
type SessionResponse struct {
	Status string  `json:"status"`
	User   *string `json:"user"`
	KeyB64 *string `json:"key_b64"`
}

// LoginResponse is the response from POST /api/login. The request body is
// an auth.Envelope carrying the username.
type LoginResponse struct {
	Status string `json:"status"`
	User   string `json:"user"`
	KeyB64 string `json:"key_b64"`
	Msg    string `json:"msg,omitempty"`
}

// QueryResponse is the response from POST /api/query. The request body is
// an auth.Envelope carrying the query params.
type QueryResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Msg    string          `json:"msg,omitempty"`
}

// ErrorResponse is the envelope of a failed request.
type ErrorResponse struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
}
