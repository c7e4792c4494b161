package auth

import (
	"crypto/hmac"
)

// Envelope is the authenticated request body sent to the server.
//
// The signature travels beside the params and is never part of them.
type Envelope struct {
	Username  string            `json:"username,omitempty"`
	SaltID    string            `json:"salt_id"`
	Timestamp int64             `json:"timestamp"`
	Nonce     string            `json:"nonce"`
	Sig       string            `json:"sig"`
	Params    map[string]string `json:"params,omitempty"`
}

// NewEnvelope wraps a signed request for transmission. The signing material
// of req is never copied into the envelope.
func NewEnvelope(req *SignableRequest, ticket SaltTicket, sig string) *Envelope {
	env := &Envelope{
		SaltID:    ticket.SaltID,
		Timestamp: req.Timestamp,
		Nonce:     req.Nonce,
		Sig:       sig,
	}
	if len(req.Params) > 0 {
		env.Params = make(map[string]string, len(req.Params))
		for k, v := range req.Params {
			env.Params[k] = v
		}
	}
	return env
}

// SigEqual reports whether the envelope carries the expected signature.
//
// It compares using hmac.Equal to prevent timing attacks.
func (e *Envelope) SigEqual(expected string) bool {
	return hmac.Equal([]byte(e.Sig), []byte(expected))
}
