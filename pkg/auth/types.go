package auth

import (
	"encoding/base64"
	"fmt"
)

// Mode selects which signing material a request is signed with.
type Mode int

const (
	ModeUnknown    Mode = iota
	ModePassword        // signed with the user's password and the app salt
	ModeSessionKey      // signed with the session key issued at login
)

func (m Mode) String() string {
	switch m {
	case ModePassword:
		return "password"
	case ModeSessionKey:
		return "session-key"
	default:
		return "unknown"
	}
}

// SessionKey is the credential issued by the server on a successful login.
// It contains secret material: its String method is redacted so it can never
// end up in a log line by accident.
type SessionKey []byte

// ParseSessionKey decodes a base64 encoded session key as sent by the server.
func ParseSessionKey(b64 string) (SessionKey, error) {
	if b64 == "" {
		return nil, fmt.Errorf("%w: empty session key", ErrMarshal)
	}
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: session key is not valid base64", ErrMarshal)
	}
	return key, nil
}

// Base64 returns the wire representation of the key.
func (k SessionKey) Base64() string {
	return base64.StdEncoding.EncodeToString(k)
}

func (k SessionKey) String() string { return "[redacted]" }

// Clone returns a copy of the key that does not share memory with k.
func (k SessionKey) Clone() SessionKey {
	if k == nil {
		return nil
	}
	return append(SessionKey(nil), k...)
}

// Wipe zeroes the key bytes in place.
func (k SessionKey) Wipe() {
	for i := range k {
		k[i] = 0
	}
}

// Credentials is the password mode signing material.
type Credentials struct {
	Password string
	AppSalt  string // fixed application level constant, not secret
}

// SigningMaterial holds exactly one of Credentials or SessionKey.
type SigningMaterial struct {
	Credentials *Credentials
	SessionKey  SessionKey
}

// Mode reports which material set is present, or an error if both or
// neither are.
func (m SigningMaterial) Mode() (Mode, error) {
	hasPassword := m.Credentials != nil
	hasKey := len(m.SessionKey) > 0
	switch {
	case hasPassword && hasKey:
		return ModeUnknown, fmt.Errorf("%w: both password and session key supplied", ErrInvalidRequest)
	case hasPassword:
		return ModePassword, nil
	case hasKey:
		return ModeSessionKey, nil
	default:
		return ModeUnknown, fmt.Errorf("%w: no signing material supplied", ErrInvalidRequest)
	}
}

// SaltTicket is a single-use salt issued by the salt service. SaltID lets the
// server find the matching record; a fresh ticket is fetched for every request.
type SaltTicket struct {
	Salt   string `json:"salt"`
	SaltID string `json:"salt_id"`
}

// RequestDescriptor is the logical request to be signed.
type RequestDescriptor struct {
	Method string
	Path   string
	Params map[string]string
}

// SignableRequest is the canonical payload handed to the signing engine.
//
// Exactly one of (Password, AppSalt) or KeyBase64 is populated, matching Mode.
// Values are built by [Build]; see [SignableRequest.DeterministicBytes] for the
// byte encoding the engine signs.
type SignableRequest struct {
	Method    string
	Path      string
	Params    map[string]string
	Nonce     string
	Salt      string
	Timestamp int64

	Mode      Mode
	Password  string
	AppSalt   string
	KeyBase64 string
}
