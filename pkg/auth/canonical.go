package auth

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// reservedParams may never appear among the application params, they are
// either part of the freshness material or travel beside the signature.
var reservedParams = []string{"sig", "nonce", "salt", "salt_id", "timestamp"}

// Build assembles the payload to be signed from the logical request, the
// freshness material and the signing material.
//
// It does not serialise the request; that is left to
// [SignableRequest.DeterministicBytes] so the encoding can change without
// touching the builder.
func Build(desc RequestDescriptor, ticket SaltTicket, nonce string, timestamp int64, material SigningMaterial) (*SignableRequest, error) {
	mode, err := material.Mode()
	if err != nil {
		return nil, err
	}

	switch {
	case ticket.Salt == "":
		return nil, fmt.Errorf("%w: missing salt", ErrInvalidRequest)
	case nonce == "":
		return nil, fmt.Errorf("%w: missing nonce", ErrInvalidRequest)
	case timestamp <= 0:
		return nil, fmt.Errorf("%w: missing timestamp", ErrInvalidRequest)
	}

	method := strings.ToUpper(strings.TrimSpace(desc.Method))
	if method == "" {
		return nil, fmt.Errorf("%w: missing method", ErrInvalidRequest)
	}
	path, err := requestPath(desc.Path)
	if err != nil {
		return nil, err
	}

	params := make(map[string]string, len(desc.Params))
	for k, v := range desc.Params {
		for _, reserved := range reservedParams {
			if k == reserved {
				return nil, fmt.Errorf("%w: parameter %q is reserved", ErrInvalidRequest, k)
			}
		}
		params[k] = v
	}

	req := &SignableRequest{
		Method:    method,
		Path:      path,
		Params:    params,
		Nonce:     nonce,
		Salt:      ticket.Salt,
		Timestamp: timestamp,
		Mode:      mode,
	}
	if mode == ModePassword {
		req.Password = material.Credentials.Password
		req.AppSalt = material.Credentials.AppSalt
	} else {
		req.KeyBase64 = material.SessionKey.Base64()
	}
	return req, nil
}

// requestPath strips the query string and fragment from p.
func requestPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: missing path", ErrInvalidRequest)
	}
	u, err := url.Parse(p)
	if err != nil {
		return "", fmt.Errorf("%w: invalid path: %v", ErrInvalidRequest, err)
	}
	if u.Path == "" {
		return "", fmt.Errorf("%w: missing path", ErrInvalidRequest)
	}
	return u.EscapedPath(), nil
}

// DeterministicBytes returns the canonical encoding of the request.
//
// The encoding is compact JSON with the fields in this fixed order:
//
//	method, path, params, nonce, salt, timestamp, password, app_salt
//	method, path, params, nonce, salt, timestamp, key_base64
//
// depending on the mode. Params keys are sorted bytewise and the timestamp is
// written as a base 10 integer.
func (r *SignableRequest) DeterministicBytes() []byte {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	stream.WriteObjectStart()
	writeStringField(stream, "method", r.Method)
	stream.WriteMore()
	writeStringField(stream, "path", r.Path)
	stream.WriteMore()
	stream.WriteObjectField("params")
	writeParams(stream, r.Params)
	stream.WriteMore()
	writeStringField(stream, "nonce", r.Nonce)
	stream.WriteMore()
	writeStringField(stream, "salt", r.Salt)
	stream.WriteMore()
	stream.WriteObjectField("timestamp")
	stream.WriteInt64(r.Timestamp)

	switch r.Mode {
	case ModePassword:
		stream.WriteMore()
		writeStringField(stream, "password", r.Password)
		stream.WriteMore()
		writeStringField(stream, "app_salt", r.AppSalt)
	case ModeSessionKey:
		stream.WriteMore()
		writeStringField(stream, "key_base64", r.KeyBase64)
	}
	stream.WriteObjectEnd()

	return append([]byte(nil), stream.Buffer()...)
}

// CanonicalParams returns the sorted-key JSON encoding of params, or nil when
// there are none. Its SHA-256 is the body hash that enters the signed message.
func CanonicalParams(params map[string]string) []byte {
	if len(params) == 0 {
		return nil
	}
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)
	writeParams(stream, params)
	return append([]byte(nil), stream.Buffer()...)
}

func writeParams(stream *jsoniter.Stream, params map[string]string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	stream.WriteObjectStart()
	for i, k := range keys {
		if i > 0 {
			stream.WriteMore()
		}
		writeStringField(stream, k, params[k])
	}
	stream.WriteObjectEnd()
}

func writeStringField(stream *jsoniter.Stream, name, value string) {
	stream.WriteObjectField(name)
	stream.WriteString(value)
}
