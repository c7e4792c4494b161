package auth

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"
)

var testTicket = SaltTicket{Salt: "abc", SaltID: "s1"}

func TestBuildPasswordMode(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	req, err := Build(
		RequestDescriptor{Method: "post", Path: "/api/login?next=/home#top"},
		testTicket, "n123", 1700000000,
		SigningMaterial{Credentials: &Credentials{Password: "pw1", AppSalt: "static-salt"}},
	)
	c.Assert(err, qt.IsNil)

	c.Assert(req.Method, qt.Equals, "POST")
	c.Assert(req.Path, qt.Equals, "/api/login", qt.Commentf("query string and fragment must be stripped"))
	c.Assert(req.Mode, qt.Equals, ModePassword)
	c.Assert(req.KeyBase64, qt.Equals, "")
	c.Assert(string(req.DeterministicBytes()), qt.Equals,
		`{"method":"POST","path":"/api/login","params":{},"nonce":"n123","salt":"abc","timestamp":1700000000,"password":"pw1","app_salt":"static-salt"}`)
}

func TestBuildSessionKeyMode(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	key := SessionKey{1, 2, 3, 4}
	req, err := Build(
		RequestDescriptor{Method: "POST", Path: "/api/query", Params: map[string]string{"z": "last", "a": "first"}},
		testTicket, "n123", 1700000000,
		SigningMaterial{SessionKey: key},
	)
	c.Assert(err, qt.IsNil)

	c.Assert(req.Mode, qt.Equals, ModeSessionKey)
	c.Assert(req.Password, qt.Equals, "")
	c.Assert(req.AppSalt, qt.Equals, "")
	c.Assert(string(req.DeterministicBytes()), qt.Equals,
		`{"method":"POST","path":"/api/query","params":{"a":"first","z":"last"},"nonce":"n123","salt":"abc","timestamp":1700000000,"key_base64":"AQIDBA=="}`)
}

func TestBuildCopiesParams(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	params := map[string]string{"page": "1"}
	req, err := Build(RequestDescriptor{Method: "POST", Path: "/api/query", Params: params},
		testTicket, "n", 1, SigningMaterial{SessionKey: SessionKey{1}})
	c.Assert(err, qt.IsNil)

	params["page"] = "2"
	c.Assert(req.Params["page"], qt.Equals, "1")
}

func TestBuildRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	password := &Credentials{Password: "pw1", AppSalt: "static-salt"}
	key := SessionKey{9, 9, 9}
	desc := RequestDescriptor{Method: "POST", Path: "/api/query"}

	tests := []struct {
		name     string
		desc     RequestDescriptor
		ticket   SaltTicket
		nonce    string
		ts       int64
		material SigningMaterial
	}{
		{"both materials", desc, testTicket, "n", 1, SigningMaterial{Credentials: password, SessionKey: key}},
		{"no material", desc, testTicket, "n", 1, SigningMaterial{}},
		{"empty session key", desc, testTicket, "n", 1, SigningMaterial{SessionKey: SessionKey{}}},
		{"missing salt", desc, SaltTicket{SaltID: "s1"}, "n", 1, SigningMaterial{SessionKey: key}},
		{"missing nonce", desc, testTicket, "", 1, SigningMaterial{SessionKey: key}},
		{"missing timestamp", desc, testTicket, "n", 0, SigningMaterial{SessionKey: key}},
		{"missing method", RequestDescriptor{Path: "/api/query"}, testTicket, "n", 1, SigningMaterial{SessionKey: key}},
		{"missing path", RequestDescriptor{Method: "POST"}, testTicket, "n", 1, SigningMaterial{SessionKey: key}},
		{"reserved param", RequestDescriptor{Method: "POST", Path: "/api/query", Params: map[string]string{"sig": "x"}}, testTicket, "n", 1, SigningMaterial{SessionKey: key}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := qt.New(t)

			req, err := Build(tt.desc, tt.ticket, tt.nonce, tt.ts, tt.material)
			c.Assert(req, qt.IsNil)
			c.Assert(errors.Is(err, ErrInvalidRequest), qt.IsTrue, qt.Commentf("got %v", err))
		})
	}
}

func TestCanonicalParams(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	c.Assert(CanonicalParams(nil), qt.IsNil)
	c.Assert(string(CanonicalParams(map[string]string{"b": "2", "a": "\"1\""})), qt.Equals, `{"a":"\"1\"","b":"2"}`)
}

func TestSessionKeyIsRedacted(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	key, err := ParseSessionKey("c2VjcmV0")
	c.Assert(err, qt.IsNil)
	c.Assert(string(key), qt.Equals, "secret")
	c.Assert(key.String(), qt.Equals, "[redacted]")

	clone := key.Clone()
	key.Wipe()
	c.Assert(key, qt.DeepEquals, SessionKey{0, 0, 0, 0, 0, 0})
	c.Assert(string(clone), qt.Equals, "secret")

	_, err = ParseSessionKey("%%%")
	c.Assert(errors.Is(err, ErrMarshal), qt.IsTrue)
}
