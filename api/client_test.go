package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"

	"go.sigreq.dev/client-sdk/internal/apitest"
	"go.sigreq.dev/client-sdk/internal/client"
	"go.sigreq.dev/client-sdk/pkg/auth"
	"go.sigreq.dev/client-sdk/pkg/engine"
	"go.sigreq.dev/client-sdk/pkg/session"
	"go.sigreq.dev/client-sdk/pkg/signer"
)

const testIterations = 1000

// countingSigner counts calls and optionally replaces the signature.
type countingSigner struct {
	next  Signer
	calls int32

	mu   sync.Mutex
	last *auth.SignableRequest
	sig  string
}

func (s *countingSigner) Sign(ctx context.Context, req *auth.SignableRequest) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	if s.sig != "" {
		return s.sig, nil
	}
	return s.next.Sign(ctx, req)
}

type fixture struct {
	server *apitest.Server
	native *engine.Native
	signer *countingSigner
	client *Client
	http   *http.Client
}

func newFixture(c *qt.C) *fixture {
	server, err := apitest.New(context.Background(), apitest.Options{
		Users:   map[string]string{"alice": "pw1"},
		AppSalt: client.DefaultAppSalt,
		Engine:  engine.NewNative(engine.WithIterations(testIterations)),
	})
	c.Assert(err, qt.IsNil)
	c.Cleanup(server.Close)

	native := engine.NewNative(engine.WithIterations(testIterations))
	f := &fixture{
		server: server,
		native: native,
		signer: &countingSigner{next: signer.New(native, zerolog.Nop())},
		http:   client.NewHTTPClient(),
	}
	f.client = f.newClient(session.NewStore())
	return f
}

func (f *fixture) newClient(store *session.Store) *Client {
	raw := client.New(&client.Config{
		Host:       f.server.URL,
		Clock:      clock.New(),
		HTTPClient: f.http,
		Logger:     zerolog.Nop(),
	})
	return NewClient(raw, f.signer, store)
}

func TestLoginAndQuery(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()

	var states []State
	f.client.Observe(func(op string, s State) {
		if op == "login" {
			states = append(states, s)
		}
	})

	res, err := f.client.Login(ctx, "alice", "pw1")
	c.Assert(err, qt.IsNil)
	c.Assert(res.User, qt.Equals, "alice")
	c.Assert(f.client.Authenticated(), qt.IsTrue)
	c.Assert(states, qt.DeepEquals, []State{StateFetchingSalt, StateBuilding, StateSigning, StateSending, StateSucceeded})

	f.signer.mu.Lock()
	c.Assert(f.signer.last.Mode, qt.Equals, auth.ModePassword)
	f.signer.mu.Unlock()

	qres, err := f.client.Query(ctx, map[string]string{"status": "active"})
	c.Assert(err, qt.IsNil)
	var rows []apitest.Row
	c.Assert(qres.Decode(&rows), qt.IsNil)
	c.Assert(rows, qt.DeepEquals, []apitest.Row{apitest.Rows[0], apitest.Rows[2]})

	f.signer.mu.Lock()
	c.Assert(f.signer.last.Mode, qt.Equals, auth.ModeSessionKey, qt.Commentf("queries never sign with the password"))
	c.Assert(f.signer.last.Password, qt.Equals, "")
	f.signer.mu.Unlock()

	c.Assert(f.server.Hits(SaltPath), qt.Equals, 2, qt.Commentf("one salt per signed request"))
	c.Assert(f.native.Live(), qt.Equals, 0)
}

func TestLoginEnvelope(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	var loginBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case SaltPath:
			_, _ = w.Write([]byte(`{"salt":"abc","salt_id":"s1"}`))
		case LoginPath:
			loginBody, _ = io.ReadAll(req.Body)
			_, _ = w.Write([]byte(`{"status":"ok","user":"alice","key_b64":"c2Vzc2lvbg=="}`))
		default:
			http.NotFound(w, req)
		}
	}))
	defer srv.Close()

	mockClock := clock.NewMock()
	mockClock.Set(time.Unix(1700000000, 0))
	store := session.NewStore()
	sign := &countingSigner{sig: "deadbeef"}
	cl := NewClient(client.New(&client.Config{Host: srv.URL, Clock: mockClock, Logger: zerolog.Nop()}), sign, store)

	_, err := cl.Login(context.Background(), "alice", "pw1")
	c.Assert(err, qt.IsNil)

	req := sign.last
	c.Assert(req.Method, qt.Equals, "POST")
	c.Assert(req.Path, qt.Equals, "/api/login")
	c.Assert(req.Salt, qt.Equals, "abc")
	c.Assert(req.Timestamp, qt.Equals, int64(1700000000))
	c.Assert(req.Password, qt.Equals, "pw1")
	c.Assert(req.AppSalt, qt.Equals, "static-salt")
	c.Assert(req.Params, qt.HasLen, 0)

	var sent map[string]any
	c.Assert(json.Unmarshal(loginBody, &sent), qt.IsNil)
	c.Assert(sent, qt.DeepEquals, map[string]any{
		"username":  "alice",
		"sig":       "deadbeef",
		"salt_id":   "s1",
		"timestamp": float64(1700000000),
		"nonce":     req.Nonce,
	})

	key, ok := store.Get()
	c.Assert(ok, qt.IsTrue)
	c.Assert(string(key), qt.Equals, "session")
}

// badKeyEngine answers every session key signing call with an engine error.
type badKeyEngine struct {
	*engine.Native
}

func (e badKeyEngine) Instance(context.Context) (engine.Instance, error) { return e, nil }

func (e badKeyEngine) Invoke(ctx context.Context, entry engine.Entrypoint, offset, length uint32) (uint32, uint32, error) {
	outOffset, outLength, err := e.Native.Invoke(ctx, entry, offset, length)
	if err != nil || entry != engine.SignWithKey {
		return outOffset, outLength, err
	}
	if err := e.Native.Dealloc(ctx, outOffset, outLength); err != nil {
		return 0, 0, err
	}
	out := []byte(`{"sig":null,"error":"bad key"}`)
	if outOffset, err = e.Native.Alloc(ctx, uint32(len(out))); err != nil {
		return 0, 0, err
	}
	e.Native.Memory().Write(outOffset, out)
	return outOffset, uint32(len(out)), nil
}

func TestQuerySigningFailure(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()

	_, err := f.client.Login(ctx, "alice", "pw1")
	c.Assert(err, qt.IsNil)

	bad := badKeyEngine{f.native}
	f.signer.next = signer.New(bad, zerolog.Nop())

	_, err = f.client.Query(ctx, nil)
	c.Assert(errors.Is(err, auth.ErrSigningFailure), qt.IsTrue, qt.Commentf("got %v", err))
	c.Assert(err, qt.ErrorMatches, "query failed: signature generation failed")

	var opErr *OperationError
	c.Assert(errors.As(err, &opErr), qt.IsTrue)
	c.Assert(opErr.State, qt.Equals, StateSigning)
	c.Assert(f.server.Hits(QueryPath), qt.Equals, 0, qt.Commentf("nothing may be sent after a signing failure"))
	c.Assert(f.native.Live(), qt.Equals, 0)
}

func TestSaltFailureShortCircuits(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	f := newFixture(c)

	f.server.FailSalt(http.StatusInternalServerError)
	_, err := f.client.Login(context.Background(), "alice", "pw1")

	var opErr *OperationError
	c.Assert(errors.As(err, &opErr), qt.IsTrue)
	c.Assert(opErr.State, qt.Equals, StateFetchingSalt)
	c.Assert(errors.Is(err, auth.ErrNetwork), qt.IsTrue)

	var netErr *auth.NetworkError
	c.Assert(errors.As(err, &netErr), qt.IsTrue)
	c.Assert(netErr.StatusCode, qt.Equals, http.StatusInternalServerError)

	c.Assert(atomic.LoadInt32(&f.signer.calls), qt.Equals, int32(0))
	c.Assert(f.server.Hits(LoginPath), qt.Equals, 0)
	c.Assert(f.client.Authenticated(), qt.IsFalse)
}

func TestQueryWithoutSession(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	f := newFixture(c)

	c.Assert(f.client.Authenticated(), qt.IsFalse)

	_, err := f.client.Query(context.Background(), nil)
	c.Assert(errors.Is(err, auth.ErrNotAuthenticated), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, "query failed: not logged in or session expired")
	c.Assert(atomic.LoadInt32(&f.signer.calls), qt.Equals, int32(0))
	c.Assert(f.server.Hits(SaltPath), qt.Equals, 0)
}

func TestLoginRejected(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()

	_, err := f.client.Login(ctx, "alice", "wrong")
	var appErr *auth.ApplicationError
	c.Assert(errors.As(err, &appErr), qt.IsTrue, qt.Commentf("got %v", err))
	c.Assert(appErr.Message, qt.Equals, "sig_mismatch")
	c.Assert(err, qt.ErrorMatches, "login failed: sig_mismatch")
	c.Assert(f.client.Authenticated(), qt.IsFalse)

	_, err = f.client.Login(ctx, "mallory", "pw1")
	c.Assert(errors.As(err, &appErr), qt.IsTrue)
	c.Assert(appErr.Message, qt.Equals, "user_not_found")
}

func TestSessionRestoreAndInvalidation(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()

	_, err := f.client.Login(ctx, "alice", "pw1")
	c.Assert(err, qt.IsNil)

	// A second client sharing the cookie jar picks up the session.
	restored := f.newClient(session.NewStore())
	res, err := restored.CheckSession(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Active, qt.IsTrue)
	c.Assert(res.User, qt.Equals, "alice")

	_, err = restored.Query(ctx, nil)
	c.Assert(err, qt.IsNil)

	f.server.DropSessions()
	_, err = restored.Query(ctx, nil)
	c.Assert(errors.Is(err, auth.ErrNetwork), qt.IsTrue)
	c.Assert(restored.Authenticated(), qt.IsFalse, qt.Commentf("a 401 clears the session key"))

	res, err = f.client.CheckSession(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Active, qt.IsFalse)
	c.Assert(f.client.Authenticated(), qt.IsFalse)
}

func TestQueryUnauthorizedKeepsNewerKey(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()

	store := session.NewStore()
	cl := f.newClient(store)
	_, err := cl.Login(ctx, "alice", "pw1")
	c.Assert(err, qt.IsNil)
	f.server.DropSessions()

	// A login that lands while the query is in flight replaces the key.
	newer := auth.SessionKey("a key from a later login")
	cl.Observe(func(op string, s State) {
		if op == "query" && s == StateSending {
			store.Set(newer)
		}
	})
	_, err = cl.Query(ctx, nil)
	c.Assert(errors.Is(err, auth.ErrNetwork), qt.IsTrue)

	got, ok := store.Get()
	c.Assert(ok, qt.IsTrue)
	c.Assert(string(got), qt.Equals, string(newer))
}

func TestLogout(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()

	_, err := f.client.Login(ctx, "alice", "pw1")
	c.Assert(err, qt.IsNil)
	c.Assert(f.client.Authenticated(), qt.IsTrue)

	f.client.Logout()
	c.Assert(f.client.Authenticated(), qt.IsFalse)
	_, err = f.client.Query(ctx, nil)
	c.Assert(errors.Is(err, auth.ErrNotAuthenticated), qt.IsTrue)
}

func TestConcurrentLoginAndQuery(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()

	_, err := f.client.Login(ctx, "alice", "pw1")
	c.Assert(err, qt.IsNil)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := f.client.Query(ctx, map[string]string{"status": "active"}); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			// Own cookie jar, so the query's session cookie is left alone.
			other := NewClient(client.New(&client.Config{Host: f.server.URL, Clock: clock.New(), Logger: zerolog.Nop()}), f.signer, session.NewStore())
			if _, err := other.Login(ctx, "alice", "pw1"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		c.Check(err, qt.IsNil)
	}
	c.Assert(f.native.Live(), qt.Equals, 0)
}

func TestOperationErrorMessages(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	tests := []struct {
		err  *OperationError
		want string
	}{
		{&OperationError{Op: "query", State: StateUnstarted, Err: auth.ErrNotAuthenticated}, "not logged in or session expired"},
		{&OperationError{Op: "login", State: StateFetchingSalt, Err: &auth.NetworkError{}}, "unable to obtain salt"},
		{&OperationError{Op: "login", State: StateBuilding, Err: auth.ErrInvalidRequest}, "invalid request"},
		{&OperationError{Op: "login", State: StateSigning, Err: &auth.SigningError{Reason: "secret detail"}}, "signature generation failed"},
		{&OperationError{Op: "login", State: StateSigning, Err: auth.ErrEngineUnavailable}, "signature generation failed"},
		{&OperationError{Op: "query", State: StateSending, Err: &auth.ApplicationError{Status: "fail"}}, "request rejected by server"},
		{&OperationError{Op: "login", State: StateSending, Err: auth.ErrMarshal}, "invalid server response"},
		{&OperationError{Op: "query", State: StateSending, Err: &auth.NetworkError{StatusCode: 502}}, "request failed"},
	}
	for _, tt := range tests {
		c.Check(tt.err.Message(), qt.Equals, tt.want)
	}
	c.Assert(StateFetchingSalt.String(), qt.Equals, "FETCHING_SALT")
}
