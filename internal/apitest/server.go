// Package apitest runs an in-process implementation of the salt, session,
// login and query endpoints for tests.
//
// Salts are single use and expire, nonces are remembered, timestamps must
// be within MaxSkew of the server clock and signatures are recomputed with
// a signing bridge of the server's own.
package apitest

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"go.sigreq.dev/client-sdk/api/types"
	"go.sigreq.dev/client-sdk/internal/jsonerr"
	"go.sigreq.dev/client-sdk/pkg/auth"
	"go.sigreq.dev/client-sdk/pkg/engine"
	"go.sigreq.dev/client-sdk/pkg/signer"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const sessionCookie = "session_id"

var (
	errSaltInvalid  = errors.New("salt_invalid")
	errStale        = errors.New("timestamp_out_of_range")
	errReplay       = errors.New("nonce_reused")
	errUserNotFound = errors.New("user_not_found")
	errSigMismatch  = errors.New("sig_mismatch")
	errNotLoggedIn  = errors.New("not_logged_in")
	errBadRequest   = errors.New("bad_request")
)

// Row is a record returned by the query endpoint.
type Row struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Rows is the data set served by the query endpoint.
var Rows = []Row{
	{ID: 1, Name: "Alice", Status: "active"},
	{ID: 2, Name: "Bob", Status: "inactive"},
	{ID: 3, Name: "Carol", Status: "active"},
}

// Options configures a Server.
type Options struct {
	Users   map[string]string // username -> password
	AppSalt string
	Engine  engine.Provider // must derive keys like the client's engine
	Clock   clock.Clock
	SaltTTL time.Duration
	MaxSkew time.Duration
}

type saltRecord struct {
	salt    string
	expires time.Time
}

type sessionRecord struct {
	user string
	key  auth.SessionKey
}

// Server is a running fake API.
type Server struct {
	*httptest.Server

	opts   Options
	bridge *signer.Bridge

	mu         sync.Mutex
	users      map[string]auth.SessionKey
	salts      map[string]saltRecord
	nonces     map[string]struct{}
	sessions   map[string]sessionRecord
	hits       map[string]int
	saltStatus int
}

// New starts a server. The caller must Close it.
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Engine == nil {
		opts.Engine = engine.NewNative()
	}
	if opts.SaltTTL == 0 {
		opts.SaltTTL = time.Minute
	}
	if opts.MaxSkew == 0 {
		opts.MaxSkew = 5 * time.Minute
	}

	s := &Server{
		opts:     opts,
		bridge:   signer.New(opts.Engine, zerolog.Nop()),
		users:    make(map[string]auth.SessionKey),
		salts:    make(map[string]saltRecord),
		nonces:   make(map[string]struct{}),
		sessions: make(map[string]sessionRecord),
		hits:     make(map[string]int),
	}
	for user, password := range opts.Users {
		key, err := s.bridge.DeriveKey(ctx, password, opts.AppSalt)
		if err != nil {
			return nil, err
		}
		s.users[user] = key
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/salt", s.count(http.MethodGet, s.handleSalt))
	mux.HandleFunc("/api/session", s.count(http.MethodGet, s.handleSession))
	mux.HandleFunc("/api/login", s.count(http.MethodPost, s.handleLogin))
	mux.HandleFunc("/api/query", s.count(http.MethodPost, s.handleQuery))
	s.Server = httptest.NewServer(mux)
	return s, nil
}

// Hits returns how many requests path has received.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// FailSalt makes the salt endpoint answer with status code, or behave
// normally again if code is zero.
func (s *Server) FailSalt(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saltStatus = code
}

// DropSessions invalidates every session.
func (s *Server) DropSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]sessionRecord)
}

func (s *Server) count(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		s.mu.Lock()
		s.hits[req.URL.Path]++
		s.mu.Unlock()

		if req.Method != method {
			jsonerr.Error(w, errBadRequest, http.StatusMethodNotAllowed)
			return
		}
		next(w, req)
	}
}

func (s *Server) handleSalt(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saltStatus != 0 {
		jsonerr.Error(w, errors.New("salt_unavailable"), s.saltStatus)
		return
	}

	raw := make([]byte, 24)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		jsonerr.Error(w, err, http.StatusInternalServerError)
		return
	}
	id := uuid.NewString()
	salt := base64.StdEncoding.EncodeToString(raw)
	s.salts[id] = saltRecord{salt: salt, expires: s.opts.Clock.Now().Add(s.opts.SaltTTL)}

	jsonerr.Write(w, http.StatusOK, &types.SaltResponse{
		Salt:      salt,
		SaltID:    id,
		ExpiresIn: int(s.opts.SaltTTL / time.Second),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, req *http.Request) {
	sess, ok := s.session(req)
	if !ok {
		jsonerr.Write(w, http.StatusOK, &types.SessionResponse{Status: jsonerr.StatusFail})
		return
	}
	key := sess.key.Base64()
	jsonerr.Write(w, http.StatusOK, &types.SessionResponse{Status: types.StatusOK, User: &sess.user, KeyB64: &key})
}

func (s *Server) handleLogin(w http.ResponseWriter, req *http.Request) {
	env, err := decodeEnvelope(req)
	if err != nil {
		jsonerr.Error(w, errBadRequest, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	userKey, found := s.users[env.Username]
	s.mu.Unlock()

	if err := s.verify(req.Context(), req.URL.Path, env, userKey, found); err != nil {
		jsonerr.Error(w, err, http.StatusOK)
		return
	}

	sessionKey := make(auth.SessionKey, 32)
	if _, err := io.ReadFull(rand.Reader, sessionKey); err != nil {
		jsonerr.Error(w, err, http.StatusInternalServerError)
		return
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = sessionRecord{user: env.Username, key: sessionKey}
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: id, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})
	jsonerr.Write(w, http.StatusOK, &types.LoginResponse{Status: types.StatusOK, User: env.Username, KeyB64: sessionKey.Base64()})
}

func (s *Server) handleQuery(w http.ResponseWriter, req *http.Request) {
	sess, ok := s.session(req)
	if !ok {
		jsonerr.Error(w, errNotLoggedIn, http.StatusUnauthorized)
		return
	}
	env, err := decodeEnvelope(req)
	if err != nil {
		jsonerr.Error(w, errBadRequest, http.StatusBadRequest)
		return
	}
	if err := s.verify(req.Context(), req.URL.Path, env, sess.key, true); err != nil {
		jsonerr.Error(w, err, http.StatusOK)
		return
	}

	rows := make([]Row, 0, len(Rows))
	for _, r := range Rows {
		if status, ok := env.Params["status"]; ok && r.Status != status {
			continue
		}
		rows = append(rows, r)
	}
	data, _ := json.Marshal(rows)
	jsonerr.Write(w, http.StatusOK, &types.QueryResponse{Status: types.StatusOK, Data: data})
}

// verify consumes the salt of env and checks its freshness and signature
// against key.
func (s *Server) verify(ctx context.Context, path string, env *auth.Envelope, key auth.SessionKey, found bool) error {
	s.mu.Lock()
	salt, ok := s.salts[env.SaltID]
	delete(s.salts, env.SaltID)
	now := s.opts.Clock.Now()
	_, replayed := s.nonces[env.Nonce]
	s.nonces[env.Nonce] = struct{}{}
	s.mu.Unlock()

	switch {
	case !ok || now.After(salt.expires):
		return errSaltInvalid
	case replayed:
		return errReplay
	}
	skew := now.Sub(time.Unix(env.Timestamp, 0))
	if skew < -s.opts.MaxSkew || skew > s.opts.MaxSkew {
		return errStale
	}
	if !found {
		return errUserNotFound
	}

	signable, err := auth.Build(
		auth.RequestDescriptor{Method: http.MethodPost, Path: path, Params: env.Params},
		auth.SaltTicket{Salt: salt.salt, SaltID: env.SaltID}, env.Nonce, env.Timestamp,
		auth.SigningMaterial{SessionKey: key},
	)
	if err != nil {
		return errBadRequest
	}
	expected, err := s.bridge.Sign(ctx, signable)
	if err != nil {
		return err
	}
	if !env.SigEqual(expected) {
		return errSigMismatch
	}
	return nil
}

func (s *Server) session(req *http.Request) (sessionRecord, bool) {
	cookie, err := req.Cookie(sessionCookie)
	if err != nil {
		return sessionRecord{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[cookie.Value]
	return sess, ok
}

func decodeEnvelope(req *http.Request) (*auth.Envelope, error) {
	env := &auth.Envelope{}
	if err := json.NewDecoder(io.LimitReader(req.Body, 1<<20)).Decode(env); err != nil {
		return nil, err
	}
	return env, nil
}
