package engine

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/crypto/pbkdf2"

	"go.sigreq.dev/client-sdk/pkg/auth"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultIterations is the PBKDF2 iteration count used to derive a key
	// from the password and the app salt.
	DefaultIterations = 100_000
	keyLength         = 32

	// NativeVersion is reported by the wasm_version entrypoint.
	NativeVersion = "0.1.0"
)

// Native is an in-process signing engine implementing the same ABI as the
// compiled WebAssembly module: buffers are allocated in a linear memory that
// grows by replacing its backing array, results are written to engine owned
// buffers and their length is reported by a separate result_len call.
//
// Signatures are HMAC-SHA256 over
//
//	METHOD|path|salt|timestamp|nonce|base64(sha256(body))
//
// where body is [auth.CanonicalParams] of the request params. In password
// mode the key is PBKDF2-HMAC-SHA256(password, app_salt); in session key mode
// it is the decoded key_base64. Signature and keys are standard base64.
//
// Native does not serialise its callers. Overlapping calls are detected and
// fail with ErrConcurrentAccess.
type Native struct {
	iterations int
	mem        *linearMemory
	lastLen    uint32
	busy       atomic.Bool
	closed     atomic.Bool
}

// NativeOption configures a [Native] engine.
type NativeOption func(*Native)

// WithIterations overrides the PBKDF2 iteration count. It must match the
// server's configuration.
func WithIterations(n int) NativeOption {
	return func(e *Native) { e.iterations = n }
}

// WithInitialPages sets the initial linear memory size in 64KiB pages.
func WithInitialPages(pages int) NativeOption {
	return func(e *Native) { e.mem = newLinearMemory(pages) }
}

func NewNative(opts ...NativeOption) *Native {
	e := &Native{iterations: DefaultIterations}
	for _, opt := range opts {
		opt(e)
	}
	if e.mem == nil {
		e.mem = newLinearMemory(1)
	}
	return e
}

// Instance implements [Provider]; a native engine needs no loading.
func (e *Native) Instance(context.Context) (Instance, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return e, nil
}

func (e *Native) enter() error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrConcurrentAccess
	}
	if e.closed.Load() {
		e.busy.Store(false)
		return ErrClosed
	}
	return nil
}

func (e *Native) exit() { e.busy.Store(false) }

func (e *Native) Alloc(_ context.Context, length uint32) (uint32, error) {
	if err := e.enter(); err != nil {
		return 0, err
	}
	defer e.exit()
	return e.mem.alloc(length), nil
}

func (e *Native) Dealloc(_ context.Context, offset, length uint32) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	return e.mem.dealloc(offset, length)
}

func (e *Native) Invoke(_ context.Context, entry Entrypoint, offset, length uint32) (uint32, uint32, error) {
	if err := e.enter(); err != nil {
		return 0, 0, err
	}
	defer e.exit()

	in, ok := view(e.mem.buf).Read(offset, length)
	if !ok {
		return 0, 0, fmt.Errorf("%w: input [%d, +%d)", ErrOutOfBounds, offset, length)
	}
	input := append([]byte(nil), in...)

	var output []byte
	switch entry {
	case SignWithPassword:
		output = e.signWithPassword(input)
	case SignWithKey:
		output = e.signWithKey(input)
	case DeriveKey:
		output = e.deriveKey(input)
	case Version:
		output = []byte(`{"version":"` + NativeVersion + `"}`)
	default:
		return 0, 0, fmt.Errorf("%w: %s", ErrEntrypointMissing, entry)
	}

	outOffset := e.writeResult(output)
	return outOffset, e.resultLen(), nil
}

// writeResult copies output into a new engine buffer and records its
// length for result_len.
func (e *Native) writeResult(output []byte) uint32 {
	length := uint32(len(output))
	offset := e.mem.alloc(length)
	view(e.mem.buf).Write(offset, output)
	e.lastLen = length
	return offset
}

func (e *Native) resultLen() uint32 { return e.lastLen }

// Memory returns a view of the current backing array.
func (e *Native) Memory() Memory {
	return view(e.mem.buf)
}

// Live reports the number of buffers allocated and not yet released.
func (e *Native) Live() int {
	return e.mem.liveCount()
}

func (e *Native) Close(context.Context) error {
	e.closed.Store(true)
	forget(e)
	return nil
}

// Closed reports whether Close has been called.
func (e *Native) Closed() bool {
	return e.closed.Load()
}

type signInput struct {
	Method    *string           `json:"method"`
	Path      *string           `json:"path"`
	Params    map[string]string `json:"params"`
	Nonce     *string           `json:"nonce"`
	Salt      *string           `json:"salt"`
	Timestamp *uint64           `json:"timestamp"`
	Password  *string           `json:"password"`
	AppSalt   *string           `json:"app_salt"`
	KeyBase64 *string           `json:"key_base64"`
}

type signOutput struct {
	Sig   *string `json:"sig"`
	Error *string `json:"error"`
}

type deriveInput struct {
	Password *string `json:"password"`
	AppSalt  *string `json:"app_salt"`
}

type deriveOutput struct {
	KeyBase64 *string `json:"key_base64"`
	Error     *string `json:"error"`
}

func (e *Native) signWithPassword(input []byte) []byte {
	in, reason := parseSignInput(input)
	if reason == "" && (in.Password == nil || in.AppSalt == nil) {
		reason = "json"
	}
	if reason != "" {
		return signFailure(reason)
	}
	key := e.derive(*in.Password, *in.AppSalt)
	return signSuccess(sign(key, in))
}

func (e *Native) signWithKey(input []byte) []byte {
	in, reason := parseSignInput(input)
	if reason == "" && in.KeyBase64 == nil {
		reason = "json"
	}
	if reason != "" {
		return signFailure(reason)
	}
	key, err := base64.StdEncoding.DecodeString(*in.KeyBase64)
	if err != nil || len(key) == 0 {
		return signFailure("bad_key")
	}
	return signSuccess(sign(key, in))
}

func (e *Native) deriveKey(input []byte) []byte {
	var out deriveOutput
	var in deriveInput
	switch {
	case !utf8.Valid(input):
		out.Error = strPtr("utf8")
	case json.Unmarshal(input, &in) != nil, in.Password == nil, in.AppSalt == nil:
		out.Error = strPtr("json")
	default:
		out.KeyBase64 = strPtr(base64.StdEncoding.EncodeToString(e.derive(*in.Password, *in.AppSalt)))
	}
	b, _ := json.Marshal(&out)
	return b
}

func (e *Native) derive(password, appSalt string) []byte {
	return pbkdf2.Key([]byte(password), []byte(appSalt), e.iterations, keyLength, sha256.New)
}

func parseSignInput(input []byte) (*signInput, string) {
	if !utf8.Valid(input) {
		return nil, "utf8"
	}
	in := &signInput{}
	if err := json.Unmarshal(input, in); err != nil {
		return nil, "json"
	}
	if in.Method == nil || in.Path == nil || in.Nonce == nil || in.Salt == nil || in.Timestamp == nil {
		return nil, "json"
	}
	return in, ""
}

// sign computes the signature of the request message with key.
func sign(key []byte, in *signInput) string {
	bodyHash := sha256.Sum256(auth.CanonicalParams(in.Params))
	msg := strings.Join([]string{
		*in.Method,
		*in.Path,
		*in.Salt,
		strconv.FormatUint(*in.Timestamp, 10),
		*in.Nonce,
		base64.StdEncoding.EncodeToString(bodyHash[:]),
	}, "|")

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signSuccess(sig string) []byte {
	b, _ := json.Marshal(&signOutput{Sig: &sig})
	return b
}

func signFailure(reason string) []byte {
	b, _ := json.Marshal(&signOutput{Error: &reason})
	return b
}

func strPtr(s string) *string { return &s }
