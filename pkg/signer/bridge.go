package signer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"go.sigreq.dev/client-sdk/pkg/auth"
	"go.sigreq.dev/client-sdk/pkg/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Bridge marshals requests across the boundary into the signing engine.
//
// The engine is single instance and its linear memory is shared mutable
// state. The whole alloc/write/invoke/read/dealloc sequence runs under the
// instance's lock from [engine.Lock], so every Bridge over the same instance
// takes turns.
type Bridge struct {
	provider engine.Provider
	logger   zerolog.Logger
}

func New(provider engine.Provider, logger zerolog.Logger) *Bridge {
	return &Bridge{provider: provider, logger: logger}
}

// Sign returns the signature of req as computed by the engine.
//
// The entrypoint is chosen from the request mode. An engine that reports
// an error yields a *auth.SigningError.
func (b *Bridge) Sign(ctx context.Context, req *auth.SignableRequest) (string, error) {
	var entry engine.Entrypoint
	switch req.Mode {
	case auth.ModePassword:
		entry = engine.SignWithPassword
	case auth.ModeSessionKey:
		entry = engine.SignWithKey
	default:
		return "", fmt.Errorf("%w: unknown signing mode", auth.ErrInvalidRequest)
	}

	out, err := b.call(ctx, entry, req.DeterministicBytes())
	if err != nil {
		return "", err
	}

	var res struct {
		Sig   *string `json:"sig"`
		Error *string `json:"error"`
	}
	if err := decode(out, &res); err != nil {
		return "", err
	}
	switch {
	case res.Sig != nil && res.Error != nil:
		return "", fmt.Errorf("%w: result carries both sig and error", auth.ErrMarshal)
	case res.Error != nil:
		return "", &auth.SigningError{Reason: *res.Error}
	case res.Sig == nil || *res.Sig == "":
		return "", fmt.Errorf("%w: result carries neither sig nor error", auth.ErrMarshal)
	}
	return *res.Sig, nil
}

// DeriveKey asks the engine to derive the password key, the key the
// server holds for the user.
func (b *Bridge) DeriveKey(ctx context.Context, password, appSalt string) (auth.SessionKey, error) {
	in, err := json.Marshal(map[string]string{"password": password, "app_salt": appSalt})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrMarshal, err)
	}

	out, err := b.call(ctx, engine.DeriveKey, in)
	if err != nil {
		return nil, err
	}

	var res struct {
		KeyBase64 *string `json:"key_base64"`
		Error     *string `json:"error"`
	}
	if err := decode(out, &res); err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, &auth.SigningError{Reason: *res.Error}
	}
	if res.KeyBase64 == nil {
		return nil, fmt.Errorf("%w: result carries neither key nor error", auth.ErrMarshal)
	}
	return auth.ParseSessionKey(*res.KeyBase64)
}

// Version returns the version reported by the engine.
func (b *Bridge) Version(ctx context.Context) (string, error) {
	out, err := b.call(ctx, engine.Version, nil)
	if err != nil {
		return "", err
	}
	var res struct {
		Version string `json:"version"`
	}
	if err := decode(out, &res); err != nil {
		return "", err
	}
	return res.Version, nil
}

// call runs input through entry and returns a copy of the engine's output.
func (b *Bridge) call(ctx context.Context, entry engine.Entrypoint, input []byte) (out []byte, err error) {
	inst, err := b.provider.Instance(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrEngineUnavailable, err)
	}
	if uint64(len(input)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: input of %d bytes exceeds engine address space", auth.ErrMarshal, len(input))
	}

	mu := engine.Lock(inst)
	mu.Lock()
	defer mu.Unlock()

	s := newScope(ctx, inst)
	defer func() {
		if cerr := s.release(); cerr != nil {
			b.logger.Err(cerr).Str("entrypoint", string(entry)).Msg("unable to release engine buffers")
			if err == nil {
				out, err = nil, fmt.Errorf("%w: %v", auth.ErrMarshal, cerr)
			}
		}
	}()

	in, err := s.alloc(uint32(len(input)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrMarshal, err)
	}
	if err := in.write(input); err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrMarshal, err)
	}

	outOffset, outLength, err := inst.Invoke(ctx, entry, in.offset, in.length)
	if err != nil {
		if errors.Is(err, engine.ErrEntrypointMissing) {
			return nil, fmt.Errorf("%w: %v", auth.ErrEngineUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrMarshal, err)
	}
	result := s.adopt(outOffset, outLength)

	out, err = result.read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrMarshal, err)
	}
	return out, nil
}

func decode(out []byte, v any) error {
	if !utf8.Valid(out) {
		return fmt.Errorf("%w: engine output is not valid UTF-8", auth.ErrMarshal)
	}
	if err := json.Unmarshal(out, v); err != nil {
		return fmt.Errorf("%w: unable to parse engine output: %v", auth.ErrMarshal, err)
	}
	return nil
}
