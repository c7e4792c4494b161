package engine

import (
	"context"
	"errors"
)

// Entrypoint names an exported signing function of the engine.
type Entrypoint string

const (
	SignWithPassword Entrypoint = "sign_with_password"
	SignWithKey      Entrypoint = "sign_with_key"
	DeriveKey        Entrypoint = "derive_key_json"
	// Version ignores its input.
	Version Entrypoint = "wasm_version"
)

var (
	ErrEntrypointMissing = errors.New("entrypoint not exported by engine")
	ErrOutOfBounds       = errors.New("access outside of engine memory")
	ErrInvalidDealloc    = errors.New("dealloc does not match a live allocation")
	ErrConcurrentAccess  = errors.New("concurrent engine access")
	ErrClosed            = errors.New("engine closed")
)

// Memory is a view of the engine's linear memory.
//
// A view may be invalidated by any call into the engine that grows the
// memory, so callers must resolve a fresh view with [Instance.Memory]
// immediately before every access.
type Memory interface {
	// Read returns byteCount bytes starting at offset. The returned slice
	// may alias engine memory.
	Read(offset, byteCount uint32) ([]byte, bool)
	// Write copies v into memory starting at offset.
	Write(offset uint32, v []byte) bool
}

// Instance is a loaded signing engine.
//
// An instance is single threaded: callers must not interleave calls from
// different goroutines.
type Instance interface {
	// Alloc reserves length bytes and returns their offset.
	Alloc(ctx context.Context, length uint32) (uint32, error)
	// Dealloc releases a buffer. offset and length must be exactly the
	// values of the matching Alloc.
	Dealloc(ctx context.Context, offset, length uint32) error
	// Invoke calls entry with the input buffer and returns the output
	// buffer, whose length is queried with result_len straight after the
	// call. The output buffer is owned by the caller.
	Invoke(ctx context.Context, entry Entrypoint, offset, length uint32) (outOffset, outLength uint32, err error)
	// Memory resolves the current view of linear memory.
	Memory() Memory
	Close(ctx context.Context) error
}

// Provider hands out the engine instance, loading it on first use.
type Provider interface {
	Instance(ctx context.Context) (Instance, error)
}
