package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// OpenFunc loads a new engine instance.
type OpenFunc func(ctx context.Context) (Instance, error)

// Loader initialises an engine at most once.
//
// Instance is safe to call repeatedly and concurrently: once an engine is
// loaded it is returned straight away. A failed load is not remembered, so
// the next call tries again. An engine that has closed itself after a
// failed call is replaced by a fresh one.
type Loader struct {
	open   OpenFunc
	logger zerolog.Logger

	mu   sync.Mutex
	inst Instance
}

func NewLoader(open OpenFunc, logger zerolog.Logger) *Loader {
	return &Loader{open: open, logger: logger}
}

func (l *Loader) Instance(ctx context.Context) (Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.inst.(interface{ Closed() bool }); ok && c.Closed() {
		l.logger.Warn().Msg("signing engine closed, reloading")
		l.inst = nil
	}
	if l.inst != nil {
		return l.inst, nil
	}

	inst, err := l.open(ctx)
	if err != nil {
		l.logger.Err(err).Msg("signing engine initialization failed")
		return nil, err
	}
	l.logger.Debug().Msg("signing engine initialized")
	l.inst = inst
	return inst, nil
}

// Close releases the loaded engine, if any. A later call to Instance loads
// a new one.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inst == nil {
		return nil
	}
	err := l.inst.Close(ctx)
	l.inst = nil
	return err
}

// WasmBytes opens a [Wasm] engine from a compiled module.
func WasmBytes(source []byte) OpenFunc {
	return func(ctx context.Context) (Instance, error) {
		return NewWasm(ctx, source)
	}
}

// WasmFile opens a [Wasm] engine from a module on disk.
func WasmFile(path string) OpenFunc {
	return func(ctx context.Context) (Instance, error) {
		source, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read wasm module: %w", err)
		}
		return NewWasm(ctx, source)
	}
}

// WasmURL opens a [Wasm] engine from a module served over HTTP, as the
// browser client fetches /wasm/sign_wasm.wasm.
func WasmURL(client *http.Client, url string) OpenFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (Instance, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch wasm module: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("failed to fetch wasm module: unexpected response status %s", resp.Status)
		}

		source, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read wasm module: %w", err)
		}
		return NewWasm(ctx, source)
	}
}
