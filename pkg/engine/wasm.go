package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Wasm is a signing engine compiled to WebAssembly and run with wazero.
//
// The module must export memory, alloc, dealloc, result_len and the signing
// entrypoints. It must not import anything.
type Wasm struct {
	runtime   wazero.Runtime
	module    api.Module
	alloc     api.Function
	dealloc   api.Function
	resultLen api.Function
	closed    atomic.Bool
}

// NewWasm compiles and instantiates source.
func NewWasm(ctx context.Context, source []byte) (*Wasm, error) {
	runtime := wazero.NewRuntime(ctx)

	module, err := runtime.InstantiateWithConfig(ctx, source, wazero.NewModuleConfig().WithName("sign_wasm"))
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("unable to instantiate wasm module: %w", err)
	}

	w := &Wasm{
		runtime:   runtime,
		module:    module,
		alloc:     module.ExportedFunction("alloc"),
		dealloc:   module.ExportedFunction("dealloc"),
		resultLen: module.ExportedFunction("result_len"),
	}
	switch {
	case module.Memory() == nil:
		err = errors.New("memory")
	case w.alloc == nil:
		err = errors.New("alloc")
	case w.dealloc == nil:
		err = errors.New("dealloc")
	case w.resultLen == nil:
		err = errors.New("result_len")
	}
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("%w: %s", ErrEntrypointMissing, err)
	}

	return w, nil
}

func (w *Wasm) Alloc(ctx context.Context, length uint32) (uint32, error) {
	if w.closed.Load() {
		return 0, ErrClosed
	}
	res, err := w.alloc.Call(ctx, uint64(length))
	if err != nil {
		return 0, fmt.Errorf("alloc: %w", err)
	}
	return uint32(res[0]), nil
}

func (w *Wasm) Dealloc(ctx context.Context, offset, length uint32) error {
	if w.closed.Load() {
		// Closing released the whole memory.
		return nil
	}
	if _, err := w.dealloc.Call(ctx, uint64(offset), uint64(length)); err != nil {
		return fmt.Errorf("dealloc: %w", err)
	}
	return nil
}

// Invoke calls entry with the input buffer, or with no arguments if the
// export takes none, then queries result_len.
//
// If the entry fails after it may have allocated, or result_len cannot be
// read, the output buffer cannot be released with its exact length. The
// module is closed instead, which frees all of its memory, and a [Loader]
// opens a fresh one on the next call.
func (w *Wasm) Invoke(ctx context.Context, entry Entrypoint, offset, length uint32) (uint32, uint32, error) {
	if w.closed.Load() {
		return 0, 0, ErrClosed
	}
	fn := w.module.ExportedFunction(string(entry))
	if fn == nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrEntrypointMissing, entry)
	}

	var params []uint64
	switch n := len(fn.Definition().ParamTypes()); n {
	case 0:
	case 2:
		params = []uint64{uint64(offset), uint64(length)}
	default:
		return 0, 0, fmt.Errorf("%s: unsupported signature with %d params", entry, n)
	}
	if results := fn.Definition().ResultTypes(); len(results) != 1 {
		return 0, 0, fmt.Errorf("%s: unsupported signature with %d results", entry, len(results))
	}

	res, err := fn.Call(ctx, params...)
	if err != nil {
		w.discard(ctx)
		return 0, 0, fmt.Errorf("%s: %w", entry, err)
	}
	outOffset := uint32(res[0])

	res, err = w.resultLen.Call(ctx)
	if err != nil {
		w.discard(ctx)
		return 0, 0, fmt.Errorf("result_len: %w", err)
	}
	return outOffset, uint32(res[0]), nil
}

func (w *Wasm) Memory() Memory {
	return w.module.Memory()
}

// Closed reports whether the module has been closed, either by Close or
// after a failed call.
func (w *Wasm) Closed() bool {
	return w.closed.Load()
}

func (w *Wasm) Close(ctx context.Context) error {
	w.closed.Store(true)
	forget(w)
	return w.runtime.Close(ctx)
}

func (w *Wasm) discard(ctx context.Context) {
	_ = w.Close(ctx)
}
