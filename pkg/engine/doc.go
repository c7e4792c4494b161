// Package engine defines the boundary to the signing engine: a separately
// compiled, memory isolated module exposing a small function level ABI over a
// shared linear memory.
//
// Two engines are provided. [Wasm] runs a compiled WebAssembly signing module
// with wazero. [Native] implements the same ABI in process, including the
// growable linear memory, and is used where no compiled module is available.
package engine
