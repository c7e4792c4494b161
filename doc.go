// Package sigreq is a client SDK for APIs that authenticate every request
// with a signature instead of a password or bearer token.
//
// Each request is signed over its method, path and params together with
// freshness material: a single-use salt issued by the server, a random nonce
// and a timestamp. Login requests are signed with the user's password, every
// later request with the session key the server issues at login. Neither the
// password nor the key is ever sent.
//
// The signature itself is computed by a signing engine behind a small
// memory-level ABI, usually a compiled WebAssembly module.
//
// # Overview of Packages
//
//   - sigreq - The main SDK package, wires the components below
//   - api - Login, query and session operations
//   - pkg/auth - Signable requests, freshness material and errors
//   - pkg/signer - The bridge into the signing engine
//   - pkg/engine - Signing engine implementations
//   - pkg/session - The session key store
package sigreq
