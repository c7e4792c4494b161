// Package wasmtest assembles small WebAssembly signing modules for tests.
//
// A module exports memory, a bump allocator as alloc (every buffer, even an
// empty one, gets a distinct offset), dealloc, result_len,
// sign_with_key and a zero argument wasm_version. sign_with_key and
// wasm_version copy a fixed output into a freshly allocated buffer. The
// exported global "live" counts buffers allocated and not yet released.
package wasmtest

import "fmt"

// Options configures a module.
type Options struct {
	// Sign is written by sign_with_key.
	Sign string
	// Version is written by wasm_version.
	Version string
	// TrapResultLen makes result_len hit an unreachable instruction.
	TrapResultLen bool
}

const (
	signData    = 0
	versionData = 512
	heapBase    = 1024
)

// Module returns the binary encoding of a module configured by opts.
func Module(opts Options) []byte {
	if len(opts.Sign) > versionData-signData || len(opts.Version) > heapBase-versionData {
		panic(fmt.Sprintf("wasmtest: outputs must fit below offset %d", heapBase))
	}

	const (
		i32     = 0x7f
		funcTyp = 0x60
	)
	types := vec(
		[]byte{funcTyp, 1, i32, 1, i32},      // 0: (i32) -> i32
		[]byte{funcTyp, 2, i32, i32, 0},      // 1: (i32, i32)
		[]byte{funcTyp, 0, 1, i32},           // 2: () -> i32
		[]byte{funcTyp, 2, i32, i32, 1, i32}, // 3: (i32, i32) -> i32
	)
	funcs := vec([]byte{0}, []byte{1}, []byte{2}, []byte{3}, []byte{2})
	memory := vec([]byte{0x00, 1}) // min one page

	// globals: 0 heap, 1 len, 2 live
	global := func(init int32) []byte {
		return cat([]byte{i32, 1}, i32Const(init), []byte{end})
	}
	globals := vec(global(heapBase), global(0), global(0))

	exports := vec(
		export("memory", 0x02, 0),
		export("alloc", 0x00, 0),
		export("dealloc", 0x00, 1),
		export("result_len", 0x00, 2),
		export("sign_with_key", 0x00, 3),
		export("wasm_version", 0x00, 4),
		export("live", 0x03, 2),
	)

	alloc := body(nil,
		globalGet(0),
		globalGet(0), localGet(0), []byte{i32Add}, i32Const(8), []byte{i32Add}, globalSet(0),
		globalGet(2), i32Const(1), []byte{i32Add}, globalSet(2),
	)
	dealloc := body(nil,
		globalGet(2), i32Const(1), []byte{i32Sub}, globalSet(2),
	)
	resultLen := body(nil, globalGet(1))
	if opts.TrapResultLen {
		resultLen = body(nil, []byte{unreachable})
	}
	// The copy target is kept in the first local after the params.
	sign := body([]byte{1, 1, i32}, output(2, signData, len(opts.Sign))...)
	version := body([]byte{1, 1, i32}, output(0, versionData, len(opts.Version))...)
	code := vec(alloc, dealloc, resultLen, sign, version)

	data := vec(
		cat([]byte{0}, i32Const(signData), []byte{end}, vec(bytesOf(opts.Sign)...)),
		cat([]byte{0}, i32Const(versionData), []byte{end}, vec(bytesOf(opts.Version)...)),
	)

	return cat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		section(1, types),
		section(3, funcs),
		section(5, memory),
		section(6, globals),
		section(7, exports),
		section(10, code),
		section(11, data),
	)
}

const (
	unreachable = 0x00
	end         = 0x0b
	call        = 0x10
	i32Add      = 0x6a
	i32Sub      = 0x6b
)

// output allocates n bytes, copies them from src and records n as the
// result length, leaving the buffer offset on the stack.
func output(local byte, src, n int) [][]byte {
	return [][]byte{
		// local.tee
		i32Const(int32(n)), {call, 0}, {0x22, local},
		// memory.copy
		i32Const(int32(src)), i32Const(int32(n)), {0xfc, 0x0a, 0x00, 0x00},
		i32Const(int32(n)), globalSet(1),
		localGet(local),
	}
}

func globalGet(i byte) []byte { return []byte{0x23, i} }
func globalSet(i byte) []byte { return []byte{0x24, i} }
func localGet(i byte) []byte { return []byte{0x20, i} }

func i32Const(v int32) []byte {
	return append([]byte{0x41}, sleb(v)...)
}

func export(name string, kind, index byte) []byte {
	return cat(vec(bytesOf(name)...), []byte{kind, index})
}

// body encodes a function body. locals is the encoded local declaration
// vector, or nil for none.
func body(locals []byte, instrs ...[]byte) []byte {
	decl := []byte{0}
	if locals != nil {
		decl = locals
	}
	b := cat(decl, cat(instrs...), []byte{end})
	return cat(uleb(uint32(len(b))), b)
}

func section(id byte, content []byte) []byte {
	return cat([]byte{id}, uleb(uint32(len(content))), content)
}

// vec prefixes the concatenated items with their count.
func vec(items ...[]byte) []byte {
	return cat(uleb(uint32(len(items))), cat(items...))
}

func bytesOf(s string) [][]byte {
	items := make([][]byte, len(s))
	for i := 0; i < len(s); i++ {
		items[i] = []byte{s[i]}
	}
	return items
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
