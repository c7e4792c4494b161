package engine

import "fmt"

const (
	pageSize = 64 * 1024
	// Offset zero is the null pointer, allocations start above it.
	heapBase = 8
	align    = 8
)

// linearMemory is a growable byte array with a first-fit allocator.
//
// Growing replaces the backing array, which invalidates any previously
// returned view, the same way growing a WebAssembly memory detaches the
// views a host holds on it.
type linearMemory struct {
	buf  []byte
	next uint32
	free []block
	live map[uint32]block
}

type block struct {
	offset uint32
	length uint32 // requested length
	size   uint32 // reserved size, aligned and never zero
}

func newLinearMemory(pages int) *linearMemory {
	if pages < 1 {
		pages = 1
	}
	return &linearMemory{
		buf:  make([]byte, pages*pageSize),
		next: heapBase,
		live: make(map[uint32]block),
	}
}

func (m *linearMemory) alloc(length uint32) uint32 {
	size := (length + align - 1) &^ (align - 1)
	if size == 0 {
		size = align
	}

	for i, b := range m.free {
		if b.size < size {
			continue
		}
		m.free = append(m.free[:i], m.free[i+1:]...)
		if rest := b.size - size; rest > 0 {
			m.free = append(m.free, block{offset: b.offset + size, size: rest})
		}
		m.live[b.offset] = block{offset: b.offset, length: length, size: size}
		return b.offset
	}

	offset := m.next
	m.grow(offset + size)
	m.next += size
	m.live[offset] = block{offset: offset, length: length, size: size}
	return offset
}

func (m *linearMemory) dealloc(offset, length uint32) error {
	b, ok := m.live[offset]
	if !ok {
		return fmt.Errorf("%w: no allocation at offset %d", ErrInvalidDealloc, offset)
	}
	if b.length != length {
		return fmt.Errorf("%w: offset %d was allocated with length %d, released with %d", ErrInvalidDealloc, offset, b.length, length)
	}
	delete(m.live, offset)

	// Scrub released memory so secrets do not linger in the heap.
	end := b.offset + b.size
	for i := b.offset; i < end; i++ {
		m.buf[i] = 0
	}

	if end == m.next {
		m.next = b.offset
		return nil
	}
	m.free = append(m.free, block{offset: b.offset, size: b.size})
	return nil
}

// grow makes sure the memory holds at least size bytes, growing it by whole
// pages.
func (m *linearMemory) grow(size uint32) {
	if uint64(size) <= uint64(len(m.buf)) {
		return
	}
	pages := (uint64(size) + pageSize - 1) / pageSize
	grown := make([]byte, pages*pageSize)
	copy(grown, m.buf)
	m.buf = grown
}

func (m *linearMemory) liveCount() int { return len(m.live) }

// view is a snapshot of the backing array; it goes stale on growth.
type view []byte

func (v view) Read(offset, byteCount uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(v)) {
		return nil, false
	}
	return v[offset:end], true
}

func (v view) Write(offset uint32, val []byte) bool {
	end := uint64(offset) + uint64(len(val))
	if end > uint64(len(v)) {
		return false
	}
	copy(v[offset:], val)
	return true
}
