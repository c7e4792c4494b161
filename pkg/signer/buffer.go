package signer

import (
	"context"
	"errors"
	"fmt"

	"go.sigreq.dev/client-sdk/pkg/engine"
)

// buffer is a region of engine memory owned by the bridge. The engine trusts
// the caller to hand back the exact length on release, so it is kept here.
type buffer struct {
	inst   engine.Instance
	offset uint32
	length uint32
}

// write copies v into the buffer through a freshly resolved memory view.
func (b *buffer) write(v []byte) error {
	if uint32(len(v)) != b.length {
		return fmt.Errorf("write of %d bytes into buffer of %d", len(v), b.length)
	}
	if !b.inst.Memory().Write(b.offset, v) {
		return fmt.Errorf("%w: write [%d, +%d)", engine.ErrOutOfBounds, b.offset, b.length)
	}
	return nil
}

// read returns a copy of the buffer through a freshly resolved memory view.
func (b *buffer) read() ([]byte, error) {
	v, ok := b.inst.Memory().Read(b.offset, b.length)
	if !ok {
		return nil, fmt.Errorf("%w: read [%d, +%d)", engine.ErrOutOfBounds, b.offset, b.length)
	}
	return append([]byte(nil), v...), nil
}

// scope tracks every buffer taken during one bridge call and releases
// them, in the order they were taken, when the call ends.
type scope struct {
	ctx  context.Context
	inst engine.Instance
	bufs []*buffer
}

func newScope(ctx context.Context, inst engine.Instance) *scope {
	return &scope{ctx: ctx, inst: inst}
}

// alloc asks the engine for a new buffer of length bytes.
func (s *scope) alloc(length uint32) (*buffer, error) {
	offset, err := s.inst.Alloc(s.ctx, length)
	if err != nil {
		return nil, err
	}
	return s.adopt(offset, length), nil
}

// adopt takes ownership of a buffer the engine allocated itself.
func (s *scope) adopt(offset, length uint32) *buffer {
	b := &buffer{inst: s.inst, offset: offset, length: length}
	s.bufs = append(s.bufs, b)
	return b
}

// release deallocates every buffer, continuing past failures.
func (s *scope) release() error {
	var errs []error
	for _, b := range s.bufs {
		if err := s.inst.Dealloc(s.ctx, b.offset, b.length); err != nil {
			errs = append(errs, err)
		}
	}
	s.bufs = nil
	return errors.Join(errs...)
}
