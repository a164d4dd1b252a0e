// Package codebuf provides growable buffers of executable memory for
// generated machine code.
package codebuf

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// DefaultIncrement is the initial size of a buffer and the amount it grows
// by whenever a write would overflow it.
const DefaultIncrement = 10 * 1024

// Buffer is an append-only region of executable memory with backward
// patching. It is owned by a single compiler until Finalize; afterwards it is
// read-only and may be executed concurrently.
//
// Append errors are sticky: once growth fails every later Append is dropped
// and Err reports the failure.
type Buffer struct {
	mem       []byte
	n         int
	increment int
	err       error
	final     bool
}

// New maps a buffer of increment bytes. A non-positive increment selects
// DefaultIncrement.
func New(increment int) (*Buffer, error) {
	if increment <= 0 {
		increment = DefaultIncrement
	}
	mem, err := mapExec(increment)
	if err != nil {
		return nil, fmt.Errorf("failed to map executable memory: %w", err)
	}
	return &Buffer{mem: mem, increment: increment}, nil
}

// Append writes p at the cursor, growing the mapping if needed.
func (b *Buffer) Append(p []byte) {
	if b.final {
		panic("codebuf: append to finalized buffer")
	}
	if b.err != nil {
		return
	}
	if b.n+len(p) > len(b.mem) {
		if err := b.grow(b.n + len(p)); err != nil {
			b.err = err
			return
		}
	}
	b.n += copy(b.mem[b.n:], p)
}

// grow replaces the mapping with one at least need bytes long, rounded up to
// a whole number of increments, and copies the written bytes across.
func (b *Buffer) grow(need int) error {
	size := len(b.mem)
	for size < need {
		size += b.increment
	}
	mem, err := mapExec(size)
	if err != nil {
		return fmt.Errorf("failed to grow code buffer to %d bytes: %w", size, err)
	}
	copy(mem, b.mem[:b.n])
	if err := unmap(b.mem); err != nil {
		unmap(mem)
		return fmt.Errorf("failed to release old code buffer: %w", err)
	}
	b.mem = mem
	return nil
}

// Patch overwrites already written bytes at off.
func (b *Buffer) Patch(off int, p []byte) {
	if b.final {
		panic("codebuf: patch of finalized buffer")
	}
	if off < 0 || off+len(p) > b.n {
		panic(fmt.Sprintf("codebuf: patch [%d, %d) beyond cursor %d", off, off+len(p), b.n))
	}
	copy(b.mem[off:], p)
}

// PatchUint32 overwrites a little-endian uint32 at off.
func (b *Buffer) PatchUint32(off int, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.Patch(off, tmp[:])
}

// PatchUint64 overwrites a little-endian uint64 at off.
func (b *Buffer) PatchUint64(off int, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.Patch(off, tmp[:])
}

// Bytes returns the written part of the buffer. The slice aliases the
// executable mapping.
func (b *Buffer) Bytes() []byte {
	return b.mem[:b.n]
}

// Len returns the cursor position.
func (b *Buffer) Len() int {
	return b.n
}

// Cap returns the size of the current mapping.
func (b *Buffer) Cap() int {
	return len(b.mem)
}

// Addr returns the address of the first byte. It changes when the buffer
// grows, so callers must only rely on it after Finalize.
func (b *Buffer) Addr() uintptr {
	if len(b.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b.mem[0]))
}

// Err returns the first growth failure, if any.
func (b *Buffer) Err() error {
	return b.err
}

// Finalized reports whether Finalize has been called.
func (b *Buffer) Finalized() bool {
	return b.final
}

// Finalize ends construction and drops write access to the mapping.
func (b *Buffer) Finalize() error {
	if b.err != nil {
		return b.err
	}
	if b.final {
		return nil
	}
	if err := protectExec(b.mem); err != nil {
		return fmt.Errorf("failed to protect code buffer: %w", err)
	}
	b.final = true
	return nil
}

// Free releases the mapping. The buffer must not be executed afterwards.
func (b *Buffer) Free() error {
	if b.mem == nil {
		return nil
	}
	err := unmap(b.mem)
	b.mem = nil
	b.n = 0
	return err
}
