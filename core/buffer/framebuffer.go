// File: core/buffer/framebuffer.go
// Package buffer implements the per-socket byte accumulator used for framing.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// FrameBuffer keeps separate read and write cursors over one growable slice.
// Invariant: 0 <= rpos <= wpos <= len(data).

package buffer

import (
	"encoding/binary"
	"errors"
)

// DefaultCapacity is the initial backing size of a FrameBuffer.
const DefaultCapacity = 4 * 1024

var (
	// ErrShortBuffer is returned when more bytes are requested than are unread.
	ErrShortBuffer = errors.New("buffer: not enough unread bytes")
	// ErrInvalidPosition is returned by SetReadPos for a cursor outside [0, write].
	ErrInvalidPosition = errors.New("buffer: read position out of range")
)

// FrameBuffer is a growable byte accumulator with a read and a write cursor.
// It is not safe for concurrent use; the event loop owns every instance.
type FrameBuffer struct {
	data []byte
	rpos int
	wpos int
}

// NewFrameBuffer allocates a buffer with the given initial capacity.
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &FrameBuffer{data: make([]byte, capacity)}
}

// Write appends p and always reports len(p) bytes written.
// Growth is unbounded; callers enforce limits.
func (b *FrameBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b.ensure(len(p))
	n := copy(b.data[b.wpos:], p)
	b.wpos += n
	return n, nil
}

// ensure makes room for n more bytes after the write cursor. The consumed
// prefix is reclaimed first so a steadily drained buffer does not grow.
func (b *FrameBuffer) ensure(n int) {
	if len(b.data)-b.wpos >= n {
		return
	}
	unread := b.wpos - b.rpos
	if b.rpos > 0 && len(b.data)-unread >= n {
		copy(b.data, b.data[b.rpos:b.wpos])
		b.rpos = 0
		b.wpos = unread
		return
	}
	size := len(b.data) * 2
	if size < unread+n {
		size = unread + n
	}
	grown := make([]byte, size)
	copy(grown, b.data[b.rpos:b.wpos])
	b.data = grown
	b.rpos = 0
	b.wpos = unread
}

// Len returns the number of unread bytes.
func (b *FrameBuffer) Len() int {
	return b.wpos - b.rpos
}

// Cap returns the current backing capacity.
func (b *FrameBuffer) Cap() int {
	return len(b.data)
}

// ReadPos returns the read cursor. The value is only meaningful until the
// next Write, which may compact the buffer.
func (b *FrameBuffer) ReadPos() int {
	return b.rpos
}

// SetReadPos moves the read cursor, e.g. to undo a probing read.
func (b *FrameBuffer) SetReadPos(pos int) error {
	if pos < 0 || pos > b.wpos {
		return ErrInvalidPosition
	}
	b.rpos = pos
	return nil
}

// PeekUint32 decodes a big-endian uint32 at offset bytes past the read
// cursor without consuming anything.
func (b *FrameBuffer) PeekUint32(offset int) (uint32, bool) {
	if offset < 0 || b.Len() < offset+4 {
		return 0, false
	}
	start := b.rpos + offset
	return binary.BigEndian.Uint32(b.data[start : start+4]), true
}

// ReadUint32 decodes and consumes a big-endian uint32.
func (b *FrameBuffer) ReadUint32() (uint32, error) {
	v, ok := b.PeekUint32(0)
	if !ok {
		return 0, ErrShortBuffer
	}
	b.rpos += 4
	return v, nil
}

// Drain consumes exactly n bytes and returns them as an independent copy.
func (b *FrameBuffer) Drain(n int) ([]byte, error) {
	if n < 0 || n > b.Len() {
		return nil, ErrShortBuffer
	}
	out := make([]byte, n)
	copy(out, b.data[b.rpos:b.rpos+n])
	b.Consume(n)
	return out, nil
}

// Bytes returns a view of the unread bytes. The view is invalidated by the
// next Write, Drain or Consume.
func (b *FrameBuffer) Bytes() []byte {
	return b.data[b.rpos:b.wpos]
}

// Consume advances the read cursor by n (clamped to the unread length).
// Both cursors rewind to zero once everything has been read.
func (b *FrameBuffer) Consume(n int) {
	if n > b.Len() {
		n = b.Len()
	}
	b.rpos += n
	if b.rpos == b.wpos {
		b.rpos, b.wpos = 0, 0
	}
}

// Reset discards all content and keeps the backing array.
func (b *FrameBuffer) Reset() {
	b.rpos, b.wpos = 0, 0
}
