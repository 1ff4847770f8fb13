// File: core/protocol/frame_codec.go
// Package protocol implements length-prefixed frame extraction with frame size enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wire frame: [u32 big-endian total_length][body]. total_length counts the
// prefix itself. Oversized or malformed prefixes are reported as errors so the
// owning connection can be dropped instead of buffering without bound.

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/momentics/hioload-lua/core/buffer"
)

var (
	// ErrFrameTooLarge reports a declared length above the configured maximum.
	ErrFrameTooLarge = errors.New("frame exceeds maximum allowed size")
	// ErrMalformedLength reports a declared length smaller than the prefix.
	ErrMalformedLength = errors.New("malformed frame length")
)

// Framer extracts complete frames from a FrameBuffer.
// The zero value uses DefaultMaxFrameLen.
type Framer struct {
	MaxFrameLen int
}

// NewFramer returns a Framer with the given limit; non-positive means default.
func NewFramer(maxFrameLen int) Framer {
	if maxFrameLen <= 0 {
		maxFrameLen = DefaultMaxFrameLen
	}
	return Framer{MaxFrameLen: maxFrameLen}
}

func (f Framer) limit() int {
	if f.MaxFrameLen <= 0 {
		return DefaultMaxFrameLen
	}
	return f.MaxFrameLen
}

// TryExtract returns the next whole frame (prefix included), or nil when the
// buffer does not hold one yet. Only a complete frame advances the buffer.
func (f Framer) TryExtract(buf *buffer.FrameBuffer) ([]byte, error) {
	if buf.Len() < MinFrameLen {
		return nil, nil
	}
	length, _ := buf.PeekUint32(0)
	if length < HeaderLen {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrMalformedLength, length)
	}
	if uint64(length) > uint64(f.limit()) {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, length, f.limit())
	}
	if buf.Len() < int(length) {
		return nil, nil
	}
	return buf.Drain(int(length))
}

// ExtractAll applies TryExtract until the buffer holds no complete frame.
// Frames extracted before an error are still returned.
func (f Framer) ExtractAll(buf *buffer.FrameBuffer) ([][]byte, error) {
	var frames [][]byte
	for {
		frame, err := f.TryExtract(buf)
		if err != nil {
			return frames, err
		}
		if frame == nil {
			return frames, nil
		}
		frames = append(frames, frame)
	}
}

// Encode wraps body into a new wire frame.
func Encode(body []byte) []byte {
	return AppendFrame(make([]byte, 0, HeaderLen+len(body)), body)
}

// AppendFrame appends the framed body to dst.
func AppendFrame(dst, body []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(HeaderLen+len(body)))
	return append(dst, body...)
}

// Body returns the frame without its length prefix.
func Body(frame []byte) []byte {
	if len(frame) < HeaderLen {
		return nil
	}
	return frame[HeaderLen:]
}

// IsProtocolViolation reports whether err came from a bad length prefix.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrFrameTooLarge) || errors.Is(err, ErrMalformedLength)
}
