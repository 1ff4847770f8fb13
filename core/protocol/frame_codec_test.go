package protocol_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-lua/core/buffer"
	"github.com/momentics/hioload-lua/core/protocol"
)

func TestTryExtract_SplitPrefix(t *testing.T) {
	f := protocol.NewFramer(0)
	b := buffer.NewFrameBuffer(0)

	_, _ = b.Write([]byte("\x00\x00\x00\x0Bhel"))
	frame, err := f.TryExtract(b)
	require.NoError(t, err)
	assert.Nil(t, frame)
	assert.Equal(t, 7, b.Len(), "incomplete frame must stay buffered")

	_, _ = b.Write([]byte("lo-w"))
	frame, err = f.TryExtract(b)
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, "hello-w", string(protocol.Body(frame)))
	assert.Equal(t, 0, b.Len())
}

func TestTryExtract_TwoFramesOneWrite(t *testing.T) {
	f := protocol.NewFramer(0)
	b := buffer.NewFrameBuffer(0)
	wire := append(protocol.Encode([]byte("first")), protocol.Encode([]byte("second"))...)
	_, _ = b.Write(wire)

	frames, err := f.ExtractAll(b)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "first", string(protocol.Body(frames[0])))
	assert.Equal(t, "second", string(protocol.Body(frames[1])))
}

func TestTryExtract_Oversized(t *testing.T) {
	f := protocol.NewFramer(16)
	b := buffer.NewFrameBuffer(0)
	_, _ = b.Write([]byte{0x00, 0x00, 0x00, 0x20, 'x'})

	frame, err := f.TryExtract(b)
	assert.Nil(t, frame)
	assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
	assert.True(t, protocol.IsProtocolViolation(err))
}

func TestTryExtract_MalformedLength(t *testing.T) {
	f := protocol.NewFramer(0)
	b := buffer.NewFrameBuffer(0)
	_, _ = b.Write([]byte{0x00, 0x00, 0x00, 0x02})

	_, err := f.TryExtract(b)
	assert.ErrorIs(t, err, protocol.ErrMalformedLength)
}

func TestTryExtract_EmptyBody(t *testing.T) {
	f := protocol.NewFramer(0)
	b := buffer.NewFrameBuffer(0)
	_, _ = b.Write(protocol.Encode(nil))

	frame, err := f.TryExtract(b)
	require.NoError(t, err)
	assert.Len(t, frame, protocol.HeaderLen)
	assert.Empty(t, protocol.Body(frame))
}

// Reassembly must not depend on how the stream was chunked.
func TestTryExtract_ChunkingInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	f := protocol.NewFramer(0)

	for round := 0; round < 200; round++ {
		var bodies [][]byte
		var wire []byte
		count := 1 + rng.Intn(8)
		for i := 0; i < count; i++ {
			body := make([]byte, rng.Intn(300))
			rng.Read(body)
			bodies = append(bodies, body)
			wire = protocol.AppendFrame(wire, body)
		}

		b := buffer.NewFrameBuffer(1 + rng.Intn(64))
		var got [][]byte
		for rest := wire; len(rest) > 0; {
			n := 1 + rng.Intn(len(rest))
			_, _ = b.Write(rest[:n])
			rest = rest[n:]
			frames, err := f.ExtractAll(b)
			require.NoError(t, err)
			got = append(got, frames...)
		}

		require.Len(t, got, len(bodies))
		for i := range bodies {
			assert.True(t, bytes.Equal(bodies[i], protocol.Body(got[i])), "round %d frame %d", round, i)
		}
		frame, err := f.TryExtract(b)
		assert.NoError(t, err)
		assert.Nil(t, frame)
	}
}
