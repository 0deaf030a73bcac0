package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEncode(t *testing.T, cmd Command) []byte {
	t.Helper()
	wire, err := Encode(cmd)
	require.NoError(t, err)

	return wire
}

func TestDecoder_SplitAcrossFeeds(t *testing.T) {
	wire := mustEncode(t, Command{Opcode: OpSync, Seq: 1, Payload: SyncPayload()})
	d := NewDecoder()

	for i := 0; i < len(wire)-1; i++ {
		frames, err := d.Feed(wire[i : i+1])
		require.NoError(t, err)
		require.Empty(t, frames, "byte %d", i)
	}
	assert.Equal(t, StateInFrame, d.State())

	frames, err := d.Feed(wire[len(wire)-1:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, OpSync, frames[0].Opcode)
	assert.Equal(t, SyncPayload(), frames[0].Payload)
	assert.Equal(t, StateIdle, d.State())
	assert.Zero(t, d.Buffered())
}

func TestDecoder_SplitInsideEscape(t *testing.T) {
	wire := mustEncode(t, Command{Opcode: OpWriteReg, Seq: 3, Payload: []byte{0xC0, 0xC0}})
	d := NewDecoder()

	idx := -1
	for i := 1; i < len(wire); i++ {
		if wire[i] == FrameEsc {
			idx = i

			break
		}
	}
	require.Positive(t, idx)

	frames, err := d.Feed(wire[:idx+1])
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, StateEscaped, d.State())

	frames, err = d.Feed(wire[idx+1:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0xC0, 0xC0}, frames[0].Payload)
}

func TestDecoder_MultipleFramesOneFeed(t *testing.T) {
	var stream []byte
	for seq := uint32(1); seq <= 3; seq++ {
		stream = append(stream, mustEncode(t, Command{Opcode: OpReadReg, Seq: seq, Payload: ReadRegPayload(seq)})...)
	}

	frames, err := NewDecoder().Feed(stream)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, uint32(i+1), f.Seq)
	}
}

func TestDecoder_NoiseBetweenFrames(t *testing.T) {
	d := NewDecoder()
	stream := []byte("ets Jun  8 2016 00:22:57\r\n")
	stream = append(stream, mustEncode(t, Command{Opcode: OpSync, Seq: 9})...)

	frames, err := d.Feed(stream)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(9), frames[0].Seq)
	assert.Equal(t, 26, d.Noise())
}

func TestDecoder_CorruptedChecksumDoesNotLeak(t *testing.T) {
	for _, payload := range [][]byte{nil, {0x01}, SyncPayload(), {0xC0, 0xDB, 0x00}} {
		bad := mustEncode(t, Command{Opcode: OpReadReg, Seq: 5, Payload: payload})
		// the checksum is the last body byte before the trailing END and is
		// never a reserved byte for these payloads once flipped
		ck := len(bad) - 2
		bad[ck] ^= 0x01
		if bad[ck] == FrameEnd || bad[ck] == FrameEsc {
			bad[ck] ^= 0x03
		}

		d := NewDecoder()
		frames, err := d.Feed(bad)
		require.ErrorIs(t, err, ErrFraming)
		require.ErrorIs(t, err, ErrChecksumMismatch)
		assert.Empty(t, frames)
		assert.Equal(t, StateIdle, d.State())
		assert.Zero(t, d.Buffered())

		good := mustEncode(t, Command{Opcode: OpReadReg, Seq: 6, Payload: payload})
		frames, err = d.Feed(good)
		require.NoError(t, err)
		require.Len(t, frames, 1)
		assert.Equal(t, uint32(6), frames[0].Seq)
		assert.Equal(t, len(payload), len(frames[0].Payload))
	}
}

func TestDecoder_MalformedEscapeResyncs(t *testing.T) {
	d := NewDecoder()
	stream := []byte{FrameEnd, 0x00, 0x08, FrameEsc, 0x42, 0x01, 0x02}
	stream = append(stream, mustEncode(t, Command{Opcode: OpSync, Seq: 2})...)

	frames, err := d.Feed(stream)
	require.ErrorIs(t, err, ErrMalformedEscape)
	require.ErrorIs(t, err, ErrFraming)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(2), frames[0].Seq)
}

func TestDecoder_EscapedEndIsMalformed(t *testing.T) {
	d := NewDecoder()
	frames, err := d.Feed([]byte{FrameEnd, 0x01, FrameEsc, FrameEnd})
	require.ErrorIs(t, err, ErrMalformedEscape)
	assert.Empty(t, frames)
	assert.Equal(t, StateIdle, d.State())
}

func TestDecoder_OversizeFrame(t *testing.T) {
	d := NewDecoder()
	junk := make([]byte, maxBody+10)
	for i := range junk {
		junk[i] = 0x11
	}
	stream := append([]byte{FrameEnd}, junk...)

	frames, err := d.Feed(stream)
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Empty(t, frames)
	assert.Zero(t, d.Buffered())

	// the tail of the oversize frame is noise until the next marker pair
	frames, err = d.Feed(append([]byte{FrameEnd}, mustEncode(t, Command{Opcode: OpSync, Seq: 4})...))
	require.NoError(t, err)
	require.Len(t, frames, 1)
}

func TestDecoder_ShortAndMismatchedFrames(t *testing.T) {
	d := NewDecoder()
	_, err := d.Feed([]byte{FrameEnd, 0x01, 0x02, FrameEnd})
	require.ErrorIs(t, err, ErrShortFrame)

	body := []byte{DirResponse, byte(OpSync), 0x05, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}
	body = append(body, Checksum(body))
	_, err = d.Feed(Escape(body))
	require.ErrorIs(t, err, ErrLengthMismatch)

	body = []byte{0x07, byte(OpSync), 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}
	body = append(body, Checksum(body))
	_, err = d.Feed(Escape(body))
	require.ErrorIs(t, err, ErrBadDirection)
}

func TestDecoder_JoinsEveryError(t *testing.T) {
	bad := mustEncode(t, Command{Opcode: OpSync, Seq: 1})
	bad[len(bad)-2] ^= 0x10

	stream := append(append([]byte{}, bad...), bad...)
	frames, err := NewDecoder().Feed(stream)
	assert.Empty(t, frames)

	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	assert.Len(t, joined.Unwrap(), 2)
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder()
	_, err := d.Feed([]byte{FrameEnd, 0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Buffered())

	d.Reset()
	assert.Equal(t, StateIdle, d.State())
	assert.Zero(t, d.Buffered())
}

func TestDecoder_StockROMRepliesAreFramingErrors(t *testing.T) {
	// replies of an unmodified ROM loader: value word in place of the
	// sequence id, status at the end and no trailing checksum byte
	stock := [][]byte{
		{FrameEnd, 0x01, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, FrameEnd},
		{FrameEnd, 0x01, 0x0A, 0x04, 0x00, 0xE1, 0xA5, 0x55, 0x9A, 0x00, 0x00, 0x00, 0x00, FrameEnd},
	}

	d := NewDecoder()
	for _, wire := range stock {
		frames, err := d.Feed(wire)
		assert.Empty(t, frames)
		require.ErrorIs(t, err, ErrFraming)
	}

	// the decoder is back at a frame boundary
	ok, err := EncodeResponse(Response{Opcode: OpSync, Seq: 9})
	require.NoError(t, err)
	frames, err := d.Feed(ok)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(9), frames[0].Seq)
}
