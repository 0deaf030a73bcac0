package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum_Seed(t *testing.T) {
	assert.Equal(t, ChecksumSeed, Checksum(nil))
	assert.Equal(t, byte(0xEF^0x01^0x02), Checksum([]byte{0x01, 0x02}))
	// XOR of a byte with itself cancels.
	assert.Equal(t, ChecksumSeed, Checksum([]byte{0x5A, 0x5A}))
}

func TestEncode_Layout(t *testing.T) {
	wire, err := Encode(Command{Opcode: OpReadReg, Seq: 7, Payload: []byte{0x44, 0x00, 0xF0, 0x3F}})
	require.NoError(t, err)

	want := []byte{0x00, 0x0A, 0x04, 0x00, 0x07, 0x00, 0x00, 0x00, 0x44, 0x00, 0xF0, 0x3F}
	want = append(want, Checksum(want))

	assert.Equal(t, FrameEnd, wire[0])
	assert.Equal(t, FrameEnd, wire[len(wire)-1])
	assert.Equal(t, want, wire[1:len(wire)-1])
}

func TestEncode_EscapesReservedBytes(t *testing.T) {
	wire, err := Encode(Command{Opcode: OpWriteReg, Seq: 1, Payload: []byte{FrameEnd, FrameEsc}})
	require.NoError(t, err)

	inner := wire[1 : len(wire)-1]
	assert.NotContains(t, string(inner), string([]byte{FrameEnd}), "no raw END inside a frame")
	assert.True(t, bytes.Contains(inner, []byte{FrameEsc, EscEnd, FrameEsc, EscEsc}))

	frames, err := NewDecoder().Feed(wire)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{FrameEnd, FrameEsc}, frames[0].Payload)
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	_, err := Encode(Command{Opcode: OpSync, Payload: make([]byte, MaxPayload+1)})
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = EncodeResponse(Response{Opcode: OpReadFlashSlow, Data: make([]byte, MaxPayload)})
	require.ErrorIs(t, err, ErrPayloadTooLarge, "status bytes count toward the payload")
}

func TestFrame_Response(t *testing.T) {
	wire, err := EncodeResponse(Response{Opcode: OpReadReg, Seq: 42, Data: []byte{0xE1, 0xA5, 0x55, 0x9A}})
	require.NoError(t, err)

	frames, err := NewDecoder().Feed(wire)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.True(t, frames[0].IsResponse())

	rsp, err := frames[0].Response()
	require.NoError(t, err)
	assert.Equal(t, OpReadReg, rsp.Opcode)
	assert.Equal(t, uint32(42), rsp.Seq)
	assert.True(t, rsp.OK())
	require.NoError(t, rsp.Err())

	v, err := ParseUint32(rsp.Data)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x9A55A5E1), v)
}

func TestFrame_ResponseErrors(t *testing.T) {
	_, err := Frame{Dir: DirRequest, Opcode: OpSync}.Response()
	require.ErrorIs(t, err, ErrNotResponse)

	_, err = Frame{Dir: DirResponse, Opcode: OpSync, Payload: []byte{0x00}}.Response()
	require.ErrorIs(t, err, ErrShortPayload)
}

func TestResponse_StatusError(t *testing.T) {
	rsp := &Response{Opcode: OpSPIFlashMD5, Status: 1, Code: CodeFlashReadError}
	assert.False(t, rsp.OK())

	err := rsp.Err()
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, OpSPIFlashMD5, se.Opcode)
	assert.Contains(t, err.Error(), "flash read error")
	assert.Contains(t, err.Error(), "SPI_FLASH_MD5")
}

func TestOpcode_String(t *testing.T) {
	assert.Equal(t, "SYNC", OpSync.String())
	assert.Equal(t, "GET_SECURITY_INFO", OpGetSecurityInfo.String())
	assert.Equal(t, "OP(0x7F)", Opcode(0x7F).String())
}
