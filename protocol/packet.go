package protocol

import (
	"encoding/binary"
	"fmt"
)

// SLIP framing bytes.
const (
	FrameEnd byte = 0xC0
	FrameEsc byte = 0xDB
	EscEnd   byte = 0xDC
	EscEsc   byte = 0xDD
)

// Direction bytes.
const (
	DirRequest  byte = 0x00
	DirResponse byte = 0x01
)

const (
	// HeaderSize is dir + opcode + length + seq.
	HeaderSize = 8

	// ChecksumSeed is the initial XOR value of the packet checksum.
	ChecksumSeed byte = 0xEF

	// MaxPayload bounds the payload of a single packet. Tool operations
	// size their chunks from it.
	MaxPayload = 4096

	// StatusSize is the status prefix of every response payload.
	StatusSize = 2

	// maxBody is the largest unescaped frame body the decoder accepts.
	maxBody = HeaderSize + MaxPayload + 1
)

// Command is a request sent to the device.
type Command struct {
	Opcode  Opcode
	Seq     uint32
	Payload []byte
}

// Response is a device reply. Seq echoes the request it answers.
type Response struct {
	Opcode Opcode
	Seq    uint32
	Status byte
	Code   byte
	Data   []byte
}

// OK reports whether the device accepted the command.
func (r *Response) OK() bool { return r.Status == 0 }

// Err returns a *StatusError when the status is not OK.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}

	return &StatusError{Opcode: r.Opcode, Status: r.Status, Code: r.Code}
}

// Frame is one decoded packet, before it is interpreted as a request or response.
type Frame struct {
	Dir     byte
	Opcode  Opcode
	Seq     uint32
	Payload []byte
}

// IsResponse reports whether the frame travels device to host.
func (f Frame) IsResponse() bool { return f.Dir == DirResponse }

// Response interprets the frame as a device response.
func (f Frame) Response() (*Response, error) {
	if f.Dir != DirResponse {
		return nil, ErrNotResponse
	}
	if len(f.Payload) < StatusSize {
		return nil, fmt.Errorf("%w: %s response has %d bytes", ErrShortPayload, f.Opcode, len(f.Payload))
	}

	return &Response{
		Opcode: f.Opcode,
		Seq:    f.Seq,
		Status: f.Payload[0],
		Code:   f.Payload[1],
		Data:   f.Payload[StatusSize:],
	}, nil
}

// Command interprets the frame as a host request.
func (f Frame) Command() Command {
	return Command{Opcode: f.Opcode, Seq: f.Seq, Payload: f.Payload}
}

// Checksum computes the packet checksum over data.
func Checksum(data []byte) byte {
	sum := ChecksumSeed
	for _, b := range data {
		sum ^= b
	}

	return sum
}

// Encode builds the complete wire frame for a command.
func Encode(cmd Command) ([]byte, error) {
	if len(cmd.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(cmd.Payload), MaxPayload)
	}

	return encodePacket(DirRequest, cmd.Opcode, cmd.Seq, cmd.Payload), nil
}

// EncodeResponse builds the wire frame for a device response.
func EncodeResponse(rsp Response) ([]byte, error) {
	payload := make([]byte, 0, StatusSize+len(rsp.Data))
	payload = append(payload, rsp.Status, rsp.Code)
	payload = append(payload, rsp.Data...)
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), MaxPayload)
	}

	return encodePacket(DirResponse, rsp.Opcode, rsp.Seq, payload), nil
}

func encodePacket(dir byte, op Opcode, seq uint32, payload []byte) []byte {
	body := make([]byte, HeaderSize, HeaderSize+len(payload)+1)
	body[0] = dir
	body[1] = byte(op)
	binary.LittleEndian.PutUint16(body[2:4], uint16(len(payload))) //nolint:gosec // bounded by MaxPayload
	binary.LittleEndian.PutUint32(body[4:8], seq)
	body = append(body, payload...)
	body = append(body, Checksum(body))

	return Escape(body)
}

// Escape wraps body in END markers, escaping reserved bytes.
func Escape(body []byte) []byte {
	out := make([]byte, 0, len(body)+len(body)/8+2)
	out = append(out, FrameEnd)
	for _, b := range body {
		switch b {
		case FrameEnd:
			out = append(out, FrameEsc, EscEnd)
		case FrameEsc:
			out = append(out, FrameEsc, EscEsc)
		default:
			out = append(out, b)
		}
	}

	return append(out, FrameEnd)
}

// parsePacket validates an unescaped frame body.
func parsePacket(body []byte) (Frame, error) {
	if len(body) < HeaderSize+1 {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(body))
	}

	n := len(body)
	if want, got := Checksum(body[:n-1]), body[n-1]; want != got {
		return Frame{}, fmt.Errorf("%w: wire=0x%02X, computed=0x%02X", ErrChecksumMismatch, got, want)
	}

	dir := body[0]
	if dir != DirRequest && dir != DirResponse {
		return Frame{}, fmt.Errorf("%w: 0x%02X", ErrBadDirection, dir)
	}

	length := int(binary.LittleEndian.Uint16(body[2:4]))
	if length != n-HeaderSize-1 {
		return Frame{}, fmt.Errorf("%w: field=%d, body=%d", ErrLengthMismatch, length, n-HeaderSize-1)
	}

	payload := make([]byte, length)
	copy(payload, body[HeaderSize:n-1])

	return Frame{
		Dir:     dir,
		Opcode:  Opcode(body[1]),
		Seq:     binary.LittleEndian.Uint32(body[4:8]),
		Payload: payload,
	}, nil
}
