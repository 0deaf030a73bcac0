package protocol

import (
	"errors"
	"fmt"
)

// ErrFraming is the parent of every decode failure.
var ErrFraming = errors.New("protocol: framing error")

var (
	ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", ErrFraming)
	ErrMalformedEscape  = fmt.Errorf("%w: malformed escape sequence", ErrFraming)
	ErrFrameTooLarge    = fmt.Errorf("%w: frame exceeds maximum size", ErrFraming)
	ErrShortFrame       = fmt.Errorf("%w: frame shorter than header", ErrFraming)
	ErrLengthMismatch   = fmt.Errorf("%w: length field does not match body", ErrFraming)
	ErrBadDirection     = fmt.Errorf("%w: unknown direction byte", ErrFraming)
)

var (
	// ErrNotResponse is returned when a request frame is read as a response.
	ErrNotResponse = errors.New("protocol: frame is not a response")
	// ErrShortPayload is returned when a payload is too short for its opcode.
	ErrShortPayload = errors.New("protocol: payload too short")
	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayload.
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds maximum size")
)

// StatusError is a non-zero status reported by the device for a command.
type StatusError struct {
	Opcode Opcode
	Status byte
	Code   byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("protocol: %s failed: %s (status 0x%02X, code 0x%02X)",
		e.Opcode, ErrorName(e.Code), e.Status, e.Code)
}

// ROM error codes carried in the second status byte.
const (
	CodeInvalidMessage  byte = 0x05
	CodeFailedToAct     byte = 0x06
	CodeInvalidCRC      byte = 0x07
	CodeFlashWriteError byte = 0x08
	CodeFlashReadError  byte = 0x09
	CodeFlashReadLength byte = 0x0A
	CodeDeflateError    byte = 0x0B
)

// ErrorName returns a human-readable name for a ROM error code.
func ErrorName(code byte) string {
	switch code {
	case CodeInvalidMessage:
		return "invalid message"
	case CodeFailedToAct:
		return "failed to act"
	case CodeInvalidCRC:
		return "invalid CRC"
	case CodeFlashWriteError:
		return "flash write error"
	case CodeFlashReadError:
		return "flash read error"
	case CodeFlashReadLength:
		return "flash read length error"
	case CodeDeflateError:
		return "deflate error"
	default:
		return "unknown error"
	}
}
