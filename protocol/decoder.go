package protocol

import (
	"errors"
	"fmt"
)

// DecoderState is the position of the decoder within the byte stream.
type DecoderState int

const (
	// StateIdle waits for a start marker; other bytes are line noise.
	StateIdle DecoderState = iota
	// StateInFrame accumulates frame body bytes.
	StateInFrame
	// StateEscaped has seen ESC and expects ESC_END or ESC_ESC.
	StateEscaped
)

func (s DecoderState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInFrame:
		return "in-frame"
	case StateEscaped:
		return "escaped"
	default:
		return "unknown"
	}
}

// Decoder turns a serial byte stream into frames.
//
// Decoder is not goroutine-safe; the owner of the transport feeds it.
type Decoder struct {
	state DecoderState
	buf   []byte
	noise int
}

// NewDecoder creates a Decoder in the idle state.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 64)}
}

// State returns the current decoder state.
func (d *Decoder) State() DecoderState { return d.state }

// Buffered returns the number of body bytes held for an unfinished frame.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Noise returns the number of bytes discarded outside of frames.
func (d *Decoder) Noise() int { return d.noise }

// Reset drops any partial frame and returns to idle.
func (d *Decoder) Reset() {
	d.state = StateIdle
	d.buf = d.buf[:0]
}

// Feed consumes data and returns every frame completed by it.
//
// Framing failures do not stop decoding: the damaged frame is discarded and
// the returned error joins every failure seen in this call. Each of them
// matches ErrFraming with errors.Is.
func (d *Decoder) Feed(data []byte) ([]Frame, error) {
	var (
		frames []Frame
		errs   []error
	)

	fail := func(err error) {
		errs = append(errs, err)
		d.Reset()
	}

	for _, b := range data {
		switch d.state {
		case StateIdle:
			if b == FrameEnd {
				d.state = StateInFrame
				d.buf = d.buf[:0]
			} else {
				d.noise++
			}

		case StateInFrame:
			switch b {
			case FrameEnd:
				if len(d.buf) == 0 {
					// back-to-back markers: the previous END was a start
					continue
				}
				frame, err := parsePacket(d.buf)
				d.Reset()
				if err != nil {
					errs = append(errs, err)
					continue
				}
				frames = append(frames, frame)
			case FrameEsc:
				d.state = StateEscaped
			default:
				if !d.appendByte(b) {
					fail(fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, maxBody))
				}
			}

		case StateEscaped:
			var v byte
			switch b {
			case EscEnd:
				v = FrameEnd
			case EscEsc:
				v = FrameEsc
			default:
				fail(fmt.Errorf("%w: 0x%02X after ESC", ErrMalformedEscape, b))
				continue
			}
			d.state = StateInFrame
			if !d.appendByte(v) {
				fail(fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, maxBody))
			}
		}
	}

	return frames, errors.Join(errs...)
}

func (d *Decoder) appendByte(b byte) bool {
	if len(d.buf) >= maxBody {
		return false
	}
	d.buf = append(d.buf, b)

	return true
}
