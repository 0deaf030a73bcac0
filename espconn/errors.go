package espconn

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-espconn/protocol"
	"github.com/arloliu/go-espconn/transport"
)

// Sentinel errors of the connection engine.
var (
	// Re-exported so callers can match every error kind from this package.
	ErrPortUnavailable = transport.ErrPortUnavailable
	ErrIO              = transport.ErrIO
	ErrFraming         = protocol.ErrFraming

	ErrTimeout           = errors.New("espconn: command timeout")
	ErrNotReady          = errors.New("espconn: connection is not ready")
	ErrDeviceBusy        = errors.New("espconn: device busy, command queue full")
	ErrAlreadyBusy       = errors.New("espconn: a command is outstanding")
	ErrAlreadyMonitoring = errors.New("espconn: monitor already running")
	ErrHandshakeTimeout  = errors.New("espconn: handshake retry budget exhausted")
	ErrAlreadyConnected  = errors.New("espconn: already connected")
	ErrLinkLost          = errors.New("espconn: link lost")
	ErrUnknownChip       = errors.New("espconn: unknown chip")

	// ErrTransferCorrupted is returned when data read from flash does not
	// match the digest computed by the device.
	ErrTransferCorrupted = errors.New("espconn: flash transfer digest mismatch")
)

// ChunkError reports the flash offset at which a multi-command operation failed.
type ChunkError struct {
	Offset uint32
	Err    error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("espconn: chunk at offset 0x%08x failed: %v", e.Offset, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

func isTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
