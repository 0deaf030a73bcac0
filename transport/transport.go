// Package transport owns the physical serial link to a device.
//
// A [Port] is an exclusive hold on one OS serial resource. It moves raw bytes
// and knows nothing about framing. [SerialOpener] opens real ports through
// go.bug.st/serial; tests and the simulator provide their own [Opener].
package transport

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPortUnavailable is returned when a port cannot be opened.
	ErrPortUnavailable = errors.New("transport: port unavailable")
	// ErrIO is returned when reading or writing an open port fails.
	ErrIO = errors.New("transport: I/O failure")
	// ErrClosed is returned by operations on a closed port. It wraps ErrIO.
	ErrClosed = fmt.Errorf("%w: port closed", ErrIO)
)

// PortDescriptor identifies a serial port and the USB device behind it.
// VendorID and ProductID are zero for ports that are not USB.
type PortDescriptor struct {
	Name         string
	VendorID     uint16
	ProductID    uint16
	SerialNumber string
	Product      string
}

// IsUSB reports whether the descriptor carries a USB vendor/product pair.
func (d PortDescriptor) IsUSB() bool { return d.VendorID != 0 || d.ProductID != 0 }

func (d PortDescriptor) String() string {
	if !d.IsUSB() {
		return d.Name
	}

	return fmt.Sprintf("%s (%04X:%04X)", d.Name, d.VendorID, d.ProductID)
}

// Port is an open serial link.
//
// Port methods are not goroutine-safe. The connection engine hands the port
// to exactly one owner at a time.
type Port interface {
	// Write sends data and returns the number of bytes written.
	Write(data []byte) (int, error)
	// ReadAvailable waits up to timeout for input. A quiet line returns an
	// empty slice and a nil error.
	ReadAvailable(timeout time.Duration) ([]byte, error)
	// SetBaudRate changes the line rate of the open port.
	SetBaudRate(baud int) error
	// SetControlLines drives the DTR and RTS modem lines.
	SetControlLines(dtr, rts bool) error
	// ResetInputBuffer discards bytes received but not yet read.
	ResetInputBuffer() error
	// Close releases the OS resource. Calling Close more than once is safe.
	Close() error
}

// Opener opens ports.
type Opener interface {
	Open(desc PortDescriptor, baud int) (Port, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(desc PortDescriptor, baud int) (Port, error)

func (f OpenerFunc) Open(desc PortDescriptor, baud int) (Port, error) {
	return f(desc, baud)
}
