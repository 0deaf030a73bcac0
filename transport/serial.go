package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-espconn/logger"
	"go.bug.st/serial"
)

// readBufferSize is the largest single read from the OS driver.
const readBufferSize = 4096

// rawPort is the subset of serial.Port used by this package.
type rawPort interface {
	SetMode(mode *serial.Mode) error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// SerialOpener opens ports with go.bug.st/serial using 8N1 framing.
type SerialOpener struct {
	logger logger.Logger
	open   func(name string, mode *serial.Mode) (rawPort, error)
}

var _ Opener = (*SerialOpener)(nil)

// NewSerialOpener creates an Opener for OS serial ports. A nil logger uses
// the package default.
func NewSerialOpener(l logger.Logger) *SerialOpener {
	if l == nil {
		l = logger.GetLogger()
	}

	return &SerialOpener{
		logger: l,
		open: func(name string, mode *serial.Mode) (rawPort, error) {
			return serial.Open(name, mode)
		},
	}
}

// Open opens desc at the given baud rate. Any failure wraps ErrPortUnavailable.
func (o *SerialOpener) Open(desc PortDescriptor, baud int) (Port, error) {
	if desc.Name == "" {
		return nil, fmt.Errorf("%w: empty port name", ErrPortUnavailable)
	}
	if baud <= 0 {
		return nil, fmt.Errorf("%w: invalid baud rate %d", ErrPortUnavailable, baud)
	}

	p, err := o.open(desc.Name, serialMode(baud))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrPortUnavailable, desc.Name, describeOpenError(err))
	}

	o.logger.Debug("transport: port opened", "port", desc.Name, "baud", baud)

	return &serialPort{name: desc.Name, raw: p, logger: o.logger, readBuf: make([]byte, readBufferSize)}, nil
}

func serialMode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

func describeOpenError(err error) string {
	var perr *serial.PortError
	if errors.As(err, &perr) {
		switch perr.Code() {
		case serial.PortBusy:
			return "port busy"
		case serial.PortNotFound:
			return "port not found"
		case serial.PermissionDenied:
			return "permission denied"
		}
	}

	return err.Error()
}

type serialPort struct {
	name    string
	logger  logger.Logger
	readBuf []byte

	mu     sync.Mutex
	raw    rawPort
	closed bool
}

func (p *serialPort) port() (rawPort, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	return p.raw, nil
}

func (p *serialPort) Write(data []byte) (int, error) {
	raw, err := p.port()
	if err != nil {
		return 0, err
	}

	n, err := raw.Write(data)
	if err != nil {
		return n, fmt.Errorf("%w: write %s: %w", ErrIO, p.name, err)
	}

	return n, nil
}

func (p *serialPort) ReadAvailable(timeout time.Duration) ([]byte, error) {
	raw, err := p.port()
	if err != nil {
		return nil, err
	}

	if err := raw.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("%w: set read timeout %s: %w", ErrIO, p.name, err)
	}

	n, err := raw.Read(p.readBuf)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, p.name, err)
	}

	out := make([]byte, n)
	copy(out, p.readBuf[:n])

	return out, nil
}

func (p *serialPort) SetBaudRate(baud int) error {
	raw, err := p.port()
	if err != nil {
		return err
	}

	if err := raw.SetMode(serialMode(baud)); err != nil {
		return fmt.Errorf("%w: set baud %d on %s: %w", ErrIO, baud, p.name, err)
	}

	return nil
}

func (p *serialPort) SetControlLines(dtr, rts bool) error {
	raw, err := p.port()
	if err != nil {
		return err
	}

	if err := raw.SetDTR(dtr); err != nil {
		return fmt.Errorf("%w: set DTR on %s: %w", ErrIO, p.name, err)
	}
	if err := raw.SetRTS(rts); err != nil {
		return fmt.Errorf("%w: set RTS on %s: %w", ErrIO, p.name, err)
	}

	return nil
}

func (p *serialPort) ResetInputBuffer() error {
	raw, err := p.port()
	if err != nil {
		return err
	}

	if err := raw.ResetInputBuffer(); err != nil {
		return fmt.Errorf("%w: reset input %s: %w", ErrIO, p.name, err)
	}

	return nil
}

func (p *serialPort) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()

		return nil
	}
	p.closed = true
	raw := p.raw
	p.mu.Unlock()

	err := raw.Close()
	p.logger.Debug("transport: port closed", "port", p.name, "error", err)
	if err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIO, p.name, err)
	}

	return nil
}
