package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-espconn/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

type fakeRaw struct {
	mu       sync.Mutex
	pending  []byte
	written  []byte
	mode     *serial.Mode
	dtr, rts bool
	timeout  time.Duration
	closes   int
	readErr  error
	flushed  int
}

func (f *fakeRaw) SetMode(mode *serial.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode

	return nil
}

func (f *fakeRaw) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]

	return n, nil
}

func (f *fakeRaw) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)

	return len(p), nil
}

func (f *fakeRaw) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = nil
	f.flushed++

	return nil
}

func (f *fakeRaw) SetDTR(dtr bool) error { f.dtr = dtr; return nil }
func (f *fakeRaw) SetRTS(rts bool) error { f.rts = rts; return nil }

func (f *fakeRaw) SetReadTimeout(t time.Duration) error { f.timeout = t; return nil }

func (f *fakeRaw) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++

	return nil
}

func newFakeOpener(raw *fakeRaw, openErr error) *SerialOpener {
	o := NewSerialOpener(logger.NewSlog(logger.ErrorLevel))
	o.open = func(_ string, mode *serial.Mode) (rawPort, error) {
		if openErr != nil {
			return nil, openErr
		}
		raw.mode = mode

		return raw, nil
	}

	return o
}

func TestSerialOpener_Open(t *testing.T) {
	raw := &fakeRaw{}
	p, err := newFakeOpener(raw, nil).Open(PortDescriptor{Name: "/dev/ttyACM0"}, 115200)
	require.NoError(t, err)
	defer p.Close()

	require.NotNil(t, raw.mode)
	assert.Equal(t, 115200, raw.mode.BaudRate)
	assert.Equal(t, 8, raw.mode.DataBits)
	assert.Equal(t, serial.NoParity, raw.mode.Parity)
	assert.Equal(t, serial.OneStopBit, raw.mode.StopBits)
}

func TestSerialOpener_OpenFailure(t *testing.T) {
	o := newFakeOpener(&fakeRaw{}, &serial.PortError{})
	_, err := o.Open(PortDescriptor{Name: "/dev/ttyUSB9"}, 115200)
	require.ErrorIs(t, err, ErrPortUnavailable)

	_, err = o.Open(PortDescriptor{}, 115200)
	require.ErrorIs(t, err, ErrPortUnavailable)

	_, err = o.Open(PortDescriptor{Name: "/dev/ttyUSB0"}, 0)
	require.ErrorIs(t, err, ErrPortUnavailable)
}

func TestSerialPort_ReadWrite(t *testing.T) {
	raw := &fakeRaw{pending: []byte("hello")}
	p, err := newFakeOpener(raw, nil).Open(PortDescriptor{Name: "COM3"}, 115200)
	require.NoError(t, err)
	defer p.Close()

	data, err := p.ReadAvailable(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, 20*time.Millisecond, raw.timeout)

	data, err = p.ReadAvailable(time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, data, "quiet line is not an error")

	n, err := p.Write([]byte{0xC0, 0x00})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0xC0, 0x00}, raw.written)
}

func TestSerialPort_ReadErrorWrapsIO(t *testing.T) {
	raw := &fakeRaw{readErr: errors.New("device unplugged")}
	p, err := newFakeOpener(raw, nil).Open(PortDescriptor{Name: "COM3"}, 115200)
	require.NoError(t, err)

	_, err = p.ReadAvailable(time.Millisecond)
	require.ErrorIs(t, err, ErrIO)
	assert.Contains(t, err.Error(), "device unplugged")
}

func TestSerialPort_ControlAndBaud(t *testing.T) {
	raw := &fakeRaw{pending: []byte{1, 2, 3}}
	p, err := newFakeOpener(raw, nil).Open(PortDescriptor{Name: "COM3"}, 115200)
	require.NoError(t, err)

	require.NoError(t, p.SetControlLines(true, false))
	assert.True(t, raw.dtr)
	assert.False(t, raw.rts)

	require.NoError(t, p.SetBaudRate(921600))
	assert.Equal(t, 921600, raw.mode.BaudRate)

	require.NoError(t, p.ResetInputBuffer())
	assert.Equal(t, 1, raw.flushed)
	assert.Empty(t, raw.pending)
}

func TestSerialPort_CloseIdempotent(t *testing.T) {
	raw := &fakeRaw{}
	p, err := newFakeOpener(raw, nil).Open(PortDescriptor{Name: "COM3"}, 115200)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, raw.closes)

	_, err = p.Write([]byte{1})
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, err, ErrIO)

	_, err = p.ReadAvailable(time.Millisecond)
	require.ErrorIs(t, err, ErrClosed)
}

func TestDescribePorts(t *testing.T) {
	ports := describePorts([]*enumerator.PortDetails{
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "10c4", PID: "EA60", SerialNumber: "0001", Product: "CP2102"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "0x303A", PID: "4001"},
		{Name: "/dev/ttyS0"},
		nil,
	})

	require.Len(t, ports, 3)
	assert.Equal(t, "/dev/ttyACM0", ports[0].Name)
	assert.Equal(t, uint16(0x303A), ports[0].VendorID)
	assert.Equal(t, uint16(0x4001), ports[0].ProductID)
	assert.Equal(t, "/dev/ttyS0", ports[1].Name)
	assert.False(t, ports[1].IsUSB())
	assert.Equal(t, uint16(0x10C4), ports[2].VendorID)
	assert.Equal(t, uint16(0xEA60), ports[2].ProductID)
	assert.Equal(t, "CP2102", ports[2].Product)
}

func TestParseHexID(t *testing.T) {
	assert.Equal(t, uint16(0x1A86), parseHexID("1a86"))
	assert.Equal(t, uint16(0x0403), parseHexID("0X0403"))
	assert.Zero(t, parseHexID(""))
	assert.Zero(t, parseHexID("zz"))
	assert.Zero(t, parseHexID("12345"))
}

func TestPortDescriptor_String(t *testing.T) {
	assert.Equal(t, "/dev/ttyS0", PortDescriptor{Name: "/dev/ttyS0"}.String())
	assert.Equal(t, "COM5 (303A:4001)", PortDescriptor{Name: "COM5", VendorID: 0x303A, ProductID: 0x4001}.String())
}
