// Package simulator emulates an ESP ROM bootloader behind a serial port.
//
// A [Device] implements transport.Port entirely in memory. It answers the
// commands the connection engine issues (SYNC, GET_SECURITY_INFO, READ_REG,
// WRITE_REG, SPI_FLASH_MD5, READ_FLASH_SLOW, CHANGE_BAUDRATE) from a register
// map and a flash image, and it can be told to misbehave: stay silent, send
// stale responses, corrupt checksums or drop off the bus. When reset into
// firmware it prints plain log lines instead of speaking the protocol.
package simulator

import (
	"bytes"
	"crypto/md5" //nolint:gosec // flash digest
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-espconn/chip"
	"github.com/arloliu/go-espconn/logger"
	"github.com/arloliu/go-espconn/partition"
	"github.com/arloliu/go-espconn/protocol"
	"github.com/arloliu/go-espconn/transport"
)

// Default register contents.
const (
	DemoRegister      uint32 = 0x3FF00044
	DemoRegisterValue uint32 = 0x9A55A5E1

	DefaultFlashSize = 4 << 20
	DefaultSyncEcho  = 8
)

// DefaultMAC is the factory MAC reported by the default device.
var DefaultMAC = [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

// DefaultPartitions is the table written at partition.TableOffset.
var DefaultPartitions = []partition.Entry{
	{Type: partition.TypeData, SubType: 0x02, Label: "nvs", Offset: 0x9000, Size: 0x6000},
	{Type: partition.TypeData, SubType: 0x01, Label: "phy_init", Offset: 0xF000, Size: 0x1000},
	{Type: partition.TypeApp, SubType: 0x00, Label: "factory", Offset: 0x10000, Size: 0x100000},
}

// DefaultLogLines are printed when the device boots into firmware.
var DefaultLogLines = []string{
	"Mock serial ready",
	"Mock serial heartbeat 1",
	"Mock serial heartbeat 2",
}

// ErrUnplugged is returned by every port call after Unplug.
var ErrUnplugged = errors.New("simulator: device unplugged")

type mode int

const (
	modeBootloader mode = iota
	modeFirmware
)

// Device is a simulated ESP device. All methods are goroutine-safe.
type Device struct {
	mu     sync.Mutex
	notify chan struct{}
	logger logger.Logger

	family       chip.Family
	securityInfo bool
	secureBoot   bool
	flashCrypt   bool
	syncEcho     int
	delay        time.Duration

	regs  map[uint32]uint32
	flash []byte

	decoder *protocol.Decoder
	out     []chunk
	mode    mode
	lines   []string

	dtr, rts bool
	baud     int

	// faults
	silent     bool
	syncIgnore int
	stale      int
	corrupt    int

	// observations
	requests   []protocol.Command
	writeCalls int
	resets     int
	closed     bool
	unplugged  bool
}

type chunk struct {
	data    []byte
	readyAt time.Time
}

// Option configures a Device.
type Option func(*Device)

// WithFamily selects the emulated chip family. Families without a
// GET_SECURITY_INFO chip id only answer the magic register probe.
func WithFamily(f chip.Family) Option {
	return func(d *Device) {
		d.family = f
		d.securityInfo = f.ChipID >= 0
	}
}

// WithoutSecurityInfo makes GET_SECURITY_INFO fail with a ROM status error.
func WithoutSecurityInfo() Option {
	return func(d *Device) { d.securityInfo = false }
}

// WithSecurity sets the secure boot and flash encryption flags.
func WithSecurity(secureBoot, flashEncryption bool) Option {
	return func(d *Device) {
		d.secureBoot = secureBoot
		d.flashCrypt = flashEncryption
	}
}

// WithMAC sets the factory MAC.
func WithMAC(mac [6]byte) Option {
	return func(d *Device) { d.setMAC(mac) }
}

// WithRegister presets a register value.
func WithRegister(addr, value uint32) Option {
	return func(d *Device) { d.regs[addr] = value }
}

// WithFlash writes data into the flash image at offset.
func WithFlash(offset uint32, data []byte) Option {
	return func(d *Device) {
		end := int(offset) + len(data)
		if end > len(d.flash) {
			grown := bytes.Repeat([]byte{0xFF}, end)
			copy(grown, d.flash)
			d.flash = grown
		}
		copy(d.flash[offset:], data)
	}
}

// WithPartitions replaces the partition table image.
func WithPartitions(entries []partition.Entry, withDigest bool) Option {
	return WithFlash(partition.TableOffset, partition.Encode(entries, withDigest))
}

// WithLogLines sets the lines printed when the device boots into firmware.
func WithLogLines(lines ...string) Option {
	return func(d *Device) { d.lines = append([]string(nil), lines...) }
}

// WithSyncEcho sets how many responses a SYNC request produces.
func WithSyncEcho(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.syncEcho = n
		}
	}
}

// WithResponseDelay holds every response back for delay.
func WithResponseDelay(delay time.Duration) Option {
	return func(d *Device) { d.delay = delay }
}

// WithSilent makes the device swallow every request.
func WithSilent() Option {
	return func(d *Device) { d.silent = true }
}

// WithLogger sets the device logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates an ESP32-S3 in bootloader mode with the default register map,
// flash image and partition table.
func New(opts ...Option) *Device {
	d := &Device{
		notify:       make(chan struct{}, 1),
		logger:       logger.GetLogger(),
		family:       chip.ESP32S3,
		securityInfo: true,
		syncEcho:     DefaultSyncEcho,
		regs:         map[uint32]uint32{DemoRegister: DemoRegisterValue},
		flash:        bytes.Repeat([]byte{0xFF}, DefaultFlashSize),
		decoder:      protocol.NewDecoder(),
		lines:        append([]string(nil), DefaultLogLines...),
		baud:         115200,
	}
	d.setMAC(DefaultMAC)

	// second stage bootloader image header
	copy(d.flash, []byte{0xE9, 0x03, 0x02, 0x4F})

	WithPartitions(DefaultPartitions, true)(d)

	for _, opt := range opts {
		opt(d)
	}

	// families differ in magic and MAC registers
	if _, ok := d.regs[chip.ChipDetectMagicReg]; !ok && len(d.family.Magic) > 0 {
		d.regs[chip.ChipDetectMagicReg] = d.family.Magic[0]
	}
	if _, ok := d.regs[d.family.MACRegisters[0]]; !ok {
		d.setMAC(DefaultMAC)
	}

	return d
}

// Opener returns a transport.Opener that hands out this device.
func (d *Device) Opener() transport.Opener {
	return transport.OpenerFunc(func(_ transport.PortDescriptor, baud int) (transport.Port, error) {
		d.mu.Lock()
		defer d.mu.Unlock()

		if d.unplugged {
			return nil, fmt.Errorf("%w: %w", transport.ErrPortUnavailable, ErrUnplugged)
		}
		d.closed = false
		d.baud = baud
		d.decoder.Reset()
		d.out = nil

		return d, nil
	})
}

func (d *Device) setMAC(mac [6]byte) {
	regs := d.family.MACRegisters
	if d.family.Name == chip.ESP8266.Name || len(regs) < 2 {
		return
	}
	d.regs[regs[0]] = uint32(mac[2])<<24 | uint32(mac[3])<<16 | uint32(mac[4])<<8 | uint32(mac[5])
	d.regs[regs[1]] = uint32(mac[0])<<8 | uint32(mac[1])
}

// --- transport.Port ---

func (d *Device) Write(data []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.usable(); err != nil {
		return 0, err
	}
	d.writeCalls++

	if d.mode == modeFirmware {
		return len(data), nil
	}

	frames, err := d.decoder.Feed(data)
	if err != nil {
		d.logger.Debug("simulator: dropped malformed request", "error", err)
	}

	for _, f := range frames {
		if f.IsResponse() {
			continue
		}
		d.handle(f.Command())
	}

	return len(data), nil
}

func (d *Device) ReadAvailable(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	for {
		d.mu.Lock()
		if err := d.usable(); err != nil {
			d.mu.Unlock()

			return nil, err
		}

		now := time.Now()
		var (
			data []byte
			next time.Time
		)
		for len(d.out) > 0 && !d.out[0].readyAt.After(now) {
			data = append(data, d.out[0].data...)
			d.out = d.out[1:]
		}
		if len(d.out) > 0 {
			next = d.out[0].readyAt
		}
		d.mu.Unlock()

		if len(data) > 0 {
			return data, nil
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return []byte{}, nil
		}
		if !next.IsZero() {
			if untilNext := time.Until(next); untilNext < wait {
				wait = max(untilNext, 0)
			}
		}

		t := time.NewTimer(wait)
		select {
		case <-d.notify:
		case <-t.C:
		}
		t.Stop()
	}
}

func (d *Device) SetBaudRate(baud int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.usable(); err != nil {
		return err
	}
	d.baud = baud

	return nil
}

// SetControlLines drives EN through RTS and IO0 through DTR, the way the
// auto-reset circuit on development boards is wired. Releasing EN while IO0
// is held low boots the ROM bootloader; otherwise the firmware boots.
func (d *Device) SetControlLines(dtr, rts bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.usable(); err != nil {
		return err
	}

	released := d.rts && !rts
	d.dtr, d.rts = dtr, rts
	if !released {
		return nil
	}

	d.resets++
	d.decoder.Reset()
	d.out = nil
	if dtr {
		d.mode = modeBootloader
		d.logger.Debug("simulator: reset into bootloader")

		return nil
	}

	d.mode = modeFirmware
	d.logger.Debug("simulator: reset into firmware")
	for _, line := range d.lines {
		d.enqueueLocked([]byte(line + "\r\n"))
	}

	return nil
}

func (d *Device) ResetInputBuffer() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.usable(); err != nil {
		return err
	}

	// delayed responses are still on the wire
	now := time.Now()
	kept := d.out[:0]
	for _, c := range d.out {
		if c.readyAt.After(now) {
			kept = append(kept, c)
		}
	}
	d.out = kept

	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.wake()

	return nil
}

func (d *Device) usable() error {
	switch {
	case d.unplugged:
		return fmt.Errorf("%w: %w", transport.ErrIO, ErrUnplugged)
	case d.closed:
		return transport.ErrClosed
	}

	return nil
}

// --- fault injection and observation ---

// SetSilent toggles whether the device answers requests.
func (d *Device) SetSilent(silent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent = silent
}

// IgnoreSyncs drops the next n SYNC requests.
func (d *Device) IgnoreSyncs(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncIgnore = n
}

// InjectStale precedes each of the next n responses with a response that
// carries the previous sequence id.
func (d *Device) InjectStale(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stale = n
}

// CorruptNext flips the checksum of the next n responses.
func (d *Device) CorruptNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corrupt = n
}

// Unplug simulates the device dropping off the USB bus.
func (d *Device) Unplug() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unplugged = true
	d.wake()
}

// EmitLine queues a log line as if printed by the firmware.
func (d *Device) EmitLine(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueueLocked([]byte(line + "\n"))
}

// EmitRaw queues raw bytes on the line.
func (d *Device) EmitRaw(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueueLocked(append([]byte(nil), data...))
}

// Requests returns every decoded request in arrival order.
func (d *Device) Requests() []protocol.Command {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]protocol.Command(nil), d.requests...)
}

// CountRequests returns how many requests carried opcode op.
func (d *Device) CountRequests(op protocol.Opcode) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, r := range d.requests {
		if r.Opcode == op {
			n++
		}
	}

	return n
}

// WriteCalls returns the number of Write calls received.
func (d *Device) WriteCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.writeCalls
}

// Resets returns the number of EN releases seen on the control lines.
func (d *Device) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.resets
}

// InFirmware reports whether the device last booted into firmware.
func (d *Device) InFirmware() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.mode == modeFirmware
}

// BaudRate returns the current line rate.
func (d *Device) BaudRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.baud
}

// Closed reports whether the port handle is closed.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.closed
}

// Register returns the current value of a register.
func (d *Device) Register(addr uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.regs[addr]
}

// FlashMD5 returns the MD5 of a flash range.
func (d *Device) FlashMD5(offset, length uint32) [16]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	return md5.Sum(d.flashRange(offset, length)) //nolint:gosec
}

func (d *Device) enqueueLocked(data []byte) {
	d.out = append(d.out, chunk{data: data, readyAt: time.Now().Add(d.delay)})
	d.wake()
}

func (d *Device) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}
