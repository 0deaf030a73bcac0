package espconn

import (
	"context"
	"crypto/md5" //nolint:gosec // the ROM digest is MD5
	"encoding/hex"
	"fmt"
	"time"

	"github.com/arloliu/go-espconn/protocol"
)

const mib = 1 << 20

// Tool operation names carried by EventToolCompleted.
const (
	OpReadRegister  = "read-register"
	OpWriteRegister = "write-register"
	OpChecksumRange = "checksum-range"
	OpReadFlash     = "read-flash"
	OpPartitions    = "partition-table"
)

// RegisterValue is a register address with its contents.
type RegisterValue struct {
	Address uint32
	Value   uint32
}

func (r RegisterValue) String() string {
	return fmt.Sprintf("0x%08x = 0x%08x", r.Address, r.Value)
}

// Digest is the MD5 of a flash range.
type Digest struct {
	Offset   uint32
	Length   uint32
	Sum      [md5.Size]byte
	Strategy DigestStrategy
}

// Hex returns the digest as 32 lowercase hex digits.
func (d Digest) Hex() string { return hex.EncodeToString(d.Sum[:]) }

func (d Digest) String() string { return d.Hex() }

// ReadRegister reads a 32-bit register.
func (c *Connection) ReadRegister(ctx context.Context, addr uint32) (RegisterValue, error) {
	v, err := c.readRegister(ctx, addr)
	c.toolCompleted(OpReadRegister, err)

	return RegisterValue{Address: addr, Value: v}, err
}

func (c *Connection) readRegister(ctx context.Context, addr uint32) (uint32, error) {
	rsp, err := c.Execute(ctx, protocol.OpReadReg, protocol.ReadRegPayload(addr), 0)
	if err != nil {
		return 0, err
	}
	if err := rsp.Err(); err != nil {
		return 0, err
	}

	return protocol.ParseUint32(rsp.Data)
}

// WriteRegister writes a 32-bit register. It succeeds only when the device
// acknowledges the write.
func (c *Connection) WriteRegister(ctx context.Context, addr, value uint32) error {
	err := c.writeRegister(ctx, addr, value)
	c.toolCompleted(OpWriteRegister, err)

	return err
}

func (c *Connection) writeRegister(ctx context.Context, addr, value uint32) error {
	rsp, err := c.Execute(ctx, protocol.OpWriteReg, protocol.WriteRegPayload(addr, value), 0)
	if err != nil {
		return err
	}

	return rsp.Err()
}

// ChecksumRange returns the MD5 of length bytes of flash starting at offset,
// using the configured DigestStrategy. An empty range yields the MD5 of no
// data without talking to the device.
func (c *Connection) ChecksumRange(ctx context.Context, offset, length uint32) (Digest, error) {
	d, err := c.checksumRange(ctx, offset, length, c.cfg.digestStrategy)
	c.toolCompleted(OpChecksumRange, err)

	return d, err
}

func (c *Connection) checksumRange(ctx context.Context, offset, length uint32, strategy DigestStrategy) (Digest, error) {
	d := Digest{Offset: offset, Length: length, Strategy: strategy}

	if err := c.checkReady(); err != nil {
		return d, err
	}
	if uint64(offset)+uint64(length) > 1<<32 {
		return d, fmt.Errorf("espconn: range 0x%08x+0x%x exceeds the address space", offset, length)
	}
	if length == 0 {
		d.Sum = md5.Sum(nil) //nolint:gosec

		return d, nil
	}

	var err error
	switch strategy {
	case DigestStreamed:
		d.Sum, err = c.digestStreamed(ctx, offset, length)
	default:
		d.Sum, err = c.digestOnDevice(ctx, offset, length)
	}

	return d, err
}

// digestOnDevice lets the ROM hash the range. The timeout grows with the
// range size.
func (c *Connection) digestOnDevice(ctx context.Context, offset, length uint32) ([md5.Size]byte, error) {
	megabytes := (int64(length) + mib - 1) / mib
	timeout := c.cfg.commandTimeout + time.Duration(megabytes)*c.cfg.md5TimeoutPerMB

	rsp, err := c.Execute(ctx, protocol.OpSPIFlashMD5, protocol.MD5Payload(offset, length), timeout)
	if err != nil {
		return [md5.Size]byte{}, &ChunkError{Offset: offset, Err: err}
	}
	if err := rsp.Err(); err != nil {
		return [md5.Size]byte{}, &ChunkError{Offset: offset, Err: err}
	}

	return protocol.ParseMD5(rsp.Data)
}

func (c *Connection) digestStreamed(ctx context.Context, offset, length uint32) ([md5.Size]byte, error) {
	var sum [md5.Size]byte

	h := md5.New() //nolint:gosec
	err := c.streamFlash(ctx, offset, length, func(chunk []byte) error {
		_, err := h.Write(chunk)
		return err
	})
	if err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))

	return sum, nil
}

// ReadFlash reads length bytes of flash starting at offset.
func (c *Connection) ReadFlash(ctx context.Context, offset, length uint32) ([]byte, error) {
	data, err := c.readFlash(ctx, offset, length)
	c.toolCompleted(OpReadFlash, err)

	return data, err
}

func (c *Connection) readFlash(ctx context.Context, offset, length uint32) ([]byte, error) {
	if err := c.checkReady(); err != nil {
		return nil, err
	}

	data := make([]byte, 0, length)
	err := c.streamFlash(ctx, offset, length, func(chunk []byte) error {
		data = append(data, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}

// streamFlash reads the range in READ_FLASH_SLOW chunks and hands each one
// to fn. A failure is reported as a *ChunkError with the chunk offset.
func (c *Connection) streamFlash(ctx context.Context, offset, length uint32, fn func([]byte) error) error {
	chunkSize := uint32(c.cfg.readChunkSize) //nolint:gosec // bounded by MaxReadChunkSize

	for pos, end := offset, uint64(offset)+uint64(length); uint64(pos) < end; {
		n := uint32(min(uint64(chunkSize), end-uint64(pos)))

		rsp, err := c.Execute(ctx, protocol.OpReadFlashSlow, protocol.ReadFlashPayload(pos, n), 0)
		if err != nil {
			return &ChunkError{Offset: pos, Err: err}
		}
		if err := rsp.Err(); err != nil {
			return &ChunkError{Offset: pos, Err: err}
		}
		if uint32(len(rsp.Data)) < n { //nolint:gosec // bounded by MaxPayload
			return &ChunkError{Offset: pos, Err: fmt.Errorf("%w: got %d of %d bytes", protocol.ErrShortPayload, len(rsp.Data), n)}
		}

		if err := fn(rsp.Data[:n]); err != nil {
			return &ChunkError{Offset: pos, Err: err}
		}
		pos += n
	}

	return nil
}

func (c *Connection) checkReady() error {
	if st := c.State(); st != ReadyState && st != BusyState {
		return errNotReady(st)
	}

	return nil
}

func (c *Connection) toolCompleted(op string, err error) {
	if err != nil {
		c.logger.Debug("espconn: tool operation failed", "op", op, "error", err)
	}
	c.events.publish(Event{Kind: EventToolCompleted, State: c.State(), Op: op, Err: err})
}
