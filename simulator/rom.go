package simulator

import (
	"crypto/md5" //nolint:gosec // flash digest
	"encoding/binary"

	"github.com/arloliu/go-espconn/protocol"
)

// ROM status codes returned with a failed command.
const (
	statusFailed byte = 0x01
)

// handle executes one request. d.mu is held.
func (d *Device) handle(cmd protocol.Command) {
	d.requests = append(d.requests, cmd)

	if d.silent {
		return
	}

	if cmd.Opcode == protocol.OpSync && d.syncIgnore > 0 {
		d.syncIgnore--

		return
	}

	data, code := d.execute(cmd)

	status := byte(0)
	if code != 0 {
		status = statusFailed
	}
	rsp := protocol.Response{Opcode: cmd.Opcode, Seq: cmd.Seq, Status: status, Code: code, Data: data}

	if d.stale > 0 {
		d.stale--
		staleRsp := rsp
		staleRsp.Seq = cmd.Seq - 1
		staleRsp.Data = []byte{0xDE, 0xAD, 0xBE, 0xEF}
		d.send(staleRsp)
	}

	echoes := 1
	if cmd.Opcode == protocol.OpSync {
		echoes = d.syncEcho
	}
	for range echoes {
		d.send(rsp)
	}
}

func (d *Device) send(rsp protocol.Response) {
	wire, err := protocol.EncodeResponse(rsp)
	if err != nil {
		d.logger.Error("simulator: encode response", "opcode", rsp.Opcode, "error", err)

		return
	}

	if d.corrupt > 0 {
		d.corrupt--
		corruptChecksum(wire)
	}

	d.enqueueLocked(wire)
}

// corruptChecksum flips the checksum byte in an encoded frame, keeping it
// clear of the reserved SLIP bytes.
func corruptChecksum(wire []byte) {
	i := len(wire) - 2
	if wire[i-1] == protocol.FrameEsc {
		// escaped checksum: swap the escape code for the other one
		if wire[i] == protocol.EscEnd {
			wire[i] = protocol.EscEsc
		} else {
			wire[i] = protocol.EscEnd
		}

		return
	}

	wire[i] ^= 0x01
	if wire[i] == protocol.FrameEnd || wire[i] == protocol.FrameEsc {
		wire[i] ^= 0x03
	}
}

// execute returns the response data and a ROM error code, zero on success.
func (d *Device) execute(cmd protocol.Command) ([]byte, byte) {
	p := cmd.Payload

	switch cmd.Opcode {
	case protocol.OpSync:
		if len(p) != len(protocol.SyncPayload()) {
			return nil, protocol.CodeInvalidMessage
		}

		return le32(0), 0

	case protocol.OpGetSecurityInfo:
		if !d.securityInfo {
			return nil, protocol.CodeInvalidMessage
		}

		return d.securityInfoBody(), 0

	case protocol.OpReadReg:
		if len(p) < 4 {
			return nil, protocol.CodeInvalidMessage
		}

		return le32(d.regs[word(p, 0)]), 0

	case protocol.OpWriteReg:
		if len(p) < 16 {
			return nil, protocol.CodeInvalidMessage
		}
		addr, value, mask := word(p, 0), word(p, 1), word(p, 2)
		d.regs[addr] = d.regs[addr]&^mask | value&mask

		return nil, 0

	case protocol.OpSPIFlashMD5:
		if len(p) < 16 {
			return nil, protocol.CodeInvalidMessage
		}
		offset, length := word(p, 0), word(p, 1)
		if uint64(offset)+uint64(length) > uint64(len(d.flash)) {
			return nil, protocol.CodeFlashReadError
		}
		sum := md5.Sum(d.flashRange(offset, length)) //nolint:gosec

		return sum[:], 0

	case protocol.OpReadFlashSlow:
		if len(p) < 8 {
			return nil, protocol.CodeInvalidMessage
		}
		offset, length := word(p, 0), word(p, 1)
		if uint64(offset)+uint64(length) > uint64(len(d.flash)) {
			return nil, protocol.CodeFlashReadError
		}
		if int(length)+protocol.StatusSize > protocol.MaxPayload {
			return nil, protocol.CodeFlashReadLength
		}

		return append([]byte(nil), d.flashRange(offset, length)...), 0

	case protocol.OpChangeBaudRate:
		if len(p) < 8 {
			return nil, protocol.CodeInvalidMessage
		}
		// the new rate takes effect once the response is out
		d.baud = int(word(p, 0))

		return nil, 0

	case protocol.OpSPIAttach, protocol.OpSPISetParams:
		return nil, 0
	}

	return nil, protocol.CodeInvalidMessage
}

// securityInfoBody lays out flags, flash_crypt_cnt, key purposes, chip id
// and eco version.
func (d *Device) securityInfoBody() []byte {
	body := make([]byte, 20)
	if d.secureBoot {
		binary.LittleEndian.PutUint32(body[0:], 0x1)
	}
	if d.flashCrypt {
		body[4] = 0x01
	}
	binary.LittleEndian.PutUint32(body[12:], uint32(max(d.family.ChipID, 0))) //nolint:gosec

	return body
}

func (d *Device) flashRange(offset, length uint32) []byte {
	end := uint64(offset) + uint64(length)
	if end > uint64(len(d.flash)) {
		return nil
	}

	return d.flash[offset:end]
}

func word(p []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(p[4*i:])
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)

	return b
}
