package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// SyncPayload returns the fixed 36 byte body of a SYNC request.
func SyncPayload() []byte {
	p := make([]byte, 36)
	copy(p, []byte{0x07, 0x07, 0x12, 0x20})
	for i := 4; i < len(p); i++ {
		p[i] = 0x55
	}

	return p
}

// ReadRegPayload builds the READ_REG body.
func ReadRegPayload(addr uint32) []byte {
	return le32(addr)
}

// WriteRegPayload builds the WRITE_REG body: address, value, mask and delay.
// The mask covers every bit and no delay is requested.
func WriteRegPayload(addr, value uint32) []byte {
	return le32(addr, value, 0xFFFFFFFF, 0)
}

// MD5Payload builds the SPI_FLASH_MD5 body for the given flash range.
func MD5Payload(offset, length uint32) []byte {
	return le32(offset, length, 0, 0)
}

// ReadFlashPayload builds the READ_FLASH_SLOW body.
func ReadFlashPayload(offset, length uint32) []byte {
	return le32(offset, length)
}

// ChangeBaudPayload builds the CHANGE_BAUDRATE body. The ROM loader
// expects the old rate as zero; the stub expects the current rate.
func ChangeBaudPayload(newBaud, oldBaud uint32) []byte {
	return le32(newBaud, oldBaud)
}

// ParseUint32 reads the little-endian word at the start of data.
// READ_REG responses carry the register value there.
func ParseUint32(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("%w: need 4 bytes, got %d", ErrShortPayload, len(data))
	}

	return binary.LittleEndian.Uint32(data[:4]), nil
}

// SecurityInfo is the decoded body of a GET_SECURITY_INFO response.
type SecurityInfo struct {
	Flags         uint32
	FlashCryptCnt uint8
	KeyPurposes   [7]byte
	// ChipID and EcoVersion are only reported by newer ROMs.
	ChipID     uint32
	EcoVersion uint32
	HasChipID  bool
}

// SecureBoot reports whether secure boot is enabled.
func (s SecurityInfo) SecureBoot() bool { return s.Flags&0x1 != 0 }

// FlashEncryption reports whether flash encryption is enabled. The eFuse
// counter enables encryption when an odd number of bits are set.
func (s SecurityInfo) FlashEncryption() bool {
	n := 0
	for c := s.FlashCryptCnt; c != 0; c &= c - 1 {
		n++
	}

	return n%2 == 1
}

const (
	securityInfoShort = 12
	securityInfoLong  = 20
)

// ParseSecurityInfo decodes a GET_SECURITY_INFO response body.
func ParseSecurityInfo(data []byte) (SecurityInfo, error) {
	if len(data) < securityInfoShort {
		return SecurityInfo{}, fmt.Errorf("%w: security info has %d bytes", ErrShortPayload, len(data))
	}

	var info SecurityInfo
	info.Flags = binary.LittleEndian.Uint32(data[0:4])
	info.FlashCryptCnt = data[4]
	copy(info.KeyPurposes[:], data[5:12])
	if len(data) >= securityInfoLong {
		info.ChipID = binary.LittleEndian.Uint32(data[12:16])
		info.EcoVersion = binary.LittleEndian.Uint32(data[16:20])
		info.HasChipID = true
	}

	return info, nil
}

// ParseMD5 decodes an SPI_FLASH_MD5 response body. The ROM loader answers
// with 32 ASCII hex characters, the stub with 16 raw bytes.
func ParseMD5(data []byte) ([16]byte, error) {
	var sum [16]byte
	switch {
	case len(data) >= 32:
		if _, err := hex.Decode(sum[:], data[:32]); err != nil {
			return sum, fmt.Errorf("protocol: bad hex digest: %w", err)
		}
	case len(data) >= 16:
		copy(sum[:], data[:16])
	default:
		return sum, fmt.Errorf("%w: digest has %d bytes", ErrShortPayload, len(data))
	}

	return sum, nil
}

func le32(words ...uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}

	return b
}
