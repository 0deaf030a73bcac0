// Package chip holds read-only data about ESP chip families: how the ROM
// bootloader identifies them, where the factory MAC lives in eFuse, and what
// the LEDC PWM peripheral offers.
package chip

import (
	"errors"
	"fmt"
)

// ChipDetectMagicReg is read on ROMs that predate GET_SECURITY_INFO.
const ChipDetectMagicReg uint32 = 0x40001000

// ErrMACWords is returned when DecodeMAC gets the wrong number of register words.
var ErrMACWords = errors.New("chip: wrong number of MAC register words")

// Family describes one ESP chip family.
type Family struct {
	Name string
	// ChipID is the id reported by GET_SECURITY_INFO; -1 when the ROM
	// does not implement that command.
	ChipID int
	// Magic values found at ChipDetectMagicReg.
	Magic []uint32
	// MACRegisters are read in order and passed to DecodeMAC.
	MACRegisters []uint32
}

var (
	ESP8266 = Family{Name: "ESP8266", ChipID: -1, Magic: []uint32{0xFFF0C101},
		MACRegisters: []uint32{0x3FF00050, 0x3FF00054, 0x3FF0005C}}
	ESP32 = Family{Name: "ESP32", ChipID: -1, Magic: []uint32{0x00F01D83},
		MACRegisters: []uint32{0x3FF5A004, 0x3FF5A008}}
	ESP32S2 = Family{Name: "ESP32-S2", ChipID: 2, Magic: []uint32{0x000007C6},
		MACRegisters: []uint32{0x3F41A044, 0x3F41A048}}
	ESP32S3 = Family{Name: "ESP32-S3", ChipID: 9, Magic: []uint32{0x00000009},
		MACRegisters: []uint32{0x60007044, 0x60007048}}
	ESP32C3 = Family{Name: "ESP32-C3", ChipID: 5, Magic: []uint32{0x6921506F, 0x1B31506F, 0x4881606F, 0x4361606F},
		MACRegisters: []uint32{0x60008844, 0x60008848}}
	ESP32C2 = Family{Name: "ESP32-C2", ChipID: 12, Magic: []uint32{0x6F51306F, 0x7C41A06F},
		MACRegisters: []uint32{0x60008840, 0x60008844}}
	ESP32C6 = Family{Name: "ESP32-C6", ChipID: 13, Magic: []uint32{0x2CE0806F},
		MACRegisters: []uint32{0x600B0844, 0x600B0848}}
	ESP32H2 = Family{Name: "ESP32-H2", ChipID: 16, Magic: []uint32{0xD7B73E80},
		MACRegisters: []uint32{0x600B0844, 0x600B0848}}
	ESP32P4 = Family{Name: "ESP32-P4", ChipID: 18,
		MACRegisters: []uint32{0x5012D044, 0x5012D048}}
)

// Families lists every known family.
var Families = []Family{ESP8266, ESP32, ESP32S2, ESP32S3, ESP32C3, ESP32C2, ESP32C6, ESP32H2, ESP32P4}

// ByChipID finds a family by its GET_SECURITY_INFO chip id.
func ByChipID(id uint32) (Family, bool) {
	for _, f := range Families {
		if f.ChipID >= 0 && uint32(f.ChipID) == id {
			return f, true
		}
	}

	return Family{}, false
}

// ByMagic finds a family by the value read from ChipDetectMagicReg.
func ByMagic(magic uint32) (Family, bool) {
	for _, f := range Families {
		for _, m := range f.Magic {
			if m == magic {
				return f, true
			}
		}
	}

	return Family{}, false
}

// ByName finds a family by its display name, e.g. "ESP32-S3".
func ByName(name string) (Family, bool) {
	for _, f := range Families {
		if f.Name == name {
			return f, true
		}
	}

	return Family{}, false
}

// DecodeMAC assembles the factory MAC from the words read at MACRegisters.
func (f Family) DecodeMAC(words []uint32) ([6]byte, error) {
	var mac [6]byte
	if len(words) != len(f.MACRegisters) {
		return mac, fmt.Errorf("%w: %s wants %d, got %d", ErrMACWords, f.Name, len(f.MACRegisters), len(words))
	}

	if f.Name == ESP8266.Name {
		return decodeESP8266MAC(words[0], words[1], words[2])
	}

	lo, hi := words[0], words[1]
	mac = [6]byte{byte(hi >> 8), byte(hi), byte(lo >> 24), byte(lo >> 16), byte(lo >> 8), byte(lo)}

	return mac, nil
}

// The ESP8266 stores only the NIC-specific part; the OUI is either burned
// into OTP word 3 or implied by a flag in word 1.
func decodeESP8266MAC(mac0, mac1, mac3 uint32) ([6]byte, error) {
	var oui [3]byte
	switch {
	case mac3 != 0:
		oui = [3]byte{byte(mac3 >> 16), byte(mac3 >> 8), byte(mac3)}
	case (mac1>>16)&0xFF == 0:
		oui = [3]byte{0x18, 0xFE, 0x34}
	case (mac1>>16)&0xFF == 1:
		oui = [3]byte{0xAC, 0xD0, 0x74}
	default:
		return [6]byte{}, fmt.Errorf("chip: unknown ESP8266 OUI selector 0x%02X", (mac1>>16)&0xFF)
	}

	return [6]byte{oui[0], oui[1], oui[2], byte(mac1 >> 8), byte(mac1), byte(mac0 >> 24)}, nil
}

// FormatMAC renders a MAC as lower-case colon separated hex.
func FormatMAC(mac [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}
