package protocol

import "fmt"

// Opcode identifies a bootloader command. Values follow the ESP ROM numbering.
type Opcode byte

const (
	OpFlashBegin      Opcode = 0x02
	OpFlashData       Opcode = 0x03
	OpFlashEnd        Opcode = 0x04
	OpMemBegin        Opcode = 0x05
	OpMemEnd          Opcode = 0x06
	OpMemData         Opcode = 0x07
	OpSync            Opcode = 0x08
	OpWriteReg        Opcode = 0x09
	OpReadReg         Opcode = 0x0A
	OpSPISetParams    Opcode = 0x0B
	OpSPIAttach       Opcode = 0x0D
	OpReadFlashSlow   Opcode = 0x0E
	OpChangeBaudRate  Opcode = 0x0F
	OpSPIFlashMD5     Opcode = 0x13
	OpGetSecurityInfo Opcode = 0x14
)

func (o Opcode) String() string {
	switch o {
	case OpFlashBegin:
		return "FLASH_BEGIN"
	case OpFlashData:
		return "FLASH_DATA"
	case OpFlashEnd:
		return "FLASH_END"
	case OpMemBegin:
		return "MEM_BEGIN"
	case OpMemEnd:
		return "MEM_END"
	case OpMemData:
		return "MEM_DATA"
	case OpSync:
		return "SYNC"
	case OpWriteReg:
		return "WRITE_REG"
	case OpReadReg:
		return "READ_REG"
	case OpSPISetParams:
		return "SPI_SET_PARAMS"
	case OpSPIAttach:
		return "SPI_ATTACH"
	case OpReadFlashSlow:
		return "READ_FLASH_SLOW"
	case OpChangeBaudRate:
		return "CHANGE_BAUDRATE"
	case OpSPIFlashMD5:
		return "SPI_FLASH_MD5"
	case OpGetSecurityInfo:
		return "GET_SECURITY_INFO"
	default:
		return fmt.Sprintf("OP(0x%02X)", byte(o))
	}
}
