package bridge

// USB vendor ids with known bridge chips.
const (
	VendorEspressif uint16 = 0x303A
	VendorWCH       uint16 = 0x1A86
	VendorSiLabs    uint16 = 0x10C4
	VendorFTDI      uint16 = 0x0403
)

type product struct {
	name        string
	maxBaudRate int
}

type vendor struct {
	name     string
	products map[uint16]product
}

// shortVendorNames are the compact labels shown next to a port.
var shortVendorNames = map[uint16]string{
	VendorEspressif: "Espressif",
	VendorWCH:       "WCH (CH34x)",
	VendorSiLabs:    "Silicon Labs (CP210x)",
	VendorFTDI:      "FTDI",
}

// productNames holds board or interface names keyed by vid<<16|pid. Some of
// them (for example Espressif dev kits) have no capability entry.
var productNames = map[uint32]string{
	key(VendorWCH, 0x55D3):       "CH343 Bridge",
	key(VendorWCH, 0x7523):       "CH340 USB-Serial",
	key(VendorEspressif, 0x1001): "USB JTAG/Serial",
	key(VendorEspressif, 0x4001): "ESP32-S3 DevKit",
	key(VendorEspressif, 0x4002): "USB JTAG/Serial (CDC)",
	key(VendorSiLabs, 0xEA60):    "CP210x USB-Serial",
	key(VendorFTDI, 0x6001):      "FT232R USB UART",
}

var capabilities = map[uint16]vendor{
	VendorWCH: {
		name: "QinHeng Electronics",
		products: map[uint16]product{
			0x7522: {"CH340", 460_800},
			0x7523: {"CH340", 460_800},
			0x7584: {"CH340", 460_800},
			0x5523: {"CH341", 2_000_000},
			0x55D3: {"CH343", 6_000_000},
			0x55D4: {"CH9102", 6_000_000},
			0x55D8: {"CH9101", 3_000_000},
		},
	},
	VendorSiLabs: {
		name: "Silicon Labs",
		products: map[uint16]product{
			0xEA60: {"CP2102(n)", 3_000_000},
			0xEA70: {"CP2105", 2_000_000},
			0xEA71: {"CP2108", 2_000_000},
		},
	},
	VendorFTDI: {
		name: "FTDI",
		products: map[uint16]product{
			0x6001: {"FT232R", 3_000_000},
			0x6010: {"FT2232", 3_000_000},
			0x6011: {"FT4232", 3_000_000},
			0x6014: {"FT232H", 12_000_000},
			0x6015: {"FT230X", 3_000_000},
		},
	},
	VendorEspressif: {
		name: "Espressif Systems",
		products: map[uint16]product{
			0x0002: {"ESP32-S2 Native USB", 2_000_000},
			0x1000: {"ESP32 Native USB", 2_000_000},
			0x1001: {"ESP32 Native USB", 2_000_000},
			0x1002: {"ESP32 Native USB", 2_000_000},
			0x4002: {"ESP32 Native USB (CDC)", 2_000_000},
		},
	},
}

func key(vid, pid uint16) uint32 {
	return uint32(vid)<<16 | uint32(pid)
}
