package chip

// PWM describes the LEDC peripheral of a chip family.
type PWM struct {
	HasLEDC          bool
	HasHighSpeedMode bool
	Timers           int
	Channels         int
	// MaxFreqHz1Bit is the highest output frequency at 1-bit resolution.
	MaxFreqHz1Bit int
	Notes         string
}

var pwmTable = map[string]PWM{
	"ESP32":    {HasLEDC: true, HasHighSpeedMode: true, Timers: 4, Channels: 8, MaxFreqHz1Bit: 40_000_000},
	"ESP32-S2": {HasLEDC: true, HasHighSpeedMode: true, Timers: 4, Channels: 8, MaxFreqHz1Bit: 8_000_000},
	"ESP32-S3": {HasLEDC: true, HasHighSpeedMode: true, Timers: 4, Channels: 8, MaxFreqHz1Bit: 8_000_000},
	"ESP32-C3": {HasLEDC: true, HasHighSpeedMode: true, Timers: 2, Channels: 6, MaxFreqHz1Bit: 4_000_000},
	"ESP32-C2": {HasLEDC: true, HasHighSpeedMode: true, Timers: 2, Channels: 4, MaxFreqHz1Bit: 2_000_000},
	"ESP32-C6": {HasLEDC: true, HasHighSpeedMode: true, Timers: 4, Channels: 8, MaxFreqHz1Bit: 4_000_000},
	"ESP32-H2": {HasLEDC: true, HasHighSpeedMode: true, Timers: 2, Channels: 4, MaxFreqHz1Bit: 2_000_000},
	"ESP32-P4": {HasLEDC: true, HasHighSpeedMode: true, Timers: 4, Channels: 8, MaxFreqHz1Bit: 8_000_000},
	"ESP8266":  {HasLEDC: false, Notes: "Uses software PWM only"},
}

// PWMCapabilities returns the LEDC capabilities for a family name.
func PWMCapabilities(name string) (PWM, bool) {
	p, ok := pwmTable[name]
	return p, ok
}
