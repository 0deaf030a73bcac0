package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_KnownProduct(t *testing.T) {
	info, ok := Resolve(0x1A86, 0x55D3)
	require.True(t, ok)

	assert.Equal(t, "QinHeng Electronics", info.VendorName)
	assert.Equal(t, "CH343 Bridge", info.ProductName)
	assert.Equal(t, "CH343", info.ChipName)
	assert.Equal(t, 6_000_000, info.MaxBaudRate)
	assert.Equal(t, 6_000_000, info.SafeBaudRate())
	assert.True(t, info.HasProduct())
	assert.True(t, info.HasBaudRate())
}

func TestResolve_CapabilityNameWhenNoDisplayName(t *testing.T) {
	info, ok := Resolve(0x0403, 0x6014)
	require.True(t, ok)

	assert.Equal(t, "FT232H", info.ProductName)
	assert.Equal(t, 12_000_000, info.MaxBaudRate)
}

func TestResolve_EspressifDevKit(t *testing.T) {
	info, ok := Resolve(0x303A, 0x4001)
	require.True(t, ok)

	assert.Equal(t, "Espressif Systems", info.VendorName)
	assert.Equal(t, "ESP32-S3 DevKit", info.ProductName)
	assert.False(t, info.HasBaudRate())
	assert.Equal(t, 2_000_000, info.SafeBaudRate(), "falls back to vendor floor")
}

func TestResolve_KnownVendorUnknownProduct(t *testing.T) {
	info, ok := Resolve(0x1A86, 0xBEEF)
	require.True(t, ok)

	assert.Equal(t, "QinHeng Electronics", info.VendorName)
	assert.False(t, info.HasProduct())
	assert.Zero(t, info.MaxBaudRate)
	assert.Equal(t, 460_800, info.SafeBaudRate())
}

func TestResolve_UnknownVendor(t *testing.T) {
	info, ok := Resolve(0xDEAD, 0x0001)
	assert.False(t, ok)
	assert.Equal(t, Info{}, info)
	assert.Equal(t, DefaultBaudRate, info.SafeBaudRate())
}

func TestVendorName(t *testing.T) {
	name, ok := VendorName(0x10C4)
	require.True(t, ok)
	assert.Equal(t, "Silicon Labs (CP210x)", name)

	_, ok = VendorName(0x1234)
	assert.False(t, ok)
}

func TestInfo_String(t *testing.T) {
	info, _ := Resolve(0x303A, 0x4001)
	assert.Equal(t, "Espressif Systems ESP32-S3 DevKit (303A:4001)", info.String())
}
