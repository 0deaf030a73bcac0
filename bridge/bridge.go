package bridge

import "fmt"

// DefaultBaudRate is used when nothing is known about the bridge. It is the
// rate every ESP ROM bootloader accepts after reset.
const DefaultBaudRate = 115_200

// Info describes a resolved USB-to-serial bridge.
type Info struct {
	VendorID   uint16
	ProductID  uint16
	VendorName string
	// ProductName is empty when the product is unknown.
	ProductName string
	// ChipName is the bridge IC (e.g. "CH343"); empty when unknown.
	ChipName string
	// MaxBaudRate is zero when the product has no documented limit.
	MaxBaudRate int

	// vendorFloor is the lowest documented rate of the vendor's products.
	vendorFloor int
}

// HasProduct reports whether the product was recognized.
func (i Info) HasProduct() bool { return i.ProductName != "" }

// HasBaudRate reports whether a documented maximum baud rate is known.
func (i Info) HasBaudRate() bool { return i.MaxBaudRate > 0 }

// SafeBaudRate returns the highest rate the caller should use: the product
// maximum when known, else the vendor's lowest documented rate, else
// DefaultBaudRate.
func (i Info) SafeBaudRate() int {
	switch {
	case i.MaxBaudRate > 0:
		return i.MaxBaudRate
	case i.vendorFloor > 0:
		return i.vendorFloor
	default:
		return DefaultBaudRate
	}
}

// String renders "Vendor Product (vid:pid)".
func (i Info) String() string {
	name := i.VendorName
	if i.ProductName != "" {
		name += " " + i.ProductName
	}

	return fmt.Sprintf("%s (%04X:%04X)", name, i.VendorID, i.ProductID)
}

// Resolve looks up the bridge for a USB vendor/product pair.
//
// The second result is false when the vendor is unknown; callers then fall
// back to DefaultBaudRate.
func Resolve(vid, pid uint16) (Info, bool) {
	v, ok := capabilities[vid]
	if !ok {
		return Info{}, false
	}

	info := Info{
		VendorID:    vid,
		ProductID:   pid,
		VendorName:  v.name,
		ProductName: productNames[key(vid, pid)],
		vendorFloor: v.floor(),
	}

	if p, ok := v.products[pid]; ok {
		info.ChipName = p.name
		info.MaxBaudRate = p.maxBaudRate
		if info.ProductName == "" {
			info.ProductName = p.name
		}
	}

	return info, true
}

// VendorName returns the short display name for a vendor id.
func VendorName(vid uint16) (string, bool) {
	name, ok := shortVendorNames[vid]
	return name, ok
}

// ProductName returns the display name registered for vid:pid.
func ProductName(vid, pid uint16) (string, bool) {
	name, ok := productNames[key(vid, pid)]
	return name, ok
}

// IsKnownVendor reports whether vid belongs to a bridge vendor in the tables.
// Port listings use it to pre-select likely ESP ports.
func IsKnownVendor(vid uint16) bool {
	_, ok := capabilities[vid]
	return ok
}

func (v vendor) floor() int {
	floor := 0
	for _, p := range v.products {
		if floor == 0 || p.maxBaudRate < floor {
			floor = p.maxBaudRate
		}
	}

	return floor
}
