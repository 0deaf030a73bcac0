package transport

import (
	"fmt"
	"sort"
	"strconv"

	"go.bug.st/serial/enumerator"
)

// ListPorts returns the serial ports present on the host, sorted by name.
// USB ports carry their vendor and product ids.
func ListPorts() ([]PortDescriptor, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("transport: enumerate ports: %w", err)
	}

	return describePorts(details), nil
}

func describePorts(details []*enumerator.PortDetails) []PortDescriptor {
	ports := make([]PortDescriptor, 0, len(details))
	for _, d := range details {
		if d == nil {
			continue
		}

		desc := PortDescriptor{Name: d.Name}
		if d.IsUSB {
			desc.VendorID = parseHexID(d.VID)
			desc.ProductID = parseHexID(d.PID)
			desc.SerialNumber = d.SerialNumber
			desc.Product = d.Product
		}
		ports = append(ports, desc)
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })

	return ports
}

// parseHexID parses the hex id strings reported by the enumerator, such as
// "303a" or "0x10C4". Unparseable ids become zero.
func parseHexID(s string) uint16 {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}

	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}

	return uint16(v)
}
