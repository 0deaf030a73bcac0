package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/arloliu/go-espconn/partition"
)

// offsetPresets are the usual flash locations of an ESP-IDF image.
var offsetPresets = map[string]uint32{
	"bootloader": 0x0,
	"partitions": partition.TableOffset,
	"app":        0x10000,
}

// parseOffset accepts a preset name, a hex value with 0x prefix or a
// decimal value.
func parseOffset(s string) (uint32, error) {
	if v, ok := offsetPresets[strings.ToLower(s)]; ok {
		return v, nil
	}

	return parseUint32(s)
}

// parseUint32 parses a hex (0x) or decimal number. A k or m suffix scales
// by 1024 or 1024*1024.
func parseUint32(s string) (uint32, error) {
	mult := uint64(1)
	switch {
	case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
		mult, s = 1<<10, s[:len(s)-1]
	case strings.HasSuffix(s, "m"), strings.HasSuffix(s, "M"):
		mult, s = 1<<20, s[:len(s)-1]
	}

	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	if v*mult > 1<<32-1 {
		return 0, fmt.Errorf("%q is out of range", s)
	}

	return uint32(v * mult), nil
}

func presetNames() string {
	names := make([]string, 0, len(offsetPresets))
	for name := range offsetPresets {
		names = append(names, fmt.Sprintf("%s=0x%x", name, offsetPresets[name]))
	}
	sort.Strings(names)

	return strings.Join(names, ", ")
}
