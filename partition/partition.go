// Package partition decodes the ESP-IDF partition table.
//
// The table is a sequence of fixed 32 byte records stored at [TableOffset].
// Decoding stops at the first erased record, at the MD5 record that ESP-IDF
// appends after the last entry, or at the end of the region. A record that
// fails the structural checks truncates the table; the entries before it are
// still returned together with a [*TruncatedError].
package partition

import (
	"bytes"
	"crypto/md5" //nolint:gosec // ESP-IDF table digest
	"encoding/binary"
	"errors"
	"fmt"
)

// Constants for the partition table layout.
const (
	// TableOffset is the default flash offset of the table.
	TableOffset uint32 = 0x8000

	// TableSize is the size of the table region.
	TableSize uint32 = 0xC00

	// RecordSize is the size of one table record.
	RecordSize = 32

	// MaxRecords is the number of records that fit in the table region.
	MaxRecords = int(TableSize) / RecordSize

	// LabelSize is the size of the NUL-padded label field.
	LabelSize = 16

	// MaxFlashSize bounds the end of any partition.
	MaxFlashSize uint64 = 128 << 20

	// Alignment is the required alignment of partition offsets.
	Alignment uint32 = 0x1000
)

var (
	recordMagic = [2]byte{0xAA, 0x50}
	md5Magic    = [2]byte{0xEB, 0xEB}
)

// ErrDigestMismatch is returned when the MD5 record does not match the entries.
var ErrDigestMismatch = errors.New("partition: table MD5 mismatch")

// Type is the partition type byte.
type Type byte

const (
	TypeApp  Type = 0x00
	TypeData Type = 0x01
)

func (t Type) String() string {
	switch t {
	case TypeApp:
		return "app"
	case TypeData:
		return "data"
	default:
		return fmt.Sprintf("0x%02x", byte(t))
	}
}

// Flag bits.
const (
	FlagEncrypted uint32 = 1 << 0
	FlagReadOnly  uint32 = 1 << 1
)

// Entry is one partition.
type Entry struct {
	Type    Type
	SubType byte
	Label   string
	Offset  uint32
	Size    uint32
	Flags   uint32
}

// End returns the first offset past the partition.
func (e Entry) End() uint64 { return uint64(e.Offset) + uint64(e.Size) }

// Encrypted reports whether the partition is flash-encrypted.
func (e Entry) Encrypted() bool { return e.Flags&FlagEncrypted != 0 }

// ReadOnly reports whether the partition is marked read-only.
func (e Entry) ReadOnly() bool { return e.Flags&FlagReadOnly != 0 }

// SubTypeName returns the ESP-IDF name of the subtype.
func (e Entry) SubTypeName() string {
	switch e.Type {
	case TypeApp:
		switch {
		case e.SubType == 0x00:
			return "factory"
		case e.SubType >= 0x10 && e.SubType <= 0x1F:
			return fmt.Sprintf("ota_%d", e.SubType-0x10)
		case e.SubType == 0x20:
			return "test"
		}
	case TypeData:
		if name, ok := dataSubTypes[e.SubType]; ok {
			return name
		}
	}

	return fmt.Sprintf("0x%02x", e.SubType)
}

var dataSubTypes = map[byte]string{
	0x00: "ota",
	0x01: "phy",
	0x02: "nvs",
	0x03: "coredump",
	0x04: "nvs_keys",
	0x05: "efuse",
	0x06: "undefined",
	0x80: "esphttpd",
	0x81: "fat",
	0x82: "spiffs",
	0x83: "littlefs",
}

// Table is a decoded partition table.
type Table struct {
	Entries []Entry
	// HasDigest is set when the table carried an MD5 record.
	HasDigest bool
}

// Find returns the first entry with the given label.
func (t *Table) Find(label string) (Entry, bool) {
	for _, e := range t.Entries {
		if e.Label == label {
			return e, true
		}
	}

	return Entry{}, false
}

// TruncatedError reports a record that failed the structural checks.
// Index is the position of the rejected record.
type TruncatedError struct {
	Index  int
	Offset uint32
	Reason string
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("partition: table truncated at record %d (table offset 0x%x): %s",
		e.Index, e.Offset, e.Reason)
}

// Decode decodes the table region read from tableOffset.
//
// Structural failures never discard the entries decoded before them. The
// returned table is non-nil whenever data holds at least one byte.
func Decode(data []byte, tableOffset uint32) (*Table, error) {
	if len(data) == 0 {
		return nil, errors.New("partition: empty table region")
	}

	tbl := &Table{}
	tableEnd := uint64(tableOffset) + uint64(len(data))

	for i := 0; (i+1)*RecordSize <= len(data); i++ {
		rec := data[i*RecordSize : (i+1)*RecordSize]

		switch {
		case isErased(rec):
			return tbl, nil
		case rec[0] == md5Magic[0] && rec[1] == md5Magic[1]:
			tbl.HasDigest = true
			want := md5.Sum(data[:i*RecordSize]) //nolint:gosec
			if !bytes.Equal(want[:], rec[RecordSize-md5.Size:]) {
				return tbl, fmt.Errorf("%w: record %d", ErrDigestMismatch, i)
			}

			return tbl, nil
		}

		entry, reason := decodeRecord(rec)
		if reason == "" {
			reason = checkEntry(entry, tableOffset, tableEnd)
		}
		if reason != "" {
			return tbl, &TruncatedError{Index: i, Offset: uint32(i * RecordSize), Reason: reason} //nolint:gosec
		}

		tbl.Entries = append(tbl.Entries, entry)
	}

	return tbl, nil
}

// Encode serializes entries into a table region of TableSize bytes, followed
// by an MD5 record when withDigest is set. Labels longer than LabelSize are
// cut, and entries that do not fit in the region are dropped. The simulator
// and tests build tables with it.
func Encode(entries []Entry, withDigest bool) []byte {
	limit := MaxRecords
	if withDigest {
		limit-- // slot for the MD5 record
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}

	out := bytes.Repeat([]byte{0xFF}, int(TableSize))
	for i, e := range entries {
		rec := out[i*RecordSize : (i+1)*RecordSize]
		rec[0], rec[1] = recordMagic[0], recordMagic[1]
		rec[2] = byte(e.Type)
		rec[3] = e.SubType
		binary.LittleEndian.PutUint32(rec[4:8], e.Offset)
		binary.LittleEndian.PutUint32(rec[8:12], e.Size)
		label := rec[12 : 12+LabelSize]
		for j := range label {
			label[j] = 0
		}
		copy(label, e.Label)
		binary.LittleEndian.PutUint32(rec[28:32], e.Flags)
	}

	if withDigest {
		n := len(entries) * RecordSize
		rec := out[n : n+RecordSize]
		rec[0], rec[1] = md5Magic[0], md5Magic[1]
		sum := md5.Sum(out[:n]) //nolint:gosec
		copy(rec[RecordSize-md5.Size:], sum[:])
	}

	return out
}

func isErased(rec []byte) bool {
	return rec[0] == 0xFF && rec[1] == 0xFF
}

func decodeRecord(rec []byte) (Entry, string) {
	if rec[0] != recordMagic[0] || rec[1] != recordMagic[1] {
		return Entry{}, fmt.Sprintf("bad magic %02x%02x", rec[0], rec[1])
	}

	label := rec[12 : 12+LabelSize]
	if i := bytes.IndexByte(label, 0); i >= 0 {
		label = label[:i]
	}

	return Entry{
		Type:    Type(rec[2]),
		SubType: rec[3],
		Offset:  binary.LittleEndian.Uint32(rec[4:8]),
		Size:    binary.LittleEndian.Uint32(rec[8:12]),
		Label:   string(label),
		Flags:   binary.LittleEndian.Uint32(rec[28:32]),
	}, ""
}

func checkEntry(e Entry, tableOffset uint32, tableEnd uint64) string {
	switch {
	case e.Size == 0:
		return fmt.Sprintf("%q has zero size", e.Label)
	case e.Offset%Alignment != 0:
		return fmt.Sprintf("%q offset 0x%x is not 4 KiB aligned", e.Label, e.Offset)
	case e.End() > MaxFlashSize:
		return fmt.Sprintf("%q ends at 0x%x past the flash limit", e.Label, e.End())
	case uint64(e.Offset) < tableEnd && e.End() > uint64(tableOffset):
		return fmt.Sprintf("%q overlaps the partition table", e.Label)
	}

	return ""
}
