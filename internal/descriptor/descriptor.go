// Package descriptor builds the USB String Descriptor that names the
// firmware (spec.md §4.8). Nothing else in this repository calls it;
// it is exercised only by its own tests, never against real hardware.
package descriptor

import (
	"unicode/utf16"
)

// MaxLength is the hard USB descriptor size cap: one length byte plus
// one type byte leaves 62 bytes, 31 UTF-16 code units, for the string
// itself.
const MaxLength = 64

const descriptorType = 0x03

// Build encodes label as a USB String Descriptor: a 2-byte header
// (total length, then type 0x03) followed by the label in UTF-16LE.
// A label that would overflow MaxLength is truncated at a UTF-16
// code-unit boundary; it is never truncated mid-surrogate-pair.
func Build(label string) []byte {
	units := utf16.Encode([]rune(label))

	maxUnits := (MaxLength - 2) / 2
	if len(units) > maxUnits {
		units = truncateWholeUnits(units, maxUnits)
	}

	out := make([]byte, 2+len(units)*2)
	out[0] = byte(len(out))
	out[1] = descriptorType
	for i, u := range units {
		out[2+i*2] = byte(u)
		out[2+i*2+1] = byte(u >> 8)
	}
	return out
}

// truncateWholeUnits drops trailing units, and additionally drops a
// final high surrogate left dangling without its low surrogate.
func truncateWholeUnits(units []uint16, max int) []uint16 {
	units = units[:max]
	if n := len(units); n > 0 && units[n-1] >= 0xD800 && units[n-1] < 0xDC00 {
		units = units[:n-1]
	}
	return units
}
