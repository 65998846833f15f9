// Package image parses the vendor firmware image binary format: a 4
// byte header followed by a stream of {address, payload} sections
// terminated by a zero-length entry record.
package image

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidHeader is returned when the buffer is too short or the
// magic bytes don't read "CY".
var ErrInvalidHeader = errors.New("image: invalid header")

// ErrNotExecutable is returned when image_ctl's low bit is set.
var ErrNotExecutable = errors.New("image: not executable")

// ErrShortSection is returned when a section's declared length runs
// past the end of the buffer. Unlike a short length field (which ends
// parsing silently, see Next), a short payload is always a hard error.
var ErrShortSection = errors.New("image: truncated section payload")

// UnsupportedImageTypeError is returned when image_type isn't 0xB0.
type UnsupportedImageTypeError struct {
	Type byte
}

func (e *UnsupportedImageTypeError) Error() string {
	return fmt.Sprintf("image: unsupported image type 0x%02x", e.Type)
}

const (
	headerLen        = 4
	executableMask   = 0x01
	normalImageType  = 0xB0
)

// Section is one {address, payload} record from the section stream.
type Section struct {
	Address uint32
	Payload []byte
}

// Entry is the terminal record: the jump target for the entry-point
// transfer.
type Entry struct {
	Address uint32
}

// Reader walks the section stream of a parsed image, one record at a
// time, over an immutable byte slice. It never aliases multi-byte
// fields — every field is decoded with an explicit little-endian load.
type Reader struct {
	buf []byte
	pos int
}

// NewReader validates the 4 byte header and returns a Reader positioned
// at the start of the section stream. Validation order matches the
// source: magic, then executable bit, then image type.
func NewReader(buf []byte) (*Reader, error) {
	if len(buf) < headerLen || buf[0] != 'C' || buf[1] != 'Y' {
		return nil, ErrInvalidHeader
	}
	if buf[2]&executableMask != 0 {
		return nil, ErrNotExecutable
	}
	if buf[3] != normalImageType {
		return nil, &UnsupportedImageTypeError{Type: buf[3]}
	}
	return &Reader{buf: buf, pos: headerLen}, nil
}

// Next returns the next record in the stream.
//
// Exactly one of sec/entry is non-nil when err == nil and truncated is
// false. entry != nil signals a normal, complete stream: the caller
// should stop. truncated == true means the buffer ran out before a
// length field, or the entry address after a zero length, could be
// read — the source's silent-EOF behavior for an
// unterminated image; it is not an error. A short section payload (the
// length field read cleanly but the payload didn't fit) is always
// reported as ErrShortSection, since that can't be confused with a
// clean end of stream.
func (r *Reader) Next() (sec *Section, entry *Entry, truncated bool, err error) {
	if r.pos+4 > len(r.buf) {
		return nil, nil, true, nil
	}
	length := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4

	if length == 0 {
		if r.pos+4 > len(r.buf) {
			return nil, nil, true, nil
		}
		addr := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
		r.pos += 4
		return nil, &Entry{Address: addr}, false, nil
	}

	need := 4 + int(length)*4
	if r.pos+need > len(r.buf) {
		return nil, nil, false, ErrShortSection
	}

	addr := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	payload := make([]byte, int(length)*4)
	copy(payload, r.buf[r.pos:r.pos+len(payload)])
	r.pos += len(payload)

	return &Section{Address: addr, Payload: payload}, nil, false, nil
}
