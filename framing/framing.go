// Package framing implements the universal length-prefixed record layout
// shared by the TPI/IPI type streams and the module/global symbol streams.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Alignment selects the padding boundary for a stream of records.
type Alignment int

const (
	// AlignType is used by TPI/IPI type and item records (2-byte aligned).
	AlignType Alignment = 2
	// AlignSymbol is used by module and global symbol records (4-byte aligned).
	AlignSymbol Alignment = 4
)

var (
	// ErrShortRecord is returned when a record's declared size exceeds the
	// remaining buffer.
	ErrShortRecord = errors.New("framing: record size exceeds remaining data")
	// ErrOddSize is returned when a record's size field violates the
	// framing's alignment rule.
	ErrOddSize = errors.New("framing: record size is not aligned")
	// ErrTrailingBytes is returned when the end of a record stream is
	// reached at a position that is not aligned.
	ErrTrailingBytes = errors.New("framing: stream does not end on an aligned boundary")
)

// padBytes is the descending F3,F2,F1 sequence used to pad a record to its
// alignment boundary. A single pad byte is F1, two bytes are F2,F1, and so on.
var padBytes = [3]byte{0xF3, 0xF2, 0xF1}

// Record is a single decoded record: its 2-byte kind tag and payload bytes.
// The payload is everything the size field covers after the kind, so it
// includes any trailing F3/F2/F1 pad bytes.
type Record struct {
	Kind    uint16
	Payload []byte
	// Offset is the byte offset of this record (the size field) within the
	// stream it was decoded from.
	Offset int
}

// Decoder walks a byte slice yielding framed records until it is exhausted.
type Decoder struct {
	data      []byte
	offset    int
	alignment Alignment
}

// NewDecoder creates a Decoder over data using the given alignment.
func NewDecoder(data []byte, alignment Alignment) *Decoder {
	return &Decoder{data: data, alignment: alignment}
}

// Offset returns the current byte offset into the underlying data.
func (d *Decoder) Offset() int { return d.offset }

// Done reports whether the decoder has consumed all bytes. It is only
// "cleanly" done at an aligned offset; otherwise the stream is malformed.
func (d *Decoder) Done() bool { return d.offset >= len(d.data) }

// Next decodes the next record. It returns (nil, nil) at clean end of stream.
func (d *Decoder) Next() (*Record, error) {
	if d.offset >= len(d.data) {
		return nil, nil
	}
	if d.offset%int(d.alignment) != 0 {
		return nil, fmt.Errorf("framing: record at unaligned offset %d: %w", d.offset, ErrOddSize)
	}
	if d.offset+2 > len(d.data) {
		return nil, fmt.Errorf("framing: truncated size field at %d: %w", d.offset, ErrShortRecord)
	}

	start := d.offset
	size := binary.LittleEndian.Uint16(d.data[start:])
	total := 2 + int(size)
	if start+total > len(d.data) {
		return nil, fmt.Errorf("framing: record at %d declares size %d beyond buffer: %w", start, size, ErrShortRecord)
	}
	if int(size) < 2 {
		return nil, fmt.Errorf("framing: record at %d has size %d smaller than kind field", start, size)
	}

	kind := binary.LittleEndian.Uint16(d.data[start+2:])
	payload := d.data[start+4 : start+total]

	d.offset = start + total
	return &Record{Kind: kind, Payload: payload, Offset: start}, nil
}

// Encode frames a single record (kind, payload), padded per alignment, and
// returns the framed bytes in a newly allocated slice.
func Encode(alignment Alignment, kind uint16, payload []byte) []byte {
	unpadded := 2 + len(payload) // kind + payload, not yet counting size field
	total := 2 + unpadded        // size field + kind + payload: the on-disk length
	pad := 0
	if mod := total % int(alignment); mod != 0 {
		pad = int(alignment) - mod
	}
	size := unpadded + pad

	out := make([]byte, 2+size)
	binary.LittleEndian.PutUint16(out, uint16(size))
	binary.LittleEndian.PutUint16(out[2:], kind)
	copy(out[4:], payload)

	if pad > 0 {
		start := 3 - pad // index into padBytes for the first pad byte emitted
		copy(out[4+len(payload):], padBytes[start:])
	}
	return out
}

// Number is a decoded CodeView numeric leaf (§4.3 "Number type").
type Number struct {
	// Value holds unsigned-interpretable results; Signed is set for the
	// signed leaf kinds so callers can recover the original sign.
	Value  uint64
	Signed bool
	// Bytes holds the raw trailing bytes for LF_VARSTRING/LF_UTF8STRING,
	// which are not plain integers.
	Bytes []byte
	IsStr bool
}

// Known numeric leaf kinds (a small, fixed table; unknown leaves are errors).
const (
	LF_CHAR       uint16 = 0x8000
	LF_SHORT      uint16 = 0x8001
	LF_USHORT     uint16 = 0x8002
	LF_LONG       uint16 = 0x8003
	LF_ULONG      uint16 = 0x8004
	LF_REAL32     uint16 = 0x8005
	LF_REAL64     uint16 = 0x8006
	LF_REAL80     uint16 = 0x8007
	LF_REAL128    uint16 = 0x8008
	LF_QUADWORD   uint16 = 0x8009
	LF_UQUADWORD  uint16 = 0x800a
	LF_REAL48     uint16 = 0x800b
	LF_COMPLEX32  uint16 = 0x800c
	LF_COMPLEX64  uint16 = 0x800d
	LF_COMPLEX80  uint16 = 0x800e
	LF_COMPLEX128 uint16 = 0x800f
	LF_VARSTRING  uint16 = 0x8010
	LF_OCTWORD    uint16 = 0x8017
	LF_UOCTWORD   uint16 = 0x8018
	LF_DECIMAL    uint16 = 0x8019
	LF_DATE       uint16 = 0x801a
	LF_UTF8STRING uint16 = 0x801b
	LF_REAL16     uint16 = 0x801c
)

var ErrUnknownNumericLeaf = errors.New("framing: unknown numeric leaf")

// numericLeafSize gives the fixed byte width following the leaf code, for
// the leaves this implementation decodes as plain integers.
var numericLeafSize = map[uint16]int{
	LF_CHAR: 1, LF_SHORT: 2, LF_USHORT: 2, LF_LONG: 4, LF_ULONG: 4,
	LF_QUADWORD: 8, LF_UQUADWORD: 8, LF_OCTWORD: 16, LF_UOCTWORD: 16,
	LF_REAL32: 4, LF_REAL64: 8, LF_REAL48: 6, LF_REAL80: 10, LF_REAL128: 16,
	LF_REAL16: 2,
}

// ReadNumeric decodes a Number starting at data[0], returning the Number and
// the count of bytes consumed (including the leading u16 leaf).
func ReadNumeric(data []byte) (Number, int, error) {
	if len(data) < 2 {
		return Number{}, 0, ErrShortRecord
	}
	leaf := binary.LittleEndian.Uint16(data)
	if leaf < 0x8000 {
		return Number{Value: uint64(leaf)}, 2, nil
	}

	switch leaf {
	case LF_VARSTRING:
		if len(data) < 4 {
			return Number{}, 0, ErrShortRecord
		}
		length := binary.LittleEndian.Uint16(data[2:])
		end := 4 + int(length)
		if len(data) < end {
			return Number{}, 0, ErrShortRecord
		}
		return Number{IsStr: true, Bytes: append([]byte(nil), data[4:end]...)}, end, nil
	case LF_UTF8STRING:
		rest := data[2:]
		nul := indexByte(rest, 0)
		if nul < 0 {
			return Number{}, 0, ErrShortRecord
		}
		return Number{IsStr: true, Bytes: append([]byte(nil), rest[:nul]...)}, 2 + nul + 1, nil
	}

	width, ok := numericLeafSize[leaf]
	if !ok {
		return Number{}, 0, fmt.Errorf("framing: leaf 0x%04x: %w", leaf, ErrUnknownNumericLeaf)
	}
	if len(data) < 2+width {
		return Number{}, 0, ErrShortRecord
	}
	raw := data[2 : 2+width]

	signed := leaf == LF_CHAR || leaf == LF_SHORT || leaf == LF_LONG || leaf == LF_QUADWORD
	var v uint64
	switch width {
	case 1:
		v = uint64(raw[0])
	case 2:
		v = uint64(binary.LittleEndian.Uint16(raw))
	case 4:
		v = uint64(binary.LittleEndian.Uint32(raw))
	case 8:
		v = binary.LittleEndian.Uint64(raw)
	default:
		// Wide (10/16-byte) floats/octwords: preserve raw bytes, no numeric value.
		return Number{IsStr: false, Bytes: append([]byte(nil), raw...)}, 2 + width, nil
	}

	return Number{Value: v, Signed: signed}, 2 + width, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
