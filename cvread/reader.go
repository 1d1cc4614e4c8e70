// Package cvread provides a small byte-cursor reader for decoding the
// fixed-layout fields inside CodeView type and symbol record payloads, once
// framing has already sliced out a single record's bytes.
package cvread

import (
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/pdbfmt/pdbfmt/framing"
)

var (
	ErrUnexpectedEOF  = errors.New("cvread: unexpected end of data")
	ErrNegativeOffset = errors.New("cvread: negative offset")
)

// Reader reads little-endian fields from a byte slice, tracking position.
type Reader struct {
	data   []byte
	offset int
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Offset() int { return r.offset }

func (r *Reader) SetOffset(offset int) error {
	if offset < 0 {
		return ErrNegativeOffset
	}
	r.offset = offset
	return nil
}

func (r *Reader) Remaining() int {
	if r.offset >= len(r.data) {
		return 0
	}
	return len(r.data) - r.offset
}

func (r *Reader) Skip(n int) error {
	if r.offset+n > len(r.data) {
		return ErrUnexpectedEOF
	}
	r.offset += n
	return nil
}

// Align advances the read position to the next multiple of alignment.
func (r *Reader) Align(alignment int) {
	if alignment <= 1 {
		return
	}
	if mod := r.offset % alignment; mod != 0 {
		r.offset += alignment - mod
	}
}

func (r *Reader) ReadU8() (uint8, error) {
	if r.offset >= len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := r.data[r.offset]
	r.offset++
	return v, nil
}

func (r *Reader) ReadU16() (uint16, error) {
	if r.offset+2 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint16(r.data[r.offset:])
	r.offset += 2
	return v, nil
}

func (r *Reader) ReadU32() (uint32, error) {
	if r.offset+4 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v, nil
}

func (r *Reader) ReadU64() (uint64, error) {
	if r.offset+8 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint64(r.data[r.offset:])
	r.offset += 8
	return v, nil
}

func (r *Reader) ReadI8() (int8, error)   { v, err := r.ReadU8(); return int8(v), err }
func (r *Reader) ReadI16() (int16, error) { v, err := r.ReadU16(); return int16(v), err }
func (r *Reader) ReadI32() (int32, error) { v, err := r.ReadU32(); return int32(v), err }
func (r *Reader) ReadI64() (int64, error) { v, err := r.ReadU64(); return int64(v), err }

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadU32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadU64()
	return math.Float64frombits(v), err
}

func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if r.offset+n > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	v := make([]byte, n)
	copy(v, r.data[r.offset:r.offset+n])
	r.offset += n
	return v, nil
}

// ReadBytesRef returns a reference to n bytes without copying.
func (r *Reader) ReadBytesRef(n int) ([]byte, error) {
	if r.offset+n > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	v := r.data[r.offset : r.offset+n]
	r.offset += n
	return v, nil
}

func (r *Reader) ReadCString() (string, error) {
	start := r.offset
	for r.offset < len(r.data) {
		if r.data[r.offset] == 0 {
			s := string(r.data[start:r.offset])
			r.offset++
			return s, nil
		}
		r.offset++
	}
	return "", ErrUnexpectedEOF
}

// ReadFixedString reads a fixed-length string, trimming trailing NULs.
func (r *Reader) ReadFixedString(n int) (string, error) {
	if r.offset+n > len(r.data) {
		return "", ErrUnexpectedEOF
	}
	data := r.data[r.offset : r.offset+n]
	r.offset += n
	end := len(data)
	for end > 0 && data[end-1] == 0 {
		end--
	}
	return string(data[:end]), nil
}

func (r *Reader) ReadGUID() ([16]byte, error) {
	var guid [16]byte
	if r.offset+16 > len(r.data) {
		return guid, ErrUnexpectedEOF
	}
	copy(guid[:], r.data[r.offset:r.offset+16])
	r.offset += 16
	return guid, nil
}

// ReadNumeric reads a CodeView numeric leaf (framing.Number), delegating to
// the framing package's full leaf table rather than duplicating it.
func (r *Reader) ReadNumeric() (framing.Number, error) {
	n, consumed, err := framing.ReadNumeric(r.data[r.offset:])
	if err != nil {
		return framing.Number{}, err
	}
	r.offset += consumed
	return n, nil
}

func (r *Reader) Peek(n int) ([]byte, error) {
	if r.offset+n > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	v := make([]byte, n)
	copy(v, r.data[r.offset:r.offset+n])
	return v, nil
}

func (r *Reader) PeekU8() (uint8, error) {
	if r.offset >= len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	return r.data[r.offset], nil
}

func (r *Reader) PeekU16() (uint16, error) {
	if r.offset+2 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	return binary.LittleEndian.Uint16(r.data[r.offset:]), nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (n int, err error) {
	if r.offset >= len(r.data) {
		return 0, io.EOF
	}
	n = copy(p, r.data[r.offset:])
	r.offset += n
	return n, nil
}

func (r *Reader) Slice(offset, length int) (*Reader, error) {
	if offset < 0 || offset+length > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	return NewReader(r.data[offset : offset+length]), nil
}

func (r *Reader) SubReader(length int) (*Reader, error) {
	if r.offset+length > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	sub := NewReader(r.data[r.offset : r.offset+length])
	r.offset += length
	return sub, nil
}

func (r *Reader) Data() []byte { return r.data }

func (r *Reader) RemainingData() []byte {
	if r.offset >= len(r.data) {
		return nil
	}
	return r.data[r.offset:]
}
