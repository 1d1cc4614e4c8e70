// Package msfz implements the MSFZ container format: an ordered set of
// numbered streams stored as fragments that are either uncompressed file
// regions or spans inside shared zstd/deflate compression chunks. See
// spec.md §4.2 for the on-disk layout this package implements.
package msfz

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the 32-byte MSFZ file signature.
const Magic = "Microsoft MSFZ Container\r\n\x1aALD\x00\x00"

// MagicSize is the length of Magic in bytes.
const MagicSize = 32

// HeaderSize is the fixed size of the MSFZ file header.
const HeaderSize = 80

// Version is the only header version this package reads or writes.
const Version uint64 = 0

// Compression algorithm codes.
const (
	CompressionNone    uint32 = 0
	CompressionZstd    uint32 = 1
	CompressionDeflate uint32 = 2
)

// ChunkTableEntrySize is the fixed size of one Chunk Table record.
const ChunkTableEntrySize = 20

// NilStreamMarker denotes a stream with no fragments in the Stream
// Directory's per-stream list.
const NilStreamMarker uint32 = 0xFFFFFFFF

// fragmentCompressedBit is bit 63 of a fragment's location field: 0 means
// uncompressed (48-bit file offset in bits 0-47), 1 means compressed
// (31-bit first_chunk in bits 32-62, 32-bit offset_within_chunk in bits 0-31).
const fragmentCompressedBit = uint64(1) << 63

var (
	ErrInvalidMagic            = errors.New("msfz: invalid magic signature, not a valid MSFZ file")
	ErrUnsupportedVersion      = errors.New("msfz: unsupported container version")
	ErrTruncatedFile           = errors.New("msfz: file is truncated")
	ErrUnsupportedCompression  = errors.New("msfz: unknown chunk compression algorithm")
	ErrInvalidStreamIndex      = errors.New("msfz: invalid stream index")
	ErrInvalidChunkIndex       = errors.New("msfz: invalid chunk index")
	ErrOverlappingRegion       = errors.New("msfz: overlapping file regions")
	ErrOutOfRange              = errors.New("msfz: out-of-range file region")
	ErrMalformedStreamDir      = errors.New("msfz: malformed stream directory")
)

// Header is the 80-byte MSFZ file header.
type Header struct {
	Version                   uint64
	StreamDirOffset           uint64
	ChunkTableOffset          uint64
	NumStreams                uint32
	StreamDirCompression      uint32
	StreamDirSizeCompressed   uint32
	StreamDirSizeUncompressed uint32
	NumChunks                 uint32
	ChunkTableSize            uint32
}

// ReadHeader decodes the fixed 80-byte header from the start of data.
func ReadHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, ErrTruncatedFile
	}
	if string(data[:MagicSize]) != Magic {
		return nil, ErrInvalidMagic
	}
	h := &Header{}
	off := MagicSize
	h.Version = binary.LittleEndian.Uint64(data[off:])
	off += 8
	if h.Version != Version {
		return nil, ErrUnsupportedVersion
	}
	h.StreamDirOffset = binary.LittleEndian.Uint64(data[off:])
	off += 8
	h.ChunkTableOffset = binary.LittleEndian.Uint64(data[off:])
	off += 8
	h.NumStreams = binary.LittleEndian.Uint32(data[off:])
	off += 4
	h.StreamDirCompression = binary.LittleEndian.Uint32(data[off:])
	off += 4
	h.StreamDirSizeCompressed = binary.LittleEndian.Uint32(data[off:])
	off += 4
	h.StreamDirSizeUncompressed = binary.LittleEndian.Uint32(data[off:])
	off += 4
	h.NumChunks = binary.LittleEndian.Uint32(data[off:])
	off += 4
	h.ChunkTableSize = binary.LittleEndian.Uint32(data[off:])
	return h, nil
}

// Encode serializes the header back to its 80-byte on-disk layout.
func (h *Header) Encode() []byte {
	b := make([]byte, HeaderSize)
	copy(b[:MagicSize], Magic)
	off := MagicSize
	binary.LittleEndian.PutUint64(b[off:], h.Version)
	off += 8
	binary.LittleEndian.PutUint64(b[off:], h.StreamDirOffset)
	off += 8
	binary.LittleEndian.PutUint64(b[off:], h.ChunkTableOffset)
	off += 8
	binary.LittleEndian.PutUint32(b[off:], h.NumStreams)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], h.StreamDirCompression)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], h.StreamDirSizeCompressed)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], h.StreamDirSizeUncompressed)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], h.NumChunks)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], h.ChunkTableSize)
	return b
}

// ChunkEntry is one 20-byte Chunk Table record.
type ChunkEntry struct {
	FileOffset       uint64
	Compression      uint32
	CompressedSize   uint32
	UncompressedSize uint32
}

// ParseChunkTable decodes a flat array of fixed-size Chunk Table records.
func ParseChunkTable(data []byte, numChunks uint32) ([]ChunkEntry, error) {
	need := int(numChunks) * ChunkTableEntrySize
	if len(data) < need {
		return nil, fmt.Errorf("%w: chunk table", ErrTruncatedFile)
	}
	out := make([]ChunkEntry, numChunks)
	for i := range out {
		off := i * ChunkTableEntrySize
		out[i] = ChunkEntry{
			FileOffset:       binary.LittleEndian.Uint64(data[off:]),
			Compression:      binary.LittleEndian.Uint32(data[off+8:]),
			CompressedSize:   binary.LittleEndian.Uint32(data[off+12:]),
			UncompressedSize: binary.LittleEndian.Uint32(data[off+16:]),
		}
	}
	return out, nil
}

// EncodeChunkTable serializes chunk entries back to their flat on-disk form.
func EncodeChunkTable(entries []ChunkEntry) []byte {
	out := make([]byte, len(entries)*ChunkTableEntrySize)
	for i, e := range entries {
		off := i * ChunkTableEntrySize
		binary.LittleEndian.PutUint64(out[off:], e.FileOffset)
		binary.LittleEndian.PutUint32(out[off+8:], e.Compression)
		binary.LittleEndian.PutUint32(out[off+12:], e.CompressedSize)
		binary.LittleEndian.PutUint32(out[off+16:], e.UncompressedSize)
	}
	return out
}

// Fragment is one contiguous span of a stream's logical bytes: either an
// uncompressed file region, or a span inside the chunk sequence starting
// at FirstChunk.
type Fragment struct {
	Size uint32 // uncompressed length this fragment contributes

	Compressed bool

	// Uncompressed mode.
	FileOffset uint64

	// Compressed mode.
	FirstChunk        uint32
	OffsetWithinChunk  uint32
}

func decodeLocation(loc uint64) (compressed bool, fileOffset uint64, firstChunk, offsetWithinChunk uint32) {
	if loc&fragmentCompressedBit == 0 {
		return false, loc & 0x0000FFFFFFFFFFFF, 0, 0
	}
	firstChunk = uint32((loc >> 32) & 0x7FFFFFFF)
	offsetWithinChunk = uint32(loc & 0xFFFFFFFF)
	return true, 0, firstChunk, offsetWithinChunk
}

func encodeLocation(f Fragment) uint64 {
	if !f.Compressed {
		return f.FileOffset & 0x0000FFFFFFFFFFFF
	}
	return fragmentCompressedBit | (uint64(f.FirstChunk&0x7FFFFFFF) << 32) | uint64(f.OffsetWithinChunk)
}

// StreamDirectory holds every stream's fragment list, in stream-index order.
// A nil entry in Streams means that stream has no fragments (size 0).
type StreamDirectory struct {
	Streams [][]Fragment
}

// ParseStreamDirectory decodes the variable-width Stream Directory: for each
// of numStreams streams, either 0xFFFFFFFF (nil stream) or a sequence of
// (size, location) fragment records terminated by size=0.
func ParseStreamDirectory(data []byte, numStreams uint32) (*StreamDirectory, error) {
	dir := &StreamDirectory{Streams: make([][]Fragment, numStreams)}
	off := 0
	need := func(n int) error {
		if off+n > len(data) {
			return fmt.Errorf("%w: truncated stream directory", ErrMalformedStreamDir)
		}
		return nil
	}

	for i := uint32(0); i < numStreams; i++ {
		if err := need(4); err != nil {
			return nil, err
		}
		marker := binary.LittleEndian.Uint32(data[off:])
		if marker == NilStreamMarker {
			off += 4
			continue
		}

		var frags []Fragment
		for {
			if err := need(4); err != nil {
				return nil, err
			}
			size := binary.LittleEndian.Uint32(data[off:])
			off += 4
			if size == 0 {
				break
			}
			if err := need(8); err != nil {
				return nil, err
			}
			loc := binary.LittleEndian.Uint64(data[off:])
			off += 8

			compressed, fileOffset, firstChunk, offsetWithinChunk := decodeLocation(loc)
			frags = append(frags, Fragment{
				Size:              size,
				Compressed:        compressed,
				FileOffset:        fileOffset,
				FirstChunk:        firstChunk,
				OffsetWithinChunk: offsetWithinChunk,
			})
		}
		dir.Streams[i] = frags
	}

	return dir, nil
}

// Encode serializes the Stream Directory back to its variable-width layout.
func (d *StreamDirectory) Encode() []byte {
	var out []byte
	for _, frags := range d.Streams {
		if frags == nil {
			out = binary.LittleEndian.AppendUint32(out, NilStreamMarker)
			continue
		}
		for _, f := range frags {
			out = binary.LittleEndian.AppendUint32(out, f.Size)
			out = binary.LittleEndian.AppendUint64(out, encodeLocation(f))
		}
		out = binary.LittleEndian.AppendUint32(out, 0)
	}
	return out
}

// StreamSize returns the sum of a stream's fragment sizes.
func (d *StreamDirectory) StreamSize(streamIndex uint32) uint32 {
	var total uint32
	for _, f := range d.Streams[streamIndex] {
		total += f.Size
	}
	return total
}
