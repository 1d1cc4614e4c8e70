package modstream

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pdbfmt/pdbfmt/cvread"
)

// C13 subsection kinds this package interprets; all others are returned
// uninterpreted as Subsection.Data.
const (
	DebugSLines          uint32 = 0xF2
	DebugSFileChecksums  uint32 = 0xF4
	debugSIgnoreBit      uint32 = 0x80000000
)

var (
	ErrMalformedSubsection = errors.New("modstream: malformed C13 subsection")
	ErrDuplicateChecksums  = errors.New("modstream: more than one file checksums subsection")
	ErrBadChecksumOffset   = errors.New("modstream: line block references invalid file checksum offset")
)

// Subsection is one decoded (kind, data) entry from the C13 lines substream.
// Ignore is set when the subsection kind carries the high "skip" bit; its
// Data is still exposed but decoders should not interpret it.
type Subsection struct {
	Kind   uint32
	Ignore bool
	Data   []byte
}

// ParseSubsections walks the C13-lines substream: each entry is
// (kind: u32, size: u32, data: bytes[size]), the whole entry padded so its
// total length (header included) is a multiple of 4.
func ParseSubsections(data []byte) ([]Subsection, error) {
	r := cvread.NewReader(data)
	var out []Subsection

	for r.Remaining() > 0 {
		if r.Remaining() < 8 {
			return nil, fmt.Errorf("%w: truncated header", ErrMalformedSubsection)
		}
		rawKind, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if r.Remaining() < int(size) {
			return nil, fmt.Errorf("%w: declared size %d exceeds remaining data", ErrMalformedSubsection, size)
		}
		sdata, err := r.ReadBytesRef(int(size))
		if err != nil {
			return nil, err
		}

		kind := rawKind &^ debugSIgnoreBit
		out = append(out, Subsection{Kind: kind, Ignore: rawKind&debugSIgnoreBit != 0, Data: sdata})

		// pad so the *total* entry (8-byte header + size) is a multiple of 4
		total := 8 + int(size)
		if pad := (4 - total%4) % 4; pad > 0 {
			if err := r.Skip(pad); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

// FileChecksum is one entry of the DEBUG_S_FILE_CHECKSUMS subsection.
type FileChecksum struct {
	// Offset is this entry's byte offset within the FILE_CHECKSUMS
	// subsection's data, the value LineBlock.FileChecksumOffset references.
	Offset int
	// NameOffset indexes the PDB's Names stream string table.
	NameOffset uint32
	Kind       uint8
	Checksum   []byte
}

// ParseFileChecksums decodes a DEBUG_S_FILE_CHECKSUMS subsection. Every
// entry starts 4-byte aligned within the subsection and entries do not
// overlap.
func ParseFileChecksums(data []byte) ([]FileChecksum, error) {
	r := cvread.NewReader(data)
	var out []FileChecksum

	for r.Remaining() > 0 {
		if r.Offset()%4 != 0 {
			return nil, fmt.Errorf("%w: checksum entry at %d is not 4-byte aligned", ErrMalformedSubsection, r.Offset())
		}
		start := r.Offset()
		if r.Remaining() < 6 {
			return nil, fmt.Errorf("%w: truncated file checksum entry", ErrMalformedSubsection)
		}
		nameOffset, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		checksumSize, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		kind, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		checksum, err := r.ReadBytes(int(checksumSize))
		if err != nil {
			return nil, err
		}
		out = append(out, FileChecksum{Offset: start, NameOffset: nameOffset, Kind: kind, Checksum: checksum})
		r.Align(4)
	}

	return out, nil
}

// LineEntry is one decoded line-number table entry (columns are not
// decoded: this package does not need them for the reference graph).
type LineEntry struct {
	Offset       uint32
	LineNumStart uint32
	DeltaLineEnd uint8
	IsStatement  bool
}

// LineBlock is a per-file-checksum run of line entries within a
// DEBUG_S_LINES fragment.
type LineBlock struct {
	FileChecksumOffset uint32
	Lines              []LineEntry
}

const linesHaveColumns uint16 = 0x0001

// LineFragment is one decoded DEBUG_S_LINES subsection.
type LineFragment struct {
	CodeOffset uint32
	Segment    uint16
	Flags      uint16
	CodeSize   uint32
	Blocks     []LineBlock
}

// ParseLines decodes a DEBUG_S_LINES subsection.
func ParseLines(data []byte) (*LineFragment, error) {
	r := cvread.NewReader(data)
	f := &LineFragment{}

	var err error
	if f.CodeOffset, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if f.Segment, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if f.Flags, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if f.CodeSize, err = r.ReadU32(); err != nil {
		return nil, err
	}
	hasColumns := f.Flags&linesHaveColumns != 0

	for r.Remaining() > 0 {
		var b LineBlock
		b.FileChecksumOffset, err = r.ReadU32()
		if err != nil {
			return nil, err
		}
		numLines, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		blockSize, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		linesStart := r.Offset() - 12 // block begins at FileChecksumOffset field
		lineBytes := int(numLines) * 4
		if r.Remaining() < lineBytes {
			return nil, fmt.Errorf("%w: truncated line block", ErrMalformedSubsection)
		}
		b.Lines = make([]LineEntry, numLines)
		for i := range b.Lines {
			packed, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			b.Lines[i] = LineEntry{
				LineNumStart: packed & 0x00FFFFFF,
				DeltaLineEnd: uint8((packed >> 24) & 0x7F),
				IsStatement:  packed&0x80000000 != 0,
			}
		}
		if hasColumns {
			if err := r.Skip(int(numLines) * 4); err != nil {
				return nil, err
			}
		}
		// advance to the declared block boundary (covers any trailing
		// padding we don't otherwise interpret).
		consumed := r.Offset() - linesStart
		if rest := int(blockSize) - consumed; rest > 0 {
			if err := r.Skip(rest); err != nil {
				return nil, err
			}
		}
		f.Blocks = append(f.Blocks, b)
	}

	return f, nil
}

// ParseC13 walks a module's full C13 lines substream and decodes its
// FILE_CHECKSUMS and LINES subsections. A module carries at most one
// FILE_CHECKSUMS subsection; a second one is rejected.
func ParseC13(data []byte) (checksums []FileChecksum, fragments []LineFragment, err error) {
	subs, err := ParseSubsections(data)
	if err != nil {
		return nil, nil, err
	}

	seenChecksums := false
	for _, s := range subs {
		if s.Ignore {
			continue
		}
		switch s.Kind {
		case DebugSFileChecksums:
			if seenChecksums {
				return nil, nil, ErrDuplicateChecksums
			}
			seenChecksums = true
			fc, err := ParseFileChecksums(s.Data)
			if err != nil {
				return nil, nil, err
			}
			checksums = fc
		case DebugSLines:
			lf, err := ParseLines(s.Data)
			if err != nil {
				return nil, nil, err
			}
			fragments = append(fragments, *lf)
		}
	}

	if err := ValidateLineFragments(checksums, fragments); err != nil {
		return nil, nil, err
	}
	return checksums, fragments, nil
}

// ValidateLineFragments checks the Sources-substream invariant that every
// LineBlock.FileChecksumOffset names a real FileChecksum entry start.
func ValidateLineFragments(checksums []FileChecksum, fragments []LineFragment) error {
	starts := make(map[uint32]bool, len(checksums))
	for _, c := range checksums {
		starts[uint32(c.Offset)] = true
	}
	for _, f := range fragments {
		for _, b := range f.Blocks {
			if !starts[b.FileChecksumOffset] {
				return fmt.Errorf("%w: offset %d", ErrBadChecksumOffset, b.FileChecksumOffset)
			}
		}
	}
	return nil
}

// EncodeFileChecksums assembles a DEBUG_S_FILE_CHECKSUMS subsection body
// (without the kind/size subsection header) from entries in order,
// recomputing each entry's Offset.
func EncodeFileChecksums(entries []FileChecksum) []byte {
	var out []byte
	for i := range entries {
		entries[i].Offset = len(out)
		out = binary.LittleEndian.AppendUint32(out, entries[i].NameOffset)
		out = append(out, uint8(len(entries[i].Checksum)), entries[i].Kind)
		out = append(out, entries[i].Checksum...)
		for len(out)%4 != 0 {
			out = append(out, 0)
		}
	}
	return out
}

// EncodeSubsection frames one subsection with its (kind, size) header and
// pads the whole entry to a multiple of 4.
func EncodeSubsection(kind uint32, data []byte) []byte {
	out := make([]byte, 0, 8+len(data)+3)
	out = binary.LittleEndian.AppendUint32(out, kind)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	out = append(out, data...)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}
