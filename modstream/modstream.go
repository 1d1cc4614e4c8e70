// Package modstream implements the per-module stream content (spec.md
// §4.4.4): the symbols substream, the C13 line-number substream, and the
// (ignored) C11 line substream and optional global-refs tail.
package modstream

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pdbfmt/pdbfmt/symbols"
)

// SymbolsSignature is the 4-byte value (CV_SIGNATURE_C13) that opens a
// module's symbols substream, ahead of the framed symbol records.
const SymbolsSignature uint32 = 4

var (
	ErrTruncated        = errors.New("modstream: truncated module stream")
	ErrBadSymbolsHeader = errors.New("modstream: symbols substream missing signature")
)

// Stream is the decoded content of one module's private stream.
type Stream struct {
	Symbols    []byte // raw framed symbol record bytes, signature stripped
	C13Lines   []byte
	GlobalRefs []byte
}

// Parse splits a module stream's raw bytes into its substreams using the
// sizes recorded in the owning DBI ModuleInfo record. c11ByteSize is
// consumed but discarded (C11 line info is not supported by this package).
func Parse(data []byte, symByteSize, c11ByteSize, c13ByteSize uint32) (*Stream, error) {
	need := int(symByteSize) + int(c11ByteSize) + int(c13ByteSize)
	if need > len(data) {
		return nil, ErrTruncated
	}

	symRaw := data[:symByteSize]
	offset := int(symByteSize)
	offset += int(c11ByteSize) // skipped
	c13 := data[offset : offset+int(c13ByteSize)]
	globalRefs := data[offset+int(c13ByteSize):]

	if len(symRaw) < 4 {
		return nil, fmt.Errorf("%w", ErrBadSymbolsHeader)
	}
	if binary.LittleEndian.Uint32(symRaw) != SymbolsSignature {
		return nil, ErrBadSymbolsHeader
	}

	return &Stream{Symbols: symRaw[4:], C13Lines: c13, GlobalRefs: globalRefs}, nil
}

// Iterator returns a fresh symbols.Iterator over this module's framed
// symbol records.
func (s *Stream) Iterator() *symbols.Iterator {
	return symbols.NewIterator(s.Symbols)
}

// Encode assembles a module stream's raw bytes from its parts, prefixing
// Symbols with SymbolsSignature.
func Encode(symbolRecordBytes, c13Lines, globalRefs []byte) []byte {
	out := make([]byte, 0, 4+len(symbolRecordBytes)+len(c13Lines)+len(globalRefs))
	sig := make([]byte, 4)
	binary.LittleEndian.PutUint32(sig, SymbolsSignature)
	out = append(out, sig...)
	out = append(out, symbolRecordBytes...)
	out = append(out, c13Lines...)
	out = append(out, globalRefs...)
	return out
}
