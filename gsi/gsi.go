// Package gsi implements the GSI and PSI indexed symbol tables (spec.md
// §4.5.3, §4.5.4): Symbol Name Table instances over the Global Symbol
// Stream, one indexing named globals and *REF/*REF2 records (GSI), the
// other indexing public symbols with an address table (PSI).
package gsi

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/pdbfmt/pdbfmt/gss"
	"github.com/pdbfmt/pdbfmt/symbols"
	"github.com/pdbfmt/pdbfmt/symtab"
)

var ErrTruncated = errors.New("gsi: truncated stream")

// Name extracts the indexed name of a GSS symbol record, if it carries one
// of the kinds GSI or PSI indexes: S_PUB32, the *REF and *REF2 records,
// S_UDT, S_CONSTANT and the data/thread-data records. ok is false for every
// other kind, procedure records included (they are reached through their
// *REF records).
func Name(rec *symbols.Record) (name string, ok bool) {
	switch rec.Kind {
	case symbols.S_PUB32:
		if s, err := symbols.ParsePublicSym32(rec.Payload); err == nil {
			return s.Name, true
		}
	case symbols.S_PROCREF, symbols.S_LPROCREF, symbols.S_DATAREF:
		if s, err := symbols.ParseRefSym(rec.Payload); err == nil {
			return s.Name, true
		}
	case symbols.S_PROCREF2, symbols.S_LPROCREF2, symbols.S_DATAREF2:
		if s, err := symbols.ParseRefSym2(rec.Payload); err == nil {
			return s.Name, true
		}
	case symbols.S_UDT:
		if s, err := symbols.ParseUDTSym(rec.Payload); err == nil {
			return s.Name, true
		}
	case symbols.S_CONSTANT:
		if s, err := symbols.ParseConstantSym(rec.Payload); err == nil {
			return s.Name, true
		}
	case symbols.S_GDATA32, symbols.S_LDATA32, symbols.S_GTHREAD32, symbols.S_LTHREAD32:
		if s, err := symbols.ParseDataSym(rec.Payload); err == nil {
			return s.Name, true
		}
	}
	return "", false
}

// giKinds is the set GSI indexes directly: named globals other than public
// symbols, plus the cross-reference records. S_PUB32 is PSI's domain.
var giKinds = map[symbols.Kind]bool{
	symbols.S_PROCREF:    true,
	symbols.S_LPROCREF:   true,
	symbols.S_DATAREF:    true,
	symbols.S_PROCREF2:   true,
	symbols.S_LPROCREF2:  true,
	symbols.S_DATAREF2:   true,
	symbols.S_UDT:        true,
	symbols.S_CONSTANT:   true,
	symbols.S_GDATA32:    true,
	symbols.S_LDATA32:    true,
	symbols.S_GTHREAD32:  true,
	symbols.S_LTHREAD32:  true,
}

// BuildGSI constructs a GSI stream's bytes from a GSS image: one Symbol
// Name Table entry per indexable record, bucket_index = LHashPbCb(name) mod
// numBuckets, sorted (bucket_index, gss_offset) ascending.
func BuildGSI(gssData []byte, numBuckets uint32) ([]byte, error) {
	var named []symtab.NamedRecord
	it := gss.Iterator(gssData)
	for {
		offsetBefore := it.Offset()
		rec, err := it.Next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		if !giKinds[rec.Kind] {
			continue
		}
		name, ok := Name(rec)
		if !ok {
			continue
		}
		named = append(named, symtab.NamedRecord{Name: name, GSSOffset: int32(offsetBefore)})
	}

	table := symtab.Build(named, numBuckets)
	return table.Encode(), nil
}

// ParseGSI decodes a GSI stream into its Symbol Name Table.
func ParseGSI(data []byte, numBuckets uint32) (*symtab.Table, error) {
	return symtab.Parse(data, numBuckets)
}

// PsiHeaderSize is the fixed size of the PSI-specific header that follows
// the Symbol Name Table.
const PsiHeaderSize = 28

// Header is the PsiStreamHeader (spec.md §4.5.4).
type Header struct {
	SymHash         uint32
	AddrMapSize     uint32
	NumThunks       uint32
	ThunkSize       uint32
	ThunkTableSect  uint16
	Padding         uint16
	ThunkTableOff   uint32
	NumSections     uint32
}

// PSI is a decoded Public Symbol Index stream.
type PSI struct {
	Table       *symtab.Table
	Header      Header
	AddressMap  []int32 // GSS offsets of S_PUB32 records, sorted by (segment, offset)
}

// ParsePSI decodes a PSI stream: Symbol Name Table, then Header, then the
// address table (one i32 GSS offset per indexed S_PUB32, in whatever order
// the stream stores them — BuildPSI writes them (segment, offset)-sorted).
func ParsePSI(data []byte, numBuckets uint32) (*PSI, error) {
	if len(data) < 16 {
		return nil, ErrTruncated
	}
	hashRecordsSize := binary.LittleEndian.Uint32(data[8:])
	hashBucketsSize := binary.LittleEndian.Uint32(data[12:])
	tableLen := 16 + int(hashRecordsSize) + int(hashBucketsSize)
	if tableLen > len(data) {
		return nil, ErrTruncated
	}

	table, err := symtab.Parse(data[:tableLen], numBuckets)
	if err != nil {
		return nil, err
	}

	rest := data[tableLen:]
	if len(rest) < PsiHeaderSize {
		return nil, ErrTruncated
	}
	var h Header
	h.SymHash = binary.LittleEndian.Uint32(rest[0:])
	h.AddrMapSize = binary.LittleEndian.Uint32(rest[4:])
	h.NumThunks = binary.LittleEndian.Uint32(rest[8:])
	h.ThunkSize = binary.LittleEndian.Uint32(rest[12:])
	h.ThunkTableSect = binary.LittleEndian.Uint16(rest[16:])
	h.Padding = binary.LittleEndian.Uint16(rest[18:])
	h.ThunkTableOff = binary.LittleEndian.Uint32(rest[20:])
	h.NumSections = binary.LittleEndian.Uint32(rest[24:])

	addrBytes := rest[PsiHeaderSize:]
	numAddrs := int(h.AddrMapSize) / 4
	if numAddrs*4 > len(addrBytes) {
		return nil, ErrTruncated
	}
	addrMap := make([]int32, numAddrs)
	for i := range addrMap {
		addrMap[i] = int32(binary.LittleEndian.Uint32(addrBytes[i*4:]))
	}

	return &PSI{Table: table, Header: h, AddressMap: addrMap}, nil
}

// BuildPSI constructs a PSI stream's bytes from a GSS image: the Symbol
// Name Table indexes every S_PUB32 record, and the address table lists
// their GSS offsets sorted by the referenced symbol's (segment, offset).
func BuildPSI(gssData []byte, numBuckets uint32) ([]byte, error) {
	type pubEntry struct {
		name    string
		offset  int32
		segment uint16
		addr    uint32
	}
	var pubs []pubEntry

	it := gss.Iterator(gssData)
	for {
		offsetBefore := it.Offset()
		rec, err := it.Next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		if rec.Kind != symbols.S_PUB32 {
			continue
		}
		sym, err := symbols.ParsePublicSym32(rec.Payload)
		if err != nil {
			continue
		}
		pubs = append(pubs, pubEntry{name: sym.Name, offset: int32(offsetBefore), segment: sym.Segment, addr: sym.Offset})
	}

	named := make([]symtab.NamedRecord, len(pubs))
	for i, p := range pubs {
		named[i] = symtab.NamedRecord{Name: p.name, GSSOffset: p.offset}
	}
	table := symtab.Build(named, numBuckets)
	tableBytes := table.Encode()

	sort.Slice(pubs, func(i, j int) bool {
		if pubs[i].segment != pubs[j].segment {
			return pubs[i].segment < pubs[j].segment
		}
		return pubs[i].addr < pubs[j].addr
	})
	addrMap := make([]byte, len(pubs)*4)
	for i, p := range pubs {
		binary.LittleEndian.PutUint32(addrMap[i*4:], uint32(p.offset))
	}

	header := make([]byte, PsiHeaderSize)
	binary.LittleEndian.PutUint32(header[4:], uint32(len(addrMap)))

	out := make([]byte, 0, len(tableBytes)+PsiHeaderSize+len(addrMap))
	out = append(out, tableBytes...)
	out = append(out, header...)
	out = append(out, addrMap...)
	return out, nil
}
