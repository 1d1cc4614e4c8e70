package symbols

import (
	"errors"
	"fmt"

	"github.com/pdbfmt/pdbfmt/cvread"
	"github.com/pdbfmt/pdbfmt/framing"
	"github.com/pdbfmt/pdbfmt/tpi"
)

var ErrRefSymOffset = errors.New("symbols: RefSym2 symbol_offset must be >= 4")

// Iterator walks a substream of framed symbol records (4-byte aligned).
type Iterator struct {
	dec *framing.Decoder
}

// NewIterator creates an Iterator over a symbols substream's record bytes
// (after the substream's own 4-byte signature field has been consumed).
func NewIterator(data []byte) *Iterator {
	return &Iterator{dec: framing.NewDecoder(data, framing.AlignSymbol)}
}

// Next returns the next record, or (nil, nil) at clean end of stream.
func (it *Iterator) Next() (*Record, error) {
	rec, err := it.dec.Next()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return &Record{Kind: Kind(rec.Kind), Payload: rec.Payload}, nil
}

// Offset returns the decoder's current byte offset.
func (it *Iterator) Offset() int { return it.dec.Offset() }

// Encode frames a single symbol record.
func Encode(kind Kind, payload []byte) []byte {
	return framing.Encode(framing.AlignSymbol, uint16(kind), payload)
}

// ParseProcSym parses a procedure symbol (S_GPROC32, S_LPROC32, etc.).
func ParseProcSym(data []byte) (*ProcSym, error) {
	r := cvread.NewReader(data)

	ptrParent, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	ptrEnd, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	ptrNext, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	codeSize, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	dbgStart, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	dbgEnd, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	funcType, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	codeOffset, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	segment, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	flags, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}

	return &ProcSym{
		PtrParent: ptrParent, PtrEnd: ptrEnd, PtrNext: ptrNext,
		CodeSize: codeSize, DbgStart: dbgStart, DbgEnd: dbgEnd,
		FunctionType: tpi.TypeIndex(funcType), CodeOffset: codeOffset,
		Segment: segment, Flags: ProcFlags(flags), Name: name,
	}, nil
}

// EncodeProcSym encodes a ProcSym payload (excluding the record header).
func EncodeProcSym(s *ProcSym) []byte {
	w := newFieldWriter()
	w.u32(s.PtrParent)
	w.u32(s.PtrEnd)
	w.u32(s.PtrNext)
	w.u32(s.CodeSize)
	w.u32(s.DbgStart)
	w.u32(s.DbgEnd)
	w.u32(uint32(s.FunctionType))
	w.u32(s.CodeOffset)
	w.u16(s.Segment)
	w.u8(uint8(s.Flags))
	w.cstring(s.Name)
	return w.bytes()
}

// ParseDataSym parses a data symbol (S_GDATA32, S_LDATA32, etc.).
func ParseDataSym(data []byte) (*DataSym, error) {
	r := cvread.NewReader(data)
	typeIndex, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	offset, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	segment, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &DataSym{Type: tpi.TypeIndex(typeIndex), Offset: offset, Segment: segment, Name: name}, nil
}

func EncodeDataSym(s *DataSym) []byte {
	w := newFieldWriter()
	w.u32(uint32(s.Type))
	w.u32(s.Offset)
	w.u16(s.Segment)
	w.cstring(s.Name)
	return w.bytes()
}

// ParsePublicSym32 parses a public symbol (S_PUB32).
func ParsePublicSym32(data []byte) (*PublicSym32, error) {
	r := cvread.NewReader(data)
	flags, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	offset, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	segment, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &PublicSym32{Flags: PublicSymFlags(flags), Offset: offset, Segment: segment, Name: name}, nil
}

func EncodePublicSym32(s *PublicSym32) []byte {
	w := newFieldWriter()
	w.u32(uint32(s.Flags))
	w.u32(s.Offset)
	w.u16(s.Segment)
	w.cstring(s.Name)
	return w.bytes()
}

// ParseLocalSym parses a local variable symbol (S_LOCAL).
func ParseLocalSym(data []byte) (*LocalSym, error) {
	r := cvread.NewReader(data)
	typeIndex, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	flags, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &LocalSym{Type: tpi.TypeIndex(typeIndex), Flags: LocalFlags(flags), Name: name}, nil
}

// ParseUDTSym parses a UDT symbol (S_UDT).
func ParseUDTSym(data []byte) (*UDTSym, error) {
	r := cvread.NewReader(data)
	typeIndex, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &UDTSym{Type: tpi.TypeIndex(typeIndex), Name: name}, nil
}

// ParseConstantSym parses a constant symbol (S_CONSTANT).
func ParseConstantSym(data []byte) (*ConstantSym, error) {
	r := cvread.NewReader(data)
	typeIndex, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	value, err := r.ReadNumeric()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &ConstantSym{Type: tpi.TypeIndex(typeIndex), Value: value, Name: name}, nil
}

// ParseLabelSym parses a label symbol (S_LABEL32).
func ParseLabelSym(data []byte) (*LabelSym, error) {
	r := cvread.NewReader(data)
	offset, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	segment, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	flags, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &LabelSym{Offset: offset, Segment: segment, Flags: flags, Name: name}, nil
}

// ParseBlockSym parses a block symbol (S_BLOCK32).
func ParseBlockSym(data []byte) (*BlockSym, error) {
	r := cvread.NewReader(data)
	ptrParent, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	ptrEnd, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	codeSize, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	offset, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	segment, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &BlockSym{PtrParent: ptrParent, PtrEnd: ptrEnd, CodeSize: codeSize, Offset: offset, Segment: segment, Name: name}, nil
}

// ParseThunkSym parses a thunk symbol (S_THUNK32).
func ParseThunkSym(data []byte) (*ThunkSym, error) {
	r := cvread.NewReader(data)
	ptrParent, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	ptrEnd, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	ptrNext, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	offset, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	segment, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	length, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	ordinal, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &ThunkSym{
		PtrParent: ptrParent, PtrEnd: ptrEnd, PtrNext: ptrNext, Offset: offset,
		Segment: segment, Length: length, Ordinal: ordinal, Name: name,
	}, nil
}

// ParseObjNameSym parses an object name symbol (S_OBJNAME).
func ParseObjNameSym(data []byte) (*ObjNameSym, error) {
	r := cvread.NewReader(data)
	signature, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &ObjNameSym{Signature: signature, Name: name}, nil
}

// ParseCompileSym3 parses a compile symbol (S_COMPILE3).
func ParseCompileSym3(data []byte) (*CompileSym3, error) {
	r := cvread.NewReader(data)
	flags, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	machine, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	frontendMajor, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	frontendMinor, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	frontendBuild, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	frontendQFE, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	backendMajor, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	backendMinor, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	backendBuild, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	backendQFE, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	version, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &CompileSym3{
		Flags: flags, Machine: machine,
		FrontendMajor: frontendMajor, FrontendMinor: frontendMinor, FrontendBuild: frontendBuild, FrontendQFE: frontendQFE,
		BackendMajor: backendMajor, BackendMinor: backendMinor, BackendBuild: backendBuild, BackendQFE: backendQFE,
		Version: version,
	}, nil
}

// ParseRegRelSym parses a register-relative symbol (S_REGREL32).
func ParseRegRelSym(data []byte) (*RegRelSym, error) {
	r := cvread.NewReader(data)
	offset, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	typeIndex, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	register, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &RegRelSym{Offset: offset, Type: tpi.TypeIndex(typeIndex), Register: register, Name: name}, nil
}

// ParseBPRelSym parses a base-pointer relative symbol (S_BPREL32).
func ParseBPRelSym(data []byte) (*BPRelSym, error) {
	r := cvread.NewReader(data)
	offset, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	typeIndex, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &BPRelSym{Offset: offset, Type: tpi.TypeIndex(typeIndex), Name: name}, nil
}

// ParseFrameProcSym parses a frame procedure symbol (S_FRAMEPROC).
func ParseFrameProcSym(data []byte) (*FrameProcSym, error) {
	r := cvread.NewReader(data)
	totalFrameBytes, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	paddingFrameBytes, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	offsetToPadding, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	calleeSaveBytes, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	offsetOfExceptionHandler, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	sectionIdOfExceptionHandler, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	if err := r.Skip(2); err != nil { // reserved padding
		return nil, err
	}
	flags, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	return &FrameProcSym{
		TotalFrameBytes: totalFrameBytes, PaddingFrameBytes: paddingFrameBytes,
		OffsetToPadding: offsetToPadding, CalleeSaveBytes: calleeSaveBytes,
		OffsetOfExceptionHandler: offsetOfExceptionHandler, SectionIdOfExceptionHandler: sectionIdOfExceptionHandler,
		Flags: flags,
	}, nil
}

// ParseSectionSym parses a section symbol (S_SECTION).
func ParseSectionSym(data []byte) (*SectionSym, error) {
	r := cvread.NewReader(data)
	sectionNumber, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	alignment, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	reserved, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	rva, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	length, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	characteristics, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &SectionSym{
		SectionNumber: sectionNumber, Alignment: alignment, Reserved: reserved,
		RVA: rva, Length: length, Characteristics: characteristics, Name: name,
	}, nil
}

// ParseRefSym parses a legacy reference symbol (S_PROCREF, S_LPROCREF, S_DATAREF).
func ParseRefSym(data []byte) (*RefSym, error) {
	r := cvread.NewReader(data)
	sumName, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	ibSym, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	imod, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &RefSym{SumName: sumName, IBSym: ibSym, Imod: imod, Name: name}, nil
}

func EncodeRefSym(s *RefSym) []byte {
	w := newFieldWriter()
	w.u32(s.SumName)
	w.u32(s.IBSym)
	w.u16(s.Imod)
	w.cstring(s.Name)
	return w.bytes()
}

// ParseRefSym2 parses S_PROCREF2/S_LPROCREF2/S_DATAREF2.
func ParseRefSym2(data []byte) (*RefSym2, error) {
	r := cvread.NewReader(data)
	checksum, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	symOffset, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	modIndex, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	if symOffset < 4 {
		return nil, fmt.Errorf("%w: got %d", ErrRefSymOffset, symOffset)
	}
	return &RefSym2{NameChecksum: checksum, SymbolOffset: symOffset, ModuleIndex: modIndex, Name: name}, nil
}

func EncodeRefSym2(s *RefSym2) ([]byte, error) {
	if s.SymbolOffset < 4 {
		return nil, fmt.Errorf("%w: got %d", ErrRefSymOffset, s.SymbolOffset)
	}
	w := newFieldWriter()
	w.u32(s.NameChecksum)
	w.u32(s.SymbolOffset)
	w.u32(s.ModuleIndex)
	w.cstring(s.Name)
	return w.bytes(), nil
}

// Parse decodes a Record's payload into its typed representation.
// Unrecognized kinds return the Record itself unchanged.
func Parse(rec *Record) (interface{}, error) {
	switch rec.Kind {
	case S_GPROC32, S_LPROC32, S_GPROC32_ID, S_LPROC32_ID:
		return ParseProcSym(rec.Payload)
	case S_GDATA32, S_LDATA32, S_GTHREAD32, S_LTHREAD32:
		return ParseDataSym(rec.Payload)
	case S_PUB32:
		return ParsePublicSym32(rec.Payload)
	case S_LOCAL:
		return ParseLocalSym(rec.Payload)
	case S_UDT:
		return ParseUDTSym(rec.Payload)
	case S_CONSTANT:
		return ParseConstantSym(rec.Payload)
	case S_LABEL32:
		return ParseLabelSym(rec.Payload)
	case S_BLOCK32:
		return ParseBlockSym(rec.Payload)
	case S_THUNK32:
		return ParseThunkSym(rec.Payload)
	case S_OBJNAME:
		return ParseObjNameSym(rec.Payload)
	case S_COMPILE3:
		return ParseCompileSym3(rec.Payload)
	case S_REGREL32:
		return ParseRegRelSym(rec.Payload)
	case S_BPREL32:
		return ParseBPRelSym(rec.Payload)
	case S_FRAMEPROC:
		return ParseFrameProcSym(rec.Payload)
	case S_SECTION:
		return ParseSectionSym(rec.Payload)
	case S_PROCREF, S_LPROCREF, S_DATAREF:
		return ParseRefSym(rec.Payload)
	case S_PROCREF2, S_LPROCREF2, S_DATAREF2:
		return ParseRefSym2(rec.Payload)
	default:
		return rec, nil
	}
}

// fieldWriter accumulates a symbol record payload in the field order its
// Parse* counterpart reads them.
type fieldWriter struct {
	buf []byte
}

func newFieldWriter() *fieldWriter { return &fieldWriter{} }

func (w *fieldWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *fieldWriter) u16(v uint16) { w.buf = append(w.buf, byte(v), byte(v>>8)) }
func (w *fieldWriter) u32(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
func (w *fieldWriter) cstring(s string) { w.buf = append(append(w.buf, s...), 0) }
func (w *fieldWriter) bytes() []byte    { return w.buf }
