package tpi

import (
	"errors"
	"fmt"

	"github.com/pdbfmt/pdbfmt/cvread"
	"github.com/pdbfmt/pdbfmt/framing"
)

// TPI/IPI stream version constants
const (
	VersionV40 uint32 = 19950410
	VersionV41 uint32 = 19951122
	VersionV50 uint32 = 19961031
	VersionV70 uint32 = 19990903
	VersionV80 uint32 = 20040203 // current version; writers always emit this
)

const HeaderSize = 56

var (
	ErrInvalidHeader       = errors.New("tpi: invalid header")
	ErrUnsupportedVersion  = errors.New("tpi: unsupported version")
	ErrTypeIndexOutOfRange = errors.New("tpi: type index out of range")
	ErrInvalidTypeRecord   = errors.New("tpi: invalid type record")
)

// Header is the 56-byte TPI/IPI stream header.
type Header struct {
	Version                 uint32
	HeaderSize              uint32
	TypeIndexBegin          TypeIndex
	TypeIndexEnd            TypeIndex
	TypeRecordBytes         uint32
	HashStreamIndex         uint16
	HashAuxStreamIndex      uint16
	HashKeySize             uint32
	NumHashBuckets          uint32
	HashValueBufferOffset   int32
	HashValueBufferLength   uint32
	IndexOffsetBufferOffset int32
	IndexOffsetBufferLength uint32
	HashAdjBufferOffset     int32
	HashAdjBufferLength     uint32
}

// TypeCount returns the number of type records.
func (h *Header) TypeCount() uint32 { return uint32(h.TypeIndexEnd - h.TypeIndexBegin) }

// Stream is a parsed TPI or IPI stream.
type Stream struct {
	Header Header

	rawRecords    []byte
	recordOffsets map[TypeIndex]uint32
}

// ParseStream parses a TPI or IPI stream from raw data.
func ParseStream(data []byte) (*Stream, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidHeader
	}

	s := &Stream{recordOffsets: make(map[TypeIndex]uint32)}
	if err := s.parseHeader(cvread.NewReader(data)); err != nil {
		return nil, err
	}

	recordStart := int(s.Header.HeaderSize)
	recordEnd := recordStart + int(s.Header.TypeRecordBytes)
	if recordEnd > len(data) {
		return nil, fmt.Errorf("tpi: truncated stream: expected %d bytes, got %d", recordEnd, len(data))
	}
	s.rawRecords = data[recordStart:recordEnd]

	if err := s.buildOffsetIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stream) parseHeader(r *cvread.Reader) error {
	var err error
	if s.Header.Version, err = r.ReadU32(); err != nil {
		return err
	}
	if s.Header.Version != VersionV80 && s.Header.Version != VersionV70 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, s.Header.Version)
	}
	if s.Header.HeaderSize, err = r.ReadU32(); err != nil {
		return err
	}
	begin, err := r.ReadU32()
	if err != nil {
		return err
	}
	s.Header.TypeIndexBegin = TypeIndex(begin)
	end, err := r.ReadU32()
	if err != nil {
		return err
	}
	s.Header.TypeIndexEnd = TypeIndex(end)
	if s.Header.TypeRecordBytes, err = r.ReadU32(); err != nil {
		return err
	}
	if s.Header.HashStreamIndex, err = r.ReadU16(); err != nil {
		return err
	}
	if s.Header.HashAuxStreamIndex, err = r.ReadU16(); err != nil {
		return err
	}
	if s.Header.HashKeySize, err = r.ReadU32(); err != nil {
		return err
	}
	if s.Header.NumHashBuckets, err = r.ReadU32(); err != nil {
		return err
	}
	if s.Header.HashValueBufferOffset, err = r.ReadI32(); err != nil {
		return err
	}
	if s.Header.HashValueBufferLength, err = r.ReadU32(); err != nil {
		return err
	}
	if s.Header.IndexOffsetBufferOffset, err = r.ReadI32(); err != nil {
		return err
	}
	if s.Header.IndexOffsetBufferLength, err = r.ReadU32(); err != nil {
		return err
	}
	if s.Header.HashAdjBufferOffset, err = r.ReadI32(); err != nil {
		return err
	}
	if s.Header.HashAdjBufferLength, err = r.ReadU32(); err != nil {
		return err
	}
	return nil
}

// Encode serializes h to its 56-byte on-disk layout.
func (h *Header) Encode() []byte {
	out := make([]byte, HeaderSize)
	putU32 := func(off int, v uint32) { out[off], out[off+1], out[off+2], out[off+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24) }
	putU16 := func(off int, v uint16) { out[off], out[off+1] = byte(v), byte(v>>8) }
	putU32(0, h.Version)
	putU32(4, h.HeaderSize)
	putU32(8, uint32(h.TypeIndexBegin))
	putU32(12, uint32(h.TypeIndexEnd))
	putU32(16, h.TypeRecordBytes)
	putU16(20, h.HashStreamIndex)
	putU16(22, h.HashAuxStreamIndex)
	putU32(24, h.HashKeySize)
	putU32(28, h.NumHashBuckets)
	putU32(32, uint32(h.HashValueBufferOffset))
	putU32(36, h.HashValueBufferLength)
	putU32(40, uint32(h.IndexOffsetBufferOffset))
	putU32(44, h.IndexOffsetBufferLength)
	putU32(48, uint32(h.HashAdjBufferOffset))
	putU32(52, h.HashAdjBufferLength)
	return out
}

// buildOffsetIndex scans the record data to build the type index -> offset mapping.
func (s *Stream) buildOffsetIndex() error {
	dec := framing.NewDecoder(s.rawRecords, framing.AlignType)
	typeIndex := s.Header.TypeIndexBegin
	for {
		offset := dec.Offset()
		rec, err := dec.Next()
		if err != nil {
			return err
		}
		if rec == nil {
			break
		}
		if typeIndex >= s.Header.TypeIndexEnd {
			break
		}
		s.recordOffsets[typeIndex] = uint32(offset)
		typeIndex++
	}
	return nil
}

// TypeRecord is a decoded, not-yet-interpreted type or item record.
type TypeRecord struct {
	Kind TypeRecordKind
	Data []byte
}

// GetTypeRecord returns the raw type record for the given index.
func (s *Stream) GetTypeRecord(ti TypeIndex) (*TypeRecord, error) {
	if ti.IsSimpleType() {
		return nil, nil
	}
	if ti < s.Header.TypeIndexBegin || ti >= s.Header.TypeIndexEnd {
		return nil, fmt.Errorf("%w: %d", ErrTypeIndexOutOfRange, ti)
	}
	offset, ok := s.recordOffsets[ti]
	if !ok {
		return nil, fmt.Errorf("%w: no offset for type %d", ErrTypeIndexOutOfRange, ti)
	}

	dec := framing.NewDecoder(s.rawRecords[offset:], framing.AlignType)
	rec, err := dec.Next()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrInvalidTypeRecord
	}
	return &TypeRecord{Kind: TypeRecordKind(rec.Kind), Data: rec.Payload}, nil
}

// All returns every (TypeIndex, TypeRecord) pair in ascending index order.
func (s *Stream) All() ([]TypeIndex, error) {
	indices := make([]TypeIndex, 0, len(s.recordOffsets))
	for ti := s.Header.TypeIndexBegin; ti < s.Header.TypeIndexEnd; ti++ {
		if _, ok := s.recordOffsets[ti]; ok {
			indices = append(indices, ti)
		}
	}
	return indices, nil
}

func (s *Stream) TypeIndexBegin() TypeIndex { return s.Header.TypeIndexBegin }
func (s *Stream) TypeIndexEnd() TypeIndex   { return s.Header.TypeIndexEnd }
func (s *Stream) TypeCount() uint32         { return s.Header.TypeCount() }

// ModifierRecord represents an LF_MODIFIER type.
type ModifierRecord struct {
	ModifiedType TypeIndex
	Modifiers    ModifierOptions
}

func ParseModifierRecord(data []byte) (*ModifierRecord, error) {
	r := cvread.NewReader(data)
	modType, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	mods, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	return &ModifierRecord{ModifiedType: TypeIndex(modType), Modifiers: ModifierOptions(mods)}, nil
}

// PointerRecord represents an LF_POINTER type.
type PointerRecord struct {
	ReferentType    TypeIndex
	Attributes      PointerAttributes
	ContainingClass TypeIndex // only if pointer-to-member
}

func ParsePointerRecord(data []byte) (*PointerRecord, error) {
	r := cvread.NewReader(data)
	refType, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	attrs, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	rec := &PointerRecord{ReferentType: TypeIndex(refType), Attributes: PointerAttributes(attrs)}
	mode := rec.Attributes.Mode()
	if mode == PointerModePointerToDataMember || mode == PointerModePointerToMemberFunction {
		cc, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		rec.ContainingClass = TypeIndex(cc)
	}
	return rec, nil
}

// ProcedureRecord represents an LF_PROCEDURE type (function signature).
type ProcedureRecord struct {
	ReturnType      TypeIndex
	CallingConv     CallingConvention
	FunctionOptions FunctionOptions
	ParameterCount  uint16
	ArgumentList    TypeIndex
}

func ParseProcedureRecord(data []byte) (*ProcedureRecord, error) {
	r := cvread.NewReader(data)
	retType, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	callConv, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	funcOpts, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	paramCount, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	argList, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	return &ProcedureRecord{
		ReturnType: TypeIndex(retType), CallingConv: CallingConvention(callConv),
		FunctionOptions: FunctionOptions(funcOpts), ParameterCount: paramCount, ArgumentList: TypeIndex(argList),
	}, nil
}

// MFunctionRecord represents an LF_MFUNCTION type (member function).
type MFunctionRecord struct {
	ReturnType      TypeIndex
	ClassType       TypeIndex
	ThisType        TypeIndex
	CallingConv     CallingConvention
	FunctionOptions FunctionOptions
	ParameterCount  uint16
	ArgumentList    TypeIndex
	ThisAdjust      int32
}

func ParseMFunctionRecord(data []byte) (*MFunctionRecord, error) {
	r := cvread.NewReader(data)
	retType, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	classType, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	thisType, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	callConv, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	funcOpts, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	paramCount, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	argList, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	thisAdjust, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	return &MFunctionRecord{
		ReturnType: TypeIndex(retType), ClassType: TypeIndex(classType), ThisType: TypeIndex(thisType),
		CallingConv: CallingConvention(callConv), FunctionOptions: FunctionOptions(funcOpts),
		ParameterCount: paramCount, ArgumentList: TypeIndex(argList), ThisAdjust: thisAdjust,
	}, nil
}

// ArgListRecord represents an LF_ARGLIST type.
type ArgListRecord struct{ ArgTypes []TypeIndex }

func ParseArgListRecord(data []byte) (*ArgListRecord, error) {
	r := cvread.NewReader(data)
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	args := make([]TypeIndex, count)
	for i := range args {
		t, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		args[i] = TypeIndex(t)
	}
	return &ArgListRecord{ArgTypes: args}, nil
}

// ArrayRecord represents an LF_ARRAY type.
type ArrayRecord struct {
	ElementType TypeIndex
	IndexType   TypeIndex
	Size        framing.Number
	Name        string
}

func ParseArrayRecord(data []byte) (*ArrayRecord, error) {
	r := cvread.NewReader(data)
	elemType, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	indexType, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	size, err := r.ReadNumeric()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &ArrayRecord{ElementType: TypeIndex(elemType), IndexType: TypeIndex(indexType), Size: size, Name: name}, nil
}

// ClassRecord represents an LF_CLASS, LF_STRUCTURE, or LF_INTERFACE type.
type ClassRecord struct {
	MemberCount uint16
	Properties  ClassProperties
	FieldList   TypeIndex
	DerivedFrom TypeIndex
	VShape      TypeIndex
	Size        framing.Number
	Name        string
	UniqueName  string
}

func ParseClassRecord(data []byte) (*ClassRecord, error) {
	r := cvread.NewReader(data)
	memberCount, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	props, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	properties := ClassProperties(props)
	fieldList, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	derivedFrom, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	vshape, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	size, err := r.ReadNumeric()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	rec := &ClassRecord{
		MemberCount: memberCount, Properties: properties, FieldList: TypeIndex(fieldList),
		DerivedFrom: TypeIndex(derivedFrom), VShape: TypeIndex(vshape), Size: size, Name: name,
	}
	if properties.HasUniqueName() {
		if rec.UniqueName, err = r.ReadCString(); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// UnionRecord represents an LF_UNION type.
type UnionRecord struct {
	MemberCount uint16
	Properties  ClassProperties
	FieldList   TypeIndex
	Size        framing.Number
	Name        string
	UniqueName  string
}

func ParseUnionRecord(data []byte) (*UnionRecord, error) {
	r := cvread.NewReader(data)
	memberCount, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	props, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	properties := ClassProperties(props)
	fieldList, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	size, err := r.ReadNumeric()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	rec := &UnionRecord{MemberCount: memberCount, Properties: properties, FieldList: TypeIndex(fieldList), Size: size, Name: name}
	if properties.HasUniqueName() {
		if rec.UniqueName, err = r.ReadCString(); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// EnumRecord represents an LF_ENUM type.
type EnumRecord struct {
	Count          uint16
	Properties     ClassProperties
	UnderlyingType TypeIndex
	FieldList      TypeIndex
	Name           string
	UniqueName     string
}

func ParseEnumRecord(data []byte) (*EnumRecord, error) {
	r := cvread.NewReader(data)
	count, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	props, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	properties := ClassProperties(props)
	underlyingType, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	fieldList, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	rec := &EnumRecord{Count: count, Properties: properties, UnderlyingType: TypeIndex(underlyingType), FieldList: TypeIndex(fieldList), Name: name}
	if properties.HasUniqueName() {
		if rec.UniqueName, err = r.ReadCString(); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// BitFieldRecord represents an LF_BITFIELD type.
type BitFieldRecord struct {
	Type     TypeIndex
	Length   uint8
	Position uint8
}

func ParseBitFieldRecord(data []byte) (*BitFieldRecord, error) {
	r := cvread.NewReader(data)
	typ, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	length, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	position, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	return &BitFieldRecord{Type: TypeIndex(typ), Length: length, Position: position}, nil
}

// FuncIDRecord represents an LF_FUNC_ID item record (IPI stream).
type FuncIDRecord struct {
	ParentScope TypeIndex // item index of LF_STRING_ID scope, or 0
	FunctionType TypeIndex
	Name        string
}

func ParseFuncIDRecord(data []byte) (*FuncIDRecord, error) {
	r := cvread.NewReader(data)
	parent, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	funcType, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &FuncIDRecord{ParentScope: TypeIndex(parent), FunctionType: TypeIndex(funcType), Name: name}, nil
}

// StringIDRecord represents an LF_STRING_ID item record.
type StringIDRecord struct {
	Substrings TypeIndex // item index of an LF_SUBSTR_LIST, or 0
	String     string
}

func ParseStringIDRecord(data []byte) (*StringIDRecord, error) {
	r := cvread.NewReader(data)
	substrings, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	s, err := r.ReadCString()
	if err != nil {
		return nil, err
	}
	return &StringIDRecord{Substrings: TypeIndex(substrings), String: s}, nil
}

// SubstrListRecord represents an LF_SUBSTR_LIST item record: an LF_ARGLIST-
// shaped list of LF_STRING_ID item indices.
type SubstrListRecord struct{ Strings []TypeIndex }

func ParseSubstrListRecord(data []byte) (*SubstrListRecord, error) {
	al, err := ParseArgListRecord(data)
	if err != nil {
		return nil, err
	}
	return &SubstrListRecord{Strings: al.ArgTypes}, nil
}
