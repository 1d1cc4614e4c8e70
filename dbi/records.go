// Package dbi implements the DBI stream (spec.md §4.4.2): the module table,
// section contributions, section map, source file catalogue, and the
// optional debug header stream index list.
package dbi

import "errors"

// DBI stream version constants.
const (
	VersionV41  uint32 = 930803
	VersionV50  uint32 = 19960307
	VersionV60  uint32 = 19970606
	VersionV70  uint32 = 19990903
	VersionV110 uint32 = 20091201
)

// HeaderSize is the fixed size of the DBI stream header.
const HeaderSize = 64

// Signature is the constant value of Header.Signature.
const Signature int32 = -1

// SectionContribVersion is the only Section Contributions Substream version
// this package produces or accepts.
const SectionContribVersion uint32 = 0xf12eba2d

// Machine types.
const (
	MachineUnknown uint16 = 0x0000
	MachineI386    uint16 = 0x014c
	MachineAMD64   uint16 = 0x8664
	MachineARM     uint16 = 0x01c0
	MachineARM64   uint16 = 0xaa64
	MachineARMNT   uint16 = 0x01c4
	MachineIA64    uint16 = 0x0200
)

// InvalidStreamIndex marks an absent optional stream.
const InvalidStreamIndex uint16 = 0xFFFF

var (
	ErrInvalidHeader      = errors.New("dbi: invalid DBI header")
	ErrUnsupportedVersion = errors.New("dbi: unsupported DBI version")
	ErrTruncatedStream    = errors.New("dbi: truncated stream")
	ErrUnsupportedSCVer   = errors.New("dbi: unsupported section contribution version")
	ErrMalformedSources   = errors.New("dbi: malformed sources substream")
	ErrDuplicateSection   = errors.New("dbi: duplicate section contribution")
	ErrModuleIndexRange   = errors.New("dbi: module index out of range")
)

// Header is the 64-byte DBI stream header.
type Header struct {
	VersionSignature int32
	VersionHeader    uint32
	Age              uint32

	GlobalStreamIndex uint16
	BuildNumber       uint16
	PublicStreamIndex uint16
	PDBDllVersion     uint16

	SymRecordStreamIndex uint16
	PDBDllRbld           uint16

	ModInfoSize             uint32
	SectionContributionSize uint32
	SectionMapSize          uint32
	SourceInfoSize          uint32
	TypeServerMapSize       uint32
	MFCTypeServerIndex      uint32
	OptionalDbgHeaderSize   uint32
	ECSubstreamSize         uint32

	Flags   uint16
	Machine uint16
	Padding uint32
}

func (h *Header) BuildMajorVersion() uint16 { return (h.BuildNumber >> 8) & 0x7F }
func (h *Header) BuildMinorVersion() uint16 { return h.BuildNumber & 0xFF }

func (h *Header) IsIncrementallyLinked() bool { return h.Flags&0x01 != 0 }
func (h *Header) IsStripped() bool            { return h.Flags&0x02 != 0 }
func (h *Header) HasConflictingTypes() bool   { return h.Flags&0x04 != 0 }

// ModuleInfo describes one compilation unit.
type ModuleInfo struct {
	Opened  uint32
	Section SectionContribution
	Flags   uint16

	ModuleSymStreamIndex uint16
	SymByteSize          uint32
	C11ByteSize          uint32
	C13ByteSize          uint32
	SourceFileCount      uint16

	SourceFileNameIndex  uint32
	PDBFilePathNameIndex uint32

	ModuleName  string
	ObjFileName string
}

// SectionContribution describes a module's contribution to a PE section.
type SectionContribution struct {
	Section         uint16
	Padding1        uint16
	Offset          int32
	Size            int32
	Characteristics uint32
	ModuleIndex     uint16
	Padding2        uint16
	DataCrc         uint32
	RelocCrc        uint32
}

// SectionMap describes the logical-to-physical segment map.
type SectionMap struct {
	Count    uint16
	LogCount uint16
	Entries  []SectionMapEntry
}

// SectionMapEntry is a single 20-byte section map record.
type SectionMapEntry struct {
	Flags         uint16
	Ovl           uint16
	Group         uint16
	Frame         uint16
	SectionName   uint16
	ClassName     uint16
	Offset        uint32
	SectionLength uint32
}

// SourceFile is one (module, file name) association surfaced from the
// Sources Substream.
type SourceFile struct {
	ModuleIndex int
	Name        string
}

// OptionalDbgHeader is the fixed positional list of auxiliary debug stream
// indices (0=FPO, 1=EXCEPTION, ... 10=ORIGINAL_SECTION_HEADER).
type OptionalDbgHeader struct {
	FPOStreamIndex            uint16
	ExceptionStreamIndex      uint16
	FixupStreamIndex          uint16
	OmapToSrcStreamIndex      uint16
	OmapFromSrcStreamIndex    uint16
	SectionHdrStreamIndex     uint16
	TokenRidMapStreamIndex    uint16
	XDataStreamIndex          uint16
	PDataStreamIndex          uint16
	NewFPOStreamIndex         uint16
	SectionHdrOrigStreamIndex uint16
}

// slots returns pointers to the eleven positional fields in order, for
// shared parse/encode loops.
func (h *OptionalDbgHeader) slots() [11]*uint16 {
	return [11]*uint16{
		&h.FPOStreamIndex,
		&h.ExceptionStreamIndex,
		&h.FixupStreamIndex,
		&h.OmapToSrcStreamIndex,
		&h.OmapFromSrcStreamIndex,
		&h.SectionHdrStreamIndex,
		&h.TokenRidMapStreamIndex,
		&h.XDataStreamIndex,
		&h.PDataStreamIndex,
		&h.NewFPOStreamIndex,
		&h.SectionHdrOrigStreamIndex,
	}
}

// Stream is a fully parsed DBI stream.
type Stream struct {
	Header Header

	Modules              []ModuleInfo
	SectionContributions []SectionContribution
	SectionMap           *SectionMap
	SourceFiles          []SourceFile
	OptionalDbgStreams   *OptionalDbgHeader
}

// ModuleCount returns the number of modules.
func (s *Stream) ModuleCount() int { return len(s.Modules) }

// GetModule returns module info by index.
func (s *Stream) GetModule(index int) (*ModuleInfo, error) {
	if index < 0 || index >= len(s.Modules) {
		return nil, ErrModuleIndexRange
	}
	return &s.Modules[index], nil
}
