package pdb

import (
	"iter"
	"sort"
	"sync"

	"github.com/pdbfmt/pdbfmt/dbi"
	"github.com/pdbfmt/pdbfmt/gsi"
	"github.com/pdbfmt/pdbfmt/hashtab"
	"github.com/pdbfmt/pdbfmt/internal/demangle"
	"github.com/pdbfmt/pdbfmt/pdbi"
	"github.com/pdbfmt/pdbfmt/symbols"
	"github.com/pdbfmt/pdbfmt/symtab"
)

// SymbolKind identifies the type of symbol.
type SymbolKind uint16

const (
	SymbolKindUnknown SymbolKind = iota
	SymbolKindPublic
	SymbolKindFunction
	SymbolKindData
	SymbolKindLocal
	SymbolKindParameter
	SymbolKindUDT
	SymbolKindConstant
	SymbolKindLabel
	SymbolKindBlock
	SymbolKindThunk
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolKindPublic:
		return "public"
	case SymbolKindFunction:
		return "function"
	case SymbolKindData:
		return "data"
	case SymbolKindLocal:
		return "local"
	case SymbolKindParameter:
		return "parameter"
	case SymbolKindUDT:
		return "udt"
	case SymbolKindConstant:
		return "constant"
	case SymbolKindLabel:
		return "label"
	case SymbolKindBlock:
		return "block"
	case SymbolKindThunk:
		return "thunk"
	default:
		return "unknown"
	}
}

// Symbol is the interface implemented by all symbol types.
type Symbol interface {
	// Name returns the raw (possibly mangled) symbol name.
	Name() string

	// DemangledName returns the demangled name, or the raw name if not mangled.
	DemangledName() string

	// Kind returns the symbol kind.
	Kind() SymbolKind

	// Section returns the section number (1-based, 0 = no section).
	Section() uint16

	// Offset returns the offset within the section.
	Offset() uint32
}

// baseSymbol provides common symbol functionality including lazy demangling.
type baseSymbol struct {
	name          string
	demangledName string
	demangledOnce sync.Once
}

func (s *baseSymbol) Name() string { return s.name }

func (s *baseSymbol) DemangledName() string {
	s.demangledOnce.Do(func() {
		s.demangledName = demangle.DemangleSimple(s.name)
	})
	return s.demangledName
}

// PublicSymbol represents a public symbol export.
type PublicSymbol struct {
	baseSymbol
	section uint16
	offset  uint32
	flags   symbols.PublicSymFlags
}

func (s *PublicSymbol) Kind() SymbolKind { return SymbolKindPublic }
func (s *PublicSymbol) Section() uint16  { return s.section }
func (s *PublicSymbol) Offset() uint32   { return s.offset }
func (s *PublicSymbol) IsCode() bool     { return s.flags.IsCode() }
func (s *PublicSymbol) IsFunction() bool { return s.flags.IsFunction() }

// FunctionSymbol represents a function with full debug info.
type FunctionSymbol struct {
	baseSymbol
	section   uint16
	offset    uint32
	length    uint32
	typeIndex uint32
}

func (s *FunctionSymbol) Kind() SymbolKind  { return SymbolKindFunction }
func (s *FunctionSymbol) Section() uint16   { return s.section }
func (s *FunctionSymbol) Offset() uint32    { return s.offset }
func (s *FunctionSymbol) Length() uint32    { return s.length }
func (s *FunctionSymbol) TypeIndex() uint32 { return s.typeIndex }

// DataSymbol represents a global or static data symbol.
type DataSymbol struct {
	baseSymbol
	section   uint16
	offset    uint32
	typeIndex uint32
}

func (s *DataSymbol) Kind() SymbolKind  { return SymbolKindData }
func (s *DataSymbol) Section() uint16   { return s.section }
func (s *DataSymbol) Offset() uint32    { return s.offset }
func (s *DataSymbol) TypeIndex() uint32 { return s.typeIndex }

// UDTSymbol represents a user-defined type reference.
type UDTSymbol struct {
	baseSymbol
	typeIndex uint32
}

func (s *UDTSymbol) Kind() SymbolKind  { return SymbolKindUDT }
func (s *UDTSymbol) Section() uint16   { return 0 }
func (s *UDTSymbol) Offset() uint32    { return 0 }
func (s *UDTSymbol) TypeIndex() uint32 { return s.typeIndex }

// ConstantSymbol represents a constant.
type ConstantSymbol struct {
	baseSymbol
	value     uint64
	typeIndex uint32
}

func (s *ConstantSymbol) Kind() SymbolKind  { return SymbolKindConstant }
func (s *ConstantSymbol) Section() uint16   { return 0 }
func (s *ConstantSymbol) Offset() uint32    { return 0 }
func (s *ConstantSymbol) Value() uint64     { return s.value }
func (s *ConstantSymbol) TypeIndex() uint32 { return s.typeIndex }

// SymbolTable provides access to symbols in the PDB.
type SymbolTable struct {
	pdb       *File
	dbiStream *dbi.Stream

	// Raw Global Symbol Stream data (lazy-loaded, kept for on-demand parsing)
	symRecordData     []byte
	symRecordDataOnce sync.Once
	symRecordDataErr  error

	// Lazy-loaded public symbols (only populated when iterating all)
	publicSymbols     []*PublicSymbol
	publicSymbolsOnce sync.Once
	publicSymbolsErr  error

	// GSI Symbol Name Table, for name lookup of globals/*REF records/UDTs/constants
	gsiTable     *symtab.Table
	gsiTableOnce sync.Once
	gsiTableErr  error

	// PSI, for public-symbol name and address lookup
	psi     *gsi.PSI
	psiOnce sync.Once
	psiErr  error

	mu sync.RWMutex
}

func newSymbolTable(pdb *File, dbiStream *dbi.Stream) *SymbolTable {
	return &SymbolTable{
		pdb:       pdb,
		dbiStream: dbiStream,
	}
}

// numBuckets returns the Symbol Name Table bucket count this PDB was built
// with: NumBucketsMinimal when the PDBI MinimalDebugInfo feature is set,
// NumBucketsDefault otherwise.
func (st *SymbolTable) numBuckets() uint32 {
	info, err := st.pdb.Info()
	if err == nil && info != nil && info.HasFeature(pdbi.FeatureMinimalDebugInfo) {
		return symtab.NumBucketsMinimal
	}
	return symtab.NumBucketsDefault
}

// ensureSymRecordData loads the Global Symbol Stream data.
func (st *SymbolTable) ensureSymRecordData() error {
	st.symRecordDataOnce.Do(func() {
		if st.dbiStream.Header.SymRecordStreamIndex == 0xFFFF {
			return
		}
		st.symRecordData, st.symRecordDataErr = st.pdb.msf.ReadStream(
			uint32(st.dbiStream.Header.SymRecordStreamIndex))
	})
	return st.symRecordDataErr
}

// ensureGSI loads and parses the GSI stream.
func (st *SymbolTable) ensureGSI() error {
	st.gsiTableOnce.Do(func() {
		if st.dbiStream.Header.GlobalStreamIndex == 0xFFFF {
			return
		}
		data, err := st.pdb.msf.ReadStream(uint32(st.dbiStream.Header.GlobalStreamIndex))
		if err != nil {
			st.gsiTableErr = err
			return
		}
		st.gsiTable, st.gsiTableErr = gsi.ParseGSI(data, st.numBuckets())
	})
	return st.gsiTableErr
}

// ensurePSI loads and parses the PSI stream.
func (st *SymbolTable) ensurePSI() error {
	st.psiOnce.Do(func() {
		if st.dbiStream.Header.PublicStreamIndex == 0xFFFF {
			return
		}
		data, err := st.pdb.msf.ReadStream(uint32(st.dbiStream.Header.PublicStreamIndex))
		if err != nil {
			st.psiErr = err
			return
		}
		st.psi, st.psiErr = gsi.ParsePSI(data, st.numBuckets())
	})
	return st.psiErr
}

// All returns an iterator over all symbols.
func (st *SymbolTable) All() iter.Seq[Symbol] {
	return func(yield func(Symbol) bool) {
		// First yield public symbols
		for sym := range st.Public() {
			if !yield(sym) {
				return
			}
		}

		// Then yield module symbols
		modules, err := st.pdb.Modules()
		if err != nil {
			return
		}

		for _, mod := range modules {
			for sym := range mod.Symbols() {
				if !yield(sym) {
					return
				}
			}
		}
	}
}

// Public returns an iterator over public symbols only.
// This streams symbols on-demand without loading all into memory.
func (st *SymbolTable) Public() iter.Seq[*PublicSymbol] {
	return func(yield func(*PublicSymbol) bool) {
		if err := st.ensureSymRecordData(); err != nil || st.symRecordData == nil {
			return
		}

		it := symbols.NewIterator(st.symRecordData)
		for {
			rec, err := it.Next()
			if err != nil || rec == nil {
				return
			}
			if rec.Kind != symbols.S_PUB32 {
				continue
			}
			sym, err := symbols.ParsePublicSym32(rec.Payload)
			if err != nil {
				continue
			}
			pubSym := &PublicSymbol{
				baseSymbol: baseSymbol{name: sym.Name},
				section:    sym.Segment,
				offset:     sym.Offset,
				flags:      sym.Flags,
			}
			if !yield(pubSym) {
				return
			}
		}
	}
}

// PublicCached returns all public symbols, caching them for repeated access.
// Use this when you need to iterate multiple times over public symbols.
func (st *SymbolTable) PublicCached() ([]*PublicSymbol, error) {
	st.publicSymbolsOnce.Do(func() {
		st.publicSymbols, st.publicSymbolsErr = st.loadPublicSymbols()
	})
	return st.publicSymbols, st.publicSymbolsErr
}

func (st *SymbolTable) loadPublicSymbols() ([]*PublicSymbol, error) {
	var result []*PublicSymbol
	for sym := range st.Public() {
		result = append(result, sym)
	}
	return result, nil
}

// ByName looks up symbols by their (possibly mangled) name, via the GSI
// Symbol Name Table and, for public symbols, the PSI.
func (st *SymbolTable) ByName(name string) iter.Seq[Symbol] {
	return func(yield func(Symbol) bool) {
		if err := st.ensureSymRecordData(); err != nil || st.symRecordData == nil {
			return
		}

		for _, offset := range st.lookupOffsets(name) {
			sym := st.parseSymbolAt(uint32(offset))
			if sym == nil {
				continue
			}
			if !yield(sym) {
				return
			}
		}
	}
}

// FindByName finds the first symbol with the given name.
func (st *SymbolTable) FindByName(name string) (Symbol, bool) {
	for sym := range st.ByName(name) {
		return sym, true
	}
	return nil, false
}

// lookupOffsets returns every GSS byte offset whose record's indexed name
// matches name exactly, checking both the GSI table and the PSI table
// (public symbols are indexed separately from GSI's globals).
func (st *SymbolTable) lookupOffsets(name string) []int32 {
	var offsets []int32
	bucket := hashtab.LHashPbCb(name)

	if err := st.ensureGSI(); err == nil && st.gsiTable != nil {
		for _, rec := range st.gsiTable.Bucket(bucket % st.gsiTable.NumBuckets) {
			off := rec.GSSOffset()
			if st.recordNameMatches(off, name) {
				offsets = append(offsets, off)
			}
		}
	}

	if err := st.ensurePSI(); err == nil && st.psi != nil {
		for _, rec := range st.psi.Table.Bucket(bucket % st.psi.Table.NumBuckets) {
			off := rec.GSSOffset()
			if st.recordNameMatches(off, name) {
				offsets = append(offsets, off)
			}
		}
	}

	return offsets
}

func (st *SymbolTable) recordNameMatches(offset int32, name string) bool {
	if offset < 0 || int(offset) >= len(st.symRecordData) {
		return false
	}
	rec, err := symbols.NewIterator(st.symRecordData[offset:]).Next()
	if err != nil || rec == nil {
		return false
	}
	got, ok := gsi.Name(rec)
	return ok && got == name
}

// ByAddress looks up the symbol at the exact given address.
func (st *SymbolTable) ByAddress(section uint16, offset uint32) (Symbol, bool) {
	gssOffset, found := st.findAddress(section, offset, false)
	if !found {
		return nil, false
	}
	sym := st.parseSymbolAt(uint32(gssOffset))
	return sym, sym != nil
}

// FindSymbolContaining finds the public symbol whose address range contains
// the given address: the symbol with the greatest address not exceeding
// (section, offset).
func (st *SymbolTable) FindSymbolContaining(section uint16, offset uint32) (Symbol, bool) {
	gssOffset, found := st.findAddress(section, offset, true)
	if !found {
		return nil, false
	}
	sym := st.parseSymbolAt(uint32(gssOffset))
	return sym, sym != nil
}

type addrKey struct {
	section uint16
	offset  uint32
}

func (st *SymbolTable) addrKeyAt(gssOffset int32) (addrKey, bool) {
	if gssOffset < 0 || int(gssOffset) >= len(st.symRecordData) {
		return addrKey{}, false
	}
	rec, err := symbols.NewIterator(st.symRecordData[gssOffset:]).Next()
	if err != nil || rec == nil || rec.Kind != symbols.S_PUB32 {
		return addrKey{}, false
	}
	sym, err := symbols.ParsePublicSym32(rec.Payload)
	if err != nil {
		return addrKey{}, false
	}
	return addrKey{section: sym.Segment, offset: sym.Offset}, true
}

// findAddress binary searches PSI.AddressMap (sorted by (segment, offset))
// for the given address. When containing is true, it returns the nearest
// entry at or before the address instead of requiring an exact match.
func (st *SymbolTable) findAddress(section uint16, offset uint32, containing bool) (int32, bool) {
	if err := st.ensurePSI(); err != nil || st.psi == nil {
		return 0, false
	}
	target := addrKey{section: section, offset: offset}
	addrMap := st.psi.AddressMap

	less := func(k addrKey) bool {
		if k.section != target.section {
			return k.section < target.section
		}
		return k.offset < target.offset
	}

	i := sort.Search(len(addrMap), func(i int) bool {
		k, ok := st.addrKeyAt(addrMap[i])
		if !ok {
			return false
		}
		return !less(k)
	})

	if !containing {
		if i < len(addrMap) {
			if k, ok := st.addrKeyAt(addrMap[i]); ok && k == target {
				return addrMap[i], true
			}
		}
		return 0, false
	}

	if i < len(addrMap) {
		if k, ok := st.addrKeyAt(addrMap[i]); ok && k == target {
			return addrMap[i], true
		}
	}
	if i == 0 {
		return 0, false
	}
	i--
	if k, ok := st.addrKeyAt(addrMap[i]); ok && k.section == target.section {
		return addrMap[i], true
	}
	return 0, false
}

// parseSymbolAt parses a symbol at the given offset in the Global Symbol Stream.
func (st *SymbolTable) parseSymbolAt(offset uint32) Symbol {
	if st.symRecordData == nil || int(offset) >= len(st.symRecordData) {
		return nil
	}

	rec, err := symbols.NewIterator(st.symRecordData[offset:]).Next()
	if err != nil || rec == nil {
		return nil
	}

	return st.convertSymbolRecord(rec)
}

func (st *SymbolTable) convertSymbolRecord(rec *symbols.Record) Symbol {
	switch rec.Kind {
	case symbols.S_PUB32:
		sym, err := symbols.ParsePublicSym32(rec.Payload)
		if err != nil {
			return nil
		}
		return &PublicSymbol{
			baseSymbol: baseSymbol{name: sym.Name},
			section:    sym.Segment,
			offset:     sym.Offset,
			flags:      sym.Flags,
		}

	case symbols.S_GPROC32, symbols.S_LPROC32, symbols.S_GPROC32_ID, symbols.S_LPROC32_ID:
		sym, err := symbols.ParseProcSym(rec.Payload)
		if err != nil {
			return nil
		}
		return &FunctionSymbol{
			baseSymbol: baseSymbol{name: sym.Name},
			section:    sym.Segment,
			offset:     sym.CodeOffset,
			length:     sym.CodeSize,
			typeIndex:  uint32(sym.FunctionType),
		}

	case symbols.S_GDATA32, symbols.S_LDATA32:
		sym, err := symbols.ParseDataSym(rec.Payload)
		if err != nil {
			return nil
		}
		return &DataSymbol{
			baseSymbol: baseSymbol{name: sym.Name},
			section:    sym.Segment,
			offset:     sym.Offset,
			typeIndex:  uint32(sym.Type),
		}

	case symbols.S_UDT:
		sym, err := symbols.ParseUDTSym(rec.Payload)
		if err != nil {
			return nil
		}
		return &UDTSymbol{
			baseSymbol: baseSymbol{name: sym.Name},
			typeIndex:  uint32(sym.Type),
		}

	case symbols.S_CONSTANT:
		sym, err := symbols.ParseConstantSym(rec.Payload)
		if err != nil {
			return nil
		}
		return &ConstantSymbol{
			baseSymbol: baseSymbol{name: sym.Name},
			value:      sym.Value.Value,
			typeIndex:  uint32(sym.Type),
		}

	default:
		return nil
	}
}

// Count returns the total number of symbols.
func (st *SymbolTable) Count() int {
	count := 0
	for range st.All() {
		count++
	}
	return count
}

// PublicCount returns the number of public symbols.
func (st *SymbolTable) PublicCount() int {
	if st.publicSymbols != nil {
		return len(st.publicSymbols)
	}
	count := 0
	for range st.Public() {
		count++
	}
	return count
}
