package dbi

import (
	"fmt"

	"github.com/pdbfmt/pdbfmt/cvread"
)

// ParseStream parses a DBI stream from raw data, including the seven
// substreams in their fixed file order: Modules, Section Contributions,
// Section Map, Sources, Type-Server Map (opaque), EC (opaque), Optional
// Debug Headers.
func ParseStream(data []byte) (*Stream, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidHeader
	}

	r := cvread.NewReader(data)
	s := &Stream{}

	if err := s.parseHeader(r); err != nil {
		return nil, err
	}

	offset := HeaderSize

	if s.Header.ModInfoSize > 0 {
		end := offset + int(s.Header.ModInfoSize)
		if end > len(data) {
			return nil, ErrTruncatedStream
		}
		if err := s.parseModuleInfo(data[offset:end]); err != nil {
			return nil, fmt.Errorf("dbi: module info: %w", err)
		}
		offset = end
	}

	if s.Header.SectionContributionSize > 0 {
		end := offset + int(s.Header.SectionContributionSize)
		if end > len(data) {
			return nil, ErrTruncatedStream
		}
		if err := s.parseSectionContributions(data[offset:end]); err != nil {
			return nil, fmt.Errorf("dbi: section contributions: %w", err)
		}
		offset = end
	}

	if s.Header.SectionMapSize > 0 {
		end := offset + int(s.Header.SectionMapSize)
		if end > len(data) {
			return nil, ErrTruncatedStream
		}
		if err := s.parseSectionMap(data[offset:end]); err != nil {
			return nil, fmt.Errorf("dbi: section map: %w", err)
		}
		offset = end
	}

	if s.Header.SourceInfoSize > 0 {
		end := offset + int(s.Header.SourceInfoSize)
		if end > len(data) {
			return nil, ErrTruncatedStream
		}
		if err := s.parseSources(data[offset:end]); err != nil {
			return nil, fmt.Errorf("dbi: sources: %w", err)
		}
		offset = end
	}

	if s.Header.TypeServerMapSize > 0 {
		offset += int(s.Header.TypeServerMapSize)
	}

	if s.Header.ECSubstreamSize > 0 {
		offset += int(s.Header.ECSubstreamSize)
	}

	if s.Header.OptionalDbgHeaderSize > 0 {
		end := offset + int(s.Header.OptionalDbgHeaderSize)
		if end > len(data) {
			return nil, ErrTruncatedStream
		}
		if err := s.parseOptionalDbgHeader(data[offset:end]); err != nil {
			return nil, fmt.Errorf("dbi: optional debug header: %w", err)
		}
	}

	return s, nil
}

func (s *Stream) parseHeader(r *cvread.Reader) error {
	sig, err := r.ReadI32()
	if err != nil {
		return err
	}
	if sig != Signature {
		return ErrInvalidHeader
	}
	s.Header.VersionSignature = sig

	var errv error
	readU32 := func(dst *uint32) {
		if errv != nil {
			return
		}
		*dst, errv = r.ReadU32()
	}
	readU16 := func(dst *uint16) {
		if errv != nil {
			return
		}
		*dst, errv = r.ReadU16()
	}

	readU32(&s.Header.VersionHeader)
	readU32(&s.Header.Age)
	readU16(&s.Header.GlobalStreamIndex)
	readU16(&s.Header.BuildNumber)
	readU16(&s.Header.PublicStreamIndex)
	readU16(&s.Header.PDBDllVersion)
	readU16(&s.Header.SymRecordStreamIndex)
	readU16(&s.Header.PDBDllRbld)
	readU32(&s.Header.ModInfoSize)
	readU32(&s.Header.SectionContributionSize)
	readU32(&s.Header.SectionMapSize)
	readU32(&s.Header.SourceInfoSize)
	readU32(&s.Header.TypeServerMapSize)
	readU32(&s.Header.MFCTypeServerIndex)
	readU32(&s.Header.OptionalDbgHeaderSize)
	readU32(&s.Header.ECSubstreamSize)
	readU16(&s.Header.Flags)
	readU16(&s.Header.Machine)
	readU32(&s.Header.Padding)
	return errv
}

func (s *Stream) parseModuleInfo(data []byte) error {
	r := cvread.NewReader(data)

	for r.Remaining() > 0 {
		var mod ModuleInfo
		var err error

		mod.Opened, err = r.ReadU32()
		if err != nil {
			break
		}

		if err := parseSectionContribution(r, &mod.Section); err != nil {
			return err
		}

		mod.Flags, err = r.ReadU16()
		if err != nil {
			return err
		}
		mod.ModuleSymStreamIndex, err = r.ReadU16()
		if err != nil {
			return err
		}
		mod.SymByteSize, err = r.ReadU32()
		if err != nil {
			return err
		}
		mod.C11ByteSize, err = r.ReadU32()
		if err != nil {
			return err
		}
		mod.C13ByteSize, err = r.ReadU32()
		if err != nil {
			return err
		}
		mod.SourceFileCount, err = r.ReadU16()
		if err != nil {
			return err
		}
		if err := r.Skip(2); err != nil { // padding
			return err
		}
		if err := r.Skip(4); err != nil { // unused
			return err
		}
		mod.SourceFileNameIndex, err = r.ReadU32()
		if err != nil {
			return err
		}
		mod.PDBFilePathNameIndex, err = r.ReadU32()
		if err != nil {
			return err
		}
		mod.ModuleName, err = r.ReadCString()
		if err != nil {
			return err
		}
		mod.ObjFileName, err = r.ReadCString()
		if err != nil {
			return err
		}
		r.Align(4)

		s.Modules = append(s.Modules, mod)
	}

	return nil
}

func parseSectionContribution(r *cvread.Reader, sc *SectionContribution) error {
	var err error
	sc.Section, err = r.ReadU16()
	if err != nil {
		return err
	}
	sc.Padding1, err = r.ReadU16()
	if err != nil {
		return err
	}
	sc.Offset, err = r.ReadI32()
	if err != nil {
		return err
	}
	sc.Size, err = r.ReadI32()
	if err != nil {
		return err
	}
	sc.Characteristics, err = r.ReadU32()
	if err != nil {
		return err
	}
	sc.ModuleIndex, err = r.ReadU16()
	if err != nil {
		return err
	}
	sc.Padding2, err = r.ReadU16()
	if err != nil {
		return err
	}
	sc.DataCrc, err = r.ReadU32()
	if err != nil {
		return err
	}
	sc.RelocCrc, err = r.ReadU32()
	return err
}

func (s *Stream) parseSectionContributions(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	r := cvread.NewReader(data)
	version, err := r.ReadU32()
	if err != nil {
		return err
	}
	if version != SectionContribVersion {
		return fmt.Errorf("%w: %#x", ErrUnsupportedSCVer, version)
	}

	const entrySize = 28
	for r.Remaining() >= entrySize {
		var sc SectionContribution
		if err := parseSectionContribution(r, &sc); err != nil {
			return err
		}
		s.SectionContributions = append(s.SectionContributions, sc)
	}

	return nil
}

func (s *Stream) parseSectionMap(data []byte) error {
	r := cvread.NewReader(data)

	count, err := r.ReadU16()
	if err != nil {
		return err
	}
	logCount, err := r.ReadU16()
	if err != nil {
		return err
	}

	s.SectionMap = &SectionMap{Count: count, LogCount: logCount, Entries: make([]SectionMapEntry, 0, count)}

	for i := uint16(0); i < count && r.Remaining() >= 20; i++ {
		var e SectionMapEntry
		e.Flags, err = r.ReadU16()
		if err != nil {
			return err
		}
		e.Ovl, err = r.ReadU16()
		if err != nil {
			return err
		}
		e.Group, err = r.ReadU16()
		if err != nil {
			return err
		}
		e.Frame, err = r.ReadU16()
		if err != nil {
			return err
		}
		e.SectionName, err = r.ReadU16()
		if err != nil {
			return err
		}
		e.ClassName, err = r.ReadU16()
		if err != nil {
			return err
		}
		e.Offset, err = r.ReadU32()
		if err != nil {
			return err
		}
		e.SectionLength, err = r.ReadU32()
		if err != nil {
			return err
		}
		s.SectionMap.Entries = append(s.SectionMap.Entries, e)
	}

	return nil
}

// parseSources parses the Sources Substream: num_modules, an obsolete
// num_sources field, per-module file_starts/file_counts arrays, a flat
// file_offsets array (sum(counts) entries), and a names_buffer of
// NUL-terminated strings addressed by those offsets.
func (s *Stream) parseSources(data []byte) error {
	r := cvread.NewReader(data)

	numModules, err := r.ReadU16()
	if err != nil {
		return err
	}
	if _, err := r.ReadU16(); err != nil { // obsolete num_sources
		return err
	}

	starts := make([]uint16, numModules)
	for i := range starts {
		if starts[i], err = r.ReadU16(); err != nil {
			return err
		}
	}
	counts := make([]uint16, numModules)
	for i := range counts {
		if counts[i], err = r.ReadU16(); err != nil {
			return err
		}
	}

	var totalOffsets int
	for _, c := range counts {
		totalOffsets += int(c)
	}

	fileOffsets := make([]uint32, totalOffsets)
	for i := range fileOffsets {
		if fileOffsets[i], err = r.ReadU32(); err != nil {
			return err
		}
	}

	namesBuffer := r.RemainingData()

	for mod := 0; mod < int(numModules); mod++ {
		start := int(starts[mod])
		count := int(counts[mod])
		for i := 0; i < count; i++ {
			idx := start + i
			if idx >= len(fileOffsets) {
				return fmt.Errorf("%w: module %d file %d out of range", ErrMalformedSources, mod, i)
			}
			name, err := nameAt(namesBuffer, fileOffsets[idx])
			if err != nil {
				return err
			}
			s.SourceFiles = append(s.SourceFiles, SourceFile{ModuleIndex: mod, Name: name})
		}
	}

	return nil
}

func nameAt(buf []byte, offset uint32) (string, error) {
	if int(offset) > len(buf) {
		return "", fmt.Errorf("%w: name offset %d out of range", ErrMalformedSources, offset)
	}
	nr := cvread.NewReader(buf)
	if err := nr.SetOffset(int(offset)); err != nil {
		return "", err
	}
	return nr.ReadCString()
}

func (s *Stream) parseOptionalDbgHeader(data []byte) error {
	r := cvread.NewReader(data)
	s.OptionalDbgStreams = &OptionalDbgHeader{}

	for _, field := range s.OptionalDbgStreams.slots() {
		if r.Remaining() < 2 {
			*field = InvalidStreamIndex
			continue
		}
		val, err := r.ReadU16()
		if err != nil {
			*field = InvalidStreamIndex
			continue
		}
		*field = val
	}

	return nil
}
