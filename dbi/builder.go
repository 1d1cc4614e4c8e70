package dbi

import (
	"encoding/binary"
	"sort"
)

// Built holds the fully assembled DBI stream, ready to place at its MSF
// stream index.
type Built struct {
	Header Header
	Bytes  []byte
}

// Build assembles a DBI stream from its logical components, applying the
// determinism rules: modules sorted by (module_name, obj_file) with their
// section_contrib.module_index reassigned to the new position; section
// contributions sorted by (section, offset) with duplicates rejected;
// sources deduplicated into a single sorted names buffer with prefix-summed
// per-module starts. header's seven substream-size fields and its
// VersionSignature are overwritten; every other header field (version
// header, age, stream indices, machine, flags) is kept as supplied.
//
// sources' ModuleIndex fields refer to positions in the modules slice as
// passed in, not the post-sort order; Build remaps them.
func Build(modules []ModuleInfo, contributions []SectionContribution, sectionMap *SectionMap, sources []SourceFile, optionalDbg *OptionalDbgHeader, header Header) (*Built, error) {
	oldToNew := make([]int, len(modules))
	order := make([]int, len(modules))
	for i := range modules {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ma, mb := modules[order[a]], modules[order[b]]
		if ma.ModuleName != mb.ModuleName {
			return ma.ModuleName < mb.ModuleName
		}
		return ma.ObjFileName < mb.ObjFileName
	})

	sortedModules := make([]ModuleInfo, len(modules))
	for newIdx, oldIdx := range order {
		oldToNew[oldIdx] = newIdx
		mod := modules[oldIdx]
		mod.Section.ModuleIndex = uint16(newIdx)
		mod.Flags = 0
		sortedModules[newIdx] = mod
	}

	remappedContribs := make([]SectionContribution, len(contributions))
	copy(remappedContribs, contributions)
	for i := range remappedContribs {
		if int(remappedContribs[i].ModuleIndex) < len(oldToNew) {
			remappedContribs[i].ModuleIndex = uint16(oldToNew[remappedContribs[i].ModuleIndex])
		}
	}
	sort.SliceStable(remappedContribs, func(a, b int) bool {
		ca, cb := remappedContribs[a], remappedContribs[b]
		if ca.Section != cb.Section {
			return ca.Section < cb.Section
		}
		return ca.Offset < cb.Offset
	})
	for i := 1; i < len(remappedContribs); i++ {
		if remappedContribs[i].Section == remappedContribs[i-1].Section && remappedContribs[i].Offset == remappedContribs[i-1].Offset {
			return nil, ErrDuplicateSection
		}
	}

	modInfoBytes := encodeModuleInfos(sortedModules)
	sectionContribBytes := encodeSectionContributions(remappedContribs)
	sectionMapBytes := encodeSectionMap(sectionMap)
	sourcesBytes := encodeSources(sources, oldToNew, len(modules))
	optionalDbgBytes := encodeOptionalDbgHeader(optionalDbg)

	header.ModInfoSize = uint32(len(modInfoBytes))
	header.SectionContributionSize = uint32(len(sectionContribBytes))
	header.SectionMapSize = uint32(len(sectionMapBytes))
	header.SourceInfoSize = uint32(len(sourcesBytes))
	header.TypeServerMapSize = 0
	header.ECSubstreamSize = 0
	header.OptionalDbgHeaderSize = uint32(len(optionalDbgBytes))
	header.VersionSignature = Signature

	out := make([]byte, 0, HeaderSize+len(modInfoBytes)+len(sectionContribBytes)+len(sectionMapBytes)+len(sourcesBytes)+len(optionalDbgBytes))
	out = append(out, encodeHeader(&header)...)
	out = append(out, modInfoBytes...)
	out = append(out, sectionContribBytes...)
	out = append(out, sectionMapBytes...)
	out = append(out, sourcesBytes...)
	out = append(out, optionalDbgBytes...)

	return &Built{Header: header, Bytes: out}, nil
}

func encodeHeader(h *Header) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:], uint32(h.VersionSignature))
	binary.LittleEndian.PutUint32(b[4:], h.VersionHeader)
	binary.LittleEndian.PutUint32(b[8:], h.Age)
	binary.LittleEndian.PutUint16(b[12:], h.GlobalStreamIndex)
	binary.LittleEndian.PutUint16(b[14:], h.BuildNumber)
	binary.LittleEndian.PutUint16(b[16:], h.PublicStreamIndex)
	binary.LittleEndian.PutUint16(b[18:], h.PDBDllVersion)
	binary.LittleEndian.PutUint16(b[20:], h.SymRecordStreamIndex)
	binary.LittleEndian.PutUint16(b[22:], h.PDBDllRbld)
	binary.LittleEndian.PutUint32(b[24:], h.ModInfoSize)
	binary.LittleEndian.PutUint32(b[28:], h.SectionContributionSize)
	binary.LittleEndian.PutUint32(b[32:], h.SectionMapSize)
	binary.LittleEndian.PutUint32(b[36:], h.SourceInfoSize)
	binary.LittleEndian.PutUint32(b[40:], h.TypeServerMapSize)
	binary.LittleEndian.PutUint32(b[44:], h.MFCTypeServerIndex)
	binary.LittleEndian.PutUint32(b[48:], h.OptionalDbgHeaderSize)
	binary.LittleEndian.PutUint32(b[52:], h.ECSubstreamSize)
	binary.LittleEndian.PutUint16(b[56:], h.Flags)
	binary.LittleEndian.PutUint16(b[58:], h.Machine)
	binary.LittleEndian.PutUint32(b[60:], h.Padding)
	return b
}

func encodeSectionContribution(sc *SectionContribution) []byte {
	b := make([]byte, 28)
	binary.LittleEndian.PutUint16(b[0:], sc.Section)
	binary.LittleEndian.PutUint16(b[2:], sc.Padding1)
	binary.LittleEndian.PutUint32(b[4:], uint32(sc.Offset))
	binary.LittleEndian.PutUint32(b[8:], uint32(sc.Size))
	binary.LittleEndian.PutUint32(b[12:], sc.Characteristics)
	binary.LittleEndian.PutUint16(b[16:], sc.ModuleIndex)
	binary.LittleEndian.PutUint16(b[18:], sc.Padding2)
	binary.LittleEndian.PutUint32(b[20:], sc.DataCrc)
	binary.LittleEndian.PutUint32(b[24:], sc.RelocCrc)
	return b
}

func encodeModuleInfos(modules []ModuleInfo) []byte {
	var out []byte
	for _, mod := range modules {
		rec := make([]byte, 0, 64)
		rec = binary.LittleEndian.AppendUint32(rec, mod.Opened)
		rec = append(rec, encodeSectionContribution(&mod.Section)...)
		rec = binary.LittleEndian.AppendUint16(rec, mod.Flags)
		rec = binary.LittleEndian.AppendUint16(rec, mod.ModuleSymStreamIndex)
		rec = binary.LittleEndian.AppendUint32(rec, mod.SymByteSize)
		rec = binary.LittleEndian.AppendUint32(rec, mod.C11ByteSize)
		rec = binary.LittleEndian.AppendUint32(rec, mod.C13ByteSize)
		rec = binary.LittleEndian.AppendUint16(rec, mod.SourceFileCount)
		rec = binary.LittleEndian.AppendUint16(rec, 0) // padding
		rec = binary.LittleEndian.AppendUint32(rec, 0) // unused
		rec = binary.LittleEndian.AppendUint32(rec, mod.SourceFileNameIndex)
		rec = binary.LittleEndian.AppendUint32(rec, mod.PDBFilePathNameIndex)
		rec = append(rec, []byte(mod.ModuleName)...)
		rec = append(rec, 0)
		rec = append(rec, []byte(mod.ObjFileName)...)
		rec = append(rec, 0)
		for len(rec)%4 != 0 {
			rec = append(rec, 0)
		}
		out = append(out, rec...)
	}
	return out
}

func encodeSectionContributions(contribs []SectionContribution) []byte {
	if len(contribs) == 0 {
		return nil
	}
	out := make([]byte, 0, 4+len(contribs)*28)
	out = binary.LittleEndian.AppendUint32(out, SectionContribVersion)
	for i := range contribs {
		out = append(out, encodeSectionContribution(&contribs[i])...)
	}
	return out
}

func encodeSectionMap(sm *SectionMap) []byte {
	if sm == nil {
		return nil
	}
	out := make([]byte, 0, 4+len(sm.Entries)*20)
	out = binary.LittleEndian.AppendUint16(out, sm.Count)
	out = binary.LittleEndian.AppendUint16(out, sm.LogCount)
	for _, e := range sm.Entries {
		out = binary.LittleEndian.AppendUint16(out, e.Flags)
		out = binary.LittleEndian.AppendUint16(out, e.Ovl)
		out = binary.LittleEndian.AppendUint16(out, e.Group)
		out = binary.LittleEndian.AppendUint16(out, e.Frame)
		out = binary.LittleEndian.AppendUint16(out, e.SectionName)
		out = binary.LittleEndian.AppendUint16(out, e.ClassName)
		out = binary.LittleEndian.AppendUint32(out, e.Offset)
		out = binary.LittleEndian.AppendUint32(out, e.SectionLength)
	}
	return out
}

// encodeSources builds the Sources Substream. sources carry module indices
// from the pre-sort modules slice; oldToNew remaps them to the sorted
// positions. Names are deduplicated into a single sorted buffer shared by
// all modules, per the case-sensitive-unique-no-gaps determinism rule.
func encodeSources(sources []SourceFile, oldToNew []int, numModules int) []byte {
	perModule := make([][]string, numModules)
	uniqueSet := make(map[string]bool)
	for _, sf := range sources {
		newIdx := sf.ModuleIndex
		if newIdx >= 0 && newIdx < len(oldToNew) {
			newIdx = oldToNew[newIdx]
		}
		if newIdx < 0 || newIdx >= numModules {
			continue
		}
		perModule[newIdx] = append(perModule[newIdx], sf.Name)
		uniqueSet[sf.Name] = true
	}

	uniqueNames := make([]string, 0, len(uniqueSet))
	for name := range uniqueSet {
		uniqueNames = append(uniqueNames, name)
	}
	sort.Strings(uniqueNames)

	nameOffset := make(map[string]uint32, len(uniqueNames))
	var namesBuffer []byte
	for _, name := range uniqueNames {
		nameOffset[name] = uint32(len(namesBuffer))
		namesBuffer = append(namesBuffer, []byte(name)...)
		namesBuffer = append(namesBuffer, 0)
	}

	starts := make([]uint16, numModules)
	counts := make([]uint16, numModules)
	var fileOffsets []uint32
	for mod := 0; mod < numModules; mod++ {
		starts[mod] = uint16(len(fileOffsets))
		counts[mod] = uint16(len(perModule[mod]))
		for _, name := range perModule[mod] {
			fileOffsets = append(fileOffsets, nameOffset[name])
		}
	}

	out := make([]byte, 0, 4+4*numModules+4*len(fileOffsets)+len(namesBuffer))
	out = binary.LittleEndian.AppendUint16(out, uint16(numModules))
	out = binary.LittleEndian.AppendUint16(out, uint16(len(fileOffsets)))
	for _, v := range starts {
		out = binary.LittleEndian.AppendUint16(out, v)
	}
	for _, v := range counts {
		out = binary.LittleEndian.AppendUint16(out, v)
	}
	for _, v := range fileOffsets {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	out = append(out, namesBuffer...)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}

func encodeOptionalDbgHeader(h *OptionalDbgHeader) []byte {
	if h == nil {
		h = &OptionalDbgHeader{
			FPOStreamIndex: InvalidStreamIndex, ExceptionStreamIndex: InvalidStreamIndex,
			FixupStreamIndex: InvalidStreamIndex, OmapToSrcStreamIndex: InvalidStreamIndex,
			OmapFromSrcStreamIndex: InvalidStreamIndex, SectionHdrStreamIndex: InvalidStreamIndex,
			TokenRidMapStreamIndex: InvalidStreamIndex, XDataStreamIndex: InvalidStreamIndex,
			PDataStreamIndex: InvalidStreamIndex, NewFPOStreamIndex: InvalidStreamIndex,
			SectionHdrOrigStreamIndex: InvalidStreamIndex,
		}
	}
	slots := h.slots()
	out := make([]byte, 0, len(slots)*2+2)
	for _, s := range slots {
		out = binary.LittleEndian.AppendUint16(out, *s)
	}
	for len(out)%4 != 0 {
		out = binary.LittleEndian.AppendUint16(out, InvalidStreamIndex)
	}
	return out
}
