// Package builder implements the reference-graph writer pipeline (spec.md
// §4.6): it walks the leaf-first dependency order Names/TPI/IPI -> Module
// symbols -> GSS -> GSI/PSI -> DBI -> Container, sorting each table per its
// determinism rules and producing a single normalized MSF byte image.
package builder

import (
	"fmt"

	"github.com/pdbfmt/pdbfmt/dbi"
	"github.com/pdbfmt/pdbfmt/gsi"
	"github.com/pdbfmt/pdbfmt/gss"
	"github.com/pdbfmt/pdbfmt/modstream"
	"github.com/pdbfmt/pdbfmt/msf"
	"github.com/pdbfmt/pdbfmt/names"
	"github.com/pdbfmt/pdbfmt/pdbi"
	"github.com/pdbfmt/pdbfmt/symbols"
	"github.com/pdbfmt/pdbfmt/symtab"
	"github.com/pdbfmt/pdbfmt/tpi"
)

// typeHashNumBuckets is the TPI/IPI TPI1::hashPrec bucket count this writer
// uses. Real PDBs choose this per-file; a fixed constant is adopted here to
// keep the writer deterministic without needing tuning input.
const typeHashNumBuckets = 0x1000

// Symbol is one symbol record awaiting framing: Payload holds the decoded
// field bytes an Encode* function produces, not yet length/kind-framed.
type Symbol struct {
	Kind    symbols.Kind
	Payload []byte
}

// Module is one compilation unit's contribution to the PDB being built.
type Module struct {
	ModuleName           string
	ObjFileName          string
	Symbols              []Symbol
	SourceFiles          []string
	SectionContributions []dbi.SectionContribution
	C13Lines             []byte // pre-framed DEBUG_S_* subsections, or nil
}

// Input is the abstract in-memory PDB to normalize into a byte image.
type Input struct {
	Signature    uint32
	Age          uint32
	GUID         pdbi.GUID
	FeatureCodes []uint32

	TypeRecords []tpi.InputRecord
	ItemRecords []tpi.InputRecord

	Modules []Module
	Machine uint16
}

func hasFeature(codes []uint32, code uint32) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// Build walks Input's reference DAG leaves-first and returns a fully
// normalized MSF byte image: stream 0 is the unused old directory (nil),
// 1=PDBI, 2=TPI, 3=DBI, 4=IPI, and every other stream is allocated in
// ascending order as the pipeline discovers it needs one.
func Build(in Input) ([]byte, error) {
	nextStream := uint32(5)
	alloc := func() uint32 {
		i := nextStream
		nextStream++
		return i
	}

	tpiHashIdx := alloc()
	ipiHashIdx := alloc()
	namesIdx := alloc()
	gssIdx := alloc()
	gsiIdx := alloc()
	psiIdx := alloc()

	moduleStreamIdx := make([]uint32, len(in.Modules))
	for i := range in.Modules {
		moduleStreamIdx[i] = alloc()
	}

	streams := make(map[uint32][]byte)

	// --- Names ---
	nb := names.NewBuilder()
	for _, m := range in.Modules {
		nb.Insert(m.ModuleName)
		nb.Insert(m.ObjFileName)
		for _, f := range m.SourceFiles {
			nb.Insert(f)
		}
	}
	streams[namesIdx] = nb.Build().Encode()

	// --- TPI / IPI ---
	tpiBuilt := tpi.Build(in.TypeRecords, typeHashNumBuckets, uint16(tpiHashIdx))
	streams[2] = tpiBuilt.StreamBytes()
	streams[tpiHashIdx] = tpiBuilt.HashStreamBytes

	ipiBuilt := tpi.Build(in.ItemRecords, typeHashNumBuckets, uint16(ipiHashIdx))
	streams[4] = ipiBuilt.StreamBytes()
	streams[ipiHashIdx] = ipiBuilt.HashStreamBytes

	// --- Module symbol streams + GSS ---
	var gssBuf []byte
	moduleInfos := make([]dbi.ModuleInfo, len(in.Modules))
	var sectionContribs []dbi.SectionContribution
	var sourceFiles []dbi.SourceFile

	for i, m := range in.Modules {
		var symBuf []byte
		for _, s := range m.Symbols {
			framed := symbols.Encode(s.Kind, s.Payload)
			symBuf = append(symBuf, framed...)
			if gss.AllowedKinds[s.Kind] {
				gssBuf = append(gssBuf, framed...)
			}
		}

		streams[moduleStreamIdx[i]] = modstream.Encode(symBuf, m.C13Lines, nil)

		var primary dbi.SectionContribution
		if len(m.SectionContributions) > 0 {
			primary = m.SectionContributions[0]
		}
		moduleInfos[i] = dbi.ModuleInfo{
			ModuleName:           m.ModuleName,
			ObjFileName:          m.ObjFileName,
			ModuleSymStreamIndex: uint16(moduleStreamIdx[i]),
			SymByteSize:          uint32(4 + len(symBuf)), // includes the 4-byte symbols signature
			C13ByteSize:          uint32(len(m.C13Lines)),
			SourceFileCount:      uint16(len(m.SourceFiles)),
			Section:              primary,
		}

		for _, sc := range m.SectionContributions {
			sc.ModuleIndex = uint16(i)
			sectionContribs = append(sectionContribs, sc)
		}
		for _, f := range m.SourceFiles {
			sourceFiles = append(sourceFiles, dbi.SourceFile{ModuleIndex: i, Name: f})
		}
	}
	streams[gssIdx] = gssBuf

	// --- GSI / PSI ---
	numBuckets := uint32(symtab.NumBucketsDefault)
	if hasFeature(in.FeatureCodes, pdbi.FeatureMinimalDebugInfo) {
		numBuckets = symtab.NumBucketsMinimal
	}

	gsiBytes, err := gsi.BuildGSI(gssBuf, numBuckets)
	if err != nil {
		return nil, fmt.Errorf("builder: GSI: %w", err)
	}
	psiBytes, err := gsi.BuildPSI(gssBuf, numBuckets)
	if err != nil {
		return nil, fmt.Errorf("builder: PSI: %w", err)
	}
	streams[gsiIdx] = gsiBytes
	streams[psiIdx] = psiBytes

	// --- DBI ---
	dbiHeader := dbi.Header{
		VersionHeader:        dbi.VersionV110,
		Age:                  in.Age,
		GlobalStreamIndex:    uint16(gsiIdx),
		PublicStreamIndex:    uint16(psiIdx),
		SymRecordStreamIndex: uint16(gssIdx),
		Machine:              in.Machine,
	}
	built, err := dbi.Build(moduleInfos, sectionContribs, &dbi.SectionMap{}, sourceFiles, nil, dbiHeader)
	if err != nil {
		return nil, fmt.Errorf("builder: DBI: %w", err)
	}
	streams[3] = built.Bytes

	// --- PDBI ---
	namedStreams := pdbi.BuildNamedStreamMap(map[string]uint32{"/names": namesIdx})
	info := &pdbi.Info{
		Version:      pdbi.VC70,
		Signature:    in.Signature,
		Age:          in.Age,
		GUID:         in.GUID,
		NamedStreams: namedStreams,
		Features:     in.FeatureCodes,
	}
	streams[1] = info.Encode()

	// --- Container ---
	return msf.Build(msf.BuildStreams(streams))
}
