package dbi

import "testing"

func baseHeader() Header {
	return Header{
		VersionHeader:        VersionV110,
		Age:                  1,
		GlobalStreamIndex:    7,
		PublicStreamIndex:    8,
		SymRecordStreamIndex: 9,
		Machine:              MachineAMD64,
	}
}

func TestBuildAndParseRoundTrip(t *testing.T) {
	modules := []ModuleInfo{
		{ModuleName: "b.obj", ObjFileName: "b.obj", ModuleSymStreamIndex: 11, SourceFileCount: 1},
		{ModuleName: "a.obj", ObjFileName: "a.obj", ModuleSymStreamIndex: 10, SourceFileCount: 1},
	}
	contribs := []SectionContribution{
		{Section: 1, Offset: 0x100, Size: 0x10, ModuleIndex: 0},
		{Section: 1, Offset: 0x10, Size: 0x10, ModuleIndex: 1},
	}
	sectionMap := &SectionMap{Count: 0, LogCount: 0}
	sources := []SourceFile{
		{ModuleIndex: 0, Name: "b.c"},
		{ModuleIndex: 1, Name: "a.c"},
	}

	built, err := Build(modules, contribs, sectionMap, sources, nil, baseHeader())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	s, err := ParseStream(built.Bytes)
	if err != nil {
		t.Fatalf("ParseStream: %v", err)
	}

	if s.Header.VersionSignature != Signature {
		t.Fatalf("VersionSignature = %d, want %d", s.Header.VersionSignature, Signature)
	}
	if s.ModuleCount() != 2 {
		t.Fatalf("ModuleCount = %d, want 2", s.ModuleCount())
	}
	// a.obj sorts before b.obj.
	if s.Modules[0].ModuleName != "a.obj" || s.Modules[1].ModuleName != "b.obj" {
		t.Fatalf("modules not sorted: %+v", s.Modules)
	}
	if s.Modules[0].Section.ModuleIndex != 0 || s.Modules[1].Section.ModuleIndex != 1 {
		t.Fatalf("module_index not reassigned: %+v, %+v", s.Modules[0].Section, s.Modules[1].Section)
	}

	if len(s.SectionContributions) != 2 {
		t.Fatalf("SectionContributions = %d, want 2", len(s.SectionContributions))
	}
	if s.SectionContributions[0].Offset > s.SectionContributions[1].Offset {
		t.Fatalf("section contributions not sorted by offset: %+v", s.SectionContributions)
	}
	// the contribution that pointed at old module 1 (a.obj, now new index 0)
	// should end up at new index 0.
	if s.SectionContributions[0].ModuleIndex != 0 {
		t.Fatalf("contribution module_index not remapped: %+v", s.SectionContributions[0])
	}

	if len(s.SourceFiles) != 2 {
		t.Fatalf("SourceFiles = %d, want 2", len(s.SourceFiles))
	}
	byModule := map[int]string{}
	for _, sf := range s.SourceFiles {
		byModule[sf.ModuleIndex] = sf.Name
	}
	if byModule[0] != "a.c" || byModule[1] != "b.c" {
		t.Fatalf("source files not remapped correctly: %+v", s.SourceFiles)
	}
}

func TestBuildRejectsDuplicateSectionContribution(t *testing.T) {
	modules := []ModuleInfo{{ModuleName: "a.obj", ObjFileName: "a.obj"}}
	contribs := []SectionContribution{
		{Section: 1, Offset: 0x10, ModuleIndex: 0},
		{Section: 1, Offset: 0x10, ModuleIndex: 0},
	}
	_, err := Build(modules, contribs, &SectionMap{}, nil, nil, baseHeader())
	if err != ErrDuplicateSection {
		t.Fatalf("err = %v, want ErrDuplicateSection", err)
	}
}

func TestEncodeSourcesDedupesSharedNames(t *testing.T) {
	sources := []SourceFile{
		{ModuleIndex: 0, Name: "common.h"},
		{ModuleIndex: 1, Name: "common.h"},
		{ModuleIndex: 0, Name: "a.c"},
	}
	oldToNew := []int{0, 1}
	data := encodeSources(sources, oldToNew, 2)

	// Re-parse through the Stream machinery to check determinism.
	var s Stream
	if err := s.parseSources(data); err != nil {
		t.Fatalf("parseSources: %v", err)
	}
	if len(s.SourceFiles) != 3 {
		t.Fatalf("SourceFiles = %d, want 3", len(s.SourceFiles))
	}
}

func TestOptionalDbgHeaderRoundTrip(t *testing.T) {
	h := &OptionalDbgHeader{ExceptionStreamIndex: 42, FPOStreamIndex: InvalidStreamIndex}
	data := encodeOptionalDbgHeader(h)
	if len(data)%4 != 0 {
		t.Fatalf("encoded length %d not a multiple of 4", len(data))
	}

	var s Stream
	if err := s.parseOptionalDbgHeader(data); err != nil {
		t.Fatalf("parseOptionalDbgHeader: %v", err)
	}
	if s.OptionalDbgStreams.ExceptionStreamIndex != 42 {
		t.Fatalf("ExceptionStreamIndex = %d, want 42", s.OptionalDbgStreams.ExceptionStreamIndex)
	}
}
