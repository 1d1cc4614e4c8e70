package pdb

import (
	"bytes"
	"testing"

	"github.com/pdbfmt/pdbfmt/builder"
	"github.com/pdbfmt/pdbfmt/dbi"
	"github.com/pdbfmt/pdbfmt/symbols"
	"github.com/pdbfmt/pdbfmt/tpi"
)

// buildFixture assembles a small but realistic PDB image via builder.Build
// so the pdb package can be exercised against real stream bytes rather than
// hand-crafted ones.
func buildFixture(t *testing.T) *File {
	t.Helper()

	in := builder.Input{
		Signature: 0xCAFEBABE,
		Age:       3,
		Machine:   dbi.MachineAMD64,
		Modules: []builder.Module{
			{
				ModuleName:  "a.obj",
				ObjFileName: "a.obj",
				SourceFiles: []string{"a.c"},
				Symbols: []builder.Symbol{
					{
						Kind: symbols.S_PUB32,
						Payload: symbols.EncodePublicSym32(&symbols.PublicSym32{
							Flags:   symbols.PublicSymFlags(0x02), // function
							Offset:  0x1000,
							Segment: 1,
							Name:    "main",
						}),
					},
					{
						Kind: symbols.S_GPROC32,
						Payload: symbols.EncodeProcSym(&symbols.ProcSym{
							CodeSize:     0x40,
							FunctionType: tpi.TypeIndex(0x1001),
							CodeOffset:   0x1000,
							Segment:      1,
							Name:         "main",
						}),
					},
					{
						Kind: symbols.S_GDATA32,
						Payload: symbols.EncodeDataSym(&symbols.DataSym{
							Type:    tpi.TypeIndex(0x75),
							Offset:  0x2000,
							Segment: 2,
							Name:    "g_counter",
						}),
					},
				},
			},
		},
		TypeRecords: []tpi.InputRecord{
			{Kind: tpi.LF_POINTER, Payload: make([]byte, 12)},
		},
		ItemRecords: []tpi.InputRecord{},
	}

	image, err := builder.Build(in)
	if err != nil {
		t.Fatalf("builder.Build: %v", err)
	}

	f, err := OpenReader(bytes.NewReader(image), int64(len(image)))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestInfoRoundTrips(t *testing.T) {
	f := buildFixture(t)

	info, err := f.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Signature != 0xCAFEBABE {
		t.Fatalf("Signature = 0x%X, want 0xCAFEBABE", info.Signature)
	}
	if info.Age != 3 {
		t.Fatalf("Age = %d, want 3", info.Age)
	}
	if _, ok := info.NamedStream("/names"); !ok {
		t.Fatalf("expected /names named stream")
	}
}

func TestModulesAndModuleCount(t *testing.T) {
	f := buildFixture(t)

	count, err := f.ModuleCount()
	if err != nil {
		t.Fatalf("ModuleCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("ModuleCount = %d, want 1", count)
	}

	modules, err := f.Modules()
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}
	if len(modules) != 1 {
		t.Fatalf("len(Modules) = %d, want 1", len(modules))
	}
	if modules[0].Name() != "a.obj" {
		t.Fatalf("Modules[0].Name() = %q, want a.obj", modules[0].Name())
	}

	var names []string
	for _, sym := range modules[0].Symbols() {
		names = append(names, sym.Name())
	}
	if len(names) == 0 {
		t.Fatalf("expected module symbols, got none")
	}
}

func TestSymbolsByName(t *testing.T) {
	f := buildFixture(t)

	st, err := f.Symbols()
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}

	found := false
	for sym := range st.ByName("main") {
		found = true
		if sym.Name() != "main" {
			t.Fatalf("ByName(main) returned %q", sym.Name())
		}
	}
	if !found {
		t.Fatalf("ByName(main) found nothing")
	}

	if st.PublicCount() == 0 {
		t.Fatalf("PublicCount() = 0, want > 0")
	}
}

func TestSymbolsByAddress(t *testing.T) {
	f := buildFixture(t)

	st, err := f.Symbols()
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}

	sym, ok := st.FindSymbolContaining(1, 0x1000)
	if !ok || sym == nil || sym.Name() != "main" {
		t.Fatalf("FindSymbolContaining(1, 0x1000) = %v, %v, want main, true", sym, ok)
	}
}

func TestTypesAll(t *testing.T) {
	f := buildFixture(t)

	types, err := f.Types()
	if err != nil {
		t.Fatalf("Types: %v", err)
	}

	count := 0
	for range types.All() {
		count++
	}
	if count != 1 {
		t.Fatalf("Types count = %d, want 1", count)
	}
}

func TestBlockSizeAndNumStreams(t *testing.T) {
	f := buildFixture(t)

	if f.BlockSize() == 0 {
		t.Fatalf("BlockSize() = 0")
	}
	n, err := f.NumStreams()
	if err != nil {
		t.Fatalf("NumStreams: %v", err)
	}
	if n == 0 {
		t.Fatalf("NumStreams() = 0")
	}
}
