package builder

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pdbfmt/pdbfmt/dbi"
	"github.com/pdbfmt/pdbfmt/msf"
	"github.com/pdbfmt/pdbfmt/pdbi"
	"github.com/pdbfmt/pdbfmt/symbols"
	"github.com/pdbfmt/pdbfmt/tpi"
)

func udtPayload(name string) []byte {
	return append([]byte{0x00, 0x10, 0x00, 0x00}, append([]byte(name), 0)...)
}

func TestBuildProducesValidMSFImage(t *testing.T) {
	in := Input{
		Signature: 1,
		Age:       1,
		Modules: []Module{
			{
				ModuleName:  "b.obj",
				ObjFileName: "b.obj",
				SourceFiles: []string{"b.c"},
				Symbols: []Symbol{
					{Kind: symbols.S_UDT, Payload: udtPayload("BType")},
				},
			},
			{
				ModuleName:  "a.obj",
				ObjFileName: "a.obj",
				SourceFiles: []string{"a.c"},
				Symbols: []Symbol{
					{Kind: symbols.S_UDT, Payload: udtPayload("AType")},
				},
			},
		},
		TypeRecords: []tpi.InputRecord{
			{Kind: tpi.LF_POINTER, Payload: make([]byte, 12)},
		},
		ItemRecords: []tpi.InputRecord{},
		Machine:     dbi.MachineAMD64,
	}

	image, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(image) == 0 {
		t.Fatalf("Build returned empty image")
	}

	m, err := msf.NewFile(bytes.NewReader(image), int64(len(image)))
	if err != nil {
		t.Fatalf("msf.NewFile: %v", err)
	}

	pdbiBytes, err := m.ReadStream(1)
	if err != nil {
		t.Fatalf("ReadStream(1): %v", err)
	}
	info, err := pdbi.Parse(pdbiBytes)
	if err != nil {
		t.Fatalf("pdbi.Parse: %v", err)
	}
	if info.Signature != 1 {
		t.Fatalf("Signature = %d, want 1", info.Signature)
	}
	if _, ok := info.NamedStreams.Lookup("/names"); !ok {
		t.Fatalf("named stream map missing /names")
	}

	dbiBytes, err := m.ReadStream(3)
	if err != nil {
		t.Fatalf("ReadStream(3): %v", err)
	}
	stream, err := dbi.ParseStream(dbiBytes)
	if err != nil {
		t.Fatalf("dbi.ParseStream: %v", err)
	}
	if stream.ModuleCount() != 2 {
		t.Fatalf("ModuleCount = %d, want 2", stream.ModuleCount())
	}
	// Modules sorted by (module_name, obj_file): a.obj before b.obj.
	first, err := stream.GetModule(0)
	if err != nil {
		t.Fatalf("GetModule(0): %v", err)
	}
	if first.ModuleName != "a.obj" {
		t.Fatalf("GetModule(0).ModuleName = %q, want a.obj", first.ModuleName)
	}

	second, err := stream.GetModule(1)
	if err != nil {
		t.Fatalf("GetModule(1): %v", err)
	}
	gotOrder := []string{first.ModuleName, second.ModuleName}
	wantOrder := []string{"a.obj", "b.obj"}
	if diff := cmp.Diff(wantOrder, gotOrder); diff != "" {
		t.Fatalf("module order after build/parse round-trip (-want +got):\n%s", diff)
	}
}

// TestBuildIsDeterministic rebuilds the same Input twice and checks the two
// images decode to identical module orderings, the property the writer's
// sort-by-(module_name,obj_file) determinism rule is meant to guarantee.
func TestBuildIsDeterministic(t *testing.T) {
	in := Input{
		Signature: 7,
		Age:       1,
		Modules: []Module{
			{ModuleName: "z.obj", ObjFileName: "z.obj"},
			{ModuleName: "a.obj", ObjFileName: "a.obj"},
		},
		TypeRecords: []tpi.InputRecord{},
		ItemRecords: []tpi.InputRecord{},
	}

	imageA, err := Build(in)
	if err != nil {
		t.Fatalf("Build (first): %v", err)
	}
	imageB, err := Build(in)
	if err != nil {
		t.Fatalf("Build (second): %v", err)
	}

	namesOf := func(image []byte) []string {
		m, err := msf.NewFile(bytes.NewReader(image), int64(len(image)))
		if err != nil {
			t.Fatalf("msf.NewFile: %v", err)
		}
		dbiBytes, err := m.ReadStream(3)
		if err != nil {
			t.Fatalf("ReadStream(3): %v", err)
		}
		stream, err := dbi.ParseStream(dbiBytes)
		if err != nil {
			t.Fatalf("dbi.ParseStream: %v", err)
		}
		var names []string
		for i := 0; i < stream.ModuleCount(); i++ {
			mod, err := stream.GetModule(i)
			if err != nil {
				t.Fatalf("GetModule(%d): %v", i, err)
			}
			names = append(names, mod.ModuleName)
		}
		return names
	}

	if diff := cmp.Diff(namesOf(imageA), namesOf(imageB)); diff != "" {
		t.Fatalf("Build is not deterministic across identical Input (-first +second):\n%s", diff)
	}
}
