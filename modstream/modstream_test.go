package modstream

import (
	"testing"

	"github.com/pdbfmt/pdbfmt/symbols"
)

func TestParseSplitsSubstreamsAndStripsSignature(t *testing.T) {
	symBytes := symbols.Encode(symbols.S_UDT, []byte{0x00, 0x10, 0x00, 0x00, 'x', 0})
	symStream := Encode(symBytes, nil, nil)

	st, err := Parse(symStream, uint32(len(symStream)), 0, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(st.Symbols) != len(symBytes) {
		t.Fatalf("Symbols len = %d, want %d", len(st.Symbols), len(symBytes))
	}

	it := st.Iterator()
	rec, err := it.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Kind != symbols.S_UDT {
		t.Fatalf("Kind = %v, want S_UDT", rec.Kind)
	}
}

func TestFileChecksumsRoundTrip(t *testing.T) {
	entries := []FileChecksum{
		{NameOffset: 1, Kind: 1, Checksum: make([]byte, 16)},
		{NameOffset: 40, Kind: 0, Checksum: nil},
	}
	data := EncodeFileChecksums(entries)

	parsed, err := ParseFileChecksums(data)
	if err != nil {
		t.Fatalf("ParseFileChecksums: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("len = %d, want 2", len(parsed))
	}
	if parsed[0].Offset != 0 {
		t.Fatalf("first entry offset = %d, want 0", parsed[0].Offset)
	}
	if parsed[0].Offset%4 != 0 || parsed[1].Offset%4 != 0 {
		t.Fatalf("entries not 4-aligned: %+v", parsed)
	}
}

func TestSubsectionsSkipIgnoreBit(t *testing.T) {
	checksums := EncodeFileChecksums([]FileChecksum{{NameOffset: 0, Kind: 0}})
	buf := EncodeSubsection(DebugSFileChecksums, checksums)
	buf = append(buf, EncodeSubsection(DebugSLines|0x80000000, []byte{1, 2, 3, 4})...)

	subs, err := ParseSubsections(buf)
	if err != nil {
		t.Fatalf("ParseSubsections: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("len = %d, want 2", len(subs))
	}
	if subs[0].Kind != DebugSFileChecksums || subs[0].Ignore {
		t.Fatalf("subs[0] = %+v", subs[0])
	}
	if subs[1].Kind != DebugSLines || !subs[1].Ignore {
		t.Fatalf("subs[1] = %+v", subs[1])
	}
}

func TestParseC13RejectsDuplicateChecksums(t *testing.T) {
	checksums := EncodeFileChecksums([]FileChecksum{{NameOffset: 0, Kind: 0}})
	buf := EncodeSubsection(DebugSFileChecksums, checksums)
	buf = append(buf, EncodeSubsection(DebugSFileChecksums, checksums)...)

	if _, _, err := ParseC13(buf); err != ErrDuplicateChecksums {
		t.Fatalf("err = %v, want ErrDuplicateChecksums", err)
	}
}

func TestParseC13DecodesChecksumsAndLines(t *testing.T) {
	checksums := EncodeFileChecksums([]FileChecksum{{NameOffset: 0, Kind: 1, Checksum: make([]byte, 16)}})
	buf := EncodeSubsection(DebugSFileChecksums, checksums)

	lineData := make([]byte, 0, 20)
	lineData = append(lineData, 0, 0, 0, 0) // CodeOffset
	lineData = append(lineData, 0, 0)       // Segment
	lineData = append(lineData, 0, 0)       // Flags
	lineData = append(lineData, 0, 0, 0, 0) // CodeSize
	lineData = append(lineData, 0, 0, 0, 0) // FileChecksumOffset = 0
	lineData = append(lineData, 1, 0, 0, 0) // NumLines = 1
	lineData = append(lineData, 16, 0, 0, 0) // BlockSize = 12 (header) + 4 (one line)
	lineData = append(lineData, 1, 0, 0, 0)  // one packed line entry
	buf = append(buf, EncodeSubsection(DebugSLines, lineData)...)

	fc, fragments, err := ParseC13(buf)
	if err != nil {
		t.Fatalf("ParseC13: %v", err)
	}
	if len(fc) != 1 {
		t.Fatalf("len(fc) = %d, want 1", len(fc))
	}
	if len(fragments) != 1 || len(fragments[0].Blocks) != 1 {
		t.Fatalf("fragments = %+v", fragments)
	}
}

func TestValidateLineFragmentsRejectsBadOffset(t *testing.T) {
	checksums := []FileChecksum{{Offset: 0}}
	fragments := []LineFragment{{Blocks: []LineBlock{{FileChecksumOffset: 99}}}}
	if err := ValidateLineFragments(checksums, fragments); err == nil {
		t.Fatalf("expected error for unknown checksum offset")
	}
	fragments[0].Blocks[0].FileChecksumOffset = 0
	if err := ValidateLineFragments(checksums, fragments); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
