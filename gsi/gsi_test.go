package gsi

import (
	"testing"

	"github.com/pdbfmt/pdbfmt/symbols"
	"github.com/pdbfmt/pdbfmt/symtab"
)

func encodedPublicSym(name string, segment uint16, offset uint32) []byte {
	s := &symbols.PublicSym32{Name: name, Offset: offset, Segment: segment}
	return symbols.Encode(symbols.S_PUB32, symbols.EncodePublicSym32(s))
}

func TestBuildAndParseGSI(t *testing.T) {
	udt := symbols.Encode(symbols.S_UDT, append([]byte{0x00, 0x10, 0x00, 0x00}, append([]byte("MyType"), 0)...))
	gssData := append([]byte{}, udt...)

	data, err := BuildGSI(gssData, symtab.NumBucketsDefault)
	if err != nil {
		t.Fatalf("BuildGSI: %v", err)
	}
	table, err := ParseGSI(data, symtab.NumBucketsDefault)
	if err != nil {
		t.Fatalf("ParseGSI: %v", err)
	}
	if len(table.HashRecords) != 1 {
		t.Fatalf("HashRecords = %d, want 1", len(table.HashRecords))
	}
	if table.HashRecords[0].GSSOffset() != 0 {
		t.Fatalf("GSSOffset = %d, want 0", table.HashRecords[0].GSSOffset())
	}
}

func TestBuildAndParsePSISortsByAddress(t *testing.T) {
	a := encodedPublicSym("b_sym", 1, 0x200)
	b := encodedPublicSym("a_sym", 1, 0x100)
	gssData := append(append([]byte{}, a...), b...)

	data, err := BuildPSI(gssData, symtab.NumBucketsDefault)
	if err != nil {
		t.Fatalf("BuildPSI: %v", err)
	}
	psi, err := ParsePSI(data, symtab.NumBucketsDefault)
	if err != nil {
		t.Fatalf("ParsePSI: %v", err)
	}
	if len(psi.AddressMap) != 2 {
		t.Fatalf("AddressMap = %d, want 2", len(psi.AddressMap))
	}
	// b_sym (offset 0x200) is first in the GSS at byte 0; a_sym (offset
	// 0x100) follows it. Sorted by address, a_sym's GSS offset should come
	// first in the address map.
	if psi.AddressMap[0] == psi.AddressMap[1] {
		t.Fatalf("address map entries not distinct: %v", psi.AddressMap)
	}
	if psi.AddressMap[0] != int32(len(a)) {
		t.Fatalf("AddressMap[0] = %d, want %d (a_sym's GSS offset)", psi.AddressMap[0], len(a))
	}
}
