package symbols

import "testing"

func TestProcSymRoundTrip(t *testing.T) {
	want := &ProcSym{
		PtrParent: 0, PtrEnd: 100, PtrNext: 0, CodeSize: 42,
		FunctionType: 0x1003, CodeOffset: 0x10, Segment: 1,
		Flags: ProcFlags(0x01), Name: "main",
	}
	payload := EncodeProcSym(want)
	got, err := ParseProcSym(payload)
	if err != nil {
		t.Fatalf("ParseProcSym: %v", err)
	}
	if *got != *want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestPublicSym32RoundTrip(t *testing.T) {
	want := &PublicSym32{Flags: PublicSymFlags(0x02), Offset: 0x1200, Segment: 1, Name: "ExitProcess"}
	payload := EncodePublicSym32(want)
	got, err := ParsePublicSym32(payload)
	if err != nil {
		t.Fatalf("ParsePublicSym32: %v", err)
	}
	if *got != *want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestIteratorWalksFramedRecords(t *testing.T) {
	rec1 := Encode(S_PUB32, EncodePublicSym32(&PublicSym32{Offset: 1, Segment: 1, Name: "a"}))
	rec2 := Encode(S_PUB32, EncodePublicSym32(&PublicSym32{Offset: 2, Segment: 1, Name: "b"}))
	data := append(append([]byte{}, rec1...), rec2...)

	it := NewIterator(data)
	var names []string
	for {
		rec, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if rec == nil {
			break
		}
		sym, err := Parse(rec)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		pub, ok := sym.(*PublicSym32)
		if !ok {
			t.Fatalf("expected *PublicSym32, got %T", sym)
		}
		names = append(names, pub.Name)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names = %v, want [a b]", names)
	}
}

func TestRefSym2RejectsSmallSymbolOffset(t *testing.T) {
	_, err := EncodeRefSym2(&RefSym2{SymbolOffset: 2, ModuleIndex: 1, Name: "f"})
	if err == nil {
		t.Fatalf("expected error for symbol_offset < 4")
	}
}

func TestRefSym2RoundTrip(t *testing.T) {
	want := &RefSym2{NameChecksum: 0, SymbolOffset: 16, ModuleIndex: 3, Name: "Func"}
	payload, err := EncodeRefSym2(want)
	if err != nil {
		t.Fatalf("EncodeRefSym2: %v", err)
	}
	got, err := ParseRefSym2(payload)
	if err != nil {
		t.Fatalf("ParseRefSym2: %v", err)
	}
	if *got != *want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestConstantSymNumericLeaf(t *testing.T) {
	data := []byte{0x08, 0x00, 0x00, 0x00} // type index 8
	data = append(data, 0x34, 0x12)        // literal numeric leaf 0x1234
	data = append(data, []byte("ANSWER\x00")...)

	got, err := ParseConstantSym(data)
	if err != nil {
		t.Fatalf("ParseConstantSym: %v", err)
	}
	if got.Value.Value != 0x1234 || got.Name != "ANSWER" {
		t.Fatalf("got %+v", got)
	}
}
