package tpi

import "testing"

func encodedModifier(modified TypeIndex, mods ModifierOptions) []byte {
	w := make([]byte, 6)
	w[0], w[1], w[2], w[3] = byte(modified), byte(modified>>8), byte(modified>>16), byte(modified>>24)
	w[4], w[5] = byte(mods), byte(mods>>8)
	return w
}

func TestBuildAndParseRoundTrip(t *testing.T) {
	records := []InputRecord{
		{Kind: LF_MODIFIER, Payload: encodedModifier(0x1000, 0x01)},
		{Kind: LF_POINTER, Payload: []byte{0x00, 0x10, 0x00, 0x00, 0x0a, 0x00, 0x00, 0x00}},
	}
	built := Build(records, 0x1000, 5)
	streamBytes := built.StreamBytes()

	s, err := ParseStream(streamBytes)
	if err != nil {
		t.Fatalf("ParseStream: %v", err)
	}
	if s.TypeIndexBegin() != FirstUserTypeIndex {
		t.Fatalf("TypeIndexBegin = %d, want %d", s.TypeIndexBegin(), FirstUserTypeIndex)
	}
	if s.TypeCount() != 2 {
		t.Fatalf("TypeCount = %d, want 2", s.TypeCount())
	}

	rec, err := s.GetTypeRecord(FirstUserTypeIndex)
	if err != nil {
		t.Fatalf("GetTypeRecord: %v", err)
	}
	if rec.Kind != LF_MODIFIER {
		t.Fatalf("Kind = %v, want LF_MODIFIER", rec.Kind)
	}
	mod, err := ParseModifierRecord(rec.Data)
	if err != nil {
		t.Fatalf("ParseModifierRecord: %v", err)
	}
	if mod.ModifiedType != 0x1000 || !mod.Modifiers.IsConst() {
		t.Fatalf("got %+v", mod)
	}
}

func TestIndexOffsetFirstPairIsBeginZero(t *testing.T) {
	records := []InputRecord{{Kind: LF_MODIFIER, Payload: encodedModifier(0x1000, 0x01)}}
	built := Build(records, 0x1000, 5)

	pairs, err := IndexOffsetPairs(built.HashStreamBytes, &built.Header)
	if err != nil {
		t.Fatalf("IndexOffsetPairs: %v", err)
	}
	if len(pairs) == 0 || pairs[0][0] != uint32(FirstUserTypeIndex) || pairs[0][1] != 0 {
		t.Fatalf("pairs[0] = %v, want (%d, 0)", pairs[0], FirstUserTypeIndex)
	}
}

func TestAnonymousUDTNamePredicate(t *testing.T) {
	cases := map[string]bool{
		"<unnamed-tag>":        true,
		"__unnamed":            true,
		"Foo::<unnamed-tag>":   true,
		"Foo::__unnamed":       true,
		"Foo":                  false,
		"Foo::Bar":             false,
	}
	for name, want := range cases {
		if got := IsAnonymousUDTName(name); got != want {
			t.Fatalf("IsAnonymousUDTName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestRecordHashUsesNameForGlobalClass(t *testing.T) {
	// LF_CLASS with a plain global name should hash differently from a
	// forward-ref with the same shape (since forward refs hash by bytes).
	classPayload := func(forwardRef bool) []byte {
		props := ClassProperties(0)
		if forwardRef {
			props |= 0x0080
		}
		w := make([]byte, 0, 20)
		w = append(w, 0, 0) // member count
		w = append(w, byte(props), byte(props>>8))
		w = append(w, 0, 0, 0, 0) // field list
		w = append(w, 0, 0, 0, 0) // derived from
		w = append(w, 0, 0, 0, 0) // vshape
		w = append(w, 0x00, 0x00) // size = 0 literal
		w = append(w, []byte("Widget\x00")...)
		return w
	}

	realHash := RecordHash(LF_CLASS, classPayload(false), 0x1000)
	fwdHash := RecordHash(LF_CLASS, classPayload(true), 0x1000)
	if realHash == fwdHash {
		t.Fatalf("expected forward-ref and definition hashes to differ (name-hash vs byte-hash), got equal %d", realHash)
	}
}
