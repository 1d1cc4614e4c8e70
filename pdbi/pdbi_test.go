package pdbi

import "testing"

func TestBuildNamedStreamMapLookup(t *testing.T) {
	m := BuildNamedStreamMap(map[string]uint32{
		"/names":     5,
		"/LinkInfo":  6,
		"srcsrv":     7,
	})

	for name, want := range map[string]uint32{"/names": 5, "/LinkInfo": 6, "srcsrv": 7} {
		got, ok := m.Lookup(name)
		if !ok {
			t.Fatalf("Lookup(%q): not found", name)
		}
		if got != want {
			t.Fatalf("Lookup(%q) = %d, want %d", name, got, want)
		}
	}

	if _, ok := m.Lookup("/does-not-exist"); ok {
		t.Fatalf("Lookup of absent name should miss")
	}
}

func TestNamedStreamMapEncodeParseRoundTrip(t *testing.T) {
	m := BuildNamedStreamMap(map[string]uint32{"/names": 5})
	encoded := m.Encode()
	parsed, consumed, err := parseNamedStreamMap(encoded)
	if err != nil {
		t.Fatalf("parseNamedStreamMap: %v", err)
	}
	if consumed != len(encoded) {
		t.Fatalf("consumed %d, want %d", consumed, len(encoded))
	}
	got, ok := parsed.Lookup("/names")
	if !ok || got != 5 {
		t.Fatalf("Lookup(/names) = %d,%v, want 5,true", got, ok)
	}
}

func TestInfoEncodeParseRoundTrip(t *testing.T) {
	info := &Info{
		Version:      VC70,
		Signature:    0x11111111,
		Age:          1,
		NamedStreams: BuildNamedStreamMap(map[string]uint32{"/names": 5}),
		Features:     []uint32{FeatureMinimalDebugInfo},
	}
	copy(info.GUID[:], "0123456789abcdef")

	encoded := info.Encode()
	parsed, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Version != info.Version || parsed.Signature != info.Signature || parsed.Age != info.Age {
		t.Fatalf("header mismatch: %+v", parsed)
	}
	if parsed.GUID != info.GUID {
		t.Fatalf("GUID mismatch: %v != %v", parsed.GUID, info.GUID)
	}
	if !parsed.HasFeature(FeatureMinimalDebugInfo) {
		t.Fatalf("expected MinimalDebugInfo feature to round trip")
	}
	idx, ok := parsed.NamedStreams.Lookup("/names")
	if !ok || idx != 5 {
		t.Fatalf("Lookup(/names) after round trip = %d,%v", idx, ok)
	}
}

func TestMinimalPdbInfoScenario(t *testing.T) {
	info := &Info{
		Version:      VC70,
		Signature:    0x11111111,
		Age:          1,
		NamedStreams: BuildNamedStreamMap(map[string]uint32{"/names": 5}),
	}
	encoded := info.Encode()
	parsed, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	idx, ok := parsed.NamedStreams.Lookup("/names")
	if !ok || idx != 5 {
		t.Fatalf("named_streams[/names] = %d,%v, want 5,true", idx, ok)
	}
}
