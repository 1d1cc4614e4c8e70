package names

import (
	"testing"

	"github.com/pdbfmt/pdbfmt/hashtab"
)

func TestBuildLookupRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.Insert("foo")
	b.Insert("bar")
	b.Insert("baz")
	tbl := b.Build()

	for _, s := range []string{"foo", "bar", "baz", ""} {
		idx, found, err := tbl.Lookup(s)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", s, err)
		}
		if !found {
			t.Fatalf("Lookup(%q): want found", s)
		}
		got, err := tbl.StringAt(idx)
		if err != nil {
			t.Fatalf("StringAt(%d): %v", idx, err)
		}
		if got != s {
			t.Fatalf("StringAt(%d) = %q, want %q", idx, got, s)
		}
	}
}

func TestLookupMiss(t *testing.T) {
	b := NewBuilder()
	b.Insert("a")
	tbl := b.Build()
	_, found, err := tbl.Lookup("does-not-exist")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found {
		t.Fatalf("Lookup of missing string should miss")
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.Insert("one")
	b.Insert("two")
	tbl := b.Build()

	encoded := tbl.Encode()
	parsed, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.NumNames != tbl.NumNames {
		t.Fatalf("NumNames = %d, want %d", parsed.NumNames, tbl.NumNames)
	}
	for _, s := range []string{"one", "two"} {
		idx, found, err := parsed.Lookup(s)
		if err != nil || !found {
			t.Fatalf("Lookup(%q) after round trip: found=%v err=%v", s, found, err)
		}
		got, _ := parsed.StringAt(idx)
		if got != s {
			t.Fatalf("StringAt after round trip = %q, want %q", got, s)
		}
	}
}

// TestProbePastFilledSlot exercises the probing rule of spec.md §8 scenario
// 4: a lookup whose starting slot holds a different string must walk past
// that filled slot instead of stopping there.
func TestProbePastFilledSlot(t *testing.T) {
	tbl := &Table{
		StringData: []byte{0, 'a', 0, 'b', 0},
		HashTable:  make([]uint32, 8),
	}
	// Simulate a collision by hand: "b" occupies the slot "a" hashes to,
	// and "a" sits in the next slot.
	start := hashtab.LHashPbCb("a") % uint32(len(tbl.HashTable))
	tbl.HashTable[start] = 3                              // "b" at string offset 3
	tbl.HashTable[(start+1)%uint32(len(tbl.HashTable))] = 1 // "a" at string offset 1

	hit, found, err := tbl.Lookup("a")
	if err != nil || !found || hit != 1 {
		t.Fatalf("Lookup(a) = %d,%v,%v, want 1,true,nil", hit, found, err)
	}
}

func TestBadNameIndexNoTerminatingNUL(t *testing.T) {
	tbl := &Table{StringData: []byte{0, 'x', 'y'}}
	if _, err := tbl.StringAt(1); err == nil {
		t.Fatalf("expected error for string with no terminating NUL")
	}
}

func TestParseRejectsBadSignature(t *testing.T) {
	data := make([]byte, 16)
	if _, err := Parse(data); err != ErrBadSignature {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}
