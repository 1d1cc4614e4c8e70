package hashtab

import "testing"

func TestLHashPbCbDeterministic(t *testing.T) {
	h1 := LHashPbCb("hello.obj")
	h2 := LHashPbCb("hello.obj")
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %#x != %#x", h1, h2)
	}
}

func TestLHashPbCbCaseInsensitive(t *testing.T) {
	if LHashPbCb("Foo.Obj") != LHashPbCb("foo.obj") {
		t.Fatalf("LHashPbCb should fold ascii case")
	}
}

func TestLHashPbCbDiffersByContent(t *testing.T) {
	if LHashPbCb("a") == LHashPbCb("ab") {
		t.Fatalf("distinct strings should usually hash differently")
	}
}

func TestBucketModulo(t *testing.T) {
	if got := Bucket(17, 4); got != 1 {
		t.Fatalf("Bucket(17,4) = %d, want 1", got)
	}
	if got := Bucket(5, 0); got != 0 {
		t.Fatalf("Bucket with zero buckets should not panic, got %d", got)
	}
}

func TestTableProbeFindsEmptySlot(t *testing.T) {
	occupied := map[uint32]string{}
	tbl := NewTable(8, LHashPbCb)

	insert := func(key string) uint32 {
		slot, found, err := tbl.Probe(key,
			func(s uint32) bool { return occupied[s] == key },
			func(s uint32) bool { _, ok := occupied[s]; return !ok },
		)
		if err != nil {
			t.Fatalf("Probe(%q): %v", key, err)
		}
		if !found {
			occupied[slot] = key
		}
		return slot
	}

	s1 := insert("alpha")
	s2 := insert("alpha")
	if s1 != s2 {
		t.Fatalf("re-inserting the same key should land on the same slot: %d != %d", s1, s2)
	}

	insert("beta")
	insert("gamma")
	if len(occupied) != 3 {
		t.Fatalf("expected 3 distinct occupied slots, got %d", len(occupied))
	}
}

func TestTableProbeWrapsAndFillsWhenCollision(t *testing.T) {
	// Force every key into slot 0 to exercise wraparound probing.
	constHash := func(string) uint32 { return 0 }
	tbl := NewTable(4, constHash)

	occupied := make([]bool, 4)
	for i, key := range []string{"a", "b", "c", "d"} {
		slot, found, err := tbl.Probe(key,
			func(s uint32) bool { return false },
			func(s uint32) bool { return !occupied[s] },
		)
		if err != nil {
			t.Fatalf("Probe(%q): %v", key, err)
		}
		if found {
			t.Fatalf("key %q unexpectedly matched an existing slot", key)
		}
		if slot != uint32(i) {
			t.Fatalf("key %q landed at slot %d, want %d (linear probing from 0)", key, slot, i)
		}
		occupied[slot] = true
	}
}

func TestTableProbeFullReturnsError(t *testing.T) {
	tbl := NewTable(2, func(string) uint32 { return 0 })
	_, _, err := tbl.Probe("x",
		func(uint32) bool { return false },
		func(uint32) bool { return false },
	)
	if err != ErrTableFull {
		t.Fatalf("err = %v, want ErrTableFull", err)
	}
}
