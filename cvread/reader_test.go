package cvread

import "testing"

func TestReadPrimitives(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	r := NewReader(data)
	u8, _ := r.ReadU8()
	if u8 != 1 {
		t.Fatalf("ReadU8 = %d, want 1", u8)
	}
	u16, _ := r.ReadU16()
	if u16 != 0x0302 {
		t.Fatalf("ReadU16 = %#x, want 0x0302", u16)
	}
	u32, _ := r.ReadU32()
	if u32 != 0x07060504 {
		t.Fatalf("ReadU32 = %#x, want 0x07060504", u32)
	}
}

func TestReadCStringAndFixedString(t *testing.T) {
	data := append([]byte("hello\x00"), []byte("abc\x00\x00\x00")...)
	r := NewReader(data)
	s, err := r.ReadCString()
	if err != nil || s != "hello" {
		t.Fatalf("ReadCString = %q, %v, want hello", s, err)
	}
	fixed, err := r.ReadFixedString(6)
	if err != nil || fixed != "abc" {
		t.Fatalf("ReadFixedString = %q, %v, want abc", fixed, err)
	}
}

func TestReadNumericDelegatesToFraming(t *testing.T) {
	r := NewReader([]byte{0x34, 0x12})
	n, err := r.ReadNumeric()
	if err != nil {
		t.Fatalf("ReadNumeric: %v", err)
	}
	if n.Value != 0x1234 {
		t.Fatalf("Value = %#x, want 0x1234", n.Value)
	}
}

func TestAlign(t *testing.T) {
	r := NewReader(make([]byte, 16))
	r.SetOffset(3)
	r.Align(4)
	if r.Offset() != 4 {
		t.Fatalf("Offset = %d, want 4", r.Offset())
	}
	r.Align(4)
	if r.Offset() != 4 {
		t.Fatalf("Align on already-aligned offset changed it: %d", r.Offset())
	}
}
