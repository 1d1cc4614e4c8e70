package framing

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		alignment Alignment
		kind      uint16
		payload   []byte
		pad       []byte // pad bytes the decoded payload carries after payload
	}{
		{"type-no-pad", AlignType, 0x1203, []byte{1, 2}, nil},
		{"type-one-pad", AlignType, 0x1203, []byte{1, 2, 3}, []byte{0xF1}},
		{"symbol-no-pad", AlignSymbol, 0x1110, []byte{1, 2, 3, 4}, nil},
		{"symbol-three-pad", AlignSymbol, 0x1110, []byte{1}, []byte{0xF3, 0xF2, 0xF1}},
		{"symbol-two-pad", AlignSymbol, 0x1110, []byte{1, 2}, []byte{0xF2, 0xF1}},
		{"symbol-one-pad", AlignSymbol, 0x1110, []byte{1, 2, 3}, []byte{0xF1}},
		{"empty-payload", AlignSymbol, 0x0001, nil, nil},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf := Encode(c.alignment, c.kind, c.payload)
			if len(buf)%int(c.alignment) != 0 {
				t.Fatalf("encoded record length %d not aligned to %d", len(buf), c.alignment)
			}
			dec := NewDecoder(buf, c.alignment)
			rec, err := dec.Next()
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if rec.Kind != c.kind {
				t.Fatalf("kind = %#x, want %#x", rec.Kind, c.kind)
			}
			want := append(append([]byte{}, c.payload...), c.pad...)
			if !bytes.Equal(rec.Payload, want) {
				t.Fatalf("payload = %v, want %v", rec.Payload, want)
			}
			if !dec.Done() {
				t.Fatalf("decoder not done after single record")
			}
		})
	}
}

func TestDecodeMultipleRecords(t *testing.T) {
	var buf []byte
	buf = append(buf, Encode(AlignType, 1, []byte{1, 2, 3})...)
	buf = append(buf, Encode(AlignType, 2, []byte{4})...)
	buf = append(buf, Encode(AlignType, 3, nil)...)

	dec := NewDecoder(buf, AlignType)
	var kinds []uint16
	for !dec.Done() {
		rec, err := dec.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if rec == nil {
			break
		}
		kinds = append(kinds, rec.Kind)
	}
	if len(kinds) != 3 || kinds[0] != 1 || kinds[1] != 2 || kinds[2] != 3 {
		t.Fatalf("kinds = %v, want [1 2 3]", kinds)
	}
}

func TestDecodeShortRecordError(t *testing.T) {
	dec := NewDecoder([]byte{0x10, 0x00}, AlignType)
	if _, err := dec.Next(); err == nil {
		t.Fatalf("expected error for truncated record")
	}
}

func TestDecodeUnalignedOffsetError(t *testing.T) {
	buf := Encode(AlignSymbol, 1, []byte{1, 2, 3})
	dec := &Decoder{data: buf, offset: 1, alignment: AlignSymbol}
	if _, err := dec.Next(); err == nil {
		t.Fatalf("expected ErrOddSize at unaligned offset")
	}
}

func TestReadNumericLiteral(t *testing.T) {
	n, consumed, err := ReadNumeric([]byte{0x34, 0x12})
	if err != nil {
		t.Fatalf("ReadNumeric: %v", err)
	}
	if consumed != 2 || n.Value != 0x1234 {
		t.Fatalf("got value=%d consumed=%d, want value=0x1234 consumed=2", n.Value, consumed)
	}
}

func TestReadNumericULong(t *testing.T) {
	data := []byte{0x04, 0x80, 0x78, 0x56, 0x34, 0x12}
	n, consumed, err := ReadNumeric(data)
	if err != nil {
		t.Fatalf("ReadNumeric: %v", err)
	}
	if consumed != 6 || n.Value != 0x12345678 {
		t.Fatalf("got value=%#x consumed=%d, want value=0x12345678 consumed=6", n.Value, consumed)
	}
}

func TestReadNumericVarString(t *testing.T) {
	data := []byte{0x10, 0x80, 0x03, 0x00, 'f', 'o', 'o'}
	n, consumed, err := ReadNumeric(data)
	if err != nil {
		t.Fatalf("ReadNumeric: %v", err)
	}
	if !n.IsStr || string(n.Bytes) != "foo" || consumed != 7 {
		t.Fatalf("got %+v consumed=%d, want foo/7", n, consumed)
	}
}

func TestReadNumericUTF8String(t *testing.T) {
	data := append([]byte{0x1b, 0x80}, []byte("bar\x00")...)
	n, consumed, err := ReadNumeric(data)
	if err != nil {
		t.Fatalf("ReadNumeric: %v", err)
	}
	if !n.IsStr || string(n.Bytes) != "bar" || consumed != len(data) {
		t.Fatalf("got %+v consumed=%d, want bar/%d", n, consumed, len(data))
	}
}

func TestReadNumericWideLeafPreservesBytes(t *testing.T) {
	data := make([]byte, 2+10)
	data[0] = byte(LF_REAL80 & 0xff)
	data[1] = byte(LF_REAL80 >> 8)
	for i := 0; i < 10; i++ {
		data[2+i] = byte(i + 1)
	}
	n, consumed, err := ReadNumeric(data)
	if err != nil {
		t.Fatalf("ReadNumeric: %v", err)
	}
	if consumed != 12 || !bytes.Equal(n.Bytes, data[2:]) {
		t.Fatalf("got consumed=%d bytes=%v", consumed, n.Bytes)
	}
}

func TestReadNumericUnknownLeaf(t *testing.T) {
	data := []byte{0xff, 0x8f, 0, 0}
	if _, _, err := ReadNumeric(data); err == nil {
		t.Fatalf("expected error for unknown leaf kind")
	}
}
