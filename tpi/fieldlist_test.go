package tpi

import (
	"encoding/binary"
	"testing"
)

func appendU16(b []byte, v uint16) []byte { return binary.LittleEndian.AppendUint16(b, v) }
func appendU32(b []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(b, v) }

func appendCString(b []byte, s string) []byte {
	b = append(b, s...)
	return append(b, 0)
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, byte(LF_PAD0)+byte(4-len(b)%4))
	}
	return b
}

func encodedMember(access uint16, typ TypeIndex, offset uint64, name string) []byte {
	var b []byte
	b = appendU16(b, uint16(LF_MEMBER))
	b = appendU16(b, access)
	b = appendU32(b, uint32(typ))
	b = appendU16(b, uint16(offset)) // numeric leaf < 0x8000 encodes as a raw little-endian uint16
	b = appendCString(b, name)
	return pad4(b)
}

func encodedBaseClass(access uint16, typ TypeIndex, offset uint64) []byte {
	var b []byte
	b = appendU16(b, uint16(LF_BCLASS))
	b = appendU16(b, access)
	b = appendU32(b, uint32(typ))
	b = appendU16(b, uint16(offset))
	return pad4(b)
}

func TestParseFieldListRecordMemberAndBaseClass(t *testing.T) {
	var payload []byte
	payload = append(payload, encodedMember(uint16(MemberAccessPublic), 0x1001, 4, "x")...)
	payload = append(payload, encodedBaseClass(uint16(MemberAccessPublic), 0x1002, 0)...)

	fl, err := ParseFieldListRecord(payload)
	if err != nil {
		t.Fatalf("ParseFieldListRecord: %v", err)
	}
	if len(fl.Members) != 2 {
		t.Fatalf("len(Members) = %d, want 2", len(fl.Members))
	}

	mem, ok := fl.Members[0].(*MemberRecord)
	if !ok {
		t.Fatalf("Members[0] = %T, want *MemberRecord", fl.Members[0])
	}
	if mem.Name != "x" || mem.Type != 0x1001 || mem.Offset != 4 || mem.Access != MemberAccessPublic {
		t.Fatalf("got %+v", mem)
	}

	base, ok := fl.Members[1].(*BaseClassRecord)
	if !ok {
		t.Fatalf("Members[1] = %T, want *BaseClassRecord", fl.Members[1])
	}
	if base.Type != 0x1002 || base.Offset != 0 || base.Access != MemberAccessPublic {
		t.Fatalf("got %+v", base)
	}
}

func TestParseFieldListRecordStopsAtPadding(t *testing.T) {
	payload := encodedMember(uint16(MemberAccessPublic), 0x1001, 0, "a")
	// Simulate a record that was itself padded by its container to a 4-byte
	// boundary with trailing LF_PAD bytes beyond what the field needed.
	payload = append(payload, byte(LF_PAD2), byte(LF_PAD1))

	fl, err := ParseFieldListRecord(payload)
	if err != nil {
		t.Fatalf("ParseFieldListRecord: %v", err)
	}
	if len(fl.Members) != 1 {
		t.Fatalf("len(Members) = %d, want 1", len(fl.Members))
	}
}

func TestParseMethodListRecordSingleOverload(t *testing.T) {
	attrs := MethodProperties(uint16(MethodKindVanilla) << 2)
	var payload []byte
	payload = appendU16(payload, uint16(attrs))
	payload = appendU16(payload, 0) // pad
	payload = appendU32(payload, 0x1003)

	overloads, err := ParseMethodListRecord(payload)
	if err != nil {
		t.Fatalf("ParseMethodListRecord: %v", err)
	}
	if len(overloads) != 1 {
		t.Fatalf("len(overloads) = %d, want 1", len(overloads))
	}
	if overloads[0].Type != 0x1003 || overloads[0].Kind != MethodKindVanilla {
		t.Fatalf("got %+v", overloads[0])
	}
}

func TestParseMethodListRecordIntroVirtualHasVFTableOffset(t *testing.T) {
	attrs := MethodProperties(uint16(MethodKindIntroVirtual) << 2)
	var payload []byte
	payload = appendU16(payload, uint16(attrs))
	payload = appendU16(payload, 0)
	payload = appendU32(payload, 0x1004)
	payload = appendU32(payload, 8) // vftable offset

	overloads, err := ParseMethodListRecord(payload)
	if err != nil {
		t.Fatalf("ParseMethodListRecord: %v", err)
	}
	if len(overloads) != 1 || overloads[0].VFTableOff != 8 {
		t.Fatalf("got %+v", overloads)
	}
}
