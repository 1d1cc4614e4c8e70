package tpi

import (
	"fmt"

	"github.com/pdbfmt/pdbfmt/cvread"
)

// FieldListMember is implemented by every LF_FIELDLIST subrecord kind this
// package decodes.
type FieldListMember interface {
	fieldListMember()
}

// MemberRecord represents an LF_MEMBER subrecord: a non-static data member.
type MemberRecord struct {
	Access MemberAccess
	Type   TypeIndex
	Offset uint64
	Name   string
}

func (*MemberRecord) fieldListMember() {}

// StaticMemberRecord represents an LF_STMEMBER subrecord.
type StaticMemberRecord struct {
	Access MemberAccess
	Type   TypeIndex
	Name   string
}

func (*StaticMemberRecord) fieldListMember() {}

// BaseClassRecord represents an LF_BCLASS subrecord: a direct, non-virtual
// base class.
type BaseClassRecord struct {
	Access MemberAccess
	Type   TypeIndex
	Offset uint64
}

func (*BaseClassRecord) fieldListMember() {}

// VirtualBaseClassRecord represents an LF_VBCLASS/LF_IVBCLASS subrecord.
type VirtualBaseClassRecord struct {
	Access             MemberAccess
	BaseType           TypeIndex
	VBPtrType          TypeIndex
	VBPtrOffset        uint64
	VBTableIndex       uint64
	IsIndirect         bool
}

func (*VirtualBaseClassRecord) fieldListMember() {}

// EnumerateRecord represents an LF_ENUMERATE subrecord: one named enum value.
type EnumerateRecord struct {
	Access MemberAccess
	Value  int64
	Name   string
}

func (*EnumerateRecord) fieldListMember() {}

// NestedTypeRecord represents an LF_NESTTYPE subrecord.
type NestedTypeRecord struct {
	Type TypeIndex
	Name string
}

func (*NestedTypeRecord) fieldListMember() {}

// VFuncTabRecord represents an LF_VFUNCTAB subrecord: the vtable pointer.
type VFuncTabRecord struct {
	Type TypeIndex
}

func (*VFuncTabRecord) fieldListMember() {}

// OneMethodRecord represents an LF_ONEMETHOD subrecord.
type OneMethodRecord struct {
	Access     MemberAccess
	Kind       MethodKind
	Type       TypeIndex
	VFTableOff int32 // only meaningful for introducing virtual methods
	Name       string
}

func (*OneMethodRecord) fieldListMember() {}

// MethodOverload is one entry of an LF_METHODLIST referenced by LF_METHOD.
type MethodOverload struct {
	Access     MemberAccess
	Kind       MethodKind
	Type       TypeIndex
	VFTableOff int32
}

// MethodRecord represents an LF_METHOD subrecord: an overloaded method name
// with its method list resolved inline from the referenced LF_METHODLIST.
type MethodRecord struct {
	Count     uint16
	MethodList TypeIndex
	Name      string
}

func (*MethodRecord) fieldListMember() {}

// FieldListRecord is the decoded contents of an LF_FIELDLIST type record.
type FieldListRecord struct {
	Members []FieldListMember
}

// ParseFieldListRecord decodes an LF_FIELDLIST payload: a sequence of
// subrecords with no individual length header, each aligned to a 4-byte
// boundary via trailing LF_PADn bytes.
func ParseFieldListRecord(data []byte) (*FieldListRecord, error) {
	r := cvread.NewReader(data)
	var out FieldListRecord

	for r.Remaining() >= 2 {
		kindRaw, err := r.PeekU16()
		if err != nil {
			return nil, err
		}
		kind := TypeRecordKind(kindRaw)
		if TypeRecordKind(kindRaw & 0xFF).IsPadding() { // pad bytes are single LF_PADn bytes
			break
		}
		r.ReadU16()

		switch kind {
		case LF_MEMBER, LF_MEMBER_ST:
			access, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			typ, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			offset, err := r.ReadNumeric()
			if err != nil {
				return nil, err
			}
			name, err := r.ReadCString()
			if err != nil {
				return nil, err
			}
			out.Members = append(out.Members, &MemberRecord{
				Access: MemberAccess(access), Type: TypeIndex(typ), Offset: offset.Value, Name: name,
			})

		case LF_STMEMBER, LF_STMEMBER_ST:
			access, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			typ, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			name, err := r.ReadCString()
			if err != nil {
				return nil, err
			}
			out.Members = append(out.Members, &StaticMemberRecord{Access: MemberAccess(access), Type: TypeIndex(typ), Name: name})

		case LF_BCLASS:
			access, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			typ, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			offset, err := r.ReadNumeric()
			if err != nil {
				return nil, err
			}
			out.Members = append(out.Members, &BaseClassRecord{Access: MemberAccess(access), Type: TypeIndex(typ), Offset: offset.Value})

		case LF_VBCLASS, LF_IVBCLASS:
			access, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			baseType, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			vbptrType, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			vbpOffset, err := r.ReadNumeric()
			if err != nil {
				return nil, err
			}
			vbIndex, err := r.ReadNumeric()
			if err != nil {
				return nil, err
			}
			out.Members = append(out.Members, &VirtualBaseClassRecord{
				Access: MemberAccess(access), BaseType: TypeIndex(baseType), VBPtrType: TypeIndex(vbptrType),
				VBPtrOffset: vbpOffset.Value, VBTableIndex: vbIndex.Value, IsIndirect: kind == LF_IVBCLASS,
			})

		case LF_ENUMERATE, LF_ENUMERATE_ST:
			access, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			value, err := r.ReadNumeric()
			if err != nil {
				return nil, err
			}
			name, err := r.ReadCString()
			if err != nil {
				return nil, err
			}
			v := int64(value.Value)
			if value.Signed {
				v = int64(int64(value.Value))
			}
			out.Members = append(out.Members, &EnumerateRecord{Access: MemberAccess(access), Value: v, Name: name})

		case LF_NESTTYPE, LF_NESTTYPE_ST:
			if _, err := r.ReadU16(); err != nil { // pad
				return nil, err
			}
			typ, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			name, err := r.ReadCString()
			if err != nil {
				return nil, err
			}
			out.Members = append(out.Members, &NestedTypeRecord{Type: TypeIndex(typ), Name: name})

		case LF_VFUNCTAB:
			if _, err := r.ReadU16(); err != nil { // pad
				return nil, err
			}
			typ, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			out.Members = append(out.Members, &VFuncTabRecord{Type: TypeIndex(typ)})

		case LF_ONEMETHOD, LF_ONEMETHOD_ST:
			attrs, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			typ, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			mp := MethodProperties(attrs)
			mk := MethodKind((attrs >> 2) & 0x07)
			rec := &OneMethodRecord{Access: MemberAccess(mp.Access()), Kind: mk, Type: TypeIndex(typ)}
			if mk == MethodKindIntroVirtual || mk == MethodKindPureIntro {
				off, err := r.ReadI32()
				if err != nil {
					return nil, err
				}
				rec.VFTableOff = off
			}
			name, err := r.ReadCString()
			if err != nil {
				return nil, err
			}
			rec.Name = name
			out.Members = append(out.Members, rec)

		case LF_METHOD, LF_METHOD_ST:
			count, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			methodList, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			name, err := r.ReadCString()
			if err != nil {
				return nil, err
			}
			out.Members = append(out.Members, &MethodRecord{Count: count, MethodList: TypeIndex(methodList), Name: name})

		case LF_INDEX:
			if _, err := r.ReadU16(); err != nil { // pad
				return nil, err
			}
			if _, err := r.ReadU32(); err != nil { // continuation type index, not surfaced as a member
				return nil, err
			}

		default:
			return nil, fmt.Errorf("%w: unsupported field list subrecord kind 0x%04x", ErrInvalidTypeRecord, uint16(kind))
		}

		r.Align(4)
	}

	return &out, nil
}

// ParseMethodListRecord decodes an LF_METHODLIST payload referenced by an
// LF_METHOD subrecord: a flat array of method overloads.
func ParseMethodListRecord(data []byte) ([]MethodOverload, error) {
	r := cvread.NewReader(data)
	var out []MethodOverload
	for r.Remaining() > 0 {
		attrs, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		if _, err := r.ReadU16(); err != nil { // pad
			return nil, err
		}
		typ, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		mp := MethodProperties(attrs)
		mk := MethodKind((attrs >> 2) & 0x07)
		ov := MethodOverload{Access: MemberAccess(mp.Access()), Kind: mk, Type: TypeIndex(typ)}
		if mk == MethodKindIntroVirtual || mk == MethodKindPureIntro {
			off, err := r.ReadI32()
			if err != nil {
				return nil, err
			}
			ov.VFTableOff = off
		}
		out = append(out, ov)
	}
	return out, nil
}
