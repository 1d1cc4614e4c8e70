package tpi

import (
	"encoding/binary"
	"strings"

	"github.com/pdbfmt/pdbfmt/hashtab"
)

// IsAnonymousUDTName reports whether name is one of the fixed anonymous-tag
// spellings the hash algorithm must recognize: "<unnamed-tag>", "__unnamed",
// or a name ending in "::<unnamed-tag>" or "::__unnamed".
func IsAnonymousUDTName(name string) bool {
	switch name {
	case "<unnamed-tag>", "__unnamed":
		return true
	}
	return strings.HasSuffix(name, "::<unnamed-tag>") || strings.HasSuffix(name, "::__unnamed")
}

// RecordHash computes the TPI1::hashPrec value for one type record: global
// UDT definitions (non-forward-ref, non-scoped, non-anonymous, of one of the
// kinds IsGlobalUDTDefinition names) hash by name via LHashPbCb; everything
// else hashes via CRC-32 over the full framed record bytes (kind + payload,
// no length prefix).
func RecordHash(kind TypeRecordKind, payload []byte, numBuckets uint32) uint32 {
	if name, ok := globalUDTName(kind, payload); ok {
		return hashtab.LHashPbCb(name) % numBuckets
	}
	recordBytes := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(recordBytes, uint16(kind))
	copy(recordBytes[2:], payload)
	return hashtab.CRC32(recordBytes) % numBuckets
}

// globalUDTName extracts the defining name of a record if it is a global
// UDT definition eligible for name-based hashing.
func globalUDTName(kind TypeRecordKind, payload []byte) (string, bool) {
	if !kind.IsGlobalUDTDefinition() {
		return "", false
	}

	var name string
	var isForwardRef, isScoped bool

	switch kind {
	case LF_CLASS, LF_STRUCTURE, LF_INTERFACE:
		rec, err := ParseClassRecord(payload)
		if err != nil {
			return "", false
		}
		name, isForwardRef, isScoped = rec.Name, rec.Properties.IsForwardRef(), rec.Properties.IsScoped()
	case LF_UNION:
		rec, err := ParseUnionRecord(payload)
		if err != nil {
			return "", false
		}
		name, isForwardRef, isScoped = rec.Name, rec.Properties.IsForwardRef(), rec.Properties.IsScoped()
	case LF_ENUM:
		rec, err := ParseEnumRecord(payload)
		if err != nil {
			return "", false
		}
		name, isForwardRef, isScoped = rec.Name, rec.Properties.IsForwardRef(), rec.Properties.IsScoped()
	case LF_ALIAS:
		al, err := parseAliasName(payload)
		if err != nil {
			return "", false
		}
		name = al
	default:
		return "", false
	}

	if isForwardRef || isScoped || IsAnonymousUDTName(name) {
		return "", false
	}
	return name, true
}

// parseAliasName extracts the name field of an LF_ALIAS record
// (underlying_type: u32, name: cstring).
func parseAliasName(payload []byte) (string, error) {
	if len(payload) < 4 {
		return "", ErrInvalidTypeRecord
	}
	nul := indexByte(payload[4:], 0)
	if nul < 0 {
		return "", ErrInvalidTypeRecord
	}
	return string(payload[4 : 4+nul]), nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
