// Package names implements the "/names" stream: a NUL-terminated string
// table plus an open-addressed hash table mapping each string to its byte
// offset (its NameIndex). See spec.md §4.4.5.
package names

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pdbfmt/pdbfmt/hashtab"
)

const (
	// Signature is the fixed /names stream signature.
	Signature uint32 = 0xEFFEEFFE

	// V1 is the only version this package's writer emits.
	V1 uint32 = 1
	// V2 is accepted on read.
	V2 uint32 = 2
)

var (
	ErrBadSignature = errors.New("names: bad /names stream signature")
	ErrUnsupportedVersion = errors.New("names: unsupported version")
	ErrTruncated    = errors.New("names: truncated stream")
	ErrBadNameIndex = errors.New("names: NameIndex does not point at a NUL boundary")
)

// NameIndex is a byte offset into the string data region; 0 is the empty
// string stored at offset 0.
type NameIndex uint32

// Table is a decoded or in-construction /names stream.
type Table struct {
	Version    uint32
	StringData []byte // NUL-terminated strings back to back, starting with "\x00"
	HashTable  []uint32 // NumHashes entries; 0 = empty slot, else NameIndex
	NumNames   uint32
}

// Parse decodes a /names stream from its raw bytes.
func Parse(data []byte) (*Table, error) {
	if len(data) < 12 {
		return nil, ErrTruncated
	}
	sig := binary.LittleEndian.Uint32(data)
	if sig != Signature {
		return nil, ErrBadSignature
	}
	version := binary.LittleEndian.Uint32(data[4:])
	if version != V1 && version != V2 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	off := 8
	stringsSize := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if off+int(stringsSize) > len(data) {
		return nil, ErrTruncated
	}
	stringData := data[off : off+int(stringsSize)]
	off += int(stringsSize)

	if off+4 > len(data) {
		return nil, ErrTruncated
	}
	numHashes := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if off+int(numHashes)*4 > len(data) {
		return nil, ErrTruncated
	}
	hashTable := make([]uint32, numHashes)
	for i := range hashTable {
		hashTable[i] = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}

	var numNames uint32
	if off+4 <= len(data) {
		numNames = binary.LittleEndian.Uint32(data[off:])
	}

	return &Table{
		Version:    version,
		StringData: append([]byte(nil), stringData...),
		HashTable:  hashTable,
		NumNames:   numNames,
	}, nil
}

// StringAt returns the NUL-terminated string starting at NameIndex idx.
func (t *Table) StringAt(idx NameIndex) (string, error) {
	i := int(idx)
	if i < 0 || i >= len(t.StringData) {
		return "", fmt.Errorf("%w: offset %d", ErrBadNameIndex, idx)
	}
	end := i
	for end < len(t.StringData) && t.StringData[end] != 0 {
		end++
	}
	if end >= len(t.StringData) {
		return "", fmt.Errorf("%w: offset %d has no terminating NUL", ErrBadNameIndex, idx)
	}
	return string(t.StringData[i:end]), nil
}

// hashString computes the table's bucket hash for this table's version.
// V1 and V2 both use LHashPbCb per spec.md §4.4.5 (V2 differs only in other
// reserved metadata this package does not otherwise interpret).
func (t *Table) hashString(s string) uint32 {
	return hashtab.LHashPbCb(s)
}

// Lookup computes h = hash(s) mod num_hashes and probes linearly, per
// spec.md §4.4.5 and scenario 4: a miss is only reported once an empty slot
// (hash table value 0, i.e. the reserved empty-string NameIndex) is found.
func (t *Table) Lookup(s string) (NameIndex, bool, error) {
	if len(t.HashTable) == 0 {
		return 0, false, nil
	}
	numHashes := uint32(len(t.HashTable))
	start := t.hashString(s) % numHashes
	for i := uint32(0); i < numHashes; i++ {
		slot := (start + i) % numHashes
		idx := t.HashTable[slot]
		if idx == 0 {
			if s == "" {
				return 0, true, nil
			}
			return 0, false, nil
		}
		candidate, err := t.StringAt(NameIndex(idx))
		if err != nil {
			return 0, false, err
		}
		if candidate == s {
			return NameIndex(idx), true, nil
		}
	}
	return 0, false, nil
}

// Encode serializes the table to the on-disk /names byte layout.
func (t *Table) Encode() []byte {
	out := make([]byte, 0, 12+len(t.StringData)+4+len(t.HashTable)*4)

	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:], Signature)
	binary.LittleEndian.PutUint32(hdr[4:], V1)
	out = append(out, hdr[:]...)

	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(t.StringData)))
	out = append(out, sizeBuf[:]...)
	out = append(out, t.StringData...)

	var numHashesBuf [4]byte
	binary.LittleEndian.PutUint32(numHashesBuf[:], uint32(len(t.HashTable)))
	out = append(out, numHashesBuf[:]...)
	for _, v := range t.HashTable {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		out = append(out, b[:]...)
	}

	var numNamesBuf [4]byte
	binary.LittleEndian.PutUint32(numNamesBuf[:], t.NumNames)
	out = append(out, numNamesBuf[:]...)

	return out
}
