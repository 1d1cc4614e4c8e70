package tpi

import (
	"encoding/binary"

	"github.com/pdbfmt/pdbfmt/framing"
)

// InputRecord is one record to be assigned a type/item index and written by Build.
type InputRecord struct {
	Kind    TypeRecordKind
	Payload []byte
}

// Built holds the encoded byte ranges Build produces, ready to be placed at
// a TPI or IPI stream index together with a hash stream index.
type Built struct {
	Header          Header
	TypeRecordBytes []byte
	HashStreamBytes []byte
}

// Build lays out records starting at FirstUserTypeIndex, computing the
// TPI1::hashPrec hash substreams over numBuckets buckets. hashStreamIndex is
// recorded in the header verbatim; Build does not itself allocate streams.
func Build(records []InputRecord, numBuckets uint32, hashStreamIndex uint16) *Built {
	typeIndexBegin := FirstUserTypeIndex

	var typeRecordBytes []byte
	hashValues := make([]byte, 0, len(records)*4)
	indexOffset := make([]byte, 0, 8) // (type_index, stream_offset) pairs

	for i, rec := range records {
		offset := uint32(len(typeRecordBytes))
		ti := typeIndexBegin + TypeIndex(i)

		framed := framing.Encode(framing.AlignType, uint16(rec.Kind), rec.Payload)
		typeRecordBytes = append(typeRecordBytes, framed...)

		hv := RecordHash(rec.Kind, rec.Payload, numBuckets)
		hashValues = binary.LittleEndian.AppendUint32(hashValues, hv)

		indexOffset = binary.LittleEndian.AppendUint32(indexOffset, uint32(ti))
		indexOffset = binary.LittleEndian.AppendUint32(indexOffset, offset)
	}

	header := Header{
		Version:            VersionV80,
		HeaderSize:         HeaderSize,
		TypeIndexBegin:     typeIndexBegin,
		TypeIndexEnd:       typeIndexBegin + TypeIndex(len(records)),
		TypeRecordBytes:    uint32(len(typeRecordBytes)),
		HashStreamIndex:    hashStreamIndex,
		HashAuxStreamIndex: 0xFFFF,
		HashKeySize:        4,
		NumHashBuckets:     numBuckets,
	}

	hashStreamBytes := make([]byte, 0, len(hashValues)+len(indexOffset))

	header.HashValueBufferOffset = int32(len(hashStreamBytes))
	header.HashValueBufferLength = uint32(len(hashValues))
	hashStreamBytes = append(hashStreamBytes, hashValues...)

	header.IndexOffsetBufferOffset = int32(len(hashStreamBytes))
	header.IndexOffsetBufferLength = uint32(len(indexOffset))
	hashStreamBytes = append(hashStreamBytes, indexOffset...)

	header.HashAdjBufferOffset = int32(len(hashStreamBytes))
	header.HashAdjBufferLength = 0

	return &Built{Header: header, TypeRecordBytes: typeRecordBytes, HashStreamBytes: hashStreamBytes}
}

// StreamBytes assembles the header and type record bytes into the full TPI
// or IPI stream, ready to place at its MSF stream index.
func (b *Built) StreamBytes() []byte {
	out := make([]byte, 0, HeaderSize+len(b.TypeRecordBytes))
	out = append(out, b.Header.Encode()...)
	out = append(out, b.TypeRecordBytes...)
	return out
}

// IndexOffsetPairs decodes the Index-Offset Substream of a built hash stream.
func IndexOffsetPairs(hashStreamBytes []byte, h *Header) ([][2]uint32, error) {
	start := int(h.IndexOffsetBufferOffset)
	length := int(h.IndexOffsetBufferLength)
	if start < 0 || start+length > len(hashStreamBytes) {
		return nil, ErrInvalidHeader
	}
	data := hashStreamBytes[start : start+length]
	if len(data)%8 != 0 {
		return nil, ErrInvalidHeader
	}
	pairs := make([][2]uint32, len(data)/8)
	for i := range pairs {
		pairs[i][0] = binary.LittleEndian.Uint32(data[i*8:])
		pairs[i][1] = binary.LittleEndian.Uint32(data[i*8+4:])
	}
	return pairs, nil
}

// HashValues decodes the Hash Value Substream.
func HashValues(hashStreamBytes []byte, h *Header) ([]uint32, error) {
	start := int(h.HashValueBufferOffset)
	length := int(h.HashValueBufferLength)
	if start < 0 || start+length > len(hashStreamBytes) {
		return nil, ErrInvalidHeader
	}
	data := hashStreamBytes[start : start+length]
	if len(data)%4 != 0 {
		return nil, ErrInvalidHeader
	}
	values := make([]uint32, len(data)/4)
	for i := range values {
		values[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return values, nil
}
