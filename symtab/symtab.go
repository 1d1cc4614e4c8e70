// Package symtab implements the Symbol Name Table primitive shared by GSI
// and PSI: a name hash index over records in the Global Symbol Stream. See
// spec.md §4.5.2.
package symtab

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/pdbfmt/pdbfmt/hashtab"
)

const (
	Signature uint32 = 0xFFFFFFFF
	Version   uint32 = 0xF12F091A

	// NumBucketsDefault is used unless the PDBI MinimalDebugInfo feature is
	// present, in which case NumBucketsMinimal applies.
	NumBucketsDefault uint32 = 0x1000
	NumBucketsMinimal uint32 = 0x3FFFF

	// recordSizeScale is the historical x12 scaling applied to bucket-start
	// positions in the bitmap-compressed bucket encoding.
	recordSizeScale = 12
)

var (
	ErrTruncated    = errors.New("symtab: truncated stream")
	ErrBadSignature = errors.New("symtab: bad signature or version")
)

// HashRecord is one entry in the hash_records array: offset-1 is the GSS
// byte offset of the symbol record it names.
type HashRecord struct {
	Offset int32
	CRefs  int32
}

// GSSOffset returns the referenced symbol's byte offset within the GSS.
func (r HashRecord) GSSOffset() int32 { return r.Offset - 1 }

// Table is a decoded Symbol Name Table.
type Table struct {
	NumBuckets  uint32
	HashRecords []HashRecord
	// BucketStart[b] is the index into HashRecords where bucket b's run of
	// records begins; BucketStart[NumBuckets] is len(HashRecords).
	BucketStart []uint32
}

// Parse decodes a Symbol Name Table from raw stream bytes. numBuckets must
// be supplied by the caller (NumBucketsDefault, unless the PDBI
// MinimalDebugInfo feature selects NumBucketsMinimal).
func Parse(data []byte, numBuckets uint32) (*Table, error) {
	if len(data) < 16 {
		return nil, ErrTruncated
	}
	sig := binary.LittleEndian.Uint32(data)
	ver := binary.LittleEndian.Uint32(data[4:])
	if sig != Signature || ver != Version {
		return nil, ErrBadSignature
	}
	hashRecordsSize := binary.LittleEndian.Uint32(data[8:])
	hashBucketsSize := binary.LittleEndian.Uint32(data[12:])
	off := 16

	if off+int(hashRecordsSize) > len(data) {
		return nil, ErrTruncated
	}
	numRecords := hashRecordsSize / 8
	records := make([]HashRecord, numRecords)
	for i := range records {
		records[i].Offset = int32(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		records[i].CRefs = int32(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}

	if off+int(hashBucketsSize) > len(data) {
		return nil, ErrTruncated
	}
	bucketBytes := data[off : off+int(hashBucketsSize)]

	bucketStart, err := DecodeBucketsWithCount(bucketBytes, numBuckets, uint32(len(records)))
	if err != nil {
		return nil, err
	}

	return &Table{NumBuckets: numBuckets, HashRecords: records, BucketStart: bucketStart}, nil
}

// DecodeBucketsWithCount decompresses the bucket-start bitmap given a known
// bucket count (NumBucketsDefault or NumBucketsMinimal per the PDBI
// MinimalDebugInfo feature).
func DecodeBucketsWithCount(data []byte, numBuckets uint32, numRecords uint32) ([]uint32, error) {
	bitmapWords := int((numBuckets + 1 + 31) / 32)
	bitmapBytes := bitmapWords * 4
	if len(data) < bitmapBytes {
		return nil, ErrTruncated
	}
	bitmap := data[:bitmapBytes]
	rest := data[bitmapBytes:]

	isPresent := func(b uint32) bool {
		word := b / 32
		if int(word) >= len(bitmap)/4 {
			return false
		}
		v := binary.LittleEndian.Uint32(bitmap[word*4:])
		return v&(1<<(b%32)) != 0
	}

	presentStarts := make([]uint32, 0, numBuckets+1)
	off := 0
	for b := uint32(0); b <= numBuckets; b++ {
		if !isPresent(b) {
			continue
		}
		if off+4 > len(rest) {
			return nil, ErrTruncated
		}
		scaled := int32(binary.LittleEndian.Uint32(rest[off:]))
		off += 4
		presentStarts = append(presentStarts, uint32(scaled/recordSizeScale))
	}

	// Empty buckets inherit the next present bucket's start, scanned
	// right to left since only present buckets carry an explicit value.
	starts := make([]uint32, numBuckets+1)
	next := numRecords
	pi := len(presentStarts)
	for b := int(numBuckets); b >= 0; b-- {
		if isPresent(uint32(b)) {
			pi--
			next = presentStarts[pi]
		}
		starts[b] = next
	}

	return starts, nil
}

// EncodeBuckets compresses bucketStart (length numBuckets+1, monotonically
// non-decreasing, bucketStart[numBuckets] == numRecords) into the bitmap +
// present-bucket-starts encoding. A bucket is "present" when it is
// non-empty (its start differs from the next bucket's); an empty bucket's
// start is implied by the next present bucket, as DecodeBucketsWithCount
// reconstructs it.
func EncodeBuckets(numBuckets uint32, bucketStart []uint32) []byte {
	bitmapWords := int((numBuckets + 1 + 31) / 32)
	bitmap := make([]byte, bitmapWords*4)

	var present []uint32
	for b := uint32(0); b < numBuckets; b++ {
		if bucketStart[b] != bucketStart[b+1] {
			setBit(bitmap, b)
			present = append(present, bucketStart[b])
		}
	}

	out := make([]byte, len(bitmap)+len(present)*4)
	copy(out, bitmap)
	off := len(bitmap)
	for _, s := range present {
		binary.LittleEndian.PutUint32(out[off:], uint32(int32(s)*recordSizeScale))
		off += 4
	}
	return out
}

func setBit(bitmap []byte, b uint32) {
	word := b / 32
	var v uint32
	if int(word)*4+4 <= len(bitmap) {
		v = binary.LittleEndian.Uint32(bitmap[word*4:])
	}
	v |= 1 << (b % 32)
	binary.LittleEndian.PutUint32(bitmap[word*4:], v)
}

// Encode serializes the Table to its on-disk layout.
func (t *Table) Encode() []byte {
	recordsBuf := make([]byte, len(t.HashRecords)*8)
	for i, r := range t.HashRecords {
		binary.LittleEndian.PutUint32(recordsBuf[i*8:], uint32(r.Offset))
		binary.LittleEndian.PutUint32(recordsBuf[i*8+4:], uint32(r.CRefs))
	}
	bucketsBuf := EncodeBuckets(t.NumBuckets, t.BucketStart)

	out := make([]byte, 16+len(recordsBuf)+len(bucketsBuf))
	binary.LittleEndian.PutUint32(out[0:], Signature)
	binary.LittleEndian.PutUint32(out[4:], Version)
	binary.LittleEndian.PutUint32(out[8:], uint32(len(recordsBuf)))
	binary.LittleEndian.PutUint32(out[12:], uint32(len(bucketsBuf)))
	copy(out[16:], recordsBuf)
	copy(out[16+len(recordsBuf):], bucketsBuf)
	return out
}

// NamedRecord pairs a symbol's name with its GSS byte offset, the input to
// Build.
type NamedRecord struct {
	Name      string
	GSSOffset int32
}

// Build constructs a normalized Table from a set of named records, per
// spec.md §4.5.2's ordering rule: hash records sorted by
// (bucket_index, gss_offset) ascending, bucket_index = LHashPbCb(name) mod
// num_buckets.
func Build(records []NamedRecord, numBuckets uint32) *Table {
	type withBucket struct {
		NamedRecord
		bucket uint32
	}
	tagged := make([]withBucket, len(records))
	for i, r := range records {
		tagged[i] = withBucket{r, hashtab.LHashPbCb(r.Name) % numBuckets}
	}
	sort.Slice(tagged, func(i, j int) bool {
		if tagged[i].bucket != tagged[j].bucket {
			return tagged[i].bucket < tagged[j].bucket
		}
		return tagged[i].GSSOffset < tagged[j].GSSOffset
	})

	hashRecords := make([]HashRecord, len(tagged))
	bucketStart := make([]uint32, numBuckets+1)
	bi := uint32(0)
	for i, r := range tagged {
		hashRecords[i] = HashRecord{Offset: r.GSSOffset + 1, CRefs: 1}
		for bi <= r.bucket {
			bucketStart[bi] = uint32(i)
			bi++
		}
	}
	for ; bi <= numBuckets; bi++ {
		bucketStart[bi] = uint32(len(tagged))
	}

	return &Table{NumBuckets: numBuckets, HashRecords: hashRecords, BucketStart: bucketStart}
}

// Bucket returns the hash records belonging to bucket b.
func (t *Table) Bucket(b uint32) []HashRecord {
	if b >= t.NumBuckets {
		return nil
	}
	return t.HashRecords[t.BucketStart[b]:t.BucketStart[b+1]]
}
