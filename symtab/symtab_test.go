package symtab

import (
	"testing"

	"github.com/pdbfmt/pdbfmt/hashtab"
)

func TestBuildBucketAssignment(t *testing.T) {
	records := []NamedRecord{
		{Name: "ExitProcess", GSSOffset: 0x1200},
		{Name: "CreateFileW", GSSOffset: 0x100},
		{Name: "Sleep", GSSOffset: 0x50},
	}
	tbl := Build(records, NumBucketsDefault)

	for _, r := range records {
		wantBucket := hashtab.LHashPbCb(r.Name) % NumBucketsDefault
		found := false
		for _, hr := range tbl.Bucket(wantBucket) {
			if hr.GSSOffset() == r.GSSOffset {
				found = true
			}
		}
		if !found {
			t.Fatalf("record %q (offset %#x) not found in bucket %d", r.Name, r.GSSOffset, wantBucket)
		}
	}
}

// TestSymbolNameTableLookupHit exercises spec.md §8 scenario 3.
func TestSymbolNameTableLookupHit(t *testing.T) {
	records := []NamedRecord{{Name: "ExitProcess", GSSOffset: 0x1200}}
	tbl := Build(records, NumBucketsDefault)

	wantBucket := hashtab.LHashPbCb("ExitProcess") % NumBucketsDefault
	bucket := tbl.Bucket(wantBucket)
	if len(bucket) != 1 {
		t.Fatalf("bucket %d has %d records, want 1", wantBucket, len(bucket))
	}
	if bucket[0].Offset != 0x1201 {
		t.Fatalf("hash record offset = %#x, want 0x1201", bucket[0].Offset)
	}
	if bucket[0].GSSOffset() != 0x1200 {
		t.Fatalf("GSSOffset() = %#x, want 0x1200", bucket[0].GSSOffset())
	}
}

func TestEncodeDecodeBucketsRoundTrip(t *testing.T) {
	records := make([]NamedRecord, 50)
	for i := range records {
		records[i] = NamedRecord{Name: string(rune('a' + i%26)), GSSOffset: int32(i * 4)}
	}
	tbl := Build(records, NumBucketsDefault)

	encoded := tbl.Encode()
	parsed, err := Parse(encoded, NumBucketsDefault)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed.HashRecords) != len(tbl.HashRecords) {
		t.Fatalf("HashRecords len = %d, want %d", len(parsed.HashRecords), len(tbl.HashRecords))
	}
	for b := uint32(0); b <= tbl.NumBuckets; b++ {
		if parsed.BucketStart[b] != tbl.BucketStart[b] {
			t.Fatalf("BucketStart[%d] = %d, want %d", b, parsed.BucketStart[b], tbl.BucketStart[b])
		}
	}
}

func TestParseRejectsBadSignature(t *testing.T) {
	data := make([]byte, 20)
	if _, err := Parse(data, NumBucketsDefault); err != ErrBadSignature {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}
