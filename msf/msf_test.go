package msf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type memReaderAt struct{ b []byte }

func (m memReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.b[off:])
	if n < len(p) {
		return n, nil
	}
	return n, nil
}

func buildAndOpen(t *testing.T, streams [][]byte) *File {
	t.Helper()
	data, err := Build(streams)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	f, err := NewFile(memReaderAt{data}, int64(len(data)))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	return f
}

func TestBuildRoundTripSmallStreams(t *testing.T) {
	streams := [][]byte{
		[]byte("old directory, unused"),
		[]byte("pdb info stream"),
		nil,
		[]byte("dbi stream"),
	}

	f := buildAndOpen(t, streams)

	n, err := f.NumStreams()
	if err != nil || n != uint32(len(streams)) {
		t.Fatalf("NumStreams = %d, %v, want %d", n, err, len(streams))
	}

	for i, want := range streams {
		exists, err := f.StreamExists(uint32(i))
		if err != nil {
			t.Fatalf("StreamExists(%d): %v", i, err)
		}
		if want == nil {
			if exists {
				t.Fatalf("stream %d: want nil, got present", i)
			}
			continue
		}
		if !exists {
			t.Fatalf("stream %d: want present, got nil", i)
		}
		got, err := f.ReadStream(uint32(i))
		if err != nil {
			t.Fatalf("ReadStream(%d): %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("stream %d = %q, want %q", i, got, want)
		}
	}
}

func TestBuildRoundTripMultiPageStream(t *testing.T) {
	big := make([]byte, BlockSize4096*3+17)
	for i := range big {
		big[i] = byte(i)
	}
	streams := [][]byte{big, []byte("small")}

	f := buildAndOpen(t, streams)

	got, err := f.ReadStream(0)
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if !bytes.Equal(got, big) {
		t.Fatalf("multi-page stream round trip mismatch, len got=%d want=%d", len(got), len(big))
	}
}

func TestBuildManyStreamsGrowsFile(t *testing.T) {
	streams := make([][]byte, 200)
	for i := range streams {
		streams[i] = bytes.Repeat([]byte{byte(i)}, 50)
	}

	f := buildAndOpen(t, streams)
	dir, err := f.Directory()
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	if err := dir.ValidatePagePartition(); err != nil {
		t.Fatalf("ValidatePagePartition: %v", err)
	}
	for i, want := range streams {
		got, err := f.ReadStream(uint32(i))
		if err != nil {
			t.Fatalf("ReadStream(%d): %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("stream %d mismatch", i)
		}
	}
}

func TestBuildPagePartitionInvariant(t *testing.T) {
	streams := [][]byte{
		bytes.Repeat([]byte{1}, int(BlockSize4096*2)),
		bytes.Repeat([]byte{2}, int(BlockSize4096)+1),
		bytes.Repeat([]byte{3}, 10),
	}
	f := buildAndOpen(t, streams)
	dir, err := f.Directory()
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	if err := dir.ValidatePagePartition(); err != nil {
		t.Fatalf("ValidatePagePartition: %v", err)
	}
}

func TestBuildActiveFPMReflectsAllocation(t *testing.T) {
	streams := [][]byte{bytes.Repeat([]byte{9}, int(BlockSize4096)+1)}
	f := buildAndOpen(t, streams)

	fpm, err := f.ActiveFPM()
	if err != nil {
		t.Fatalf("ActiveFPM: %v", err)
	}
	dir, err := f.Directory()
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	for i, blocks := range dir.StreamBlocks {
		for _, p := range blocks {
			if fpm.IsFree(p) {
				t.Fatalf("stream %d page %d marked free in active FPM", i, p)
			}
		}
	}
	if fpm.IsFree(0) {
		t.Fatalf("header page 0 must not be marked free")
	}
}

func TestOpenMmapRoundTrip(t *testing.T) {
	streams := [][]byte{
		[]byte("old directory, unused"),
		[]byte("pdb info stream"),
		nil,
		bytes.Repeat([]byte{7}, int(BlockSize4096)+1),
	}
	data, err := Build(streams)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.pdb")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	mapped, err := OpenMmap(path)
	if err != nil {
		t.Fatalf("OpenMmap: %v", err)
	}
	defer mapped.Close()

	direct, err := NewFile(memReaderAt{data}, int64(len(data)))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	for i, want := range streams {
		got, err := mapped.ReadStream(uint32(i))
		if err != nil {
			if want == nil {
				continue
			}
			t.Fatalf("mapped ReadStream(%d): %v", i, err)
		}
		wantFromDirect, err := direct.ReadStream(uint32(i))
		if err != nil {
			t.Fatalf("direct ReadStream(%d): %v", i, err)
		}
		if diff := cmp.Diff(wantFromDirect, got); diff != "" {
			t.Fatalf("stream %d: mmap-backed read differs from buffer-backed read (-want +got):\n%s", i, diff)
		}
	}
}

func TestReadSuperBlockRejectsBadMagic(t *testing.T) {
	data, err := Build([][]byte{[]byte("x")})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	corrupt := make([]byte, len(data))
	copy(corrupt, data)
	corrupt[0] ^= 0xFF
	if _, err := NewFile(memReaderAt{corrupt}, int64(len(corrupt))); err == nil {
		t.Fatalf("expected error opening file with corrupted magic")
	}
}
