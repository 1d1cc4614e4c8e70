package msfz

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func buildAndOpen(t *testing.T, streams [][]byte, opts BuildOptions) *Reader {
	t.Helper()
	image, err := Build(streams, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	r, err := Open(bytes.NewReader(image), int64(len(image)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
}

func TestRoundTripUncompressed(t *testing.T) {
	streams := [][]byte{[]byte("alpha"), nil, []byte("gamma-stream")}
	r := buildAndOpen(t, streams, BuildOptions{Compression: CompressionNone})

	for i, want := range streams {
		exists, err := r.StreamExists(uint32(i))
		if err != nil {
			t.Fatalf("StreamExists(%d): %v", i, err)
		}
		if exists != (want != nil) {
			t.Fatalf("StreamExists(%d) = %v, want %v", i, exists, want != nil)
		}
		if want == nil {
			continue
		}
		got, err := r.ReadStream(uint32(i))
		if err != nil {
			t.Fatalf("ReadStream(%d): %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("ReadStream(%d) = %q, want %q", i, got, want)
		}
	}
}

func TestRoundTripZstd(t *testing.T) {
	streams := [][]byte{bytes.Repeat([]byte("hello world "), 200), []byte("short")}
	r := buildAndOpen(t, streams, BuildOptions{Compression: CompressionZstd})

	for i, want := range streams {
		got, err := r.ReadStream(uint32(i))
		if err != nil {
			t.Fatalf("ReadStream(%d): %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("stream %d mismatch: got %d bytes, want %d", i, len(got), len(want))
		}
	}
}

func TestRoundTripDeflate(t *testing.T) {
	streams := [][]byte{bytes.Repeat([]byte("deflate-me "), 300)}
	r := buildAndOpen(t, streams, BuildOptions{Compression: CompressionDeflate})

	got, err := r.ReadStream(0)
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if !bytes.Equal(got, streams[0]) {
		t.Fatalf("stream mismatch")
	}
}

func TestCrossChunkFragmentRead(t *testing.T) {
	// Force small chunks so a single stream's bytes span multiple chunks,
	// exercising the cross-chunk contiguous read path.
	streams := [][]byte{bytes.Repeat([]byte("0123456789"), 50)} // 500 bytes
	r := buildAndOpen(t, streams, BuildOptions{Compression: CompressionZstd, ChunkSize: 64})

	got, err := r.ReadStream(0)
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if !bytes.Equal(got, streams[0]) {
		t.Fatalf("cross-chunk stream mismatch: got %d bytes, want %d", len(got), len(streams[0]))
	}
}

func TestOpenMmapRoundTrip(t *testing.T) {
	streams := [][]byte{bytes.Repeat([]byte("mapped-bytes "), 100), nil, []byte("tail")}
	image, err := Build(streams, BuildOptions{Compression: CompressionZstd})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.pdbz")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, closer, err := OpenMmap(path)
	if err != nil {
		t.Fatalf("OpenMmap: %v", err)
	}
	defer closer()

	for i, want := range streams {
		if want == nil {
			continue
		}
		got, err := r.ReadStream(uint32(i))
		if err != nil {
			t.Fatalf("ReadStream(%d): %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("stream %d mismatch: got %d bytes, want %d", i, len(got), len(want))
		}
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	bad := make([]byte, HeaderSize)
	copy(bad, "not an msfz file")
	if _, err := Open(bytes.NewReader(bad), int64(len(bad))); err != ErrInvalidMagic {
		t.Fatalf("err = %v, want ErrInvalidMagic", err)
	}
}

func TestBuildRejectsUnknownCompression(t *testing.T) {
	_, err := Build([][]byte{[]byte("x")}, BuildOptions{Compression: 99})
	if !errors.Is(err, ErrUnsupportedCompression) {
		t.Fatalf("err = %v, want ErrUnsupportedCompression", err)
	}
}
