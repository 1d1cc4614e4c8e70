package msfz

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"
)

// Reader provides random-access reads over an MSFZ container, decompressing
// chunks on demand and caching the result so concurrent readers racing on
// the same chunk observe identical bytes without decompressing it twice.
type Reader struct {
	data io.ReaderAt
	size int64

	header *Header
	dir    *StreamDirectory
	chunks []ChunkEntry

	cacheMu sync.Mutex
	cache   map[uint32][]byte
	group   singleflight.Group

	zstdOnce sync.Once
	zstdDec  *zstd.Decoder
	zstdErr  error
}

// Open validates and opens an MSFZ container from an arbitrary io.ReaderAt.
func Open(r io.ReaderAt, size int64) (*Reader, error) {
	hdrBuf := make([]byte, HeaderSize)
	if _, err := r.ReadAt(hdrBuf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("msfz: failed to read header: %w", err)
	}
	h, err := ReadHeader(hdrBuf)
	if err != nil {
		return nil, err
	}

	if int64(h.ChunkTableOffset)+int64(h.ChunkTableSize) > size {
		return nil, fmt.Errorf("%w: chunk table", ErrOutOfRange)
	}
	chunkBuf := make([]byte, h.ChunkTableSize)
	if h.ChunkTableSize > 0 {
		if _, err := r.ReadAt(chunkBuf, int64(h.ChunkTableOffset)); err != nil && err != io.EOF {
			return nil, fmt.Errorf("msfz: failed to read chunk table: %w", err)
		}
	}
	chunks, err := ParseChunkTable(chunkBuf, h.NumChunks)
	if err != nil {
		return nil, err
	}
	if err := validateChunks(chunks, size, h); err != nil {
		return nil, err
	}

	if int64(h.StreamDirOffset)+int64(h.StreamDirSizeCompressed) > size {
		return nil, fmt.Errorf("%w: stream directory", ErrOutOfRange)
	}
	dirCompressed := make([]byte, h.StreamDirSizeCompressed)
	if h.StreamDirSizeCompressed > 0 {
		if _, err := r.ReadAt(dirCompressed, int64(h.StreamDirOffset)); err != nil && err != io.EOF {
			return nil, fmt.Errorf("msfz: failed to read stream directory: %w", err)
		}
	}

	reader := &Reader{data: r, size: size, header: h, chunks: chunks, cache: make(map[uint32][]byte)}

	dirBytes, err := reader.decompressBlock(dirCompressed, h.StreamDirCompression, int(h.StreamDirSizeUncompressed))
	if err != nil {
		return nil, fmt.Errorf("msfz: stream directory: %w", err)
	}

	dir, err := ParseStreamDirectory(dirBytes, h.NumStreams)
	if err != nil {
		return nil, err
	}
	if err := validateFragments(dir, chunks, h, size); err != nil {
		return nil, err
	}
	reader.dir = dir

	return reader, nil
}

// validateChunks checks every chunk's file range lies within the file and
// no two chunks overlap.
func validateChunks(chunks []ChunkEntry, size int64, h *Header) error {
	type span struct{ start, end int64 }
	spans := make([]span, len(chunks))
	for i, c := range chunks {
		start := int64(c.FileOffset)
		end := start + int64(c.CompressedSize)
		if start < 0 || end > size {
			return fmt.Errorf("%w: chunk %d", ErrOutOfRange, i)
		}
		if _, ok := compressionName(c.Compression); !ok {
			return fmt.Errorf("%w: chunk %d algorithm %d", ErrUnsupportedCompression, i, c.Compression)
		}
		spans[i] = span{start, end}
	}
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].start < spans[j].end && spans[j].start < spans[i].end {
				return fmt.Errorf("%w: chunks %d and %d", ErrOverlappingRegion, i, j)
			}
		}
	}
	return nil
}

// validateFragments checks every fragment references file ranges or chunk
// indices within bounds.
func validateFragments(dir *StreamDirectory, chunks []ChunkEntry, h *Header, size int64) error {
	for _, frags := range dir.Streams {
		for _, f := range frags {
			if f.Compressed {
				if f.FirstChunk >= uint32(len(chunks)) {
					return fmt.Errorf("%w: %d", ErrInvalidChunkIndex, f.FirstChunk)
				}
				continue
			}
			end := int64(f.FileOffset) + int64(f.Size)
			if end > size {
				return fmt.Errorf("%w: fragment at %d size %d", ErrOutOfRange, f.FileOffset, f.Size)
			}
		}
	}
	return nil
}

func compressionName(kind uint32) (string, bool) {
	switch kind {
	case CompressionNone:
		return "none", true
	case CompressionZstd:
		return "zstd", true
	case CompressionDeflate:
		return "deflate", true
	default:
		return "", false
	}
}

// NumStreams returns the number of streams in the container.
func (r *Reader) NumStreams() uint32 { return r.header.NumStreams }

// StreamSize returns the uncompressed size of streamIndex.
func (r *Reader) StreamSize(streamIndex uint32) (uint32, error) {
	if streamIndex >= uint32(len(r.dir.Streams)) {
		return 0, ErrInvalidStreamIndex
	}
	return r.dir.StreamSize(streamIndex), nil
}

// StreamExists reports whether streamIndex has any fragments.
func (r *Reader) StreamExists(streamIndex uint32) (bool, error) {
	if streamIndex >= uint32(len(r.dir.Streams)) {
		return false, ErrInvalidStreamIndex
	}
	return r.dir.Streams[streamIndex] != nil, nil
}

// ReadStream reads the whole of streamIndex into memory.
func (r *Reader) ReadStream(streamIndex uint32) ([]byte, error) {
	if streamIndex >= uint32(len(r.dir.Streams)) {
		return nil, ErrInvalidStreamIndex
	}
	frags := r.dir.Streams[streamIndex]
	total := r.dir.StreamSize(streamIndex)
	out := make([]byte, 0, total)

	for _, f := range frags {
		chunk, err := r.fragmentBytes(f)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// fragmentBytes returns exactly f.Size uncompressed bytes for one fragment,
// reading a contiguous cross-chunk span when the fragment's region spills
// past its first chunk's length.
func (r *Reader) fragmentBytes(f Fragment) ([]byte, error) {
	if !f.Compressed {
		buf := make([]byte, f.Size)
		if _, err := r.data.ReadAt(buf, int64(f.FileOffset)); err != nil && err != io.EOF {
			return nil, fmt.Errorf("msfz: failed to read fragment at %d: %w", f.FileOffset, err)
		}
		return buf, nil
	}

	out := make([]byte, 0, f.Size)
	chunkIdx := f.FirstChunk
	localOffset := int(f.OffsetWithinChunk)

	for uint32(len(out)) < f.Size {
		if int(chunkIdx) >= len(r.chunks) {
			return nil, ErrInvalidChunkIndex
		}
		decompressed, err := r.decompressedChunk(chunkIdx)
		if err != nil {
			return nil, err
		}
		if localOffset > len(decompressed) {
			return nil, fmt.Errorf("%w: offset %d in chunk %d of size %d", ErrOutOfRange, localOffset, chunkIdx, len(decompressed))
		}
		avail := decompressed[localOffset:]
		need := int(f.Size) - len(out)
		if len(avail) > need {
			avail = avail[:need]
		}
		out = append(out, avail...)
		chunkIdx++
		localOffset = 0
	}
	return out, nil
}

// decompressedChunk returns the fully decompressed bytes of chunk index,
// decompressing it at most once even under concurrent callers.
func (r *Reader) decompressedChunk(index uint32) ([]byte, error) {
	r.cacheMu.Lock()
	if cached, ok := r.cache[index]; ok {
		r.cacheMu.Unlock()
		return cached, nil
	}
	r.cacheMu.Unlock()

	key := fmt.Sprintf("%d", index)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		c := r.chunks[index]
		compressed := make([]byte, c.CompressedSize)
		if c.CompressedSize > 0 {
			if _, err := r.data.ReadAt(compressed, int64(c.FileOffset)); err != nil && err != io.EOF {
				return nil, fmt.Errorf("msfz: failed to read chunk %d: %w", index, err)
			}
		}
		decompressed, err := r.decompressBlock(compressed, c.Compression, int(c.UncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("msfz: chunk %d: %w", index, err)
		}

		r.cacheMu.Lock()
		r.cache[index] = decompressed
		r.cacheMu.Unlock()
		return decompressed, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// decompressBlock decompresses one block (a chunk or the stream directory)
// entirely before returning, per the MSFZ atomic-chunk-read rule.
func (r *Reader) decompressBlock(compressed []byte, kind uint32, uncompressedSize int) ([]byte, error) {
	switch kind {
	case CompressionNone:
		return compressed, nil
	case CompressionZstd:
		dec, err := r.zstdDecoder()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	case CompressionDeflate:
		fr := flate.NewReader(bytes.NewReader(compressed))
		defer fr.Close()
		out := make([]byte, 0, uncompressedSize)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, fr); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCompression, kind)
	}
}

func (r *Reader) zstdDecoder() (*zstd.Decoder, error) {
	r.zstdOnce.Do(func() {
		r.zstdDec, r.zstdErr = zstd.NewReader(nil)
	})
	return r.zstdDec, r.zstdErr
}
