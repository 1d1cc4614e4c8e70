package msfz

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// BuildOptions controls how Build packs streams into chunks.
type BuildOptions struct {
	// Compression selects the algorithm used for both stream data chunks
	// and the stream directory itself. CompressionNone disables packing;
	// every stream is written as a single uncompressed fragment.
	Compression uint32

	// ChunkSize caps how many uncompressed bytes of stream data are
	// batched into one compression chunk. Zero means pack everything
	// destined for compression into a single chunk.
	ChunkSize int
}

// Build assembles a complete MSFZ container image from a dense stream-index
// slice (a nil entry means that stream has no fragments). Streams are
// concatenated into virtual chunk input in index order and sliced into
// chunks of at most opts.ChunkSize uncompressed bytes; each stream's
// fragment list records where its bytes ended up.
func Build(streams [][]byte, opts BuildOptions) ([]byte, error) {
	if _, ok := compressionName(opts.Compression); !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCompression, opts.Compression)
	}

	dir := &StreamDirectory{Streams: make([][]Fragment, len(streams))}

	var chunkEntries []ChunkEntry
	var chunkPayload []byte // accumulated file bytes for all chunks, written after the header+streams region

	if opts.Compression == CompressionNone {
		// Uncompressed layout: each stream's bytes are written verbatim,
		// one contiguous fragment per stream, back to back after the header.
		var dataRegion []byte
		fileBase := uint64(HeaderSize)
		for i, s := range streams {
			if s == nil {
				continue
			}
			dir.Streams[i] = []Fragment{{
				Size:       uint32(len(s)),
				Compressed: false,
				FileOffset: fileBase + uint64(len(dataRegion)),
			}}
			dataRegion = append(dataRegion, s...)
		}
		return assemble(dir, nil, dataRegion, opts.Compression)
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1 << 62 // effectively unbounded: one chunk
	}

	var pending []byte // bytes of the chunk currently accumulating, chunk index len(chunkEntries)

	flushChunk := func() error {
		if len(pending) == 0 {
			return nil
		}
		compressed, err := compressBlock(pending, opts.Compression)
		if err != nil {
			return err
		}
		chunkEntries = append(chunkEntries, ChunkEntry{
			FileOffset:       0, // filled in during final layout
			Compression:      opts.Compression,
			CompressedSize:   uint32(len(compressed)),
			UncompressedSize: uint32(len(pending)),
		})
		chunkPayload = append(chunkPayload, compressed...)
		pending = nil
		return nil
	}

	for i, s := range streams {
		if s == nil {
			continue
		}
		dir.Streams[i] = []Fragment{{
			Size:              uint32(len(s)),
			Compressed:        true,
			FirstChunk:        uint32(len(chunkEntries)),
			OffsetWithinChunk: uint32(len(pending)),
		}}
		pending = append(pending, s...)

		for len(pending) >= chunkSize {
			cut := pending[:chunkSize]
			rest := append([]byte(nil), pending[chunkSize:]...)
			pending = cut
			if err := flushChunk(); err != nil {
				return nil, err
			}
			pending = rest
		}
	}
	if err := flushChunk(); err != nil {
		return nil, err
	}

	return assemble(dir, chunkEntries, chunkPayload, opts.Compression)
}

// assemble lays out the final file: header, chunk table, chunk payload,
// stream directory (possibly compressed), in that order. Offsets recorded
// in chunkEntries and the header are computed here, last, once every
// region's length is known.
func assemble(dir *StreamDirectory, chunkEntries []ChunkEntry, chunkPayload []byte, dirCompression uint32) ([]byte, error) {
	chunkTableOffset := uint64(HeaderSize)

	dataOffset := chunkTableOffset + uint64(len(chunkEntries)*ChunkTableEntrySize)
	offset := dataOffset
	for i := range chunkEntries {
		chunkEntries[i].FileOffset = offset
		offset += uint64(chunkEntries[i].CompressedSize)
	}
	chunkTableBytes := EncodeChunkTable(chunkEntries)

	dirUncompressed := dir.Encode()
	dirCompressed, err := compressBlock(dirUncompressed, dirCompression)
	if err != nil {
		return nil, err
	}

	// Uncompressed-stream layout (assemble called from the opts.Compression
	// == CompressionNone branch) has no chunk table, so the data region
	// runs from dataOffset for len(chunkPayload) bytes; the compressed-chunk
	// layout instead already advanced offset past every chunk above.
	streamDirOffset := offset
	if len(chunkEntries) == 0 {
		streamDirOffset = dataOffset + uint64(len(chunkPayload))
	}

	h := &Header{
		Version:                   Version,
		StreamDirOffset:           streamDirOffset,
		ChunkTableOffset:          chunkTableOffset,
		NumStreams:                uint32(len(dir.Streams)),
		StreamDirCompression:      dirCompression,
		StreamDirSizeCompressed:   uint32(len(dirCompressed)),
		StreamDirSizeUncompressed: uint32(len(dirUncompressed)),
		NumChunks:                 uint32(len(chunkEntries)),
		ChunkTableSize:            uint32(len(chunkTableBytes)),
	}

	out := make([]byte, 0, HeaderSize+len(chunkTableBytes)+len(chunkPayload)+len(dirCompressed))
	out = append(out, h.Encode()...)
	out = append(out, chunkTableBytes...)
	out = append(out, chunkPayload...)
	out = append(out, dirCompressed...)
	return out, nil
}

func compressBlock(data []byte, kind uint32) ([]byte, error) {
	switch kind {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case CompressionDeflate:
		var buf bytes.Buffer
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, err
		}
		if err := fw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCompression, kind)
	}
}
