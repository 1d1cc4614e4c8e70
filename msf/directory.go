package msf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// NilStreamSize marks a deleted or nil stream.
const NilStreamSize uint32 = 0xFFFFFFFF

// Fixed stream indices, per spec.md §3.
const (
	StreamOldDirectory = 0
	StreamPDBInfo      = 1
	StreamTPI          = 2
	StreamDBI          = 3
	StreamIPI          = 4
)

var (
	ErrTruncatedDirectory   = errors.New("msf: truncated stream directory")
	ErrInvalidStreamIndex   = errors.New("msf: invalid stream index")
	ErrInvalidBlockIndex    = errors.New("msf: invalid page index")
	ErrDuplicatePage        = errors.New("msf: page assigned to more than one stream")
	ErrDirectoryBlockMapNil = errors.New("msf: directory page map is empty")
)

// StreamDirectory enumerates every stream's size and page list.
type StreamDirectory struct {
	NumStreams   uint32
	StreamSizes  []uint32
	StreamBlocks [][]uint32
}

// ParseDirectory decodes the Stream Directory from its concatenated bytes:
// num_streams, sizes[num_streams], then each stream's page list back to back.
func ParseDirectory(data []byte, blockSize uint32) (*StreamDirectory, error) {
	if len(data) < 4 {
		return nil, ErrTruncatedDirectory
	}

	dir := &StreamDirectory{}
	off := 0
	dir.NumStreams = binary.LittleEndian.Uint32(data[off:])
	off += 4

	sizesEnd := off + int(dir.NumStreams)*4
	if len(data) < sizesEnd {
		return nil, ErrTruncatedDirectory
	}
	dir.StreamSizes = make([]uint32, dir.NumStreams)
	for i := range dir.StreamSizes {
		dir.StreamSizes[i] = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}

	dir.StreamBlocks = make([][]uint32, dir.NumStreams)
	for i, size := range dir.StreamSizes {
		if size == NilStreamSize || size == 0 {
			continue
		}
		numBlocks := ceilDiv(size, blockSize)
		blocks := make([]uint32, numBlocks)
		for j := range blocks {
			if off+4 > len(data) {
				return nil, ErrTruncatedDirectory
			}
			blocks[j] = binary.LittleEndian.Uint32(data[off:])
			off += 4
		}
		dir.StreamBlocks[i] = blocks
	}

	return dir, nil
}

// Encode serializes the directory back to the on-disk byte layout.
func (d *StreamDirectory) Encode() []byte {
	total := 4 + len(d.StreamSizes)*4
	for _, blocks := range d.StreamBlocks {
		total += len(blocks) * 4
	}

	out := make([]byte, total)
	off := 0
	binary.LittleEndian.PutUint32(out[off:], d.NumStreams)
	off += 4
	for _, s := range d.StreamSizes {
		binary.LittleEndian.PutUint32(out[off:], s)
		off += 4
	}
	for _, blocks := range d.StreamBlocks {
		for _, b := range blocks {
			binary.LittleEndian.PutUint32(out[off:], b)
			off += 4
		}
	}
	return out
}

// StreamSize returns the size of streamIndex, or 0 if absent/nil.
func (d *StreamDirectory) StreamSize(streamIndex uint32) uint32 {
	if streamIndex >= d.NumStreams {
		return 0
	}
	size := d.StreamSizes[streamIndex]
	if size == NilStreamSize {
		return 0
	}
	return size
}

// StreamExists reports whether streamIndex is present and non-nil.
func (d *StreamDirectory) StreamExists(streamIndex uint32) bool {
	if streamIndex >= d.NumStreams {
		return false
	}
	return d.StreamSizes[streamIndex] != NilStreamSize
}

// GetStreamBlocks returns the page list for streamIndex.
func (d *StreamDirectory) GetStreamBlocks(streamIndex uint32) ([]uint32, error) {
	if streamIndex >= d.NumStreams {
		return nil, fmt.Errorf("%w: %d >= %d", ErrInvalidStreamIndex, streamIndex, d.NumStreams)
	}
	if d.StreamSizes[streamIndex] == NilStreamSize {
		return nil, nil
	}
	return d.StreamBlocks[streamIndex], nil
}

// ValidatePagePartition checks that no page is owned by more than one
// stream (spec.md §8 "page ownership is a partition").
func (d *StreamDirectory) ValidatePagePartition() error {
	seen := make(map[uint32]uint32)
	for i, blocks := range d.StreamBlocks {
		for _, p := range blocks {
			if owner, ok := seen[p]; ok {
				return fmt.Errorf("%w: page %d owned by streams %d and %d", ErrDuplicatePage, p, owner, i)
			}
			seen[p] = uint32(i)
		}
	}
	return nil
}

// DirectoryReader reads the Stream Directory through the 3-level page
// hierarchy described in spec.md §4.1: header inline array -> SD-map pages
// -> SD pages -> directory bytes.
type DirectoryReader struct {
	sb   *SuperBlock
	data io.ReaderAt
}

// NewDirectoryReader creates a DirectoryReader for sb backed by data.
func NewDirectoryReader(sb *SuperBlock, data io.ReaderAt) *DirectoryReader {
	return &DirectoryReader{sb: sb, data: data}
}

// ReadDirectory reads and parses the complete Stream Directory.
func (dr *DirectoryReader) ReadDirectory() (*StreamDirectory, error) {
	sdPages, err := dr.readSDPageNumbers()
	if err != nil {
		return nil, err
	}

	dirData, err := dr.readConcatenated(sdPages, dr.sb.NumDirectoryBytes)
	if err != nil {
		return nil, err
	}

	return ParseDirectory(dirData, dr.sb.BlockSize)
}

// readSDPageNumbers reads each SD-map page (named by the header's inline
// BigStreamPageMap) and concatenates their uint32 entries, truncated to the
// actual number of SD pages.
func (dr *DirectoryReader) readSDPageNumbers() ([]uint32, error) {
	if len(dr.sb.BigStreamPageMap) == 0 && dr.sb.NumDirectoryBytes > 0 {
		return nil, ErrDirectoryBlockMapNil
	}

	numSDPages := dr.sb.NumDirectoryBlocks()
	mapBytes, err := dr.readConcatenated(dr.sb.BigStreamPageMap, numSDPages*4)
	if err != nil {
		return nil, fmt.Errorf("msf: failed to read SD page map: %w", err)
	}

	pages := make([]uint32, numSDPages)
	for i := range pages {
		pages[i] = binary.LittleEndian.Uint32(mapBytes[i*4:])
	}
	return pages, nil
}

// readConcatenated reads `size` bytes spread across the given pages in
// order, the last page contributing only its partial remainder.
func (dr *DirectoryReader) readConcatenated(pages []uint32, size uint32) ([]byte, error) {
	out := make([]byte, size)
	remaining := size
	for i, p := range pages {
		if p >= dr.sb.NumBlocks {
			return nil, fmt.Errorf("%w: %d >= %d", ErrInvalidBlockIndex, p, dr.sb.NumBlocks)
		}
		toRead := dr.sb.BlockSize
		if toRead > remaining {
			toRead = remaining
		}
		if toRead == 0 {
			break
		}
		destOff := uint32(i) * dr.sb.BlockSize
		if _, err := dr.data.ReadAt(out[destOff:destOff+toRead], dr.sb.BlockOffset(p)); err != nil {
			return nil, fmt.Errorf("msf: failed to read page %d: %w", p, err)
		}
		remaining -= toRead
	}
	if remaining != 0 {
		return nil, ErrTruncatedDirectory
	}
	return out, nil
}
