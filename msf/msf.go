package msf

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// File represents an opened MSF container, safe for concurrent reads.
type File struct {
	data   io.ReaderAt
	closer io.Closer
	size   int64
	sb     *SuperBlock

	dirOnce sync.Once
	dir     *StreamDirectory
	dirErr  error
}

// Open opens an MSF container from a path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("msf: failed to open file: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("msf: failed to stat file: %w", err)
	}

	msfFile, err := NewFile(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	msfFile.closer = f
	return msfFile, nil
}

// NewFile creates an MSF container from an arbitrary io.ReaderAt, such as an
// in-memory buffer, a memory-mapped region, or a network-backed reader.
func NewFile(r io.ReaderAt, size int64) (*File, error) {
	if size < HeaderPrefixSize {
		return nil, ErrTruncatedFile
	}

	sb, err := ReadSuperBlock(r, size)
	if err != nil {
		return nil, err
	}

	if expected := sb.FileSize(); size < expected {
		return nil, fmt.Errorf("msf: file too small: got %d bytes, expected %d: %w", size, expected, ErrTruncatedFile)
	}

	return &File{data: r, size: size, sb: sb}, nil
}

// Close releases resources held by the File.
func (f *File) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

// SuperBlock returns the file's header.
func (f *File) SuperBlock() *SuperBlock { return f.sb }

// Directory lazily loads and returns the Stream Directory.
func (f *File) Directory() (*StreamDirectory, error) {
	f.dirOnce.Do(func() {
		dr := NewDirectoryReader(f.sb, f.data)
		f.dir, f.dirErr = dr.ReadDirectory()
	})
	return f.dir, f.dirErr
}

// NumStreams returns the number of streams in the container.
func (f *File) NumStreams() (uint32, error) {
	dir, err := f.Directory()
	if err != nil {
		return 0, err
	}
	return dir.NumStreams, nil
}

// StreamSize returns the size of streamIndex in bytes.
func (f *File) StreamSize(streamIndex uint32) (uint32, error) {
	dir, err := f.Directory()
	if err != nil {
		return 0, err
	}
	return dir.StreamSize(streamIndex), nil
}

// StreamExists reports whether streamIndex is present and non-nil.
func (f *File) StreamExists(streamIndex uint32) (bool, error) {
	dir, err := f.Directory()
	if err != nil {
		return false, err
	}
	return dir.StreamExists(streamIndex), nil
}

// OpenStream opens streamIndex for random/sequential access.
func (f *File) OpenStream(streamIndex uint32) (*Stream, error) {
	dir, err := f.Directory()
	if err != nil {
		return nil, err
	}
	if streamIndex >= dir.NumStreams {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStreamIndex, streamIndex)
	}
	size := dir.StreamSizes[streamIndex]
	if size == NilStreamSize {
		return nil, fmt.Errorf("msf: stream %d is nil", streamIndex)
	}
	blocks := dir.StreamBlocks[streamIndex]
	return NewStream(f.data, blocks, f.sb.BlockSize, size), nil
}

// ReadStream reads the whole of streamIndex into memory.
func (f *File) ReadStream(streamIndex uint32) ([]byte, error) {
	s, err := f.OpenStream(streamIndex)
	if err != nil {
		return nil, err
	}
	return s.Bytes()
}

// BlockSize returns the container's page size.
func (f *File) BlockSize() uint32 { return f.sb.BlockSize }

// FileSize returns the total container size in bytes.
func (f *File) FileSize() int64 { return f.size }

// NumBlocks returns the total page count.
func (f *File) NumBlocks() uint32 { return f.sb.NumBlocks }

// ActiveFPM reads and decodes the currently active Free Page Map.
func (f *File) ActiveFPM() (*FPM, error) {
	data, err := f.readFPMSlot(f.sb.ActiveFPM)
	if err != nil {
		return nil, err
	}
	return ParseFPM(data, f.sb.NumBlocks)
}

// readFPMSlot reads the raw bitmap bytes for FPM slot 1 or 2: the slot pages
// of successive intervals are concatenated into one bitmap, in which bit p
// describes page p.
func (f *File) readFPMSlot(slot uint32) ([]byte, error) {
	numIntervals := f.sb.IntervalCount()
	out := make([]byte, 0, numIntervals*f.sb.BlockSize)
	buf := make([]byte, f.sb.BlockSize)
	for interval := uint32(0); interval < numIntervals; interval++ {
		page := interval*f.sb.BlockSize + slot
		if _, err := f.data.ReadAt(buf, f.sb.BlockOffset(page)); err != nil && err != io.EOF {
			return nil, fmt.Errorf("msf: failed to read FPM slot %d page %d: %w", slot, page, err)
		}
		out = append(out, buf...)
	}
	return out, nil
}
