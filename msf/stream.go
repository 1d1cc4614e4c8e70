package msf

import (
	"fmt"
	"io"
)

// Stream provides random and sequential access across a stream's scattered
// pages. It implements io.Reader, io.Seeker, and io.ReaderAt.
type Stream struct {
	data       io.ReaderAt
	blocks     []uint32
	blockSize  uint32
	streamSize uint32
	pos        uint32
}

// NewStream creates a Stream reader over the given page list.
func NewStream(data io.ReaderAt, blocks []uint32, blockSize, streamSize uint32) *Stream {
	return &Stream{data: data, blocks: blocks, blockSize: blockSize, streamSize: streamSize}
}

// Read implements io.Reader, crossing page boundaries transparently.
func (s *Stream) Read(p []byte) (n int, err error) {
	if s.pos >= s.streamSize {
		return 0, io.EOF
	}
	remaining := s.streamSize - s.pos
	if uint32(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err = s.ReadAt(p, int64(s.pos))
	s.pos += uint32(n)
	return n, err
}

// ReadAt implements io.ReaderAt.
func (s *Stream) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("msf: negative offset: %d", off)
	}
	if off >= int64(s.streamSize) {
		return 0, io.EOF
	}

	pos := uint32(off)
	total := 0

	for len(p) > 0 && pos < s.streamSize {
		blockIndex := pos / s.blockSize
		blockOffset := pos % s.blockSize

		if int(blockIndex) >= len(s.blocks) {
			return total, io.EOF
		}

		fileOffset := int64(s.blocks[blockIndex])*int64(s.blockSize) + int64(blockOffset)

		blockRemaining := s.blockSize - blockOffset
		streamRemaining := s.streamSize - pos
		toRead := uint32(len(p))
		if toRead > blockRemaining {
			toRead = blockRemaining
		}
		if toRead > streamRemaining {
			toRead = streamRemaining
		}

		n, rerr := s.data.ReadAt(p[:toRead], fileOffset)
		total += n
		p = p[n:]
		pos += uint32(n)

		if rerr != nil {
			if rerr == io.EOF && total > 0 {
				break
			}
			return total, rerr
		}
	}

	return total, nil
}

// Seek implements io.Seeker.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = int64(s.pos) + offset
	case io.SeekEnd:
		newPos = int64(s.streamSize) + offset
	default:
		return 0, fmt.Errorf("msf: invalid seek whence: %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("msf: negative seek position: %d", newPos)
	}
	if newPos > int64(s.streamSize) {
		newPos = int64(s.streamSize)
	}
	s.pos = uint32(newPos)
	return newPos, nil
}

// Size returns the logical stream size in bytes.
func (s *Stream) Size() uint32 { return s.streamSize }

// Bytes reads the entire stream into memory.
func (s *Stream) Bytes() ([]byte, error) {
	data := make([]byte, s.streamSize)
	n, err := s.ReadAt(data, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return data[:n], nil
}
