// Package msf implements the MSF ("Multi-Stream File", a.k.a. "Big MSF")
// container format: an ordered set of numbered streams stored as scattered
// fixed-size pages, with a dual Free Page Map enabling two-phase commit
// writes. See spec.md §4.1 for the on-disk layout this package implements.
package msf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic is the 32-byte Big MSF file signature.
const Magic = "Microsoft C/C++ MSF 7.00\r\n\x1a\x44\x53\x00\x00\x00"

// MagicSize is the length of Magic in bytes.
const MagicSize = 32

// HeaderPrefixSize is the fixed portion of the header preceding the
// variable-length BigStreamPageMap array: magic(32) + page_size(4) +
// active_fpm(4) + num_pages(4) + stream_dir_size(4) + unknown(4) = 52.
const HeaderPrefixSize = 52

// Valid page sizes. Page size must be a power of two in this range;
// this package's writer always chooses BlockSize4096.
const (
	BlockSizeMin   uint32 = 512
	BlockSize512   uint32 = 512
	BlockSize1024  uint32 = 1024
	BlockSize2048  uint32 = 2048
	BlockSize4096  uint32 = 4096
	BlockSize8192  uint32 = 8192
	BlockSize16384 uint32 = 16384
	BlockSize32768 uint32 = 32768
	BlockSizeMax   uint32 = 65536
)

var (
	ErrInvalidMagic     = errors.New("msf: invalid magic signature, not a valid MSF/PDB file")
	ErrInvalidBlockSize = errors.New("msf: invalid page size")
	ErrInvalidFPMBlock  = errors.New("msf: invalid free page map slot index")
	ErrTruncatedFile    = errors.New("msf: file is truncated")
	ErrHeaderOverflow   = errors.New("msf: stream directory page map does not fit in the header page")
)

// SuperBlock is located at file offset 0 (page 0 of interval 0) and
// describes the file's page-based layout and the location of the Stream
// Directory.
type SuperBlock struct {
	FileMagic [MagicSize]byte

	// BlockSize is the page size for the whole file.
	BlockSize uint32

	// ActiveFPM (historically FreeBlockMapBlock) is 1 or 2: which of the
	// two reserved per-interval FPM slots is currently active.
	ActiveFPM uint32

	// NumBlocks is the total page count; NumBlocks*BlockSize == file size.
	NumBlocks uint32

	// NumDirectoryBytes is the byte length of the Stream Directory.
	NumDirectoryBytes uint32

	// Unknown is reserved, always 0.
	Unknown uint32

	// BigStreamPageMap holds the page numbers of the SD-map pages: the
	// second level of the 3-level hierarchy (header -> SD-map pages -> SD
	// pages -> Stream Directory bytes). Each SD-map page in turn holds page
	// numbers of SD pages.
	BigStreamPageMap []uint32
}

// NumDirectoryBlocks returns how many pages the Stream Directory occupies.
func (sb *SuperBlock) NumDirectoryBlocks() uint32 {
	return ceilDiv(sb.NumDirectoryBytes, sb.BlockSize)
}

// NumDirectoryMapBlocks returns how many pages are needed to hold the array
// of Stream Directory page numbers (the second hierarchy level).
func (sb *SuperBlock) NumDirectoryMapBlocks() uint32 {
	return ceilDiv(sb.NumDirectoryBlocks()*4, sb.BlockSize)
}

// FileSize returns the expected total file size.
func (sb *SuperBlock) FileSize() int64 {
	return int64(sb.NumBlocks) * int64(sb.BlockSize)
}

// BlockOffset returns the file byte offset of page p.
func (sb *SuperBlock) BlockOffset(p uint32) int64 {
	return int64(p) * int64(sb.BlockSize)
}

// IsReservedFPMPage reports whether page p is one of the two FPM slots
// reserved in every interval (local page 1 or 2 within the interval).
func (sb *SuperBlock) IsReservedFPMPage(p uint32) bool {
	local := p % sb.BlockSize
	return local == 1 || local == 2
}

// IntervalCount returns the number of page_size-sized intervals in the file.
func (sb *SuperBlock) IntervalCount() uint32 {
	return ceilDiv(sb.NumBlocks, sb.BlockSize)
}

func ceilDiv(n, d uint32) uint32 {
	if d == 0 {
		return 0
	}
	return (n + d - 1) / d
}

// ReadSuperBlockFrom reads and validates a SuperBlock given the whole page-0
// bytes (exactly BlockSize bytes, so the inline BigStreamPageMap can be
// sized correctly once BlockSize and NumDirectoryBytes are known).
func ReadSuperBlockFrom(page0 []byte) (*SuperBlock, error) {
	if len(page0) < HeaderPrefixSize {
		return nil, ErrTruncatedFile
	}

	sb := &SuperBlock{}
	copy(sb.FileMagic[:], page0[:MagicSize])
	sb.BlockSize = binary.LittleEndian.Uint32(page0[32:])
	sb.ActiveFPM = binary.LittleEndian.Uint32(page0[36:])
	sb.NumBlocks = binary.LittleEndian.Uint32(page0[40:])
	sb.NumDirectoryBytes = binary.LittleEndian.Uint32(page0[44:])
	sb.Unknown = binary.LittleEndian.Uint32(page0[48:])

	if err := sb.validateHeaderFields(); err != nil {
		return nil, err
	}

	numMapPages := sb.NumDirectoryMapBlocks()
	need := HeaderPrefixSize + int(numMapPages)*4
	if need > len(page0) {
		return nil, fmt.Errorf("%w: need %d bytes, page is %d", ErrHeaderOverflow, need, len(page0))
	}

	sb.BigStreamPageMap = make([]uint32, numMapPages)
	for i := uint32(0); i < numMapPages; i++ {
		sb.BigStreamPageMap[i] = binary.LittleEndian.Uint32(page0[HeaderPrefixSize+int(i)*4:])
	}

	return sb, nil
}

// ReadSuperBlock reads the SuperBlock from r, which must be positioned at
// file offset 0. It reads exactly one page's worth of bytes once the page
// size is known (it peeks the fixed prefix first).
func ReadSuperBlock(r io.ReaderAt, fileSize int64) (*SuperBlock, error) {
	prefix := make([]byte, HeaderPrefixSize)
	if _, err := r.ReadAt(prefix, 0); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrTruncatedFile
		}
		return nil, fmt.Errorf("msf: failed to read superblock prefix: %w", err)
	}
	blockSize := binary.LittleEndian.Uint32(prefix[32:])
	if blockSize < BlockSizeMin || blockSize > BlockSizeMax || blockSize&(blockSize-1) != 0 {
		return nil, ErrInvalidBlockSize
	}
	if int64(blockSize) > fileSize {
		return nil, ErrTruncatedFile
	}

	page0 := make([]byte, blockSize)
	if _, err := r.ReadAt(page0, 0); err != nil {
		return nil, fmt.Errorf("msf: failed to read header page: %w", err)
	}

	return ReadSuperBlockFrom(page0)
}

func (sb *SuperBlock) validateHeaderFields() error {
	if string(sb.FileMagic[:]) != Magic {
		return ErrInvalidMagic
	}
	if sb.BlockSize < BlockSizeMin || sb.BlockSize > BlockSizeMax {
		return ErrInvalidBlockSize
	}
	if sb.BlockSize&(sb.BlockSize-1) != 0 {
		return ErrInvalidBlockSize
	}
	if sb.ActiveFPM != 1 && sb.ActiveFPM != 2 {
		return ErrInvalidFPMBlock
	}
	return nil
}

// Validate re-checks internal consistency; exported for callers holding a
// SuperBlock built outside ReadSuperBlock (e.g. the writer).
func (sb *SuperBlock) Validate() error {
	return sb.validateHeaderFields()
}

// EncodeHeaderPage serializes the SuperBlock as a full page-0 image
// (BlockSize bytes, zero padded).
func (sb *SuperBlock) EncodeHeaderPage() []byte {
	page := make([]byte, sb.BlockSize)
	copy(page[:MagicSize], sb.FileMagic[:])
	binary.LittleEndian.PutUint32(page[32:], sb.BlockSize)
	binary.LittleEndian.PutUint32(page[36:], sb.ActiveFPM)
	binary.LittleEndian.PutUint32(page[40:], sb.NumBlocks)
	binary.LittleEndian.PutUint32(page[44:], sb.NumDirectoryBytes)
	binary.LittleEndian.PutUint32(page[48:], sb.Unknown)
	for i, p := range sb.BigStreamPageMap {
		binary.LittleEndian.PutUint32(page[HeaderPrefixSize+i*4:], p)
	}
	return page
}
