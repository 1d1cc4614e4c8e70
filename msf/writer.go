package msf

import (
	"fmt"
)

// Build performs the MSF two-phase-commit write path described in spec.md
// §4.1: streams are assigned pages in strictly increasing order, the Stream
// Directory and its page-map hierarchy are laid out last among the data
// pages, the Free Page Map reflects the final allocation, and the header
// page -- the single-page commit point -- is always the last thing a real
// incremental writer would flush. Build assembles the whole image in memory
// and returns it; this package never mutates an existing file (spec.md §1
// Non-goals), so there is no partial-write state to observe, only the
// ordering discipline a streaming writer would need to honor.
//
// streams maps stream index -> content. Indices must be a dense range
// [0, N); nil entries indicate a nil stream (size 0xFFFFFFFF). Callers
// build dense slices via BuildStreams for convenience.
func Build(streams [][]byte) ([]byte, error) {
	const blockSize = BlockSize4096

	sb := &SuperBlock{BlockSize: blockSize, ActiveFPM: 1, NumBlocks: blockSize}
	copy(sb.FileMagic[:], Magic)

	fpm := NewFPMAllFree(sb.NumBlocks)
	alloc := NewAllocator(sb, fpm)

	dir := &StreamDirectory{
		NumStreams:   uint32(len(streams)),
		StreamSizes:  make([]uint32, len(streams)),
		StreamBlocks: make([][]uint32, len(streams)),
	}

	for i, content := range streams {
		if content == nil {
			dir.StreamSizes[i] = NilStreamSize
			continue
		}
		size := uint32(len(content))
		dir.StreamSizes[i] = size
		numPages := ceilDiv(size, blockSize)
		pages := make([]uint32, numPages)
		for j := range pages {
			pages[j] = alloc.Alloc()
		}
		dir.StreamBlocks[i] = pages
	}

	dirBytes := dir.Encode()
	sb.NumDirectoryBytes = uint32(len(dirBytes))

	sdPages := make([]uint32, ceilDiv(sb.NumDirectoryBytes, blockSize))
	for i := range sdPages {
		sdPages[i] = alloc.Alloc()
	}

	sdMapBytes := make([]byte, len(sdPages)*4)
	for i, p := range sdPages {
		putU32(sdMapBytes, i*4, p)
	}
	sdMapPages := make([]uint32, ceilDiv(uint32(len(sdMapBytes)), blockSize))
	for i := range sdMapPages {
		sdMapPages[i] = alloc.Alloc()
	}
	sb.BigStreamPageMap = sdMapPages

	sb = &SuperBlock{
		FileMagic:         sb.FileMagic,
		BlockSize:         sb.BlockSize,
		ActiveFPM:         1,
		NumBlocks:         alloc.sb.NumBlocks,
		NumDirectoryBytes: sb.NumDirectoryBytes,
		Unknown:           0,
		BigStreamPageMap:  sdMapPages,
	}

	if need := HeaderPrefixSize + len(sdMapPages)*4; need > int(blockSize) {
		return nil, fmt.Errorf("%w: %d stream-directory-map pages do not fit in one header page", ErrHeaderOverflow, len(sdMapPages))
	}

	file := make([]byte, int64(sb.NumBlocks)*int64(blockSize))

	for i, content := range streams {
		for j, page := range dir.StreamBlocks[i] {
			off := int64(page) * int64(blockSize)
			start := j * int(blockSize)
			end := start + int(blockSize)
			if end > len(content) {
				end = len(content)
			}
			copy(file[off:], content[start:end])
		}
	}

	for i, page := range sdPages {
		off := int64(page) * int64(blockSize)
		start := i * int(blockSize)
		end := start + int(blockSize)
		if end > len(dirBytes) {
			end = len(dirBytes)
		}
		copy(file[off:], dirBytes[start:end])
	}

	for i, page := range sdMapPages {
		off := int64(page) * int64(blockSize)
		start := i * int(blockSize)
		end := start + int(blockSize)
		if end > len(sdMapBytes) {
			end = len(sdMapBytes)
		}
		copy(file[off:], sdMapBytes[start:end])
	}

	// The header page and every interval's two FPM pages are in use too.
	final := alloc.FPM()
	for p := uint32(0); p < sb.NumBlocks; p++ {
		if p == 0 || sb.IsReservedFPMPage(p) {
			final.SetFree(p, false)
		}
	}
	writeFPMSlots(file, sb, final)

	headerPage := sb.EncodeHeaderPage()
	copy(file[0:blockSize], headerPage)

	return file, nil
}

// BuildStreams turns a sparse stream-index -> bytes map into the dense slice
// Build expects, filling any gap below the maximum index with nil (stream).
func BuildStreams(m map[uint32][]byte) [][]byte {
	if len(m) == 0 {
		return nil
	}
	maxIdx := uint32(0)
	for idx := range m {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	out := make([][]byte, maxIdx+1)
	for idx, data := range m {
		out[idx] = data
	}
	return out
}

// writeFPMSlots writes the active FPM (slot 1, real allocation state) and
// the inactive FPM (slot 2, fixed all-busy per the determinism rule) into
// every interval's reserved slot pages.
func writeFPMSlots(file []byte, sb *SuperBlock, fpm *FPM) {
	blockSize := sb.BlockSize
	bits := fpm.Bytes()
	numIntervals := sb.IntervalCount()

	allBusy := make([]byte, blockSize)

	for interval := uint32(0); interval < numIntervals; interval++ {
		chunkStart := interval * blockSize
		chunk := make([]byte, blockSize)
		for i := uint32(0); i < blockSize; i++ {
			srcIdx := chunkStart + i
			if int(srcIdx) < len(bits) {
				chunk[i] = bits[srcIdx]
			}
		}

		activePage := interval*blockSize + 1
		inactivePage := interval*blockSize + 2
		if sb.ActiveFPM == 2 {
			activePage, inactivePage = inactivePage, activePage
		}

		off1 := int64(activePage) * int64(blockSize)
		copy(file[off1:off1+int64(blockSize)], chunk)

		off2 := int64(inactivePage) * int64(blockSize)
		copy(file[off2:off2+int64(blockSize)], allBusy)
	}
}

func putU32(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}
