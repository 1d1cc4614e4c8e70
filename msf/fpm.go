package msf

import "fmt"

// FPM is a Free Page Map: one bit per page, 1 = free, 0 = busy. Every
// interval reserves its local pages 1 and 2 for the two FPM copies; which
// copy is authoritative is selected file-wide by SuperBlock.ActiveFPM.
type FPM struct {
	numPages uint32
	bits     []byte // numPages bits, LSB-first within each byte
}

// NewFPM creates an FPM of the given size with all pages marked busy.
func NewFPM(numPages uint32) *FPM {
	return &FPM{numPages: numPages, bits: make([]byte, ceilDiv(numPages, 8))}
}

// NewFPMAllFree creates an FPM of the given size with all pages marked free.
func NewFPMAllFree(numPages uint32) *FPM {
	f := &FPM{numPages: numPages, bits: make([]byte, ceilDiv(numPages, 8))}
	for i := range f.bits {
		f.bits[i] = 0xFF
	}
	return f
}

// IsFree reports whether page p is marked free.
func (f *FPM) IsFree(p uint32) bool {
	if p >= f.numPages {
		return false
	}
	return f.bits[p/8]&(1<<(p%8)) != 0
}

// SetFree marks page p free (1) or busy (0).
func (f *FPM) SetFree(p uint32, free bool) {
	if p >= f.numPages {
		return
	}
	if free {
		f.bits[p/8] |= 1 << (p % 8)
	} else {
		f.bits[p/8] &^= 1 << (p % 8)
	}
}

// Bytes returns the whole raw bitmap. The writer splits it into
// BlockSize-byte pieces, one per interval's reserved FPM page.
func (f *FPM) Bytes() []byte { return f.bits }

// ParseFPM decodes an FPM bitmap of numPages bits from raw page bytes.
func ParseFPM(data []byte, numPages uint32) (*FPM, error) {
	need := int(ceilDiv(numPages, 8))
	if len(data) < need {
		return nil, fmt.Errorf("msf: FPM data too short: need %d bytes, got %d", need, len(data))
	}
	f := &FPM{numPages: numPages, bits: make([]byte, need)}
	copy(f.bits, data[:need])
	return f, nil
}

// Allocator hands out free pages from an FPM in strictly increasing order,
// skipping pages reserved for the header, FPM slots, and (optionally) pages
// already claimed for the new Stream Directory this commit.
type Allocator struct {
	sb      *SuperBlock
	fpm     *FPM
	next    uint32
	claimed map[uint32]bool
}

// NewAllocator creates an Allocator that will hand out pages from fpm,
// skipping reserved pages, starting the scan at page 3 (page 0 is the
// header, pages 1-2 of interval 0 are the FPM slots).
func NewAllocator(sb *SuperBlock, fpm *FPM) *Allocator {
	return &Allocator{sb: sb, fpm: fpm, next: 3, claimed: make(map[uint32]bool)}
}

// Alloc returns the next free, non-reserved page and marks it busy/claimed.
// It grows NumBlocks (and the FPM) if the file must be extended.
func (a *Allocator) Alloc() uint32 {
	for {
		if a.next >= a.sb.NumBlocks {
			a.grow()
		}
		p := a.next
		a.next++
		if a.sb.IsReservedFPMPage(p) {
			continue
		}
		if a.claimed[p] {
			continue
		}
		if !a.fpm.IsFree(p) {
			continue
		}
		a.fpm.SetFree(p, false)
		a.claimed[p] = true
		return p
	}
}

func (a *Allocator) grow() {
	old := a.sb.NumBlocks
	a.sb.NumBlocks += a.sb.BlockSize // grow by a full interval's worth of pages
	grown := NewFPM(a.sb.NumBlocks)
	copy(grown.bits, a.fpm.bits)
	for p := old; p < a.sb.NumBlocks; p++ {
		grown.SetFree(p, true)
	}
	a.fpm = grown
}

// FPM returns the (possibly grown) free page map.
func (a *Allocator) FPM() *FPM { return a.fpm }
