// Package pdbi implements the PDB Information Stream (stream 1): the
// version/signature/age/GUID header, the Named Stream Map, and the trailing
// feature-code list. See spec.md §4.4.1.
package pdbi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pdbfmt/pdbfmt/hashtab"
)

// Known header versions. VC70 and later carry a GUID.
const (
	VC2     uint32 = 19941610
	VC4     uint32 = 19950623
	VC41    uint32 = 19950814
	VC50    uint32 = 19960307
	VC98    uint32 = 19970604
	VC70Dep uint32 = 19990604
	VC70    uint32 = 20000404
	VC80    uint32 = 20030901
	VC110   uint32 = 20091201
	VC140   uint32 = 20140508
)

// Known feature codes (PDBI tail). Unknown codes round-trip unchanged.
const (
	FeatureNoTypeMerge      uint32 = 0x4D544F4E
	FeatureMinimalDebugInfo uint32 = 0x494E494D
)

var (
	ErrTruncated         = errors.New("pdbi: truncated stream")
	ErrUnsupportedVersion = errors.New("pdbi: unsupported header version")
	ErrNotFound          = errors.New("pdbi: named stream not found")
)

// GUID is a 16-byte globally unique identifier, stored verbatim.
type GUID [16]byte

// Info is the decoded PDB Information Stream.
type Info struct {
	Version      uint32
	Signature    uint32
	Age          uint32
	GUID         GUID
	NamedStreams *NamedStreamMap
	Features     []uint32
}

// Parse decodes the PDB Information Stream from its raw bytes.
func Parse(data []byte) (*Info, error) {
	if len(data) < 12 {
		return nil, ErrTruncated
	}
	info := &Info{}
	off := 0
	info.Version = binary.LittleEndian.Uint32(data[off:])
	off += 4
	info.Signature = binary.LittleEndian.Uint32(data[off:])
	off += 4
	info.Age = binary.LittleEndian.Uint32(data[off:])
	off += 4

	if info.Version >= VC70Dep {
		if off+16 > len(data) {
			return nil, ErrTruncated
		}
		copy(info.GUID[:], data[off:off+16])
		off += 16
	}

	nsm, consumed, err := parseNamedStreamMap(data[off:])
	if err != nil {
		return nil, err
	}
	info.NamedStreams = nsm
	off += consumed

	for off+4 <= len(data) {
		info.Features = append(info.Features, binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}

	return info, nil
}

// HasFeature reports whether code is present in the feature-code tail.
func (info *Info) HasFeature(code uint32) bool {
	for _, c := range info.Features {
		if c == code {
			return true
		}
	}
	return false
}

// Encode serializes Info back to its on-disk layout.
func (info *Info) Encode() []byte {
	var buf bytes.Buffer
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:], info.Version)
	binary.LittleEndian.PutUint32(hdr[4:], info.Signature)
	binary.LittleEndian.PutUint32(hdr[8:], info.Age)
	buf.Write(hdr[:])
	if info.Version >= VC70Dep {
		buf.Write(info.GUID[:])
	}
	buf.Write(info.NamedStreams.Encode())
	for _, f := range info.Features {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], f)
		buf.Write(b[:])
	}
	return buf.Bytes()
}

// NamedStreamMap is the open-addressed name -> stream-index table, with
// explicit present/deleted bitmasks, per spec.md §4.4.1.
type NamedStreamMap struct {
	KeysData     []byte
	HashSize     uint32
	PresentMask  []uint32
	DeletedMask  []uint32
	HashEntries  []NamedStreamEntry // ordered as the hash table dictates, not insertion order
}

// NamedStreamEntry is one occupied slot: a key offset into KeysData and the
// stream index it maps to.
type NamedStreamEntry struct {
	KeyOffset   uint32
	StreamIndex uint32
}

func parseNamedStreamMap(data []byte) (*NamedStreamMap, int, error) {
	if len(data) < 4 {
		return nil, 0, ErrTruncated
	}
	off := 0
	keysSize := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if off+int(keysSize) > len(data) {
		return nil, 0, ErrTruncated
	}
	keysData := append([]byte(nil), data[off:off+int(keysSize)]...)
	off += int(keysSize)

	need := func(n int) error {
		if off+n > len(data) {
			return ErrTruncated
		}
		return nil
	}

	if err := need(4); err != nil {
		return nil, 0, err
	}
	numNames := binary.LittleEndian.Uint32(data[off:])
	off += 4

	if err := need(4); err != nil {
		return nil, 0, err
	}
	hashSize := binary.LittleEndian.Uint32(data[off:])
	off += 4

	if err := need(4); err != nil {
		return nil, 0, err
	}
	presentMaskSize := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if err := need(int(presentMaskSize) * 4); err != nil {
		return nil, 0, err
	}
	presentMask := make([]uint32, presentMaskSize)
	for i := range presentMask {
		presentMask[i] = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}

	if err := need(4); err != nil {
		return nil, 0, err
	}
	deletedMaskSize := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if err := need(int(deletedMaskSize) * 4); err != nil {
		return nil, 0, err
	}
	deletedMask := make([]uint32, deletedMaskSize)
	for i := range deletedMask {
		deletedMask[i] = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}

	if err := need(int(numNames) * 8); err != nil {
		return nil, 0, err
	}
	entries := make([]NamedStreamEntry, numNames)
	for i := range entries {
		entries[i].KeyOffset = binary.LittleEndian.Uint32(data[off:])
		off += 4
		entries[i].StreamIndex = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}

	// Obsolete tail: num_name_index = 0.
	if err := need(4); err != nil {
		return nil, 0, err
	}
	off += 4

	return &NamedStreamMap{
		KeysData:    keysData,
		HashSize:    hashSize,
		PresentMask: presentMask,
		DeletedMask: deletedMask,
		HashEntries: entries,
	}, off, nil
}

func bitSet(mask []uint32, bit uint32) bool {
	word := bit / 32
	if int(word) >= len(mask) {
		return false
	}
	return mask[word]&(1<<(bit%32)) != 0
}

// Lookup probes the Named Stream Map for name, per spec.md §4.4.1: probe
// p = hash(name) mod hash_size; at each slot, present[p] means compare the
// stored key, deleted[p] means keep probing past a tombstone, and an empty
// non-deleted slot is a definitive miss. The probe halts if it wraps back
// to its start.
func (m *NamedStreamMap) Lookup(name string) (uint32, bool) {
	if m.HashSize == 0 {
		return 0, false
	}
	start := hashtab.LHashPbCb(name) % m.HashSize
	slotOf := make(map[uint32]*NamedStreamEntry, len(m.HashEntries))
	// Slots are keyed implicitly by probe position in the on-disk format;
	// entries are stored compactly in hash-table order, one per present
	// slot, so we must reconstruct slot assignment by re-walking presence.
	entryIdx := 0
	presentSlots := make([]uint32, 0, len(m.HashEntries))
	for p := uint32(0); p < m.HashSize; p++ {
		if bitSet(m.PresentMask, p) {
			presentSlots = append(presentSlots, p)
		}
	}
	for _, p := range presentSlots {
		if entryIdx >= len(m.HashEntries) {
			break
		}
		e := m.HashEntries[entryIdx]
		slotOf[p] = &e
		entryIdx++
	}

	for i := uint32(0); i < m.HashSize; i++ {
		p := (start + i) % m.HashSize
		if bitSet(m.PresentMask, p) {
			e := slotOf[p]
			if e != nil {
				if key, err := readKey(m.KeysData, e.KeyOffset); err == nil && key == name {
					return e.StreamIndex, true
				}
			}
			continue
		}
		if bitSet(m.DeletedMask, p) {
			continue
		}
		return 0, false
	}
	return 0, false
}

func readKey(keysData []byte, offset uint32) (string, error) {
	i := int(offset)
	if i < 0 || i >= len(keysData) {
		return "", fmt.Errorf("pdbi: bad key offset %d", offset)
	}
	end := i
	for end < len(keysData) && keysData[end] != 0 {
		end++
	}
	if end >= len(keysData) {
		return "", fmt.Errorf("pdbi: key at %d has no terminating NUL", offset)
	}
	return string(keysData[i:end]), nil
}

// Encode serializes the Named Stream Map back to its on-disk layout.
func (m *NamedStreamMap) Encode() []byte {
	var buf bytes.Buffer
	putU32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}

	putU32(uint32(len(m.KeysData)))
	buf.Write(m.KeysData)
	putU32(uint32(len(m.HashEntries)))
	putU32(m.HashSize)
	putU32(uint32(len(m.PresentMask)))
	for _, w := range m.PresentMask {
		putU32(w)
	}
	putU32(uint32(len(m.DeletedMask)))
	for _, w := range m.DeletedMask {
		putU32(w)
	}
	for _, e := range m.HashEntries {
		putU32(e.KeyOffset)
		putU32(e.StreamIndex)
	}
	putU32(0) // obsolete num_name_index

	return buf.Bytes()
}
