package hashtab

import "fmt"

// HashFunc computes a bucket hash for a key.
type HashFunc func(key string) uint32

// Table is a minimal open-addressing probe sequence shared by the Named
// Stream Map and the /names stream: both linearly probe from
// hash(key) mod capacity, wrapping around, until they hit an empty slot or
// the key itself. They differ only in how "empty" and "deleted" are
// represented on disk (present/deleted bitmasks vs. a zero string offset
// sentinel), which callers encode themselves; Table only walks the
// probe sequence.
type Table struct {
	Capacity uint32
	Hash     HashFunc
}

// NewTable creates a probe-sequence walker over a table of the given
// capacity (bucket count), using hash as the seed hash function.
func NewTable(capacity uint32, hash HashFunc) *Table {
	return &Table{Capacity: capacity, Hash: hash}
}

// ErrTableFull is returned when Probe exhausts every slot without finding
// a match or a free slot, which should never happen in a well-formed table
// (capacity always exceeds occupancy).
var ErrTableFull = fmt.Errorf("hashtab: probe sequence exhausted without an empty slot")

// Probe walks the linear probe sequence starting at hash(key) mod capacity,
// calling isMatch(slot) and isEmpty(slot) for each candidate index until one
// of them returns true. It returns the slot index and whether it was a
// match (true) or an empty slot (false).
func (t *Table) Probe(key string, isMatch func(slot uint32) bool, isEmpty func(slot uint32) bool) (slot uint32, found bool, err error) {
	if t.Capacity == 0 {
		return 0, false, ErrTableFull
	}
	start := t.Hash(key) % t.Capacity
	for i := uint32(0); i < t.Capacity; i++ {
		slot = (start + i) % t.Capacity
		if isMatch(slot) {
			return slot, true, nil
		}
		if isEmpty(slot) {
			return slot, false, nil
		}
	}
	return 0, false, ErrTableFull
}
