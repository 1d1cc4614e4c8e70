package names

// Builder accumulates distinct strings and produces a normalized V1 Table,
// used by the reference-graph builder (spec.md §4.6) when it needs to mint
// a fresh /names stream or add strings to an existing one.
type Builder struct {
	stringData []byte
	offsets    map[string]NameIndex
	order      []string // insertion order, for deterministic hash table construction
}

// NewBuilder creates a Builder whose string data starts with the reserved
// empty string at offset 0.
func NewBuilder() *Builder {
	return &Builder{
		stringData: []byte{0},
		offsets:    map[string]NameIndex{"": 0},
	}
}

// Insert appends s to the string table if not already present and returns
// its NameIndex.
func (b *Builder) Insert(s string) NameIndex {
	if idx, ok := b.offsets[s]; ok {
		return idx
	}
	idx := NameIndex(len(b.stringData))
	b.stringData = append(b.stringData, []byte(s)...)
	b.stringData = append(b.stringData, 0)
	b.offsets[s] = idx
	b.order = append(b.order, s)
	return idx
}

// Build constructs the final Table. The hash table is sized to the next
// capacity that keeps the load factor (non-empty names / num_hashes) at or
// below 2/3, matching the growth policy real PDB writers use.
func (b *Builder) Build() *Table {
	numNames := uint32(len(b.order))
	numHashes := hashCapacityFor(numNames)

	hashTable := make([]uint32, numHashes)
	for _, s := range b.order {
		idx := b.offsets[s]
		placeInTable(hashTable, numHashes, s, uint32(idx))
	}

	return &Table{
		Version:    V1,
		StringData: b.stringData,
		HashTable:  hashTable,
		NumNames:   numNames,
	}
}

func placeInTable(table []uint32, numHashes uint32, s string, idx uint32) {
	if numHashes == 0 {
		return
	}
	t := &Table{HashTable: table}
	start := t.hashString(s) % numHashes
	for i := uint32(0); i < numHashes; i++ {
		slot := (start + i) % numHashes
		if table[slot] == 0 {
			table[slot] = idx
			return
		}
	}
}

// hashCapacityFor returns the smallest power-of-two-ish capacity keeping
// load factor <= 2/3, with a floor matching scenario 4's num_hashes=8 for
// small tables.
func hashCapacityFor(numNames uint32) uint32 {
	capacity := uint32(8)
	for capacity*2 < numNames*3 {
		capacity *= 2
	}
	return capacity
}
