package pdbi

import "github.com/pdbfmt/pdbfmt/hashtab"

// BuildNamedStreamMap constructs a normalized Named Stream Map from a
// name -> stream-index assignment, choosing a hash table size that keeps
// the load factor at or below 2/3 and placing every name via linear
// probing from LHashPbCb(name) mod hash_size.
func BuildNamedStreamMap(streams map[string]uint32) *NamedStreamMap {
	names := make([]string, 0, len(streams))
	for name := range streams {
		names = append(names, name)
	}

	hashSize := capacityFor(uint32(len(names)))

	var keysData []byte
	keyOffsets := make(map[string]uint32, len(names))
	for _, n := range names {
		keyOffsets[n] = uint32(len(keysData))
		keysData = append(keysData, []byte(n)...)
		keysData = append(keysData, 0)
	}

	present := make([]uint32, (hashSize+31)/32)
	slotEntry := make(map[uint32]NamedStreamEntry, len(names))

	for _, n := range names {
		start := hashtab.LHashPbCb(n) % hashSize
		for i := uint32(0); i < hashSize; i++ {
			slot := (start + i) % hashSize
			if _, occupied := slotEntry[slot]; !occupied {
				slotEntry[slot] = NamedStreamEntry{KeyOffset: keyOffsets[n], StreamIndex: streams[n]}
				present[slot/32] |= 1 << (slot % 32)
				break
			}
		}
	}

	entries := make([]NamedStreamEntry, 0, len(names))
	for slot := uint32(0); slot < hashSize; slot++ {
		if e, ok := slotEntry[slot]; ok {
			entries = append(entries, e)
		}
	}

	return &NamedStreamMap{
		KeysData:    keysData,
		HashSize:    hashSize,
		PresentMask: present,
		DeletedMask: make([]uint32, (hashSize+31)/32),
		HashEntries: entries,
	}
}

func capacityFor(n uint32) uint32 {
	capacity := uint32(8)
	for capacity*2 < n*3 {
		capacity *= 2
	}
	return capacity
}
