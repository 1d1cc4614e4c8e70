// Package hashtab provides the open-addressing primitives shared by the
// Named Stream Map (pdbi), the /names string table (names), and the Symbol
// Name Table bucket layer (symtab). See spec.md §9: "Implementers should
// share one open-addressing primitive across these three tables."
package hashtab

import "encoding/binary"

// LHashPbCb is the classic PDB string hash: fold the buffer in 4-byte
// little-endian groups (each OR-ed with 0x20 per byte, which lower-cases
// ASCII letters), XOR them together, then run a
// final avalanche. Used by the Named Stream Map, the /names stream, and GSI
// bucket assignment.
func LHashPbCb(s string) uint32 {
	var hash uint32
	b := []byte(s)

	for len(b) >= 4 {
		v := binary.LittleEndian.Uint32(b)
		hash ^= v | 0x20202020 // ascii-fold groups of 4 to lowercase via OR-mask
		b = b[4:]
	}

	if len(b) >= 2 {
		v := uint32(binary.LittleEndian.Uint16(b))
		hash ^= v | 0x20202020
		b = b[2:]
	}
	if len(b) == 1 {
		hash ^= uint32(b[0]) | 0x20202020
	}

	hash |= 0x20202020
	hash ^= hash >> 11
	hash ^= hash >> 16
	return hash
}

// CRC32 returns the standard IEEE CRC-32 of b, the hash TPI's secondary hash
// stream uses for non-UDT type records (spec.md §4.4.3).
func CRC32(b []byte) uint32 {
	return crc32IEEE(b)
}

// Bucket assigns key to one of numBuckets buckets via modulo reduction, the
// convention used throughout the PDB hash tables once a 32-bit hash has been
// computed.
func Bucket(hash uint32, numBuckets uint32) uint32 {
	if numBuckets == 0 {
		return 0
	}
	return hash % numBuckets
}
