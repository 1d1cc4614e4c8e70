package hashtab

import "hash/crc32"

// crc32IEEE is the plain IEEE CRC-32 used by TPI's secondary hash stream.
// There is no ecosystem library in the retrieval pack for the bare IEEE
// polynomial beyond what hash/crc32 already provides bit-for-bit, so this
// stays on the standard library.
func crc32IEEE(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}
