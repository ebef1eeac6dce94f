package protocol

import "hash/crc32"

// CRC32Table is the pre-computed IEEE 802.3 polynomial table (0xEDB88320,
// reflected) used for all packet integrity checks.
var CRC32Table = crc32.MakeTable(crc32.IEEE)

// Checksum computes the CRC32 of payload bytes only; the header is never
// included, and the wire checksum is always recomputed on decode rather than
// trusted.
func Checksum(payload []byte) uint32 {
	crc := crc32.New(CRC32Table)
	crc.Write(payload)
	return crc.Sum32()
}
