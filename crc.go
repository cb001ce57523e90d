// SPDX-License-Identifier: MIT

package gvrs

import "hash/crc32"

// castagnoli is the CRC-32C table used for header and record
// checksums (polynomial 0x1EDC6F41).
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func crc32c(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}
