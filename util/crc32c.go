package util

import "hash/crc32"

var crcTable = crc32.MakeTable(crc32.Castagnoli)

func CRCExtend(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crcTable, data)
}

func CRCValue(data []byte) uint32 {
	return CRCExtend(0, data)
}

const maskDelta = 0xa282ead8

// MaskCRC rotates and offsets the checksum so that computing the CRC of a
// string that already contains an embedded CRC does not degenerate.
func MaskCRC(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

func UnmaskCRC(masked uint32) uint32 {
	rot := masked - maskDelta
	return (rot >> 17) | (rot << 15)
}
