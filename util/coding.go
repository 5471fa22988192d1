package util

import "encoding/binary"

func DecodeFixed32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func EncodeFixed32(dst []byte, value uint32) {
	binary.LittleEndian.PutUint32(dst, value)
}

func DecodeFixed64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

func EncodeFixed64(dst []byte, value uint64) {
	binary.LittleEndian.PutUint64(dst, value)
}

func PutFixed32(dst *[]byte, value uint32) {
	var buf [4]byte
	EncodeFixed32(buf[:], value)
	*dst = append(*dst, buf[:]...)
}

func PutFixed64(dst *[]byte, value uint64) {
	var buf [8]byte
	EncodeFixed64(buf[:], value)
	*dst = append(*dst, buf[:]...)
}

func PutVarint32(dst *[]byte, v uint32) {
	*dst = binary.AppendUvarint(*dst, uint64(v))
}

func PutVarint64(dst *[]byte, v uint64) {
	*dst = binary.AppendUvarint(*dst, v)
}

func PutLengthPrefixedSlice(dst *[]byte, value []byte) {
	PutVarint32(dst, uint32(len(value)))
	*dst = append(*dst, value...)
}

func VarintLength(v uint64) int {
	l := 1
	for v >= 128 {
		v >>= 7
		l++
	}
	return l
}

// GetVarint32 parses a varint from the front of *input, advancing it.
// Returns false when the input is exhausted or malformed.
func GetVarint32(input *[]byte, value *uint32) bool {
	var v uint64
	if !GetVarint64(input, &v) || v > 0xffffffff {
		return false
	}
	*value = uint32(v)
	return true
}

func GetVarint64(input *[]byte, value *uint64) bool {
	v, n := binary.Uvarint(*input)
	if n <= 0 {
		return false
	}
	*value = v
	*input = (*input)[n:]
	return true
}

// GetLengthPrefixedSlice copies the prefixed bytes out of *input so the
// result stays valid after the caller reuses the input buffer.
func GetLengthPrefixedSlice(input *[]byte, result *[]byte) bool {
	var l uint32
	if !GetVarint32(input, &l) || len(*input) < int(l) {
		return false
	}
	*result = make([]byte, l)
	copy(*result, (*input)[:l])
	*input = (*input)[l:]
	return true
}
