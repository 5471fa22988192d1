package table

import (
	"github.com/golang/snappy"

	"shaledb"
	"shaledb/util"
)

// A table file is a sequence of blocks followed by an index block and a
// fixed-size footer:
//
//	block      := payload  type(1B)  crc32c(4B)
//	data entry := varint(klen) key varint(vlen) value
//	index entry:= varint(len) lastKey varint(offset) varint(size)
//	footer     := indexOffset(8B) indexSize(8B) magic(8B)
//
// The crc covers payload plus the type byte. The index records, for every
// data block, the largest key it holds and its position.
const (
	blockTypeRaw    = 0
	blockTypeSnappy = 1

	blockTrailerSize = 5
	footerSize       = 24

	tableMagicNumber = 0x8b5ca1e7f53d6c02
)

type blockHandle struct {
	offset uint64
	size   uint64 // payload size, excluding the trailer
}

func encodeFooter(dst *[]byte, index blockHandle) {
	util.PutFixed64(dst, index.offset)
	util.PutFixed64(dst, index.size)
	util.PutFixed64(dst, tableMagicNumber)
}

func decodeFooter(buf []byte) (blockHandle, error) {
	if len(buf) != footerSize {
		return blockHandle{}, util.CorruptionError("truncated table footer")
	}
	if util.DecodeFixed64(buf[16:]) != tableMagicNumber {
		return blockHandle{}, util.CorruptionError("not a table file (bad magic number)")
	}
	return blockHandle{
		offset: util.DecodeFixed64(buf),
		size:   util.DecodeFixed64(buf[8:]),
	}, nil
}

// readBlock fetches and verifies one block, returning its decompressed
// payload.
func readBlock(file shaledb.RandomAccessFile, handle blockHandle, verifyChecksum bool) ([]byte, error) {
	raw := make([]byte, handle.size+blockTrailerSize)
	if _, err := file.ReadAt(raw, int64(handle.offset)); err != nil {
		return nil, err
	}
	payload := raw[:handle.size]
	trailer := raw[handle.size:]
	if verifyChecksum {
		expected := util.DecodeFixed32(trailer[1:])
		actual := util.CRCValue(raw[:handle.size+1])
		if expected != actual {
			return nil, util.CorruptionError("block checksum mismatch")
		}
	}
	switch trailer[0] {
	case blockTypeRaw:
		return payload, nil
	case blockTypeSnappy:
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, util.CorruptionError("corrupted compressed block", err.Error())
		}
		return decoded, nil
	default:
		return nil, util.CorruptionError("unknown block type")
	}
}

type blockEntry struct {
	key   []byte
	value []byte
}

func decodeBlockEntries(payload []byte) ([]blockEntry, error) {
	var entries []blockEntry
	input := payload
	for len(input) > 0 {
		var key, value []byte
		if !util.GetLengthPrefixedSlice(&input, &key) ||
			!util.GetLengthPrefixedSlice(&input, &value) {
			return nil, util.CorruptionError("bad entry in block")
		}
		entries = append(entries, blockEntry{key: key, value: value})
	}
	return entries, nil
}

type indexEntry struct {
	lastKey []byte
	handle  blockHandle
}

func decodeIndexEntries(payload []byte) ([]indexEntry, error) {
	var entries []indexEntry
	input := payload
	for len(input) > 0 {
		var lastKey []byte
		var offset, size uint64
		if !util.GetLengthPrefixedSlice(&input, &lastKey) ||
			!util.GetVarint64(&input, &offset) ||
			!util.GetVarint64(&input, &size) {
			return nil, util.CorruptionError("bad entry in index block")
		}
		entries = append(entries, indexEntry{
			lastKey: lastKey,
			handle:  blockHandle{offset: offset, size: size},
		})
	}
	return entries, nil
}
