package table

import (
	"github.com/golang/snappy"

	"shaledb"
	"shaledb/util"
)

// Builder produces a table file from keys added in strictly increasing
// order under cmp.
type Builder struct {
	options *shaledb.Options
	cmp     shaledb.Comparator
	file    shaledb.WritableFile

	offset     uint64
	numEntries int
	err        error
	closed     bool

	block   []byte
	lastKey []byte
	index   []byte
}

func NewBuilder(options *shaledb.Options, cmp shaledb.Comparator, file shaledb.WritableFile) *Builder {
	return &Builder{options: options, cmp: cmp, file: file}
}

func (b *Builder) Add(key, value []byte) {
	if b.err != nil || b.closed {
		return
	}
	if b.numEntries > 0 && b.cmp.Compare(key, b.lastKey) <= 0 {
		b.err = util.InvalidArgumentError("keys added out of order")
		return
	}
	util.PutLengthPrefixedSlice(&b.block, key)
	util.PutLengthPrefixedSlice(&b.block, value)
	b.lastKey = append(b.lastKey[:0], key...)
	b.numEntries++
	if len(b.block) >= b.options.BlockSize {
		b.flushBlock()
	}
}

func (b *Builder) flushBlock() {
	if len(b.block) == 0 {
		return
	}
	handle, err := b.writeBlock(b.block)
	if err != nil {
		b.err = err
		return
	}
	util.PutLengthPrefixedSlice(&b.index, b.lastKey)
	util.PutVarint64(&b.index, handle.offset)
	util.PutVarint64(&b.index, handle.size)
	b.block = b.block[:0]
}

func (b *Builder) writeBlock(payload []byte) (blockHandle, error) {
	blockType := byte(blockTypeRaw)
	if b.options.CompressionType == shaledb.SnappyCompression {
		compressed := snappy.Encode(nil, payload)
		// Keep the raw payload when compression buys back too little.
		if len(compressed) < len(payload)-len(payload)/8 {
			payload = compressed
			blockType = blockTypeSnappy
		}
	}
	handle := blockHandle{offset: b.offset, size: uint64(len(payload))}
	trailer := make([]byte, 0, blockTrailerSize)
	trailer = append(trailer, blockType)
	crc := util.CRCExtend(util.CRCValue(payload), trailer[:1])
	util.PutFixed32(&trailer, crc)
	if err := b.file.Append(payload); err != nil {
		return handle, err
	}
	if err := b.file.Append(trailer); err != nil {
		return handle, err
	}
	b.offset += handle.size + blockTrailerSize
	return handle, nil
}

// Finish flushes the last data block, the index, and the footer. The file
// is not synced or closed; that is the caller's job.
func (b *Builder) Finish() error {
	if b.err != nil {
		return b.err
	}
	b.flushBlock()
	if b.err != nil {
		return b.err
	}
	b.closed = true
	indexHandle, err := b.writeBlock(b.index)
	if err != nil {
		b.err = err
		return err
	}
	var footer []byte
	encodeFooter(&footer, indexHandle)
	if err := b.file.Append(footer); err != nil {
		b.err = err
		return err
	}
	b.offset += footerSize
	return nil
}

// Abandon marks the builder unusable without writing a footer.
func (b *Builder) Abandon() {
	b.closed = true
}

func (b *Builder) NumEntries() int { return b.numEntries }

func (b *Builder) FileSize() uint64 { return b.offset }

func (b *Builder) Status() error { return b.err }
