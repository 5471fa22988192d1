package table

import (
	"sort"

	"shaledb"
	"shaledb/util"
)

// HandleResult receives the entry found by InternalGet.
type HandleResult func(arg interface{}, key, value []byte) error

// Table is an immutable, sorted map from keys to values backed by one
// on-disk file. Safe for concurrent use.
type Table struct {
	options *shaledb.Options
	cmp     shaledb.Comparator
	file    shaledb.RandomAccessFile
	seqOff  uint64
	index   []indexEntry
}

// Open reads the footer and index of a table file. The keys it serves have
// their sequence numbers shifted up by seqOff, the base assigned when the
// table was ingested.
func Open(options *shaledb.Options, cmp shaledb.Comparator, file shaledb.RandomAccessFile, size, seqOff uint64) (*Table, error) {
	if size < footerSize {
		return nil, util.CorruptionError("file is too short to be a table")
	}
	footer := make([]byte, footerSize)
	if _, err := file.ReadAt(footer, int64(size-footerSize)); err != nil {
		return nil, err
	}
	indexHandle, err := decodeFooter(footer)
	if err != nil {
		return nil, err
	}
	payload, err := readBlock(file, indexHandle, true)
	if err != nil {
		return nil, err
	}
	index, err := decodeIndexEntries(payload)
	if err != nil {
		return nil, err
	}
	t := &Table{options: options, cmp: cmp, file: file, seqOff: seqOff, index: index}
	if seqOff != 0 {
		for i := range t.index {
			t.index[i].lastKey = rebaseKey(t.index[i].lastKey, seqOff)
		}
	}
	return t, nil
}

// rebaseKey shifts the sequence number in an internal key's trailer. The
// shift is order-preserving: user keys are untouched and all sequences in
// one table move by the same amount.
func rebaseKey(key []byte, seqOff uint64) []byte {
	if len(key) < 8 {
		return key
	}
	out := make([]byte, len(key))
	copy(out, key)
	trailer := util.DecodeFixed64(out[len(out)-8:])
	trailer += seqOff << 8
	util.EncodeFixed64(out[len(out)-8:], trailer)
	return out
}

func (t *Table) loadEntries(handle blockHandle, verify bool) ([]blockEntry, error) {
	payload, err := readBlock(t.file, handle, verify)
	if err != nil {
		return nil, err
	}
	entries, err := decodeBlockEntries(payload)
	if err != nil {
		return nil, err
	}
	if t.seqOff != 0 {
		for i := range entries {
			entries[i].key = rebaseKey(entries[i].key, t.seqOff)
		}
	}
	return entries, nil
}

// blockFor returns the index of the first block whose lastKey >= key, or
// len(index) when key is past every block.
func (t *Table) blockFor(key []byte) int {
	return sort.Search(len(t.index), func(i int) bool {
		return t.cmp.Compare(t.index[i].lastKey, key) >= 0
	})
}

// InternalGet locates the first entry with key >= k and hands it to
// result. Entries before k in the same block are skipped; a missing entry
// is not an error, result simply never fires.
func (t *Table) InternalGet(options *shaledb.ReadOptions, k []byte, arg interface{}, result HandleResult) error {
	bi := t.blockFor(k)
	if bi >= len(t.index) {
		return nil
	}
	verify := options != nil && options.VerifyChecksums || t.options.ParanoidChecks
	entries, err := t.loadEntries(t.index[bi].handle, verify)
	if err != nil {
		return err
	}
	i := sort.Search(len(entries), func(i int) bool {
		return t.cmp.Compare(entries[i].key, k) >= 0
	})
	if i >= len(entries) {
		return nil
	}
	return result(arg, entries[i].key, entries[i].value)
}

// ApproximateOffsetOf returns a byte offset near where key would live in
// the file.
func (t *Table) ApproximateOffsetOf(key []byte) uint64 {
	bi := t.blockFor(key)
	if bi >= len(t.index) {
		if n := len(t.index); n > 0 {
			last := t.index[n-1].handle
			return last.offset + last.size + blockTrailerSize
		}
		return 0
	}
	return t.index[bi].handle.offset
}

func (t *Table) NewIterator(options *shaledb.ReadOptions) shaledb.Iterator {
	verify := options != nil && options.VerifyChecksums || t.options.ParanoidChecks
	return &tableIterator{table: t, verify: verify, block: -1}
}

func (t *Table) Close() error { return nil }

type tableIterator struct {
	table   *Table
	verify  bool
	block   int // index into table.index, -1 when invalid
	entries []blockEntry
	pos     int
	err     error
	cleanup func()
}

func (i *tableIterator) loadBlock(bi int) bool {
	if bi < 0 || bi >= len(i.table.index) {
		i.block = -1
		i.entries = nil
		return false
	}
	entries, err := i.table.loadEntries(i.table.index[bi].handle, i.verify)
	if err != nil {
		i.err = err
		i.block = -1
		i.entries = nil
		return false
	}
	i.block = bi
	i.entries = entries
	return true
}

func (i *tableIterator) Valid() bool {
	return i.block >= 0 && i.pos >= 0 && i.pos < len(i.entries)
}

func (i *tableIterator) SeekToFirst() {
	if i.loadBlock(0) {
		i.pos = 0
		i.skipForwardEmpty()
	}
}

func (i *tableIterator) SeekToLast() {
	if i.loadBlock(len(i.table.index) - 1) {
		i.pos = len(i.entries) - 1
	}
}

func (i *tableIterator) Seek(target []byte) {
	bi := i.table.blockFor(target)
	if !i.loadBlock(bi) {
		return
	}
	i.pos = sort.Search(len(i.entries), func(j int) bool {
		return i.table.cmp.Compare(i.entries[j].key, target) >= 0
	})
	i.skipForwardEmpty()
}

func (i *tableIterator) Next() {
	if !i.Valid() {
		panic("table iterator: Next on invalid iterator")
	}
	i.pos++
	i.skipForwardEmpty()
}

func (i *tableIterator) Prev() {
	if !i.Valid() {
		panic("table iterator: Prev on invalid iterator")
	}
	i.pos--
	for i.pos < 0 {
		if !i.loadBlock(i.block - 1) {
			return
		}
		i.pos = len(i.entries) - 1
	}
}

// skipForwardEmpty advances into the next block when the position ran off
// the end of the current one.
func (i *tableIterator) skipForwardEmpty() {
	for i.block >= 0 && i.pos >= len(i.entries) {
		if !i.loadBlock(i.block + 1) {
			return
		}
		i.pos = 0
	}
}

func (i *tableIterator) Key() []byte {
	if !i.Valid() {
		panic("table iterator: Key on invalid iterator")
	}
	return i.entries[i.pos].key
}

func (i *tableIterator) Value() []byte {
	if !i.Valid() {
		panic("table iterator: Value on invalid iterator")
	}
	return i.entries[i.pos].value
}

func (i *tableIterator) Status() error { return i.err }

// RegisterCleanup arranges for fn to run when the iterator is closed; the
// table cache uses this to release its pin on the table.
func (i *tableIterator) RegisterCleanup(fn func()) {
	i.cleanup = fn
}

func (i *tableIterator) Close() error {
	if i.cleanup != nil {
		i.cleanup()
		i.cleanup = nil
	}
	return i.err
}
