package table

import "shaledb"

// BlockFunction converts an index entry's value into an iterator over the
// entries that index entry covers.
type BlockFunction func(arg interface{}, options *shaledb.ReadOptions, indexValue []byte) shaledb.Iterator

// NewTwoLevelIterator stitches an index iterator and a per-entry data
// iterator into a single sequence. The version set uses it to concatenate
// the files of one sorted level without opening them all up front.
func NewTwoLevelIterator(indexIter shaledb.Iterator, blockFunc BlockFunction, arg interface{}, options *shaledb.ReadOptions) shaledb.Iterator {
	return &twoLevelIterator{
		indexIter: indexIter,
		blockFunc: blockFunc,
		arg:       arg,
		options:   options,
	}
}

type twoLevelIterator struct {
	indexIter shaledb.Iterator
	blockFunc BlockFunction
	arg       interface{}
	options   *shaledb.ReadOptions

	dataIter shaledb.Iterator
	// dataBlockHandle remembers which index value dataIter came from so a
	// reseek over the same entry reuses it.
	dataBlockHandle []byte
	err             error
}

func (i *twoLevelIterator) Valid() bool {
	return i.dataIter != nil && i.dataIter.Valid()
}

func (i *twoLevelIterator) Seek(target []byte) {
	i.indexIter.Seek(target)
	i.initDataBlock()
	if i.dataIter != nil {
		i.dataIter.Seek(target)
	}
	i.skipEmptyDataBlocksForward()
}

func (i *twoLevelIterator) SeekToFirst() {
	i.indexIter.SeekToFirst()
	i.initDataBlock()
	if i.dataIter != nil {
		i.dataIter.SeekToFirst()
	}
	i.skipEmptyDataBlocksForward()
}

func (i *twoLevelIterator) SeekToLast() {
	i.indexIter.SeekToLast()
	i.initDataBlock()
	if i.dataIter != nil {
		i.dataIter.SeekToLast()
	}
	i.skipEmptyDataBlocksBackward()
}

func (i *twoLevelIterator) Next() {
	i.dataIter.Next()
	i.skipEmptyDataBlocksForward()
}

func (i *twoLevelIterator) Prev() {
	i.dataIter.Prev()
	i.skipEmptyDataBlocksBackward()
}

func (i *twoLevelIterator) skipEmptyDataBlocksForward() {
	for i.dataIter == nil || !i.dataIter.Valid() {
		if !i.indexIter.Valid() {
			i.setDataIterator(nil)
			return
		}
		i.indexIter.Next()
		i.initDataBlock()
		if i.dataIter != nil {
			i.dataIter.SeekToFirst()
		}
	}
}

func (i *twoLevelIterator) skipEmptyDataBlocksBackward() {
	for i.dataIter == nil || !i.dataIter.Valid() {
		if !i.indexIter.Valid() {
			i.setDataIterator(nil)
			return
		}
		i.indexIter.Prev()
		i.initDataBlock()
		if i.dataIter != nil {
			i.dataIter.SeekToLast()
		}
	}
}

func (i *twoLevelIterator) initDataBlock() {
	if !i.indexIter.Valid() {
		i.setDataIterator(nil)
		return
	}
	handle := i.indexIter.Value()
	if i.dataIter != nil && string(handle) == string(i.dataBlockHandle) {
		return
	}
	i.setDataIterator(i.blockFunc(i.arg, i.options, handle))
	i.dataBlockHandle = append(i.dataBlockHandle[:0], handle...)
}

func (i *twoLevelIterator) setDataIterator(iter shaledb.Iterator) {
	if i.dataIter != nil {
		if err := i.dataIter.Status(); err != nil && i.err == nil {
			i.err = err
		}
		i.dataIter.Close()
	}
	i.dataIter = iter
}

func (i *twoLevelIterator) Key() []byte   { return i.dataIter.Key() }
func (i *twoLevelIterator) Value() []byte { return i.dataIter.Value() }

func (i *twoLevelIterator) Status() error {
	if err := i.indexIter.Status(); err != nil {
		return err
	}
	if i.dataIter != nil {
		if err := i.dataIter.Status(); err != nil {
			return err
		}
	}
	return i.err
}

func (i *twoLevelIterator) Close() error {
	i.setDataIterator(nil)
	i.indexIter.Close()
	return i.err
}
