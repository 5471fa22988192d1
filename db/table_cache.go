package db

import (
	"shaledb"
	"shaledb/table"
	"shaledb/util"
)

// tableCache memoizes open table readers keyed by file number so repeated
// gets against the same file skip the open and index load.
type tableCache struct {
	env     shaledb.Env
	dbname  string
	options *shaledb.Options
	icmp    *internalKeyComparator
	cache   shaledb.Cache
}

func newTableCache(dbname string, options *shaledb.Options, icmp *internalKeyComparator, entries int) *tableCache {
	return &tableCache{
		env:     options.Env,
		dbname:  dbname,
		options: options,
		icmp:    icmp,
		cache:   shaledb.NewLRUCache(entries),
	}
}

type tableAndFile struct {
	file  shaledb.RandomAccessFile
	table *table.Table
}

func closeTableEntry(_ string, value interface{}) {
	tf := value.(*tableAndFile)
	tf.table.Close()
	tf.file.Close()
}

func (c *tableCache) findTable(fileNumber, fileSize, seqOff uint64) (*shaledb.Handle, error) {
	var keyBuf [8]byte
	util.EncodeFixed64(keyBuf[:], fileNumber)
	key := string(keyBuf[:])
	if handle := c.cache.Lookup(key); handle != nil {
		return handle, nil
	}
	fname := tableFileName(c.dbname, fileNumber)
	file, err := c.env.NewRandomAccessFile(fname)
	if err != nil {
		// Fall back to the legacy .sst suffix.
		if old, err1 := c.env.NewRandomAccessFile(sstTableFileName(c.dbname, fileNumber)); err1 == nil {
			file, err = old, nil
		}
	}
	if err != nil {
		return nil, err
	}
	t, err := table.Open(c.options, c.icmp, file, fileSize, seqOff)
	if err != nil {
		file.Close()
		return nil, err
	}
	return c.cache.Insert(key, &tableAndFile{file: file, table: t}, 1, closeTableEntry), nil
}

// get performs a point lookup through the cached table, invoking result
// with the entry the table search landed on.
func (c *tableCache) get(options *shaledb.ReadOptions, fileNumber, fileSize, seqOff uint64, k []byte, arg interface{}, result table.HandleResult) error {
	handle, err := c.findTable(fileNumber, fileSize, seqOff)
	if err != nil {
		return err
	}
	t := c.cache.Value(handle).(*tableAndFile).table
	err = t.InternalGet(options, k, arg, result)
	c.cache.Release(handle)
	return err
}

// newIterator returns an iterator over one table. When tablePtr is
// non-nil it receives the underlying reader, which stays valid for the
// iterator's lifetime.
func (c *tableCache) newIterator(options *shaledb.ReadOptions, fileNumber, fileSize, seqOff uint64, tablePtr **table.Table) shaledb.Iterator {
	if tablePtr != nil {
		*tablePtr = nil
	}
	handle, err := c.findTable(fileNumber, fileSize, seqOff)
	if err != nil {
		return shaledb.NewErrorIterator(err)
	}
	t := c.cache.Value(handle).(*tableAndFile).table
	iter := t.NewIterator(options)
	if ti, ok := iter.(interface{ RegisterCleanup(func()) }); ok {
		ti.RegisterCleanup(func() { c.cache.Release(handle) })
	} else {
		c.cache.Release(handle)
	}
	if tablePtr != nil {
		*tablePtr = t
	}
	return iter
}

func (c *tableCache) evict(fileNumber uint64) {
	var keyBuf [8]byte
	util.EncodeFixed64(keyBuf[:], fileNumber)
	c.cache.Erase(string(keyBuf[:]))
}

func (c *tableCache) close() {
	c.cache.Close()
}
