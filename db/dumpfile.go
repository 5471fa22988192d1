package db

import (
	"fmt"
	"strings"

	"shaledb"
	"shaledb/table"
	"shaledb/util"
)

func openTableForDump(options *shaledb.Options, file shaledb.RandomAccessFile, size uint64) (*table.Table, error) {
	return table.Open(options, newInternalKeyComparator(options.Comparator), file, size, 0)
}

func guessType(name string, ft *fileType) bool {
	base := name
	if pos := strings.LastIndexByte(name, '/'); pos >= 0 {
		base = name[pos+1:]
	}
	var ignored uint64
	return parseFileName(base, &ignored, ft)
}

type dumpCorruptionReporter struct {
	dst shaledb.WritableFile
}

func (r *dumpCorruptionReporter) corruption(n int, err error) {
	_ = r.dst.Append([]byte(fmt.Sprintf("corruption: %d bytes; %v\n", n, err)))
}

// printLogContents walks the records of a log-formatted file and hands
// each (offset, payload) to f.
func printLogContents(env shaledb.Env, name string, f func(pos uint64, record []byte, dst shaledb.WritableFile), dst shaledb.WritableFile) error {
	file, err := env.NewSequentialFile(name)
	if err != nil {
		return err
	}
	defer file.Close()
	reporter := &dumpCorruptionReporter{dst: dst}
	reader := newLogReader(file, reporter, true, 0)
	for {
		record, ok := reader.readRecord()
		if !ok {
			return nil
		}
		f(reader.lastRecordOffset, record, dst)
	}
}

func versionEditPrinter(pos uint64, record []byte, dst shaledb.WritableFile) {
	var out strings.Builder
	fmt.Fprintf(&out, "--- offset %d; ", pos)
	edit := newVersionEdit()
	if err := edit.decodeFrom(record); err != nil {
		fmt.Fprintf(&out, "%v\n", err)
	} else {
		out.WriteString(edit.debugString())
	}
	_ = dst.Append([]byte(out.String()))
}

func dumpDescriptor(env shaledb.Env, name string, dst shaledb.WritableFile) error {
	return printLogContents(env, name, versionEditPrinter, dst)
}

func dumpTable(env shaledb.Env, name string, dst shaledb.WritableFile) error {
	size, err := env.GetFileSize(name)
	if err != nil {
		return err
	}
	file, err := env.NewRandomAccessFile(name)
	if err != nil {
		return err
	}
	defer file.Close()
	options := shaledb.NewOptions()
	options.Env = env
	t, err := openTableForDump(options, file, size)
	if err != nil {
		return err
	}
	iter := t.NewIterator(shaledb.NewReadOptions())
	defer iter.Close()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		var out strings.Builder
		parsed := new(parsedInternalKey)
		if !parseInternalKey(iter.Key(), parsed) {
			fmt.Fprintf(&out, "badkey '%s' => '%s'\n",
				util.EscapeString(iter.Key()), util.EscapeString(iter.Value()))
		} else {
			fmt.Fprintf(&out, "'%s' @ %d : ", util.EscapeString(parsed.userKey), parsed.sequence)
			switch parsed.valueType {
			case shaledb.TypeDeletion:
				out.WriteString("del")
			case shaledb.TypeValue:
				out.WriteString("val")
			default:
				fmt.Fprintf(&out, "%d", int(parsed.valueType))
			}
			fmt.Fprintf(&out, " => '%s'\n", util.EscapeString(iter.Value()))
		}
		if err := dst.Append([]byte(out.String())); err != nil {
			return err
		}
	}
	return iter.Status()
}

// DumpFile writes a human-readable rendition of a descriptor or table
// file to dst.
func DumpFile(env shaledb.Env, name string, dst shaledb.WritableFile) error {
	var ft fileType
	if !guessType(name, &ft) {
		return util.InvalidArgumentError(name, "unknown file type")
	}
	switch ft {
	case descriptorFile:
		return dumpDescriptor(env, name, dst)
	case tableFile:
		return dumpTable(env, name, dst)
	default:
		return util.NotSupportedError(name, "file type not dumpable")
	}
}
