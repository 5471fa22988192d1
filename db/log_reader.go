package db

import (
	"fmt"

	"shaledb"
	"shaledb/util"
)

// Sentinel results of readPhysicalRecord beyond the real record types.
const (
	readerEOF = maxRecordType + 1 + iota
	readerBadRecord
)

// reporter receives notice of dropped or corrupted log bytes.
type reporter interface {
	corruption(bytes int, err error)
}

type logReader struct {
	file     shaledb.SequentialFile
	rep      reporter
	checksum bool

	buffer            []byte
	eof               bool
	lastRecordOffset  uint64
	endOfBufferOffset uint64
	initialOffset     uint64
	resyncing         bool
}

func newLogReader(file shaledb.SequentialFile, rep reporter, checksum bool, initialOffset uint64) *logReader {
	return &logReader{
		file:          file,
		rep:           rep,
		checksum:      checksum,
		initialOffset: initialOffset,
		resyncing:     initialOffset > 0,
	}
}

// readRecord returns the next logical record, reassembling fragments.
// ok is false at end of input.
func (r *logReader) readRecord() (record []byte, ok bool) {
	if r.lastRecordOffset < r.initialOffset {
		if !r.skipToInitialBlock() {
			return nil, false
		}
	}

	inFragmentedRecord := false
	var prospectiveRecordOffset uint64
	for {
		fragment, rt := r.readPhysicalRecord()
		physicalRecordOffset := r.endOfBufferOffset - uint64(len(r.buffer)) - logHeaderSize - uint64(len(fragment))
		if r.resyncing {
			switch rt {
			case middleType:
				continue
			case lastType:
				r.resyncing = false
				continue
			default:
				r.resyncing = false
			}
		}

		switch rt {
		case fullType:
			if inFragmentedRecord && len(record) > 0 {
				r.reportCorruption(len(record), "partial record without end(1)")
			}
			r.lastRecordOffset = physicalRecordOffset
			return fragment, true
		case firstType:
			if inFragmentedRecord && len(record) > 0 {
				r.reportCorruption(len(record), "partial record without end(2)")
			}
			prospectiveRecordOffset = physicalRecordOffset
			record = append(record[:0], fragment...)
			inFragmentedRecord = true
		case middleType:
			if !inFragmentedRecord {
				r.reportCorruption(len(fragment), "missing start of fragmented record(1)")
			} else {
				record = append(record, fragment...)
			}
		case lastType:
			if !inFragmentedRecord {
				r.reportCorruption(len(fragment), "missing start of fragmented record(2)")
			} else {
				record = append(record, fragment...)
				r.lastRecordOffset = prospectiveRecordOffset
				return record, true
			}
		case readerEOF:
			// A writer dying mid-record leaves a dangling prefix; drop it
			// silently rather than reporting corruption.
			return nil, false
		case readerBadRecord:
			if inFragmentedRecord {
				r.reportCorruption(len(record), "error in middle of record")
				inFragmentedRecord = false
				record = nil
			}
		default:
			n := len(fragment)
			if inFragmentedRecord {
				n += len(record)
			}
			r.reportCorruption(n, fmt.Sprintf("unknown record type %d", rt))
			inFragmentedRecord = false
			record = nil
		}
	}
}

func (r *logReader) skipToInitialBlock() bool {
	offsetInBlock := r.initialOffset % logBlockSize
	blockStartLocation := r.initialOffset - offsetInBlock
	if offsetInBlock > logBlockSize-6 {
		blockStartLocation += logBlockSize
	}
	r.endOfBufferOffset = blockStartLocation
	if blockStartLocation > 0 {
		if err := r.file.Skip(blockStartLocation); err != nil {
			r.reportDrop(int(blockStartLocation), err)
			return false
		}
	}
	return true
}

func (r *logReader) readPhysicalRecord() ([]byte, recordType) {
	for {
		if len(r.buffer) < logHeaderSize {
			if !r.eof {
				buf := make([]byte, logBlockSize)
				n, err := r.file.Read(buf)
				r.endOfBufferOffset += uint64(n)
				if err != nil {
					r.buffer = nil
					r.reportDrop(logBlockSize, err)
					r.eof = true
					return nil, readerEOF
				}
				r.buffer = buf[:n]
				if n < logBlockSize {
					r.eof = true
				}
				continue
			}
			// A truncated header at the tail is a crashed writer, not a
			// corruption.
			r.buffer = nil
			return nil, readerEOF
		}
		a := uint32(r.buffer[4])
		b := uint32(r.buffer[5])
		rt := recordType(r.buffer[6])
		length := int(a | b<<8)
		if logHeaderSize+length > len(r.buffer) {
			dropped := len(r.buffer)
			r.buffer = nil
			if !r.eof {
				r.reportCorruption(dropped, "bad record length")
				return nil, readerBadRecord
			}
			return nil, readerEOF
		}
		if rt == zeroType && length == 0 {
			// Zero-filled tail of a preallocated block.
			r.buffer = nil
			return nil, readerBadRecord
		}
		if r.checksum {
			expected := util.UnmaskCRC(util.DecodeFixed32(r.buffer))
			actual := util.CRCValue(r.buffer[6 : 7+length])
			if expected != actual {
				dropped := len(r.buffer)
				r.buffer = nil
				r.reportCorruption(dropped, "checksum mismatch")
				return nil, readerBadRecord
			}
		}
		result := r.buffer[logHeaderSize : logHeaderSize+length]
		r.buffer = r.buffer[logHeaderSize+length:]
		if r.endOfBufferOffset-uint64(len(r.buffer))-logHeaderSize-uint64(length) < r.initialOffset {
			return nil, readerBadRecord
		}
		return result, rt
	}
}

func (r *logReader) reportCorruption(bytes int, reason string) {
	r.reportDrop(bytes, util.CorruptionError(reason))
}

func (r *logReader) reportDrop(bytes int, err error) {
	if r.rep != nil && r.endOfBufferOffset-uint64(len(r.buffer))-uint64(bytes) >= r.initialOffset {
		r.rep.corruption(bytes, err)
	}
}
