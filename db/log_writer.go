package db

import (
	"shaledb"
	"shaledb/util"
)

type logWriter struct {
	dest        shaledb.WritableFile
	blockOffset int

	// CRCs of each record type byte, precomputed so per-record work is one
	// extend over the payload.
	typeCrc [maxRecordType + 1]uint32
}

func newLogWriter(dest shaledb.WritableFile) *logWriter {
	return newLogWriterWithLength(dest, 0)
}

// newLogWriterWithLength resumes writing a log that already holds length
// bytes.
func newLogWriterWithLength(dest shaledb.WritableFile, length uint64) *logWriter {
	w := &logWriter{
		dest:        dest,
		blockOffset: int(length % logBlockSize),
	}
	var t [1]byte
	for i := recordType(0); i <= maxRecordType; i++ {
		t[0] = byte(i)
		w.typeCrc[i] = util.CRCValue(t[:])
	}
	return w
}

func (w *logWriter) addRecord(data []byte) error {
	start, left := 0, len(data)
	begin := true
	for {
		leftover := logBlockSize - w.blockOffset
		if leftover < logHeaderSize {
			if leftover > 0 {
				_ = w.dest.Append(make([]byte, leftover))
			}
			w.blockOffset = 0
		}
		avail := logBlockSize - w.blockOffset - logHeaderSize
		fragmentLength := left
		if fragmentLength > avail {
			fragmentLength = avail
		}
		end := left == fragmentLength
		var rt recordType
		switch {
		case begin && end:
			rt = fullType
		case begin:
			rt = firstType
		case end:
			rt = lastType
		default:
			rt = middleType
		}
		if err := w.emitPhysicalRecord(rt, data[start:start+fragmentLength]); err != nil {
			return err
		}
		start += fragmentLength
		left -= fragmentLength
		begin = false
		if left <= 0 {
			return nil
		}
	}
}

func (w *logWriter) emitPhysicalRecord(rt recordType, data []byte) error {
	if len(data) > 0xffff {
		panic("logWriter: fragment exceeds block size")
	}
	var buf [logHeaderSize]byte
	buf[4] = byte(len(data) & 0xff)
	buf[5] = byte(len(data) >> 8)
	buf[6] = byte(rt)
	crc := util.MaskCRC(util.CRCExtend(w.typeCrc[rt], data))
	util.EncodeFixed32(buf[:4], crc)

	err := w.dest.Append(buf[:])
	if err == nil {
		if err = w.dest.Append(data); err == nil {
			err = w.dest.Flush()
		}
	}
	w.blockOffset += logHeaderSize + len(data)
	return err
}
