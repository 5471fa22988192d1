package db

import (
	"sort"
	"strings"

	"shaledb/util"
)

const (
	tagComparator     = 1
	tagLogNumber      = 2
	tagNextFileNumber = 3
	tagLastSequence   = 4
	tagCompactPointer = 5
	tagDeletedFile    = 6
	tagNewFile        = 7
	tagPrevLogNumber  = 9
	tagNewFileWithSeq = 10
	tagUpdatedFile    = 11
	tagTruncateKey    = 12
)

// Levels are open-ended but a decoded level beyond this bound is garbage,
// not a deep tree.
const maxDecodedLevel = 1 << 20

type fileMetaData struct {
	refs         int
	allowedSeeks int
	number       uint64
	fileSize     uint64
	seqOff       uint64
	smallest     internalKey
	largest      internalKey
}

func newFileMetaData() *fileMetaData {
	return &fileMetaData{allowedSeeks: 1 << 30}
}

type levelFileNumber struct {
	level  int
	number uint64
}

type levelKey struct {
	level int
	key   internalKey
}

type levelFile struct {
	level int
	meta  fileMetaData
}

func sortedLevelFileNumbers(set map[levelFileNumber]struct{}) []levelFileNumber {
	out := make([]levelFileNumber, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].level != out[j].level {
			return out[i].level < out[j].level
		}
		return out[i].number < out[j].number
	})
	return out
}

// versionEdit is a serializable delta over a version: files added, deleted
// or truncated, plus counter updates and per-level compaction cursors.
type versionEdit struct {
	comparator     string
	logNumber      uint64
	prevLogNumber  uint64
	nextFileNumber uint64
	lastSequence   sequenceNumber

	hasComparator     bool
	hasLogNumber      bool
	hasPrevLogNumber  bool
	hasNextFileNumber bool
	hasLastSequence   bool
	hasTruncateKey    bool

	compactPointers []levelKey
	deletedFiles    map[levelFileNumber]struct{}
	newFiles        []levelFile
	updatedFiles    map[levelFileNumber]struct{}
	truncateKey     internalKey

	// maxLevel is the deepest level any entry of this edit touches; the
	// builder grows the level vector past it.
	maxLevel int
}

func newVersionEdit() *versionEdit {
	e := new(versionEdit)
	e.clear()
	return e
}

func (e *versionEdit) clear() {
	*e = versionEdit{
		deletedFiles: make(map[levelFileNumber]struct{}),
		updatedFiles: make(map[levelFileNumber]struct{}),
	}
}

func (e *versionEdit) noteLevel(level int) {
	if level > e.maxLevel {
		e.maxLevel = level
	}
}

func (e *versionEdit) setComparatorName(name string) {
	e.hasComparator = true
	e.comparator = name
}

func (e *versionEdit) setLogNumber(num uint64) {
	e.hasLogNumber = true
	e.logNumber = num
}

func (e *versionEdit) setPrevLogNumber(num uint64) {
	e.hasPrevLogNumber = true
	e.prevLogNumber = num
}

func (e *versionEdit) setNextFile(num uint64) {
	e.hasNextFileNumber = true
	e.nextFileNumber = num
}

func (e *versionEdit) setLastSequence(seq sequenceNumber) {
	e.hasLastSequence = true
	e.lastSequence = seq
}

func (e *versionEdit) setCompactPointer(level int, key internalKey) {
	e.compactPointers = append(e.compactPointers, levelKey{level, key})
	e.noteLevel(level)
}

// setUpdateTruncate records the split key applied to every file named by
// updateFile. Sublevel mode only.
func (e *versionEdit) setUpdateTruncate(key internalKey) {
	e.hasTruncateKey = true
	e.truncateKey = key
}

// addFile records a file to live at the given level.
// REQUIRES: smallest and largest are the file's true key bounds.
func (e *versionEdit) addFile(level int, number, fileSize, seqOff uint64, smallest, largest internalKey) {
	f := newFileMetaData()
	f.number = number
	f.fileSize = fileSize
	f.seqOff = seqOff
	f.smallest = smallest
	f.largest = largest
	e.newFiles = append(e.newFiles, levelFile{level, *f})
	e.noteLevel(level)
}

func (e *versionEdit) deleteFile(level int, number uint64) {
	e.deletedFiles[levelFileNumber{level, number}] = struct{}{}
	e.noteLevel(level)
}

// updateFile marks a file whose smallest key becomes the truncate key in
// the successor version. Sublevel mode only.
func (e *versionEdit) updateFile(level int, number uint64) {
	e.updatedFiles[levelFileNumber{level, number}] = struct{}{}
	e.noteLevel(level)
}

func (e *versionEdit) encodeTo(dst *[]byte) {
	if e.hasComparator {
		util.PutVarint32(dst, tagComparator)
		util.PutLengthPrefixedSlice(dst, []byte(e.comparator))
	}
	if e.hasLogNumber {
		util.PutVarint32(dst, tagLogNumber)
		util.PutVarint64(dst, e.logNumber)
	}
	if e.hasPrevLogNumber {
		util.PutVarint32(dst, tagPrevLogNumber)
		util.PutVarint64(dst, e.prevLogNumber)
	}
	if e.hasNextFileNumber {
		util.PutVarint32(dst, tagNextFileNumber)
		util.PutVarint64(dst, e.nextFileNumber)
	}
	if e.hasLastSequence {
		util.PutVarint32(dst, tagLastSequence)
		util.PutVarint64(dst, uint64(e.lastSequence))
	}
	for _, p := range e.compactPointers {
		util.PutVarint32(dst, tagCompactPointer)
		util.PutVarint32(dst, uint32(p.level))
		util.PutLengthPrefixedSlice(dst, p.key.encode())
	}
	for _, f := range sortedLevelFileNumbers(e.deletedFiles) {
		util.PutVarint32(dst, tagDeletedFile)
		util.PutVarint32(dst, uint32(f.level))
		util.PutVarint64(dst, f.number)
	}
	for _, f := range sortedLevelFileNumbers(e.updatedFiles) {
		util.PutVarint32(dst, tagUpdatedFile)
		util.PutVarint32(dst, uint32(f.level))
		util.PutVarint64(dst, f.number)
	}
	if e.hasTruncateKey {
		util.PutVarint32(dst, tagTruncateKey)
		util.PutLengthPrefixedSlice(dst, e.truncateKey.encode())
	}
	for _, file := range e.newFiles {
		f := file.meta
		if f.seqOff == 0 {
			util.PutVarint32(dst, tagNewFile)
		} else {
			util.PutVarint32(dst, tagNewFileWithSeq)
		}
		util.PutVarint32(dst, uint32(file.level))
		util.PutVarint64(dst, f.number)
		util.PutVarint64(dst, f.fileSize)
		if f.seqOff != 0 {
			util.PutVarint64(dst, f.seqOff)
		}
		util.PutLengthPrefixedSlice(dst, f.smallest.encode())
		util.PutLengthPrefixedSlice(dst, f.largest.encode())
	}
}

func getInternalKey(input *[]byte, dst *internalKey) bool {
	var b []byte
	if util.GetLengthPrefixedSlice(input, &b) {
		dst.decodeFrom(b)
		return true
	}
	return false
}

func getLevel(input *[]byte, level *int) bool {
	var v uint32
	if util.GetVarint32(input, &v) && v < maxDecodedLevel {
		*level = int(v)
		return true
	}
	return false
}

func (e *versionEdit) decodeFrom(src []byte) error {
	return e.decode(src, true)
}

// decode parses a serialized edit. In strict mode an unknown tag is a
// corruption; otherwise decoding stops at the first unknown tag, keeping
// everything parsed so far.
func (e *versionEdit) decode(src []byte, strict bool) error {
	e.clear()
	input := src
	var (
		msg    string
		tag    uint32
		level  int
		number uint64
		str    []byte
		key    internalKey
	)
	for msg == "" && util.GetVarint32(&input, &tag) {
		switch tag {
		case tagComparator:
			if util.GetLengthPrefixedSlice(&input, &str) {
				e.comparator = string(str)
				e.hasComparator = true
			} else {
				msg = "comparator name"
			}
		case tagLogNumber:
			if util.GetVarint64(&input, &e.logNumber) {
				e.hasLogNumber = true
			} else {
				msg = "log number"
			}
		case tagPrevLogNumber:
			if util.GetVarint64(&input, &e.prevLogNumber) {
				e.hasPrevLogNumber = true
			} else {
				msg = "previous log number"
			}
		case tagNextFileNumber:
			if util.GetVarint64(&input, &e.nextFileNumber) {
				e.hasNextFileNumber = true
			} else {
				msg = "next file number"
			}
		case tagLastSequence:
			if util.GetVarint64(&input, (*uint64)(&e.lastSequence)) {
				e.hasLastSequence = true
			} else {
				msg = "last sequence number"
			}
		case tagCompactPointer:
			if getLevel(&input, &level) && getInternalKey(&input, &key) {
				e.setCompactPointer(level, key)
			} else {
				msg = "compaction pointer"
			}
		case tagDeletedFile:
			if getLevel(&input, &level) && util.GetVarint64(&input, &number) {
				e.deleteFile(level, number)
			} else {
				msg = "deleted file"
			}
		case tagUpdatedFile:
			if getLevel(&input, &level) && util.GetVarint64(&input, &number) {
				e.updateFile(level, number)
			} else {
				msg = "updated file"
			}
		case tagTruncateKey:
			if getInternalKey(&input, &key) {
				e.setUpdateTruncate(key)
			} else {
				msg = "truncate key"
			}
		case tagNewFile, tagNewFileWithSeq:
			var f fileMetaData
			ok := getLevel(&input, &level) &&
				util.GetVarint64(&input, &f.number) &&
				util.GetVarint64(&input, &f.fileSize)
			if ok && tag == tagNewFileWithSeq {
				ok = util.GetVarint64(&input, &f.seqOff)
			}
			if ok && getInternalKey(&input, &f.smallest) && getInternalKey(&input, &f.largest) {
				e.addFile(level, f.number, f.fileSize, f.seqOff, f.smallest, f.largest)
			} else {
				msg = "new-file entry"
			}
		default:
			if !strict {
				return nil
			}
			msg = "unknown tag"
		}
	}
	if msg == "" && len(input) > 0 {
		msg = "invalid tag"
	}
	if msg != "" {
		return util.CorruptionError("VersionEdit", msg)
	}
	return nil
}

func (e *versionEdit) debugString() string {
	var b strings.Builder
	b.WriteString("VersionEdit {")
	if e.hasComparator {
		b.WriteString("\n  Comparator: ")
		b.WriteString(e.comparator)
	}
	if e.hasLogNumber {
		b.WriteString("\n  LogNumber: ")
		util.AppendNumberTo(&b, e.logNumber)
	}
	if e.hasPrevLogNumber {
		b.WriteString("\n  PrevLogNumber: ")
		util.AppendNumberTo(&b, e.prevLogNumber)
	}
	if e.hasNextFileNumber {
		b.WriteString("\n  NextFile: ")
		util.AppendNumberTo(&b, e.nextFileNumber)
	}
	if e.hasLastSequence {
		b.WriteString("\n  LastSeq: ")
		util.AppendNumberTo(&b, uint64(e.lastSequence))
	}
	for _, p := range e.compactPointers {
		b.WriteString("\n  CompactPointer: ")
		util.AppendNumberTo(&b, uint64(p.level))
		b.WriteByte(' ')
		b.WriteString(p.key.debugString())
	}
	for _, f := range sortedLevelFileNumbers(e.deletedFiles) {
		b.WriteString("\n  DeleteFile: ")
		util.AppendNumberTo(&b, uint64(f.level))
		b.WriteByte(' ')
		util.AppendNumberTo(&b, f.number)
	}
	for _, f := range sortedLevelFileNumbers(e.updatedFiles) {
		b.WriteString("\n  UpdateFile: ")
		util.AppendNumberTo(&b, uint64(f.level))
		b.WriteByte(' ')
		util.AppendNumberTo(&b, f.number)
	}
	if e.hasTruncateKey {
		b.WriteString("\n  TruncateKey: ")
		b.WriteString(e.truncateKey.debugString())
	}
	for _, file := range e.newFiles {
		f := file.meta
		b.WriteString("\n  AddFile: ")
		util.AppendNumberTo(&b, uint64(file.level))
		b.WriteByte(' ')
		util.AppendNumberTo(&b, f.number)
		b.WriteByte(' ')
		util.AppendNumberTo(&b, f.fileSize)
		b.WriteByte(' ')
		b.WriteString(f.smallest.debugString())
		b.WriteString(" .. ")
		b.WriteString(f.largest.debugString())
	}
	b.WriteString("\n}\n")
	return b.String()
}
