package db

import (
	"sort"
	"strings"

	"shaledb"
	"shaledb/util"
)

// poolEntry addresses a contiguous run of sublevel rows inside a version's
// flattened files table.
type poolEntry struct {
	base   int
	length int
}

// version is an immutable snapshot of the file catalog. Once published via
// versionSet.appendVersion it never changes; readers traverse it without
// holding the version set mutex. The seek-compaction fields are the one
// exception and are only touched under that mutex.
type version struct {
	vset *versionSet
	next *version
	prev *version
	refs int

	// files[level] is ordered by smallest key for level >= 1 and unordered
	// (overlapping) for level 0. In sublevel mode the outer index is a row
	// in the flattened sublevel layout addressed by the pools.
	files [][]*fileMetaData

	// Sublevel routing. inputPool and outputPool are parallel; entry i
	// describes level i's lanes. Empty when sublevels are disabled.
	inputPool  []poolEntry
	outputPool []poolEntry

	fileToCompact      *fileMetaData
	fileToCompactLevel int

	compactionScore float64
	compactionLevel int
}

func newVersion(vset *versionSet) *version {
	v := &version{
		vset:               vset,
		fileToCompactLevel: -1,
		compactionScore:    -1,
		compactionLevel:    -1,
	}
	v.next = v
	v.prev = v
	if vset.options.EnableSublevel {
		v.files = make([][]*fileMetaData, 2)
		v.inputPool = []poolEntry{{0, 1}, {1, 1}}
		v.outputPool = []poolEntry{{0, 1}, {2, 0}}
	} else {
		v.files = make([][]*fileMetaData, maxMemCompactLevel+1)
	}
	return v
}

func (v *version) ref() { v.refs++ }

func (v *version) unref() {
	if v == &v.vset.dummyVersions {
		panic("version: unref of list sentinel")
	}
	if v.refs < 1 {
		panic("version: refs underflow")
	}
	v.refs--
	if v.refs == 0 {
		v.destroy()
	}
}

// destroy unlinks the version from the ring and drops its file references.
func (v *version) destroy() {
	if v.refs != 0 {
		panic("version: destroy with live refs")
	}
	v.prev.next = v.next
	v.next.prev = v.prev
	for _, files := range v.files {
		for _, f := range files {
			if f.refs <= 0 {
				panic("version: file refs underflow")
			}
			f.refs--
		}
	}
}

func (v *version) numLevels() int { return len(v.files) }

func (v *version) numSublevels(level int) int {
	if level >= len(v.inputPool) {
		return 0
	}
	if level == 0 {
		return 1
	}
	return v.inputPool[level].length + v.outputPool[level].length
}

func poolFiles(v *version, pool []poolEntry, level int) []*fileMetaData {
	var out []*fileMetaData
	p := pool[level]
	for i := p.base; i < p.base+p.length; i++ {
		out = append(out, v.files[i]...)
	}
	return out
}

// numFilesInLevel counts files; in sublevel mode it spans both pools of
// the level.
func (v *version) numFilesInLevel(level int) int {
	if !v.vset.options.EnableSublevel {
		if level >= len(v.files) {
			return 0
		}
		return len(v.files[level])
	}
	if level == 0 {
		return len(v.files[0])
	}
	if level >= len(v.inputPool) {
		return 0
	}
	return len(poolFiles(v, v.inputPool, level)) + len(poolFiles(v, v.outputPool, level))
}

func (v *version) numBytesInLevel(level int) int64 {
	if !v.vset.options.EnableSublevel {
		if level >= len(v.files) {
			return 0
		}
		return totalFileSize(v.files[level])
	}
	if level == 0 {
		return totalFileSize(v.files[0])
	}
	if level >= len(v.inputPool) {
		return 0
	}
	return totalFileSize(poolFiles(v, v.inputPool, level)) +
		totalFileSize(poolFiles(v, v.outputPool, level))
}

func totalFileSize(files []*fileMetaData) (sum int64) {
	for _, f := range files {
		sum += int64(f.fileSize)
	}
	return
}

func newestFirst(a, b *fileMetaData) bool { return a.number > b.number }

// findFile returns the index of the earliest file whose largest key is
// >= key, assuming files is sorted and disjoint.
func findFile(icmp *internalKeyComparator, files []*fileMetaData, key []byte) int {
	return sort.Search(len(files), func(i int) bool {
		return icmp.Compare(files[i].largest.encode(), key) >= 0
	})
}

func afterFile(ucmp shaledb.Comparator, userKey []byte, f *fileMetaData) bool {
	// A nil user key is before all keys and therefore never after f.
	return userKey != nil && ucmp.Compare(userKey, f.largest.userKey()) > 0
}

func beforeFile(ucmp shaledb.Comparator, userKey []byte, f *fileMetaData) bool {
	return userKey != nil && ucmp.Compare(userKey, f.smallest.userKey()) < 0
}

func someFileOverlapsRange(icmp *internalKeyComparator, disjointSortedFiles bool, files []*fileMetaData, smallestUserKey, largestUserKey []byte) bool {
	ucmp := icmp.userComparator
	if !disjointSortedFiles {
		for _, f := range files {
			if !afterFile(ucmp, smallestUserKey, f) && !beforeFile(ucmp, largestUserKey, f) {
				return true
			}
		}
		return false
	}
	index := 0
	if smallestUserKey != nil {
		smallKey := newInternalKey(smallestUserKey, maxSequenceNumber, valueTypeForSeek)
		index = findFile(icmp, files, smallKey.encode())
	}
	if index >= len(files) {
		return false
	}
	return !beforeFile(ucmp, largestUserKey, files[index])
}

type saverState int8

const (
	saverNotFound saverState = iota
	saverFound
	saverDeleted
	saverCorrupt
)

type saver struct {
	state   saverState
	ucmp    shaledb.Comparator
	userKey []byte
	limit   int
	value   []byte
}

// saveValue is the table cache callback; it classifies the entry the table
// search landed on and copies the value out on a hit.
func saveValue(arg interface{}, ikey, v []byte) error {
	s := arg.(*saver)
	parsed := new(parsedInternalKey)
	if !parseInternalKey(ikey, parsed) {
		s.state = saverCorrupt
		return nil
	}
	if s.ucmp.Compare(parsed.userKey, s.userKey) != 0 {
		return nil
	}
	if parsed.valueType == shaledb.TypeValue {
		s.state = saverFound
		n := len(v)
		if s.limit > 0 && n > s.limit {
			n = s.limit
		}
		s.value = make([]byte, n)
		copy(s.value, v[:n])
	} else {
		s.state = saverDeleted
	}
	return nil
}

type getStats struct {
	seekFile      *fileMetaData
	seekFileLevel int
}

// get looks the key up level by level, newest data first. When the read
// consults more than one file, it records the first of them so callers can
// charge a seek against it; a read that consults one file records nothing.
func (v *version) get(options *shaledb.ReadOptions, k *lookupKey) (value []byte, stats getStats, err error) {
	ikey := k.internalKey()
	userKey := k.userKey()
	ucmp := v.vset.icmp.userComparator
	stats.seekFileLevel = -1

	var (
		lastFileRead      *fileMetaData
		lastFileReadLevel = -1
	)
	for level := 0; level < len(v.files); level++ {
		files := v.files[level]
		if len(files) == 0 {
			continue
		}
		if level == 0 {
			// Level-0 files may overlap; consult every covering file from
			// newest to oldest.
			tmp := make([]*fileMetaData, 0, len(files))
			for _, f := range files {
				if ucmp.Compare(userKey, f.smallest.userKey()) >= 0 &&
					ucmp.Compare(userKey, f.largest.userKey()) <= 0 {
					tmp = append(tmp, f)
				}
			}
			if len(tmp) == 0 {
				continue
			}
			sort.Slice(tmp, func(i, j int) bool { return newestFirst(tmp[i], tmp[j]) })
			files = tmp
		} else {
			index := findFile(v.vset.icmp, files, ikey)
			if index >= len(files) {
				continue
			}
			f := files[index]
			if ucmp.Compare(userKey, f.smallest.userKey()) < 0 {
				continue
			}
			files = files[index : index+1]
		}

		for _, f := range files {
			if lastFileRead != nil && stats.seekFile == nil {
				// More than one file searched for this read; charge the first.
				stats.seekFile = lastFileRead
				stats.seekFileLevel = lastFileReadLevel
			}
			lastFileRead = f
			lastFileReadLevel = level

			s := &saver{
				state:   saverNotFound,
				ucmp:    ucmp,
				userKey: userKey,
			}
			if options != nil {
				s.limit = options.Limit
			}
			if err = v.vset.tableCache.get(options, f.number, f.fileSize, f.seqOff, ikey, s, saveValue); err != nil {
				return
			}
			switch s.state {
			case saverNotFound:
				// Keep searching.
			case saverFound:
				value = s.value
				return
			case saverDeleted:
				err = util.NotFoundError("")
				return
			case saverCorrupt:
				err = util.CorruptionError("corrupted key for ", string(userKey))
				return
			}
		}
	}
	err = util.NotFoundError("")
	return
}

// updateStats charges a seek against the file recorded in stats. Returns
// true when the file's budget ran out and it became the seek-compaction
// candidate. REQUIRES: version set mutex held.
func (v *version) updateStats(stats getStats) bool {
	if f := stats.seekFile; f != nil {
		f.allowedSeeks--
		if f.allowedSeeks <= 0 && v.fileToCompact == nil {
			v.fileToCompact = f
			v.fileToCompactLevel = stats.seekFileLevel
			v.vset.options.Metrics.SeekCompactionArmed()
			return true
		}
	}
	return false
}

// recordReadSample notes that internalKey was read during an iteration.
// When at least two files cover the key, the first is charged a seek,
// mirroring what a get through both files would have cost.
func (v *version) recordReadSample(internalKey []byte) bool {
	ikey := new(parsedInternalKey)
	if !parseInternalKey(internalKey, ikey) {
		return false
	}
	var state struct {
		stats   getStats
		matches int
	}
	v.forEachOverlapping(ikey.userKey, internalKey, func(level int, f *fileMetaData) bool {
		state.matches++
		if state.matches == 1 {
			state.stats.seekFile = f
			state.stats.seekFileLevel = level
		}
		return state.matches < 2
	})
	if state.matches >= 2 {
		return v.updateStats(state.stats)
	}
	return false
}

// forEachOverlapping calls fn for every file that may contain userKey,
// newest level first, stopping when fn returns false.
func (v *version) forEachOverlapping(userKey, internalKey []byte, fn func(level int, f *fileMetaData) bool) {
	ucmp := v.vset.icmp.userComparator
	tmp := make([]*fileMetaData, 0, len(v.files[0]))
	for _, f := range v.files[0] {
		if ucmp.Compare(userKey, f.smallest.userKey()) >= 0 &&
			ucmp.Compare(userKey, f.largest.userKey()) <= 0 {
			tmp = append(tmp, f)
		}
	}
	if len(tmp) != 0 {
		sort.Slice(tmp, func(i, j int) bool { return newestFirst(tmp[i], tmp[j]) })
		for _, f := range tmp {
			if !fn(0, f) {
				return
			}
		}
	}
	for level := 1; level < len(v.files); level++ {
		numFiles := len(v.files[level])
		if numFiles == 0 {
			continue
		}
		index := findFile(v.vset.icmp, v.files[level], internalKey)
		if index < numFiles {
			f := v.files[level][index]
			if ucmp.Compare(userKey, f.smallest.userKey()) >= 0 {
				if !fn(level, f) {
					return
				}
			}
		}
	}
}

func (v *version) overlapInLevel(level int, smallestUserKey, largestUserKey []byte) bool {
	if level >= len(v.files) {
		return false
	}
	return someFileOverlapsRange(v.vset.icmp, level > 0, v.files[level], smallestUserKey, largestUserKey)
}

// pickLevelForMemTableOutput pushes a fresh memtable output as deep as it
// can go without overlapping the next level or too many grandparent bytes.
func (v *version) pickLevelForMemTableOutput(smallestUserKey, largestUserKey []byte) int {
	level := 0
	if !v.overlapInLevel(0, smallestUserKey, largestUserKey) {
		start := newInternalKey(smallestUserKey, maxSequenceNumber, valueTypeForSeek)
		limit := newInternalKey(largestUserKey, 0, shaledb.TypeDeletion)
		var overlaps []*fileMetaData
		for level < maxMemCompactLevel {
			if v.overlapInLevel(level+1, smallestUserKey, largestUserKey) {
				break
			}
			if level+2 < len(v.files) {
				v.getOverlappingInputs(level+2, start, limit, &overlaps)
				if totalFileSize(overlaps) > maxGrandParentOverlapBytes(v.vset.options) {
					break
				}
			}
			level++
		}
	}
	return level
}

// getOverlappingInputs stores in *inputs every file in the level touching
// [begin, end]. Level 0 closes over transitive overlap: whenever a hit
// widens the user-key range the sweep restarts with the wider bounds.
func (v *version) getOverlappingInputs(level int, begin, end *internalKey, inputs *[]*fileMetaData) {
	if level < 0 || level >= len(v.files) {
		panic("version: level out of range")
	}
	*inputs = (*inputs)[:0]
	var userBegin, userEnd []byte
	if begin != nil {
		userBegin = begin.userKey()
	}
	if end != nil {
		userEnd = end.userKey()
	}
	ucmp := v.vset.icmp.userComparator
	for i := 0; i < len(v.files[level]); {
		f := v.files[level][i]
		i++
		fileStart := f.smallest.userKey()
		fileLimit := f.largest.userKey()
		if begin != nil && ucmp.Compare(fileLimit, userBegin) < 0 {
			// f is entirely before the range.
		} else if end != nil && ucmp.Compare(fileStart, userEnd) > 0 {
			// f is entirely after the range.
		} else {
			*inputs = append(*inputs, f)
			if level == 0 {
				if begin != nil && ucmp.Compare(fileStart, userBegin) < 0 {
					userBegin = fileStart
					*inputs = (*inputs)[:0]
					i = 0
				} else if end != nil && ucmp.Compare(fileLimit, userEnd) > 0 {
					userEnd = fileLimit
					*inputs = (*inputs)[:0]
					i = 0
				}
			}
		}
	}
}

func (v *version) debugString() string {
	var b strings.Builder
	for level := range v.files {
		b.WriteString("--- level ")
		util.AppendNumberTo(&b, uint64(level))
		b.WriteString(" ---\n")
		for _, f := range v.files[level] {
			b.WriteByte(' ')
			util.AppendNumberTo(&b, f.number)
			b.WriteByte(':')
			util.AppendNumberTo(&b, f.fileSize)
			b.WriteByte('[')
			b.WriteString(f.smallest.debugString())
			b.WriteString(" .. ")
			b.WriteString(f.largest.debugString())
			b.WriteString("]\n")
		}
	}
	return b.String()
}

// levelFileNumIterator yields, for the files of one sorted level, the
// file's largest key mapped to a 24-byte value holding (number, size,
// seqOff), each fixed64-encoded. It is the index half of the concatenating
// iterator over a level.
type levelFileNumIterator struct {
	icmp     *internalKeyComparator
	flist    []*fileMetaData
	index    int
	valueBuf [24]byte
}

func newLevelFileNumIterator(icmp *internalKeyComparator, flist []*fileMetaData) *levelFileNumIterator {
	return &levelFileNumIterator{
		icmp:  icmp,
		flist: flist,
		index: len(flist),
	}
}

func (i *levelFileNumIterator) Valid() bool { return i.index < len(i.flist) }

func (i *levelFileNumIterator) SeekToFirst() { i.index = 0 }

func (i *levelFileNumIterator) SeekToLast() {
	if len(i.flist) == 0 {
		i.index = 0
	} else {
		i.index = len(i.flist) - 1
	}
}

func (i *levelFileNumIterator) Seek(target []byte) {
	i.index = findFile(i.icmp, i.flist, target)
}

func (i *levelFileNumIterator) Next() {
	if !i.Valid() {
		panic("levelFileNumIterator: not valid")
	}
	i.index++
}

func (i *levelFileNumIterator) Prev() {
	if !i.Valid() {
		panic("levelFileNumIterator: not valid")
	}
	if i.index == 0 {
		i.index = len(i.flist)
	} else {
		i.index--
	}
}

func (i *levelFileNumIterator) Key() []byte {
	if !i.Valid() {
		panic("levelFileNumIterator: not valid")
	}
	return i.flist[i.index].largest.encode()
}

func (i *levelFileNumIterator) Value() []byte {
	if !i.Valid() {
		panic("levelFileNumIterator: not valid")
	}
	f := i.flist[i.index]
	util.EncodeFixed64(i.valueBuf[:8], f.number)
	util.EncodeFixed64(i.valueBuf[8:16], f.fileSize)
	util.EncodeFixed64(i.valueBuf[16:], f.seqOff)
	return i.valueBuf[:]
}

func (i *levelFileNumIterator) Status() error { return nil }

func (i *levelFileNumIterator) Close() error { return nil }
