package db

import (
	"fmt"
	"strings"
	"sync"

	"shaledb"
	"shaledb/table"
	"shaledb/util"
)

// Per-level byte budgets, derived from the target table file size, the
// fan-out between levels and, for level budgets, the level-1 trigger.

// maxGrandParentOverlapBytes bounds how many bytes of level+2 data a
// single level+1 output file may overlap before the compaction rolls a
// new output.
func maxGrandParentOverlapBytes(options *shaledb.Options) int64 {
	return int64(options.LevelFactor * options.TableFileSize)
}

// expandedCompactionByteSizeLimit caps the total bytes a compaction may
// grow to when widening its lower-level input set.
func expandedCompactionByteSizeLimit(options *shaledb.Options) int64 {
	return int64((2*(options.LevelFactor+2) + 1) * options.TableFileSize)
}

// maxBytesForLevel is the byte budget of a level. Level 0 is governed by
// file count instead, so its result is unused.
func maxBytesForLevel(options *shaledb.Options, level int) float64 {
	result := float64(options.L1CompactionTrigger * options.TableFileSize)
	for level > 1 {
		result *= float64(options.LevelFactor)
		level--
	}
	return result
}

func maxCompactionSizeForLevel(options *shaledb.Options, level int) int64 {
	return int64(options.LevelFactor * options.TableFileSize)
}

func maxFileSizeForLevel(options *shaledb.Options, level int) uint64 {
	return uint64(options.TableFileSize)
}

// versionSet owns the live version chain, the MANIFEST, and the counters
// that name files and order mutations. All mutable state is guarded by a
// single mutex owned by the caller (the database); versions themselves are
// immutable once installed.
type versionSet struct {
	env     shaledb.Env
	dbname  string
	options *shaledb.Options

	tableCache *tableCache
	icmp       *internalKeyComparator

	nextFileNumber     uint64
	manifestFileNumber uint64
	lastSequence       sequenceNumber
	logNumber          uint64
	prevLogNumber      uint64

	descriptorFile shaledb.WritableFile
	descriptorLog  *logWriter

	// dummyVersions is the sentinel of a circular doubly-linked ring
	// holding every live version, oldest first.
	dummyVersions version
	current       *version

	// compactPointer[level] is the encoded largest key of the last
	// compaction at that level; the next size compaction starts after it.
	compactPointer [][]byte
}

func newVersionSet(dbname string, options *shaledb.Options, tableCache *tableCache, icmp *internalKeyComparator) *versionSet {
	s := &versionSet{
		env:            options.Env,
		dbname:         dbname,
		options:        options,
		tableCache:     tableCache,
		icmp:           icmp,
		nextFileNumber: 2,
	}
	if !options.EnableSublevel {
		s.compactPointer = make([][]byte, maxMemCompactLevel+1)
	}
	s.dummyVersions.vset = s
	s.dummyVersions.next = &s.dummyVersions
	s.dummyVersions.prev = &s.dummyVersions
	s.appendVersion(newVersion(s))
	return s
}

// close releases the current version and the MANIFEST handles. Every
// outstanding reader reference must have been dropped first.
func (s *versionSet) close() {
	s.current.unref()
	if s.dummyVersions.next != &s.dummyVersions {
		panic("versionSet: closing with live versions")
	}
	s.descriptorLog = nil
	if s.descriptorFile != nil {
		s.descriptorFile.Close()
		s.descriptorFile = nil
	}
}

// appendVersion makes v current and links it into the ring.
func (s *versionSet) appendVersion(v *version) {
	if v.refs != 0 {
		panic("versionSet: appending referenced version")
	}
	if v == s.current {
		panic("versionSet: appending current version")
	}
	if s.current != nil {
		s.current.unref()
	}
	s.current = v
	v.ref()
	v.prev = s.dummyVersions.prev
	v.next = &s.dummyVersions
	v.prev.next = v
	v.next.prev = v

	s.options.Metrics.SetLiveVersions(s.liveVersionCount())
	levels := v.numLevels()
	if s.options.EnableSublevel {
		levels = len(v.inputPool)
	}
	for level := 0; level < levels; level++ {
		s.options.Metrics.SetLevelFiles(level, v.numFilesInLevel(level))
	}
}

func (s *versionSet) liveVersionCount() int {
	n := 0
	for v := s.dummyVersions.next; v != &s.dummyVersions; v = v.next {
		n++
	}
	return n
}

// logAndApply applies edit to the current version, makes the result
// durable in the MANIFEST, and installs it. mu is released across the
// MANIFEST append and sync; the new version is never visible to readers
// before the edit is durable.
// REQUIRES: mu held. No other logAndApply is running.
func (s *versionSet) logAndApply(edit *versionEdit, mu *sync.Mutex) error {
	if edit.hasLogNumber {
		if edit.logNumber < s.logNumber || edit.logNumber >= s.nextFileNumber {
			panic("versionSet: edit log number out of range")
		}
	} else {
		edit.setLogNumber(s.logNumber)
	}
	if !edit.hasPrevLogNumber {
		edit.setPrevLogNumber(s.prevLogNumber)
	}
	edit.setNextFile(s.nextFileNumber)
	edit.setLastSequence(s.lastSequence)

	v := newVersion(s)
	builder := newVersionBuilder(s, s.current)
	err := builder.apply(edit)
	if err == nil {
		err = builder.saveTo(v)
	}
	builder.release()
	if err == nil && s.options.EnableSublevel {
		err = s.reorganizeSublevels(v, edit)
	}
	if err != nil {
		v.destroy()
		return err
	}
	s.finalizeVersion(v)

	// Initialize a new descriptor log if necessary, seeding it with a
	// snapshot of the current state.
	var newManifestFile string
	if s.descriptorLog == nil {
		if s.descriptorFile != nil {
			panic("versionSet: descriptor file without log")
		}
		if s.manifestFileNumber == 0 {
			panic("versionSet: logAndApply before recovery assigned a descriptor number")
		}
		newManifestFile = descriptorFileName(s.dbname, s.manifestFileNumber)
		edit.setNextFile(s.nextFileNumber)
		s.descriptorFile, err = s.env.NewWritableFile(newManifestFile)
		if err == nil {
			s.descriptorLog = newLogWriter(s.descriptorFile)
			err = s.writeSnapshot(s.descriptorLog)
		}
	}

	// Unlock during the expensive MANIFEST append and sync.
	mu.Unlock()

	if err == nil {
		var record []byte
		edit.encodeTo(&record)
		if err = s.descriptorLog.addRecord(record); err == nil {
			err = s.descriptorFile.Sync()
		}
		if err != nil {
			shaledb.Log(s.options.InfoLog, "MANIFEST write: %v", err)
		}
		s.options.Metrics.ManifestWrite(err)
	}

	// A freshly minted descriptor is installed either by pointing CURRENT
	// at it or, in rotating mode, by deleting the stale alternate so the
	// next recovery picks this one by its counters.
	if err == nil && len(newManifestFile) != 0 {
		if !s.options.RotatingManifest {
			err = setCurrentFile(s.env, s.dbname, s.manifestFileNumber)
		} else {
			if s.manifestFileNumber != 1 && s.manifestFileNumber != 2 {
				panic("versionSet: rotating manifest number out of range")
			}
			for _, name := range []string{
				descriptorFileName(s.dbname, 3-s.manifestFileNumber),
				currentFileName(s.dbname),
			} {
				shaledb.Log(s.options.InfoLog, "Delete %s", name)
				_ = s.env.DeleteFile(name)
			}
		}
	}

	mu.Lock()

	if err == nil {
		s.appendVersion(v)
		s.logNumber = edit.logNumber
		s.prevLogNumber = edit.prevLogNumber
	} else {
		v.destroy()
		if len(newManifestFile) != 0 {
			s.descriptorLog = nil
			s.descriptorFile.Close()
			s.descriptorFile = nil
			_ = s.env.DeleteFile(newManifestFile)
		}
	}
	return err
}

// foreignApply installs an edit produced elsewhere without writing the
// MANIFEST. Used to replay a peer's edits during bootstrap.
func (s *versionSet) foreignApply(edit *versionEdit) error {
	if edit.hasComparator && edit.comparator != s.icmp.userComparator.Name() {
		return util.InvalidArgumentError(
			edit.comparator+" does not match existing comparator ",
			s.icmp.userComparator.Name())
	}

	nextFileNumber := s.nextFileNumber
	lastSequence := s.lastSequence
	logNumber := s.logNumber
	prevLogNumber := s.prevLogNumber

	if edit.hasLogNumber {
		if edit.logNumber < logNumber {
			return util.InvalidArgumentError("log number moves backwards")
		}
		logNumber = edit.logNumber
	}
	if edit.hasPrevLogNumber {
		if edit.prevLogNumber < prevLogNumber {
			return util.InvalidArgumentError("prev log number moves backwards")
		}
		prevLogNumber = edit.prevLogNumber
	}
	if edit.hasNextFileNumber {
		if edit.nextFileNumber < nextFileNumber {
			return util.InvalidArgumentError("next file number moves backwards")
		}
		nextFileNumber = edit.nextFileNumber
	}
	if edit.hasLastSequence {
		if edit.lastSequence < lastSequence {
			return util.InvalidArgumentError("last sequence moves backwards")
		}
		lastSequence = edit.lastSequence
	}
	if logNumber >= nextFileNumber {
		return util.InvalidArgumentError("log number not below next file number")
	}

	v := newVersion(s)
	builder := newVersionBuilder(s, s.current)
	err := builder.apply(edit)
	if err == nil {
		err = builder.saveTo(v)
	}
	builder.release()
	if err == nil && s.options.EnableSublevel {
		err = s.reorganizeSublevels(v, edit)
	}
	if err != nil {
		v.destroy()
		return err
	}

	// No compaction runs against a foreign-applied state, so skip scoring.
	s.appendVersion(v)
	s.logNumber = logNumber
	s.prevLogNumber = prevLogNumber
	s.nextFileNumber = nextFileNumber
	s.lastSequence = lastSequence
	return nil
}

// initialize writes the descriptor of a brand-new database: MANIFEST-1
// holding a single edit with the comparator name and initial counters,
// plus CURRENT in non-rotating mode.
func (s *versionSet) initialize() error {
	edit := newVersionEdit()
	edit.setComparatorName(s.icmp.userComparator.Name())
	edit.setLogNumber(0)
	edit.setNextFile(2)
	edit.setLastSequence(0)

	manifest := descriptorFileName(s.dbname, 1)
	file, err := s.env.NewWritableFile(manifest)
	if err != nil {
		return err
	}
	log := newLogWriter(file)
	var record []byte
	edit.encodeTo(&record)
	if err = log.addRecord(record); err == nil {
		err = file.Sync()
	}
	if err == nil {
		err = file.Close()
	} else {
		file.Close()
	}
	if err == nil {
		if !s.options.RotatingManifest {
			err = setCurrentFile(s.env, s.dbname, 1)
		}
	} else {
		_ = s.env.DeleteFile(manifest)
	}
	return err
}

type recoveryLogReporter struct {
	err error
}

func (r *recoveryLogReporter) corruption(bytes int, err error) {
	if r.err == nil {
		r.err = err
	}
}

// recover rebuilds the version set from the best of up to three MANIFEST
// candidates: the two rotating slots and whichever file CURRENT names. A
// corrupt candidate is skipped as long as another one supplies next_file,
// log_number and last_sequence; a missing prev_log_number counts as 0 and
// does not reject the candidate. The winner is the candidate whose
// (last_sequence, next_file, log_number, prev_log_number) tuple is
// componentwise greatest, compared in that priority order.
func (s *versionSet) recover() error {
	dscnames := make([]string, 3)
	dscnames[0] = descriptorFileName(s.dbname, 1)
	if !s.env.FileExists(dscnames[0]) {
		dscnames[0] = ""
	}
	dscnames[1] = descriptorFileName(s.dbname, 2)
	if !s.env.FileExists(dscnames[1]) {
		dscnames[1] = ""
	}

	var firstErr error
	keepErr := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if s.env.FileExists(currentFileName(s.dbname)) {
		current, err := shaledb.ReadFileToString(s.env, currentFileName(s.dbname))
		if err == nil && len(current) != 0 {
			if current[len(current)-1] != '\n' {
				err = util.CorruptionError("CURRENT file does not end with newline")
			} else {
				current = current[:len(current)-1]
				dscnames[2] = s.dbname + "/" + current
				if dscnames[2] == dscnames[0] || dscnames[2] == dscnames[1] {
					dscnames[2] = ""
				}
			}
		}
		if err != nil {
			shaledb.Log(s.options.InfoLog, "CURRENT read: %v", err)
			keepErr(err)
		}
	}

	base := s.current
	base.ref()
	defer base.unref()

	candidates := make([]*versionBuilder, 3)
	defer func() {
		for _, b := range candidates {
			if b != nil {
				b.release()
			}
		}
	}()

	var selected *versionBuilder
	selectedIndex := -1
	var finalNextFile, finalLogNumber, finalPrevLogNumber uint64
	var finalLastSeq sequenceNumber

	for i, dscname := range dscnames {
		if dscname == "" {
			continue
		}
		file, err := s.env.NewSequentialFile(dscname)
		if err != nil {
			shaledb.Log(s.options.InfoLog, "MANIFEST open: %v", err)
			keepErr(err)
			continue
		}

		var (
			haveLogNumber     bool
			havePrevLogNumber bool
			haveNextFile      bool
			haveLastSequence  bool
			nextFile          uint64
			lastSeq           sequenceNumber
			logNumber         uint64
			prevLogNumber     uint64
		)
		builder := newVersionBuilder(s, base)

		reporter := &recoveryLogReporter{}
		reader := newLogReader(file, reporter, true, 0)
		for err == nil {
			record, ok := reader.readRecord()
			if !ok {
				break
			}
			if reporter.err != nil {
				err = reporter.err
				break
			}
			edit := newVersionEdit()
			if err = edit.decodeFrom(record); err == nil {
				if edit.hasComparator && edit.comparator != s.icmp.userComparator.Name() {
					err = util.InvalidArgumentError(
						edit.comparator+" does not match existing comparator ",
						s.icmp.userComparator.Name())
				}
			}
			if err == nil {
				err = builder.apply(edit)
			}
			if edit.hasLogNumber {
				logNumber = edit.logNumber
				haveLogNumber = true
			}
			if edit.hasPrevLogNumber {
				prevLogNumber = edit.prevLogNumber
				havePrevLogNumber = true
			}
			if edit.hasNextFileNumber {
				nextFile = edit.nextFileNumber
				haveNextFile = true
			}
			if edit.hasLastSequence {
				lastSeq = edit.lastSequence
				haveLastSequence = true
			}
		}
		file.Close()
		if err == nil {
			err = reporter.err
		}

		if err == nil {
			if !haveNextFile {
				err = util.CorruptionError("no next_file entry in descriptor")
			} else if !haveLogNumber {
				err = util.CorruptionError("no log_number entry in descriptor")
			} else if !haveLastSequence {
				err = util.CorruptionError("no last_seq_number entry in descriptor")
			}
			if !havePrevLogNumber {
				prevLogNumber = 0
			}
			s.markFileNumberUsed(prevLogNumber)
			s.markFileNumberUsed(logNumber)
		}

		if err != nil {
			builder.release()
			shaledb.Log(s.options.InfoLog, "MANIFEST read %s: %v", dscname, err)
			keepErr(err)
			continue
		}
		candidates[i] = builder
		if lastSeq >= finalLastSeq && nextFile >= finalNextFile {
			if logNumber >= finalLogNumber {
				if prevLogNumber >= finalPrevLogNumber {
					finalLastSeq = lastSeq
					finalNextFile = nextFile
					finalLogNumber = logNumber
					finalPrevLogNumber = prevLogNumber
					selected = builder
					selectedIndex = i
				}
			}
		}
	}

	if selected == nil {
		if firstErr != nil {
			return firstErr
		}
		return util.CorruptionError(s.dbname, "no valid manifest available")
	}

	v := newVersion(s)
	if err := selected.saveTo(v); err != nil {
		v.destroy()
		return err
	}
	s.finalizeVersion(v)
	s.appendVersion(v)

	if !s.options.RotatingManifest {
		s.nextFileNumber = finalNextFile + 1
		s.manifestFileNumber = finalNextFile
	} else {
		// The winner occupies one rotating slot; write the other next so a
		// crash mid-write leaves the winner intact.
		s.nextFileNumber = finalNextFile
		if selectedIndex == 0 {
			s.manifestFileNumber = 2
		} else {
			s.manifestFileNumber = 1
		}
	}
	s.logNumber = finalLogNumber
	s.prevLogNumber = finalPrevLogNumber
	s.lastSequence = finalLastSeq
	return nil
}

func (s *versionSet) markFileNumberUsed(number uint64) {
	if s.nextFileNumber <= number {
		s.nextFileNumber = number + 1
	}
}

func (s *versionSet) newFileNumber() uint64 {
	n := s.nextFileNumber
	s.nextFileNumber++
	return n
}

// reuseFileNumber hands back the most recently allocated number when its
// intended file was never created.
func (s *versionSet) reuseFileNumber(fileNumber uint64) {
	if s.nextFileNumber == fileNumber+1 {
		s.nextFileNumber = fileNumber
	}
}

func (s *versionSet) setLastSequence(seq sequenceNumber) {
	if seq < s.lastSequence {
		panic("versionSet: last sequence moves backwards")
	}
	s.lastSequence = seq
}

// finalizeVersion precomputes the best level for the next size-triggered
// compaction.
func (s *versionSet) finalizeVersion(v *version) {
	bestLevel := -1
	bestScore := float64(-1)

	if s.options.EnableSublevel {
		for level := 0; level < len(v.inputPool)-1; level++ {
			var score float64
			if level == 0 {
				score = float64(len(v.files[0])) / float64(s.options.L0CompactionTrigger)
			} else {
				bytes := totalFileSize(poolFiles(v, v.inputPool, level)) +
					totalFileSize(poolFiles(v, v.outputPool, level))
				score = float64(bytes) / maxBytesForLevel(s.options, level)
			}
			if score > bestScore {
				bestLevel = level
				bestScore = score
			}
		}
	} else {
		for level := 0; level < len(v.files)-1; level++ {
			var score float64
			if level == 0 {
				// Level 0 is scored by file count, not bytes: its files are
				// all consulted on every read, so many small files hurt even
				// when their total size is modest.
				score = float64(len(v.files[level])) / float64(s.options.L0CompactionTrigger)
			} else {
				bytes := totalFileSize(v.files[level])
				score = float64(bytes) / maxBytesForLevel(s.options, level)
			}
			if score > bestScore {
				bestLevel = level
				bestScore = score
			}
		}
	}
	v.compactionLevel = bestLevel
	v.compactionScore = bestScore
}

// writeSnapshot emits the entire current state as one edit, the first
// record of a fresh MANIFEST.
func (s *versionSet) writeSnapshot(log *logWriter) error {
	edit := newVersionEdit()
	edit.setComparatorName(s.icmp.userComparator.Name())

	for level := range s.compactPointer {
		if len(s.compactPointer[level]) > 0 {
			var key internalKey
			key.decodeFrom(s.compactPointer[level])
			edit.setCompactPointer(level, key)
		}
	}
	for level := range s.current.files {
		for _, f := range s.current.files[level] {
			edit.addFile(level, f.number, f.fileSize, f.seqOff, f.smallest, f.largest)
		}
	}

	var record []byte
	edit.encodeTo(&record)
	return log.addRecord(record)
}

func (s *versionSet) numLevelFiles(level int) int {
	return s.current.numFilesInLevel(level)
}

func (s *versionSet) numLevelBytes(level int) int64 {
	return s.current.numBytesInLevel(level)
}

func (s *versionSet) levelSummary() string {
	var b strings.Builder
	b.WriteString("files[")
	if s.options.EnableSublevel {
		for level := range s.current.inputPool {
			fmt.Fprintf(&b, " %d@%d&%d", s.current.numFilesInLevel(level),
				s.current.inputPool[level].length, s.current.outputPool[level].length)
		}
	} else {
		for level := range s.current.files {
			fmt.Fprintf(&b, " %d", len(s.current.files[level]))
		}
	}
	b.WriteString(" ]")
	return b.String()
}

// approximateOffsetOf estimates the byte offset of ikey within the keyspace
// of v: whole files before it count fully, the containing file counts
// partially via its index.
func (s *versionSet) approximateOffsetOf(v *version, ikey *internalKey) uint64 {
	var result uint64
	for level := range v.files {
		for _, f := range v.files[level] {
			if s.icmp.compareKey(&f.largest, ikey) <= 0 {
				result += f.fileSize
			} else if s.icmp.compareKey(&f.smallest, ikey) > 0 {
				if level > 0 {
					break
				}
			} else {
				var tablePtr *table.Table
				iter := s.tableCache.newIterator(shaledb.NewReadOptions(), f.number, f.fileSize, f.seqOff, &tablePtr)
				if tablePtr != nil {
					result += tablePtr.ApproximateOffsetOf(ikey.encode())
				}
				iter.Close()
			}
		}
	}
	return result
}

// addLiveFiles unions the file numbers referenced by every live version.
// The garbage collector deletes only table files outside this set.
func (s *versionSet) addLiveFiles(live map[uint64]struct{}) {
	for v := s.dummyVersions.next; v != &s.dummyVersions; v = v.next {
		for level := range v.files {
			for _, f := range v.files[level] {
				live[f.number] = struct{}{}
			}
		}
	}
}

func (s *versionSet) liveFiles() map[uint64]struct{} {
	live := make(map[uint64]struct{})
	s.addLiveFiles(live)
	return live
}

func (s *versionSet) maxNextLevelOverlappingBytes() int64 {
	var result int64
	var overlaps []*fileMetaData
	for level := 1; level+1 < len(s.current.files); level++ {
		for _, f := range s.current.files[level] {
			s.current.getOverlappingInputs(level+1, &f.smallest, &f.largest, &overlaps)
			if sum := totalFileSize(overlaps); sum > result {
				result = sum
			}
		}
	}
	return result
}

// getRange stores the minimal key range covering all of inputs.
// REQUIRES: inputs is not empty.
func (s *versionSet) getRange(inputs []*fileMetaData, smallest, largest *internalKey) {
	if len(inputs) == 0 {
		panic("versionSet: getRange over no inputs")
	}
	smallest.clear()
	largest.clear()
	for i, f := range inputs {
		if i == 0 {
			*smallest = f.smallest
			*largest = f.largest
			continue
		}
		if s.icmp.compareKey(&f.smallest, smallest) < 0 {
			*smallest = f.smallest
		}
		if s.icmp.compareKey(&f.largest, largest) > 0 {
			*largest = f.largest
		}
	}
}

func (s *versionSet) getRange2(inputs1, inputs2 []*fileMetaData, smallest, largest *internalKey) {
	all := make([]*fileMetaData, 0, len(inputs1)+len(inputs2))
	all = append(all, inputs1...)
	all = append(all, inputs2...)
	s.getRange(all, smallest, largest)
}

// makeInputIterator merges every input lane of c into one stream for the
// compaction executor. Overlapping lanes (level 0) contribute one iterator
// per file; sorted lanes contribute a concatenating iterator each.
func (s *versionSet) makeInputIterator(c *compaction) shaledb.Iterator {
	options := shaledb.NewReadOptions()
	options.VerifyChecksums = s.options.ParanoidChecks
	options.FillCache = false

	totalLanes := 2
	baseLevel := c.level
	if s.options.EnableSublevel {
		totalLanes = len(c.inputs)
		baseLevel = c.baseInputSublevel
	}
	space := totalLanes
	if c.level == 0 {
		space = len(c.inputs[0]) + 1
	}
	list := make([]shaledb.Iterator, 0, space)
	for which := 0; which < totalLanes; which++ {
		if len(c.inputs[which]) == 0 {
			continue
		}
		if baseLevel+which == 0 {
			for _, f := range c.inputs[which] {
				list = append(list, s.tableCache.newIterator(options, f.number, f.fileSize, f.seqOff, nil))
			}
		} else {
			list = append(list, table.NewTwoLevelIterator(
				newLevelFileNumIterator(s.icmp, c.inputs[which]), getFileIterator, s.tableCache, options))
		}
	}
	return table.NewMergingIterator(s.icmp, list)
}

// getFileIterator opens the table named by a 24-byte level-file value.
func getFileIterator(arg interface{}, options *shaledb.ReadOptions, fileValue []byte) shaledb.Iterator {
	cache := arg.(*tableCache)
	if len(fileValue) != 24 {
		return shaledb.NewErrorIterator(util.CorruptionError("FileReader invoked with unexpected value"))
	}
	return cache.newIterator(options,
		util.DecodeFixed64(fileValue),
		util.DecodeFixed64(fileValue[8:]),
		util.DecodeFixed64(fileValue[16:]), nil)
}

func (s *versionSet) needsCompaction() bool {
	v := s.current
	return v.compactionScore >= 1 || v.fileToCompact != nil
}

// pickCompaction selects the inputs for the next background compaction,
// or returns nil when none is warranted. Size-triggered compactions take
// priority over seek-triggered ones.
func (s *versionSet) pickCompaction(allowSeekCompaction bool) (*compaction, error) {
	var (
		c     *compaction
		level int
	)
	sizeCompaction := s.current.compactionScore >= 1
	seekCompaction := s.current.fileToCompact != nil
	switch {
	case sizeCompaction:
		level = s.current.compactionLevel
		if level < 0 {
			panic("versionSet: negative compaction level")
		}
		c = newCompaction(s.options, level, s)
		if s.options.EnableSublevel {
			if err := s.setupSublevelInputs(level, c); err != nil {
				c.releaseInputs()
				return nil, err
			}
			s.options.Metrics.CompactionPicked("size")
			return c, nil
		}
		// Round-robin across the keyspace: take the first file past the
		// compact pointer, wrapping to the start when none remains.
		for _, f := range s.current.files[level] {
			if len(s.compactPointer[level]) == 0 ||
				s.icmp.Compare(f.largest.encode(), s.compactPointer[level]) > 0 {
				c.inputs[0] = append(c.inputs[0], f)
				break
			}
		}
		if len(c.inputs[0]) == 0 {
			c.inputs[0] = append(c.inputs[0], s.current.files[level][0])
		}
		s.options.Metrics.CompactionPicked("size")
	case allowSeekCompaction && seekCompaction:
		level = s.current.fileToCompactLevel
		c = newCompaction(s.options, level, s)
		c.inputs[0] = append(c.inputs[0], s.current.fileToCompact)
		s.options.Metrics.CompactionPicked("seek")
	default:
		return nil, nil
	}

	// Level-0 files overlap each other, so widen to the full transitive
	// overlap of the seed. The sweep discards the seed and rebuilds the
	// input set including it.
	if level == 0 {
		smallest, largest := new(internalKey), new(internalKey)
		s.getRange(c.inputs[0], smallest, largest)
		s.current.getOverlappingInputs(0, smallest, largest, &c.inputs[0])
		if len(c.inputs[0]) == 0 {
			panic("versionSet: empty level-0 compaction")
		}
	}
	s.setupOtherInputs(c)
	return c, nil
}

func findLargestKey(icmp *internalKeyComparator, files []*fileMetaData) (*internalKey, bool) {
	if len(files) == 0 {
		return nil, false
	}
	largest := &files[0].largest
	for _, f := range files {
		if icmp.compareKey(&f.largest, largest) > 0 {
			largest = &f.largest
		}
	}
	return largest, true
}

func findSmallestBoundaryFile(icmp *internalKeyComparator, levelFiles []*fileMetaData, largestKey *internalKey) *fileMetaData {
	ucmp := icmp.userComparator
	var boundary *fileMetaData
	for _, f := range levelFiles {
		if icmp.compareKey(&f.smallest, largestKey) > 0 &&
			ucmp.Compare(f.smallest.userKey(), largestKey.userKey()) == 0 {
			if boundary == nil || icmp.compareKey(&f.smallest, &boundary.smallest) < 0 {
				boundary = f
			}
		}
	}
	return boundary
}

// addBoundaryInputs pulls in files whose smallest key shares the user key
// of the current largest input. Leaving such a file behind would let a
// later get find its older record at this level before reaching the
// compacted, newer one below.
func addBoundaryInputs(icmp *internalKeyComparator, levelFiles []*fileMetaData, compactionFiles *[]*fileMetaData) {
	largestKey, ok := findLargestKey(icmp, *compactionFiles)
	if !ok {
		return
	}
	for {
		boundary := findSmallestBoundaryFile(icmp, levelFiles, largestKey)
		if boundary == nil {
			return
		}
		*compactionFiles = append(*compactionFiles, boundary)
		largestKey = &boundary.largest
	}
}

func (s *versionSet) setupOtherInputs(c *compaction) {
	level := c.level
	smallest, largest := new(internalKey), new(internalKey)
	addBoundaryInputs(s.icmp, s.current.files[level], &c.inputs[0])
	s.getRange(c.inputs[0], smallest, largest)

	if level+1 < len(s.current.files) {
		s.current.getOverlappingInputs(level+1, smallest, largest, &c.inputs[1])
	}

	allStart, allLimit := new(internalKey), new(internalKey)
	s.getRange2(c.inputs[0], c.inputs[1], allStart, allLimit)

	// Try to grow the lower input set while the upper one stays fixed and
	// the total stays under the expansion budget.
	if len(c.inputs[1]) != 0 {
		var expanded0 []*fileMetaData
		s.current.getOverlappingInputs(level, allStart, allLimit, &expanded0)
		inputs0Size := totalFileSize(c.inputs[0])
		inputs1Size := totalFileSize(c.inputs[1])
		expanded0Size := totalFileSize(expanded0)
		if len(expanded0) > len(c.inputs[0]) &&
			inputs1Size+expanded0Size < expandedCompactionByteSizeLimit(s.options) {
			newStart, newLimit := new(internalKey), new(internalKey)
			s.getRange(expanded0, newStart, newLimit)
			var expanded1 []*fileMetaData
			s.current.getOverlappingInputs(level+1, newStart, newLimit, &expanded1)
			if len(expanded1) == len(c.inputs[1]) {
				shaledb.Log(s.options.InfoLog,
					"Expanding@%d %d+%d (%d+%d bytes) to %d+%d (%d+%d bytes)",
					level, len(c.inputs[0]), len(c.inputs[1]), inputs0Size, inputs1Size,
					len(expanded0), len(expanded1), expanded0Size, inputs1Size)
				smallest = newStart
				largest = newLimit
				c.inputs[0] = expanded0
				c.inputs[1] = expanded1
				s.getRange2(c.inputs[0], c.inputs[1], allStart, allLimit)
			}
		}
	}

	// Grandparents bound how big an output file may grow before it would
	// make the next compaction down too expensive.
	if level+2 < len(s.current.files) {
		s.current.getOverlappingInputs(level+2, allStart, allLimit, &c.grandparents)
	}

	// Advance the compact pointer now rather than when the edit applies:
	// if this compaction fails, the next attempt covers different keys.
	s.compactPointer[level] = append([]byte(nil), largest.encode()...)
	c.edit.setCompactPointer(level, *largest)
}

// compactRange plans a compaction covering [begin, end] at the given
// level. For level >= 1 the input set is clipped so one call never turns
// into a megacompaction.
func (s *versionSet) compactRange(level int, begin, end *internalKey) (*compaction, error) {
	if s.options.EnableSublevel {
		if begin != nil {
			return nil, util.NotSupportedError("compactRange with explicit start in sublevel mode")
		}
		return nil, nil
	}
	if level+1 >= len(s.current.files) {
		return nil, nil
	}
	var inputs []*fileMetaData
	s.current.getOverlappingInputs(level, begin, end, &inputs)
	if len(inputs) == 0 {
		return nil, nil
	}

	// Level-0 inputs may overlap each other, so they cannot be clipped:
	// dropping a newer file while keeping an older overlapping one would
	// resurrect dead data.
	if level > 0 {
		limit := maxFileSizeForLevel(s.options, level)
		var total uint64
		for i, f := range inputs {
			total += f.fileSize
			if total >= limit {
				inputs = inputs[:i+1]
				break
			}
		}
	}

	c := newCompaction(s.options, level, s)
	c.inputs[0] = inputs
	s.setupOtherInputs(c)
	s.options.Metrics.CompactionPicked("range")
	return c, nil
}
