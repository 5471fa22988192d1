package db

import "shaledb"

// compaction is a plan for merging one batch of input files into the next
// level (or, with sublevels, from a level's output pool into the next
// level's first input lane). It pins the version it was planned against
// until releaseInputs.
type compaction struct {
	options *shaledb.Options
	level   int

	// Sublevel coordinates, -1 when sublevels are disabled.
	// baseInputSublevel is the first row of the source output pool;
	// outputSublevel is the row new tables land in.
	baseInputSublevel int
	outputSublevel    int

	maxOutputFileSize          uint64
	maxGrandParentOverlapBytes int64
	maxCompactionSize          int64

	inputVersion *version
	edit         *versionEdit

	// inputs[0] is the source level, inputs[1] the parent level. In
	// sublevel mode there is one slot per source lane instead.
	inputs [][]*fileMetaData

	grandparents []*fileMetaData

	// startKey is the left bound chosen by sublevel input selection.
	startKey internalKey

	// State for shouldStopBefore, fed a monotonically increasing key
	// stream by the executor.
	grandparentIndex int
	seenKey          bool
	overlappedBytes  int64

	// levelPtrs[l] remembers how far isBaseLevelForKey advanced in level l;
	// keys arrive in increasing order so the cursors never rewind.
	levelPtrs []int
}

func newCompaction(options *shaledb.Options, level int, vset *versionSet) *compaction {
	c := &compaction{
		options:                    options,
		level:                      level,
		baseInputSublevel:          -1,
		outputSublevel:             -1,
		maxOutputFileSize:          maxFileSizeForLevel(options, level),
		maxGrandParentOverlapBytes: maxGrandParentOverlapBytes(options),
		maxCompactionSize:          -1,
		inputVersion:               vset.current,
		edit:                       newVersionEdit(),
	}
	c.inputVersion.ref()
	if options.EnableSublevel {
		current := vset.current
		c.maxCompactionSize = maxCompactionSizeForLevel(options, level)
		if level < len(current.outputPool) {
			c.baseInputSublevel = current.outputPool[level].base
			c.inputs = make([][]*fileMetaData, current.outputPool[level].length)
		}
		if level+1 < len(current.inputPool) {
			c.outputSublevel = current.inputPool[level+1].base
		}
	} else {
		c.inputs = make([][]*fileMetaData, 2)
		c.levelPtrs = make([]int, vset.current.numLevels())
	}
	return c
}

func (c *compaction) numInputFiles(which int) int {
	return len(c.inputs[which])
}

func (c *compaction) input(which, i int) *fileMetaData {
	return c.inputs[which][i]
}

func (c *compaction) numInputSublevels() int {
	return len(c.inputs)
}

// getTheOnlyFile returns the single input file of a sublevel trivial move.
func (c *compaction) getTheOnlyFile() *fileMetaData {
	for _, lane := range c.inputs {
		if len(lane) != 0 {
			return lane[0]
		}
	}
	panic("compaction: no input files")
}

// totalNumInputFiles counts input files; with needTruncate set, only those
// starting strictly below truncateKey count.
func (c *compaction) totalNumInputFiles(needTruncate bool, truncateKey *internalKey) int {
	icmp := c.inputVersion.vset.icmp
	count := 0
	for _, lane := range c.inputs {
		for _, f := range lane {
			if needTruncate && icmp.compareKey(&f.smallest, truncateKey) >= 0 {
				break
			}
			count++
		}
	}
	return count
}

func (c *compaction) totalNumInputBytes(needTruncate bool, truncateKey *internalKey) int64 {
	icmp := c.inputVersion.vset.icmp
	var bytes int64
	for _, lane := range c.inputs {
		for _, f := range lane {
			if needTruncate && icmp.compareKey(&f.smallest, truncateKey) >= 0 {
				break
			}
			bytes += int64(f.fileSize)
		}
	}
	return bytes
}

// isTrivialMove reports whether the compaction can be performed as a pure
// rename into the next level. A move is avoided when grandparent overlap
// is heavy; the moved file would only seed an expensive merge later.
func (c *compaction) isTrivialMove() bool {
	if c.options.EnableSublevel {
		return c.totalNumInputFiles(false, nil) == 1
	}
	return c.numInputFiles(0) == 1 && c.numInputFiles(1) == 0 &&
		totalFileSize(c.grandparents) <= c.maxGrandParentOverlapBytes
}

// addInputDeletions records the removal of every input file in edit.
func (c *compaction) addInputDeletions(edit *versionEdit) {
	inputBaseLevel := c.level
	if c.options.EnableSublevel {
		inputBaseLevel = c.baseInputSublevel
	}
	for which := range c.inputs {
		for _, f := range c.inputs[which] {
			edit.deleteFile(inputBaseLevel+which, f.number)
		}
	}
}

// addInputDeletionsOrUpdates records a partial consumption of the inputs
// up to key: files wholly below it are deleted, files straddling it are
// truncated. Sublevel mode only.
func (c *compaction) addInputDeletionsOrUpdates(edit *versionEdit, key internalKey) {
	if !c.options.EnableSublevel {
		panic("compaction: partial input consumption without sublevels")
	}
	edit.setUpdateTruncate(key)
	icmp := c.inputVersion.vset.icmp
	for which := range c.inputs {
		for _, f := range c.inputs[which] {
			if icmp.compareKey(&f.largest, &key) < 0 {
				edit.deleteFile(c.baseInputSublevel+which, f.number)
				continue
			}
			if icmp.compareKey(&f.smallest, &key) < 0 {
				edit.updateFile(c.baseInputSublevel+which, f.number)
			}
			if c.level > 0 {
				// Rows above level 0 are sorted and disjoint; everything
				// after the straddling file lies past the key.
				break
			}
		}
	}
}

// isBaseLevelForKey reports whether no level below the compaction output
// holds data for userKey, which lets the executor drop deletion markers.
func (c *compaction) isBaseLevelForKey(userKey []byte) bool {
	ucmp := c.inputVersion.vset.icmp.userComparator
	for lvl := c.level + 2; lvl < len(c.inputVersion.files); lvl++ {
		files := c.inputVersion.files[lvl]
		for c.levelPtrs[lvl] < len(files) {
			f := files[c.levelPtrs[lvl]]
			if ucmp.Compare(userKey, f.largest.userKey()) <= 0 {
				if ucmp.Compare(userKey, f.smallest.userKey()) >= 0 {
					return false
				}
				break
			}
			c.levelPtrs[lvl]++
		}
	}
	return true
}

// shouldStopBefore reports whether the current output file should be
// finalized before internalKey is appended, keeping any single output's
// grandparent overlap bounded.
func (c *compaction) shouldStopBefore(internalKey []byte) bool {
	if !c.options.EnableShouldStopBefore {
		return false
	}
	if c.options.EnableSublevel {
		return false
	}
	icmp := c.inputVersion.vset.icmp
	for c.grandparentIndex < len(c.grandparents) &&
		icmp.Compare(internalKey, c.grandparents[c.grandparentIndex].largest.encode()) > 0 {
		if c.seenKey {
			c.overlappedBytes += int64(c.grandparents[c.grandparentIndex].fileSize)
		}
		c.grandparentIndex++
	}
	c.seenKey = true
	if c.overlappedBytes > c.maxGrandParentOverlapBytes {
		c.overlappedBytes = 0
		return true
	}
	return false
}

func (c *compaction) releaseInputs() {
	if c.inputVersion != nil {
		c.inputVersion.unref()
		c.inputVersion = nil
	}
}
