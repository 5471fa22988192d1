package db

import (
	"shaledb/util"
)

// reorganizeSublevels rewrites v's flattened sublevel layout after an
// edit. The builder has already merged files row by row against the
// current layout; this pass drops empty lanes, prepends a fresh input lane
// where a finished compaction made room, stages oversized levels for
// compaction by moving their input lanes into the output pool, and keeps
// the terminal empty level invariant.
//
// On any inconsistency the error leaves the current version untouched;
// the caller discards v.
func (s *versionSet) reorganizeSublevels(v *version, edit *versionEdit) error {
	cur := s.current
	if len(v.inputPool) != len(v.outputPool) {
		return util.CorruptionError("sublevel pools out of sync")
	}

	files := v.files
	newFiles := make([][]*fileMetaData, 0, len(files)+1)
	inputPool := make([]poolEntry, 0, len(cur.inputPool)+1)
	outputPool := make([]poolEntry, 0, len(cur.outputPool)+1)

	newInputSublevel := false
	for level := 0; level < len(cur.inputPool); level++ {
		if level == 0 {
			newFiles = append(newFiles, files[0])
			inputPool = append(inputPool, poolEntry{0, 1})
			outputPool = append(outputPool, poolEntry{0, 1})
			// A deletion at level 0 means a level-0 compaction just
			// finished; its output needs a fresh input lane one level down.
			for df := range edit.deletedFiles {
				if df.level == 0 {
					newInputSublevel = true
					break
				}
			}
			continue
		}

		baseSublevel := len(newFiles)
		var bytes int64
		first := true
		if newInputSublevel {
			newFiles = append(newFiles, nil)
			first = false
		}
		for i := 0; i < cur.inputPool[level].length; i++ {
			row := cur.inputPool[level].base + i
			if row >= len(files) {
				return util.CorruptionError("sublevel input pool past file rows")
			}
			// Keep non-empty lanes; the top lane survives even when empty
			// so the level always has an input target.
			if first || len(files[row]) != 0 {
				bytes += totalFileSize(files[row])
				newFiles = append(newFiles, files[row])
			}
			first = false
		}
		if first {
			return util.CorruptionError("level lost every input sublevel")
		}
		length := len(newFiles) - baseSublevel
		inputPool = append(inputPool, poolEntry{baseSublevel, length})

		newInputSublevel = false
		baseSublevel = len(newFiles)
		for i := 0; i < cur.outputPool[level].length; i++ {
			row := cur.outputPool[level].base + i
			if row >= len(files) {
				return util.CorruptionError("sublevel output pool past file rows")
			}
			if len(files[row]) != 0 {
				newFiles = append(newFiles, files[row])
			}
		}
		length = len(newFiles) - baseSublevel
		if length == 0 && level+1 < len(cur.inputPool) && cur.inputPool[level+1].length > 0 {
			newInputSublevel = true
		}

		if length == 0 && bytes >= int64(maxBytesForLevel(s.options, level)) {
			// The level is over budget with nothing staged: rotate every
			// input lane but the top one into the output pool so the next
			// pick has inputs to consume.
			in := &inputPool[len(inputPool)-1]
			if in.length == 1 {
				// A single input lane is both the top lane and the staged
				// data; split it by moving its contents down one row.
				last := len(newFiles) - 1
				if in.base != last {
					return util.CorruptionError("single input sublevel is not the last row")
				}
				newFiles = append(newFiles, newFiles[last])
				newFiles[last] = nil
				in.length = 2
			}
			moved := in.length - 1
			if moved == 0 {
				return util.CorruptionError("no sublevel available to stage for compaction")
			}
			in.length = 1
			outputPool = append(outputPool, poolEntry{in.base + 1, moved})
		} else {
			outputPool = append(outputPool, poolEntry{baseSublevel, length})
			// A level that scores a size compaction must have staged
			// output lanes to feed it.
			if length == 0 {
				staged := totalFileSize(poolFilesIn(newFiles, inputPool[len(inputPool)-1]))
				if float64(staged) >= maxBytesForLevel(s.options, level) {
					return util.CorruptionError("level over budget with empty output pool")
				}
			}
		}
	}

	if len(inputPool) != len(outputPool) {
		return util.CorruptionError("sublevel pools out of sync after reorganization")
	}
	if outputPool[len(outputPool)-1].length > 0 {
		// Make room for compacting the last level: open a new terminal
		// level with one empty input lane and a zero-length output pool.
		newFiles = append(newFiles, nil)
		inputPool = append(inputPool, poolEntry{len(newFiles) - 1, 1})
		outputPool = append(outputPool, poolEntry{len(newFiles), 0})
	}
	last := outputPool[len(outputPool)-1]
	if last.base != len(newFiles) || last.length != 0 {
		return util.CorruptionError("terminal sublevel pool is not empty")
	}

	v.files = newFiles
	v.inputPool = inputPool
	v.outputPool = outputPool
	return nil
}

func poolFilesIn(files [][]*fileMetaData, p poolEntry) []*fileMetaData {
	var out []*fileMetaData
	for i := p.base; i < p.base+p.length; i++ {
		out = append(out, files[i]...)
	}
	return out
}

// setupSublevelInputs fills c.inputs with one slot per lane of the
// level's output pool. The range starts at the globally smallest file
// across the lanes and the right bound grows until no lane has a file
// leaking over it.
func (s *versionSet) setupSublevelInputs(level int, c *compaction) error {
	cur := s.current
	if level < 0 || level >= len(cur.outputPool) {
		return util.CorruptionError("compaction level outside sublevel layout")
	}
	if cur.outputPool[level].length == 0 {
		return util.CorruptionError("size compaction picked a level with no staged sublevels")
	}
	if len(c.inputs) != cur.outputPool[level].length ||
		c.baseInputSublevel != cur.outputPool[level].base {
		return util.CorruptionError("compaction lanes do not match the output pool")
	}
	if level+1 >= len(cur.inputPool) || cur.inputPool[level+1].length == 0 {
		return util.CorruptionError("no input sublevel to receive compaction output")
	}

	// Seed with the smallest left bound over every non-empty lane.
	var f *fileMetaData
	sublevel := -1
	for i := 0; i < cur.outputPool[level].length; i++ {
		row := cur.outputPool[level].base + i
		if len(cur.files[row]) == 0 {
			continue
		}
		if f == nil || s.icmp.compareKey(&cur.files[row][0].smallest, &f.smallest) < 0 {
			f = cur.files[row][0]
			sublevel = i
		}
	}
	if f == nil {
		return util.CorruptionError("every staged sublevel is empty")
	}
	leftBound := f.smallest
	rightBound := f.largest

	if level > 0 {
		c.startKey = leftBound
		ucmp := s.icmp.userComparator
		rowStart := cur.outputPool[level].base
		nextVisit := make([]int, cur.outputPool[level].length)
		nextVisit[sublevel] = 1
		for changed := true; changed; {
			changed = false
			for i := range nextVisit {
				row := rowStart + i
				rightKey := rightBound.userKey()
				for nextVisit[i] < len(cur.files[row]) &&
					ucmp.Compare(cur.files[row][nextVisit[i]].largest.userKey(), rightKey) <= 0 {
					nextVisit[i]++
				}
				if nextVisit[i] == len(cur.files[row]) {
					continue
				}
				next := cur.files[row][nextVisit[i]]
				if ucmp.Compare(next.smallest.userKey(), rightBound.userKey()) <= 0 {
					rightBound = next.largest
					changed = true
					nextVisit[i]++
				}
			}
		}
	}

	for i := range c.inputs {
		row := cur.outputPool[level].base + i
		cur.getOverlappingInputs(row, &leftBound, &rightBound, &c.inputs[i])
	}
	return nil
}
