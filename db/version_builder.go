package db

import (
	"sort"

	"shaledb/util"
)

// bySmallestKey orders files by smallest key, breaking ties by file number
// so the order is total.
type bySmallestKey struct {
	icmp *internalKeyComparator
}

func (k bySmallestKey) less(f1, f2 *fileMetaData) bool {
	if r := k.icmp.compareKey(&f1.smallest, &f2.smallest); r != 0 {
		return r < 0
	}
	return f1.number < f2.number
}

type builderLevelState struct {
	deletedFiles map[uint64]struct{}
	addedFiles   []*fileMetaData // sorted by bySmallestKey
	updatedFiles map[uint64]struct{}
}

func newBuilderLevelState() builderLevelState {
	return builderLevelState{
		deletedFiles: make(map[uint64]struct{}),
		updatedFiles: make(map[uint64]struct{}),
	}
}

// versionBuilder folds a sequence of edits onto a base version without
// materializing the intermediate versions. It holds a reference on the
// base and on every added file until release.
type versionBuilder struct {
	vset           *versionSet
	base           *version
	levels         []builderLevelState
	truncateKey    internalKey
	hasTruncateKey bool
}

func newVersionBuilder(vset *versionSet, base *version) *versionBuilder {
	b := &versionBuilder{vset: vset, base: base}
	b.base.ref()
	b.levels = make([]builderLevelState, len(base.files))
	for level := range b.levels {
		b.levels[level] = newBuilderLevelState()
	}
	return b
}

// release drops the builder's references. The builder must not be used
// afterwards.
func (b *versionBuilder) release() {
	for level := range b.levels {
		for _, f := range b.levels[level].addedFiles {
			f.refs--
		}
		b.levels[level].addedFiles = nil
	}
	b.base.unref()
	b.base = nil
}

func (b *versionBuilder) growLevels(n int) {
	for len(b.levels) < n {
		b.levels = append(b.levels, newBuilderLevelState())
	}
}

// apply accumulates one edit into the builder state.
func (b *versionBuilder) apply(edit *versionEdit) error {
	if !b.vset.options.EnableSublevel {
		// The level past edit.maxLevel must exist and stay empty; it is the
		// scratch target for the deepest compaction.
		if len(b.vset.compactPointer) <= edit.maxLevel+1 {
			grown := make([][]byte, edit.maxLevel+2)
			copy(grown, b.vset.compactPointer)
			b.vset.compactPointer = grown
		}
		b.growLevels(edit.maxLevel + 2)
		for _, p := range edit.compactPointers {
			b.vset.compactPointer[p.level] = append([]byte(nil), p.key.encode()...)
		}
	} else if edit.maxLevel >= len(b.levels) {
		return util.CorruptionError("edit references a sublevel row past the layout")
	}

	for _, df := range sortedLevelFileNumbers(edit.deletedFiles) {
		b.levels[df.level].deletedFiles[df.number] = struct{}{}
	}

	for _, nf := range edit.newFiles {
		f := new(fileMetaData)
		*f = nf.meta
		f.refs = 1

		// One seek costs about as much as compacting 40KB; budget roughly
		// one seek per 16KB before this file volunteers for compaction.
		f.allowedSeeks = int(f.fileSize / 16384)
		if f.allowedSeeks < 100 {
			f.allowedSeeks = 100
		}

		delete(b.levels[nf.level].deletedFiles, f.number)
		b.insertAdded(nf.level, f)
	}

	if edit.hasTruncateKey {
		b.truncateKey = edit.truncateKey
		b.hasTruncateKey = true
	}
	for uf := range edit.updatedFiles {
		if !b.vset.options.EnableSublevel {
			return util.CorruptionError("updated-file entry without sublevels enabled")
		}
		b.levels[uf.level].updatedFiles[uf.number] = struct{}{}
	}
	return nil
}

func (b *versionBuilder) insertAdded(level int, f *fileMetaData) {
	cmp := bySmallestKey{icmp: b.vset.icmp}
	added := b.levels[level].addedFiles
	pos := sort.Search(len(added), func(i int) bool {
		return cmp.less(f, added[i])
	})
	added = append(added, nil)
	copy(added[pos+1:], added[pos:])
	added[pos] = f
	b.levels[level].addedFiles = added
}

// saveTo merges base files with added files level by level, suppressing
// deletions and applying truncations, and stores the result in v.
func (b *versionBuilder) saveTo(v *version) error {
	cmp := bySmallestKey{icmp: b.vset.icmp}
	for len(v.files) < len(b.levels) {
		v.files = append(v.files, nil)
	}
	for level := range b.levels {
		var baseFiles []*fileMetaData
		if level < len(b.base.files) {
			baseFiles = b.base.files[level]
		}
		added := b.levels[level].addedFiles
		merged := make([]*fileMetaData, 0, len(baseFiles)+len(added))
		v.files[level] = merged
		baseIndex := 0
		for _, f := range added {
			// Base files smaller than f go first to keep the level sorted.
			pos := baseIndex + sort.Search(len(baseFiles)-baseIndex, func(i int) bool {
				return cmp.less(f, baseFiles[baseIndex+i])
			})
			for ; baseIndex < pos; baseIndex++ {
				if err := b.maybeAddFile(v, level, baseFiles[baseIndex]); err != nil {
					return err
				}
			}
			if err := b.maybeAddFile(v, level, f); err != nil {
				return err
			}
		}
		for ; baseIndex < len(baseFiles); baseIndex++ {
			if err := b.maybeAddFile(v, level, baseFiles[baseIndex]); err != nil {
				return err
			}
		}
	}
	if !b.vset.options.EnableSublevel && len(v.files[len(v.files)-1]) != 0 {
		return util.CorruptionError("highest level is not empty after edit")
	}
	return nil
}

func (b *versionBuilder) maybeAddFile(v *version, level int, f *fileMetaData) error {
	if _, deleted := b.levels[level].deletedFiles[f.number]; deleted {
		return nil
	}
	if _, updated := b.levels[level].updatedFiles[f.number]; updated {
		// The file survives with everything below the truncate key cut off:
		// clone it and lift its smallest bound.
		if !b.vset.options.EnableSublevel {
			return util.CorruptionError("updated-file entry without sublevels enabled")
		}
		if !b.hasTruncateKey ||
			b.vset.icmp.compareKey(&f.smallest, &b.truncateKey) >= 0 ||
			b.vset.icmp.compareKey(&f.largest, &b.truncateKey) < 0 {
			return util.CorruptionError("truncate key outside updated file bounds")
		}
		updatedF := new(fileMetaData)
		*updatedF = *f
		updatedF.refs = 1
		updatedF.smallest = b.truncateKey
		v.files[level] = append(v.files[level], updatedF)
		return nil
	}
	files := v.files[level]
	if level > 0 && len(files) != 0 {
		if b.vset.icmp.compareKey(&files[len(files)-1].largest, &f.smallest) >= 0 {
			return util.CorruptionError("overlapping ranges in same level",
				files[len(files)-1].largest.debugString()+" vs. "+f.smallest.debugString())
		}
	}
	f.refs++
	v.files[level] = append(v.files[level], f)
	return nil
}
