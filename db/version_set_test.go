package db

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"shaledb"
	"shaledb/table"
	"shaledb/util"
)

const testDBName = "/vstest"

type findFileHarness struct {
	disjointSortedFiles bool
	files               []*fileMetaData
}

func newFindFileHarness() *findFileHarness {
	return &findFileHarness{disjointSortedFiles: true}
}

func (h *findFileHarness) add(smallest, largest string, smallestSeq, largestSeq sequenceNumber) {
	f := newFileMetaData()
	f.number = uint64(len(h.files) + 1)
	f.smallest = *newInternalKey([]byte(smallest), smallestSeq, shaledb.TypeValue)
	f.largest = *newInternalKey([]byte(largest), largestSeq, shaledb.TypeValue)
	h.files = append(h.files, f)
}

func (h *findFileHarness) find(key string) int {
	target := newInternalKey([]byte(key), 100, shaledb.TypeValue)
	cmp := newInternalKeyComparator(shaledb.BytewiseComparator)
	return findFile(cmp, h.files, target.encode())
}

func (h *findFileHarness) overlaps(smallest, largest []byte) bool {
	cmp := newInternalKeyComparator(shaledb.BytewiseComparator)
	return someFileOverlapsRange(cmp, h.disjointSortedFiles, h.files, smallest, largest)
}

func TestFindFileEmpty(t *testing.T) {
	h := newFindFileHarness()
	require.Equal(t, 0, h.find("foo"))
	require.False(t, h.overlaps([]byte("a"), []byte("z")))
	require.False(t, h.overlaps(nil, []byte("z")))
	require.False(t, h.overlaps([]byte("a"), nil))
	require.False(t, h.overlaps(nil, nil))
}

func TestFindFileSingle(t *testing.T) {
	h := newFindFileHarness()
	h.add("p", "q", 100, 100)
	require.Equal(t, 0, h.find("a"))
	require.Equal(t, 0, h.find("p"))
	require.Equal(t, 0, h.find("p1"))
	require.Equal(t, 0, h.find("q"))
	require.Equal(t, 1, h.find("q1"))
	require.Equal(t, 1, h.find("z"))

	require.False(t, h.overlaps([]byte("a"), []byte("b")))
	require.False(t, h.overlaps([]byte("z1"), []byte("z2")))
	require.True(t, h.overlaps([]byte("a"), []byte("p")))
	require.True(t, h.overlaps([]byte("a"), []byte("q")))
	require.True(t, h.overlaps([]byte("p"), []byte("p1")))
	require.True(t, h.overlaps([]byte("p1"), []byte("z")))
	require.True(t, h.overlaps([]byte("q"), []byte("q")))

	require.False(t, h.overlaps(nil, []byte("j")))
	require.False(t, h.overlaps([]byte("r"), nil))
	require.True(t, h.overlaps(nil, []byte("p")))
	require.True(t, h.overlaps([]byte("q"), nil))
	require.True(t, h.overlaps(nil, nil))
}

func TestFindFileMultiple(t *testing.T) {
	h := newFindFileHarness()
	h.add("150", "200", 100, 100)
	h.add("200", "250", 100, 100)
	h.add("300", "350", 100, 100)
	h.add("400", "450", 100, 100)

	require.Equal(t, 0, h.find("100"))
	require.Equal(t, 0, h.find("200"))
	require.Equal(t, 1, h.find("201"))
	require.Equal(t, 1, h.find("250"))
	require.Equal(t, 2, h.find("251"))
	require.Equal(t, 2, h.find("350"))
	require.Equal(t, 3, h.find("450"))
	require.Equal(t, 4, h.find("451"))

	require.False(t, h.overlaps([]byte("100"), []byte("149")))
	require.False(t, h.overlaps([]byte("251"), []byte("299")))
	require.True(t, h.overlaps([]byte("100"), []byte("150")))
	require.True(t, h.overlaps([]byte("375"), []byte("400")))
	require.True(t, h.overlaps([]byte("450"), []byte("500")))
}

func TestOverlappingSortedFiles(t *testing.T) {
	h := newFindFileHarness()
	h.disjointSortedFiles = false
	h.add("150", "600", 100, 100)
	h.add("400", "500", 100, 100)
	require.False(t, h.overlaps([]byte("100"), []byte("149")))
	require.False(t, h.overlaps([]byte("601"), []byte("700")))
	require.True(t, h.overlaps([]byte("100"), []byte("150")))
	require.True(t, h.overlaps([]byte("450"), []byte("700")))
}

// vsHarness wires a versionSet to an in-memory Env with a fresh database
// already initialized and recovered.
type vsHarness struct {
	t       *testing.T
	env     shaledb.Env
	options *shaledb.Options
	icmp    *internalKeyComparator
	cache   *tableCache
	vset    *versionSet
	mu      sync.Mutex
}

func newVSHarness(t *testing.T, tweak func(*shaledb.Options)) *vsHarness {
	options := shaledb.NewOptions()
	options.Env = shaledb.NewMemEnv()
	options.TableFileSize = 1000
	options.LevelFactor = 10
	options.L1CompactionTrigger = 1
	if tweak != nil {
		tweak(options)
	}
	h := &vsHarness{t: t, env: options.Env, options: options}
	h.icmp = newInternalKeyComparator(options.Comparator)
	h.cache = newTableCache(testDBName, options, h.icmp, options.MaxOpenFiles)
	h.vset = newVersionSet(testDBName, options, h.cache, h.icmp)
	require.NoError(t, h.vset.initialize())
	require.NoError(t, h.vset.recover())
	return h
}

func (h *vsHarness) apply(edit *versionEdit) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vset.logAndApply(edit, &h.mu)
}

func (h *vsHarness) addFile(level int, number, size uint64, smallest, largest string) {
	edit := newVersionEdit()
	edit.addFile(level, number, size, 0,
		*newInternalKey([]byte(smallest), 1, shaledb.TypeValue),
		*newInternalKey([]byte(largest), 1, shaledb.TypeValue))
	require.NoError(h.t, h.apply(edit))
}

func (h *vsHarness) levelNumbers(level int) []uint64 {
	v := h.vset.current
	if level >= len(v.files) {
		return nil
	}
	var out []uint64
	for _, f := range v.files[level] {
		out = append(out, f.number)
	}
	return out
}

// buildTable writes a real table file holding the given user keys and
// registers nothing; callers add the file via an edit.
func (h *vsHarness) buildTable(number uint64, entries map[string]string, seq sequenceNumber, vt shaledb.ValueType) (size uint64, smallest, largest internalKey) {
	users := make([]string, 0, len(entries))
	for k := range entries {
		users = append(users, k)
	}
	sort.Strings(users)
	file, err := h.env.NewWritableFile(tableFileName(testDBName, number))
	require.NoError(h.t, err)
	b := table.NewBuilder(h.options, h.icmp, file)
	for _, u := range users {
		b.Add(ikey(u, seq, vt), []byte(entries[u]))
	}
	require.NoError(h.t, b.Finish())
	require.NoError(h.t, file.Sync())
	require.NoError(h.t, file.Close())
	smallest = *newInternalKey([]byte(users[0]), seq, vt)
	largest = *newInternalKey([]byte(users[len(users)-1]), seq, vt)
	return b.FileSize(), smallest, largest
}

func (h *vsHarness) addTable(level int, number uint64, entries map[string]string, seq sequenceNumber, vt shaledb.ValueType) {
	size, smallest, largest := h.buildTable(number, entries, seq, vt)
	edit := newVersionEdit()
	edit.addFile(level, number, size, 0, smallest, largest)
	require.NoError(h.t, h.apply(edit))
}

func (h *vsHarness) get(key string, options *shaledb.ReadOptions) (string, getStats, error) {
	lk := newLookupKey([]byte(key), 1000)
	value, stats, err := h.vset.current.get(options, lk)
	return string(value), stats, err
}

func TestLogAndApplyInstallsFiles(t *testing.T) {
	h := newVSHarness(t, nil)
	h.addFile(1, 7, 100, "a", "c")
	h.addFile(1, 8, 100, "d", "f")
	h.addFile(2, 9, 100, "a", "z")

	require.Equal(t, []uint64{7, 8}, h.levelNumbers(1))
	require.Equal(t, []uint64{9}, h.levelNumbers(2))
	require.Equal(t, 2, h.vset.numLevelFiles(1))
	require.Equal(t, int64(200), h.vset.numLevelBytes(1))
}

func TestLogAndApplyCountersAreMonotone(t *testing.T) {
	h := newVSHarness(t, nil)
	prevNext := h.vset.nextFileNumber
	prevSeq := h.vset.lastSequence
	for i := 0; i < 5; i++ {
		h.vset.setLastSequence(h.vset.lastSequence + 10)
		key := fmt.Sprintf("a%d", i)
		h.addFile(1, h.vset.newFileNumber(), 50, key, key)
		require.Greater(t, h.vset.nextFileNumber, prevNext)
		require.GreaterOrEqual(t, h.vset.lastSequence, prevSeq)
		prevNext = h.vset.nextFileNumber
		prevSeq = h.vset.lastSequence
	}
}

func TestBuilderRejectsOverlap(t *testing.T) {
	h := newVSHarness(t, nil)
	before := h.vset.current

	edit := newVersionEdit()
	edit.addFile(1, 7, 100, 0,
		*newInternalKey([]byte("a"), 1, shaledb.TypeValue),
		*newInternalKey([]byte("c"), 1, shaledb.TypeValue))
	edit.addFile(1, 8, 100, 0,
		*newInternalKey([]byte("b"), 1, shaledb.TypeValue),
		*newInternalKey([]byte("d"), 1, shaledb.TypeValue))
	err := h.apply(edit)
	require.Error(t, err)
	require.True(t, util.IsCorruption(err))

	// The failed edit must leave the current version untouched.
	require.Same(t, before, h.vset.current)
}

func TestFileRefsFollowVersionLifetimes(t *testing.T) {
	h := newVSHarness(t, nil)
	h.addFile(1, 7, 100, "a", "c")
	v1 := h.vset.current
	f7 := v1.files[1][0]
	require.Equal(t, 1, f7.refs)

	// A reader pins v1 across the next edit.
	v1.ref()

	edit := newVersionEdit()
	edit.deleteFile(1, 7)
	edit.addFile(1, 8, 100, 0,
		*newInternalKey([]byte("a"), 2, shaledb.TypeValue),
		*newInternalKey([]byte("c"), 2, shaledb.TypeValue))
	require.NoError(t, h.apply(edit))

	live := h.vset.liveFiles()
	require.Contains(t, live, uint64(7))
	require.Contains(t, live, uint64(8))
	require.Equal(t, 1, f7.refs)

	// Releasing the reader destroys v1 and drops the deleted file.
	v1.unref()
	require.Zero(t, f7.refs)
	live = h.vset.liveFiles()
	require.NotContains(t, live, uint64(7))
	require.Contains(t, live, uint64(8))
}

func TestRecoveryRoundTrip(t *testing.T) {
	h := newVSHarness(t, nil)
	h.addFile(0, 7, 100, "g", "k")
	h.addFile(1, 8, 200, "a", "c")
	h.addFile(1, 9, 200, "d", "f")
	h.addFile(3, 10, 400, "a", "z")

	wantSeq := h.vset.lastSequence
	wantLog := h.vset.logNumber
	var wantLevels [][]uint64
	for level := range h.vset.current.files {
		wantLevels = append(wantLevels, h.levelNumbers(level))
	}
	h.vset.close()

	for round := 0; round < 2; round++ {
		vset2 := newVersionSet(testDBName, h.options, h.cache, h.icmp)
		require.NoError(t, vset2.recover())
		for level, want := range wantLevels {
			var got []uint64
			if level < len(vset2.current.files) {
				for _, f := range vset2.current.files[level] {
					got = append(got, f.number)
				}
			}
			require.Equal(t, want, got, "level %d", level)
		}
		require.Equal(t, wantSeq, vset2.lastSequence)
		require.Equal(t, wantLog, vset2.logNumber)
		vset2.close()
	}
}

func writeManifest(t *testing.T, env shaledb.Env, name string, edits []*versionEdit) {
	file, err := env.NewWritableFile(name)
	require.NoError(t, err)
	w := newLogWriter(file)
	for _, edit := range edits {
		var record []byte
		edit.encodeTo(&record)
		require.NoError(t, w.addRecord(record))
	}
	require.NoError(t, file.Sync())
	require.NoError(t, file.Close())
}

func counterEdit(comparator string, logNumber, nextFile uint64, lastSeq sequenceNumber, fileNumber uint64) *versionEdit {
	edit := newVersionEdit()
	edit.setComparatorName(comparator)
	edit.setLogNumber(logNumber)
	edit.setPrevLogNumber(0)
	edit.setNextFile(nextFile)
	edit.setLastSequence(lastSeq)
	edit.addFile(1, fileNumber, 100, 0,
		*newInternalKey([]byte("a"), 1, shaledb.TypeValue),
		*newInternalKey([]byte("c"), 1, shaledb.TypeValue))
	return edit
}

func TestRecoveryPicksBestTuple(t *testing.T) {
	options := shaledb.NewOptions()
	options.Env = shaledb.NewMemEnv()
	options.RotatingManifest = true
	icmp := newInternalKeyComparator(options.Comparator)
	cache := newTableCache(testDBName, options, icmp, 100)
	name := options.Comparator.Name()

	writeManifest(t, options.Env, descriptorFileName(testDBName, 1),
		[]*versionEdit{counterEdit(name, 9, 10, 50, 5)})
	writeManifest(t, options.Env, descriptorFileName(testDBName, 2),
		[]*versionEdit{counterEdit(name, 11, 12, 60, 6)})
	require.NoError(t, shaledb.WriteStringToFileSync(options.Env,
		[]byte("MANIFEST-000002\n"), currentFileName(testDBName)))

	vset := newVersionSet(testDBName, options, cache, icmp)
	require.NoError(t, vset.recover())
	defer vset.close()

	require.Len(t, vset.current.files[1], 1)
	require.Equal(t, uint64(6), vset.current.files[1][0].number)
	require.Equal(t, sequenceNumber(60), vset.lastSequence)
	require.Equal(t, uint64(11), vset.logNumber)
	require.Equal(t, uint64(12), vset.nextFileNumber)
	// The loser's slot is reused for the next descriptor.
	require.Equal(t, uint64(1), vset.manifestFileNumber)
}

func TestRecoveryToleratesOneCorruptCandidate(t *testing.T) {
	options := shaledb.NewOptions()
	options.Env = shaledb.NewMemEnv()
	options.RotatingManifest = true
	icmp := newInternalKeyComparator(options.Comparator)
	cache := newTableCache(testDBName, options, icmp, 100)

	// MANIFEST-1 is garbage; MANIFEST-2 is valid.
	file, err := options.Env.NewWritableFile(descriptorFileName(testDBName, 1))
	require.NoError(t, err)
	require.NoError(t, file.Append([]byte("this is not a manifest at all, not even close")))
	require.NoError(t, file.Close())
	writeManifest(t, options.Env, descriptorFileName(testDBName, 2),
		[]*versionEdit{counterEdit(options.Comparator.Name(), 11, 12, 60, 6)})

	vset := newVersionSet(testDBName, options, cache, icmp)
	require.NoError(t, vset.recover())
	defer vset.close()
	require.Equal(t, uint64(6), vset.current.files[1][0].number)

	// With no valid candidate at all, recovery fails.
	options2 := shaledb.NewOptions()
	options2.Env = shaledb.NewMemEnv()
	options2.RotatingManifest = true
	icmp2 := newInternalKeyComparator(options2.Comparator)
	cache2 := newTableCache(testDBName, options2, icmp2, 100)
	vset2 := newVersionSet(testDBName, options2, cache2, icmp2)
	require.Error(t, vset2.recover())
}

func TestForeignApplyAdoptsCounters(t *testing.T) {
	h := newVSHarness(t, nil)
	edit := counterEdit(h.options.Comparator.Name(), 20, 30, 500, 17)
	require.NoError(t, h.vset.foreignApply(edit))
	require.Equal(t, uint64(30), h.vset.nextFileNumber)
	require.Equal(t, sequenceNumber(500), h.vset.lastSequence)
	require.Equal(t, uint64(20), h.vset.logNumber)
	require.Equal(t, []uint64{17}, h.levelNumbers(1))

	// Comparator mismatch is rejected outright.
	bad := counterEdit("someone.else", 40, 50, 600, 18)
	err := h.vset.foreignApply(bad)
	require.Error(t, err)
	require.True(t, util.IsInvalidArgument(err))

	// Counters may not move backwards.
	back := counterEdit(h.options.Comparator.Name(), 5, 6, 7, 19)
	require.Error(t, h.vset.foreignApply(back))
}

func TestGetOverlappingInputsLevel0Closure(t *testing.T) {
	h := newVSHarness(t, func(o *shaledb.Options) { o.L0CompactionTrigger = 100 })
	h.addFile(0, 7, 100, "a", "c")
	h.addFile(0, 8, 100, "b", "e")
	h.addFile(0, 9, 100, "d", "f")
	h.addFile(0, 10, 100, "x", "z")

	var inputs []*fileMetaData
	begin := newInternalKey([]byte("a"), maxSequenceNumber, valueTypeForSeek)
	end := newInternalKey([]byte("c"), 0, shaledb.TypeDeletion)
	h.vset.current.getOverlappingInputs(0, begin, end, &inputs)

	var numbers []uint64
	for _, f := range inputs {
		numbers = append(numbers, f.number)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	require.Equal(t, []uint64{7, 8, 9}, numbers)
}

// Scenario: a single level-0 file with nothing below it moves to level 1
// without being rewritten.
func TestTrivialMove(t *testing.T) {
	h := newVSHarness(t, func(o *shaledb.Options) { o.L0CompactionTrigger = 1 })
	h.addFile(0, 7, 1000, "a", "c")
	require.True(t, h.vset.needsCompaction())

	c, err := h.vset.pickCompaction(true)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, 0, c.level)
	require.Equal(t, 1, c.numInputFiles(0))
	require.Equal(t, 0, c.numInputFiles(1))
	require.Empty(t, c.grandparents)
	require.True(t, c.isTrivialMove())

	f := c.input(0, 0)
	edit := newVersionEdit()
	c.addInputDeletions(edit)
	edit.addFile(c.level+1, f.number, f.fileSize, f.seqOff, f.smallest, f.largest)
	c.releaseInputs()
	require.NoError(t, h.apply(edit))

	require.Empty(t, h.levelNumbers(0))
	require.Equal(t, []uint64{7}, h.levelNumbers(1))
	moved := h.vset.current.files[1][0]
	require.Equal(t, "a", string(moved.smallest.userKey()))
	require.Equal(t, "c", string(moved.largest.userKey()))
}

// Scenario: growing inputs[0] is accepted when it does not drag in more
// level+1 files.
func TestCompactionInputExpansion(t *testing.T) {
	h := newVSHarness(t, func(o *shaledb.Options) {
		o.TableFileSize = 100
		o.L0CompactionTrigger = 100
	})
	h.addFile(1, 4, 300, "a", "c") // A
	h.addFile(1, 5, 200, "d", "f") // B
	h.addFile(2, 6, 100, "b", "e") // X

	require.GreaterOrEqual(t, h.vset.current.compactionScore, 1.0)
	require.Equal(t, 1, h.vset.current.compactionLevel)

	c, err := h.vset.pickCompaction(true)
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.releaseInputs()

	require.Equal(t, 2, c.numInputFiles(0))
	require.Equal(t, []uint64{4, 5}, []uint64{c.input(0, 0).number, c.input(0, 1).number})
	require.Equal(t, 1, c.numInputFiles(1))
	require.Equal(t, uint64(6), c.input(1, 0).number)

	// The compact pointer advanced to the expanded upper bound.
	require.Equal(t, "f", string(extractUserKey(h.vset.compactPointer[1])))
	require.Len(t, c.edit.compactPointers, 1)
}

// Scenario: exhausting a file's seek budget arms a seek-triggered
// compaction for it.
func TestSeekCompactionFires(t *testing.T) {
	h := newVSHarness(t, func(o *shaledb.Options) { o.L0CompactionTrigger = 100 })
	h.addTable(0, 7, map[string]string{"a": "1", "c": "3"}, 5, shaledb.TypeValue)
	h.addTable(1, 8, map[string]string{"b": "hello"}, 4, shaledb.TypeValue)

	f7 := h.vset.current.files[0][0]
	require.Equal(t, 100, f7.allowedSeeks)

	for i := 0; i < 100; i++ {
		value, stats, err := h.get("b", shaledb.NewReadOptions())
		require.NoError(t, err)
		require.Equal(t, "hello", value)
		require.Same(t, f7, stats.seekFile)
		fired := h.vset.current.updateStats(stats)
		require.Equal(t, i == 99, fired)
	}
	require.Same(t, f7, h.vset.current.fileToCompact)
	require.Equal(t, 0, h.vset.current.fileToCompactLevel)

	c, err := h.vset.pickCompaction(true)
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.releaseInputs()
	require.Equal(t, 0, c.level)
	require.Equal(t, uint64(7), c.input(0, 0).number)

	// Seek compactions can be suppressed.
	c2, err := h.vset.pickCompaction(false)
	require.NoError(t, err)
	require.Nil(t, c2)
}

func TestGetHonorsNewestFirstAndLimit(t *testing.T) {
	h := newVSHarness(t, func(o *shaledb.Options) { o.L0CompactionTrigger = 100 })
	h.addTable(0, 7, map[string]string{"b": "old"}, 5, shaledb.TypeValue)
	h.addTable(0, 8, map[string]string{"b": "newest"}, 6, shaledb.TypeValue)

	value, _, err := h.get("b", shaledb.NewReadOptions())
	require.NoError(t, err)
	require.Equal(t, "newest", value)

	limited := shaledb.NewReadOptions()
	limited.Limit = 3
	value, _, err = h.get("b", limited)
	require.NoError(t, err)
	require.Equal(t, "new", value)
}

func TestGetSeesTombstone(t *testing.T) {
	h := newVSHarness(t, func(o *shaledb.Options) { o.L0CompactionTrigger = 100 })
	h.addTable(1, 7, map[string]string{"k": "alive"}, 5, shaledb.TypeValue)
	h.addTable(0, 8, map[string]string{"k": ""}, 6, shaledb.TypeDeletion)

	_, _, err := h.get("k", shaledb.NewReadOptions())
	require.Error(t, err)
	require.True(t, util.IsNotFound(err))
}

func TestRecordReadSampleChargesFirstFile(t *testing.T) {
	h := newVSHarness(t, func(o *shaledb.Options) { o.L0CompactionTrigger = 100 })
	h.addFile(0, 7, 100, "a", "c")
	h.addFile(1, 8, 100, "a", "c")

	f7 := h.vset.current.files[0][0]
	before := f7.allowedSeeks
	h.vset.current.recordReadSample(ikey("b", 1, shaledb.TypeValue))
	require.Equal(t, before-1, f7.allowedSeeks)
}

// Scenario: a memtable output with no overlap below lands at the deepest
// allowed level.
func TestPickLevelForMemTableOutput(t *testing.T) {
	h := newVSHarness(t, func(o *shaledb.Options) { o.L0CompactionTrigger = 100 })
	h.addFile(1, 7, 100, "a", "c")

	v := h.vset.current
	require.Equal(t, 2, v.pickLevelForMemTableOutput([]byte("k"), []byte("m")))
	// Overlap with level 1 keeps the output at level 0.
	require.Equal(t, 0, v.pickLevelForMemTableOutput([]byte("b"), []byte("x")))
	// Overlap with level 0 itself also keeps it at level 0.
	h.addFile(0, 8, 100, "p", "q")
	require.Equal(t, 0, h.vset.current.pickLevelForMemTableOutput([]byte("p"), []byte("z")))
}

// Scenario: the output-splitting cursor fires once grandparent overlap
// passes its budget.
func TestShouldStopBefore(t *testing.T) {
	h := newVSHarness(t, func(o *shaledb.Options) { o.L0CompactionTrigger = 100 })
	h.addFile(1, 9, 100, "q", "s") // keeps the version non-trivial

	c := newCompaction(h.options, 0, h.vset)
	defer c.releaseInputs()
	big := newFileMetaData()
	big.number = 20
	big.fileSize = uint64(maxGrandParentOverlapBytes(h.options)) + 1
	big.smallest = *newInternalKey([]byte("a"), 1, shaledb.TypeValue)
	big.largest = *newInternalKey([]byte("m"), 1, shaledb.TypeValue)
	c.grandparents = []*fileMetaData{big}

	require.False(t, c.shouldStopBefore(ikey("a", 1, shaledb.TypeValue)))
	require.False(t, c.shouldStopBefore(ikey("b", 1, shaledb.TypeValue)))
	require.True(t, c.shouldStopBefore(ikey("n", 1, shaledb.TypeValue)))
	// The counter resets after a stop.
	require.False(t, c.shouldStopBefore(ikey("o", 1, shaledb.TypeValue)))
}

func TestIsBaseLevelForKey(t *testing.T) {
	h := newVSHarness(t, func(o *shaledb.Options) { o.L0CompactionTrigger = 100 })
	h.addFile(2, 7, 100, "k", "m")

	c := newCompaction(h.options, 0, h.vset)
	defer c.releaseInputs()
	require.True(t, c.isBaseLevelForKey([]byte("b")))
	require.False(t, c.isBaseLevelForKey([]byte("k")))
	require.False(t, c.isBaseLevelForKey([]byte("m")))
	require.True(t, c.isBaseLevelForKey([]byte("z")))
}

// Wrap-around: once the compact pointer passes the last file, the next
// size compaction restarts from the first file.
func TestCompactPointerWrapAround(t *testing.T) {
	h := newVSHarness(t, func(o *shaledb.Options) { o.L0CompactionTrigger = 100 })
	h.addFile(1, 7, 600, "a", "b")
	h.addFile(1, 8, 600, "c", "d")
	require.Equal(t, 1, h.vset.current.compactionLevel)

	seeds := make([]uint64, 0, 3)
	for i := 0; i < 3; i++ {
		c, err := h.vset.pickCompaction(true)
		require.NoError(t, err)
		require.NotNil(t, c)
		seeds = append(seeds, c.input(0, 0).number)
		c.releaseInputs()
	}
	require.Equal(t, []uint64{7, 8, 7}, seeds)
}

func TestCompactRangeClipsInput(t *testing.T) {
	h := newVSHarness(t, func(o *shaledb.Options) {
		o.L0CompactionTrigger = 100
		o.TableFileSize = 1000
	})
	h.addFile(1, 7, 800, "a", "b")
	h.addFile(1, 8, 800, "c", "d")
	h.addFile(1, 9, 800, "e", "f")

	begin := newInternalKey([]byte("a"), maxSequenceNumber, valueTypeForSeek)
	end := newInternalKey([]byte("f"), 0, shaledb.TypeDeletion)
	c, err := h.vset.compactRange(1, begin, end)
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.releaseInputs()
	// 800+800 crosses the per-level cap, so the third file is left for a
	// later call.
	require.Equal(t, 2, c.numInputFiles(0))

	empty, err := h.vset.compactRange(1, newInternalKey([]byte("x"), maxSequenceNumber, valueTypeForSeek), nil)
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestAddBoundaryInputs(t *testing.T) {
	icmp := newInternalKeyComparator(shaledb.BytewiseComparator)
	mk := func(number uint64, smallest, largest string, smallSeq, largeSeq sequenceNumber) *fileMetaData {
		f := newFileMetaData()
		f.number = number
		f.smallest = *newInternalKey([]byte(smallest), smallSeq, shaledb.TypeValue)
		f.largest = *newInternalKey([]byte(largest), largeSeq, shaledb.TypeValue)
		return f
	}
	// f2's smallest shares f1's largest user key at a lower sequence, so
	// compacting f1 alone would leave a stale record discoverable first.
	f1 := mk(1, "a", "m", 10, 10)
	f2 := mk(2, "m", "z", 9, 9)
	level := []*fileMetaData{f1, f2}
	inputs := []*fileMetaData{f1}
	addBoundaryInputs(icmp, level, &inputs)
	require.Equal(t, []*fileMetaData{f1, f2}, inputs)
}

func TestLevelSummary(t *testing.T) {
	h := newVSHarness(t, func(o *shaledb.Options) { o.L0CompactionTrigger = 100 })
	h.addFile(0, 7, 100, "a", "c")
	h.addFile(1, 8, 100, "a", "c")
	require.Equal(t, "files[ 1 1 0 ]", h.vset.levelSummary())
}

func TestMakeInputIterator(t *testing.T) {
	h := newVSHarness(t, func(o *shaledb.Options) { o.L0CompactionTrigger = 2 })
	h.addTable(0, 7, map[string]string{"a": "1", "c": "3"}, 5, shaledb.TypeValue)
	h.addTable(0, 8, map[string]string{"b": "2"}, 6, shaledb.TypeValue)

	c, err := h.vset.pickCompaction(true)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, 0, c.level)
	require.Equal(t, 2, c.numInputFiles(0))

	iter := h.vset.makeInputIterator(c)
	var users []string
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		users = append(users, string(extractUserKey(iter.Key())))
	}
	require.NoError(t, iter.Status())
	require.NoError(t, iter.Close())
	require.Equal(t, []string{"a", "b", "c"}, users)
	c.releaseInputs()
}

func TestApproximateOffsetOf(t *testing.T) {
	h := newVSHarness(t, func(o *shaledb.Options) { o.L0CompactionTrigger = 100 })
	h.addTable(1, 7, map[string]string{"a": "1", "c": "3"}, 5, shaledb.TypeValue)
	h.addTable(1, 8, map[string]string{"m": "4", "o": "5"}, 6, shaledb.TypeValue)

	v := h.vset.current
	firstSize := v.files[1][0].fileSize
	// A key past the first file accounts for at least that whole file.
	target := newInternalKey([]byte("n"), 5, shaledb.TypeValue)
	offset := h.vset.approximateOffsetOf(v, target)
	require.GreaterOrEqual(t, offset, firstSize)

	// A key before everything costs nothing.
	early := newInternalKey([]byte("A"), 5, shaledb.TypeValue)
	require.Zero(t, h.vset.approximateOffsetOf(v, early))

	require.Positive(t, h.vset.maxNextLevelOverlappingBytes()+1)
}
