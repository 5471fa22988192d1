package shaledb

import (
	"log"

	"shaledb/metrics"
)

// Options controls the behavior of the storage engine. Zero values are not
// meaningful; construct with NewOptions and override what you need.
type Options struct {
	Comparator Comparator
	Env        Env
	InfoLog    *log.Logger

	CreateIfMissing bool
	ErrorIfExists   bool

	// ParanoidChecks makes readers verify block checksums aggressively.
	ParanoidChecks bool

	// TableFileSize is the target size of one table file and the base unit
	// for every per-level byte budget.
	TableFileSize int

	// LevelFactor is the size ratio between adjacent levels. It also bounds
	// grandparent overlap: a compaction output stops growing once it
	// overlaps LevelFactor*TableFileSize bytes two levels down.
	LevelFactor int

	// L0CompactionTrigger is the number of level-0 files that forces a
	// level-0 compaction.
	L0CompactionTrigger int

	// L1CompactionTrigger scales the byte budget of level 1:
	// maxBytesForLevel(1) = L1CompactionTrigger * TableFileSize.
	L1CompactionTrigger int

	// EnableSublevel switches the version set to the sublevel regime where
	// each level is split into an input pool and an output pool of lanes.
	EnableSublevel bool

	// RotatingManifest alternates between MANIFEST-1 and MANIFEST-2 rather
	// than minting fresh descriptor files referenced by CURRENT.
	RotatingManifest bool

	// EnableShouldStopBefore lets the planner split compaction outputs on
	// grandparent overlap.
	EnableShouldStopBefore bool

	MaxOpenFiles    int
	BlockSize       int
	CompressionType CompressionType

	// Metrics receives planner and version-set instrumentation when
	// non-nil.
	Metrics *metrics.Collector
}

func NewOptions() *Options {
	return &Options{
		Comparator:             BytewiseComparator,
		Env:                    DefaultEnv(),
		TableFileSize:          2 * 1024 * 1024,
		LevelFactor:            10,
		L0CompactionTrigger:    4,
		L1CompactionTrigger:    5,
		EnableShouldStopBefore: true,
		MaxOpenFiles:           1000,
		BlockSize:              4 * 1024,
		CompressionType:        SnappyCompression,
	}
}

// ReadOptions shapes a single read.
type ReadOptions struct {
	VerifyChecksums bool
	FillCache       bool

	// Limit truncates returned values to at most Limit bytes when positive.
	Limit int
}

func NewReadOptions() *ReadOptions {
	return &ReadOptions{FillCache: true}
}
