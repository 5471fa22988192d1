// Package metrics exposes Prometheus instrumentation for the version set
// and the compaction planner. A nil *Collector is valid and records
// nothing, so callers never need to guard their call sites.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type Collector struct {
	manifestWrites       prometheus.Counter
	manifestWriteErrors  prometheus.Counter
	compactionsPicked    *prometheus.CounterVec
	seekCompactionsArmed prometheus.Counter
	liveVersions         prometheus.Gauge
	levelFiles           *prometheus.GaugeVec
}

// NewCollector builds a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		manifestWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shaledb_manifest_writes_total",
			Help: "MANIFEST records appended and synced",
		}),
		manifestWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shaledb_manifest_write_errors_total",
			Help: "MANIFEST append or sync failures",
		}),
		compactionsPicked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shaledb_compactions_picked_total",
			Help: "Compactions handed to the executor, by trigger",
		}, []string{"trigger"}),
		seekCompactionsArmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shaledb_seek_compactions_armed_total",
			Help: "Files whose seek budget ran out and became compaction candidates",
		}),
		liveVersions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shaledb_live_versions",
			Help: "Versions currently linked into the version ring",
		}),
		levelFiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shaledb_level_files",
			Help: "Table files per level in the current version",
		}, []string{"level"}),
	}
	reg.MustRegister(
		c.manifestWrites,
		c.manifestWriteErrors,
		c.compactionsPicked,
		c.seekCompactionsArmed,
		c.liveVersions,
		c.levelFiles,
	)
	return c
}

func (c *Collector) ManifestWrite(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.manifestWriteErrors.Inc()
	} else {
		c.manifestWrites.Inc()
	}
}

func (c *Collector) CompactionPicked(trigger string) {
	if c == nil {
		return
	}
	c.compactionsPicked.WithLabelValues(trigger).Inc()
}

func (c *Collector) SeekCompactionArmed() {
	if c == nil {
		return
	}
	c.seekCompactionsArmed.Inc()
}

func (c *Collector) SetLiveVersions(n int) {
	if c == nil {
		return
	}
	c.liveVersions.Set(float64(n))
}

func (c *Collector) SetLevelFiles(level, files int) {
	if c == nil {
		return
	}
	c.levelFiles.WithLabelValues(strconv.Itoa(level)).Set(float64(files))
}
