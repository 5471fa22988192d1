package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ManifestWrite(nil)
	c.ManifestWrite(nil)
	c.ManifestWrite(errors.New("sync failed"))
	require.Equal(t, 2.0, testutil.ToFloat64(c.manifestWrites))
	require.Equal(t, 1.0, testutil.ToFloat64(c.manifestWriteErrors))

	c.CompactionPicked("size")
	c.CompactionPicked("size")
	c.CompactionPicked("seek")
	require.Equal(t, 2.0, testutil.ToFloat64(c.compactionsPicked.WithLabelValues("size")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.compactionsPicked.WithLabelValues("seek")))

	c.SeekCompactionArmed()
	require.Equal(t, 1.0, testutil.ToFloat64(c.seekCompactionsArmed))

	c.SetLiveVersions(3)
	require.Equal(t, 3.0, testutil.ToFloat64(c.liveVersions))

	c.SetLevelFiles(0, 4)
	c.SetLevelFiles(1, 7)
	require.Equal(t, 4.0, testutil.ToFloat64(c.levelFiles.WithLabelValues("0")))
	require.Equal(t, 7.0, testutil.ToFloat64(c.levelFiles.WithLabelValues("1")))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ManifestWrite(nil)
	c.CompactionPicked("size")
	c.SeekCompactionArmed()
	c.SetLiveVersions(1)
	c.SetLevelFiles(0, 1)
}
