package stats

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountersAdd(t *testing.T) {
	c := Counters{Packets: 1, Skipped: 2}
	c.Add(Counters{Packets: 5, Unknown: 1})
	require.Equal(t, Counters{Packets: 6, Skipped: 2, Unknown: 1}, c)
}

func TestMergerMergeResetsWorkerCounters(t *testing.T) {
	var m Merger
	worker := Counters{Packets: 10, FragDrop: 2}
	m.Merge(&worker)

	require.Equal(t, Counters{}, worker)

	snap := m.Snapshot(nil)
	require.Equal(t, uint64(10), snap.Packets)
}

func TestMergerMergeAccumulatesAcrossWorkers(t *testing.T) {
	var m Merger
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := Counters{Packets: 100}
			m.Merge(&worker)
		}()
	}
	wg.Wait()

	snap := m.Snapshot(nil)
	require.Equal(t, uint64(800), snap.Packets)
}

type fakeProvider struct {
	iface, kernel uint64
	err           error
}

func (f fakeProvider) CaptureStats() (uint64, uint64, error) {
	return f.iface, f.kernel, f.err
}

func TestSnapshotPullsCaptureBackendFields(t *testing.T) {
	var m Merger
	worker := Counters{Packets: 1}
	m.Merge(&worker)

	snap := m.Snapshot(fakeProvider{iface: 3, kernel: 7})
	require.Equal(t, uint64(3), snap.DroppedByIface)
	require.Equal(t, uint64(7), snap.DroppedByKernel)
}

func TestSnapshotIgnoresCaptureBackendErrors(t *testing.T) {
	var m Merger
	snap := m.Snapshot(fakeProvider{iface: 3, kernel: 7, err: errors.New("handle closed")})
	require.Equal(t, uint64(0), snap.DroppedByIface)
	require.Equal(t, uint64(0), snap.DroppedByKernel)
}

func TestEncodeProducesExpectedFields(t *testing.T) {
	rec := Record{Packets: 5, Skipped: 1, ShortSnap: 2, Unknown: 3, DroppedByIface: 4, DroppedByKernel: 6}
	b, err := Encode(rec)
	require.NoError(t, err)
	require.Contains(t, string(b), `"packets":5`)
	require.Contains(t, string(b), `"dropped_by_kernel":6`)
}
