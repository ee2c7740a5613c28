// Package stats holds the packet-processing counters described in spec.md
// §3 and §6. Each decoder goroutine owns a private Counters value (no
// per-packet atomics, per §5 "Shared state"); a periodic merge folds worker
// counters into the process-wide snapshot emitted on rotation or shutdown.
package stats

import (
	"sync"

	"github.com/segmentio/encoding/json"
)

// Counters are the four core decode-path counters from spec.md §3 plus the
// fragment-dropped counter, owned by a single decoder goroutine and never
// touched from another goroutine.
type Counters struct {
	Packets    uint64
	Skipped    uint64
	Unknown    uint64
	ShortSnap  uint64
	FragDrop   uint64 // fragment-dropped, see spec.md §4.C
}

// Add folds delta into c. Only ever called by the counters' owning thread,
// or by Merger.Merge on the process-wide accumulator under its own lock.
func (c *Counters) Add(delta Counters) {
	c.Packets += delta.Packets
	c.Skipped += delta.Skipped
	c.Unknown += delta.Unknown
	c.ShortSnap += delta.ShortSnap
	c.FragDrop += delta.FragDrop
}

// Record is the rotation/shutdown emission shape from spec.md §6. The two
// capture-backend fields are supplied by whatever owns the pcap handle;
// stats itself never talks to a capture backend.
type Record struct {
	Packets         uint64 `json:"packets"`
	DroppedByIface  uint64 `json:"dropped_by_iface"`
	DroppedByKernel uint64 `json:"dropped_by_kernel"`
	Skipped         uint64 `json:"skipped"`
	ShortSnap       uint64 `json:"short_snap"`
	Unknown         uint64 `json:"unknown"`
}

// CaptureStatsProvider supplies the two counters that only the capture
// backend knows (interface/kernel drops). capture.AFPacketSource implements
// it; this package imports no capture backend, to stay
// capture-backend-agnostic.
type CaptureStatsProvider interface {
	CaptureStats() (droppedByIface, droppedByKernel uint64, err error)
}

// Merger accumulates Counters from many decoder goroutines under a single
// mutex, touched only on the periodic merge (per §5, not per packet).
type Merger struct {
	mu    sync.Mutex
	total Counters
}

// Merge folds a worker's Counters into the accumulator and resets the
// worker's copy to zero so repeated merges don't double count.
func (m *Merger) Merge(worker *Counters) {
	m.mu.Lock()
	m.total.Add(*worker)
	m.mu.Unlock()
	*worker = Counters{}
}

// Snapshot builds the emission Record, pulling the capture-backend fields
// from provider if one is set (nil is valid: both fields come back zero).
func (m *Merger) Snapshot(provider CaptureStatsProvider) Record {
	m.mu.Lock()
	total := m.total
	m.mu.Unlock()

	rec := Record{
		Packets:   total.Packets,
		Skipped:   total.Skipped,
		ShortSnap: total.ShortSnap,
		Unknown:   total.Unknown,
	}
	if provider != nil {
		if iface, kernel, err := provider.CaptureStats(); err == nil {
			rec.DroppedByIface = iface
			rec.DroppedByKernel = kernel
		}
	}
	return rec
}

// Encode is the MarshalJSON-compatible encoding of a Record via the fast
// json package, used by cmd/flowprobe's maintenance loop when it logs the
// periodic snapshot.
func Encode(rec Record) ([]byte, error) {
	return json.Marshal(rec)
}
