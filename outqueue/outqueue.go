// Package outqueue implements component H from spec.md §4.H: a bounded
// queue handing completed flow nodes and fingerprint records to a
// downstream sink, plus the rotation-protocol contract that sink must
// satisfy. Grounded on heplify's decoder.PacketQueue (package-level
// buffered chan *Packet) and its protobuf-tagged HEP struct, generalized
// into a struct the capture engine owns rather than a package global, and
// on original_source/src/nfpcapd/pcaproc.c's RotateFile/OpenNewPcapFile
// double-buffered rotation.
package outqueue

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gogo/protobuf/proto"

	"github.com/flowprobe/flowprobe/fingerprint"
	"github.com/flowprobe/flowprobe/flow"
)

// DropPolicy decides what happens when Push finds the queue full — spec.md
// §4.H leaves backpressure to the caller, so the decision is a parameter,
// not baked into the queue.
type DropPolicy int

const (
	// DropNewest discards the record that didn't fit; the queue's existing
	// contents are left untouched.
	DropNewest DropPolicy = iota
	// DropOldest evicts the single oldest queued record to make room.
	DropOldest
)

// WireRecord is the egress shape handed to whatever out-of-scope writer
// drains the queue, protobuf-tagged exactly like heplify's HEP struct so a
// downstream consumer can proto.Marshal it without a .proto codegen step.
type WireRecord struct {
	Proto     uint32 `protobuf:"varint,1,req,name=Proto" json:"Proto"`
	SrcAddr   string `protobuf:"bytes,2,req,name=SrcAddr" json:"SrcAddr"`
	DstAddr   string `protobuf:"bytes,3,req,name=DstAddr" json:"DstAddr"`
	SrcPort   uint32 `protobuf:"varint,4,req,name=SrcPort" json:"SrcPort"`
	DstPort   uint32 `protobuf:"varint,5,req,name=DstPort" json:"DstPort"`
	TFirstSec uint32 `protobuf:"varint,6,req,name=TFirstSec" json:"TFirstSec"`
	TLastSec  uint32 `protobuf:"varint,7,req,name=TLastSec" json:"TLastSec"`
	Packets   uint64 `protobuf:"varint,8,req,name=Packets" json:"Packets"`
	Bytes     uint64 `protobuf:"varint,9,req,name=Bytes" json:"Bytes"`
	TCPFlags  uint32 `protobuf:"varint,10,opt,name=TCPFlags" json:"TCPFlags"`
	JA4       string `protobuf:"bytes,11,opt,name=JA4" json:"JA4"`
}

// Reset, String, and ProtoMessage satisfy gogo/protobuf's proto.Message,
// the minimal boilerplate a struct needs for proto.Marshal to reflect over
// its protobuf tags without a generated .pb.go.
func (w *WireRecord) Reset()         { *w = WireRecord{} }
func (w *WireRecord) String() string { return fmt.Sprintf("%+v", *w) }
func (w *WireRecord) ProtoMessage()  {}

// Marshal encodes w for a downstream wire consumer, mirroring how heplify's
// HEP struct is handed to proto.Marshal before being shipped off to a
// capture server.
func (w *WireRecord) Marshal() ([]byte, error) {
	return proto.Marshal(w)
}

// FromNode builds a WireRecord from a flushed flow.Node. ja4 is empty when
// no fingerprint was built for this flow.
func FromNode(n *flow.Node, ja4 string) WireRecord {
	return WireRecord{
		Proto:     uint32(n.Key.Proto),
		SrcAddr:   n.Key.Src.String(),
		DstAddr:   n.Key.Dst.String(),
		SrcPort:   uint32(n.Key.SrcPort),
		DstPort:   uint32(n.Key.DstPort),
		TFirstSec: uint32(n.TFirst.Unix()),
		TLastSec:  uint32(n.TLast.Unix()),
		Packets:   uint64(n.Packets),
		Bytes:     n.Bytes,
		TCPFlags:  uint32(n.Flags),
		JA4:       ja4,
	}
}

// Queue is the bounded multi-producer/single-consumer channel spec.md
// §4.H describes. Multiple flowstate callers may Push concurrently (one
// per shard); a single downstream goroutine drains it.
type Queue struct {
	items   chan WireRecord
	dropped uint64
}

// New builds a Queue with room for capacity pending records.
func New(capacity int) *Queue {
	return &Queue{items: make(chan WireRecord, capacity)}
}

// Push enqueues rec without blocking. If the queue is full, policy decides
// whether rec is dropped or makes room by evicting the oldest entry. Push
// returns false whenever rec itself ends up dropped.
func (q *Queue) Push(rec WireRecord, policy DropPolicy) bool {
	select {
	case q.items <- rec:
		return true
	default:
	}

	if policy == DropOldest {
		select {
		case <-q.items:
		default:
		}
		select {
		case q.items <- rec:
			return true
		default:
		}
	}

	atomic.AddUint64(&q.dropped, 1)
	return false
}

// PushFlow implements flow.Flusher so a Table can hand flushed nodes
// straight to a Queue. Flow-table pressure always drops the newest record:
// spec.md §5 treats losing a just-completed flow as preferable to evicting
// one already queued for the downstream sink.
func (q *Queue) PushFlow(n *flow.Node) {
	q.Push(FromNode(n, ""), DropNewest)
}

// PushFingerprint enqueues a standalone fingerprint record keyed by the
// flow it was observed on.
func (q *Queue) PushFingerprint(key flow.FlowKey, rec fingerprint.Record) bool {
	return q.Push(WireRecord{
		Proto:   uint32(key.Proto),
		SrcAddr: key.Src.String(),
		DstAddr: key.Dst.String(),
		SrcPort: uint32(key.SrcPort),
		DstPort: uint32(key.DstPort),
		JA4:     rec.String(),
	}, DropNewest)
}

// Drain exposes the receive side for the downstream consumer goroutine.
func (q *Queue) Drain() <-chan WireRecord {
	return q.items
}

// Dropped reports how many records have been discarded since construction.
func (q *Queue) Dropped() uint64 {
	return atomic.LoadUint64(&q.dropped)
}

// Rotator is the downstream sink's rotation contract (spec.md §6), mirroring
// nfpcapd's double-buffered RotateFile/OpenNewPcapFile: a new destination is
// opened for time t, and live reports whether the previous destination is
// still accepting writes (false once the queue has fully drained into it).
// flowprobe ships no implementation — the sink (file, socket, database) is
// an external collaborator, same as handshake.Provider.
type Rotator interface {
	Rotate(t time.Time, live bool) error
}
