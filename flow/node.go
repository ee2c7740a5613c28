package flow

import "time"

// TCPFlags is the bitwise-OR union of every TCP flag byte observed on a
// flow (spec.md §3 "TCP flag-union"). Bit layout matches the wire flags
// byte so translayer can OR the raw byte straight in.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << 0
	FlagSYN TCPFlags = 1 << 1
	FlagRST TCPFlags = 1 << 2
	FlagPSH TCPFlags = 1 << 3
	FlagACK TCPFlags = 1 << 4
	FlagURG TCPFlags = 1 << 5
	FlagECE TCPFlags = 1 << 6
	FlagCWR TCPFlags = 1 << 7
)

func (f TCPFlags) Has(bit TCPFlags) bool { return f&bit != 0 }

// State is a FlowNode's lifecycle position (spec.md §3).
type State uint8

const (
	StateInUse State = iota
	StateFlushed
	StateFreed
)

func (s State) String() string {
	switch s {
	case StateInUse:
		return "IN_USE"
	case StateFlushed:
		return "FLUSHED"
	case StateFreed:
		return "FREED"
	default:
		return "UNKNOWN"
	}
}

// LatencySlot indexes the three microsecond-gap measurements spec.md §4.F
// defines over the TCP three-step handshake model.
type LatencySlot int

const (
	LatencyServer LatencySlot = iota // slot 1: SYN -> SYN+ACK
	LatencyClient                    // slot 2: SYN+ACK -> first client ACK
	LatencyApp                       // slot 3: ACK -> first data packet
	latencySlotCount
)

// Latency holds the three set-once slots plus the bookkeeping needed to
// derive them from the handshake sequence as packets arrive.
type Latency struct {
	slots [latencySlotCount]time.Duration
	set   [latencySlotCount]bool

	// sawSYN / sawServerReply / sawClientACK track how far into the
	// handshake this flow has progressed, so flowstate knows which edge
	// the next packet might complete.
	sawSYN         bool
	sawServerReply bool
	sawClientACK   bool

	synTS         time.Time
	serverReplyTS time.Time
	clientACKTS   time.Time
}

// ObserveSYN marks the handshake's start time. Only the first SYN counts;
// retransmitted SYNs are no-ops.
func (l *Latency) ObserveSYN(ts time.Time) {
	if l.sawSYN {
		return
	}
	l.sawSYN = true
	l.synTS = ts
}

// ObserveServerReply completes slot 1 (server latency) if a SYN has been
// seen and this is the first reply; otherwise a no-op. Called on the
// client->server flow when its reverse-linked peer's SYN+ACK arrives.
func (l *Latency) ObserveServerReply(ts time.Time) {
	if !l.sawSYN || l.sawServerReply {
		return
	}
	l.sawServerReply = true
	l.serverReplyTS = ts
	l.Set(LatencyServer, ts.Sub(l.synTS))
}

// ObserveClientACK completes slot 2 (client latency) on the first pure ACK
// following a recorded server reply; otherwise a no-op.
func (l *Latency) ObserveClientACK(ts time.Time) {
	if !l.sawServerReply || l.sawClientACK {
		return
	}
	l.sawClientACK = true
	l.clientACKTS = ts
	l.Set(LatencyClient, ts.Sub(l.serverReplyTS))
}

// ObserveAppData completes slot 3 (application latency) on the first data
// packet following the completed handshake; otherwise a no-op.
func (l *Latency) ObserveAppData(ts time.Time) {
	if !l.sawClientACK {
		return
	}
	if _, ok := l.Get(LatencyApp); ok {
		return
	}
	l.Set(LatencyApp, ts.Sub(l.clientACKTS))
}

// Set stores a slot's value the first time it's reached; later calls are
// no-ops, matching "slots are monotonically set-once" (spec.md §4.F).
func (l *Latency) Set(slot LatencySlot, d time.Duration) {
	if l.set[slot] {
		return
	}
	l.slots[slot] = d
	l.set[slot] = true
}

// Get returns a slot's value and whether it has been set.
func (l *Latency) Get(slot LatencySlot) (time.Duration, bool) {
	return l.slots[slot], l.set[slot]
}

// TunnelContext records the outer endpoints and protocol of a tunnel the
// decoder recursed through (spec.md §3, §4.C). Zero value means "no
// tunnel seen".
type TunnelContext struct {
	Present bool
	SrcAddr Addr
	DstAddr Addr
	Proto   Proto
}

// Node is a FlowNode (spec.md §3). Exclusively owned by the FlowTable
// while State == StateInUse; ownership transfers to whatever drains the
// output queue once flushed.
type Node struct {
	Key FlowKey

	Packets uint32
	Bytes   uint64

	TFirst time.Time
	TLast  time.Time

	Flags TCPFlags // meaningful for TCP flows only

	Tunnel TunnelContext
	VLAN   uint16
	HasVLAN bool

	// Payload is the owned byte slice captured from the first packet that
	// carried application data (spec.md §3). nil until then.
	Payload []byte

	Latency Latency

	// Reverse is a non-owning pointer to the peer flow in the opposite
	// direction. Must be nulled by the table when either side is flushed
	// (spec.md §3 invariant d, §5 "Reverse-link back-reference").
	Reverse *Node

	State State
}

// NewCandidate builds a fresh, never-inserted node for a single observed
// packet: packets=1, bytes as given, t_first=t_last=ts. This is the
// "candidate flow node" spec.md §2 describes flowing out of component D.
func NewCandidate(key FlowKey, ts time.Time, byteCount uint64) *Node {
	return &Node{
		Key:     key,
		Packets: 1,
		Bytes:   byteCount,
		TFirst:  ts,
		TLast:   ts,
		State:   StateInUse,
	}
}

// MergeFrom folds a candidate (delta) node's observation into the receiver,
// the stored node. It does not touch n.Key, n.State, or n.Reverse — those
// are the table's and the state machine's concerns.
func (n *Node) MergeFrom(delta *Node) {
	n.Flags |= delta.Flags
	n.Packets++
	n.Bytes += delta.Bytes
	if delta.TLast.After(n.TLast) {
		n.TLast = delta.TLast
	}
	if n.Payload == nil && delta.Payload != nil {
		n.Payload = delta.Payload
		delta.Payload = nil
	}
}
