// Package capture wires components A through H into the ingress session
// spec.md §5/§6 describes: an ingress callback receives (packet_header,
// bytes), runs it through link/IP/transport decode, folds the result into
// a flow table, optionally builds a JA4-style fingerprint, and hands
// completed flows to an output queue. Grounded on heplify's
// decoder.Decoder/NewDecoder/Process, generalized from heplify's SIP/HEP
// domain to flowprobe's flow/fingerprint domain.
package capture

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/negbie/freecache"
	"github.com/negbie/logp"

	"github.com/flowprobe/flowprobe/fingerprint"
	"github.com/flowprobe/flowprobe/flow"
	"github.com/flowprobe/flowprobe/flowstate"
	"github.com/flowprobe/flowprobe/handshake"
	"github.com/flowprobe/flowprobe/iplayer"
	"github.com/flowprobe/flowprobe/linklayer"
	"github.com/flowprobe/flowprobe/outqueue"
	"github.com/flowprobe/flowprobe/stats"
	"github.com/flowprobe/flowprobe/translayer"
)

// Config is the small struct-based configuration flowprobe threads by
// reference, mirroring heplify's package-level config.Cfg pattern (but
// owned per-Engine here instead of global, since an Engine is one shard's
// worth of state and several may run side by side).
type Config struct {
	LinkType    layers.LinkType
	IdleTimeout time.Duration
	Dedup       bool
	DedupTTLSec int
}

// DefaultConfig mirrors the values nfpcapd and heplify both default to:
// a 30-second idle timeout and no dedup unless explicitly enabled.
func DefaultConfig(linkType layers.LinkType) Config {
	return Config{
		LinkType:    linkType,
		IdleTimeout: 30 * time.Second,
		DedupTTLSec: 4, // 4 seconds; freecache expiry is given in whole seconds
	}
}

// Engine is one shard's worth of capture state: its own flow table, its own
// dedup cache, and a shared handle to the downstream queue and (optional)
// TLS/QUIC handshake provider. spec.md §5's "hash-of-key to a stable shard"
// dispatch is realized by running several Engines side by side, each fed by
// its own AF_PACKET fanout-group member socket (see afpacket_linux.go) — the
// kernel's PACKET_FANOUT_HASH does the hash-of-key routing, so Engine itself
// never needs to compute or honor a shard index.
type Engine struct {
	cfg      Config
	table    *flow.Table
	out      *outqueue.Queue
	provider handshake.Provider
	dedup    *freecache.Cache
	counters stats.Counters
}

// NewEngine constructs a single shard. out and provider may be shared across
// many Engines; table and dedup are exclusively owned by this one.
func NewEngine(cfg Config, out *outqueue.Queue, provider handshake.Provider) *Engine {
	e := &Engine{
		cfg:      cfg,
		table:    flow.NewTable(cfg.IdleTimeout),
		out:      out,
		provider: provider,
	}
	if cfg.Dedup {
		e.dedup = freecache.NewCache(20 * 1024 * 1024) // 20MB, matching heplify's dedup cache size
	}
	return e
}

// Counters returns a snapshot of this Engine's decode-path counters without
// resetting them.
func (e *Engine) Counters() stats.Counters { return e.counters }

// ResetCounters returns this Engine's accumulated counters and zeroes them,
// for handing to a stats.Merger on its periodic merge schedule (spec.md §5:
// periodic merge, not per packet) without double-counting on the next
// round.
func (e *Engine) ResetCounters() stats.Counters {
	c := e.counters
	e.counters = stats.Counters{}
	return c
}

// Process runs one captured frame through the full decode pipeline and
// folds the result into this shard's flow table. data is the full captured
// frame starting at the link layer; ci carries the capture timestamp spec.md
// §6 requires for t_first/t_last.
func (e *Engine) Process(data []byte, ci gopacket.CaptureInfo) {
	e.counters.Packets++

	if e.dedup != nil && len(data) > 0 {
		if _, err := e.dedup.Get(data); err == nil {
			return // duplicate frame within the dedup window, silently skipped
		}
		if err := e.dedup.Set(data, nil, e.cfg.DedupTTLSec); err != nil {
			logp.Warn("capture: dedup cache set failed: %v", err)
		}
	}

	link := linklayer.Decode(data, e.cfg.LinkType)
	switch link.Outcome {
	case linklayer.OutcomeSkipped:
		e.counters.Skipped++
		return
	case linklayer.OutcomeUnknown:
		e.counters.Unknown++
		return
	case linklayer.OutcomeShortSnap:
		e.counters.ShortSnap++
		return
	}

	if link.Offset > len(data) {
		e.counters.ShortSnap++
		return
	}
	ipRes := iplayer.Decode(data[link.Offset:], link.Version)
	switch ipRes.Outcome {
	case iplayer.OutcomeFragmentDropped:
		e.counters.FragDrop++
		return
	case iplayer.OutcomeShortSnap:
		e.counters.ShortSnap++
		return
	case iplayer.OutcomeUnsupported:
		e.counters.Unknown++
		return
	}

	seg, err := decodeTransport(ipRes)
	if err != nil {
		e.counters.ShortSnap++
		return
	}

	key := flow.FlowKey{
		Version: ipRes.Version,
		Src:     ipRes.Src,
		Dst:     ipRes.Dst,
		SrcPort: seg.SrcPort,
		DstPort: seg.DstPort,
		Proto:   ipRes.Proto,
	}

	candidate := flow.NewCandidate(key, ci.Timestamp, seg.Bytes)
	candidate.Flags = seg.Flags
	candidate.Payload = seg.Payload
	candidate.Tunnel = ipRes.Tunnel
	candidate.HasVLAN = link.HasVLAN
	candidate.VLAN = link.VLAN

	flowstate.Process(e.table, candidate, e.out)

	if e.provider != nil && ipRes.Proto == flow.ProtoTCP && handshake.LooksLikeTLSClientHello(seg.Payload) {
		e.tryFingerprint(key, seg.Payload, handshake.TransportTCP)
	}
}

func (e *Engine) tryFingerprint(key flow.FlowKey, payload []byte, transport handshake.Transport) {
	desc, ok := e.provider.Parse(payload, transport)
	if !ok {
		return
	}
	rec, ok := fingerprint.Build(desc)
	if !ok {
		logp.Debug("fingerprint", "flow %v: cipher/extension count overflow, no JA4 emitted", key)
		return
	}
	e.out.PushFingerprint(key, rec)
}

func decodeTransport(ipRes iplayer.Result) (translayer.Segment, error) {
	switch ipRes.Proto {
	case flow.ProtoTCP:
		return translayer.DecodeTCP(ipRes.L4)
	case flow.ProtoUDP:
		return translayer.DecodeUDP(ipRes.L4)
	case flow.ProtoICMP:
		return translayer.DecodeICMP(ipRes.L4, false)
	case flow.ProtoICMPv6:
		return translayer.DecodeICMP(ipRes.L4, true)
	default:
		return translayer.Segment{Bytes: uint64(len(ipRes.L4))}, nil
	}
}

// IdleSweep flushes nodes idle past cfg.IdleTimeout. Per spec.md §4.E the
// caller is responsible for calling this at most once per wall-second; the
// underlying Table also self-throttles as a second line of defense.
func (e *Engine) IdleSweep(now time.Time) {
	e.table.IdleSweep(now, e.out)
}

// FlushAll drains every remaining table entry unconditionally, for
// cooperative shutdown (spec.md §5).
func (e *Engine) FlushAll() {
	e.table.FlushAll(e.out)
}
