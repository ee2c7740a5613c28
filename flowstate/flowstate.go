// Package flowstate implements component F from spec.md §4.F: the
// per-protocol rules for folding a candidate flow.Node into a flow.Table —
// insert-or-merge, reverse-link, the three-slot TCP latency handshake, and
// the flush triggers (FIN/RST, UDP port-53 bypass, ICMP always-flush).
// Grounded on original_source/src/nfpcapd/pcaproc.c's ProcessTCPFlow,
// ProcessUDPFlow, ProcessICMPFlow, and ProcessOtherFlow.
package flowstate

import (
	"github.com/flowprobe/flowprobe/flow"
	"github.com/negbie/logp"
)

const dnsPort = 53

// Process routes candidate to the protocol-specific update rule and returns
// the node that ended up holding the merged observation — either candidate
// itself (newly inserted, or a bypass-flushed ICMP/DNS node) or the
// pre-existing stored node candidate's data was merged into. The returned
// node is only valid to read; by the time Process returns it may already
// have been handed to out and transitioned to StateFlushed.
func Process(table *flow.Table, candidate *flow.Node, out flow.Flusher) *flow.Node {
	switch candidate.Key.Proto {
	case flow.ProtoTCP:
		return processTCP(table, candidate, out)
	case flow.ProtoUDP:
		return processUDP(table, candidate, out)
	case flow.ProtoICMP, flow.ProtoICMPv6:
		return processICMP(table, candidate, out)
	default:
		return processOther(table, candidate, out)
	}
}

// processTCP implements pcaproc.c's ProcessTCPFlow: insert on first sight,
// reverse-link the SYN+ACK back to the original SYN flow to drive the
// latency handshake, merge subsequent packets, and flush on FIN or RST
// (spec.md §4.F "TCP").
func processTCP(table *flow.Table, candidate *flow.Node, out flow.Flusher) *flow.Node {
	stored, inserted := table.InsertOrFetch(candidate)

	if inserted {
		if candidate.Flags.Has(flow.FlagSYN) && !candidate.Flags.Has(flow.FlagACK) {
			candidate.Latency.ObserveSYN(candidate.TFirst)
		}
		if linked := table.ReverseLink(candidate); linked &&
			candidate.Flags.Has(flow.FlagSYN) && candidate.Flags.Has(flow.FlagACK) {
			if peer := candidate.Reverse; peer != nil {
				peer.Latency.ObserveServerReply(candidate.TFirst)
			}
		}
		if candidate.Flags.Has(flow.FlagFIN) || candidate.Flags.Has(flow.FlagRST) {
			logp.Debug("flowstate", "tcp flow %v flushed on first packet (flags=%v)", candidate.Key, candidate.Flags)
			table.Flush(candidate, out)
		}
		return candidate
	}

	if !candidate.Flags.Has(flow.FlagSYN) && candidate.Flags.Has(flow.FlagACK) {
		stored.Latency.ObserveClientACK(candidate.TLast)
	}
	if len(candidate.Payload) > 0 {
		stored.Latency.ObserveAppData(candidate.TLast)
	}
	stored.MergeFrom(candidate)

	if candidate.Flags.Has(flow.FlagFIN) || candidate.Flags.Has(flow.FlagRST) {
		logp.Debug("flowstate", "tcp flow %v flushed (flags=%v)", stored.Key, candidate.Flags)
		table.Flush(stored, out)
	}
	return stored
}

// processUDP implements ProcessUDPFlow: a packet with either port equal to
// 53 bypasses the table entirely — flushed standalone, never inserted or
// merged (spec.md §4.F "UDP"); everything else is ordinary insert-or-update.
func processUDP(table *flow.Table, candidate *flow.Node, out flow.Flusher) *flow.Node {
	if candidate.Key.SrcPort == dnsPort || candidate.Key.DstPort == dnsPort {
		table.Flush(candidate, out)
		return candidate
	}

	stored, inserted := table.InsertOrFetch(candidate)
	if inserted {
		return candidate
	}
	stored.MergeFrom(candidate)
	return stored
}

// processICMP implements ProcessICMPFlow: ICMP/ICMPv6 is never inserted,
// always pushed straight to out (spec.md §4.F "ICMP").
func processICMP(table *flow.Table, candidate *flow.Node, out flow.Flusher) *flow.Node {
	table.Flush(candidate, out)
	return candidate
}

// processOther implements ProcessOtherFlow: ordinary insert-or-update for
// every protocol that isn't TCP/UDP/ICMP/ICMPv6, with no special flush
// trigger beyond idle expiration (spec.md §4.F "Other").
func processOther(table *flow.Table, candidate *flow.Node, out flow.Flusher) *flow.Node {
	stored, inserted := table.InsertOrFetch(candidate)
	if inserted {
		return candidate
	}
	stored.MergeFrom(candidate)
	return stored
}
