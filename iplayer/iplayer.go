// Package iplayer implements component C from spec.md §4.C: IPv4/IPv6
// parsing, the (non-reassembling) fragment-drop policy, and single-depth
// tunnel recursion through IPIP/IPIP6/GRE. The original nfpcapd re-enters
// IP decoding with goto REDO_IPPROTO; Decode instead makes at most one
// explicit second pass over the inner header, bounded to exactly one tunnel
// level per spec.md's stated policy.
package iplayer

import (
	"github.com/flowprobe/flowprobe/buffer"
	"github.com/flowprobe/flowprobe/flow"
)

const (
	ipv4HeaderMin = 20
	ipv6HeaderLen = 40
	greHeaderLen  = 4 // flags+version (2 bytes) + protocol type (2 bytes)

	ipv4FlagMoreFragments = 0x2000
	ipv4FragOffsetMask    = 0x1FFF
)

// Outcome classifies how Decode ended.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeFragmentDropped // spec.md §4.C: MF set or frag-offset != 0, no reassembly
	OutcomeShortSnap
	OutcomeUnsupported // inner tunnel payload isn't recognizable as IPv4/IPv6
)

// Result is what Decode hands to translayer: the innermost (post-tunnel)
// IPv4/IPv6 header's endpoints and protocol, the raw L4 segment bytes
// (header and payload both — translayer strips its own header), and the
// tunnel context if exactly one level of tunnel was traversed.
type Result struct {
	Outcome Outcome
	Version flow.IPVersion
	Src     flow.Addr
	Dst     flow.Addr
	Proto   flow.Proto
	L4      []byte // the L4 segment: header + application payload, capture-clamped

	Tunnel flow.TunnelContext
}

// Decode parses the IP header(s) in data, starting at the given version.
// data must begin exactly at the IP header (linklayer.Decode's Offset).
func Decode(data []byte, version flow.IPVersion) Result {
	src, dst, proto, l4, fragmented, err := decodeOnce(data, version)
	if err != nil {
		return Result{Outcome: OutcomeShortSnap}
	}
	if fragmented {
		return Result{Outcome: OutcomeFragmentDropped}
	}

	if !isTunnelProto(proto) {
		return Result{Outcome: OutcomeOK, Version: version, Src: src, Dst: dst, Proto: proto, L4: l4}
	}

	tunnel := flow.TunnelContext{Present: true, SrcAddr: src, DstAddr: dst, Proto: proto}

	inner := l4
	if proto == flow.ProtoGRE {
		c := buffer.New(inner)
		if err := c.Seek(greHeaderLen); err != nil {
			return Result{Outcome: OutcomeShortSnap}
		}
		inner = c.Sub().Remaining()
	}
	if len(inner) < 1 {
		return Result{Outcome: OutcomeShortSnap}
	}

	innerVersion, ok := sniffVersion(inner[0])
	if !ok {
		return Result{Outcome: OutcomeUnsupported}
	}

	innerSrc, innerDst, innerProto, innerL4, innerFragmented, err := decodeOnce(inner, innerVersion)
	if err != nil {
		return Result{Outcome: OutcomeShortSnap}
	}
	if innerFragmented {
		// spec.md §4.C: "If the inner packet is itself a fragment, drop."
		return Result{Outcome: OutcomeFragmentDropped}
	}

	// Recursion depth is exactly 1: even if innerProto is itself a tunnel
	// protocol, it is not unwrapped further — it is reported as an opaque
	// L4 protocol of the once-tunneled flow.
	return Result{
		Outcome: OutcomeOK,
		Version: innerVersion,
		Src:     innerSrc,
		Dst:     innerDst,
		Proto:   innerProto,
		L4:      innerL4,
		Tunnel:  tunnel,
	}
}

func isTunnelProto(p flow.Proto) bool {
	return p == flow.ProtoIPIP || p == flow.ProtoIPv6 || p == flow.ProtoGRE
}

func sniffVersion(b byte) (flow.IPVersion, bool) {
	switch b >> 4 {
	case 4:
		return flow.IPv4, true
	case 6:
		return flow.IPv6, true
	default:
		return 0, false
	}
}

// decodeOnce parses a single (non-recursive) IP header at the front of
// data, returning the L4 segment (header+payload, capture-clamped) that
// follows it.
func decodeOnce(data []byte, version flow.IPVersion) (src, dst flow.Addr, proto flow.Proto, l4 []byte, fragmented bool, err error) {
	if version == flow.IPv6 {
		return decodeIPv6(data)
	}
	return decodeIPv4(data)
}

func decodeIPv6(data []byte) (src, dst flow.Addr, proto flow.Proto, l4 []byte, fragmented bool, err error) {
	c := buffer.New(data)
	hdr, terr := c.Take(ipv6HeaderLen)
	if terr != nil {
		err = terr
		return
	}

	nextHeader := flow.Proto(hdr[6])
	payloadLen := int(hdr[4])<<8 | int(hdr[5])

	var srcBytes, dstBytes [16]byte
	copy(srcBytes[:], hdr[8:24])
	copy(dstBytes[:], hdr[24:40])
	src = flow.AddrFromIPv6(srcBytes)
	dst = flow.AddrFromIPv6(dstBytes)
	proto = nextHeader

	available := c.Len()
	if payloadLen > available {
		payloadLen = available // capture was limited, adapt to what's there
	}
	l4 = c.Remaining()[:payloadLen]
	return
}

func decodeIPv4(data []byte) (src, dst flow.Addr, proto flow.Proto, l4 []byte, fragmented bool, err error) {
	c := buffer.New(data)
	first, terr := c.ByteAt(0)
	if terr != nil {
		err = terr
		return
	}
	ihl := int(first & 0x0F)
	headerLen := ihl * 4
	if headerLen < ipv4HeaderMin {
		headerLen = ipv4HeaderMin
	}

	hdr, terr := c.Peek(headerLen)
	if terr != nil {
		err = terr
		return
	}
	if terr := c.Advance(headerLen); terr != nil {
		err = terr
		return
	}

	totalLen := int(hdr[2])<<8 | int(hdr[3])
	flagsAndOffset := int(hdr[6])<<8 | int(hdr[7])
	moreFragments := flagsAndOffset&ipv4FlagMoreFragments != 0
	fragOffset := (flagsAndOffset & ipv4FragOffsetMask) << 3

	if moreFragments || fragOffset != 0 {
		fragmented = true
		return
	}

	proto = flow.Proto(hdr[9])
	var srcBytes, dstBytes [4]byte
	copy(srcBytes[:], hdr[12:16])
	copy(dstBytes[:], hdr[16:20])
	src = flow.AddrFromIPv4(srcBytes)
	dst = flow.AddrFromIPv4(dstBytes)

	payloadLen := totalLen - headerLen
	available := c.Len()
	if payloadLen < 0 {
		payloadLen = 0
	}
	if payloadLen > available {
		payloadLen = available
	}
	l4 = c.Remaining()[:payloadLen]
	return
}
