// Package flow implements the data model and flow table (component E) from
// spec.md §3 and §4.E: the immutable FlowKey, the mutable FlowNode a
// decoded packet updates, and the insert-or-fetch table that owns nodes
// while they are IN_USE.
package flow

import (
	"encoding/binary"
	"net"

	"github.com/cespare/xxhash"
)

// Proto mirrors the IP protocol numbers flowstate switches on. Named here
// rather than imported from a header-parsing package, since spec.md keeps
// the data model free of decode-layer dependencies.
type Proto uint8

const (
	ProtoICMP   Proto = 1
	ProtoTCP    Proto = 6
	ProtoUDP    Proto = 17
	ProtoIPv6   Proto = 41 // IPIP6 tunnel, used as tun_proto
	ProtoGRE    Proto = 47
	ProtoICMPv6 Proto = 58
	ProtoIPIP   Proto = 4
)

// IPVersion distinguishes the two address families FlowKey can carry.
type IPVersion uint8

const (
	IPv4 IPVersion = 4
	IPv6 IPVersion = 6
)

// Addr is a 16-octet address per spec.md §3: IPv4 lives in the low 4 bytes,
// high 12 are zero. This lets IPv4 and IPv6 keys share one comparison and
// one hash without a type switch.
type Addr [16]byte

// AddrFromIPv4 packs a 4-byte IPv4 address into the low bytes of an Addr.
func AddrFromIPv4(b [4]byte) Addr {
	var a Addr
	copy(a[12:], b[:])
	return a
}

// AddrFromIPv6 packs a 16-byte IPv6 address directly into an Addr.
func AddrFromIPv6(b [16]byte) Addr {
	return Addr(b)
}

// AddrFromNetIP converts a net.IP (as produced by a link/IP decoder using
// net.IP for logging) into an Addr, covering both 4-byte and 16-byte forms.
func AddrFromNetIP(ip net.IP) Addr {
	var a Addr
	if v4 := ip.To4(); v4 != nil {
		copy(a[12:], v4)
		return a
	}
	copy(a[:], ip.To16())
	return a
}

// String renders the address in the natural form for its embedded family.
func (a Addr) String() string {
	if a[0] == 0 && a[1] == 0 && a[2] == 0 && a[3] == 0 &&
		a[4] == 0 && a[5] == 0 && a[6] == 0 && a[7] == 0 &&
		a[8] == 0 && a[9] == 0 && a[10] == 0 && a[11] == 0 {
		return net.IP(a[12:16]).String()
	}
	return net.IP(a[:]).String()
}

// FlowKey is the immutable 5-tuple identity of a flow (spec.md §3). It is
// comparable (no pointers, no slices) so it can be a Go map key directly.
type FlowKey struct {
	Version IPVersion
	Src     Addr
	Dst     Addr
	SrcPort uint16
	DstPort uint16
	Proto   Proto
}

// Reverse returns the key of the opposite-direction flow: src/dst address
// and port swapped, protocol and version unchanged. Used by the flow
// table's reverse-link lookup (spec.md §4.E).
func (k FlowKey) Reverse() FlowKey {
	return FlowKey{
		Version: k.Version,
		Src:     k.Dst,
		Dst:     k.Src,
		SrcPort: k.DstPort,
		DstPort: k.SrcPort,
		Proto:   k.Proto,
	}
}

// Hash returns a stable 64-bit digest of the key, used to pick a shard when
// the flow table is sharded across cores (spec.md §5: "dispatched by
// hash-of-key to a stable shard"). Two equal keys always hash equal, so a
// flow's packets always land in the same shard. Hash is direction-sensitive:
// a flow and its reverse may land in different shards, which is fine, since
// only per-key order (not per-conversation order) is guaranteed by spec.md §5.
func (k FlowKey) Hash() uint64 {
	var buf [37]byte
	buf[0] = byte(k.Version)
	copy(buf[1:17], k.Src[:])
	copy(buf[17:33], k.Dst[:])
	binary.BigEndian.PutUint16(buf[33:35], k.SrcPort)
	binary.BigEndian.PutUint16(buf[35:37], k.DstPort)
	h := xxhash.New()
	h.Write(buf[:])
	h.Write([]byte{byte(k.Proto)})
	return h.Sum64()
}

// Shard maps the key onto one of n stable shards.
func (k FlowKey) Shard(n int) int {
	if n <= 1 {
		return 0
	}
	return int(k.Hash() % uint64(n))
}
