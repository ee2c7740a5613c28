// Package linklayer implements component B from spec.md §4.B: the
// Ethernet/VLAN(802.1Q stack)/MPLS/Raw-IP demultiplexer that produces an
// "IP payload" view for the iplayer package. The original nfpcapd walks a
// raw pointer with goto REDO_LINK; here Decode runs the same loop over a
// buffer.Cursor and returns a Result instead of jumping.
package linklayer

import (
	"github.com/flowprobe/flowprobe/buffer"
	"github.com/flowprobe/flowprobe/flow"
	"github.com/google/gopacket/layers"
)

const (
	ethertypeIPv4 = 0x0800
	ethertypeIPv6 = 0x86DD
	ethertypeVLAN = 0x8100
	ethertypeMPLS = 0x8847
	ieee8023Max   = 1500
)

// Outcome classifies how Decode ended, mirroring the stats buckets of
// spec.md §3/§7.
type Outcome int

const (
	OutcomeIP Outcome = iota
	OutcomeSkipped       // IEEE 802.3 LLC frame, or an unhandled ethertype
	OutcomeUnknown       // unsupported link type, or unrecognized MPLS bottom label
	OutcomeShortSnap     // advanced offset exceeded the captured length
)

// Result is what Decode hands to iplayer: where the IP header starts and
// which version it claims to be, plus any VLAN tag seen on the way in.
type Result struct {
	Outcome Outcome
	Version flow.IPVersion
	Offset  int // byte offset into the original frame where the IP header begins

	HasVLAN bool
	VLAN    uint16
}

// Decode classifies data according to linkType and walks VLAN/MPLS framing
// until it reaches an IPv4 or IPv6 header (or gives up). data holds exactly
// the captured bytes; Decode never reads past len(data).
func Decode(data []byte, linkType layers.LinkType) Result {
	switch linkType {
	case layers.LinkTypeEthernet:
		return decodeEthernet(data)
	case layers.LinkTypeRaw:
		return decodeRawIP(data)
	default:
		return Result{Outcome: OutcomeUnknown}
	}
}

func decodeRawIP(data []byte) Result {
	c := buffer.New(data)
	b, err := c.ByteAt(0)
	if err != nil {
		return Result{Outcome: OutcomeShortSnap}
	}
	switch b >> 4 {
	case 4:
		return Result{Outcome: OutcomeIP, Version: flow.IPv4, Offset: c.Offset()}
	case 6:
		return Result{Outcome: OutcomeIP, Version: flow.IPv6, Offset: c.Offset()}
	default:
		return Result{Outcome: OutcomeUnknown}
	}
}

func decodeEthernet(data []byte) Result {
	c := buffer.New(data)
	hdr, err := c.Take(14)
	if err != nil {
		return Result{Outcome: OutcomeShortSnap}
	}
	ethertype := uint16(hdr[12])<<8 | uint16(hdr[13])

	if ethertype <= ieee8023Max {
		return Result{Outcome: OutcomeSkipped}
	}

	var res Result
	for {
		switch ethertype {
		case ethertypeIPv4:
			return Result{Outcome: OutcomeIP, Version: flow.IPv4, Offset: c.Offset(), HasVLAN: res.HasVLAN, VLAN: res.VLAN}
		case ethertypeIPv6:
			return Result{Outcome: OutcomeIP, Version: flow.IPv6, Offset: c.Offset(), HasVLAN: res.HasVLAN, VLAN: res.VLAN}
		case ethertypeVLAN:
			tag, err := c.Take(4)
			if err != nil {
				return Result{Outcome: OutcomeShortSnap}
			}
			if !res.HasVLAN {
				res.HasVLAN = true
				res.VLAN = (uint16(tag[0])<<8 | uint16(tag[1])) & 0x0FFF
			}
			ethertype = uint16(tag[2])<<8 | uint16(tag[3])
		case ethertypeMPLS:
			next, err := decodeMPLSStack(&c)
			if err != nil {
				return Result{Outcome: OutcomeShortSnap}
			}
			switch next {
			case 4:
				ethertype = ethertypeIPv4
			case 6:
				ethertype = ethertypeIPv6
			default:
				return Result{Outcome: OutcomeUnknown}
			}
		default:
			return Result{Outcome: OutcomeSkipped}
		}
	}
}

// decodeMPLSStack advances c past one or more 4-byte MPLS label entries
// until the bottom-of-stack bit is set, then returns the high nibble of
// the byte immediately following the stack (4 for IPv4, 6 for IPv6).
func decodeMPLSStack(c *buffer.Cursor) (byte, error) {
	for {
		label, err := c.Take(4)
		if err != nil {
			return 0, err
		}
		bottomOfStack := label[2]&0x01 != 0
		if bottomOfStack {
			break
		}
	}
	next, err := c.ByteAt(0)
	if err != nil {
		return 0, err
	}
	return next >> 4, nil
}
