// Package translayer implements component D from spec.md §4.D: TCP/UDP/
// ICMP(v4/v6) dissection and application-payload slice extraction from the
// L4 segment iplayer hands over.
package translayer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/negbie/logp"

	"github.com/flowprobe/flowprobe/flow"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// ErrFormatViolation is the FORMAT_VIOLATION taxonomy entry from spec.md
// §7: an impossible length field (e.g. UDP len < 8, TCP data offset past
// the captured bytes).
var ErrFormatViolation = errors.New("translayer: format violation")

const (
	tcpHeaderMin = 20
	udpHeaderLen = 8
	icmpTypeCode = 2 // type + code bytes read directly off the wire
)

// Segment is the L4 decode result handed to flowstate: ports, TCP flags
// (zero for non-TCP), and an owned copy of application payload if any was
// captured.
type Segment struct {
	SrcPort uint16
	DstPort uint16
	Flags   flow.TCPFlags
	Payload []byte
	Bytes   uint64
}

// DecodeTCP parses a TCP header and slices the application payload that
// follows it. Per spec.md §4.D, data offset violations are a format
// violation: the caller must free the candidate node and count short_snap.
func DecodeTCP(data []byte) (Segment, error) {
	if len(data) < tcpHeaderMin {
		return Segment{}, ErrFormatViolation
	}
	dataOffset := int(data[12]>>4) * 4
	if dataOffset < tcpHeaderMin || len(data) < dataOffset {
		return Segment{}, ErrFormatViolation
	}

	seg := Segment{
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		DstPort: binary.BigEndian.Uint16(data[2:4]),
		Flags:   flow.TCPFlags(data[13]),
	}

	app := data[dataOffset:]
	seg.Bytes = uint64(len(app))
	if len(app) > 0 {
		seg.Payload = append([]byte(nil), app...)
	}
	return seg, nil
}

// DecodeUDP parses a UDP header. udp_len is read from the wire (not
// len(data)) and cross-checked against what was actually captured, per
// spec.md §4.D's two required length checks.
func DecodeUDP(data []byte) (Segment, error) {
	if len(data) < udpHeaderLen {
		return Segment{}, ErrFormatViolation
	}
	udpLen := int(binary.BigEndian.Uint16(data[4:6]))
	if udpLen < udpHeaderLen {
		return Segment{}, ErrFormatViolation
	}
	appLen := udpLen - udpHeaderLen
	capturedApp := len(data) - udpHeaderLen
	if appLen > capturedApp {
		return Segment{}, ErrFormatViolation
	}

	seg := Segment{
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		DstPort: binary.BigEndian.Uint16(data[2:4]),
		Bytes:   uint64(appLen),
	}
	if appLen > 0 {
		seg.Payload = append([]byte(nil), data[udpHeaderLen:udpHeaderLen+appLen]...)
	}
	return seg, nil
}

// DecodeICMP encodes (type<<8 | code) into DstPort, per spec.md §4.D; no
// payload is ever copied for ICMP/ICMPv6. isV6 only affects the debug-log
// type name resolved via golang.org/x/net/icmp.
func DecodeICMP(data []byte, isV6 bool) (Segment, error) {
	if len(data) < icmpTypeCode {
		return Segment{}, ErrFormatViolation
	}
	typ, code := data[0], data[1]
	logp.Debug("translayer", "%s code=%d", ICMPTypeName(typ, isV6), code)
	seg := Segment{
		DstPort: uint16(typ)<<8 | uint16(code),
		Bytes:   uint64(len(data)),
	}
	return seg, nil
}

// ICMPTypeName resolves a debug-log-only label for a captured ICMP(v6)
// type byte. It goes through golang.org/x/net's typed ICMPType/icmp.Type
// values rather than a hand-rolled type->name table; the wire encoding
// (DstPort above) never depends on this path.
func ICMPTypeName(typ byte, isV6 bool) string {
	var t icmp.Type
	var proto string
	if isV6 {
		t = ipv6.ICMPType(typ)
		proto = "icmp6"
	} else {
		t = ipv4.ICMPType(typ)
		proto = "icmp"
	}
	return fmt.Sprintf("%s type %d (%v)", proto, typ, t)
}
