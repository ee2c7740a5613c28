package iplayer

import (
	"testing"

	"github.com/flowprobe/flowprobe/flow"
	"github.com/stretchr/testify/require"
)

func ipv4Packet(proto byte, payload []byte, flagsOffset uint16) []byte {
	totalLen := 20 + len(payload)
	hdr := make([]byte, 20)
	hdr[0] = 0x45 // version 4, IHL 5
	hdr[2] = byte(totalLen >> 8)
	hdr[3] = byte(totalLen)
	hdr[6] = byte(flagsOffset >> 8)
	hdr[7] = byte(flagsOffset)
	hdr[9] = proto
	hdr[12], hdr[13], hdr[14], hdr[15] = 10, 0, 0, 1
	hdr[16], hdr[17], hdr[18], hdr[19] = 10, 0, 0, 2
	return append(hdr, payload...)
}

func ipv6Packet(next byte, payload []byte) []byte {
	hdr := make([]byte, 40)
	hdr[0] = 0x60
	hdr[4] = byte(len(payload) >> 8)
	hdr[5] = byte(len(payload))
	hdr[6] = next
	hdr[8] = 0x20
	hdr[9] = 0x01
	hdr[24] = 0x20
	hdr[25] = 0x01
	return append(hdr, payload...)
}

func TestDecodeIPv4Basic(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	pkt := ipv4Packet(17, payload, 0)

	res := Decode(pkt, flow.IPv4)
	require.Equal(t, OutcomeOK, res.Outcome)
	require.Equal(t, flow.ProtoUDP, res.Proto)
	require.Equal(t, payload, res.L4)
	require.False(t, res.Tunnel.Present)
	require.Equal(t, "10.0.0.1", res.Src.String())
	require.Equal(t, "10.0.0.2", res.Dst.String())
}

func TestDecodeIPv4FragmentDropped(t *testing.T) {
	pkt := ipv4Packet(17, []byte{1, 2}, 0x2000) // MF set
	res := Decode(pkt, flow.IPv4)
	require.Equal(t, OutcomeFragmentDropped, res.Outcome)

	pkt2 := ipv4Packet(17, []byte{1, 2}, 0x0001) // nonzero frag offset
	res2 := Decode(pkt2, flow.IPv4)
	require.Equal(t, OutcomeFragmentDropped, res2.Outcome)
}

func TestDecodeIPv4ShortSnapClampsPayload(t *testing.T) {
	pkt := ipv4Packet(6, []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0)
	truncated := pkt[:22] // only 2 payload bytes actually captured
	res := Decode(truncated, flow.IPv4)
	require.Equal(t, OutcomeOK, res.Outcome)
	require.Len(t, res.L4, 2)
}

func TestDecodeIPv6Basic(t *testing.T) {
	payload := []byte{0xAA, 0xBB}
	pkt := ipv6Packet(6, payload)
	res := Decode(pkt, flow.IPv6)
	require.Equal(t, OutcomeOK, res.Outcome)
	require.Equal(t, flow.ProtoTCP, res.Proto)
	require.Equal(t, payload, res.L4)
}

func TestDecodeIPIPTunnelRecursesOnce(t *testing.T) {
	innerPayload := []byte{9, 9, 9, 9}
	inner := ipv4Packet(6, innerPayload, 0)
	outer := ipv4Packet(byte(flow.ProtoIPIP), inner, 0)

	res := Decode(outer, flow.IPv4)
	require.Equal(t, OutcomeOK, res.Outcome)
	require.Equal(t, flow.ProtoTCP, res.Proto)
	require.Equal(t, innerPayload, res.L4)
	require.True(t, res.Tunnel.Present)
	require.Equal(t, flow.ProtoIPIP, res.Tunnel.Proto)
	require.Equal(t, "10.0.0.1", res.Tunnel.SrcAddr.String())
}

func TestDecodeTunnelDepthCappedAtOne(t *testing.T) {
	innermost := ipv4Packet(6, []byte{1}, 0)
	middle := ipv4Packet(byte(flow.ProtoIPIP), innermost, 0) // a second IPIP layer
	outer := ipv4Packet(byte(flow.ProtoIPIP), middle, 0)

	res := Decode(outer, flow.IPv4)
	require.Equal(t, OutcomeOK, res.Outcome)
	// The *middle* packet's protocol (IPIP again) is reported verbatim;
	// it is not unwrapped a second time.
	require.Equal(t, flow.ProtoIPIP, res.Proto)
	require.Equal(t, innermost, res.L4)
}

func TestDecodeFragmentedInnerTunnelDropped(t *testing.T) {
	inner := ipv4Packet(6, []byte{1, 2}, 0x2000) // inner fragment, MF set
	outer := ipv4Packet(byte(flow.ProtoIPIP), inner, 0)

	res := Decode(outer, flow.IPv4)
	require.Equal(t, OutcomeFragmentDropped, res.Outcome)
}

func TestDecodeGRETunnel(t *testing.T) {
	innerPayload := []byte{7, 7}
	inner := ipv4Packet(17, innerPayload, 0)
	greHeader := []byte{0x00, 0x00, 0x08, 0x00}
	greBody := append(greHeader, inner...)
	outer := ipv4Packet(byte(flow.ProtoGRE), greBody, 0)

	res := Decode(outer, flow.IPv4)
	require.Equal(t, OutcomeOK, res.Outcome)
	require.Equal(t, flow.ProtoUDP, res.Proto)
	require.Equal(t, innerPayload, res.L4)
	require.Equal(t, flow.ProtoGRE, res.Tunnel.Proto)
}
