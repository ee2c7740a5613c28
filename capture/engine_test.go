package capture

import (
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/flowprobe/flowprobe/handshake"
	"github.com/flowprobe/flowprobe/outqueue"
)

func ethIPv4TCP(flags byte, payload []byte) []byte {
	eth := []byte{
		0, 1, 2, 3, 4, 5, // dst mac
		6, 7, 8, 9, 10, 11, // src mac
		0x08, 0x00, // IPv4
	}

	tcpHdr := make([]byte, 20)
	tcpHdr[0], tcpHdr[1] = 0x03, 0xE8 // src port 1000
	tcpHdr[2], tcpHdr[3] = 0, 80      // dst port 80
	tcpHdr[12] = 5 << 4
	tcpHdr[13] = flags
	tcp := append(tcpHdr, payload...)

	totalLen := 20 + len(tcp)
	ip := make([]byte, 20)
	ip[0] = 0x45
	ip[2], ip[3] = byte(totalLen>>8), byte(totalLen)
	ip[9] = 6 // TCP
	ip[12], ip[13], ip[14], ip[15] = 10, 0, 0, 1
	ip[16], ip[17], ip[18], ip[19] = 10, 0, 0, 2
	ip = append(ip, tcp...)

	return append(eth, ip...)
}

func TestEngineProcessSYNInsertsFlow(t *testing.T) {
	out := outqueue.New(8)
	e := NewEngine(DefaultConfig(layers.LinkTypeEthernet), out, nil)

	frame := ethIPv4TCP(0x02, nil) // SYN
	e.Process(frame, gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(frame), Length: len(frame)})

	require.Equal(t, uint64(1), e.Counters().Packets)
	require.Equal(t, 1, e.table.Len())
}

func TestEngineProcessFINFlushesToQueue(t *testing.T) {
	out := outqueue.New(8)
	e := NewEngine(DefaultConfig(layers.LinkTypeEthernet), out, nil)

	synFrame := ethIPv4TCP(0x02, nil)
	e.Process(synFrame, gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(synFrame), Length: len(synFrame)})

	finFrame := ethIPv4TCP(0x01, nil) // FIN
	e.Process(finFrame, gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(finFrame), Length: len(finFrame)})

	rec := <-out.Drain()
	require.Equal(t, uint32(1000), rec.SrcPort)
	require.Equal(t, uint32(80), rec.DstPort)
}

func TestEngineProcessShortFrameCountsShortSnap(t *testing.T) {
	out := outqueue.New(8)
	e := NewEngine(DefaultConfig(layers.LinkTypeEthernet), out, nil)

	e.Process([]byte{0, 1, 2}, gopacket.CaptureInfo{})
	require.Equal(t, uint64(1), e.Counters().ShortSnap, "14 bytes needed for an ethernet header, 3 given")
}

type stubProvider struct {
	desc handshake.Descriptor
	ok   bool
}

func (s stubProvider) Parse(payload []byte, transport handshake.Transport) (handshake.Descriptor, bool) {
	return s.desc, s.ok
}

func TestEngineBuildsFingerprintWhenProviderRecognizesClientHello(t *testing.T) {
	out := outqueue.New(8)
	provider := stubProvider{
		ok: true,
		desc: handshake.Descriptor{
			Transport:    handshake.TransportTCP,
			TLSVersion:   "13",
			SNIPresent:   true,
			ALPN:         "h2",
			CipherSuites: []uint16{0x1301, 0x1302},
			Extensions:   []uint16{0x0000, 0x0010, 0x002b},
		},
	}
	e := NewEngine(DefaultConfig(layers.LinkTypeEthernet), out, provider)

	clientHello := []byte{0x16, 0x03, 0x03, 0x00, 0x10, 0x01, 0xAA, 0xBB}
	frame := ethIPv4TCP(0x18, clientHello) // PSH|ACK carrying a ClientHello-shaped payload
	e.Process(frame, gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(frame), Length: len(frame)})

	rec := <-out.Drain()
	require.NotEmpty(t, rec.JA4)
}

func TestEngineIdleSweepFlushesStaleFlow(t *testing.T) {
	out := outqueue.New(8)
	cfg := DefaultConfig(layers.LinkTypeEthernet)
	cfg.IdleTimeout = time.Second
	e := NewEngine(cfg, out, nil)

	past := time.Now().Add(-2 * time.Hour)
	frame := ethIPv4TCP(0x10, nil) // ACK only, no flush trigger
	e.Process(frame, gopacket.CaptureInfo{Timestamp: past, CaptureLength: len(frame), Length: len(frame)})

	e.IdleSweep(time.Now())
	require.Len(t, out.Drain(), 1)
}
