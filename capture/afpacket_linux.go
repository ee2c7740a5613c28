//go:build linux

// AF_PACKET raw-socket ingress backend: a concrete producer for Engine's
// ingress callback, gated to Linux the way platform-specific code in the
// pack is gated (mistsys-tuntap's tun_linux.go/tun_freebsd.go split).
// PACKET_FANOUT with PACKET_FANOUT_HASH is the kernel-side realization of
// spec.md §5's "flows are dispatched by hash-of-key to a stable shard":
// every socket that joins the same fanout group receives a disjoint,
// flow-stable subset of frames, so N Engines fed by N fanout members behave
// like N shards without flowprobe computing the hash itself.
package capture

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
	"unsafe"

	"github.com/google/gopacket"
	"golang.org/x/sys/unix"
)

const packetFanoutHash = 0 // PACKET_FANOUT_HASH, linux/if_packet.h

// AFPacketSource is a single member of an (optional) PACKET_FANOUT group
// bound to one network interface.
type AFPacketSource struct {
	fd      int
	snaplen int
	buf     []byte
}

// NewAFPacketSource opens an AF_PACKET/SOCK_RAW socket bound to iface. When
// fanoutGroup is nonzero the socket joins that PACKET_FANOUT group with
// hash-based distribution; pass 0 to run unsharded.
func NewAFPacketSource(iface string, snaplen int, fanoutGroup uint16) (*AFPacketSource, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("capture: socket(AF_PACKET): %w", err)
	}

	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("capture: lookup interface %q: %w", iface, err)
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifi.Index,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("capture: bind to %q: %w", iface, err)
	}

	if fanoutGroup != 0 {
		fanoutArg := int(fanoutGroup) | (packetFanoutHash << 16)
		if err := unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_FANOUT, fanoutArg); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("capture: join fanout group %d: %w", fanoutGroup, err)
		}
	}

	return &AFPacketSource{fd: fd, snaplen: snaplen, buf: make([]byte, snaplen)}, nil
}

func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.LittleEndian.Uint16(b[:])
}

// ReadPacket blocks for the next frame and returns a capture-info pair
// shaped exactly as spec.md §6 requires (capture timestamp, captured and
// wire length). The returned slice is reused by the next ReadPacket call —
// callers that need to retain bytes past that point must copy.
func (s *AFPacketSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	n, _, err := unix.Recvfrom(s.fd, s.buf, 0)
	if err != nil {
		return nil, gopacket.CaptureInfo{}, fmt.Errorf("capture: recvfrom: %w", err)
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: n,
		Length:        n,
	}
	return s.buf[:n], ci, nil
}

// Close releases the underlying socket.
func (s *AFPacketSource) Close() error {
	return unix.Close(s.fd)
}

// tpacketStats mirrors linux/af_packet.h's struct tpacket_stats, the shape
// PACKET_STATISTICS hands back via getsockopt.
type tpacketStats struct {
	Packets uint32
	Drops   uint32
}

// CaptureStats implements stats.CaptureStatsProvider: tp_drops is the
// kernel's own count of frames dropped before userspace ever saw them,
// spec.md §6's dropped_by_kernel field. This backend has no separate
// interface-level drop counter, so droppedByIface is always 0.
func (s *AFPacketSource) CaptureStats() (droppedByIface, droppedByKernel uint64, err error) {
	var st tpacketStats
	vallen := uint32(unsafe.Sizeof(st))
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(s.fd),
		uintptr(unix.SOL_PACKET), uintptr(unix.PACKET_STATISTICS),
		uintptr(unsafe.Pointer(&st)), uintptr(unsafe.Pointer(&vallen)), 0)
	if errno != 0 {
		return 0, 0, fmt.Errorf("capture: getsockopt(PACKET_STATISTICS): %w", errno)
	}
	return 0, uint64(st.Drops), nil
}
