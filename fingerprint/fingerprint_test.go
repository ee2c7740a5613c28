package fingerprint

import (
	"testing"

	"github.com/flowprobe/flowprobe/handshake"
	"github.com/stretchr/testify/require"
)

// referenceDescriptor reproduces ja4.c's embedded TLS 1.3 ClientHello test
// vector verbatim (the JA4_r string in its MAIN block's comment):
//
//	t13d1715h2_002f,0035,009c,...,cca9_0005,000a,...,ff01_0403,0503,...,0201
//
// expected JA4: t13d1715h2_5b57614c22b0_3d5424432f57
func referenceDescriptor() handshake.Descriptor {
	return handshake.Descriptor{
		Transport:  handshake.TransportTCP,
		TLSVersion: "13",
		SNIPresent: true,
		ALPN:       "h2",
		CipherSuites: []uint16{
			0x002f, 0x0035, 0x009c, 0x009d, 0x1301, 0x1302, 0x1303,
			0xc009, 0xc00a, 0xc013, 0xc014, 0xc02b, 0xc02c, 0xc02f,
			0xc030, 0xcca8, 0xcca9,
		},
		Extensions: []uint16{
			0x0000, 0x0005, 0x000a, 0x000b, 0x000d, 0x0010, 0x0015,
			0x0017, 0x001c, 0x0022, 0x0023, 0x002b, 0x002d, 0x0033,
			0xff01,
		},
		SignatureAlgorithms: []uint16{
			0x0403, 0x0503, 0x0603, 0x0804, 0x0805, 0x0806,
			0x0401, 0x0501, 0x0601, 0x0203, 0x0201,
		},
	}
}

func TestBuildReproducesJA4ReferenceVector(t *testing.T) {
	rec, ok := Build(referenceDescriptor())
	require.True(t, ok)
	require.Equal(t, "t13d1715h2_5b57614c22b0_3d5424432f57", rec.String())
}

func TestBuildFieldAComponents(t *testing.T) {
	d := referenceDescriptor()
	rec, ok := Build(d)
	require.True(t, ok)
	require.Equal(t, "t13d1715h2", rec.A)
}

func TestBuildDeterministicUnderCipherSuiteReordering(t *testing.T) {
	d := referenceDescriptor()
	reordered := referenceDescriptor()
	reordered.CipherSuites = []uint16{
		0xcca9, 0x002f, 0xc030, 0x0035, 0x009c, 0xc02f, 0x009d,
		0x1301, 0xc02c, 0x1302, 0xc02b, 0x1303, 0xc014, 0xc009,
		0xc013, 0xc00a, 0xcca8,
	}

	recA, okA := Build(d)
	recB, okB := Build(reordered)
	require.True(t, okA)
	require.True(t, okB)
	require.Equal(t, recA, recB)
}

func TestBuildNoSNIUsesAbsentFlag(t *testing.T) {
	d := referenceDescriptor()
	d.SNIPresent = false
	rec, ok := Build(d)
	require.True(t, ok)
	require.Equal(t, byte('i'), rec.A[3])
}

func TestBuildNoALPNUsesZeroZero(t *testing.T) {
	d := referenceDescriptor()
	d.ALPN = ""
	rec, ok := Build(d)
	require.True(t, ok)
	require.Equal(t, "00", rec.A[8:10])
}

func TestBuildOverflowingCipherCountYieldsNoFingerprint(t *testing.T) {
	d := referenceDescriptor()
	d.CipherSuites = make([]uint16, 100)
	_, ok := Build(d)
	require.False(t, ok)
}

func TestBuildOverflowingExtensionCountYieldsNoFingerprint(t *testing.T) {
	d := referenceDescriptor()
	d.Extensions = make([]uint16, 100)
	_, ok := Build(d)
	require.False(t, ok)
}

func TestBuildQUICTransportTag(t *testing.T) {
	d := referenceDescriptor()
	d.Transport = handshake.TransportQUIC
	rec, ok := Build(d)
	require.True(t, ok)
	require.Equal(t, byte('q'), rec.A[0])
}

func TestBuildSignatureAlgorithmOrderAffectsFieldC(t *testing.T) {
	d := referenceDescriptor()
	reordered := referenceDescriptor()
	reordered.SignatureAlgorithms = []uint16{
		0x0201, 0x0203, 0x0601, 0x0501, 0x0401,
		0x0806, 0x0805, 0x0804, 0x0603, 0x0503, 0x0403,
	}

	recA, _ := Build(d)
	recB, _ := Build(reordered)
	require.NotEqual(t, recA.C, recB.C, "signature algorithms are never sorted")
}
