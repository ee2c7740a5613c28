// Package fingerprint implements component G from spec.md §4.G: the
// JA4-style three-part fingerprint built from a handshake.Descriptor.
// Grounded on original_source/src/decode/ja4/ja4.c's DecodeJA4.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/flowprobe/flowprobe/handshake"
	"github.com/valyala/bytebufferpool"
)

const maxFieldCount = 99

const (
	extSNI  uint16 = 0x0000
	extALPN uint16 = 0x0010
)

// Record is the three-part ASCII fingerprint: a_b_c (spec.md §4.G).
type Record struct {
	A string // 10 chars: transport, version, SNI flag, cipher count, ext count, ALPN edges
	B string // 12 hex chars: truncated SHA-256 of the sorted cipher-suite list
	C string // 12 hex chars: truncated SHA-256 of sorted extensions (minus SNI/ALPN) + sig algs
}

// String renders the canonical a_b_c form.
func (r Record) String() string {
	return r.A + "_" + r.B + "_" + r.C
}

// Build constructs a fingerprint from d. ok is false when either the cipher
// suite or extension count exceeds 99 — ja4.c's DecodeJA4 returns 0 (no
// fingerprint) in that case rather than truncating or wrapping the count
// digits, and flowprobe preserves that: a >99 handshake emits no record.
func Build(d handshake.Descriptor) (Record, bool) {
	if len(d.CipherSuites) > maxFieldCount || len(d.Extensions) > maxFieldCount {
		return Record{}, false
	}

	return Record{
		A: fieldA(d),
		B: fieldB(d.CipherSuites),
		C: fieldC(d.Extensions, d.SignatureAlgorithms),
	}, true
}

func fieldA(d handshake.Descriptor) string {
	sni := byte('i')
	if d.SNIPresent {
		sni = 'd'
	}

	alpn := "00"
	if d.ALPN != "" {
		alpn = string(d.ALPN[0]) + string(d.ALPN[len(d.ALPN)-1])
	}

	return fmt.Sprintf("%s%s%c%02d%02d%s",
		d.Transport.String()[:1], d.TLSVersion, sni,
		len(d.CipherSuites), len(d.Extensions), alpn)
}

func fieldB(cipherSuites []uint16) string {
	sorted := sortedCopy(cipherSuites)

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.Reset()
	writeHexJoined(buf, sorted)

	return truncatedHexDigest(buf.Bytes())
}

func fieldC(extensions, signatureAlgorithms []uint16) string {
	filtered := make([]uint16, 0, len(extensions))
	for _, e := range extensions {
		if e == extSNI || e == extALPN {
			continue
		}
		filtered = append(filtered, e)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i] < filtered[j] })

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.Reset()
	writeHexJoined(buf, filtered)
	buf.WriteString("_")
	// Signature algorithm order is significant and is never sorted
	// (ja4.c iterates ssl->signatures in wire order).
	writeHexJoined(buf, signatureAlgorithms)

	return truncatedHexDigest(buf.Bytes())
}

func sortedCopy(vals []uint16) []uint16 {
	out := append([]uint16(nil), vals...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func writeHexJoined(buf *bytebufferpool.ByteBuffer, vals []uint16) {
	for i, v := range vals {
		if i > 0 {
			buf.WriteString(",")
		}
		fmt.Fprintf(buf, "%04x", v)
	}
}

// truncatedHexDigest returns the first 6 bytes (12 hex characters) of the
// SHA-256 digest of data, matching ja4.c's HexString(sha256Digest, 6, ...).
func truncatedHexDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:6])
}
