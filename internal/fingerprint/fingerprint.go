// Package fingerprint computes the cache key for a compile request.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest is a hex-encoded SHA-256 fingerprint identifying one cacheable
// compilation: a specific compiler, flag set, preprocessed source, and
// output kind.
type Digest string

// Compute derives a Digest from the compiler's own identifying digest, the
// cacheable argument set, the preprocessed source bytes, and the output
// file's extension, writing each component into one hash in a fixed order —
// order is part of the contract, so two requests differing only in which
// component contributed which bytes must never collide.
//
// TODO: accept an optional salt (e.g. wrapper version) once a concrete
// caller needs cross-version cache invalidation; no caller needs it yet.
func Compute(compilerDigest, flagsDigest string, preprocessed []byte, outputExt string) Digest {
	h := sha256.New()
	writeField(h, []byte(compilerDigest))
	writeField(h, []byte(flagsDigest))
	writeField(h, preprocessed)
	writeField(h, []byte(outputExt))

	return Digest(hex.EncodeToString(h.Sum(nil)))
}

// writeField writes a length-prefixed field into h so that concatenation
// boundaries between fields can never be forged by crafting input bytes
// that shift content across them.
func writeField(h interface{ Write([]byte) (int, error) }, data []byte) {
	var lenBuf [8]byte

	n := len(data)
	for i := range lenBuf {
		lenBuf[i] = byte(n >> (8 * i))
	}

	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write(data)
}

// FlagsDigest hashes a normalized, order-preserved argument list into a
// stable string suitable for passing to Compute as flagsDigest.
func FlagsDigest(args []string) string {
	h := sha256.New()
	for _, a := range args {
		writeField(h, []byte(a))
	}

	return hex.EncodeToString(h.Sum(nil))
}
