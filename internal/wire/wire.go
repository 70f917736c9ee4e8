// Package wire implements sccached's framed, tagged-message wire protocol.
//
// Every frame on the connection is a varint-encoded length followed by
// exactly that many payload bytes: `varint(len(payload)) || payload`. Each
// payload is itself a small tagged-field encoding built directly on
// [google.golang.org/protobuf/encoding/protowire]'s varint/tag primitives —
// there is no .proto schema and no generated code, only explicit
// Append/Consume calls, mirroring the length-delimited framing
// original_source/src/server.rs builds on top of rust-protobuf.
package wire

import (
	"bufio"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Sumatoshi-tech/sccached/pkg/safeconv"
)

// maxFrameBytes bounds a single frame's payload size, guarding against a
// misbehaving or malicious peer sending an enormous length prefix.
const maxFrameBytes = 256 * 1024 * 1024

// WriteFrame writes a length-delimited frame containing payload to w.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := protowire.AppendVarint(nil, uint64(len(payload)))
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}

	return nil
}

// ReadFrame reads one length-delimited frame's payload from r.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	n, err := readVarint(r)
	if err != nil {
		return nil, fmt.Errorf("wire: read frame length: %w", err)
	}

	if n > maxFrameBytes {
		return nil, fmt.Errorf("wire: frame length %d exceeds maximum %d", n, maxFrameBytes)
	}

	payload := make([]byte, safeconv.MustUintToInt(uint(n)))

	_, err = io.ReadFull(r, payload)
	if err != nil {
		return nil, fmt.Errorf("wire: read frame payload: %w", err)
	}

	return payload, nil
}

// readVarint reads a protobuf-style base-128 varint one byte at a time,
// the streaming counterpart to protowire.ConsumeVarint (which requires the
// whole buffer up front and so cannot be used directly against a live
// connection).
func readVarint(r io.ByteReader) (uint64, error) {
	var (
		result uint64
		shift  uint
	)

	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}

		result |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return result, nil
		}

		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("wire: varint overflows 64 bits")
		}
	}
}
