// Package archive implements the cache entry container format: a small
// named-member archive (object file, dependency file, captured
// stdout/stderr) with each member individually LZ4-block-compressed, the
// same lz4.CompressBlock/UncompressBlock API
// internal/rbtree/lz4.go uses for red-black-tree page compression,
// generalized here from a fixed []uint32 payload to arbitrary named byte
// members with a length-prefixed directory.
package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// magic identifies an sccached archive; archives are an internal format
// with no external compatibility guarantee, so this only guards against
// feeding in unrelated bytes.
const magic = "SCAR"

// Member is one named file inside an archive (e.g. "object", "dep").
type Member struct {
	Name string
	Data []byte
}

// Build serializes members into one archive blob: a magic header, a uvarint
// member count, then for each member a (name length, name, uncompressed
// length, stored/compressed flag byte, compressed length, compressed bytes)
// record, in the given order. Order is part of
// the contract — Extract returns members in the same order they were
// written.
func Build(members []Member) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(magic)
	writeUvarint(&buf, uint64(len(members)))

	for _, m := range members {
		compressed, stored, err := compressBlock(m.Data)
		if err != nil {
			return nil, fmt.Errorf("archive: compress member %q: %w", m.Name, err)
		}

		writeUvarint(&buf, uint64(len(m.Name)))
		buf.WriteString(m.Name)
		writeUvarint(&buf, uint64(len(m.Data)))

		if stored {
			buf.WriteByte(0)
		} else {
			buf.WriteByte(1)
		}

		writeUvarint(&buf, uint64(len(compressed)))
		buf.Write(compressed)
	}

	return buf.Bytes(), nil
}

// Extract parses an archive blob built by Build back into its members.
func Extract(blob []byte) ([]Member, error) {
	r := bytes.NewReader(blob)

	hdr := make([]byte, len(magic))

	_, err := io.ReadFull(r, hdr)
	if err != nil || string(hdr) != magic {
		return nil, fmt.Errorf("archive: missing or invalid magic header")
	}

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("archive: read member count: %w", err)
	}

	members := make([]Member, 0, count)

	for i := uint64(0); i < count; i++ {
		m, err := readMember(r)
		if err != nil {
			return nil, fmt.Errorf("archive: read member %d: %w", i, err)
		}

		members = append(members, m)
	}

	return members, nil
}

func readMember(r *bytes.Reader) (Member, error) {
	nameLen, err := binary.ReadUvarint(r)
	if err != nil {
		return Member{}, fmt.Errorf("read name length: %w", err)
	}

	name := make([]byte, nameLen)

	_, err = io.ReadFull(r, name)
	if err != nil {
		return Member{}, fmt.Errorf("read name: %w", err)
	}

	uncompressedLen, err := binary.ReadUvarint(r)
	if err != nil {
		return Member{}, fmt.Errorf("read uncompressed length: %w", err)
	}

	storedFlag, err := r.ReadByte()
	if err != nil {
		return Member{}, fmt.Errorf("read storage flag: %w", err)
	}

	compressedLen, err := binary.ReadUvarint(r)
	if err != nil {
		return Member{}, fmt.Errorf("read compressed length: %w", err)
	}

	compressed := make([]byte, compressedLen)

	_, err = io.ReadFull(r, compressed)
	if err != nil {
		return Member{}, fmt.Errorf("read compressed bytes: %w", err)
	}

	data, err := decompressBlock(compressed, int(uncompressedLen), storedFlag == 0)
	if err != nil {
		return Member{}, fmt.Errorf("decompress: %w", err)
	}

	return Member{Name: string(name), Data: data}, nil
}

// compressBlock compresses data, returning stored=true when the block was
// left uncompressed (empty input, or lz4 reporting the input as
// incompressible within its bound).
func compressBlock(data []byte) (out []byte, stored bool, err error) {
	if len(data) == 0 {
		return nil, true, nil
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(data)))

	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, false, err
	}

	if n == 0 {
		return data, true, nil
	}

	return compressed[:n], false, nil
}

func decompressBlock(compressed []byte, uncompressedLen int, stored bool) ([]byte, error) {
	if uncompressedLen == 0 {
		return nil, nil
	}

	if stored {
		return compressed, nil
	}

	out := make([]byte, uncompressedLen)

	n, err := lz4.UncompressBlock(compressed, out)
	if err != nil {
		return nil, err
	}

	return out[:n], nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}
