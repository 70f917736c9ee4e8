package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ClientKind discriminates the payload carried by a ClientMessage.
type ClientKind int

// Client message kinds, matching original_source/src/server.rs's
// ClientRequest oneof (Compile, GetStats, ZeroStats, Shutdown). ClientUnknown
// is the zero value, returned by DecodeClientMessage for a well-formed frame
// whose top-level tag names a field number this version doesn't recognize
// (spec.md §7's "recognized non-protocol-error unknown request", answered
// with a single-frame UnknownCommand rather than closing the connection).
const (
	ClientUnknown ClientKind = iota
	ClientCompile
	ClientGetStats
	ClientZeroStats
	ClientShutdown
)

// ClientMessage is one request sent by the thin client to the daemon.
type ClientMessage struct {
	Kind    ClientKind
	Exe     string
	Command []string
	Cwd     string
}

// Field numbers for ClientMessage's top-level discriminant and the nested
// Compile message.
const (
	fieldClientCompile   = 1
	fieldClientGetStats  = 2
	fieldClientZeroStats = 3
	fieldClientShutdown  = 4

	fieldCompileExe     = 1
	fieldCompileCommand = 2
	fieldCompileCwd     = 3
)

// EncodeClientMessage serializes msg into one frame payload.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	switch msg.Kind {
	case ClientCompile:
		var body []byte
		body = appendStringField(body, fieldCompileExe, msg.Exe)
		for _, arg := range msg.Command {
			body = appendStringField(body, fieldCompileCommand, arg)
		}
		body = appendStringField(body, fieldCompileCwd, msg.Cwd)

		out := protowire.AppendTag(nil, fieldClientCompile, protowire.BytesType)
		out = protowire.AppendBytes(out, body)

		return out, nil
	case ClientGetStats:
		return appendEmptyField(fieldClientGetStats), nil
	case ClientZeroStats:
		return appendEmptyField(fieldClientZeroStats), nil
	case ClientShutdown:
		return appendEmptyField(fieldClientShutdown), nil
	default:
		return nil, fmt.Errorf("wire: unknown client message kind %d", msg.Kind)
	}
}

// DecodeClientMessage parses a frame payload into a ClientMessage.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	num, typ, n := protowire.ConsumeTag(payload)
	if n < 0 {
		return ClientMessage{}, fmt.Errorf("wire: invalid client message tag: %w", protowire.ParseError(n))
	}

	rest := payload[n:]

	switch num {
	case fieldClientCompile:
		body, bn := protowire.ConsumeBytes(rest)
		if bn < 0 {
			return ClientMessage{}, fmt.Errorf("wire: invalid compile body: %w", protowire.ParseError(bn))
		}

		return decodeCompile(body)
	case fieldClientGetStats:
		return ClientMessage{Kind: ClientGetStats}, consumeVarintField(typ, rest)
	case fieldClientZeroStats:
		return ClientMessage{Kind: ClientZeroStats}, consumeVarintField(typ, rest)
	case fieldClientShutdown:
		return ClientMessage{Kind: ClientShutdown}, consumeVarintField(typ, rest)
	default:
		// An unrecognized but structurally well-formed top-level field is a
		// protocol-level "unknown command", not a decode failure: the caller
		// still owes the peer a response (spec.md §4.F), so this is not an
		// error return.
		return ClientMessage{Kind: ClientUnknown}, nil
	}
}

func decodeCompile(body []byte) (ClientMessage, error) {
	msg := ClientMessage{Kind: ClientCompile}

	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return ClientMessage{}, fmt.Errorf("wire: invalid compile field tag: %w", protowire.ParseError(n))
		}

		body = body[n:]

		if typ != protowire.BytesType {
			return ClientMessage{}, fmt.Errorf("wire: compile field %d has unexpected wire type %d", num, typ)
		}

		val, vn := protowire.ConsumeBytes(body)
		if vn < 0 {
			return ClientMessage{}, fmt.Errorf("wire: invalid compile field %d value: %w", num, protowire.ParseError(vn))
		}

		body = body[vn:]

		switch num {
		case fieldCompileExe:
			msg.Exe = string(val)
		case fieldCompileCommand:
			msg.Command = append(msg.Command, string(val))
		case fieldCompileCwd:
			msg.Cwd = string(val)
		default:
			return ClientMessage{}, fmt.Errorf("wire: unknown compile field number %d", num)
		}
	}

	return msg, nil
}

// appendStringField appends a tagged, length-delimited string field.
func appendStringField(dst []byte, num protowire.Number, s string) []byte {
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	dst = protowire.AppendString(dst, s)

	return dst
}

// appendEmptyField appends a tagged varint field carrying the sentinel
// value 0, used for request kinds that carry no payload of their own.
func appendEmptyField(num protowire.Number) []byte {
	dst := protowire.AppendTag(nil, num, protowire.VarintType)
	dst = protowire.AppendVarint(dst, 0)

	return dst
}

func consumeVarintField(typ protowire.Type, rest []byte) error {
	if typ != protowire.VarintType {
		return fmt.Errorf("wire: expected varint field, got wire type %d", typ)
	}

	_, n := protowire.ConsumeVarint(rest)
	if n < 0 {
		return fmt.Errorf("wire: invalid varint field: %w", protowire.ParseError(n))
	}

	return nil
}
