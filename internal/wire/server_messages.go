package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ServerKind discriminates the payload carried by a ServerMessage.
type ServerKind int

// Server message kinds, matching original_source/src/server.rs's
// ServerResponse oneof.
const (
	ServerCompileStarted ServerKind = iota + 1
	ServerCompileFinished
	ServerStats
	ServerShuttingDown
	ServerUnhandledCompile
	ServerUnknownCommand
)

// CacheStatistic is one human-readable (name, value) pair in a stats
// response, mirroring original_source/src/server.rs's CacheStatistic which
// carries exactly one of a count, a duration-formatted string, or a raw
// string per entry.
type CacheStatistic struct {
	Name  string
	Count uint64
	Str   string
	// HasCount distinguishes a zero count from "this entry carries a
	// string value instead of a count" (Str is used when false).
	HasCount bool
}

// ServerMessage is one response frame sent by the daemon to the client. A
// single compile request may produce two ServerMessages in sequence:
// CompileStarted immediately, followed later by CompileFinished — the
// streaming response spec.md §4.E and §9 describe.
type ServerMessage struct {
	Kind    ServerKind
	Retcode int32
	Stdout  []byte
	Stderr  []byte
	Stats   []CacheStatistic
}

const (
	fieldServerCompileStarted    = 1
	fieldServerCompileFinished   = 2
	fieldServerStats             = 3
	fieldServerShuttingDown      = 4
	fieldServerUnhandledCompile  = 5
	fieldServerUnknownCommand    = 6
	fieldCompileFinishedRetcode  = 1
	fieldCompileFinishedStdout   = 2
	fieldCompileFinishedStderr   = 3
	fieldCacheStatEntry          = 1
	fieldCacheStatName           = 1
	fieldCacheStatCount          = 2
	fieldCacheStatStr            = 3
)

// EncodeServerMessage serializes msg into one frame payload.
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	switch msg.Kind {
	case ServerCompileStarted:
		return appendEmptyField(fieldServerCompileStarted), nil
	case ServerCompileFinished:
		body := encodeCompileFinished(msg)
		out := protowire.AppendTag(nil, fieldServerCompileFinished, protowire.BytesType)

		return protowire.AppendBytes(out, body), nil
	case ServerStats:
		return encodeStatsMessage(fieldServerStats, msg.Stats), nil
	case ServerShuttingDown:
		return encodeStatsMessage(fieldServerShuttingDown, msg.Stats), nil
	case ServerUnhandledCompile:
		return appendEmptyField(fieldServerUnhandledCompile), nil
	case ServerUnknownCommand:
		return appendEmptyField(fieldServerUnknownCommand), nil
	default:
		return nil, fmt.Errorf("wire: unknown server message kind %d", msg.Kind)
	}
}

func encodeCompileFinished(msg ServerMessage) []byte {
	var body []byte

	body = protowire.AppendTag(body, fieldCompileFinishedRetcode, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(uint32(msg.Retcode)))
	body = protowire.AppendTag(body, fieldCompileFinishedStdout, protowire.BytesType)
	body = protowire.AppendBytes(body, msg.Stdout)
	body = protowire.AppendTag(body, fieldCompileFinishedStderr, protowire.BytesType)
	body = protowire.AppendBytes(body, msg.Stderr)

	return body
}

func encodeStatsMessage(topField protowire.Number, stats []CacheStatistic) []byte {
	var entries []byte

	for _, st := range stats {
		entry := encodeCacheStatistic(st)
		entries = protowire.AppendTag(entries, fieldCacheStatEntry, protowire.BytesType)
		entries = protowire.AppendBytes(entries, entry)
	}

	out := protowire.AppendTag(nil, topField, protowire.BytesType)

	return protowire.AppendBytes(out, entries)
}

func encodeCacheStatistic(st CacheStatistic) []byte {
	var entry []byte

	entry = appendStringField(entry, fieldCacheStatName, st.Name)

	if st.HasCount {
		entry = protowire.AppendTag(entry, fieldCacheStatCount, protowire.VarintType)
		entry = protowire.AppendVarint(entry, st.Count)
	} else {
		entry = appendStringField(entry, fieldCacheStatStr, st.Str)
	}

	return entry
}

// DecodeServerMessage parses a frame payload into a ServerMessage.
func DecodeServerMessage(payload []byte) (ServerMessage, error) {
	num, typ, n := protowire.ConsumeTag(payload)
	if n < 0 {
		return ServerMessage{}, fmt.Errorf("wire: invalid server message tag: %w", protowire.ParseError(n))
	}

	rest := payload[n:]

	switch num {
	case fieldServerCompileStarted:
		return ServerMessage{Kind: ServerCompileStarted}, consumeVarintField(typ, rest)
	case fieldServerCompileFinished:
		return decodeCompileFinished(rest)
	case fieldServerStats:
		return decodeStatsMessage(ServerStats, rest)
	case fieldServerShuttingDown:
		return decodeStatsMessage(ServerShuttingDown, rest)
	case fieldServerUnhandledCompile:
		return ServerMessage{Kind: ServerUnhandledCompile}, consumeVarintField(typ, rest)
	case fieldServerUnknownCommand:
		return ServerMessage{Kind: ServerUnknownCommand}, consumeVarintField(typ, rest)
	default:
		return ServerMessage{}, fmt.Errorf("wire: unknown server field number %d", num)
	}
}

func decodeCompileFinished(rest []byte) (ServerMessage, error) {
	body, n := protowire.ConsumeBytes(rest)
	if n < 0 {
		return ServerMessage{}, fmt.Errorf("wire: invalid compile-finished body: %w", protowire.ParseError(n))
	}

	msg := ServerMessage{Kind: ServerCompileFinished}

	for len(body) > 0 {
		num, typ, tn := protowire.ConsumeTag(body)
		if tn < 0 {
			return ServerMessage{}, fmt.Errorf("wire: invalid compile-finished field tag: %w", protowire.ParseError(tn))
		}

		body = body[tn:]

		switch num {
		case fieldCompileFinishedRetcode:
			if typ != protowire.VarintType {
				return ServerMessage{}, fmt.Errorf("wire: retcode field has unexpected wire type %d", typ)
			}

			v, vn := protowire.ConsumeVarint(body)
			if vn < 0 {
				return ServerMessage{}, fmt.Errorf("wire: invalid retcode value: %w", protowire.ParseError(vn))
			}

			msg.Retcode = int32(uint32(v))
			body = body[vn:]
		case fieldCompileFinishedStdout:
			v, vn := protowire.ConsumeBytes(body)
			if vn < 0 {
				return ServerMessage{}, fmt.Errorf("wire: invalid stdout value: %w", protowire.ParseError(vn))
			}

			msg.Stdout = append([]byte(nil), v...)
			body = body[vn:]
		case fieldCompileFinishedStderr:
			v, vn := protowire.ConsumeBytes(body)
			if vn < 0 {
				return ServerMessage{}, fmt.Errorf("wire: invalid stderr value: %w", protowire.ParseError(vn))
			}

			msg.Stderr = append([]byte(nil), v...)
			body = body[vn:]
		default:
			return ServerMessage{}, fmt.Errorf("wire: unknown compile-finished field number %d", num)
		}
	}

	return msg, nil
}

func decodeStatsMessage(kind ServerKind, rest []byte) (ServerMessage, error) {
	body, n := protowire.ConsumeBytes(rest)
	if n < 0 {
		return ServerMessage{}, fmt.Errorf("wire: invalid stats body: %w", protowire.ParseError(n))
	}

	msg := ServerMessage{Kind: kind}

	for len(body) > 0 {
		num, typ, tn := protowire.ConsumeTag(body)
		if tn < 0 {
			return ServerMessage{}, fmt.Errorf("wire: invalid stats entry tag: %w", protowire.ParseError(tn))
		}

		body = body[tn:]

		if num != fieldCacheStatEntry || typ != protowire.BytesType {
			return ServerMessage{}, fmt.Errorf("wire: unexpected stats field %d/%d", num, typ)
		}

		entry, en := protowire.ConsumeBytes(body)
		if en < 0 {
			return ServerMessage{}, fmt.Errorf("wire: invalid stats entry value: %w", protowire.ParseError(en))
		}

		body = body[en:]

		st, err := decodeCacheStatistic(entry)
		if err != nil {
			return ServerMessage{}, err
		}

		msg.Stats = append(msg.Stats, st)
	}

	return msg, nil
}

func decodeCacheStatistic(entry []byte) (CacheStatistic, error) {
	var st CacheStatistic

	for len(entry) > 0 {
		num, typ, n := protowire.ConsumeTag(entry)
		if n < 0 {
			return CacheStatistic{}, fmt.Errorf("wire: invalid cache-statistic field tag: %w", protowire.ParseError(n))
		}

		entry = entry[n:]

		switch num {
		case fieldCacheStatName:
			v, vn := protowire.ConsumeBytes(entry)
			if vn < 0 {
				return CacheStatistic{}, fmt.Errorf("wire: invalid stat name: %w", protowire.ParseError(vn))
			}

			st.Name = string(v)
			entry = entry[vn:]
		case fieldCacheStatCount:
			if typ != protowire.VarintType {
				return CacheStatistic{}, fmt.Errorf("wire: stat count field has unexpected wire type %d", typ)
			}

			v, vn := protowire.ConsumeVarint(entry)
			if vn < 0 {
				return CacheStatistic{}, fmt.Errorf("wire: invalid stat count: %w", protowire.ParseError(vn))
			}

			st.Count = v
			st.HasCount = true
			entry = entry[vn:]
		case fieldCacheStatStr:
			v, vn := protowire.ConsumeBytes(entry)
			if vn < 0 {
				return CacheStatistic{}, fmt.Errorf("wire: invalid stat string: %w", protowire.ParseError(vn))
			}

			st.Str = string(v)
			entry = entry[vn:]
		default:
			return CacheStatistic{}, fmt.Errorf("wire: unknown cache-statistic field number %d", num)
		}
	}

	return st, nil
}
