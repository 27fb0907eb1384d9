// Package wire implements the binary, length-prefixed frame codec used by
// the collaborative session protocol over WebSocket (see §4.3). Every frame
// is a one-byte Kind tag followed by kind-specific fields; multi-byte
// integers are little-endian.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Kind identifies a frame's shape on the wire.
type Kind uint8

const (
	KindSyncStep1      Kind = 1
	KindSyncStep2      Kind = 2
	KindUpdate         Kind = 3
	KindAwarenessUpdate Kind = 4
	KindQueryAwareness Kind = 5
	KindPing           Kind = 6
	KindPong           Kind = 7
	KindAuth           Kind = 8
	KindClose          Kind = 9
)

func (k Kind) String() string {
	switch k {
	case KindSyncStep1:
		return "SyncStep1"
	case KindSyncStep2:
		return "SyncStep2"
	case KindUpdate:
		return "Update"
	case KindAwarenessUpdate:
		return "AwarenessUpdate"
	case KindQueryAwareness:
		return "QueryAwareness"
	case KindPing:
		return "Ping"
	case KindPong:
		return "Pong"
	case KindAuth:
		return "Auth"
	case KindClose:
		return "Close"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Frame is a decoded protocol message. Only the fields relevant to Kind are
// populated; the rest are zero values.
type Frame struct {
	Kind    Kind
	Payload []byte // SyncStep1/2, Update, AwarenessUpdate, Auth
	Counter uint64 // Ping/Pong
	Reason  uint16 // Close
}

// Encode serializes a Frame to its wire representation: one Kind byte,
// followed by a payload whose shape depends on Kind.
func Encode(f Frame) []byte {
	switch f.Kind {
	case KindSyncStep1, KindSyncStep2, KindUpdate, KindAwarenessUpdate, KindAuth:
		buf := make([]byte, 1+4+len(f.Payload))
		buf[0] = byte(f.Kind)
		binary.LittleEndian.PutUint32(buf[1:5], uint32(len(f.Payload)))
		copy(buf[5:], f.Payload)
		return buf
	case KindQueryAwareness:
		return []byte{byte(f.Kind)}
	case KindPing, KindPong:
		buf := make([]byte, 1+8)
		buf[0] = byte(f.Kind)
		binary.LittleEndian.PutUint64(buf[1:], f.Counter)
		return buf
	case KindClose:
		buf := make([]byte, 1+2)
		buf[0] = byte(f.Kind)
		binary.LittleEndian.PutUint16(buf[1:], f.Reason)
		return buf
	default:
		return []byte{byte(f.Kind)}
	}
}

// Decode parses a single frame from a WebSocket binary message. The full
// message must be exactly one frame — gorilla/websocket already delivers
// whole messages, so there is no stream-reassembly to do here.
func Decode(data []byte) (Frame, error) {
	if len(data) < 1 {
		return Frame{}, fmt.Errorf("wire: empty frame")
	}
	kind := Kind(data[0])
	rest := data[1:]

	switch kind {
	case KindSyncStep1, KindSyncStep2, KindUpdate, KindAwarenessUpdate, KindAuth:
		if len(rest) < 4 {
			return Frame{}, fmt.Errorf("wire: %s frame truncated: missing length prefix", kind)
		}
		n := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) != n {
			return Frame{}, fmt.Errorf("wire: %s frame length mismatch: header says %d, have %d", kind, n, len(rest))
		}
		payload := make([]byte, n)
		copy(payload, rest)
		return Frame{Kind: kind, Payload: payload}, nil

	case KindQueryAwareness:
		return Frame{Kind: kind}, nil

	case KindPing, KindPong:
		if len(rest) != 8 {
			return Frame{}, fmt.Errorf("wire: %s frame truncated: want 8 bytes, have %d", kind, len(rest))
		}
		return Frame{Kind: kind, Counter: binary.LittleEndian.Uint64(rest)}, nil

	case KindClose:
		if len(rest) != 2 {
			return Frame{}, fmt.Errorf("wire: Close frame truncated: want 2 bytes, have %d", len(rest))
		}
		return Frame{Kind: kind, Reason: binary.LittleEndian.Uint16(rest)}, nil

	default:
		return Frame{}, fmt.Errorf("wire: unknown frame kind %d", data[0])
	}
}

// Convenience constructors.

func SyncStep1(vector []byte) Frame { return Frame{Kind: KindSyncStep1, Payload: vector} }
func SyncStep2(update []byte) Frame { return Frame{Kind: KindSyncStep2, Payload: update} }
func Update(update []byte) Frame    { return Frame{Kind: KindUpdate, Payload: update} }
func AwarenessUpdate(payload []byte) Frame {
	return Frame{Kind: KindAwarenessUpdate, Payload: payload}
}
func QueryAwareness() Frame        { return Frame{Kind: KindQueryAwareness} }
func Ping(counter uint64) Frame    { return Frame{Kind: KindPing, Counter: counter} }
func Pong(counter uint64) Frame    { return Frame{Kind: KindPong, Counter: counter} }
func Auth(credential []byte) Frame { return Frame{Kind: KindAuth, Payload: credential} }
func Close(reason uint16) Frame    { return Frame{Kind: KindClose, Reason: reason} }
