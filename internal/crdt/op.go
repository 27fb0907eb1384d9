package crdt

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// OpKind distinguishes the two operation shapes a replica exchanges.
type OpKind uint8

const (
	OpInsert OpKind = iota
	OpDelete
)

// Op is a single CRDT operation: the insertion of one character, or the
// tombstoning of a previously-inserted element. Every Op carries its own ID
// so replicas can deduplicate and order it deterministically; Value and
// Target are only meaningful for Insert and Delete respectively.
type Op struct {
	Kind       OpKind
	ID         ID
	OriginLeft ID   // Insert only: the element this one was placed after
	Value      rune // Insert only
	Target     ID   // Delete only: the element being tombstoned
}

// encodeOps serializes a slice of operations into the wire format used for
// Update frames, Snapshot bytes, and diff_against results — they are all the
// same shape, just different subsets of the op history.
func encodeOps(ops []Op) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ops); err != nil {
		// ops contains only plain value fields (no interfaces, no cycles);
		// gob cannot fail to encode it.
		panic(fmt.Sprintf("crdt: encode ops: %v", err))
	}
	return buf.Bytes()
}

func decodeOps(data []byte) ([]Op, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var ops []Op
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ops); err != nil {
		return nil, fmt.Errorf("crdt: decode update: %w", err)
	}
	return ops, nil
}

// MergeUpdates concatenates the operations carried by two Update payloads
// into one. Because Op order within an Update is only ever replayed through
// integrate, which is commutative over the op set, concatenation is a valid
// merge: a replica that applies the merged payload ends up identical to one
// that applied a and b separately. internal/session uses this to coalesce a
// backlogged outbound queue under backpressure (§4.3) without decoding into
// a full Replica.
func MergeUpdates(a, b []byte) ([]byte, error) {
	opsA, err := decodeOps(a)
	if err != nil {
		return nil, err
	}
	opsB, err := decodeOps(b)
	if err != nil {
		return nil, err
	}
	return encodeOps(append(opsA, opsB...)), nil
}

func encodeVector(v map[string]uint64) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		panic(fmt.Sprintf("crdt: encode vector: %v", err))
	}
	return buf.Bytes()
}

func decodeVector(data []byte) (map[string]uint64, error) {
	v := make(map[string]uint64)
	if len(data) == 0 {
		return v, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return nil, fmt.Errorf("crdt: decode state vector: %w", err)
	}
	return v, nil
}
