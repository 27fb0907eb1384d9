// Package crdt implements a minimal replicated growable array (RGA) text
// CRDT: the one component of the document engine with no importable
// third-party implementation anywhere in the retrieval corpus (see
// DESIGN.md). It satisfies exactly the contract the rest of the engine
// needs — commutative/idempotent/associative merge, a compact state vector,
// and a diff(vector) -> update primitive — and nothing more.
package crdt

import "strings"

type element struct {
	id         ID
	originLeft ID
	value      rune
	tombstone  bool
}

// Replica is one client's (or the server's hot-cache) view of a single
// document. It is not safe for concurrent use; internal/doccache serializes
// access with its own per-document lock per the ordering rule in §5.
type Replica struct {
	clientID string
	clock    uint64

	elems   []element
	vector  map[string]uint64 // ops integrated per client, by count (assumes in-order delivery per client)
	history []Op              // all ops ever integrated, in this replica's integration order
}

// New creates an empty replica that will stamp its own local edits with
// clientID. clientID doubles as the contributor identity surfaced by the
// revision engine; the crdt package itself never resolves it to a human
// user — that mapping belongs to the persistence façade.
func New(clientID string) *Replica {
	return &Replica{
		clientID: clientID,
		vector:   make(map[string]uint64),
	}
}

// ClientID returns the identity this replica stamps on its local edits.
func (r *Replica) ClientID() string { return r.clientID }

// Len returns the number of visible (non-tombstoned) characters.
func (r *Replica) Len() int {
	n := 0
	for _, e := range r.elems {
		if !e.tombstone {
			n++
		}
	}
	return n
}

// Text materializes the current visible document content.
func (r *Replica) Text() string {
	var b strings.Builder
	b.Grow(len(r.elems))
	for _, e := range r.elems {
		if !e.tombstone {
			b.WriteRune(e.value)
		}
	}
	return b.String()
}

// WordCount returns the whitespace-delimited word count of the current
// content, used by the revision engine's persisted metadata.
func (r *Replica) WordCount() int {
	return len(strings.Fields(r.Text()))
}

// InsertLocal inserts text at the given visible-character position and
// returns the Update bytes to fan out to other sessions.
func (r *Replica) InsertLocal(pos int, text string) []byte {
	if text == "" {
		return nil
	}
	ops := make([]Op, 0, len(text))
	origin := r.originAt(pos)
	for _, ch := range text {
		r.clock++
		id := ID{Client: r.clientID, Clock: r.clock}
		op := Op{Kind: OpInsert, ID: id, OriginLeft: origin, Value: ch}
		r.integrate(op)
		r.record(op)
		ops = append(ops, op)
		origin = id
	}
	return encodeOps(ops)
}

// DeleteLocal tombstones length visible characters starting at pos and
// returns the Update bytes to fan out.
func (r *Replica) DeleteLocal(pos, length int) []byte {
	if length <= 0 {
		return nil
	}
	var ops []Op
	visible := 0
	for i := range r.elems {
		if r.elems[i].tombstone {
			continue
		}
		if visible >= pos && visible < pos+length {
			r.clock++
			id := ID{Client: r.clientID, Clock: r.clock}
			op := Op{Kind: OpDelete, ID: id, Target: r.elems[i].id}
			r.integrate(op)
			r.record(op)
			ops = append(ops, op)
		}
		visible++
	}
	return encodeOps(ops)
}

// ApplyUpdate integrates a remote Update (or SyncStep2 diff). It returns the
// subset of operations that were new to this replica, re-encoded, so the
// caller can fan that out — applying an already-seen update is a no-op by
// CRDT property and yields an empty diff, signaling "nothing to broadcast".
func (r *Replica) ApplyUpdate(update []byte) ([]byte, error) {
	ops, err := decodeOps(update)
	if err != nil {
		return nil, err
	}
	var applied []Op
	for _, op := range ops {
		if r.seen(op.ID) {
			continue
		}
		r.integrate(op)
		r.record(op)
		applied = append(applied, op)
	}
	if len(applied) == 0 {
		return nil, nil
	}
	return encodeOps(applied), nil
}

// StateVector returns the current state vector (ops integrated per client).
func (r *Replica) StateVector() []byte {
	return encodeVector(r.vector)
}

// DiffAgainst computes the minimal Update needed to bring a replica at
// peerVector up to the current state.
func (r *Replica) DiffAgainst(peerVector []byte) ([]byte, error) {
	peer, err := decodeVector(peerVector)
	if err != nil {
		return nil, err
	}
	return encodeOps(r.opsSince(peer)), nil
}

// Snapshot returns the compact full-state encoding: the complete op history
// in this replica's own integration order. Because every op's dependency
// (its OriginLeft or delete Target) necessarily precedes it in that order,
// replaying the history from empty via LoadSnapshot always reconstructs an
// identical replica regardless of the order updates originally arrived in.
func (r *Replica) Snapshot() []byte {
	return encodeOps(r.history)
}

// LoadSnapshot resets the replica and replays a Snapshot (or any ops blob
// produced by this package). It is the mirror image of ApplyUpdate on a
// fresh replica, and is what lets the revision engine restore from, or a
// cold cache entry hydrate from, persisted snapshot bytes.
func (r *Replica) LoadSnapshot(data []byte) error {
	ops, err := decodeOps(data)
	if err != nil {
		return err
	}
	r.elems = nil
	r.vector = make(map[string]uint64)
	r.history = nil
	for _, op := range ops {
		if r.seen(op.ID) {
			continue
		}
		r.integrate(op)
		r.record(op)
	}
	return nil
}

func (r *Replica) opsSince(peer map[string]uint64) []Op {
	var ops []Op
	for _, op := range r.history {
		if op.ID.Clock > peer[op.ID.Client] {
			ops = append(ops, op)
		}
	}
	return ops
}

func (r *Replica) seen(id ID) bool {
	return id.Clock <= r.vector[id.Client]
}

func (r *Replica) record(op Op) {
	if op.ID.Clock > r.vector[op.ID.Client] {
		r.vector[op.ID.Client] = op.ID.Clock
	}
	r.history = append(r.history, op)
	if op.ID.Client == r.clientID && op.ID.Clock > r.clock {
		r.clock = op.ID.Clock
	}
}

// originAt returns the ID of the visible element immediately before the
// given position, or zeroID if pos is 0 (insert at head).
func (r *Replica) originAt(pos int) ID {
	if pos <= 0 {
		return zeroID
	}
	visible := 0
	for i := range r.elems {
		if r.elems[i].tombstone {
			continue
		}
		visible++
		if visible == pos {
			return r.elems[i].id
		}
	}
	// pos beyond the end: anchor after the last element.
	if len(r.elems) > 0 {
		return r.elems[len(r.elems)-1].id
	}
	return zeroID
}

func (r *Replica) indexOf(id ID) int {
	if id == zeroID {
		return -1
	}
	for i := range r.elems {
		if r.elems[i].id == id {
			return i
		}
	}
	return -1
}

// integrate applies a single op to elems. It is the only function whose
// result depends on op content rather than arrival order, which is what
// gives the replica its convergence guarantee: any two replicas that
// integrate the same set of ops, in any order, reach the same elems.
func (r *Replica) integrate(op Op) {
	switch op.Kind {
	case OpDelete:
		if i := r.indexOf(op.Target); i >= 0 {
			r.elems[i].tombstone = true
		}
	case OpInsert:
		anchor := r.indexOf(op.OriginLeft)
		at := anchor + 1
		for at < len(r.elems) {
			other := r.elems[at]
			otherAnchor := r.indexOf(other.originLeft)
			if otherAnchor < anchor {
				break
			}
			if otherAnchor == anchor && other.id.less(op.ID) {
				break
			}
			at++
		}
		elem := element{id: op.ID, originLeft: op.OriginLeft, value: op.Value}
		r.elems = append(r.elems, element{})
		copy(r.elems[at+1:], r.elems[at:])
		r.elems[at] = elem
	}
}
