package crdt

// ID identifies a single operation: the client that authored it and that
// client's local clock at the time. IDs are globally unique and totally
// ordered, which is what lets two replicas that integrate the same set of
// operations converge on the same element order regardless of arrival order.
type ID struct {
	Client string
	Clock  uint64
}

// zeroID is the sentinel "origin" denoting the head of the document: an
// Insert whose OriginLeft is zeroID is anchored before every other element.
var zeroID = ID{}

// less provides the deterministic tie-break used by integrate when two
// operations were inserted concurrently at the same origin: higher clock
// wins, ties broken by client name. The exact rule doesn't matter for
// correctness, only that every replica applies the same one.
func (id ID) less(other ID) bool {
	if id.Clock != other.Clock {
		return id.Clock < other.Clock
	}
	return id.Client < other.Client
}
