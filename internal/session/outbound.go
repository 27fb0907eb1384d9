package session

import (
	"sync"

	"github.com/r3e-labs/docweave/internal/crdt"
	"github.com/r3e-labs/docweave/internal/wire"
)

// queuedFrame is one pending outbound frame, carrying enough of its own
// identity (session id, for awareness) to be found again for coalescing.
type queuedFrame struct {
	frame     wire.Frame
	sessionID string // only set for AwarenessUpdate
}

// outboundQueue is a session's bounded FIFO of pending frames. When full, it
// coalesces per §4.3's backpressure policy instead of growing: consecutive
// Update frames merge via the CRDT's own merge property, and a newer
// AwarenessUpdate for the same session replaces the pending one. Anything
// that can't be coalesced when the queue is already full signals overflow,
// and the caller closes the session with SlowConsumer.
type outboundQueue struct {
	mu     sync.Mutex
	max    int
	frames []queuedFrame
	notify chan struct{}
}

func newOutboundQueue(max int) *outboundQueue {
	return &outboundQueue{max: max, notify: make(chan struct{}, 1)}
}

func (q *outboundQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// push enqueues f. It returns false when the queue was full and f could not
// be coalesced into an existing entry — the caller must close the session.
func (q *outboundQueue) push(f queuedFrame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) < q.max {
		q.frames = append(q.frames, f)
		q.signal()
		return true
	}

	switch f.frame.Kind {
	case wire.KindUpdate:
		for i := len(q.frames) - 1; i >= 0; i-- {
			if q.frames[i].frame.Kind == wire.KindUpdate {
				merged, err := crdt.MergeUpdates(q.frames[i].frame.Payload, f.frame.Payload)
				if err != nil {
					return false
				}
				q.frames[i].frame.Payload = merged
				q.signal()
				return true
			}
		}
	case wire.KindAwarenessUpdate:
		for i := len(q.frames) - 1; i >= 0; i-- {
			if q.frames[i].frame.Kind == wire.KindAwarenessUpdate && q.frames[i].sessionID == f.sessionID {
				q.frames[i] = f
				q.signal()
				return true
			}
		}
	}
	return false
}

// pop dequeues the oldest pending frame, if any.
func (q *outboundQueue) pop() (queuedFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return queuedFrame{}, false
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f, true
}
