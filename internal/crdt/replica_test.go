package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertLocalProducesText(t *testing.T) {
	r := New("client-a")
	r.InsertLocal(0, "hello")
	assert.Equal(t, "hello", r.Text())
	assert.Equal(t, 5, r.Len())
}

func TestDeleteLocalTombstones(t *testing.T) {
	r := New("client-a")
	r.InsertLocal(0, "hello")
	r.DeleteLocal(0, 2)
	assert.Equal(t, "llo", r.Text())
}

func TestApplyUpdateIsIdempotent(t *testing.T) {
	a := New("client-a")
	update := a.InsertLocal(0, "hi")

	b := New("client-b")
	diff1, err := b.ApplyUpdate(update)
	require.NoError(t, err)
	assert.NotEmpty(t, diff1)
	assert.Equal(t, "hi", b.Text())

	diff2, err := b.ApplyUpdate(update)
	require.NoError(t, err)
	assert.Empty(t, diff2, "re-applying a seen update must be a no-op")
	assert.Equal(t, "hi", b.Text())
}

// TestConcurrentConvergence mirrors the two-writer scenario: two replicas
// starting from the same empty state each insert at position 0 without
// having observed the other's update, then exchange updates. Both must end
// up with identical content.
func TestConcurrentConvergence(t *testing.T) {
	a := New("client-a")
	b := New("client-b")

	updateA := a.InsertLocal(0, "hello")
	updateB := b.InsertLocal(0, "world")

	_, err := a.ApplyUpdate(updateB)
	require.NoError(t, err)
	_, err = b.ApplyUpdate(updateA)
	require.NoError(t, err)

	assert.Equal(t, a.Text(), b.Text())
	assert.Len(t, a.Text(), 10)
}

func TestStateVectorAndDiffAgainst(t *testing.T) {
	a := New("client-a")
	a.InsertLocal(0, "abc")

	b := New("client-b")
	peerVector := b.StateVector()

	diff, err := a.DiffAgainst(peerVector)
	require.NoError(t, err)

	_, err = b.ApplyUpdate(diff)
	require.NoError(t, err)
	assert.Equal(t, "abc", b.Text())

	// Once caught up, a further diff against b's current vector is empty.
	empty, err := a.DiffAgainst(b.StateVector())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSnapshotRoundTrip(t *testing.T) {
	a := New("client-a")
	a.InsertLocal(0, "hello")
	a.DeleteLocal(0, 1)
	a.InsertLocal(0, "J")

	snap := a.Snapshot()

	b := New("client-b")
	require.NoError(t, b.LoadSnapshot(snap))
	assert.Equal(t, a.Text(), b.Text())
	assert.Equal(t, a.StateVector(), b.StateVector())
}

// TestSnapshotFidelityWithLaterUpdates exercises §8's snapshot fidelity
// invariant: loading a snapshot and then applying updates issued after it
// was taken reproduces the live replica's state.
func TestSnapshotFidelityWithLaterUpdates(t *testing.T) {
	live := New("client-a")
	live.InsertLocal(0, "draft")
	snap := live.Snapshot()

	laterUpdate := live.InsertLocal(5, " two")

	restored := New("client-a")
	require.NoError(t, restored.LoadSnapshot(snap))
	_, err := restored.ApplyUpdate(laterUpdate)
	require.NoError(t, err)

	assert.Equal(t, live.Text(), restored.Text())
}

func TestWordCount(t *testing.T) {
	r := New("client-a")
	r.InsertLocal(0, "one two three")
	assert.Equal(t, 3, r.WordCount())
}

func TestMergeUpdatesAppliesBothHalves(t *testing.T) {
	a := New("client-a")
	u1 := a.InsertLocal(0, "ab")
	u2 := a.InsertLocal(2, "cd")

	merged, err := MergeUpdates(u1, u2)
	require.NoError(t, err)

	b := New("client-b")
	_, err = b.ApplyUpdate(merged)
	require.NoError(t, err)
	assert.Equal(t, "abcd", b.Text())
}
