package awareness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateAndSnapshot(t *testing.T) {
	c := New()
	c.Update("s1", []byte("cursor:1"))
	c.Update("s2", []byte("cursor:2"))

	snap := c.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, []byte("cursor:1"), snap["s1"].Payload)
}

func TestRemoveTombstones(t *testing.T) {
	c := New()
	c.Update("s1", []byte("cursor:1"))

	tomb, ok := c.Remove("s1")
	assert.True(t, ok)
	assert.True(t, tomb.Tombstone)

	_, ok = c.Remove("s1")
	assert.False(t, ok, "removing an already-removed session is a no-op")

	snap := c.Snapshot()
	assert.Empty(t, snap)
}

func TestClockIsMonotonicAcrossUpdatesAndRemoves(t *testing.T) {
	c := New()
	e1 := c.Update("s1", []byte("a"))
	tomb, _ := c.Remove("s1")
	e2 := c.Update("s1", []byte("b"))

	assert.Less(t, e1.Clock, tomb.Clock)
	assert.Less(t, tomb.Clock, e2.Clock)
}
