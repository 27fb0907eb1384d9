package revision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-labs/docweave/internal/crdt"
	"github.com/r3e-labs/docweave/internal/doccache"
	"github.com/r3e-labs/docweave/internal/store/memstore"
)

func testEngine(t *testing.T, cfg Config) (*Engine, *memstore.Store, *doccache.Cache) {
	t.Helper()
	facade := memstore.New()
	cache := doccache.New(facade, doccache.DefaultConfig())
	t.Cleanup(cache.Close)
	e := New(facade, cache, cfg, nil, 10)
	return e, facade, cache
}

func insertUpdate(t *testing.T, client, text string) []byte {
	t.Helper()
	r := crdt.New(client)
	return r.InsertLocal(0, text)
}

func TestRecordUpdateTriggersSnapshotOnThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpdateThreshold = 3
	cfg.TimeThreshold = time.Hour
	cfg.IdleThreshold = time.Hour
	e, facade, cache := testEngine(t, cfg)

	ctx := context.Background()
	docID := "doc-1"
	handle, err := cache.Pin(ctx, docID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		u := insertUpdate(t, "client-a", "x")
		_, err := facade.AppendUpdate(ctx, docID, u, "client-a", time.Now())
		require.NoError(t, err)
		_, _, err = cache.ApplyRemote(handle, u)
		require.NoError(t, err)
		e.RecordUpdate(docID, "client-a")

		if i < 2 {
			revs, err := facade.ListRevisions(ctx, docID)
			require.NoError(t, err)
			assert.Empty(t, revs, "no revision should exist before update_threshold is reached")
		}
	}
	cache.Unpin(handle)

	require.Eventually(t, func() bool {
		revs, err := facade.ListRevisions(ctx, docID)
		return err == nil && len(revs) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSnapshotPersistsSnapshotAndVector(t *testing.T) {
	cfg := DefaultConfig()
	e, facade, cache := testEngine(t, cfg)

	ctx := context.Background()
	docID := "doc-2"
	handle, err := cache.Pin(ctx, docID)
	require.NoError(t, err)
	u := insertUpdate(t, "client-a", "hello")
	_, err = facade.AppendUpdate(ctx, docID, u, "client-a", time.Now())
	require.NoError(t, err)
	_, _, err = cache.ApplyRemote(handle, u)
	require.NoError(t, err)
	cache.Unpin(handle)

	require.NoError(t, e.snapshot(ctx, docID))

	revs, err := facade.ListRevisions(ctx, docID)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, 1, revs[0].Number)

	rev, err := facade.LoadRevision(ctx, docID, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, rev.Snapshot)
	assert.NotEmpty(t, rev.Vector)
}

func TestRestoreAppliesDiffAndBroadcasts(t *testing.T) {
	cfg := DefaultConfig()
	e, facade, cache := testEngine(t, cfg)

	ctx := context.Background()
	docID := "doc-3"
	handle, err := cache.Pin(ctx, docID)
	require.NoError(t, err)
	u1 := insertUpdate(t, "client-a", "one")
	_, err = facade.AppendUpdate(ctx, docID, u1, "client-a", time.Now())
	require.NoError(t, err)
	_, _, err = cache.ApplyRemote(handle, u1)
	require.NoError(t, err)

	require.NoError(t, e.snapshot(ctx, docID))

	r2 := crdt.New("client-b")
	u2 := r2.InsertLocal(0, "two-")
	_, err = facade.AppendUpdate(ctx, docID, u2, "client-b", time.Now())
	require.NoError(t, err)
	_, _, err = cache.ApplyRemote(handle, u2)
	require.NoError(t, err)
	cache.Unpin(handle)

	var broadcastDocID string
	var broadcastDiff []byte
	e.SetBroadcaster(func(docID string, diff []byte) {
		broadcastDocID = docID
		broadcastDiff = diff
	})

	require.NoError(t, e.Restore(ctx, docID, 1, "restorer"))

	assert.Equal(t, docID, broadcastDocID)
	assert.NotEmpty(t, broadcastDiff)

	handle2, err := cache.Pin(ctx, docID)
	require.NoError(t, err)
	defer cache.Unpin(handle2)
	assert.Equal(t, "one", cache.Text(handle2))
}

func TestRestoreToCurrentRevisionIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	e, facade, cache := testEngine(t, cfg)

	ctx := context.Background()
	docID := "doc-4"
	handle, err := cache.Pin(ctx, docID)
	require.NoError(t, err)
	u := insertUpdate(t, "client-a", "stable")
	_, err = facade.AppendUpdate(ctx, docID, u, "client-a", time.Now())
	require.NoError(t, err)
	_, _, err = cache.ApplyRemote(handle, u)
	require.NoError(t, err)
	cache.Unpin(handle)

	require.NoError(t, e.snapshot(ctx, docID))

	called := false
	e.SetBroadcaster(func(string, []byte) { called = true })

	require.NoError(t, e.Restore(ctx, docID, 1, "restorer"))
	assert.False(t, called)
}

func TestSweepCatchesIdleDocuments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpdateThreshold = 1000
	cfg.TimeThreshold = time.Hour
	cfg.IdleThreshold = time.Millisecond
	e, facade, cache := testEngine(t, cfg)

	ctx := context.Background()
	docID := "doc-5"
	handle, err := cache.Pin(ctx, docID)
	require.NoError(t, err)
	u := insertUpdate(t, "client-a", "idle")
	_, err = facade.AppendUpdate(ctx, docID, u, "client-a", time.Now())
	require.NoError(t, err)
	_, _, err = cache.ApplyRemote(handle, u)
	require.NoError(t, err)
	cache.Unpin(handle)

	e.RecordUpdate(docID, "client-a")
	time.Sleep(5 * time.Millisecond)
	e.sweep()

	revs, err := facade.ListRevisions(ctx, docID)
	require.NoError(t, err)
	assert.Len(t, revs, 1)
}
