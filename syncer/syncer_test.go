package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"acorle/registry"
	"acorle/store"
)

func seedZone(t *testing.T, st *store.Memory, key string) {
	t.Helper()
	require.NoError(t, st.PutZone(context.Background(), registry.Zone{
		Key:                key,
		Secret:             "s3cret",
		RegIntervalSeconds: 60,
		RpcTimeoutSeconds:  5,
	}))
}

func seedService(t *testing.T, st *store.Memory, zone, key, hash string, expire time.Time) {
	t.Helper()
	require.NoError(t, st.PutService(context.Background(), registry.Service{
		Zone:       zone,
		Hash:       hash,
		Key:        key,
		Name:       key,
		Url:        "http://upstream/" + hash,
		Weight:     1,
		AddedTime:  time.Now().UTC(),
		ExpireTime: expire,
	}))
}

func TestSyncOncePopulatesRegistry(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	reg := registry.New()
	seedZone(t, st, "z1")
	seedService(t, st, "z1", "svc", "h1", time.Now().Add(time.Minute))
	require.NoError(t, st.PutLoadBalancer(ctx, registry.LoadBalancerAssignment{
		Zone: "z1", Service: "svc", Type: registry.SmoothWeightRoundRobin,
	}))

	New(st, reg, time.Second, zap.NewNop()).SyncOnce(ctx)

	zone, ok := reg.Zone("z1")
	require.True(t, ok)
	assert.Equal(t, "s3cret", zone.Secret)

	sessions, ok := reg.ServiceKeySessions("z1", "svc")
	require.True(t, ok)
	session, ok := sessions.Get("h1")
	require.True(t, ok)
	assert.Equal(t, "http://upstream/h1", session.Service().Url)

	assert.Equal(t, registry.SmoothWeightRoundRobin, reg.LoadBalancer("z1", "svc"))
}

func TestSyncOnceRemovesEntriesGoneFromStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	reg := registry.New()
	seedZone(t, st, "z1")
	seedService(t, st, "z1", "svc", "h1", time.Now().Add(time.Minute))
	seedService(t, st, "z1", "svc", "h2", time.Now().Add(time.Minute))

	sync := New(st, reg, time.Second, zap.NewNop())
	sync.SyncOnce(ctx)

	_, err := st.DeleteService(ctx, "z1", "h2")
	require.NoError(t, err)
	sync.SyncOnce(ctx)

	sessions, ok := reg.ServiceKeySessions("z1", "svc")
	require.True(t, ok)
	_, ok = sessions.Get("h1")
	assert.True(t, ok)
	_, ok = sessions.Get("h2")
	assert.False(t, ok, "candidate gone upstream must leave the registry")
}

func TestSyncOnceRemovesZoneGoneFromStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	reg := registry.New()
	seedZone(t, st, "z1")

	sync := New(st, reg, time.Second, zap.NewNop())
	sync.SyncOnce(ctx)
	_, ok := reg.Zone("z1")
	require.True(t, ok)

	require.NoError(t, st.DeleteZone(ctx, "z1"))
	sync.SyncOnce(ctx)
	_, ok = reg.Zone("z1")
	assert.False(t, ok)
}

func TestSyncOncePatchesChangedFields(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	reg := registry.New()
	seedZone(t, st, "z1")
	seedService(t, st, "z1", "svc", "h1", time.Now().Add(time.Minute))

	sync := New(st, reg, time.Second, zap.NewNop())
	sync.SyncOnce(ctx)

	sessions, _ := reg.ServiceKeySessions("z1", "svc")
	session, _ := sessions.Get("h1")
	session.IncrementFinishedRequests()

	row, err := st.ServicesByZone(ctx, "z1")
	require.NoError(t, err)
	updated := row[0]
	updated.Weight = 7
	updated.IsPrivate = true
	require.NoError(t, st.PutService(ctx, updated))

	sync.SyncOnce(ctx)

	after, _ := sessions.Get("h1")
	assert.Same(t, session, after, "patching must not replace the session")
	assert.Equal(t, 7, after.Service().Weight)
	assert.True(t, after.Service().IsPrivate)
	assert.Equal(t, int64(1), after.FinishedRequests(), "counters survive the patch")
}

func TestSyncOnceSweepsExpiredAndPrunesBuckets(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	reg := registry.New()
	seedZone(t, st, "z1")
	seedService(t, st, "z1", "svc", "h1", time.Now().Add(-time.Second))

	New(st, reg, time.Second, zap.NewNop()).SyncOnce(ctx)

	assert.False(t, reg.HasZoneContexts("z1"), "expired-only zone bucket must be pruned")
}

func TestRunHonorsDisabledInterval(t *testing.T) {
	st := store.NewMemory()
	reg := registry.New()
	seedZone(t, st, "z1")

	done := make(chan struct{})
	go func() {
		New(st, reg, 0, zap.NewNop()).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled syncer did not return")
	}
	_, ok := reg.Zone("z1")
	assert.False(t, ok, "disabled syncer must not touch the registry")
}
