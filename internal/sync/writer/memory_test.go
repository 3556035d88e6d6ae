package writer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgsync "github.com/stacklok/recordsync/internal/sync"
	"github.com/stacklok/recordsync/internal/syncerr"
)

func entity(key, tenant, hash string) *pkgsync.Entity {
	return &pkgsync.Entity{Key: key, Tenant: tenant, Hash: hash, Attributes: map[string]string{"v": hash}}
}

func TestMemorySink_CommitPublishesWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := NewMemorySink()

	uow, err := sink.BeginUnitOfWork(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Insert(ctx, entity("a", "t1", "h1")))

	found, err := uow.FindByKey(ctx, pkgsync.EntityKey{Key: "a", Tenant: "t1"})
	require.NoError(t, err)
	require.NotNil(t, found, "unit must read its own writes")
	assert.Zero(t, sink.Len(), "writes are invisible before commit")

	require.NoError(t, uow.Commit(ctx))
	assert.Equal(t, 1, sink.Len())

	got, ok := sink.Get(pkgsync.EntityKey{Key: "a", Tenant: "t1"})
	require.True(t, ok)
	assert.Equal(t, "h1", got.Hash)
}

func TestMemorySink_RollbackDiscardsWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := NewMemorySink()

	uow, err := sink.BeginUnitOfWork(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Insert(ctx, entity("a", "", "h1")))
	require.NoError(t, uow.Rollback(ctx))

	assert.Zero(t, sink.Len())
}

func TestMemorySink_NestedUnits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := NewMemorySink()

	outer, err := sink.BeginUnitOfWork(ctx)
	require.NoError(t, err)

	kept, err := outer.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, kept.Insert(ctx, entity("kept", "", "h")))
	require.NoError(t, kept.Commit(ctx))

	dropped, err := outer.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, dropped.Insert(ctx, entity("dropped", "", "h")))
	found, err := dropped.FindByKey(ctx, pkgsync.EntityKey{Key: "kept"})
	require.NoError(t, err)
	assert.NotNil(t, found, "nested unit sees parent writes")
	require.NoError(t, dropped.Rollback(ctx))

	require.NoError(t, outer.Commit(ctx))

	_, ok := sink.Get(pkgsync.EntityKey{Key: "kept"})
	assert.True(t, ok)
	_, ok = sink.Get(pkgsync.EntityKey{Key: "dropped"})
	assert.False(t, ok)
}

func TestMemorySink_UseAfterCompletion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := NewMemorySink()

	uow, err := sink.BeginUnitOfWork(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))

	assert.ErrorIs(t, uow.Commit(ctx), pkgsync.ErrUnitOfWorkClosed)
	assert.ErrorIs(t, uow.Rollback(ctx), pkgsync.ErrUnitOfWorkClosed)
	assert.ErrorIs(t, uow.Insert(ctx, entity("a", "", "h")), pkgsync.ErrUnitOfWorkClosed)
	_, err = uow.FindByKey(ctx, pkgsync.EntityKey{Key: "a"})
	assert.ErrorIs(t, err, pkgsync.ErrUnitOfWorkClosed)
	_, err = uow.Begin(ctx)
	assert.ErrorIs(t, err, pkgsync.ErrUnitOfWorkClosed)
}

func TestMemorySink_InsertAndUpdateChecks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := NewMemorySink()

	uow, err := sink.BeginUnitOfWork(ctx)
	require.NoError(t, err)

	err = uow.Update(ctx, entity("missing", "", "h"), entity("missing", "", "h2"))
	assert.True(t, syncerr.Is(err, syncerr.KindSystem))

	require.NoError(t, uow.Insert(ctx, entity("a", "", "h")))
	err = uow.Insert(ctx, entity("a", "", "h"))
	assert.True(t, syncerr.Is(err, syncerr.KindSystem))

	require.NoError(t, uow.Update(ctx, entity("a", "", "h"), entity("a", "", "h2")))
	require.NoError(t, uow.Commit(ctx))

	got, ok := sink.Get(pkgsync.EntityKey{Key: "a"})
	require.True(t, ok)
	assert.Equal(t, "h2", got.Hash)
}

func TestMemorySink_EntitiesAreCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := NewMemorySink()
	uow, err := sink.BeginUnitOfWork(ctx)
	require.NoError(t, err)

	e := entity("b", "t", "h")
	require.NoError(t, uow.Insert(ctx, e))
	require.NoError(t, uow.Insert(ctx, entity("a", "", "h")))
	require.NoError(t, uow.Commit(ctx))
	e.Attributes["v"] = "mutated"

	all := sink.Entities()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Key)
	assert.Equal(t, "h", all[1].Attributes["v"])
}

func TestMemorySink_GoldenRowsHaveTheirOwnKeySpace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := NewMemorySink()
	uow, err := sink.BeginUnitOfWork(ctx)
	require.NoError(t, err)

	golden := entity("a", "", "g")
	golden.Golden = true
	require.NoError(t, uow.Insert(ctx, entity("a", "", "h")))
	require.NoError(t, uow.Insert(ctx, golden))
	require.NoError(t, uow.Commit(ctx))

	entities := sink.Entities()
	require.Len(t, entities, 2)
	assert.True(t, entities[0].Golden)
	assert.Equal(t, "g", entities[0].Hash)
	assert.False(t, entities[1].Golden)
	assert.Equal(t, "h", entities[1].Hash)
}
