package writer

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgsync "github.com/stacklok/recordsync/internal/sync"
	"github.com/stacklok/recordsync/internal/syncerr"
)

func newMockSink(t *testing.T) (pkgsync.Sink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	sink, err := NewPostgresSink(db, "orders")
	require.NoError(t, err)
	return sink, mock
}

func TestNewPostgresSink_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresSink(nil, "orders")
	assert.Error(t, err)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	_, err = NewPostgresSink(db, "")
	assert.Error(t, err)
}

func TestPostgresSink_FindByKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink, mock := newMockSink(t)

	mock.ExpectBegin()
	mock.ExpectQuery(findEntityQuery).
		WithArgs("orders", "A-1", "acme", false).
		WillReturnRows(sqlmock.NewRows([]string{"attributes", "hash"}).
			AddRow([]byte(`{"name":"widget"}`), "abc"))
	mock.ExpectQuery(findEntityQuery).
		WithArgs("orders", "A-2", "", true).
		WillReturnRows(sqlmock.NewRows([]string{"attributes", "hash"}))
	mock.ExpectRollback()

	uow, err := sink.BeginUnitOfWork(ctx)
	require.NoError(t, err)

	found, err := uow.FindByKey(ctx, pkgsync.EntityKey{Key: "A-1", Tenant: "acme"})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "abc", found.Hash)
	assert.Equal(t, map[string]string{"name": "widget"}, found.Attributes)

	missing, err := uow.FindByKey(ctx, pkgsync.GoldenKey("A-2"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, uow.Rollback(ctx))
}

func TestPostgresSink_WritesInsideSavepoints(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink, mock := newMockSink(t)

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(insertEntityQuery).
		WithArgs("orders", "A-1", "", true, sqlmock.AnyArg(), "h1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("RELEASE SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(updateEntityQuery).
		WithArgs("orders", "A-2", "acme", false, sqlmock.AnyArg(), "h2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	uow, err := sink.BeginUnitOfWork(ctx)
	require.NoError(t, err)

	first, err := uow.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Insert(ctx, &pkgsync.Entity{Key: "A-1", Golden: true, Hash: "h1", Attributes: map[string]string{"a": "1"}}))
	require.NoError(t, first.Commit(ctx))

	second, err := uow.Begin(ctx)
	require.NoError(t, err)
	e := &pkgsync.Entity{Key: "A-2", Tenant: "acme", Hash: "h2", Attributes: map[string]string{"a": "2"}}
	require.NoError(t, second.Update(ctx, e, e))
	require.NoError(t, second.Rollback(ctx))

	require.NoError(t, uow.Commit(ctx))
	assert.ErrorIs(t, uow.Commit(ctx), pkgsync.ErrUnitOfWorkClosed)
	assert.ErrorIs(t, second.Commit(ctx), pkgsync.ErrUnitOfWorkClosed)
}

func TestPostgresSink_UpdateMissingRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink, mock := newMockSink(t)

	mock.ExpectBegin()
	mock.ExpectExec(updateEntityQuery).
		WithArgs("orders", "A-1", "", false, sqlmock.AnyArg(), "h").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	uow, err := sink.BeginUnitOfWork(ctx)
	require.NoError(t, err)
	e := &pkgsync.Entity{Key: "A-1", Hash: "h"}
	err = uow.Update(ctx, e, e)
	assert.True(t, syncerr.Is(err, syncerr.KindSystem))
	require.NoError(t, uow.Rollback(ctx))
}

func TestPostgresSink_BeginFailureIsClassified(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink, mock := newMockSink(t)

	mock.ExpectBegin().WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})

	_, err := sink.BeginUnitOfWork(ctx)
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindTransient))
}

func TestClassifyDBError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want syncerr.Kind
	}{
		{name: "connection exception", err: &pgconn.PgError{Code: "08001"}, want: syncerr.KindTransient},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: syncerr.KindTransient},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: syncerr.KindTransient},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: syncerr.KindValidation},
		{name: "value too long", err: &pgconn.PgError{Code: "22001"}, want: syncerr.KindValidation},
		{name: "undefined table", err: &pgconn.PgError{Code: "42P01"}, want: syncerr.KindSystem},
		{name: "deadline", err: context.DeadlineExceeded, want: syncerr.KindTransient},
		{name: "other", err: errors.New("boom"), want: syncerr.KindSystem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, syncerr.KindOf(classifyDBError("op", tt.err)))
		})
	}
}
