package sync_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/stacklok/recordsync/internal/logging"
	"github.com/stacklok/recordsync/internal/mapping"
	pkgsync "github.com/stacklok/recordsync/internal/sync"
	"github.com/stacklok/recordsync/internal/sync/mocks"
	"github.com/stacklok/recordsync/internal/sync/writer"
	"github.com/stacklok/recordsync/internal/syncerr"
)

var validQuery = pkgsync.Query{Since: "2024-05-01"}

// faultyMapper wraps the real mapper and fails chosen keys
type faultyMapper struct {
	pkgsync.Mapper
	projectErrs map[string]error
	goldenErrs  map[string]error
}

func (m faultyMapper) Project(rec pkgsync.Record) (*pkgsync.Entity, error) {
	if err := m.projectErrs[rec.Key]; err != nil {
		return nil, err
	}
	return m.Mapper.Project(rec)
}

func (m faultyMapper) Golden(rec pkgsync.Record) (*pkgsync.Entity, error) {
	if err := m.goldenErrs[rec.Key]; err != nil {
		return nil, err
	}
	return m.Mapper.Golden(rec)
}

func newMapper(t *testing.T) pkgsync.Mapper {
	t.Helper()
	m, err := mapping.New(mapping.Rules{
		Fields:   map[string]string{"value": "value", "name": "name"},
		Required: []string{"name"},
		Golden:   []string{"name"},
	})
	require.NoError(t, err)
	return m
}

// makeRecords builds groups g1..gN with two tenants each
func makeRecords(groups int, version string) []pkgsync.Record {
	var records []pkgsync.Record
	for g := 1; g <= groups; g++ {
		key := fmt.Sprintf("g%d", g)
		for _, tenant := range []string{"t1", "t2"} {
			payload, _ := json.Marshal(map[string]string{
				"name":  "entity " + key,
				"value": key + "-" + tenant + "-" + version,
			})
			records = append(records, pkgsync.Record{Key: key, Tenant: tenant, Payload: payload})
		}
	}
	return records
}

func newSourceReturning(t *testing.T, records []pkgsync.Record) *mocks.MockSource {
	t.Helper()
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	src.EXPECT().FetchChanges(gomock.Any(), validQuery).Return(records, nil).AnyTimes()
	return src
}

func TestRunCycle_InvalidQueryDoesNotCallSource(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	sink := mocks.NewMockSink(ctrl)

	m := pkgsync.NewDefaultSyncManager("orders", src, sink, newMapper(t))

	tests := []pkgsync.Query{
		{},
		{Since: "2024-02-30"},
		{Since: "05/01/2024"},
		{Since: "2024-05-02", Until: "2024-05-01"},
	}
	for _, q := range tests {
		result, err := m.RunCycle(context.Background(), q)
		require.NoError(t, err, "query %+v", q)
		assert.False(t, result.Success)
		assert.Len(t, result.ValidationErrors, 1)
		assert.Zero(t, result.TotalRecords)
	}
}

func TestRunCycle_EmptySourceIsSuccess(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl) // must not be opened

	m := pkgsync.NewDefaultSyncManager("orders", newSourceReturning(t, nil), sink, newMapper(t))

	result, err := m.RunCycle(context.Background(), validQuery)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.TotalRecords)
	assert.Equal(t, pkgsync.MessageNoChanges, result.Message)
}

func TestRunCycle_CreatesThenSkipsOnRerun(t *testing.T) {
	t.Parallel()

	sink := writer.NewMemorySink()
	m := pkgsync.NewDefaultSyncManager("orders", newSourceReturning(t, makeRecords(10, "v1")), sink, newMapper(t))

	first, err := m.RunCycle(context.Background(), validQuery)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, 20, first.TotalRecords)
	assert.Equal(t, 10, first.GroupCount)
	assert.Equal(t, 20, first.CreatedCount)
	assert.Zero(t, first.FailedCount)
	assert.Equal(t, 30, sink.Len(), "10 golden rows plus 20 tenant rows")

	second, err := m.RunCycle(context.Background(), validQuery)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, second.TotalRecords, second.SkippedCount)
	assert.Zero(t, second.CreatedCount)
	assert.Zero(t, second.UpdatedCount)
}

func TestRunCycle_TenantlessRecordKeepsGoldenRowApart(t *testing.T) {
	t.Parallel()

	sink := writer.NewMemorySink()
	records := []pkgsync.Record{{Key: "P-1", Payload: json.RawMessage(`{"name":"Widget","value":"9"}`)}}
	m := pkgsync.NewDefaultSyncManager("orders", newSourceReturning(t, records), sink, newMapper(t))

	for run := 1; run <= 3; run++ {
		result, err := m.RunCycle(context.Background(), validQuery)
		require.NoError(t, err)
		if run == 1 {
			assert.Equal(t, 1, result.CreatedCount, "run %d", run)
			assert.Zero(t, result.SkippedCount, "run %d", run)
		} else {
			assert.Zero(t, result.CreatedCount, "run %d", run)
			assert.Equal(t, result.TotalRecords, result.SkippedCount, "run %d", run)
		}
		assert.Zero(t, result.UpdatedCount, "run %d", run)
	}

	require.Equal(t, 2, sink.Len())
	golden, ok := sink.Get(pkgsync.GoldenKey("P-1"))
	require.True(t, ok)
	assert.Equal(t, map[string]string{"name": "Widget"}, golden.Attributes)

	plain, ok := sink.Get(pkgsync.EntityKey{Key: "P-1"})
	require.True(t, ok)
	assert.Equal(t, map[string]string{"name": "Widget", "value": "9"}, plain.Attributes)
}

func TestRunCycle_DuplicateRecordsLastOneWins(t *testing.T) {
	t.Parallel()

	sink := writer.NewMemorySink()
	records := []pkgsync.Record{
		{Key: "P-1", Tenant: "acme", Payload: json.RawMessage(`{"name":"Widget","value":"1"}`)},
		{Key: "P-1", Tenant: "globex", Payload: json.RawMessage(`{"name":"Widget","value":"5"}`)},
		{Key: "P-1", Tenant: "acme", Payload: json.RawMessage(`{"name":"Widget","value":"2"}`)},
	}
	m := pkgsync.NewDefaultSyncManager("orders", newSourceReturning(t, records), sink, newMapper(t))

	first, err := m.RunCycle(context.Background(), validQuery)
	require.NoError(t, err)
	assert.Equal(t, 3, first.TotalRecords)
	assert.Equal(t, 2, first.CreatedCount)
	assert.Equal(t, 1, first.SkippedCount)
	assert.Zero(t, first.UpdatedCount)

	got, ok := sink.Get(pkgsync.EntityKey{Key: "P-1", Tenant: "acme"})
	require.True(t, ok)
	assert.Equal(t, "2", got.Attributes["value"])

	second, err := m.RunCycle(context.Background(), validQuery)
	require.NoError(t, err)
	assert.Equal(t, second.TotalRecords, second.SkippedCount)
	assert.Zero(t, second.UpdatedCount)
}

func TestRunCycle_UpdatesChangedRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := writer.NewMemorySink()
	mapper := newMapper(t)

	seed := pkgsync.NewDefaultSyncManager("orders", newSourceReturning(t, makeRecords(3, "v1")), sink, mapper)
	_, err := seed.RunCycle(ctx, validQuery)
	require.NoError(t, err)

	changed := makeRecords(3, "v1")
	changed[2] = makeRecords(3, "v2")[2] // g2/t1

	m := pkgsync.NewDefaultSyncManager("orders", newSourceReturning(t, changed), sink, mapper)
	result, err := m.RunCycle(ctx, validQuery)
	require.NoError(t, err)
	assert.Equal(t, 1, result.UpdatedCount)
	assert.Equal(t, 5, result.SkippedCount)
	assert.Zero(t, result.CreatedCount)

	got, ok := sink.Get(pkgsync.EntityKey{Key: "g2", Tenant: "t1"})
	require.True(t, ok)
	assert.Equal(t, "g2-t1-v2", got.Attributes["value"])
}

func TestRunCycle_ValidationErrorIsolatesGroup(t *testing.T) {
	t.Parallel()

	sink := writer.NewMemorySink()
	mapper := faultyMapper{
		Mapper:      newMapper(t),
		projectErrs: map[string]error{"g3": syncerr.Validationf("price must be positive")},
	}
	m := pkgsync.NewDefaultSyncManager("orders", newSourceReturning(t, makeRecords(10, "v1")), sink, mapper)

	result, err := m.RunCycle(context.Background(), validQuery)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.FailedCount)
	assert.Equal(t, 18, result.CreatedCount)
	require.Len(t, result.ValidationErrors, 1)
	assert.Contains(t, result.ValidationErrors[0], "g3")

	for g := 1; g <= 10; g++ {
		key := fmt.Sprintf("g%d", g)
		_, ok := sink.Get(pkgsync.GoldenKey(key))
		assert.Equal(t, key != "g3", ok, "golden row of %s", key)
	}
}

func TestRunCycle_GoldenProjectionFailureFailsWholeGroup(t *testing.T) {
	t.Parallel()

	sink := writer.NewMemorySink()
	mapper := faultyMapper{
		Mapper:     newMapper(t),
		goldenErrs: map[string]error{"g1": errors.New("unparseable product code")},
	}
	m := pkgsync.NewDefaultSyncManager("orders", newSourceReturning(t, makeRecords(2, "v1")), sink, mapper)

	result, err := m.RunCycle(context.Background(), validQuery)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.FailedCount)
	assert.Equal(t, 2, result.CreatedCount)
	assert.Equal(t, 3, sink.Len())
}

func TestRunCycle_RecordsWithoutKeyFailValidation(t *testing.T) {
	t.Parallel()

	records := append(makeRecords(1, "v1"), pkgsync.Record{Tenant: "t1", Payload: json.RawMessage(`{"name":"x"}`)})
	m := pkgsync.NewDefaultSyncManager("orders", newSourceReturning(t, records), writer.NewMemorySink(), newMapper(t))

	result, err := m.RunCycle(context.Background(), validQuery)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, 2, result.CreatedCount)
}

func TestRunCycle_SystemErrorRollsBackEverything(t *testing.T) {
	t.Parallel()

	sink := writer.NewMemorySink()
	mapper := faultyMapper{
		Mapper:      newMapper(t),
		projectErrs: map[string]error{"g7": syncerr.System("lookup reference data", errors.New("disk I/O error"))},
	}
	m := pkgsync.NewDefaultSyncManager("orders", newSourceReturning(t, makeRecords(10, "v1")), sink, mapper)

	result, err := m.RunCycle(context.Background(), validQuery)
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Zero(t, sink.Len(), "groups 1-6 must not be committed")

	var syncErr *pkgsync.Error
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, syncerr.KindSystem, syncErr.Kind)
	assert.Equal(t, pkgsync.ReasonGroupFailed, syncErr.Reason)
	assert.Equal(t, syncerr.KindSystem, syncerr.KindOf(err))
}

func TestRunCycle_FetchFailureKeepsTransientKind(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	src.EXPECT().FetchChanges(gomock.Any(), validQuery).
		Return(nil, syncerr.Transient("fetch", errors.New("503 service unavailable")))

	m := pkgsync.NewDefaultSyncManager("orders", src, mocks.NewMockSink(ctrl), newMapper(t))

	result, err := m.RunCycle(context.Background(), validQuery)
	require.Error(t, err)
	assert.False(t, result.Success)

	var syncErr *pkgsync.Error
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, syncerr.KindTransient, syncErr.Kind)
	assert.Equal(t, pkgsync.ReasonFetchFailed, syncErr.Reason)
}

func TestRunCycle_UnitOfWorkFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().BeginUnitOfWork(gomock.Any()).Return(nil, errors.New("pool exhausted"))

	m := pkgsync.NewDefaultSyncManager("orders", newSourceReturning(t, makeRecords(1, "v1")), sink, newMapper(t))

	_, err := m.RunCycle(context.Background(), validQuery)
	var syncErr *pkgsync.Error
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, syncerr.KindSystem, syncErr.Kind)
	assert.Equal(t, pkgsync.ReasonUnitOfWorkFailed, syncErr.Reason)
}

func TestRunCycle_CommitFailureRollsBack(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	uow := mocks.NewMockUnitOfWork(ctrl)
	nested := mocks.NewMockUnitOfWork(ctrl)

	sink.EXPECT().BeginUnitOfWork(gomock.Any()).Return(uow, nil)
	uow.EXPECT().Begin(gomock.Any()).Return(nested, nil)
	nested.EXPECT().FindByKey(gomock.Any(), gomock.Any()).Return(nil, nil).Times(3)
	nested.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil).Times(3)
	nested.EXPECT().Commit(gomock.Any()).Return(nil)
	uow.EXPECT().Commit(gomock.Any()).Return(syncerr.Transient("commit", errors.New("connection reset")))
	uow.EXPECT().Rollback(gomock.Any()).Return(pkgsync.ErrUnitOfWorkClosed)

	m := pkgsync.NewDefaultSyncManager("orders", newSourceReturning(t, makeRecords(1, "v1")), sink, newMapper(t))

	result, err := m.RunCycle(context.Background(), validQuery)
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.True(t, syncerr.Is(err, syncerr.KindTransient))
}

func TestRunCycle_ResultMetadata(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	fakeClock := clocktesting.NewFakePassiveClock(start)

	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	src.EXPECT().FetchChanges(gomock.Any(), validQuery).DoAndReturn(
		func(context.Context, pkgsync.Query) ([]pkgsync.Record, error) {
			fakeClock.SetTime(start.Add(3 * time.Second))
			return nil, nil
		})

	m := pkgsync.NewDefaultSyncManager("orders", src, writer.NewMemorySink(), newMapper(t),
		pkgsync.WithClock(fakeClock))

	ctx := logging.WithCorrelationID(context.Background(), "cycle-42")
	result, err := m.RunCycle(ctx, validQuery)
	require.NoError(t, err)
	assert.Equal(t, "orders", result.SyncType)
	assert.Equal(t, "cycle-42", result.CorrelationID)
	assert.Equal(t, start, result.StartedAt)
	assert.Equal(t, 3*time.Second, result.ElapsedTime)
}
