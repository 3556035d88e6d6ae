package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/stacklok/recordsync/internal/logging"
	"github.com/stacklok/recordsync/internal/otel"
	"github.com/stacklok/recordsync/internal/syncerr"
)

// MessageNoChanges is the result message of a cycle whose source returned nothing
const MessageNoChanges = "no changes"

// Manager runs reconciliation cycles for one sync type
//
//go:generate mockgen -destination=mocks/mock_manager.go -package=mocks github.com/stacklok/recordsync/internal/sync Manager
type Manager interface {
	// RunCycle fetches the changes selected by query and reconciles them into
	// the sink inside a single unit of work. Invalid queries and per-group
	// validation failures are reported in the result; the returned error is
	// non-nil only for cycle-fatal conditions and is always an *Error.
	RunCycle(ctx context.Context, query Query) (*BatchResult, error)
}

// defaultSyncManager is the default implementation of Manager
type defaultSyncManager struct {
	syncType string
	source   Source
	sink     Sink
	mapper   Mapper
	clock    clock.PassiveClock
	tracer   trace.Tracer
}

// ManagerOption configures a Manager
type ManagerOption func(*defaultSyncManager)

// WithClock overrides the clock used to time cycles
func WithClock(c clock.PassiveClock) ManagerOption {
	return func(m *defaultSyncManager) {
		m.clock = c
	}
}

// WithTracer enables tracing of cycles
func WithTracer(tracer trace.Tracer) ManagerOption {
	return func(m *defaultSyncManager) {
		m.tracer = tracer
	}
}

// NewDefaultSyncManager creates a Manager for the named sync type
func NewDefaultSyncManager(syncType string, source Source, sink Sink, mapper Mapper, opts ...ManagerOption) Manager {
	m := &defaultSyncManager{
		syncType: syncType,
		source:   source,
		sink:     sink,
		mapper:   mapper,
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunCycle implements Manager
func (m *defaultSyncManager) RunCycle(ctx context.Context, query Query) (result *BatchResult, retErr error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "sync.RunCycle",
		trace.WithAttributes(
			otel.AttrSyncType.String(m.syncType),
			otel.AttrCorrelationID.String(logging.CorrelationID(ctx)),
			attribute.String("query.since", query.Since),
			attribute.String("query.until", query.Until),
		),
	)
	defer span.End()

	start := m.clock.Now()
	result = &BatchResult{
		SyncType:      m.syncType,
		CorrelationID: logging.CorrelationID(ctx),
		StartedAt:     start,
	}
	defer func() {
		result.ElapsedTime = m.clock.Since(start)
		otel.RecordError(span, retErr)
		span.SetAttributes(
			otel.AttrResultCount.Int(result.TotalRecords),
			attribute.Bool("sync.success", result.Success),
		)
	}()

	logger := slog.With("sync_type", m.syncType)

	if err := query.Validate(); err != nil {
		logger.WarnContext(ctx, "Rejected sync query", "error", err)
		result.Message = err.Error()
		result.ValidationErrors = []string{err.Error()}
		return result, nil
	}

	records, err := m.source.FetchChanges(ctx, query)
	if err != nil {
		logger.ErrorContext(ctx, "Fetching changes failed", "error", err)
		result.Message = fmt.Sprintf("fetch failed: %v", err)
		return result, &Error{
			Err:     err,
			Message: result.Message,
			Kind:    fatalKind(err),
			Reason:  ReasonFetchFailed,
		}
	}

	result.TotalRecords = len(records)
	if len(records) == 0 {
		result.Success = true
		result.Message = MessageNoChanges
		logger.InfoContext(ctx, "Source reported no changes")
		return result, nil
	}

	groups := GroupRecords(records)
	result.GroupCount = len(groups)
	logger.InfoContext(ctx, "Fetched changes", "records", len(records), "groups", len(groups))

	uow, err := m.sink.BeginUnitOfWork(ctx)
	if err != nil {
		result.Message = fmt.Sprintf("failed to open unit of work: %v", err)
		return result, &Error{
			Err:     err,
			Message: result.Message,
			Kind:    fatalKind(err),
			Reason:  ReasonUnitOfWorkFailed,
		}
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := uow.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, ErrUnitOfWorkClosed) {
			logger.ErrorContext(ctx, "Rolling back unit of work failed", "error", rbErr)
		}
	}()

	for _, group := range groups {
		counts, err := m.reconcileGroup(ctx, uow, group)
		if err == nil {
			result.add(counts)
			continue
		}

		if syncerr.Is(err, syncerr.KindValidation) {
			result.FailedCount += group.Size()
			result.ValidationErrors = append(result.ValidationErrors, fmt.Sprintf("%s: %v", group.Key, err))
			logger.WarnContext(ctx, "Skipping invalid record group",
				"key", group.Key, "records", group.Size(), "error", err)
			continue
		}

		logger.ErrorContext(ctx, "Aborting cycle, rolling back", "key", group.Key, "error", err)
		result.Message = fmt.Sprintf("group %q failed: %v", group.Key, err)
		return result, &Error{
			Err:     err,
			Message: result.Message,
			Kind:    fatalKind(err),
			Reason:  ReasonGroupFailed,
		}
	}

	if err := uow.Commit(ctx); err != nil {
		result.Message = fmt.Sprintf("commit failed: %v", err)
		return result, &Error{
			Err:     err,
			Message: result.Message,
			Kind:    fatalKind(err),
			Reason:  ReasonCommitFailed,
		}
	}
	committed = true

	result.Success = true
	result.Message = fmt.Sprintf("processed %d records in %d groups", result.TotalRecords, result.GroupCount)
	logger.InfoContext(ctx, "Sync cycle committed",
		"created", result.CreatedCount,
		"updated", result.UpdatedCount,
		"skipped", result.SkippedCount,
		"failed", result.FailedCount)
	return result, nil
}

// reconcileGroup applies one group inside a nested unit of work so that a
// group that fails part-way leaves no writes behind
func (m *defaultSyncManager) reconcileGroup(ctx context.Context, uow UnitOfWork, group RecordGroup) (groupCounts, error) {
	nested, err := uow.Begin(ctx)
	if err != nil {
		return groupCounts{}, fmt.Errorf("failed to open group unit of work: %w", err)
	}

	counts, err := m.applyGroup(ctx, nested, group)
	if err != nil {
		if rbErr := nested.Rollback(ctx); rbErr != nil {
			return groupCounts{}, syncerr.System("rollback group", errors.Join(err, rbErr))
		}
		return groupCounts{}, err
	}

	if err := nested.Commit(ctx); err != nil {
		return groupCounts{}, fmt.Errorf("failed to commit group: %w", err)
	}
	return counts, nil
}

func (m *defaultSyncManager) applyGroup(ctx context.Context, uow UnitOfWork, group RecordGroup) (groupCounts, error) {
	counts := groupCounts{skipped: group.Superseded}

	if group.Key == "" {
		return counts, syncerr.Validationf("%d record(s) without a natural key", len(group.Records))
	}

	golden, err := m.mapper.Golden(group.Records[0])
	if err != nil {
		return counts, mappingError("golden projection", err)
	}
	golden.Tenant, golden.Golden = "", true
	if _, err := m.upsert(ctx, uow, golden); err != nil {
		return counts, err
	}

	for i, rec := range group.Records {
		entity, err := m.mapper.Project(rec)
		if err != nil {
			return counts, mappingError(fmt.Sprintf("record %d (tenant %q)", i, rec.Tenant), err)
		}
		o, err := m.upsert(ctx, uow, entity)
		if err != nil {
			return counts, err
		}
		switch o {
		case outcomeCreated:
			counts.created++
		case outcomeUpdated:
			counts.updated++
		case outcomeSkipped:
			counts.skipped++
		}
	}
	return counts, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCreated
	outcomeUpdated
)

// upsert inserts the entity when absent, updates it when materially different
// and otherwise leaves the store untouched
func (m *defaultSyncManager) upsert(ctx context.Context, uow UnitOfWork, entity *Entity) (outcome, error) {
	existing, err := uow.FindByKey(ctx, entity.EntityKey())
	if err != nil {
		return outcomeSkipped, err
	}
	if existing == nil {
		if err := uow.Insert(ctx, entity); err != nil {
			return outcomeSkipped, err
		}
		return outcomeCreated, nil
	}
	if m.mapper.Equal(existing, entity) {
		return outcomeSkipped, nil
	}
	if err := uow.Update(ctx, existing, entity); err != nil {
		return outcomeSkipped, err
	}
	return outcomeUpdated, nil
}
