package sync

import "context"

// Source fetches change-sets from the system of record. FetchChanges must be
// idempotent for a given query.
//
//go:generate mockgen -destination=mocks/mock_ports.go -package=mocks -source=ports.go Source,Sink,UnitOfWork,Mapper
type Source interface {
	FetchChanges(ctx context.Context, query Query) ([]Record, error)
}

// Sink opens units of work against the local store
type Sink interface {
	BeginUnitOfWork(ctx context.Context) (UnitOfWork, error)
}

// UnitOfWork is a transactional boundary. Reads observe the unit's own writes;
// nothing is visible outside until Commit. Any call after Commit or Rollback
// returns ErrUnitOfWorkClosed.
type UnitOfWork interface {
	// FindByKey returns the stored entity, or nil when none exists
	FindByKey(ctx context.Context, key EntityKey) (*Entity, error)
	Insert(ctx context.Context, entity *Entity) error
	Update(ctx context.Context, existing, updated *Entity) error
	// Begin opens a nested unit whose writes fold into the parent on Commit
	// and are discarded on Rollback
	Begin(ctx context.Context) (UnitOfWork, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Mapper turns raw records into entities and decides material equality
type Mapper interface {
	// Golden computes the tenant-less canonical projection of a group from its first record
	Golden(rec Record) (*Entity, error)
	// Project maps one record to its per-tenant entity
	Project(rec Record) (*Entity, error)
	// Equal reports whether updating existing with candidate would change nothing
	Equal(existing, candidate *Entity) bool
}
