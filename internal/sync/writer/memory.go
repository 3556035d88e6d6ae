package writer

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	pkgsync "github.com/stacklok/recordsync/internal/sync"
	"github.com/stacklok/recordsync/internal/syncerr"
)

// MemorySink is an in-memory Sink. Writes are staged per unit of work and
// become visible only when the outermost unit commits.
type MemorySink struct {
	mu       sync.RWMutex
	entities map[pkgsync.EntityKey]*pkgsync.Entity
}

var _ pkgsync.Sink = (*MemorySink)(nil)

// NewMemorySink creates an empty MemorySink
func NewMemorySink() *MemorySink {
	return &MemorySink{entities: make(map[pkgsync.EntityKey]*pkgsync.Entity)}
}

// BeginUnitOfWork implements pkgsync.Sink
func (s *MemorySink) BeginUnitOfWork(_ context.Context) (pkgsync.UnitOfWork, error) {
	return &memoryUnit{sink: s, staged: make(map[pkgsync.EntityKey]*pkgsync.Entity)}, nil
}

// Get returns a copy of the committed entity stored under key
func (s *MemorySink) Get(key pkgsync.EntityKey) (*pkgsync.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[key]
	if !ok {
		return nil, false
	}
	return cloneEntity(e), true
}

// Len returns the number of committed entities
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// Entities returns copies of all committed entities ordered by key, golden
// rows first, then tenant
func (s *MemorySink) Entities() []*pkgsync.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*pkgsync.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, cloneEntity(e))
	}
	slices.SortFunc(out, func(a, b *pkgsync.Entity) int {
		if c := strings.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		if a.Golden != b.Golden {
			if a.Golden {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Tenant, b.Tenant)
	})
	return out
}

func (s *MemorySink) apply(staged map[pkgsync.EntityKey]*pkgsync.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.entities, staged)
}

// memoryUnit stages writes until commit. A unit belongs to a single cycle and
// is not safe for concurrent use.
type memoryUnit struct {
	sink   *MemorySink
	parent *memoryUnit
	staged map[pkgsync.EntityKey]*pkgsync.Entity
	done   bool
}

func (u *memoryUnit) lookup(key pkgsync.EntityKey) (*pkgsync.Entity, bool) {
	for cur := u; cur != nil; cur = cur.parent {
		if e, ok := cur.staged[key]; ok {
			return e, true
		}
	}
	u.sink.mu.RLock()
	defer u.sink.mu.RUnlock()
	e, ok := u.sink.entities[key]
	return e, ok
}

func (u *memoryUnit) FindByKey(_ context.Context, key pkgsync.EntityKey) (*pkgsync.Entity, error) {
	if u.done {
		return nil, pkgsync.ErrUnitOfWorkClosed
	}
	e, ok := u.lookup(key)
	if !ok {
		return nil, nil
	}
	return cloneEntity(e), nil
}

func (u *memoryUnit) Insert(_ context.Context, entity *pkgsync.Entity) error {
	if u.done {
		return pkgsync.ErrUnitOfWorkClosed
	}
	key := entity.EntityKey()
	if _, exists := u.lookup(key); exists {
		return syncerr.System("insert", fmt.Errorf("entity %s/%s already exists", key.Key, key.Tenant))
	}
	u.staged[key] = cloneEntity(entity)
	return nil
}

func (u *memoryUnit) Update(_ context.Context, existing, updated *pkgsync.Entity) error {
	if u.done {
		return pkgsync.ErrUnitOfWorkClosed
	}
	key := existing.EntityKey()
	if updated.EntityKey() != key {
		return syncerr.System("update", fmt.Errorf("cannot change key %s/%s", key.Key, key.Tenant))
	}
	if _, exists := u.lookup(key); !exists {
		return syncerr.System("update", fmt.Errorf("entity %s/%s not found", key.Key, key.Tenant))
	}
	u.staged[key] = cloneEntity(updated)
	return nil
}

func (u *memoryUnit) Begin(_ context.Context) (pkgsync.UnitOfWork, error) {
	if u.done {
		return nil, pkgsync.ErrUnitOfWorkClosed
	}
	return &memoryUnit{sink: u.sink, parent: u, staged: make(map[pkgsync.EntityKey]*pkgsync.Entity)}, nil
}

func (u *memoryUnit) Commit(_ context.Context) error {
	if u.done {
		return pkgsync.ErrUnitOfWorkClosed
	}
	u.done = true
	if u.parent != nil {
		if u.parent.done {
			return pkgsync.ErrUnitOfWorkClosed
		}
		maps.Copy(u.parent.staged, u.staged)
		return nil
	}
	u.sink.apply(u.staged)
	return nil
}

func (u *memoryUnit) Rollback(_ context.Context) error {
	if u.done {
		return pkgsync.ErrUnitOfWorkClosed
	}
	u.done = true
	u.staged = nil
	return nil
}

func cloneEntity(e *pkgsync.Entity) *pkgsync.Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Attributes = maps.Clone(e.Attributes)
	return &c
}
