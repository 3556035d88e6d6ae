package writer

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	pkgsync "github.com/stacklok/recordsync/internal/sync"
	"github.com/stacklok/recordsync/internal/syncerr"
)

const (
	findEntityQuery = `SELECT attributes, hash FROM sync_entities
WHERE job = $1 AND natural_key = $2 AND tenant = $3 AND golden = $4`

	insertEntityQuery = `INSERT INTO sync_entities (job, natural_key, tenant, golden, attributes, hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now(), now())`

	updateEntityQuery = `UPDATE sync_entities SET attributes = $5, hash = $6, updated_at = now()
WHERE job = $1 AND natural_key = $2 AND tenant = $3 AND golden = $4`
)

// postgresSink stores entities in the sync_entities table, one row per
// (job, natural_key, golden, tenant)
type postgresSink struct {
	db  *sql.DB
	job string
}

// NewPostgresSink creates a Sink writing the rows of one job through db.
// The caller owns db and is responsible for closing it.
func NewPostgresSink(db *sql.DB, job string) (pkgsync.Sink, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if job == "" {
		return nil, fmt.Errorf("job name is required")
	}
	return &postgresSink{db: db, job: job}, nil
}

// BeginUnitOfWork opens a read-committed transaction
func (s *postgresSink) BeginUnitOfWork(ctx context.Context) (pkgsync.UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, classifyDBError("begin transaction", err)
	}
	return &pgUnit{tx: tx, job: s.job, savepoints: new(int)}, nil
}

// pgUnit is a transaction, or a savepoint inside one when savepoint is set
type pgUnit struct {
	tx         *sql.Tx
	job        string
	parent     *pgUnit
	savepoint  string
	savepoints *int
	done       bool
}

func (u *pgUnit) closed() bool {
	for cur := u; cur != nil; cur = cur.parent {
		if cur.done {
			return true
		}
	}
	return false
}

func (u *pgUnit) FindByKey(ctx context.Context, key pkgsync.EntityKey) (*pkgsync.Entity, error) {
	if u.closed() {
		return nil, pkgsync.ErrUnitOfWorkClosed
	}

	var (
		raw  []byte
		hash string
	)
	err := u.tx.QueryRowContext(ctx, findEntityQuery, u.job, key.Key, key.Tenant, key.Golden).Scan(&raw, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyDBError("find entity", err)
	}

	attrs := make(map[string]string)
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, syncerr.System("decode attributes", err)
	}
	return &pkgsync.Entity{Key: key.Key, Tenant: key.Tenant, Golden: key.Golden, Attributes: attrs, Hash: hash}, nil
}

func (u *pgUnit) Insert(ctx context.Context, entity *pkgsync.Entity) error {
	if u.closed() {
		return pkgsync.ErrUnitOfWorkClosed
	}
	attrs, err := json.Marshal(entity.Attributes)
	if err != nil {
		return syncerr.Validation("encode attributes", err)
	}
	if _, err := u.tx.ExecContext(ctx, insertEntityQuery,
		u.job, entity.Key, entity.Tenant, entity.Golden, attrs, entity.Hash); err != nil {
		return classifyDBError("insert entity", err)
	}
	return nil
}

func (u *pgUnit) Update(ctx context.Context, existing, updated *pkgsync.Entity) error {
	if u.closed() {
		return pkgsync.ErrUnitOfWorkClosed
	}
	if existing.EntityKey() != updated.EntityKey() {
		return syncerr.System("update entity", fmt.Errorf("cannot change key of %s/%s", existing.Key, existing.Tenant))
	}
	attrs, err := json.Marshal(updated.Attributes)
	if err != nil {
		return syncerr.Validation("encode attributes", err)
	}
	res, err := u.tx.ExecContext(ctx, updateEntityQuery,
		u.job, updated.Key, updated.Tenant, updated.Golden, attrs, updated.Hash)
	if err != nil {
		return classifyDBError("update entity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyDBError("update entity", err)
	}
	if n == 0 {
		return syncerr.System("update entity", fmt.Errorf("entity %s/%s not found", updated.Key, updated.Tenant))
	}
	return nil
}

func (u *pgUnit) Begin(ctx context.Context) (pkgsync.UnitOfWork, error) {
	if u.closed() {
		return nil, pkgsync.ErrUnitOfWorkClosed
	}
	*u.savepoints++
	name := fmt.Sprintf("sp_%d", *u.savepoints)
	if _, err := u.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, classifyDBError("savepoint", err)
	}
	return &pgUnit{tx: u.tx, job: u.job, parent: u, savepoint: name, savepoints: u.savepoints}, nil
}

func (u *pgUnit) Commit(ctx context.Context) error {
	if u.closed() {
		return pkgsync.ErrUnitOfWorkClosed
	}
	u.done = true
	if u.savepoint != "" {
		if _, err := u.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+u.savepoint); err != nil {
			return classifyDBError("release savepoint", err)
		}
		return nil
	}
	if err := u.tx.Commit(); err != nil {
		return classifyDBError("commit", err)
	}
	return nil
}

func (u *pgUnit) Rollback(ctx context.Context) error {
	if u.closed() {
		return pkgsync.ErrUnitOfWorkClosed
	}
	u.done = true
	if u.savepoint != "" {
		if _, err := u.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+u.savepoint); err != nil {
			return classifyDBError("rollback to savepoint", err)
		}
		return nil
	}
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return classifyDBError("rollback", err)
	}
	return nil
}

// classifyDBError tags a database failure. Connection problems, serialization
// failures and deadlocks are transient; data and integrity violations are
// validation failures of the record being written.
func classifyDBError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			pgErr.Code == "40001", // serialization_failure
			pgErr.Code == "40P01", // deadlock_detected
			pgErr.Code == "57P01", // admin_shutdown
			pgErr.Code == "53300": // too_many_connections
			return syncerr.Transient(op, err)
		case strings.HasPrefix(pgErr.Code, "22"), // data exception
			strings.HasPrefix(pgErr.Code, "23"): // integrity constraint violation
			return syncerr.Validation(op, err)
		default:
			return syncerr.System(op, err)
		}
	}
	if errors.Is(err, driver.ErrBadConn) || syncerr.IsTransient(err) {
		return syncerr.Transient(op, err)
	}
	return syncerr.System(op, err)
}
