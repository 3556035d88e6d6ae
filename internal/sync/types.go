package sync

import (
	"encoding/json"
	"time"

	"github.com/stacklok/recordsync/internal/syncerr"
)

// DateLayout is the layout of the dates accepted by Query
const DateLayout = time.DateOnly

// Record is one change reported by a Source
type Record struct {
	// Key is the natural key shared by every record of the same external entity
	Key string `json:"key"`
	// Tenant scopes the record inside the local store
	Tenant string `json:"tenant,omitempty"`
	// Payload is the raw upstream representation handed to the Mapper
	Payload json.RawMessage `json:"payload"`
}

// Query selects the changes a Source returns
type Query struct {
	// Since is the first day (YYYY-MM-DD) of the change window
	Since string `json:"since"`
	// Until is the optional last day (YYYY-MM-DD) of the change window
	Until string `json:"until,omitempty"`
}

// Validate checks that Since is a real calendar date and Until, when set,
// is a date that does not precede Since
func (q Query) Validate() error {
	if q.Since == "" {
		return syncerr.Validationf("since is required")
	}
	since, err := time.Parse(DateLayout, q.Since)
	if err != nil {
		return syncerr.Validationf("invalid since date %q: expected YYYY-MM-DD", q.Since)
	}
	if q.Until == "" {
		return nil
	}
	until, err := time.Parse(DateLayout, q.Until)
	if err != nil {
		return syncerr.Validationf("invalid until date %q: expected YYYY-MM-DD", q.Until)
	}
	if until.Before(since) {
		return syncerr.Validationf("until %s precedes since %s", q.Until, q.Since)
	}
	return nil
}

// QuerySince builds a query covering the last lookbackDays days before now (UTC)
func QuerySince(now time.Time, lookbackDays int) Query {
	return Query{Since: now.UTC().AddDate(0, 0, -lookbackDays).Format(DateLayout)}
}

// EntityKey addresses an entity in the local store. Golden rows live in their
// own key space, so a record without a tenant never collides with the golden
// projection of its group.
type EntityKey struct {
	Key    string
	Tenant string
	Golden bool
}

// GoldenKey returns the address of the golden projection of a group
func GoldenKey(key string) EntityKey {
	return EntityKey{Key: key, Golden: true}
}

// Entity is the mapped, storable form of a record. The golden projection of a
// group has Golden set and an empty Tenant.
type Entity struct {
	Key        string            `json:"key"`
	Tenant     string            `json:"tenant,omitempty"`
	Golden     bool              `json:"golden,omitempty"`
	Attributes map[string]string `json:"attributes"`
	// Hash summarises Attributes and drives the update-or-skip decision
	Hash string `json:"hash"`
}

// EntityKey returns the store address of the entity
func (e *Entity) EntityKey() EntityKey {
	return EntityKey{Key: e.Key, Tenant: e.Tenant, Golden: e.Golden}
}

// RecordGroup is the set of records that share a natural key
type RecordGroup struct {
	Key     string
	Records []Record
	// Superseded counts records dropped because a later record of the same
	// batch carried the same tenant
	Superseded int
}

// Size is the number of input records the group accounts for
func (g RecordGroup) Size() int {
	return len(g.Records) + g.Superseded
}

// GroupRecords groups records by natural key. Groups appear in the order their
// key was first seen and tenants keep the position of their first record.
// When a batch reports the same (key, tenant) more than once the last record
// wins and the earlier ones are counted as superseded.
func GroupRecords(records []Record) []RecordGroup {
	type slot struct{ group, record int }
	groupIndex := make(map[string]int, len(records))
	tenantIndex := make(map[EntityKey]slot, len(records))
	groups := make([]RecordGroup, 0)
	for _, rec := range records {
		k := EntityKey{Key: rec.Key, Tenant: rec.Tenant}
		if s, ok := tenantIndex[k]; ok {
			groups[s.group].Records[s.record] = rec
			groups[s.group].Superseded++
			continue
		}
		i, ok := groupIndex[rec.Key]
		if !ok {
			i = len(groups)
			groupIndex[rec.Key] = i
			groups = append(groups, RecordGroup{Key: rec.Key})
		}
		tenantIndex[k] = slot{group: i, record: len(groups[i].Records)}
		groups[i].Records = append(groups[i].Records, rec)
	}
	return groups
}

// BatchResult summarises one cycle for one sync type. It is built by a single
// RunCycle call and is not modified after being returned.
type BatchResult struct {
	SyncType      string    `json:"syncType"`
	CorrelationID string    `json:"correlationId,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	Success       bool      `json:"success"`
	Message       string    `json:"message,omitempty"`

	TotalRecords     int      `json:"totalRecords"`
	GroupCount       int      `json:"groupCount"`
	CreatedCount     int      `json:"createdCount"`
	UpdatedCount     int      `json:"updatedCount"`
	SkippedCount     int      `json:"skippedCount"`
	FailedCount      int      `json:"failedCount"`
	ValidationErrors []string `json:"validationErrors,omitempty"`

	ElapsedTime time.Duration `json:"elapsedTime"`
}

// Clone returns a deep copy of the result
func (r *BatchResult) Clone() *BatchResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.ValidationErrors != nil {
		c.ValidationErrors = append([]string(nil), r.ValidationErrors...)
	}
	return &c
}

// groupCounts accumulates per-record outcomes for one group before they are
// merged into the batch
type groupCounts struct {
	created int
	updated int
	skipped int
}

func (r *BatchResult) add(c groupCounts) {
	r.CreatedCount += c.created
	r.UpdatedCount += c.updated
	r.SkippedCount += c.skipped
}
