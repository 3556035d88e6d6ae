// Package sync implements the batch reconciliation performed by every sync
// cycle.
//
// A cycle validates its Query, fetches the matching records from a Source,
// groups them by natural key and reconciles each group into a Sink inside a
// single UnitOfWork:
//
//   - the group's golden projection (tenant-less) is computed from its first
//     record and inserted, updated or left alone;
//   - every record of the group is then mapped to its per-tenant entity and
//     reconciled the same way.
//
// Whether an update is needed is decided by Mapper.Equal; nothing is tracked
// implicitly.
//
// # Failure model
//
// Each group runs in a nested unit of work. A group that fails with a
// validation error is rolled back on its own, its records are counted in
// BatchResult.FailedCount and the cycle continues. Any other failure rolls
// back the whole cycle and RunCycle returns an *Error whose Kind tells the
// runner whether the cycle is worth retrying.
package sync
