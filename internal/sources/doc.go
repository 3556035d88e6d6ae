// Package sources provides the change-set sources a sync job pulls from.
//
// A source implements sync.Source: given a Query it returns the records that
// changed in the window. Records are decoded from JSON with gjson paths
// taken from the job's RecordLayout, so the upstream document shape stays a
// configuration concern.
//
// Current implementations:
//   - apiSource: issues GET {endpoint}?since=...&until=... through a
//     RetryingClient. Transport failures that survive the retries are
//     Transient; 4xx responses are System errors.
//   - fileSource: reads a local JSON document. The whole file is the
//     change-set regardless of the query window, which makes it useful for
//     local runs and tests.
//
// SourceFactory creates the right source for a job configuration.
package sources
