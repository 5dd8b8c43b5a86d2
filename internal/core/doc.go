// Package core holds the ingestion and query logic for wardrive datasets.
//
// It is independent of the HTTP layer and of any particular database; the
// web handlers, the command entrypoint and tests all drive it through
// [Service] and plug storage in through [DatasetStore].
//
// # Ingestion
//
// Each uploaded log becomes its own dataset:
//
//  1. [Service.Ingest] takes a slot from the [IngestLimiter]
//  2. the store allocates a fresh [schema.DatasetID]
//  3. lines are read with [LineReader] (BOM dropped, invalid UTF-8 replaced)
//  4. the first two lines are discarded; line 1 is checked with [ParsePreamble]
//  5. every other line goes through [ParseLine]; records are inserted in
//     batches, blank lines and headers are skipped, undecodable lines are
//     counted as malformed
//  6. the catalog entry is committed last
//
// A failure in steps 2-6 returns an [*IngestionError] and leaves the catalog
// untouched.
//
// # Identifiers
//
// Dataset ids are validated against [schema.DatasetIDPattern] at the service
// boundary and again inside every store operation. Stores always bind the id
// as a query parameter.
//
// # Error Handling
//
// [MapError] turns technical errors into user messages with support codes:
//
//   - DS001-DS002: dataset identifier and lookup
//   - ING001: ingestion aborted
//   - FILE001-FILE003: upload file problems
//   - UPL001-UPL003: limiter, cancellation, timeout
//   - DB001-DB004: database availability
package core
