// Package catalog persists the unified content catalog in a single embedded
// SQLite file.
//
// The Store owns every row: content items of all types, the podcast episode
// extension that hangs off podcast items, normalized tag edges, attached
// analyses, processing jobs, and system metadata. All queries run inside a
// Session obtained from Store.Update or Store.View; a session commits when its
// callback returns nil and rolls back otherwise, so a failed write never
// partially persists.
//
// The schema is embedded (schema.sql), versioned through the system_metadata
// table, created idempotently on Open, and never downgraded.
package catalog
