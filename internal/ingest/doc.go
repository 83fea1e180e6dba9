// Package ingest turns external sources into catalog rows.
//
// An Adapter yields Descriptors: podcast and YouTube feeds through gofeed,
// Instapaper exports through encoding/csv. The Ingestor resolves each
// descriptor against the catalog by UID, GUID and URL and either creates a
// new row or fills in the existing one. Ingestion never moves an item past
// pending (podcasts) or ingested (everything else) and never touches the
// status of a row that already exists, so re-running a source is safe.
package ingest
