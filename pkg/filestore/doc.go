// Package filestore provides a content-addressable file store with a
// pluggable metadata backend.
//
// A logical file is one metadata record (FileRecord) plus one immutable blob
// addressed by the hash of its bytes. Identical content is stored once and
// shared by every record that references it; the blob is reclaimed only when
// the last referencing record is hard-deleted.
//
// The Service interface is the facade used by the HTTP adapter and the CLI.
// Blob backends (filesystem, memory, S3) live under storage/, metadata
// backends (memory, Postgres, Badger, SQLite) under repo/.
//
// # Change feed
//
// Every record carries an UpdateDate that is bumped on creation and on soft
// delete. ListUpdated and CountUpdated return records with
// UpdateDate >= since, tombstones included, so that a consumer can mirror the
// store incrementally.
package filestore
