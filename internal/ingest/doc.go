// Package ingest gates documents before they reach the vector store.
//
// Every document passes through the Gate: secret detection first, then PII
// anonymization, then chunking. A document with secrets is blocked whole and
// produces no chunks. The Indexer runs the gate and writes accepted chunks or
// a generated summary into the data source's collections.
package ingest
