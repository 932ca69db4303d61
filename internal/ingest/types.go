package ingest

import "errors"

// Metadata keys attached to every chunk.
const (
	MetaFileName     = "file_name"
	MetaDataSourceID = "data_source_id"
	MetaDocumentID   = "document_id"
	MetaCreatedAt    = "created_at"
)

var (
	// ErrNoSummarizationModel is returned by Summarize for data sources
	// without a configured summarization model.
	ErrNoSummarizationModel = errors.New("data source has no summarization model")

	// ErrEmptyDocument is returned when a document has no text to index.
	ErrEmptyDocument = errors.New("document has no text")
)

// SourceMetadata describes where a document came from.
type SourceMetadata struct {
	FileName     string
	DataSourceID int64

	// Extra is merged into every chunk's metadata. The standard keys win on
	// conflict.
	Extra map[string]interface{}

	// ChunkSize overrides the gate default when positive.
	ChunkSize           int
	// ChunkOverlapPercent overrides the gate default when set, including an
	// explicit 0.
	ChunkOverlapPercent *int
}

// Chunk is one retrievable piece of an accepted document.
type Chunk struct {
	ID         string                 `json:"id"`
	Text       string                 `json:"text"`
	Position   int                    `json:"position"`
	DocumentID string                 `json:"document_id"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// Result is the outcome of gating one document.
//
// A blocked result carries the sorted secret categories and no chunks. An
// accepted result carries the chunks and whether PII was replaced.
type Result struct {
	Blocked     bool     `json:"blocked"`
	SecretTypes []string `json:"secret_types,omitempty"`
	PIIFound    bool     `json:"pii_found"`
	Chunks      []Chunk  `json:"chunks,omitempty"`

	// Text is the content chunks were cut from: the anonymized text when PII
	// was found, the input otherwise. Empty when blocked.
	Text string `json:"-"`
}

// IndexRequest asks the Indexer to store one document.
type IndexRequest struct {
	DataSourceID int64
	DocumentID   string
	FileName     string
	Text         string
	Metadata     map[string]interface{}
}

// IndexResult reports what Index stored.
type IndexResult struct {
	Blocked     bool     `json:"blocked"`
	SecretTypes []string `json:"secret_types,omitempty"`
	PIIFound    bool     `json:"pii_found"`
	Chunks      int      `json:"chunks"`
}

// SummaryResult reports what Summarize stored.
type SummaryResult struct {
	Blocked     bool     `json:"blocked"`
	SecretTypes []string `json:"secret_types,omitempty"`
	PIIFound    bool     `json:"pii_found"`
	Summary     string   `json:"summary,omitempty"`
}
