// Package metadata reads session and data source records from the metadata
// service. ragd never writes these records; it only consults them per request.
package metadata

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the metadata service has no such record.
var ErrNotFound = errors.New("metadata record not found")

// DataSource describes one tenant's document collection.
type DataSource struct {
	ID                  int64  `json:"id"`
	Name                string `json:"name"`
	EmbeddingModel      string `json:"embeddingModel"`
	SummarizationModel  string `json:"summarizationModel,omitempty"`
	ChunkSize           int    `json:"chunkSize"`
	// ChunkOverlapPercent is nil when the data source leaves overlap unset.
	ChunkOverlapPercent *int   `json:"chunkOverlapPercent,omitempty"`
}

// QueryConfiguration holds per-session retrieval switches.
type QueryConfiguration struct {
	EnableHyde          bool `json:"enableHyde"`
	EnableSummaryFilter bool `json:"enableSummaryFilter"`
}

// Session is a conversation and the data sources bound to it.
type Session struct {
	ID                 int64              `json:"id"`
	Name               string             `json:"name"`
	DataSourceIDs      []int64            `json:"dataSourceIds"`
	InferenceModel     string             `json:"inferenceModel"`
	RerankModel        string             `json:"rerankModel,omitempty"`
	ResponseChunks     int                `json:"responseChunks"`
	QueryConfiguration QueryConfiguration `json:"queryConfiguration"`
}

// DataSources looks up data source records.
type DataSources interface {
	DataSource(ctx context.Context, id int64) (*DataSource, error)
}

// Sessions looks up session records.
type Sessions interface {
	Session(ctx context.Context, id int64) (*Session, error)
}
