package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/metadata"
	"github.com/fyrsmithlabs/ragd/internal/qdrant"
)

// Purpose distinguishes chunk collections from summary collections. The
// value is the literal prefix of the collection name.
type Purpose string

const (
	PurposeChunks    Purpose = "index"
	PurposeSummaries Purpose = "summary_index"
)

// CollectionName derives the backend name for a data source and purpose.
func CollectionName(purpose Purpose, dataSourceID int64) string {
	return fmt.Sprintf("%s_%d", purpose, dataSourceID)
}

// Factory hands out collection handles over one shared backend connection.
// It holds no lock; the backend client is safe for concurrent use.
type Factory struct {
	backend     qdrant.Client
	dataSources metadata.DataSources
	models      embeddings.Resolver
	logger      *logging.Logger
}

// NewFactory creates a Factory. The caller owns backend and closes it on
// shutdown.
func NewFactory(backend qdrant.Client, dataSources metadata.DataSources, models embeddings.Resolver, logger *logging.Logger) *Factory {
	return &Factory{
		backend:     backend,
		dataSources: dataSources,
		models:      models,
		logger:      logger.Named("vectorstore"),
	}
}

// ForChunks returns the chunk collection of a data source.
func (f *Factory) ForChunks(dataSourceID int64) *Collection {
	return f.collection(PurposeChunks, dataSourceID)
}

// ForSummaries returns the summary collection of a data source.
func (f *Factory) ForSummaries(dataSourceID int64) *Collection {
	return f.collection(PurposeSummaries, dataSourceID)
}

func (f *Factory) collection(purpose Purpose, dataSourceID int64) *Collection {
	return &Collection{
		name:         CollectionName(purpose, dataSourceID),
		purpose:      purpose,
		dataSourceID: dataSourceID,
		backend:      f.backend,
		dataSources:  f.dataSources,
		models:       f.models,
		logger:       f.logger,
	}
}
