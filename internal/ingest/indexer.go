package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/metadata"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// summaryBatchBytes bounds the text sent in one summarization prompt.
const summaryBatchBytes = 8000

const summaryPrompt = `Write a concise summary of the following document excerpt. ` +
	`Keep names, figures and conclusions. Reply with the summary only.

%s`

const combinePrompt = `The following are summaries of consecutive parts of one document. ` +
	`Combine them into a single concise summary. Reply with the summary only.

%s`

// Collections hands out collection handles for a data source.
type Collections interface {
	ForChunks(dataSourceID int64) *vectorstore.Collection
	ForSummaries(dataSourceID int64) *vectorstore.Collection
}

// Indexer gates documents and writes them into vector collections.
type Indexer struct {
	gate        *Gate
	collections Collections
	dataSources metadata.DataSources
	models      llm.Resolver
	timeout     time.Duration
	logger      *logging.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithRequestTimeout bounds each embedding, summarization and store step.
// Zero leaves them bounded only by the caller's context.
func WithRequestTimeout(d time.Duration) IndexerOption {
	return func(ix *Indexer) { ix.timeout = d }
}

// NewIndexer creates an Indexer.
func NewIndexer(gate *Gate, collections Collections, dataSources metadata.DataSources, models llm.Resolver, logger *logging.Logger, opts ...IndexerOption) (*Indexer, error) {
	if gate == nil || collections == nil || dataSources == nil || models == nil {
		return nil, errors.New("gate, collections, data sources and models are required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	ix := &Indexer{
		gate:        gate,
		collections: collections,
		dataSources: dataSources,
		models:      models,
		logger:      logger.Named("indexer"),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

func (ix *Indexer) bounded(ctx context.Context, fn func(context.Context) error) error {
	if ix.timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()
	return fn(ctx)
}

// Index gates a document and stores its chunks, replacing any chunks a
// previous run stored for the same document id. A blocked document leaves
// the collection untouched.
func (ix *Indexer) Index(ctx context.Context, req IndexRequest) (res *IndexResult, err error) {
	ctx = logging.WithDataSourceID(ctx, req.DataSourceID)
	defer func() { recordDocument("index", res != nil && res.Blocked, err) }()

	gated, err := ix.process(ctx, req)
	if err != nil {
		return nil, err
	}
	if gated.Blocked {
		return &IndexResult{Blocked: true, SecretTypes: gated.SecretTypes}, nil
	}

	nodes := make([]vectorstore.Node, len(gated.Chunks))
	for i, c := range gated.Chunks {
		nodes[i] = vectorstore.Node{
			ID:         c.ID,
			DocID:      c.DocumentID,
			FileName:   req.FileName,
			ChunkIndex: c.Position,
			Content:    c.Text,
			Metadata:   c.Metadata,
		}
	}

	coll := ix.collections.ForChunks(req.DataSourceID)
	if err := ix.bounded(ctx, func(ctx context.Context) error {
		return coll.ReplaceDocument(ctx, req.DocumentID, nodes)
	}); err != nil {
		return nil, fmt.Errorf("storing chunks: %w", err)
	}
	ChunksTotal.Add(float64(len(nodes)))

	ix.logger.Info(ctx, "document indexed",
		zap.String("document_id", req.DocumentID),
		zap.String("collection", coll.Name()),
		zap.Int("chunks", len(nodes)),
		zap.Bool("pii_found", gated.PIIFound),
	)
	return &IndexResult{PIIFound: gated.PIIFound, Chunks: len(nodes)}, nil
}

// Summarize gates a document, asks the data source's summarization model for
// a summary and stores it as the document's single summary node.
func (ix *Indexer) Summarize(ctx context.Context, req IndexRequest) (res *SummaryResult, err error) {
	ctx = logging.WithDataSourceID(ctx, req.DataSourceID)
	defer func() { recordDocument("summarize", res != nil && res.Blocked, err) }()

	ds, err := ix.dataSources.DataSource(ctx, req.DataSourceID)
	if err != nil {
		return nil, err
	}
	if ds.SummarizationModel == "" {
		return nil, fmt.Errorf("%w: %d", ErrNoSummarizationModel, req.DataSourceID)
	}
	model, err := ix.models.Get(ds.SummarizationModel)
	if err != nil {
		return nil, err
	}

	gated, err := ix.processWith(ctx, req, ds)
	if err != nil {
		return nil, err
	}
	if gated.Blocked {
		return &SummaryResult{Blocked: true, SecretTypes: gated.SecretTypes}, nil
	}

	var summary string
	err = ix.bounded(ctx, func(ctx context.Context) error {
		var err error
		summary, err = summarize(ctx, model, gated.Chunks)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("summarizing %s: %w", req.DocumentID, err)
	}

	md := map[string]interface{}{
		MetaFileName:     req.FileName,
		MetaDataSourceID: req.DataSourceID,
		MetaDocumentID:   req.DocumentID,
	}
	if len(gated.Chunks) > 0 {
		md[MetaCreatedAt] = gated.Chunks[0].Metadata[MetaCreatedAt]
	}
	node := vectorstore.Node{
		ID:       summaryNodeID(req.DataSourceID, req.DocumentID),
		DocID:    req.DocumentID,
		FileName: req.FileName,
		Content:  summary,
		Metadata: md,
	}

	coll := ix.collections.ForSummaries(req.DataSourceID)
	if err := ix.bounded(ctx, func(ctx context.Context) error {
		return coll.ReplaceDocument(ctx, req.DocumentID, []vectorstore.Node{node})
	}); err != nil {
		return nil, fmt.Errorf("storing summary: %w", err)
	}

	ix.logger.Info(ctx, "document summarized",
		zap.String("document_id", req.DocumentID),
		zap.String("model", model.Name()),
		zap.Int("summary_length", len(summary)),
	)
	return &SummaryResult{PIIFound: gated.PIIFound, Summary: summary}, nil
}

func (ix *Indexer) process(ctx context.Context, req IndexRequest) (*Result, error) {
	ds, err := ix.dataSources.DataSource(ctx, req.DataSourceID)
	if err != nil {
		return nil, err
	}
	return ix.processWith(ctx, req, ds)
}

func (ix *Indexer) processWith(ctx context.Context, req IndexRequest, ds *metadata.DataSource) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyDocument
	}
	return ix.gate.Process(ctx, req.Text, req.DocumentID, SourceMetadata{
		FileName:            req.FileName,
		DataSourceID:        req.DataSourceID,
		Extra:               req.Metadata,
		ChunkSize:           ds.ChunkSize,
		ChunkOverlapPercent: ds.ChunkOverlapPercent,
	})
}

// summarize condenses chunks batch by batch, then merges the batch summaries
// when there is more than one.
func summarize(ctx context.Context, model llm.Model, chunks []Chunk) (string, error) {
	var batches []string
	var cur strings.Builder
	for _, c := range chunks {
		if cur.Len() > 0 && cur.Len()+len(c.Text) > summaryBatchBytes {
			batches = append(batches, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(c.Text)
	}
	if cur.Len() > 0 {
		batches = append(batches, cur.String())
	}

	parts := make([]string, 0, len(batches))
	for _, b := range batches {
		s, err := model.Complete(ctx, fmt.Sprintf(summaryPrompt, b))
		if err != nil {
			return "", err
		}
		parts = append(parts, strings.TrimSpace(s))
	}
	switch len(parts) {
	case 0:
		return "", ErrEmptyDocument
	case 1:
		return parts[0], nil
	}

	merged, err := model.Complete(ctx, fmt.Sprintf(combinePrompt, strings.Join(parts, "\n\n")))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(merged), nil
}

// summaryNodeID is stable per document so a re-summarize overwrites.
func summaryNodeID(dataSourceID int64, documentID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("ragd:summary:%d:%s", dataSourceID, documentID))).String()
}
