package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/pii"
	"github.com/fyrsmithlabs/ragd/internal/secrets"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"
)

// Gate screens and chunks documents.
type Gate struct {
	detector   secrets.Detector
	anonymizer pii.Anonymizer
	cfg        config.IngestionConfig
	logger     *logging.Logger

	now   func() time.Time
	newID func() string
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock overrides the created_at clock.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithIDGenerator overrides chunk id generation. Ids must be UUIDs to be
// storable.
func WithIDGenerator(newID func() string) GateOption {
	return func(g *Gate) { g.newID = newID }
}

// NewGate creates a Gate. cfg supplies the default chunk size and overlap.
func NewGate(detector secrets.Detector, anonymizer pii.Anonymizer, cfg config.IngestionConfig, logger *logging.Logger, opts ...GateOption) (*Gate, error) {
	if detector == nil {
		return nil, errors.New("secret detector is required")
	}
	if anonymizer == nil {
		return nil, errors.New("pii anonymizer is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	g := &Gate{
		detector:   detector,
		anonymizer: anonymizer,
		cfg:        cfg,
		logger:     logger.Named("ingest"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Process screens text and cuts it into chunks.
//
// Detector or anonymizer failures abort the whole document; no partial
// result is returned.
func (g *Gate) Process(ctx context.Context, text, documentID string, src SourceMetadata) (*Result, error) {
	ctx = logging.WithDataSourceID(ctx, src.DataSourceID)

	found, err := g.detector.Detect(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("detecting secrets in %s: %w", documentID, err)
	}
	if len(found) > 0 {
		g.logger.Warn(ctx, "document blocked",
			zap.String("document_id", documentID),
			zap.Strings("secret_types", found),
		)
		return &Result{Blocked: true, SecretTypes: found}, nil
	}

	content, piiFound, err := g.anonymizer.Anonymize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("anonymizing %s: %w", documentID, err)
	}
	if !piiFound {
		content = text
	}

	pieces, err := g.split(content, src)
	if err != nil {
		return nil, fmt.Errorf("splitting %s: %w", documentID, err)
	}

	base := g.baseMetadata(documentID, src)
	chunks := make([]Chunk, 0, len(pieces))
	for _, p := range pieces {
		md := make(map[string]interface{}, len(base))
		for k, v := range base {
			md[k] = v
		}
		chunks = append(chunks, Chunk{
			ID:         g.newID(),
			Text:       p,
			Position:   len(chunks),
			DocumentID: documentID,
			Metadata:   md,
		})
	}

	g.logger.Debug(ctx, "document accepted",
		zap.String("document_id", documentID),
		zap.Bool("pii_found", piiFound),
		zap.Int("chunks", len(chunks)),
	)
	return &Result{PIIFound: piiFound, Chunks: chunks, Text: content}, nil
}

func (g *Gate) baseMetadata(documentID string, src SourceMetadata) map[string]interface{} {
	md := make(map[string]interface{}, len(src.Extra)+4)
	for k, v := range src.Extra {
		md[k] = v
	}
	md[MetaFileName] = src.FileName
	md[MetaDataSourceID] = src.DataSourceID
	md[MetaDocumentID] = documentID
	md[MetaCreatedAt] = g.now().Unix()
	return md
}

func (g *Gate) split(text string, src SourceMetadata) ([]string, error) {
	size, overlapPct := g.cfg.ChunkSize, g.cfg.ChunkOverlapPercent
	if src.ChunkSize > 0 {
		size = src.ChunkSize
	}
	if p := src.ChunkOverlapPercent; p != nil && *p >= 0 && *p < 100 {
		overlapPct = *p
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(size*overlapPct/100),
	)
	parts, err := splitter.SplitText(text)
	if err != nil {
		return nil, err
	}

	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
