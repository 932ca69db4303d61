//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
	"github.com/fyrsmithlabs/ragd/internal/config"
)

const fastEmbedBatchSize = 256

var fastEmbedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// fastEmbedModel runs an ONNX model in-process. The underlying session is not
// safe for concurrent inference.
type fastEmbedModel struct {
	name  string
	mu    sync.Mutex
	model *fastembed.FlagEmbedding
}

func newFastEmbed(cfg config.ModelConfig) (Model, error) {
	id, ok := fastEmbedModels[cfg.Model]
	if !ok {
		id = fastembed.EmbeddingModel(cfg.Model)
	}
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	showProgress := false
	fe, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                id,
		CacheDir:             cacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: initializing fastembed %q: %v", ErrInvalidConfig, cfg.Model, err)
	}
	return &fastEmbedModel{name: cfg.Name, model: fe}, nil
}

func (m *fastEmbedModel) Name() string { return m.name }

func (m *fastEmbedModel) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	vectors, err := m.model.PassageEmbed(texts, fastEmbedBatchSize)
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("embedding %d documents with %s: %w", len(texts), m.name, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmptyEmbedding, len(texts), len(vectors))
	}
	return vectors, nil
}

func (m *fastEmbedModel) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	vector, err := m.model.QueryEmbed(text)
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("embedding query with %s: %w", m.name, err)
	}
	if len(vector) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vector, nil
}

// Close releases the ONNX session.
func (m *fastEmbedModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model == nil {
		return nil
	}
	err := m.model.Destroy()
	m.model = nil
	return err
}
